package configstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeInnerStore struct {
	peripherals []Peripheral
	automations []Automation
	triggers    []Trigger
	actions     map[uuid.UUID][]Action

	peripheralsCalls int
	actionsCalls     int

	err error
}

func (s *fakeInnerStore) GetPeripherals(ctx context.Context) ([]Peripheral, error) {
	s.peripheralsCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.peripherals, nil
}

func (s *fakeInnerStore) GetAutomations(ctx context.Context) ([]Automation, error) {
	return s.automations, s.err
}

func (s *fakeInnerStore) GetTriggers(ctx context.Context) ([]Trigger, error) {
	return s.triggers, s.err
}

func (s *fakeInnerStore) GetActions(ctx context.Context, automationID uuid.UUID) ([]Action, error) {
	s.actionsCalls++
	if s.err != nil {
		return nil, s.err
	}
	return s.actions[automationID], nil
}

func (s *fakeInnerStore) LogOperation(ctx context.Context, operationType, status, details string) error {
	return nil
}

func (s *fakeInnerStore) ListOperations(ctx context.Context, limit int) ([]OperationRecord, error) {
	return nil, nil
}

func newTestCachedStore(t *testing.T, inner Store) *CachedStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedStore(inner, client)
}

func TestCachedStore_GetPeripherals_CachesAfterFirstRead(t *testing.T) {
	t.Parallel()

	inner := &fakeInnerStore{peripherals: []Peripheral{{Name: "ftp-1"}}}
	cached := newTestCachedStore(t, inner)

	for i := 0; i < 3; i++ {
		out, err := cached.GetPeripherals(context.Background())
		if err != nil {
			t.Fatalf("GetPeripherals() error = %v", err)
		}
		if len(out) != 1 || out[0].Name != "ftp-1" {
			t.Fatalf("GetPeripherals() = %v", out)
		}
	}

	if inner.peripheralsCalls != 1 {
		t.Fatalf("inner.peripheralsCalls = %d, want 1 (subsequent reads should hit cache)", inner.peripheralsCalls)
	}
}

func TestCachedStore_GetActions_CachedPerAutomationID(t *testing.T) {
	t.Parallel()

	automationA := uuid.New()
	automationB := uuid.New()
	inner := &fakeInnerStore{
		actions: map[uuid.UUID][]Action{
			automationA: {{Description: "forward_to_rabbitmq"}},
			automationB: {{Description: "multiplex_peripherals"}},
		},
	}
	cached := newTestCachedStore(t, inner)

	if _, err := cached.GetActions(context.Background(), automationA); err != nil {
		t.Fatalf("GetActions(a) error = %v", err)
	}
	if _, err := cached.GetActions(context.Background(), automationB); err != nil {
		t.Fatalf("GetActions(b) error = %v", err)
	}
	if _, err := cached.GetActions(context.Background(), automationA); err != nil {
		t.Fatalf("GetActions(a) second call error = %v", err)
	}

	if inner.actionsCalls != 2 {
		t.Fatalf("inner.actionsCalls = %d, want 2 (one per distinct automation id)", inner.actionsCalls)
	}
}

func TestCachedStore_Invalidate_ForcesFreshRead(t *testing.T) {
	t.Parallel()

	inner := &fakeInnerStore{peripherals: []Peripheral{{Name: "ftp-1"}}}
	cached := newTestCachedStore(t, inner)

	if _, err := cached.GetPeripherals(context.Background()); err != nil {
		t.Fatalf("GetPeripherals() error = %v", err)
	}
	if err := cached.Invalidate(context.Background()); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := cached.GetPeripherals(context.Background()); err != nil {
		t.Fatalf("GetPeripherals() error = %v", err)
	}

	if inner.peripheralsCalls != 2 {
		t.Fatalf("inner.peripheralsCalls = %d, want 2 (cache was invalidated between reads)", inner.peripheralsCalls)
	}
}

func TestCachedStore_GetPeripherals_PropagatesInnerError(t *testing.T) {
	t.Parallel()

	inner := &fakeInnerStore{err: errors.New("connection reset")}
	cached := newTestCachedStore(t, inner)

	if _, err := cached.GetPeripherals(context.Background()); err == nil {
		t.Fatal("expected error to propagate from uncached inner store")
	}
}

func TestCachedStore_LogOperationAndListOperationsPassThrough(t *testing.T) {
	t.Parallel()

	inner := &fakeInnerStore{}
	cached := newTestCachedStore(t, inner)

	if err := cached.LogOperation(context.Background(), "reconfigure", "ok", ""); err != nil {
		t.Fatalf("LogOperation() error = %v", err)
	}
	if _, err := cached.ListOperations(context.Background(), 10); err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
}
