package worker

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

func newRegistryTestWorker(t *testing.T, vi string) *Worker {
	t.Helper()
	return New(Config{
		VirtualIndex:    vi,
		ServerSidePath:  t.TempDir(),
		RemoteSidePath:  "/remote",
		NewSession:      func() (remote.Session, error) { return newFakeSession(), nil },
		Publisher:       &fakePublisher{},
		OperationLogger: &fakeOpLogger{},
		Log:             zerolog.Nop(),
	})
}

func TestRegistry_DispatchUnknownVirtualIndex(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if r.Dispatch("missing", message.Message{}) {
		t.Fatal("Dispatch() = true, want false for unregistered virtual index")
	}
}

func TestRegistry_DispatchRoutesToRegisteredWorker(t *testing.T) {
	t.Parallel()

	w := newRegistryTestWorker(t, "vi-1")
	t.Cleanup(w.Close)

	r := NewRegistry()
	r.Swap(map[string]*Worker{"vi-1": w})

	if !r.Dispatch("vi-1", message.Message{Cmd: "NOT_A_REAL_ACTION"}) {
		t.Fatal("Dispatch() = false, want true for registered virtual index")
	}
}

func TestRegistry_SwapClosesDroppedWorkers(t *testing.T) {
	t.Parallel()

	kept := newRegistryTestWorker(t, "vi-kept")
	dropped := newRegistryTestWorker(t, "vi-dropped")
	t.Cleanup(kept.Close)

	r := NewRegistry()
	r.Swap(map[string]*Worker{"vi-kept": kept, "vi-dropped": dropped})
	r.Swap(map[string]*Worker{"vi-kept": kept})

	select {
	case <-dropped.done:
	default:
		t.Fatal("expected dropped worker to be closed by Swap")
	}

	if _, ok := r.Get("vi-dropped"); ok {
		t.Fatal("Get(vi-dropped) found a worker, want none after Swap dropped it")
	}
	if _, ok := r.Get("vi-kept"); !ok {
		t.Fatal("Get(vi-kept) found no worker, want the one passed through Swap")
	}
}

func TestRegistry_AllReturnsSnapshot(t *testing.T) {
	t.Parallel()

	a := newRegistryTestWorker(t, "vi-a")
	b := newRegistryTestWorker(t, "vi-b")
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	r := NewRegistry()
	r.Swap(map[string]*Worker{"vi-a": a, "vi-b": b})

	if got := len(r.All()); got != 2 {
		t.Fatalf("len(All()) = %d, want 2", got)
	}
}

func TestRegistry_CloseShutsDownAllWorkers(t *testing.T) {
	t.Parallel()

	w := newRegistryTestWorker(t, "vi-1")

	r := NewRegistry()
	r.Swap(map[string]*Worker{"vi-1": w})
	r.Close()

	select {
	case <-w.done:
	default:
		t.Fatal("expected worker to be closed by Registry.Close")
	}
}
