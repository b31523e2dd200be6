package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []message.Envelope
}

func (p *fakePublisher) PublishReply(ctx context.Context, virtualIndex string, env message.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, env)
	return nil
}

func (p *fakePublisher) last() message.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

type fakeOpLogger struct {
	mu     sync.Mutex
	logs   []string
	notify chan struct{}
}

func (l *fakeOpLogger) LogOperation(ctx context.Context, operationType, status, details string) error {
	l.mu.Lock()
	l.logs = append(l.logs, operationType+":"+status)
	l.mu.Unlock()
	if l.notify != nil {
		l.notify <- struct{}{}
	}
	return nil
}

func newTestWorker(t *testing.T, factory SessionFactory) (*Worker, *fakePublisher, *fakeOpLogger) {
	t.Helper()
	pub := &fakePublisher{}
	opLog := &fakeOpLogger{notify: make(chan struct{}, 8)}
	w := New(Config{
		VirtualIndex:    "vi-1",
		ServerSidePath:  t.TempDir(),
		RemoteSidePath:  "/remote",
		NewSession:      factory,
		Publisher:       pub,
		OperationLogger: opLog,
		Log:             zerolog.Nop(),
	})
	t.Cleanup(w.Close)
	return w, pub, opLog
}

func TestWorker_VirtualIndex(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWorker(t, func() (remote.Session, error) { return newFakeSession(), nil })
	if w.VirtualIndex() != "vi-1" {
		t.Fatalf("VirtualIndex() = %q, want vi-1", w.VirtualIndex())
	}
}

func TestWorker_DispatchUnknownAction(t *testing.T) {
	t.Parallel()

	w, pub, opLog := newTestWorker(t, func() (remote.Session, error) { return newFakeSession(), nil })

	ack, err := w.dispatch(context.Background(), message.Message{Cmd: "NOT_A_REAL_ACTION"})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if !ack {
		t.Fatal("dispatch() ack = false, want true (unknown action still acks the delivery)")
	}

	env := pub.last()
	if env.Action != message.ActionError {
		t.Fatalf("published Action = %v, want ActionError", env.Action)
	}
	if len(opLog.logs) != 1 {
		t.Fatalf("len(opLog.logs) = %d, want 1", len(opLog.logs))
	}
}

func TestWorker_DispatchDeleteRemoteFile(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	w, pub, _ := newTestWorker(t, func() (remote.Session, error) { return sess, nil })

	args := map[string]any{"remote_path": "/foo.txt"}
	ack, err := w.dispatch(context.Background(), message.Message{Cmd: message.ActionDeleteRemoteFile, Args: args})
	if err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if !ack {
		t.Fatal("dispatch() ack = false, want true")
	}
	if len(sess.deletePaths) != 1 || sess.deletePaths[0] != "/remote/foo.txt" {
		t.Fatalf("deletePaths = %v, want [/remote/foo.txt]", sess.deletePaths)
	}

	if pub.last().Action != message.ActionDeleteRemoteFile {
		t.Errorf("reply Action = %q, want %q", pub.last().Action, message.ActionDeleteRemoteFile)
	}
	payload, ok := pub.last().Data.Value.(map[string]any)
	if !ok {
		t.Fatalf("reply Data.Value = %#v, want map[string]any", pub.last().Data.Value)
	}
	if payload["success"] != true {
		t.Errorf("reply payload = %v, want success=true", payload)
	}
}

func TestWorker_SessionConnectFailureNacks(t *testing.T) {
	t.Parallel()

	w, _, _ := newTestWorker(t, func() (remote.Session, error) {
		s := newFakeSession()
		s.connectErr = errBoom
		return s, nil
	})

	ack, err := w.dispatch(context.Background(), message.Message{
		Cmd:  message.ActionDeleteRemoteFile,
		Args: map[string]any{"remote_path": "/foo.txt"},
	})
	if err == nil {
		t.Fatal("dispatch() error = nil, want connect failure to propagate")
	}
	if ack {
		t.Fatal("dispatch() ack = true, want false on a connect failure")
	}
}

func TestWorker_EnqueueDrains(t *testing.T) {
	t.Parallel()

	sess := newFakeSession()
	w, _, opLog := newTestWorker(t, func() (remote.Session, error) { return sess, nil })

	w.Enqueue(message.Message{Cmd: message.ActionDeleteRemoteFile, Args: map[string]any{"remote_path": "/x"}})

	select {
	case <-opLog.notify:
	case <-time.After(time.Second):
		t.Fatal("enqueued command was never drained by the worker's background goroutine")
	}

	if len(sess.deletePaths) != 1 || sess.deletePaths[0] != "/remote/x" {
		t.Fatalf("deletePaths = %v, want [/remote/x]", sess.deletePaths)
	}
}
