// Package worker implements the PeripheralWorker: a stateful component that owns a remote file-transfer session,
// executes commands drawn from a JSON envelope, emits lifecycle events, and verifies bulk transfers.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
)

// Publisher delivers an outbound envelope on the peripheral's reply queue (send_queue_index_<vi>).
type Publisher interface {
	PublishReply(ctx context.Context, virtualIndex string, env message.Envelope) error
}

// OperationLogger records a completed command for audit, matching the ConfigStore.LogOperation contract. It is
// infallible at the call site: a logging failure is itself only logged, never propagated to the caller.
type OperationLogger interface {
	LogOperation(ctx context.Context, operationType, status, details string) error
}

// SessionFactory builds a fresh, unconnected remote.Session for one command. A Worker opens at most one session at a
// time and closes it on every exit path, per the RemoteSession concurrency invariant.
type SessionFactory func() (remote.Session, error)

// Config bundles the per-peripheral settings a Worker needs at construction time.
type Config struct {
	VirtualIndex    string
	ServerSidePath  string
	RemoteSidePath  string
	NewSession      SessionFactory
	Publisher       Publisher
	OperationLogger OperationLogger
	Log             zerolog.Logger
}

// Worker is C2 PeripheralWorker: it owns one remote session factory and one inbound internal command queue.
type Worker struct {
	virtualIndex   string
	serverSidePath string
	remoteSidePath string
	newSession     SessionFactory
	publisher      Publisher
	opLog          OperationLogger
	log            zerolog.Logger

	queue     *commandQueue
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	sessionOpen bool
}

// New constructs a Worker and starts the dedicated goroutine that drains its internal command queue, mirroring the
// one-goroutine-per-connection shape of a writePump.
func New(cfg Config) *Worker {
	w := &Worker{
		virtualIndex:   cfg.VirtualIndex,
		serverSidePath: cfg.ServerSidePath,
		remoteSidePath: cfg.RemoteSidePath,
		newSession:     cfg.NewSession,
		publisher:      cfg.Publisher,
		opLog:          cfg.OperationLogger,
		log:            cfg.Log.With().Str("virtual_index", cfg.VirtualIndex).Logger(),
		queue:          newCommandQueue(),
		done:           make(chan struct{}),
	}
	go w.drainCommands()
	return w
}

// VirtualIndex returns the stable id used for queue naming.
func (w *Worker) VirtualIndex() string {
	return w.virtualIndex
}

// Enqueue pushes an internal command (routed by an automation or the management layer) onto the worker's command
// queue. It never blocks: the queue is unbounded.
func (w *Worker) Enqueue(msg message.Message) {
	w.queue.push(msg)
}

// Close stops the command-draining goroutine. It is idempotent.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.queue.close()
	})
}

func (w *Worker) drainCommands() {
	for {
		msg, ok := w.queue.pop()
		if !ok {
			return
		}
		ctx := context.Background()
		if _, err := w.dispatch(ctx, msg); err != nil {
			w.log.Warn().Err(err).Str("cmd", string(msg.Cmd)).Msg("internal command failed")
		}
	}
}

// Handle is the broker delivery entrypoint: it parses body, executes the command, and reports whether the delivery
// should be acked (true) or nacked without requeue (false). Exactly one of those outcomes is implied by the return
// value for every call; a session, if any was opened, is always closed before Handle returns.
func (w *Worker) Handle(ctx context.Context, body []byte) bool {
	msg := message.ParseMessage(body)
	ack, err := w.dispatch(ctx, msg)
	if err != nil {
		w.log.Error().Err(err).Str("cmd", string(msg.Cmd)).Msg("command processing error")
	}
	return ack
}

// dispatch runs the command named by msg.Cmd and returns whether the delivery should be acked. Per-file errors
// inside a bulk operation do not cause a nack; only a failure to establish the remote session does.
func (w *Worker) dispatch(ctx context.Context, msg message.Message) (ack bool, err error) {
	switch msg.Cmd {
	case message.ActionGetServerFileTree:
		return w.handleGetServerFileTree(ctx, msg)
	case message.ActionGetRemoteFileTree:
		return w.handleGetRemoteFileTree(ctx, msg)
	case message.ActionStreamFile:
		return w.handleStreamFile(ctx, msg)
	case message.ActionStreamDirectory:
		return w.handleStreamDirectory(ctx, msg)
	case message.ActionDownloadFile:
		return w.handleDownloadFile(ctx, msg)
	case message.ActionDownloadDirectory:
		return w.handleDownloadDirectory(ctx, msg)
	case message.ActionDeleteRemoteFile:
		return w.handleDeleteRemoteFile(ctx, msg)
	case message.ActionDeleteRemoteDir:
		return w.handleDeleteRemoteDirectory(ctx, msg)
	default:
		return w.handleUnknown(ctx, msg)
	}
}

// publish sends an envelope on the peripheral's reply queue, logging on failure rather than propagating: a broken
// publish must not turn a completed transfer into a nacked delivery.
func (w *Worker) publish(ctx context.Context, action message.ActionTag, value any) {
	env := message.NewReplyEnvelope(action, w.virtualIndex, value)
	if err := w.publisher.PublishReply(ctx, w.virtualIndex, env); err != nil {
		w.log.Warn().Err(err).Str("action", string(action)).Msg("failed to publish reply")
	}
}

func (w *Worker) publishError(ctx context.Context, err error) {
	env := message.NewErrorEnvelope(w.virtualIndex, err)
	if pubErr := w.publisher.PublishReply(ctx, w.virtualIndex, env); pubErr != nil {
		w.log.Warn().Err(pubErr).Msg("failed to publish error reply")
	}
}

func (w *Worker) logOperation(ctx context.Context, operationType, status string, details any) {
	detailsStr := fmt.Sprintf("%v", details)
	if err := w.opLog.LogOperation(ctx, operationType, status, detailsStr); err != nil {
		w.log.Warn().Err(err).Str("operation_type", operationType).Msg("failed to log operation")
	}
}

// withSession opens a fresh remote session, invokes fn, and disconnects on every exit path. A failure to connect is
// a transport fault: the caller nacks the delivery. Only one session is ever open per Worker at a time, enforced by
// a mutex so two commands racing on the same queue cannot overlap sessions.
func (w *Worker) withSession(ctx context.Context, fn func(sess remote.Session) (ok bool)) (ack bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sess, err := w.newSession()
	if err != nil {
		w.publishError(ctx, err)
		return false, fmt.Errorf("build session: %w", err)
	}
	if err := sess.Connect(ctx); err != nil {
		w.publishError(ctx, err)
		return false, fmt.Errorf("connect session: %w", err)
	}
	w.sessionOpen = true
	defer func() {
		sess.Disconnect()
		w.sessionOpen = false
	}()

	ok := fn(sess)
	return ok, nil
}

func (w *Worker) handleUnknown(ctx context.Context, msg message.Message) (bool, error) {
	err := fmt.Errorf("unknown action: %s", msg.Cmd)
	w.publishError(ctx, err)
	w.logOperation(ctx, string(message.ActionError), "error", err.Error())
	return true, nil
}
