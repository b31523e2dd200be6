// Package broker implements the BrokerSupervisor: the single AMQP connection and channel this gateway holds,
// its declare/consume topology, and a reconnect-with-backoff state machine.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
)

// ErrNotConnected is returned by Publish when no channel is currently open.
var ErrNotConnected = errors.New("broker: not connected")

// State is one phase of the supervisor's connection lifecycle.
type State string

const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateDeclaring  State = "declaring"
	StateConsuming  State = "consuming"
	StateDraining   State = "draining"
)

// RecvQueueName returns the queue name a peripheral's inbound commands are delivered on.
func RecvQueueName(virtualIndex string) string { return "recv_queue_index_" + virtualIndex }

// SendQueueName returns the queue name a peripheral's worker publishes replies to.
func SendQueueName(virtualIndex string) string { return "send_queue_index_" + virtualIndex }

// ConsumerBinding is one queue this supervisor both declares and consumes from. Handler decides whether the
// delivery is acked (true) or nacked without requeue (false); it must not block indefinitely, since a single
// consumer goroutine services every delivery on its queue.
type ConsumerBinding struct {
	QueueName string
	Handler   func(ctx context.Context, body []byte) bool
}

// Topology is the full set of queues declared on every (re)connect. DeclareOnly queues are declared but never
// consumed here — a peripheral's send_queue_index_<vi> is published to by PeripheralWorker and consumed by an
// external client outside this gateway, so it must exist but needs no local Handler.
type Topology struct {
	DeclareOnly []string
	Consumers   []ConsumerBinding
}

// TopologyProvider resolves the current topology. It is invoked once per (re)connect, so a ReconfigureController
// rebuild takes effect on the very next reconnect cycle without requiring a code change here.
type TopologyProvider func() (Topology, error)

// Config holds one supervisor's connection parameters, mirroring the original implementation's fixed values
// (heartbeat 30s, socket timeout 5s) while adding the reconnect backoff bounds spec.md's retry_delay generalizes
// into.
type Config struct {
	URL                      string
	Heartbeat                time.Duration
	PrefetchCount            int
	ReconnectMinDelay        time.Duration
	ReconnectMaxDelay        time.Duration
	BlockedConnectionTimeout time.Duration
	SocketTimeout            time.Duration
	Log                      zerolog.Logger
}

// Supervisor is C4 BrokerSupervisor: it owns the single AMQP connection and channel this gateway uses, and drives
// the connect -> declare -> consume state machine until stopped.
type Supervisor struct {
	cfg      Config
	topology TopologyProvider
	log      zerolog.Logger

	mu    sync.Mutex
	state State
	ch    amqpChannel

	stopCh   chan struct{}
	stopOnce sync.Once

	dial func(cfg Config) (amqpConnection, error)
}

// New builds a Supervisor. topology is re-resolved on every reconnect attempt.
func New(cfg Config, topology TopologyProvider) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		topology: topology,
		log:      cfg.Log.With().Str("component", "broker").Logger(),
		state:    StateStopped,
		stopCh:   make(chan struct{}),
		dial:     dialAMQP,
	}
}

// State reports the supervisor's current lifecycle phase.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the connect/declare/consume cycle until ctx is cancelled or Stop is called, reconnecting with
// exponential backoff on every connection failure. Every reconnect is a full tear-down and rebuild of the connection,
// channel, and topology. Supervisor has no method that forces a reconnect while the current session is healthy.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.setState(StateStopped)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		if err := s.connectAndConsume(ctx); err != nil {
			s.log.Error().Err(err).Msg("broker session ended, reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}
	}
}

// Stop signals Run to exit after its current session ends. It is idempotent.
func (s *Supervisor) Stop() {
	s.setState(StateDraining)
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Supervisor) connectAndConsume(ctx context.Context) error {
	s.setState(StateConnecting)
	conn, err := s.dialWithBackoff(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	blocked := conn.NotifyBlocked(make(chan amqp.Blocking, 1))
	go s.logBlocked(ctx, blocked)

	ch, err := conn.OpenChannel()
	if err != nil {
		return fmt.Errorf("broker: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(s.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("broker: set qos: %w", err)
	}

	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
	}()

	s.setState(StateDeclaring)
	topo, err := s.topology()
	if err != nil {
		return fmt.Errorf("broker: resolve topology: %w", err)
	}
	if err := declareTopology(ch, topo); err != nil {
		return err
	}

	s.setState(StateConsuming)
	return s.consume(ctx, ch, topo)
}

// dialWithBackoff retries Dial forever (bounded only by ctx cancellation) using an exponential backoff policy, per
// the reconnect-with-backoff generalization of the original's fixed retry_delay.
func (s *Supervisor) dialWithBackoff(ctx context.Context) (amqpConnection, error) {
	expo := backoff.NewExponentialBackOff()
	if s.cfg.ReconnectMinDelay > 0 {
		expo.InitialInterval = s.cfg.ReconnectMinDelay
	}
	if s.cfg.ReconnectMaxDelay > 0 {
		expo.MaxInterval = s.cfg.ReconnectMaxDelay
	}
	expo.MaxElapsedTime = 0

	var conn amqpConnection
	op := func() error {
		c, err := s.dial(s.cfg)
		if err != nil {
			s.log.Warn().Err(err).Msg("broker connect failed, retrying")
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		return nil, fmt.Errorf("broker: connect: %w", err)
	}
	return conn, nil
}

// logBlocked surfaces RabbitMQ's publisher-blocking notifications (triggered by the broker's own resource alarms,
// not the dial-time BlockedConnectionTimeout) as warnings; it returns once ctx is done or the channel closes.
func (s *Supervisor) logBlocked(ctx context.Context, blocked chan amqp.Blocking) {
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-blocked:
			if !ok {
				return
			}
			if b.Active {
				s.log.Warn().Str("reason", b.Reason).Msg("broker connection blocked")
			} else {
				s.log.Info().Msg("broker connection unblocked")
			}
		}
	}
}

func declareTopology(ch amqpChannel, topo Topology) error {
	for _, name := range topo.DeclareOnly {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", name, err)
		}
	}
	for _, binding := range topo.Consumers {
		if _, err := ch.QueueDeclare(binding.QueueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", binding.QueueName, err)
		}
	}
	return nil
}

type pendingDelivery struct {
	binding ConsumerBinding
	d       amqp.Delivery
}

// consume starts one goroutine per bound queue, funnels their deliveries through a single channel, and dispatches
// each to its binding's Handler on the calling goroutine — so Handler invocations for different queues never run
// concurrently with each other inside one Supervisor, matching the single-driver-goroutine design note.
func (s *Supervisor) consume(ctx context.Context, ch amqpChannel, topo Topology) error {
	closeNotify := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries := make(chan pendingDelivery)

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, binding := range topo.Consumers {
		msgs, err := ch.Consume(binding.QueueName, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("broker: consume %s: %w", binding.QueueName, err)
		}
		b := binding
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case d, ok := <-msgs:
					if !ok {
						return
					}
					select {
					case deliveries <- pendingDelivery{binding: b, d: d}:
					case <-consumeCtx.Done():
						return
					}
				case <-consumeCtx.Done():
					return
				}
			}
		}()
	}

	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case cerr := <-closeNotify:
			if cerr != nil {
				return fmt.Errorf("broker: channel closed: %w", cerr)
			}
			return fmt.Errorf("broker: channel closed")
		case item := <-deliveries:
			if item.binding.Handler(ctx, item.d.Body) {
				_ = item.d.Ack(false)
			} else {
				_ = item.d.Nack(false, false)
			}
		}
	}
}

// Publish sends body on queueName using the default exchange, persistent delivery mode. Publishing on an
// amqp091.Channel is not thread-safe, so the channel mutex is held for the duration of the call, not just for
// reading the pointer: PeripheralWorkers replying concurrently and the automation router forwarding concurrently
// both call through this method on the same shared channel.
func (s *Supervisor) Publish(ctx context.Context, queueName string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return ErrNotConnected
	}
	err := s.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queueName, err)
	}
	return nil
}

// PublishToQueue implements automation.QueuePublisher.
func (s *Supervisor) PublishToQueue(ctx context.Context, queueName string, body []byte) error {
	return s.Publish(ctx, queueName, body)
}

// PublishReply implements worker.Publisher: it marshals env and publishes it to the peripheral's reply queue.
func (s *Supervisor) PublishReply(ctx context.Context, virtualIndex string, env message.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("broker: marshal reply: %w", err)
	}
	return s.Publish(ctx, SendQueueName(virtualIndex), body)
}
