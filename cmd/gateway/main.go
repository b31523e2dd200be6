package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/leandro2vieira/teep-arq-flow/internal/automation"
	"github.com/leandro2vieira/teep-arq-flow/internal/broker"
	"github.com/leandro2vieira/teep-arq-flow/internal/config"
	"github.com/leandro2vieira/teep-arq-flow/internal/configstore"
	"github.com/leandro2vieira/teep-arq-flow/internal/healthserver"
	"github.com/leandro2vieira/teep-arq-flow/internal/postgres"
	"github.com/leandro2vieira/teep-arq-flow/internal/reconfigure"
	"github.com/leandro2vieira/teep-arq-flow/internal/remote"
	"github.com/leandro2vieira/teep-arq-flow/internal/valkey"
	"github.com/leandro2vieira/teep-arq-flow/internal/worker"
)

// ConfigError marks a malformed or incomplete configuration discovered at topology-build time — a peripheral
// lacking required fields, for instance. The supervisor must abort startup (or refuse to apply a reconfigure
// cycle) rather than run with a silently partial topology.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func newConfigError(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

// gateway holds the live, reconfigurable dependencies a broker consumer touches on every delivery. router and
// registry are rebuilt wholesale by every reconfigure cycle; router is read through an atomic pointer since broker
// consumer goroutines read it concurrently with a rebuild in flight.
type gateway struct {
	cfg      *config.Config
	store    *configstore.CachedStore
	registry *worker.Registry
	router   atomic.Pointer[automation.Router]
	log      zerolog.Logger
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	log.Info().Str("version", version).Str("commit", commit).Str("env", cfg.ServerEnv).Msg("starting gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("valkey connected")

	pgStore := configstore.NewPGStore(db, log.Logger)
	store := configstore.NewCachedStore(pgStore, rdb)

	gw := &gateway{
		cfg:      cfg,
		store:    store,
		registry: worker.NewRegistry(),
		log:      log.Logger,
	}

	var supervisor *broker.Supervisor
	rebuild := func(ctx context.Context) error {
		return gw.reconfigure(ctx, supervisor)
	}
	reconfigureCtl := reconfigure.New(log.Logger, rebuild)

	supervisor = broker.New(broker.Config{
		URL:                      cfg.BrokerURL,
		Heartbeat:                cfg.BrokerHeartbeat,
		PrefetchCount:            cfg.BrokerPrefetchCount,
		ReconnectMinDelay:        cfg.ReconnectMinDelay,
		ReconnectMaxDelay:        cfg.ReconnectMaxDelay,
		BlockedConnectionTimeout: cfg.BrokerBlockedConnTimeout,
		SocketTimeout:            cfg.BrokerSocketTimeout,
		Log:                      log.Logger,
	}, func() (broker.Topology, error) {
		return gw.buildTopology(ctx, supervisor)
	})

	// Build the live topology once, synchronously, before the supervisor's first connect attempt. Later
	// reconfigures run through reconfigureCtl, which coalesces concurrent requests; this first one must complete
	// before Run starts so its initial TopologyProvider call never sees an empty registry.
	if err := gw.reconfigure(ctx, supervisor); err != nil {
		return fmt.Errorf("initial reconfigure: %w", err)
	}

	// A SIGHUP asks the gateway to re-read configuration and rebuild the worker registry and automation router. The
	// open broker session is not closed: queue declarations and consumer bindings for the rebuilt worker set take
	// effect on the supervisor's next reconnect.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				log.Info().Msg("SIGHUP received, forcing reconfigure")
				reconfigureCtl.Request(ctx)
			}
		}
	}()

	brokerDone := make(chan error, 1)
	go func() { brokerDone <- supervisor.Run(ctx) }()

	health := healthserver.New(healthserver.Config{
		Broker:      supervisor,
		Reconfigure: reconfigureCtl,
		Operations:  store,
		CORSOrigins: cfg.CORSAllowOrigins,
		Log:         log.Logger,
	})

	healthDone := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HealthPort)
		log.Info().Str("addr", addr).Msg("health server listening")
		healthDone <- health.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down gateway")

	supervisor.Stop()
	gw.registry.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := health.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown error")
	}

	<-brokerDone
	<-healthDone

	return nil
}

// reconfigure re-reads the full configuration and rebuilds the worker registry and automation router from it. The
// broker's next reconnect (or the one already in flight at startup) picks up the new topology via buildTopology.
func (gw *gateway) reconfigure(ctx context.Context, supervisor *broker.Supervisor) error {
	peripherals, err := gw.store.GetPeripherals(ctx)
	if err != nil {
		return fmt.Errorf("reconfigure: load peripherals: %w", err)
	}

	byPeripheralID := make(map[uuid.UUID]string, len(peripherals))
	workers := make(map[string]*worker.Worker, len(peripherals))
	for _, p := range peripherals {
		vi, ok := configstore.VirtualIndex(p.ChannelToVirtualIndex, "index")
		if !ok {
			return newConfigError("peripheral %q (%s) has no virtual index", p.Name, p.ID)
		}

		params, err := peripheralConnectionParams(p, gw.cfg.RemoteConnectTimeout)
		if err != nil {
			gw.log.Warn().Err(err).Str("peripheral", p.Name).Msg("invalid connection params, skipping")
			continue
		}

		workers[vi] = worker.New(worker.Config{
			VirtualIndex:    vi,
			ServerSidePath:  p.ServerSidePath,
			RemoteSidePath:  p.RemoteSidePath,
			NewSession:      func() (remote.Session, error) { return remote.NewSession(params) },
			Publisher:       supervisor,
			OperationLogger: gw.store,
			Log:             gw.log,
		})
		byPeripheralID[p.ID] = vi
	}
	gw.registry.Swap(workers)

	automations, err := gw.store.GetAutomations(ctx)
	if err != nil {
		return fmt.Errorf("reconfigure: load automations: %w", err)
	}
	triggers, err := gw.store.GetTriggers(ctx)
	if err != nil {
		return fmt.Errorf("reconfigure: load triggers: %w", err)
	}

	resolveVI := func(peripheralID string) (string, bool) {
		id, err := uuid.Parse(peripheralID)
		if err != nil {
			return "", false
		}
		vi, ok := byPeripheralID[id]
		return vi, ok
	}

	triggersByAutomation := make(map[uuid.UUID][]configstore.Trigger)
	for _, t := range triggers {
		triggersByAutomation[t.AutomationID] = append(triggersByAutomation[t.AutomationID], t)
	}

	var compiled []automation.Trigger
	for _, a := range automations {
		actions, err := gw.store.GetActions(ctx, a.ID)
		if err != nil {
			gw.log.Warn().Err(err).Str("automation", a.Name).Msg("failed to load actions, skipping automation")
			continue
		}

		var built []automation.Action
		for _, act := range actions {
			ca, err := automation.BuildAction(act.Description, act.ActionConfig, resolveVI)
			if err != nil {
				gw.log.Warn().Err(err).Str("automation", a.Name).Str("action", act.Description).
					Msg("failed to compile action, skipping")
				continue
			}
			built = append(built, ca)
		}

		for _, t := range triggersByAutomation[a.ID] {
			compiled = append(compiled, automation.Trigger{QueueName: t.QueueName, Actions: built})
		}
	}

	gw.router.Store(automation.New(supervisor, gw.registry, compiled))

	if err := gw.store.Invalidate(ctx); err != nil {
		gw.log.Warn().Err(err).Msg("failed to invalidate config cache after reconfigure")
	}

	return nil
}

// buildTopology resolves the queues the broker supervisor must declare and consume for the currently registered
// workers and triggers. It is called once per (re)connect, after reconfigure has already populated the registry and
// router for the first time.
func (gw *gateway) buildTopology(ctx context.Context, supervisor *broker.Supervisor) (broker.Topology, error) {
	var topo broker.Topology

	for _, w := range gw.registry.All() {
		vi := w.VirtualIndex()
		topo.DeclareOnly = append(topo.DeclareOnly, broker.SendQueueName(vi))
		topo.Consumers = append(topo.Consumers, broker.ConsumerBinding{
			QueueName: broker.RecvQueueName(vi),
			Handler:   w.Handle,
		})
	}

	triggers, err := gw.store.GetTriggers(ctx)
	if err != nil {
		return broker.Topology{}, fmt.Errorf("build topology: load triggers: %w", err)
	}
	for _, t := range triggers {
		queueName := t.QueueName
		topo.Consumers = append(topo.Consumers, broker.ConsumerBinding{
			QueueName: queueName,
			Handler: func(ctx context.Context, body []byte) bool {
				if errs := gw.router.Load().Route(ctx, queueName, body); len(errs) > 0 {
					for _, e := range errs {
						gw.log.Warn().Err(e).Str("queue", queueName).Msg("automation fan-out error")
					}
				}
				return true
			},
		})
	}

	return topo, nil
}

// peripheralConnectionParams decodes a peripheral's connection_params JSONB (already unmarshalled to
// map[string]any) into remote.ConnectionParams, matching ConnectionManager.__init__'s recognized keys from
// ftp_manager.py: host, port, user, password, protocol, timeout, passive, local_path. protocol falls back to the
// peripheral's interface tag when connection_params omits it, and timeout falls back to the gateway's configured
// default when the peripheral does not override it.
func peripheralConnectionParams(p configstore.Peripheral, defaultTimeout time.Duration) (remote.ConnectionParams, error) {
	m := p.ConnectionParams

	host, _ := m["host"].(string)
	if host == "" {
		return remote.ConnectionParams{}, fmt.Errorf("connection_params missing host")
	}
	user, _ := m["user"].(string)
	password, _ := m["password"].(string)

	port := 0
	switch v := m["port"].(type) {
	case float64:
		port = int(v)
	case int:
		port = v
	}

	protocol := p.Interface
	if v, ok := m["protocol"].(string); ok && v != "" {
		protocol = v
	}

	timeout := defaultTimeout
	if v, ok := m["timeout"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	passive, _ := m["passive"].(bool)
	localPath, _ := m["local_path"].(string)

	return remote.ConnectionParams{
		Host:      host,
		Port:      port,
		User:      user,
		Password:  password,
		Protocol:  remote.Protocol(protocol),
		Timeout:   timeout,
		Passive:   passive,
		LocalPath: localPath,
	}, nil
}
