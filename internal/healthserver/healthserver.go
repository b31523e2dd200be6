// Package healthserver exposes the ambient operational HTTP surface this gateway carries alongside its broker
// consumers: a liveness probe, a readiness probe backed by the broker's connection state, and a status endpoint
// summarizing recent activity. It is not the peripheral management API (out of scope, see Non-goals).
package healthserver

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"

	"github.com/leandro2vieira/teep-arq-flow/internal/broker"
	"github.com/leandro2vieira/teep-arq-flow/internal/configstore"
	"github.com/leandro2vieira/teep-arq-flow/internal/httputil"
	"github.com/leandro2vieira/teep-arq-flow/internal/reconfigure"
)

// BrokerState reports a supervisor's current lifecycle phase, satisfied by *broker.Supervisor.
type BrokerState interface {
	State() broker.State
}

// ReconfigureState reports whether a reconfigure cycle is in flight, satisfied by *reconfigure.Controller.
type ReconfigureState interface {
	Running() bool
}

// Config holds the dependencies and HTTP-level settings for the health server.
type Config struct {
	Broker      BrokerState
	Reconfigure ReconfigureState
	Operations  configstore.OperationReader
	CORSOrigins string
	Log         zerolog.Logger
}

// New builds the Fiber app serving /healthz, /readyz, and /status.
func New(cfg Config) *fiber.App {
	log := cfg.Log.With().Str("component", "healthserver").Logger()

	app := fiber.New(fiber.Config{AppName: "gateway-health"})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log, "/healthz"))
	if cfg.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: strings.Split(cfg.CORSOrigins, ","),
			AllowMethods: []string{"GET"},
		}))
	}

	h := &handler{cfg: cfg}
	app.Get("/healthz", h.healthz)
	app.Get("/readyz", h.readyz)
	app.Get("/status", h.status)

	return app
}

type handler struct {
	cfg Config
}

// healthz always reports ok once the process is up: it answers "is this process alive", not "is it ready to
// handle traffic".
func (h *handler) healthz(c fiber.Ctx) error {
	return httputil.Success(c, fiber.Map{"status": "ok"})
}

// readyz reports ok only once the broker supervisor has reached its consuming state.
func (h *handler) readyz(c fiber.Ctx) error {
	state := h.cfg.Broker.State()
	if state != broker.StateConsuming {
		return httputil.SuccessStatus(c, fiber.StatusServiceUnavailable, fiber.Map{
			"status":        "not_ready",
			"broker_state":  string(state),
			"reconfiguring": h.cfg.Reconfigure.Running(),
		})
	}
	return httputil.Success(c, fiber.Map{
		"status":        "ready",
		"broker_state":  string(state),
		"reconfiguring": h.cfg.Reconfigure.Running(),
	})
}

// status surfaces the broker's lifecycle phase and the most recent operation records, for operator visibility.
func (h *handler) status(c fiber.Ctx) error {
	ops, err := h.cfg.Operations.ListOperations(c.Context(), 20)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, "operations_unavailable", err.Error())
	}
	return httputil.Success(c, fiber.Map{
		"broker_state":  string(h.cfg.Broker.State()),
		"reconfiguring": h.cfg.Reconfigure.Running(),
		"operations":    ops,
	})
}
