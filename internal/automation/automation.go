// Package automation implements the AutomationRouter: rule-based fan-out that forwards a message delivered on one
// broker queue to one or more destinations, without workflow chaining or conditionals.
package automation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leandro2vieira/teep-arq-flow/internal/message"
)

// ActionType is the closed set of automation actions. Extending it means adding a variant to this set and to
// Router.runAction's switch, never registering a handler at runtime.
type ActionType string

const (
	ActionForwardToRabbitMQ    ActionType = "forward_to_rabbitmq"
	ActionMultiplexPeripherals ActionType = "multiplex_peripherals"
)

// QueuePublisher forwards a raw delivery body onto a named broker queue, independent of any peripheral's own reply
// queue.
type QueuePublisher interface {
	PublishToQueue(ctx context.Context, queueName string, body []byte) error
}

// PeripheralDispatcher delivers an internal command to a peripheral worker's command queue, addressed by virtual
// index. It returns false if no worker is registered under that index.
type PeripheralDispatcher interface {
	Dispatch(virtualIndex string, msg message.Message) bool
}

// Action is one compiled automation action bound to a Trigger. Only the fields relevant to its Type are populated.
type Action struct {
	Type ActionType

	// TargetQueues is used by ActionForwardToRabbitMQ: every queue the message must be forwarded to.
	TargetQueues []string

	// VirtualIndexes is used by ActionMultiplexPeripherals: the peripheral ids named in the action's configuration,
	// already resolved to worker virtual indexes.
	VirtualIndexes []string
}

// Trigger binds a source queue to the actions that fire whenever a message is delivered on it.
type Trigger struct {
	QueueName string
	Actions   []Action
}

// forwardEntry is one element of action_config's shape for ActionForwardToRabbitMQ: a JSON array of
// {"sent_to": "queue_name"} objects, one per destination queue, supporting fan-out to multiple queues from a
// single action.
type forwardEntry struct {
	SentTo string `json:"sent_to"`
}

// multiplexConfig is action_config's shape for ActionMultiplexPeripherals: a list of peripheral ids, which the
// caller must resolve to virtual indexes via resolveVirtualIndex before the Action can run.
type multiplexConfig struct {
	PeripheralIDs []string `json:"peripheral_ids"`
}

// BuildAction decodes a row from the actions table (its description names the action type, its action_config
// carries the type-specific configuration as JSON) into a compiled Action. resolveVirtualIndex is consulted for
// ActionMultiplexPeripherals to turn each configured peripheral id into the virtual index its worker is registered
// under; an id that fails to resolve is dropped with no error, matching _handle_update_config's tolerance for
// partially-configured automations.
func BuildAction(description string, actionConfig []byte, resolveVirtualIndex func(peripheralID string) (string, bool)) (Action, error) {
	switch ActionType(description) {
	case ActionForwardToRabbitMQ:
		var entries []forwardEntry
		if err := json.Unmarshal(actionConfig, &entries); err != nil {
			return Action{}, fmt.Errorf("automation: decode forward_to_rabbitmq config: %w", err)
		}
		var queues []string
		for _, e := range entries {
			if e.SentTo != "" {
				queues = append(queues, e.SentTo)
			}
		}
		if len(queues) == 0 {
			return Action{}, fmt.Errorf("automation: forward_to_rabbitmq config has no sent_to entries")
		}
		return Action{Type: ActionForwardToRabbitMQ, TargetQueues: queues}, nil

	case ActionMultiplexPeripherals:
		var cfg multiplexConfig
		if err := json.Unmarshal(actionConfig, &cfg); err != nil {
			return Action{}, fmt.Errorf("automation: decode multiplex_peripherals config: %w", err)
		}
		var indexes []string
		for _, id := range cfg.PeripheralIDs {
			if vi, ok := resolveVirtualIndex(id); ok {
				indexes = append(indexes, vi)
			}
		}
		return Action{Type: ActionMultiplexPeripherals, VirtualIndexes: indexes}, nil

	default:
		return Action{}, fmt.Errorf("automation: unknown action type %q", description)
	}
}

// Router is C3 AutomationRouter: it holds the compiled trigger-to-action bindings for every automation and fans a
// delivered message out to each bound action when its source queue receives one.
type Router struct {
	publisher  QueuePublisher
	dispatcher PeripheralDispatcher
	byQueue    map[string][]Action
}

// New builds a Router from the full set of triggers resolved at startup (or after a ReconfigureController cycle).
func New(publisher QueuePublisher, dispatcher PeripheralDispatcher, triggers []Trigger) *Router {
	byQueue := make(map[string][]Action, len(triggers))
	for _, t := range triggers {
		byQueue[t.QueueName] = t.Actions
	}
	return &Router{publisher: publisher, dispatcher: dispatcher, byQueue: byQueue}
}

// Route runs every action bound to queueName against body, the raw delivery received on that queue. Nil is returned
// if queueName has no bound trigger. An individual action's failure is collected but does not stop the remaining
// actions on the same trigger: a misconfigured forward target must not prevent a multiplex fan-out bound to the
// same queue.
func (r *Router) Route(ctx context.Context, queueName string, body []byte) []error {
	actions, ok := r.byQueue[queueName]
	if !ok {
		return nil
	}

	var errs []error
	for _, action := range actions {
		if err := r.runAction(ctx, action, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *Router) runAction(ctx context.Context, action Action, body []byte) error {
	switch action.Type {
	case ActionForwardToRabbitMQ:
		return r.forwardToRabbitMQ(ctx, action, body)
	case ActionMultiplexPeripherals:
		return r.multiplexPeripherals(action, body)
	default:
		return fmt.Errorf("automation: unknown action type %q", action.Type)
	}
}

func (r *Router) forwardToRabbitMQ(ctx context.Context, action Action, body []byte) error {
	if len(action.TargetQueues) == 0 {
		return fmt.Errorf("automation: forward_to_rabbitmq action has no target queues")
	}
	var failed []string
	for _, q := range action.TargetQueues {
		if err := r.publisher.PublishToQueue(ctx, q, body); err != nil {
			failed = append(failed, q)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("automation: forward to %v failed", failed)
	}
	return nil
}

func (r *Router) multiplexPeripherals(action Action, body []byte) error {
	if len(action.VirtualIndexes) == 0 {
		return fmt.Errorf("automation: multiplex_peripherals action resolved to no peripherals")
	}

	msg := message.ParseMessage(body)
	var failed []string
	for _, vi := range action.VirtualIndexes {
		if !r.dispatcher.Dispatch(vi, msg) {
			failed = append(failed, vi)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("automation: multiplex failed for peripherals %v", failed)
	}
	return nil
}
