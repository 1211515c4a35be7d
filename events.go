package accounts

import (
	"context"
	"sync"
	"time"
)

// EventName identifies a transition announced by AccountManager
type EventName string

const (
	EventRegistration     EventName = "account.registration"
	EventActivation       EventName = "account.activation"
	EventActivationResent EventName = "account.activation_resent"
	EventRememberPassword EventName = "account.remember_password"
	EventPasswordChanged  EventName = "account.password_changed"
	EventChangeEmail      EventName = "account.change_email"
	EventEmailChanged     EventName = "account.email_changed"
)

// Event describes a committed transition. Code and the transient fields are
// only set for the transitions that produce them. NewPassword is the
// plaintext handed to subscribers before it is discarded; it is never
// persisted or serialized.
type Event struct {
	Name        EventName         `json:"name"`
	Account     *Account          `json:"account"`
	Code        *VerificationCode `json:"code,omitempty"`
	NewEmail    string            `json:"new_email,omitempty"`
	NewPassword string            `json:"-"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// EventSink receives events synchronously after each transition commits.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, event Event) error

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopEventSink struct{}

func (noopEventSink) Publish(context.Context, Event) error {
	return nil
}

func normalizeEventSink(s EventSink) EventSink {
	if s == nil {
		return noopEventSink{}
	}
	return s
}

// Subscriber handles events fanned out by a Dispatcher
type Subscriber = EventSink

// FailurePolicy decides what Dispatcher does with subscriber errors
type FailurePolicy string

const (
	// FailurePropagate stops at the first failing subscriber and returns
	// its error to the caller of the transition.
	FailurePropagate FailurePolicy = "propagate"
	// FailureLogAndContinue logs subscriber errors and keeps going.
	FailureLogAndContinue FailurePolicy = "log"
)

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithFailurePolicy sets how subscriber errors are handled.
func WithFailurePolicy(policy FailurePolicy) DispatcherOption {
	return func(d *Dispatcher) {
		if policy == FailurePropagate || policy == FailureLogAndContinue {
			d.policy = policy
		}
	}
}

// WithDispatcherLogger overrides the logger used for swallowed failures.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher is an in-process, synchronous EventSink that fans events out
// to subscribers in registration order.
type Dispatcher struct {
	mu     sync.RWMutex
	named  map[EventName][]Subscriber
	all    []Subscriber
	policy FailurePolicy
	logger Logger
}

// NewDispatcher creates a dispatcher using FailurePropagate.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		named:  map[EventName][]Subscriber{},
		policy: FailurePropagate,
		logger: ResolveLogger("accounts.dispatcher", nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Subscribe registers s for the given event names.
func (d *Dispatcher) Subscribe(s Subscriber, names ...EventName) *Dispatcher {
	if s == nil {
		return d
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		d.named[name] = append(d.named[name], s)
	}
	return d
}

// SubscribeAll registers s for every event.
func (d *Dispatcher) SubscribeAll(s Subscriber) *Dispatcher {
	if s == nil {
		return d
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.all = append(d.all, s)
	return d
}

// Policy returns the active failure policy
func (d *Dispatcher) Policy() FailurePolicy {
	return d.policy
}

// Publish implements EventSink.
func (d *Dispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	subscribers := make([]Subscriber, 0, len(d.all)+len(d.named[event.Name]))
	subscribers = append(subscribers, d.all...)
	subscribers = append(subscribers, d.named[event.Name]...)
	d.mu.RUnlock()

	for _, s := range subscribers {
		err := s.Publish(ctx, event)
		if err == nil {
			continue
		}
		if d.policy == FailurePropagate {
			return richError(err, "event subscriber failed")
		}
		d.logger.WithContext(ctx).Warn("event subscriber error",
			"event", string(event.Name),
			"error", err,
		)
	}

	return nil
}
