package admin

import (
	"log/slog"
	"sync"
	"time"

	"circuitadmin/core/events"
)

// emittedEvent adapts an AdminServiceEvent to the events.Event interface so
// it can be broadcast through the same Emitter downstream RPC and indexer
// consumers already use for chain state-change notifications.
type emittedEvent struct {
	evt AdminServiceEvent
}

func (e emittedEvent) EventType() string { return string(e.evt.EventType) }

// SubscriberResult is returned by a Subscriber after handling an event.
type SubscriberResult int

const (
	SubscriberHandledOK SubscriberResult = iota
	SubscriberUnsubscribe
	SubscriberTransientFailure
)

// Subscriber receives fanned-out admin events for the management types it
// registered for.
type Subscriber interface {
	HandleEvent(evt AdminServiceEvent) SubscriberResult
}

// subscription identifies a subscriber purely by a capability token (an
// opaque handle), collapsing the coordinator/subscriber/event-store cycle
// into a single owner.
type subscription struct {
	token uint64
	sub   Subscriber
}

// EventFanout appends every admin event to the durable event log and
// simultaneously fans it out to live subscribers matching its management
// type. There is no in-memory-only mailbox mode; every event is durable.
type EventFanout struct {
	mu sync.Mutex

	store   AdminStore
	logger  *slog.Logger
	emitter events.Emitter

	byType  map[string][]subscription
	nextTok uint64
}

// NewEventFanout constructs a fanout backed by the given durable store. Every
// published event is also forwarded to emitter, defaulting to a no-op so
// callers that have no external broadcaster wired (e.g. most tests) don't
// need to pass one.
func NewEventFanout(store AdminStore, logger *slog.Logger) *EventFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventFanout{
		store:   store,
		logger:  logger,
		emitter: events.NoopEmitter{},
		byType:  make(map[string][]subscription),
	}
}

// SetEmitter replaces the downstream broadcaster events are forwarded to
// after being durably appended.
func (f *EventFanout) SetEmitter(emitter events.Emitter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
}

// Subscribe registers sub for events of the given management type and
// returns a capability token usable with Unsubscribe.
func (f *EventFanout) Subscribe(managementType string, sub Subscriber) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTok++
	tok := f.nextTok
	f.byType[managementType] = append(f.byType[managementType], subscription{token: tok, sub: sub})
	return tok
}

// Unsubscribe removes a subscription by its capability token.
func (f *EventFanout) Unsubscribe(managementType string, token uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.byType[managementType]
	for i, s := range subs {
		if s.token == token {
			f.byType[managementType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish persists evt to the durable log, assigns it a monotonically
// increasing event id, and fans it out to matching subscribers.
func (f *EventFanout) Publish(evt AdminServiceEvent) (AdminServiceEvent, error) {
	evt.Timestamp = time.Now()
	id, err := f.store.AddEvent(&evt)
	if err != nil {
		return AdminServiceEvent{}, wrapStoreErr("add_event", err)
	}
	evt.EventID = id

	f.mu.Lock()
	subs := append([]subscription(nil), f.byType[evt.ManagementType]...)
	emitter := f.emitter
	f.mu.Unlock()

	emitter.Emit(emittedEvent{evt: evt})

	var stale []uint64
	for _, s := range subs {
		switch s.sub.HandleEvent(evt) {
		case SubscriberUnsubscribe:
			stale = append(stale, s.token)
		case SubscriberTransientFailure:
			f.logger.Warn("subscriber transient failure",
				slog.String("management_type", evt.ManagementType),
				slog.Uint64("event_id", evt.EventID))
		}
	}
	for _, tok := range stale {
		f.Unsubscribe(evt.ManagementType, tok)
	}
	return evt, nil
}

// EventsSince returns the suffix of the durable log after sinceEventID,
// filtered by management type, in ascending event-id order — the catch-up
// contract clients use after a reconnect.
func (f *EventFanout) EventsSince(managementType string, sinceEventID uint64) ([]*AdminServiceEvent, error) {
	evts, err := f.store.ListEventsByManagementTypeSince(managementType, sinceEventID)
	if err != nil {
		return nil, wrapStoreErr("list_events_by_management_type_since", err)
	}
	return evts, nil
}
