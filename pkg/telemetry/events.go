package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionRetry     = "execution.retry"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeWorkspaceChanged   = "workspace.changed"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{EventLevelInfo: 0, EventLevelWarning: 1, EventLevelError: 2}

var (
	ErrPublisherStopped = errors.New("event publisher stopped")
	ErrEventDropped     = errors.New("event buffer full, event dropped")
)

// Event is something that happened while driving the tool.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Operation   string         `json:"operation,omitempty"`
	WorkDir     string         `json:"workdir,omitempty"`
	Message     string         `json:"message"`
	Level       string         `json:"level"`
	Data        map[string]any `json:"data,omitempty"`
}

type EventSubscriber func(Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. In sync mode delivery
// happens on the publishing goroutine, in order. In async mode events are
// queued and a single goroutine delivers them; Publish never blocks and
// drops the event when the queue is full.
type EventPublisher struct {
	config EventsConfig

	mu   sync.RWMutex
	subs []subscription

	queue    chan Event
	stopping chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewEventPublisher starts the delivery goroutine for async publishers.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	if ep.config.MaxBatchSize < 1 {
		ep.config.MaxBatchSize = 1
	}
	ep.stopping = make(chan struct{})
	ep.stopped = make(chan struct{})

	if !cfg.EnableAsync {
		close(ep.stopped)
		return ep, nil
	}
	ep.queue = make(chan Event, cfg.BufferSize)
	go ep.run()
	return ep, nil
}

func (ep *EventPublisher) active() bool {
	return ep != nil && ep.config.Enabled
}

// Subscribe registers fn. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

// Publish stamps the event with an ID and time when missing and hands it
// to the subscribers.
func (ep *EventPublisher) Publish(e Event) error {
	if !ep.active() {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if ep.queue == nil {
		ep.deliver(e)
		return nil
	}
	select {
	case <-ep.stopping:
		return ErrPublisherStopped
	default:
	}
	select {
	case ep.queue <- e:
		return nil
	default:
		return ErrEventDropped
	}
}

func (ep *EventPublisher) run() {
	defer close(ep.stopped)

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliver(e)
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-ep.queue:
			batch = append(batch, e)
		fill:
			for len(batch) < cap(batch) {
				select {
				case e := <-ep.queue:
					batch = append(batch, e)
				default:
					break fill
				}
			}
			flush()
		case <-ep.stopping:
			for len(ep.queue) > 0 {
				batch = append(batch, <-ep.queue)
			}
			flush()
			return
		}
	}
}

func (ep *EventPublisher) deliver(e Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(e) {
			s.fn(e)
		}
	}
}

// Shutdown stops accepting events and waits until queued ones are
// delivered or ctx ends.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.active() {
		return nil
	}
	ep.stopOnce.Do(func() { close(ep.stopping) })
	select {
	case <-ep.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

func (ep *EventPublisher) PublishExecutionStarted(executionID, operation, workDir string, args []string) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionStarted,
		ExecutionID: executionID,
		Operation:   operation,
		WorkDir:     workDir,
		Level:       EventLevelInfo,
		Message:     fmt.Sprintf("%s started in %s", operation, workDir),
		Data:        map[string]any{"args": args},
	})
}

// PublishExecutionRetry is sent before the backoff sleep of retry number
// attempt.
func (ep *EventPublisher) PublishExecutionRetry(executionID, operation string, attempt int, delay time.Duration, class string) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionRetry,
		ExecutionID: executionID,
		Operation:   operation,
		Level:       EventLevelWarning,
		Message:     fmt.Sprintf("%s hit a %s error, retry %d in %s", operation, class, attempt, delay),
		Data:        map[string]any{"attempt": attempt, "delay": delay.Seconds(), "class": class},
	})
}

func (ep *EventPublisher) PublishExecutionCompleted(executionID, operation string, exitCode, attempts int, d time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionCompleted,
		ExecutionID: executionID,
		Operation:   operation,
		Level:       EventLevelInfo,
		Message:     fmt.Sprintf("%s completed with exit code %d", operation, exitCode),
		Data:        map[string]any{"exit_code": exitCode, "attempts": attempts, "duration": d.Seconds()},
	})
}

func (ep *EventPublisher) PublishExecutionFailed(executionID, operation, class, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeExecutionFailed,
		ExecutionID: executionID,
		Operation:   operation,
		Level:       EventLevelError,
		Message:     fmt.Sprintf("%s failed: %s", operation, reason),
		Data:        map[string]any{"class": class, "reason": reason},
	})
}

func (ep *EventPublisher) PublishPolicyViolation(address, policy, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Level:   EventLevelError,
		Message: fmt.Sprintf("%s violates %s: %s", address, policy, reason),
		Data:    map[string]any{"address": address, "policy": policy, "reason": reason},
	})
}

func (ep *EventPublisher) PublishWorkspaceChanged(workDir, file string) error {
	return ep.Publish(Event{
		Type:    EventTypeWorkspaceChanged,
		WorkDir: workDir,
		Level:   EventLevelInfo,
		Message: file + " changed",
		Data:    map[string]any{"file": file},
	})
}

// FilterByLevel passes events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(e Event) bool { return levelRank[e.Level] >= floor }
}

func FilterByType(types ...string) EventFilter {
	want := make(map[string]struct{}, len(types))
	for _, t := range types {
		want[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := want[e.Type]
		return ok
	}
}

func FilterByExecutionID(id string) EventFilter {
	return func(e Event) bool { return e.ExecutionID == id }
}
