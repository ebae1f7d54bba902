package watcher

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battstatus/pkg/metrics"
	"github.com/charlie0129/battstatus/pkg/status"
)

// State is the lifecycle state of a StatusWatcher.
type State int

const (
	// Idle means no subscription is live.
	Idle State = iota
	// Active means the watcher is subscribed and publishing.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "active":
		*s = Active
	default:
		return fmt.Errorf("unknown watcher state %q", string(b))
	}
	return nil
}

// StateHook is called after every lifecycle transition.
type StateHook func(from, to State)

// Option configures a StatusWatcher.
type Option func(w *StatusWatcher)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(w *StatusWatcher) { w.log = l }
}

// WithDeduplication suppresses a status equal to the previously published one.
func WithDeduplication(enabled bool) Option {
	return func(w *StatusWatcher) { w.dedup.Store(enabled) }
}

// WithStateHook registers a hook called after every transition.
func WithStateHook(h StateHook) Option {
	return func(w *StatusWatcher) { w.hook = h }
}

// StatusWatcher owns at most one subscription to a Source, normalizes the
// raw payloads it delivers and publishes them to registered listeners.
//
// Start, Stop and Teardown are serialized. Deliveries may arrive on any
// goroutine and run under a read lock that release takes exclusively, so no
// publish from a subscription happens after Stop returns. Deliveries are
// published one at a time, so listeners always end on the status Last
// reports.
type StatusWatcher struct {
	source Source
	log    logrus.FieldLogger
	hook   StateHook
	dedup  atomic.Bool

	// mu serializes lifecycle transitions and guards sub and epoch. state
	// is only written with mu held.
	mu    sync.Mutex
	state atomic.Int32
	sub   Subscription
	epoch uint64

	// deliverMu guards live. Deliveries hold it shared.
	deliverMu sync.RWMutex
	live      uint64

	// pubMu orders deliveries from compare to publish. While subscribing is
	// set, deliveries are queued in pending instead of published.
	pubMu       sync.Mutex
	subscribing bool
	pending     []status.RawPayload

	lastMu  sync.Mutex
	last    status.BatteryStatus
	hasLast bool

	listeners registry
}

// New returns an Idle watcher for source.
func New(source Source, opts ...Option) *StatusWatcher {
	if source == nil {
		panic("source cannot be nil")
	}

	w := &StatusWatcher{
		source: source,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns the current lifecycle state.
func (w *StatusWatcher) State() State {
	return State(w.state.Load())
}

// SetDeduplication changes duplicate suppression at runtime.
func (w *StatusWatcher) SetDeduplication(enabled bool) {
	w.dedup.Store(enabled)
}

// Last returns the last published status of the current or most recent
// subscription.
func (w *StatusWatcher) Last() (status.BatteryStatus, bool) {
	w.lastMu.Lock()
	defer w.lastMu.Unlock()

	return w.last, w.hasLast
}

// AddListener registers l. Listeners are called in registration order.
func (w *StatusWatcher) AddListener(l Listener) ListenerID {
	id := w.listeners.add(l)
	metrics.Listeners.Set(float64(w.listeners.len()))
	return id
}

// RemoveListener unregisters a listener. It is safe to call from inside
// OnStatus.
func (w *StatusWatcher) RemoveListener(id ListenerID) bool {
	ok := w.listeners.remove(id)
	metrics.Listeners.Set(float64(w.listeners.len()))
	return ok
}

// Listeners returns the number of registered listeners.
func (w *StatusWatcher) Listeners() int {
	return w.listeners.len()
}

// Start subscribes to the source. Calling Start while Active does nothing.
// A rejected subscription returns an error matching ErrSubscriptionFailed
// and leaves the watcher Idle.
func (w *StatusWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.State() == Active {
		w.log.Debug("watcher already active, not subscribing again")
		return nil
	}

	w.epoch++
	epoch := w.epoch

	w.lastMu.Lock()
	w.hasLast = false
	w.lastMu.Unlock()

	// Arm the epoch before subscribing: the source may deliver the current
	// state from inside Subscribe. Such deliveries are held back until the
	// subscription is accepted.
	w.pubMu.Lock()
	w.subscribing = true
	w.pending = nil
	w.pubMu.Unlock()

	w.deliverMu.Lock()
	w.live = epoch
	w.deliverMu.Unlock()

	sub, err := w.source.Subscribe(&receiver{w: w, epoch: epoch})
	if err == nil && sub == nil {
		err = fmt.Errorf("source returned no subscription")
	}
	if err != nil {
		w.deliverMu.Lock()
		w.live = 0
		w.deliverMu.Unlock()

		w.pubMu.Lock()
		w.subscribing = false
		w.pending = nil
		w.pubMu.Unlock()

		metrics.SubscribeFailures.Inc()
		w.log.WithError(err).Error("failed to subscribe to battery source")
		return fmt.Errorf("%w: %w", ErrSubscriptionFailed, err)
	}

	w.sub = sub
	w.transition(Active)
	metrics.SubscriptionActive.Set(1)
	w.log.WithField("epoch", epoch).Info("subscribed to battery source")

	w.flushPending(epoch)

	return nil
}

// flushPending publishes what the source delivered during Subscribe. Holding
// pubMu keeps later deliveries behind the queued ones.
func (w *StatusWatcher) flushPending(epoch uint64) {
	w.deliverMu.RLock()
	defer w.deliverMu.RUnlock()
	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	pending := w.pending
	w.pending = nil
	w.subscribing = false

	if epoch != w.live {
		return
	}
	for _, p := range pending {
		w.publishRaw(p)
	}
}

// Stop releases the subscription. Calling Stop while Idle does nothing.
// If the source fails to unsubscribe, the watcher is still Idle and the
// returned error matches ErrUnsubscribeFailed.
func (w *StatusWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.release()
}

// Teardown is Stop for shutdown paths: it never returns an error and
// always leaves the watcher Idle.
func (w *StatusWatcher) Teardown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.release(); err != nil {
		w.log.WithError(err).Warn("ignoring unsubscribe failure during teardown")
	}
}

func (w *StatusWatcher) release() error {
	if w.State() == Idle {
		return nil
	}

	// Waits for in-flight deliveries. Anything arriving afterwards sees a
	// stale epoch.
	w.deliverMu.Lock()
	w.live = 0
	w.deliverMu.Unlock()

	sub := w.sub
	w.sub = nil
	w.transition(Idle)
	metrics.SubscriptionActive.Set(0)

	if err := unsubscribe(sub); err != nil {
		metrics.UnsubscribeFailures.Inc()
		w.log.WithError(err).WithField("epoch", w.epoch).Warn("failed to unsubscribe from battery source")
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	w.log.WithField("epoch", w.epoch).Info("unsubscribed from battery source")
	return nil
}

func unsubscribe(sub Subscription) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsubscribe panicked: %v", r)
		}
	}()
	return sub.Unsubscribe()
}

// transition must be called with mu held.
func (w *StatusWatcher) transition(to State) {
	from := w.State()
	w.state.Store(int32(to))
	if w.hook != nil && from != to {
		w.hook(from, to)
	}
}

// OnRawEvent normalizes p. Anomalies are logged and counted, never returned.
func (w *StatusWatcher) OnRawEvent(p status.RawPayload) status.BatteryStatus {
	s, anomaly := status.Normalize(p)
	if anomaly != status.None {
		metrics.NormalizationAnomalies.WithLabelValues(anomaly.String()).Inc()
		w.log.WithFields(logrus.Fields{
			"status":  p.Status.String(),
			"anomaly": anomaly.String(),
		}).Debug("defaulted incomplete battery payload")
	}
	return s
}

func (w *StatusWatcher) deliver(epoch uint64, p status.RawPayload) {
	w.deliverMu.RLock()
	defer w.deliverMu.RUnlock()

	if epoch != w.live {
		metrics.RawEventsTotal.WithLabelValues(metrics.OutcomeStale).Inc()
		w.log.WithField("epoch", epoch).Debug("discarding event from released subscription")
		return
	}

	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	if w.subscribing {
		w.pending = append(w.pending, p)
		return
	}
	w.publishRaw(p)
}

// publishRaw must be called with pubMu held.
func (w *StatusWatcher) publishRaw(p status.RawPayload) {
	s := w.OnRawEvent(p)

	w.lastMu.Lock()
	duplicate := w.dedup.Load() && w.hasLast && w.last == s
	w.last, w.hasLast = s, true
	w.lastMu.Unlock()

	if duplicate {
		metrics.RawEventsTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return
	}

	metrics.RawEventsTotal.WithLabelValues(metrics.OutcomePublished).Inc()
	w.Publish(s)
}

// Publish delivers s to every listener, in registration order, on the
// calling goroutine. A failing or panicking listener does not keep the
// others from being called.
func (w *StatusWatcher) Publish(s status.BatteryStatus) {
	metrics.CurrentLevel.Set(float64(s.Level()))
	metrics.CurrentCharging.Set(metrics.BoolToFloat(s.IsCharging()))

	for _, e := range w.listeners.snapshot() {
		if err := callListener(e.l, s); err != nil {
			metrics.ListenerFailures.Inc()
			w.log.WithError(err).WithField("listener", e.id).Warn("listener failed to handle battery status")
		}
	}
}

func callListener(l Listener, s status.BatteryStatus) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return l.OnStatus(s)
}

// Current calls fn with the last status while no delivery can publish. ok is
// false unless a subscription is live and has published. fn must not call
// back into the watcher's lifecycle methods.
func (w *StatusWatcher) Current(fn func(s status.BatteryStatus, ok bool)) {
	w.deliverMu.RLock()
	defer w.deliverMu.RUnlock()
	w.pubMu.Lock()
	defer w.pubMu.Unlock()

	last, ok := w.Last()
	fn(last, ok && w.live != 0)
}

// Snapshot is a point-in-time view of a watcher.
type Snapshot struct {
	State     State                 `json:"state"`
	Listeners int                   `json:"listeners"`
	Status    *status.BatteryStatus `json:"status,omitempty"`
}

// Snapshot returns the current state, listener count and last status.
func (w *StatusWatcher) Snapshot() Snapshot {
	snap := Snapshot{
		State:     w.State(),
		Listeners: w.Listeners(),
	}
	if last, ok := w.Last(); ok {
		snap.Status = &last
	}
	return snap
}
