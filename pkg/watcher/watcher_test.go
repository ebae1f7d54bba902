package watcher

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/charlie0129/battstatus/pkg/status"
)

// fakeSource keeps every handler it was ever given, so tests can play a
// source that keeps delivering after unsubscription.
type fakeSource struct {
	mu         sync.Mutex
	handlers   []Handler
	subscribes int
	live       int
	rejectErr  error
	// failAfter fails Subscribe after the sticky payload was delivered.
	failAfter  error
	unsubErr   error
	unsubPanic bool
	sticky     *status.RawPayload
}

func (f *fakeSource) Subscribe(h Handler) (Subscription, error) {
	f.mu.Lock()
	if f.rejectErr != nil {
		f.mu.Unlock()
		return nil, f.rejectErr
	}
	f.subscribes++
	f.live++
	f.handlers = append(f.handlers, h)
	sticky := f.sticky
	f.mu.Unlock()

	if sticky != nil {
		h.HandleRawEvent(*sticky)
	}
	if f.failAfter != nil {
		f.mu.Lock()
		f.live--
		f.handlers = f.handlers[:len(f.handlers)-1]
		f.mu.Unlock()
		return nil, f.failAfter
	}
	return &fakeSubscription{f: f}, nil
}

func (f *fakeSource) emit(p status.RawPayload) {
	f.mu.Lock()
	handlers := append([]Handler(nil), f.handlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		h.HandleRawEvent(p)
	}
}

func (f *fakeSource) counts() (subscribes, live int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes, f.live
}

type fakeSubscription struct {
	f *fakeSource
}

func (s *fakeSubscription) Unsubscribe() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()

	if s.f.unsubPanic {
		panic("receiver not registered")
	}
	s.f.live--
	return s.f.unsubErr
}

type recorder struct {
	mu  sync.Mutex
	got []status.BatteryStatus
}

func (r *recorder) OnStatus(s status.BatteryStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
	return nil
}

func (r *recorder) statuses() []status.BatteryStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]status.BatteryStatus(nil), r.got...)
}

func newTestWatcher(src Source, opts ...Option) *StatusWatcher {
	logger, _ := test.NewNullLogger()
	return New(src, append([]Option{WithLogger(logger)}, opts...)...)
}

func TestStartIdempotent(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)

	if err := w.Start(); err != nil {
		t.Fatalf("first Start returned error: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("second Start returned error: %v", err)
	}

	subscribes, live := src.counts()
	if subscribes != 1 || live != 1 {
		t.Fatalf("expected exactly one live subscription, got subscribes=%d live=%d", subscribes, live)
	}
	if w.State() != Active {
		t.Fatalf("expected Active, got %v", w.State())
	}
}

func TestStopWhenNeverStarted(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if w.State() != Idle {
		t.Fatalf("expected Idle, got %v", w.State())
	}
	if subscribes, _ := src.counts(); subscribes != 0 {
		t.Fatalf("Stop should not touch the source, got %d subscribes", subscribes)
	}
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name    string
		payload status.RawPayload
		want    status.BatteryStatus
	}{
		{"full", status.NewRawPayload(status.Full, 87), status.NewBatteryStatus(87, true)},
		{"unknown", status.NewRawPayload(status.Unknown, -1), status.NewBatteryStatus(0, false)},
		{"absent level", status.RawPayload{Status: status.Charging}, status.NewBatteryStatus(0, true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			w := newTestWatcher(src)
			rec := &recorder{}
			w.AddListener(rec)

			if err := w.Start(); err != nil {
				t.Fatal(err)
			}
			src.emit(tt.payload)

			got := rec.statuses()
			if len(got) != 1 || got[0] != tt.want {
				t.Fatalf("got %v, want [%v]", got, tt.want)
			}
			if last, ok := w.Last(); !ok || last != tt.want {
				t.Fatalf("Last() = %v, %v", last, ok)
			}
		})
	}
}

func TestLateEventAfterStop(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	src.emit(status.NewRawPayload(status.Charging, 40))

	if got := rec.statuses(); len(got) != 0 {
		t.Fatalf("expected no status after stop, got %v", got)
	}
}

func TestStaleSubscriptionAfterRestart(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	// Delivered to both the released and the live handler.
	src.emit(status.NewRawPayload(status.Charging, 40))

	if got := rec.statuses(); len(got) != 1 {
		t.Fatalf("expected one status from the live subscription, got %v", got)
	}
}

func TestSubscriptionFailed(t *testing.T) {
	cause := errors.New("permission denied")
	src := &fakeSource{rejectErr: cause}
	w := newTestWatcher(src)

	err := w.Start()
	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("expected ErrSubscriptionFailed, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected the cause to be wrapped, got %v", err)
	}
	if w.State() != Idle {
		t.Fatalf("expected Idle after failed start, got %v", w.State())
	}

	src.mu.Lock()
	src.rejectErr = nil
	src.mu.Unlock()

	if err := w.Start(); err != nil {
		t.Fatalf("Start after rejection cleared returned error: %v", err)
	}
	if w.State() != Active {
		t.Fatalf("expected Active, got %v", w.State())
	}
}

func TestUnsubscribeFailedIsNotFatal(t *testing.T) {
	cause := errors.New("receiver not registered")
	src := &fakeSource{unsubErr: cause}
	logger, hook := test.NewNullLogger()
	w := New(src, WithLogger(logger))
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	err := w.Stop()
	if !errors.Is(err, ErrUnsubscribeFailed) {
		t.Fatalf("expected ErrUnsubscribeFailed, got %v", err)
	}
	if w.State() != Idle {
		t.Fatalf("expected Idle after failed unsubscribe, got %v", w.State())
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.WarnLevel {
		t.Fatalf("expected a warning to be logged, got %v", entry)
	}

	src.emit(status.NewRawPayload(status.Full, 100))
	if got := rec.statuses(); len(got) != 0 {
		t.Fatalf("expected no status after stop, got %v", got)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start after failed unsubscribe returned error: %v", err)
	}
	if subscribes, _ := src.counts(); subscribes != 2 {
		t.Fatalf("expected a fresh subscription, got %d subscribes", subscribes)
	}
}

func TestTeardown(t *testing.T) {
	src := &fakeSource{unsubPanic: true}
	w := newTestWatcher(src)

	// Idle teardown is a no-op.
	w.Teardown()

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Teardown()

	if w.State() != Idle {
		t.Fatalf("expected Idle after teardown, got %v", w.State())
	}
}

func TestStopReportsUnsubscribePanic(t *testing.T) {
	src := &fakeSource{unsubPanic: true}
	w := newTestWatcher(src)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); !errors.Is(err, ErrUnsubscribeFailed) {
		t.Fatalf("expected ErrUnsubscribeFailed, got %v", err)
	}
	if w.State() != Idle {
		t.Fatalf("expected Idle, got %v", w.State())
	}
}

func TestPublishIsolatesListeners(t *testing.T) {
	w := newTestWatcher(&fakeSource{})
	var order []string

	w.AddListener(ListenerFunc(func(status.BatteryStatus) error {
		order = append(order, "failing")
		return errors.New("bridge closed")
	}))
	w.AddListener(ListenerFunc(func(status.BatteryStatus) error {
		order = append(order, "panicking")
		panic("nil map")
	}))
	rec := &recorder{}
	w.AddListener(ListenerFunc(func(s status.BatteryStatus) error {
		order = append(order, "recording")
		return rec.OnStatus(s)
	}))

	w.Publish(status.NewBatteryStatus(10, false))

	if len(order) != 3 || order[0] != "failing" || order[1] != "panicking" || order[2] != "recording" {
		t.Fatalf("unexpected delivery order %v", order)
	}
	if got := rec.statuses(); len(got) != 1 {
		t.Fatalf("expected the last listener to receive the status, got %v", got)
	}
}

func TestListenerRemovesItselfDuringPublish(t *testing.T) {
	w := newTestWatcher(&fakeSource{})

	var selfCalls int
	var selfID ListenerID
	selfID = w.AddListener(ListenerFunc(func(status.BatteryStatus) error {
		selfCalls++
		if !w.RemoveListener(selfID) {
			t.Errorf("RemoveListener returned false")
		}
		return nil
	}))
	rec := &recorder{}
	w.AddListener(rec)

	w.Publish(status.NewBatteryStatus(10, false))
	w.Publish(status.NewBatteryStatus(11, false))

	if selfCalls != 1 {
		t.Fatalf("expected the removed listener to be called once, got %d", selfCalls)
	}
	if got := rec.statuses(); len(got) != 2 {
		t.Fatalf("expected the remaining listener to receive both statuses, got %v", got)
	}
	if w.Listeners() != 1 {
		t.Fatalf("expected 1 listener, got %d", w.Listeners())
	}
	if w.RemoveListener(selfID) {
		t.Fatalf("removing twice should report false")
	}
}

func TestDeduplication(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src, WithDeduplication(true))
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	src.emit(status.NewRawPayload(status.Charging, 50))
	src.emit(status.NewRawPayload(status.Charging, 50))
	// Full also normalizes to charging, so this is a duplicate too.
	src.emit(status.NewRawPayload(status.Full, 50))
	src.emit(status.NewRawPayload(status.Charging, 51))

	if got := rec.statuses(); len(got) != 2 {
		t.Fatalf("expected 2 distinct statuses, got %v", got)
	}

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	src.emit(status.NewRawPayload(status.Charging, 51))

	if got := rec.statuses(); len(got) != 3 {
		t.Fatalf("expected the first status after restart to be published, got %v", got)
	}

	w.SetDeduplication(false)
	src.emit(status.NewRawPayload(status.Charging, 51))
	if got := rec.statuses(); len(got) != 4 {
		t.Fatalf("expected duplicates to pass once deduplication is off, got %v", got)
	}
}

func TestStickyDeliveryDuringSubscribe(t *testing.T) {
	sticky := status.NewRawPayload(status.Discharging, 64)
	src := &fakeSource{sticky: &sticky}
	w := newTestWatcher(src)
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	got := rec.statuses()
	if len(got) != 1 || got[0] != status.NewBatteryStatus(64, false) {
		t.Fatalf("expected the initial state to be published, got %v", got)
	}
}

func TestStateHook(t *testing.T) {
	var transitions []string
	w := newTestWatcher(&fakeSource{}, WithStateHook(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	_ = w.Start()
	_ = w.Start()
	_ = w.Stop()
	_ = w.Stop()
	w.Teardown()

	if len(transitions) != 2 || transitions[0] != "idle->active" || transitions[1] != "active->idle" {
		t.Fatalf("unexpected transitions %v", transitions)
	}
}

func TestNoPublishAfterStopReturns(t *testing.T) {
	for i := 0; i < 20; i++ {
		src := &fakeSource{}
		w := newTestWatcher(src)

		var published atomic.Int64
		w.AddListener(ListenerFunc(func(status.BatteryStatus) error {
			published.Add(1)
			return nil
		}))

		if err := w.Start(); err != nil {
			t.Fatal(err)
		}

		done := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(level int) {
				defer wg.Done()
				for {
					select {
					case <-done:
						return
					default:
						src.emit(status.NewRawPayload(status.Charging, level))
					}
				}
			}(g * 10)
		}

		time.Sleep(2 * time.Millisecond)
		if err := w.Stop(); err != nil {
			t.Fatal(err)
		}
		afterStop := published.Load()

		time.Sleep(5 * time.Millisecond)
		close(done)
		wg.Wait()

		if got := published.Load(); got != afterStop {
			t.Fatalf("iteration %d: %d publishes happened after Stop returned", i, got-afterStop)
		}
	}
}

func TestConcurrentStartStop(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if (g+i)%2 == 0 {
					_ = w.Start()
				} else {
					_ = w.Stop()
				}
			}
		}(g)
	}
	wg.Wait()

	_, live := src.counts()
	switch w.State() {
	case Active:
		if live != 1 {
			t.Fatalf("Active with %d live subscriptions", live)
		}
	case Idle:
		if live != 0 {
			t.Fatalf("Idle with %d live subscriptions", live)
		}
	}
}

func TestConcurrentDeliveriesEndOnLast(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src, WithDeduplication(true))

	entered := make(chan struct{})
	unblock := make(chan struct{})
	rec := &recorder{}
	w.AddListener(ListenerFunc(func(s status.BatteryStatus) error {
		if s.Level() == 50 {
			close(entered)
			<-unblock
		}
		return rec.OnStatus(s)
	}))

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	first := make(chan struct{})
	go func() {
		src.emit(status.NewRawPayload(status.Charging, 50))
		close(first)
	}()
	<-entered

	second := make(chan struct{})
	go func() {
		src.emit(status.NewRawPayload(status.Charging, 51))
		close(second)
	}()

	select {
	case <-second:
		t.Fatalf("a delivery completed while another one was still publishing")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	<-first
	<-second

	// The host re-reports the current value.
	src.emit(status.NewRawPayload(status.Charging, 51))

	got := rec.statuses()
	last, ok := w.Last()
	if !ok || len(got) == 0 || got[len(got)-1] != last {
		t.Fatalf("listener ended on %v, Last() = %v", got, last)
	}
	if len(got) != 2 || got[0].Level() != 50 || got[1].Level() != 51 {
		t.Fatalf("expected [50 51], got %v", got)
	}
}

func TestStickyDeliveryDroppedWhenSubscribeFails(t *testing.T) {
	sticky := status.NewRawPayload(status.Charging, 30)
	src := &fakeSource{sticky: &sticky, failAfter: errors.New("receiver limit reached")}
	w := newTestWatcher(src)
	rec := &recorder{}
	w.AddListener(rec)

	if err := w.Start(); !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("expected ErrSubscriptionFailed, got %v", err)
	}
	if got := rec.statuses(); len(got) != 0 {
		t.Fatalf("a rejected subscription published %v", got)
	}
	if _, ok := w.Last(); ok {
		t.Fatalf("a rejected subscription recorded a last status")
	}

	src.mu.Lock()
	src.failAfter = nil
	src.mu.Unlock()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if got := rec.statuses(); len(got) != 1 || got[0] != status.NewBatteryStatus(30, true) {
		t.Fatalf("expected the sticky status once subscribed, got %v", got)
	}
}

func TestListenerReadsStateDuringStart(t *testing.T) {
	sticky := status.NewRawPayload(status.Full, 100)
	w := newTestWatcher(&fakeSource{sticky: &sticky})

	var snap Snapshot
	w.AddListener(ListenerFunc(func(status.BatteryStatus) error {
		snap = w.Snapshot()
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- w.Start() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Start deadlocked with a listener reading the snapshot")
	}
	if snap.State != Active || snap.Status == nil || snap.Status.Level() != 100 {
		t.Fatalf("unexpected snapshot from inside the listener %+v", snap)
	}
}

func TestCurrent(t *testing.T) {
	src := &fakeSource{}
	w := newTestWatcher(src)

	w.Current(func(_ status.BatteryStatus, ok bool) {
		if ok {
			t.Errorf("an idle watcher without statuses reported one")
		}
	})

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	src.emit(status.NewRawPayload(status.Discharging, 40))

	w.Current(func(s status.BatteryStatus, ok bool) {
		if !ok || s != status.NewBatteryStatus(40, false) {
			t.Errorf("Current() = %v, %v while active", s, ok)
		}
	})

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	w.Current(func(_ status.BatteryStatus, ok bool) {
		if ok {
			t.Errorf("a stopped watcher still offered its last status")
		}
	})
	if _, ok := w.Last(); !ok {
		t.Fatalf("Last() should keep the status of the most recent subscription")
	}
}
