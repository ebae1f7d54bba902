package source

import (
	"sync"

	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

var _ watcher.Source = &Push{}

// Push is a source fed by the host process: whoever owns it calls Emit for
// every battery change notification it receives.
type Push struct {
	mu        sync.RWMutex
	nextID    uint64
	handlers  map[uint64]watcher.Handler
	rejectErr error
	last      *status.RawPayload
	sticky    bool
}

// NewPush returns an empty push source. When sticky is true, a new
// subscriber immediately receives the last emitted payload, the way OS
// sticky broadcasts behave.
func NewPush(sticky bool) *Push {
	return &Push{
		handlers: make(map[uint64]watcher.Handler),
		sticky:   sticky,
	}
}

// Reject makes subsequent Subscribe calls fail with err. A nil err accepts
// subscriptions again.
func (p *Push) Reject(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rejectErr = err
}

func (p *Push) Subscribe(h watcher.Handler) (watcher.Subscription, error) {
	p.mu.Lock()
	if p.rejectErr != nil {
		err := p.rejectErr
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	id := p.nextID
	p.handlers[id] = h
	var last *status.RawPayload
	if p.sticky && p.last != nil {
		cp := *p.last
		last = &cp
	}
	p.mu.Unlock()

	if last != nil {
		h.HandleRawEvent(*last)
	}

	return &pushSubscription{src: p, id: id}, nil
}

// Emit delivers payload to every live handler on the calling goroutine and
// returns how many handlers were called.
func (p *Push) Emit(payload status.RawPayload) int {
	p.mu.Lock()
	cp := payload
	p.last = &cp
	handlers := make([]watcher.Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h.HandleRawEvent(payload)
	}
	return len(handlers)
}

// Subscribers returns the number of live subscriptions.
func (p *Push) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.handlers)
}

type pushSubscription struct {
	src *Push
	id  uint64
}

func (s *pushSubscription) Unsubscribe() error {
	s.src.mu.Lock()
	defer s.src.mu.Unlock()

	if _, ok := s.src.handlers[s.id]; !ok {
		return ErrNotSubscribed
	}
	delete(s.src.handlers, s.id)
	return nil
}
