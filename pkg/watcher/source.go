package watcher

import "github.com/charlie0129/battstatus/pkg/status"

// Handler receives raw battery change notifications. Sources may call it
// from any goroutine.
type Handler interface {
	HandleRawEvent(p status.RawPayload)
}

// Subscription is the handle a Source returns for a registered Handler.
type Subscription interface {
	// Unsubscribe releases the registration. It may be called once.
	Unsubscribe() error
}

// Source is a push-based producer of battery change notifications, e.g. an
// OS broadcast. A source may deliver an initial notification from inside
// Subscribe.
type Source interface {
	Subscribe(h Handler) (Subscription, error)
}

// receiver is the Handler the watcher registers. It carries the epoch of
// the subscription it belongs to, so late deliveries from a released
// subscription can be told apart from live ones.
type receiver struct {
	w     *StatusWatcher
	epoch uint64
}

func (r *receiver) HandleRawEvent(p status.RawPayload) {
	r.w.deliver(r.epoch, p)
}
