// Package bridge forwards normalized battery status to the embedding
// application as BATTERY_STATUS_EVENT messages.
package bridge

import (
	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battstatus/pkg/events"
	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

// Encoding decides how the level is written on the wire. config.Config
// satisfies it.
type Encoding interface {
	LegacyStringLevel() bool
}

var _ watcher.Listener = &Bridge{}

// Bridge is a watcher.Listener publishing to an event hub.
type Bridge struct {
	hub *events.EventHub
	enc Encoding
}

// New returns a bridge publishing to hub. A nil enc always uses integer
// levels.
func New(hub *events.EventHub, enc Encoding) *Bridge {
	return &Bridge{hub: hub, enc: enc}
}

func (b *Bridge) OnStatus(s status.BatteryStatus) error {
	if err := b.hub.Publish(events.BatteryStatus, Payload(s, b.enc)); err != nil {
		return pkgerrors.Wrapf(err, "failed to publish %s", events.BatteryStatus)
	}
	return nil
}

// Payload is the BATTERY_STATUS_EVENT body for s under enc.
func Payload(s status.BatteryStatus, enc Encoding) any {
	ev := events.BatteryStatusEvent{
		Level:      s.Level(),
		IsCharging: s.IsCharging(),
	}
	if enc != nil && enc.LegacyStringLevel() {
		return ev.Legacy()
	}
	return ev
}
