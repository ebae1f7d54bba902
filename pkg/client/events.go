package client

import (
	"context"
	"sync"

	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	backoff "gopkg.in/cenkalti/backoff.v1"

	"github.com/charlie0129/battstatus/pkg/events"
)

// SubscribeEvents opens the daemon's event stream and returns once the
// first message, the daemon's greeting, was read. The channel is closed when ctx is done or the daemon
// closes the stream; there is no reconnect.
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan events.Event, error) {
	sc := sse.NewClient("http://unix/events")
	sc.Connection = c.httpClient
	sc.ReconnectStrategy = &backoff.StopBackOff{}

	connected := make(chan struct{})
	var once sync.Once
	sc.OnConnect(func(*sse.Client) {
		once.Do(func() { close(connected) })
	})

	ch := make(chan events.Event)
	errc := make(chan error, 1)
	go func() {
		defer close(ch)

		errc <- sc.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if len(msg.Data) == 0 {
				return
			}
			ev := events.Event{
				Name: string(msg.Event),
				Data: append([]byte(nil), msg.Data...),
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
	}()

	select {
	case <-connected:
		return ch, nil
	case err := <-errc:
		select {
		case <-connected:
			// Connected and already ended, ch is closed after its events.
			return ch, nil
		default:
		}
		if err == nil {
			err = ErrStreamClosed
		}
		logrus.Debugf("event stream not opened: %v", err)
		return nil, err
	}
}
