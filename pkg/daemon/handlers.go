package daemon

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battstatus/pkg/bridge"
	"github.com/charlie0129/battstatus/pkg/config"
	"github.com/charlie0129/battstatus/pkg/events"
	"github.com/charlie0129/battstatus/pkg/source"
	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/version"
)

func abortWithError(c *gin.Context, code int, err error) {
	c.IndentedJSON(code, err.Error())
	_ = c.AbortWithError(code, err)
}

// startWatcher answers as soon as the subscription is in place. Statuses
// arrive later on /events.
func startWatcher(c *gin.Context) {
	if err := statusWatcher.Start(); err != nil {
		logrus.Errorf("start failed: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	logrus.Infof("battery status watcher started")
	c.IndentedJSON(http.StatusOK, "ok")
}

func stopWatcher(c *gin.Context) {
	msg := "ok"
	// An unsubscribe failure is already logged by the watcher and the
	// watcher is idle regardless, so stop still succeeds.
	if err := statusWatcher.Stop(); err != nil {
		msg = fmt.Sprintf("stopped, but %v", err)
	}

	logrus.Infof("battery status watcher stopped")
	c.IndentedJSON(http.StatusOK, msg)
}

func getStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, statusWatcher.Snapshot())
}

func ingestRaw(c *gin.Context) {
	if pushSource == nil {
		err := fmt.Errorf("raw events are only accepted with the %q source, current source is %q", config.SourcePush, conf.Source())
		abortWithError(c, http.StatusConflict, err)
		return
	}

	var p status.RawPayload
	if err := c.BindJSON(&p); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	n := pushSource.Emit(p)
	logrus.WithFields(logrus.Fields{
		"status":    p.Status.String(),
		"delivered": n,
	}).Debug("raw battery event ingested")

	c.IndentedJSON(http.StatusAccepted, n)
}

// streamEvents sends hub events as server-sent events. A comment is flushed
// right away so clients know the stream is subscribed. While the watcher is
// active, a new stream first gets the last published status, so it does not
// wait for the next change. The hub subscription is taken together with that
// status, so a concurrent publish reaches the stream exactly once.
func streamEvents(c *gin.Context) {
	var (
		ch     chan events.Event
		last   status.BatteryStatus
		replay bool
	)
	statusWatcher.Current(func(s status.BatteryStatus, ok bool) {
		ch = sseHub.Subscribe()
		last, replay = s, ok
	})
	defer sseHub.Unsubscribe(ch)

	log := logrus.WithField("stream", uuid.NewString())
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	// Clients treat the stream as open once the first message is read.
	if _, err := io.WriteString(c.Writer, ": connected\n\n"); err != nil {
		log.Errorf("failed to greet event stream: %v", err)
		return
	}
	c.Writer.Flush()

	if replay {
		err := sse.Encode(c.Writer, sse.Event{
			Id:    uuid.NewString(),
			Event: events.BatteryStatus,
			Data:  bridge.Payload(last, conf),
		})
		if err != nil {
			log.Errorf("failed to send last status: %v", err)
			return
		}
		c.Writer.Flush()
	}

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.Render(-1, sse.Event{
				Id:    uuid.NewString(),
				Event: ev.Name,
				Data:  string(ev.Data),
			})
			return true
		}
	})
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

// setConfig applies the keys present in the body, saves the file and applies
// what can change live. A source change takes effect after a restart.
func setConfig(c *gin.Context) {
	var fc config.RawFileConfig
	if err := c.BindJSON(&fc); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := applyConfig(conf, &fc); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := conf.Save(); err != nil {
		logrus.Errorf("failed to save config: %v", err)
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}

	statusWatcher.SetDeduplication(conf.Deduplicate())
	logrus.WithFields(conf.LogrusFields()).Info("config updated")

	getConfig(c)
}

// applyConfig validates fc before setting anything, so a rejected update
// leaves c untouched.
func applyConfig(c config.Config, fc *config.RawFileConfig) error {
	// An empty schedule means the default.
	if fc.SampleSchedule != nil && *fc.SampleSchedule != "" {
		if err := source.ValidateSchedule(*fc.SampleSchedule); err != nil {
			return err
		}
	}
	if fc.Source != nil && *fc.Source != c.Source() {
		if err := c.SetSource(*fc.Source); err != nil {
			return err
		}
		logrus.Warnf("source changed to %q, restart the daemon to use it", *fc.Source)
	}
	if fc.SampleSchedule != nil {
		c.SetSampleSchedule(*fc.SampleSchedule)
	}
	if fc.Deduplicate != nil {
		c.SetDeduplicate(*fc.Deduplicate)
	}
	if fc.LegacyStringLevel != nil {
		c.SetLegacyStringLevel(*fc.LegacyStringLevel)
	}
	if fc.AllowNonRootAccess != nil {
		c.SetAllowNonRootAccess(*fc.AllowNonRootAccess)
	}
	if fc.AutoStart != nil {
		c.SetAutoStart(*fc.AutoStart)
	}
	return nil
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}
