package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battstatus/pkg/bridge"
	"github.com/charlie0129/battstatus/pkg/config"
	"github.com/charlie0129/battstatus/pkg/events"
	"github.com/charlie0129/battstatus/pkg/source"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

var (
	conf          config.Config
	statusWatcher *watcher.StatusWatcher
	// pushSource is nil unless the configured source is "push".
	pushSource *source.Push
	sseHub     *events.EventHub
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.POST("/start", startWatcher)
	router.POST("/stop", stopWatcher)
	router.GET("/status", getStatus)
	router.POST("/raw", ingestRaw)
	router.GET("/events", streamEvents)
	router.GET("/config", getConfig)
	router.PUT("/config", setConfig)
	router.GET("/version", getVersion)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// newSource builds the configured source. The returned *source.Push is
// non-nil only for the push source.
func newSource(c config.Config) (watcher.Source, *source.Push, error) {
	switch c.Source() {
	case config.SourcePush:
		p := source.NewPush(true)
		return p, p, nil
	case config.SourceSystem:
		return source.NewSystem(c.SampleSchedule(), logrus.WithField("component", "system-source")), nil, nil
	default:
		return nil, nil, pkgerrors.Errorf("unknown source %q", c.Source())
	}
}

// newWatcher wires a watcher to the hub: statuses go out through the
// bridge, lifecycle transitions as watcher.state events.
func newWatcher(src watcher.Source, c config.Config, hub *events.EventHub) *watcher.StatusWatcher {
	w := watcher.New(src,
		watcher.WithLogger(logrus.WithField("component", "watcher")),
		watcher.WithDeduplication(c.Deduplicate()),
		watcher.WithStateHook(func(from, to watcher.State) {
			err := hub.Publish(events.WatcherState, events.NewWatcherStateEvent(from.String(), to.String()))
			if err != nil {
				logrus.Errorf("failed to publish %s: %v", events.WatcherState, err)
			}
		}),
	)
	w.AddListener(bridge.New(hub, c))
	return w
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	var err error
	conf, err = config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	src, push, err := newSource(conf)
	if err != nil {
		return err
	}
	pushSource = push
	sseHub = events.NewEventHub()
	statusWatcher = newWatcher(src, conf, sseHub)

	router := setupRoutes()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			err := conf.Load()
			if err != nil {
				logrus.Errorf("failed to reload config: %v", err)
				continue
			}
			statusWatcher.SetDeduplication(conf.Deduplicate())
			logrus.WithFields(conf.LogrusFields()).Infof("config reloaded, source changes take effect after a restart")
		}
	}()

	srv := &http.Server{
		Handler: router,
	}

	// A socket left behind by an unclean exit makes Listen fail.
	if _, err := os.Stat(unixSocketPath); err == nil {
		logrus.Warnf("removing stale socket %s", unixSocketPath)
		if err := os.Remove(unixSocketPath); err != nil {
			return pkgerrors.Wrapf(err, "failed to remove stale socket %s", unixSocketPath)
		}
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	if conf.AutoStart() {
		logrus.Info("auto-starting battery status watcher")
		if err := statusWatcher.Start(); err != nil {
			logrus.Errorf("failed to auto-start watcher: %v", err)
		}
	}

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("shutting down http server")
	// Event streams only end when their hub channel closes.
	sseHub.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("tearing down battery status watcher")
	statusWatcher.Teardown()

	logrus.Info("exiting")
	return nil
}
