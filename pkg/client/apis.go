package client

import (
	"encoding/json"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/battstatus/pkg/config"
	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

// Start subscribes the daemon's watcher to its source.
func (c *Client) Start() (string, error) {
	ret, err := c.Post("/start", "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to start watcher")
	}
	return parseStringResponse(ret)
}

// Stop releases the daemon's subscription. The returned message mentions
// an unsubscribe failure if there was one.
func (c *Client) Stop() (string, error) {
	ret, err := c.Post("/stop", "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to stop watcher")
	}
	return parseStringResponse(ret)
}

func (c *Client) GetStatus() (*watcher.Snapshot, error) {
	ret, err := c.Get("/status")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get watcher status")
	}

	var snap watcher.Snapshot
	if err := json.Unmarshal([]byte(ret), &snap); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal watcher status")
	}
	return &snap, nil
}

// Emit injects a raw payload into a daemon running the push source. It
// returns how many subscriptions received it.
func (c *Client) Emit(p status.RawPayload) (int, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}

	ret, err := c.Post("/raw", string(payload))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to emit raw event")
	}

	n, err := strconv.Atoi(strings.TrimSpace(ret))
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to parse delivered count")
	}
	return n, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

// SetConfig updates the keys set in update and returns the resulting config.
func (c *Client) SetConfig(update *config.RawFileConfig) (*config.RawFileConfig, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}

	ret, err := c.Put("/config", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}
	return &conf, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return parseStringResponse(ret)
}

func parseStringResponse(resp string) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(resp), &s); err != nil {
		return "", pkgerrors.Errorf("unexpected response: %s", resp)
	}
	return s, nil
}
