package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battstatus/pkg/config"
	"github.com/charlie0129/battstatus/pkg/events"
	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

type statusJSON struct {
	State         watcher.State         `json:"state"`
	Listeners     int                   `json:"listeners"`
	Battery       *status.BatteryStatus `json:"battery"`
	Configuration *config.RawFileConfig `json:"configuration"`
}

func NewStatusCommand() *cobra.Command {
	asJSON := false

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current status of the watcher",
		Long:    `Get the watcher state, the last battery status and the daemon configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap, err := apiClient.GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get watcher status: %w", err)
			}
			raw, err := apiClient.GetConfig()
			if err != nil {
				return fmt.Errorf("failed to get config: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statusJSON{
					State:         snap.State,
					Listeners:     snap.Listeners,
					Battery:       snap.Status,
					Configuration: raw,
				})
			}

			conf := config.NewFileFromConfig(raw, "")

			cmd.Println(bold("Watcher:"))
			cmd.Printf("  Active: %s\n", bool2Text(snap.State == watcher.Active))
			cmd.Printf("  Listeners: %s\n", bold("%d", snap.Listeners))
			cmd.Println()

			cmd.Println(bold("Battery status:"))
			if snap.Status == nil {
				cmd.Println("  No battery change received yet.")
			} else {
				cmd.Printf("  Level: %s\n", bold("%d%%", snap.Status.Level()))
				cmd.Printf("  Charging: %s\n", bool2Text(snap.Status.IsCharging()))
			}
			cmd.Println()

			cmd.Println(bold("Configuration:"))
			cmd.Printf("  Source: %s\n", bold("%s", conf.Source()))
			if conf.Source() == config.SourceSystem {
				cmd.Printf("  Sample schedule: %s\n", bold("%s", conf.SampleSchedule()))
			}
			cmd.Printf("  Drop repeated statuses: %s\n", bool2Text(conf.Deduplicate()))
			cmd.Printf("  Send level as a string: %s\n", bool2Text(conf.LegacyStringLevel()))
			cmd.Printf("  Start with the daemon: %s\n", bool2Text(conf.AutoStart()))
			cmd.Printf("  Allow non-root users to access the daemon: %s\n", bool2Text(conf.AllowNonRootAccess()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")

	return cmd
}

func NewWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		GroupID: gBasic,
		Short:   "Print events from the daemon as they happen",
		Long: `Print events from the daemon as they happen.

Runs until interrupted or until the daemon shuts down. The watcher is not
started for you, use 'battstatus start'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := apiClient.SubscribeEvents(ctx)
			if err != nil {
				return fmt.Errorf("failed to watch events: %w", err)
			}

			for ev := range ch {
				cmd.Println(formatEvent(ev))
			}
			return nil
		},
	}
}

func formatEvent(ev events.Event) string {
	ts := time.Now().Format(time.TimeOnly)

	switch ev.Name {
	case events.BatteryStatus:
		// json.Number also accepts the legacy string level.
		var p struct {
			Level      json.Number `json:"level"`
			IsCharging bool        `json:"isCharging"`
		}
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			break
		}
		state := color.RedString("discharging")
		if p.IsCharging {
			state = color.GreenString("charging")
		}
		return fmt.Sprintf("%s %s %s", ts, bold("%s%%", p.Level.String()), state)
	case events.WatcherState:
		st, err := events.DecodeAs[events.WatcherStateEvent](ev)
		if err != nil {
			break
		}
		return fmt.Sprintf("%s watcher %s -> %s", ts, st.From, bold("%s", st.To))
	}

	return fmt.Sprintf("%s %s %s", ts, ev.Name, string(ev.Data))
}
