package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battstatus/pkg/status"
)

func NewEmitCommand() *cobra.Command {
	var (
		rawStatus string
		level     int
		scale     int
	)

	cmd := &cobra.Command{
		Use:     "emit",
		GroupID: gAdvanced,
		Short:   "Inject a raw battery change into the push source",
		Long: `Inject a raw battery change into the push source.

Only works when the daemon runs with "source": "push". The status is a name
(unknown, charging, discharging, not-charging, full) or its numeric code.
Leave out --level to send a change without a level.`,
		Example: `  battstatus emit --status charging --level 42
  battstatus emit --status 5 --level 255 --scale 255`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := status.ParseStatusCode(rawStatus)
			if err != nil {
				return err
			}

			p := status.RawPayload{Status: code, Scale: scale}
			if cmd.Flags().Changed("level") {
				p.Level = &level
			}

			n, err := apiClient.Emit(p)
			if err != nil {
				return fmt.Errorf("failed to emit: %w", err)
			}
			if n == 0 {
				logrus.Warn("nobody is subscribed, is the watcher started?")
				return nil
			}
			logrus.Infof("delivered to %d subscription(s)", n)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&rawStatus, "status", "unknown", "raw battery status")
	f.IntVar(&level, "level", 0, "raw battery level")
	f.IntVar(&scale, "scale", 0, "scale the level is measured against (default 100)")

	return cmd
}
