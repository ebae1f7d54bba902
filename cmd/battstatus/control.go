package main

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battstatus/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("%s %s\n", version.Version, version.GitCommit)
		},
	}
}

func NewStartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Short:   "Start watching battery changes",
		GroupID: gBasic,
		Long: `Start watching battery changes.

Starting an already started watcher does nothing. Use 'battstatus watch' to see
the events.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Start()
			if err != nil {
				return fmt.Errorf("failed to start watcher: %w", err)
			}
			if ret != "ok" {
				logrus.Infof("daemon responded: %s", ret)
			}
			logrus.Info("successfully started watcher")
			return nil
		},
	}
}

func NewStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stop",
		Short:   "Stop watching battery changes",
		GroupID: gBasic,
		Long: `Stop watching battery changes.

The watcher is always stopped afterwards. If the source failed to unsubscribe,
the failure is printed as a warning.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			ret, err := apiClient.Stop()
			if err != nil {
				return fmt.Errorf("failed to stop watcher: %w", err)
			}
			if strings.HasPrefix(ret, "stopped, but") {
				logrus.Warnf("daemon responded: %s", ret)
			}
			logrus.Info("successfully stopped watcher")
			return nil
		},
	}
}
