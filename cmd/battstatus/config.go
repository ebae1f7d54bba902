package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/battstatus/pkg/config"
	"github.com/charlie0129/battstatus/pkg/utils/ptr"
)

// configSetters maps config keys to how a command line value is applied.
var configSetters = map[string]func(fc *config.RawFileConfig, v string) error{
	"source": func(fc *config.RawFileConfig, v string) error {
		fc.Source = ptr.To(v)
		return nil
	},
	"sampleSchedule": func(fc *config.RawFileConfig, v string) error {
		fc.SampleSchedule = ptr.To(v)
		return nil
	},
	"deduplicate":        boolSetter(func(fc *config.RawFileConfig, b bool) { fc.Deduplicate = &b }),
	"legacyStringLevel":  boolSetter(func(fc *config.RawFileConfig, b bool) { fc.LegacyStringLevel = &b }),
	"allowNonRootAccess": boolSetter(func(fc *config.RawFileConfig, b bool) { fc.AllowNonRootAccess = &b }),
	"autoStart":          boolSetter(func(fc *config.RawFileConfig, b bool) { fc.AutoStart = &b }),
}

func boolSetter(set func(fc *config.RawFileConfig, b bool)) func(fc *config.RawFileConfig, v string) error {
	return func(fc *config.RawFileConfig, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", v)
		}
		set(fc, b)
		return nil
	}
}

func configKeys() []string {
	keys := make([]string, 0, len(configSetters))
	for k := range configSetters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseConfigUpdate turns key/value arguments into a partial config.
func parseConfigUpdate(args []string) (*config.RawFileConfig, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("invalid number of arguments")
	}

	set, ok := configSetters[args[0]]
	if !ok {
		return nil, fmt.Errorf("unknown config key %q, valid keys: %s", args[0], strings.Join(configKeys(), ", "))
	}

	fc := &config.RawFileConfig{}
	if err := set(fc, args[1]); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %v", args[0], err)
	}
	return fc, nil
}

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Show or change the daemon configuration",
		GroupID: gAdvanced,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the daemon configuration as JSON",
			RunE: func(cmd *cobra.Command, _ []string) error {
				raw, err := apiClient.GetConfig()
				if err != nil {
					return fmt.Errorf("failed to get config: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(raw)
			},
		},
		&cobra.Command{
			Use:   "set [key] [value]",
			Short: "Set a config key and save the config file",
			Long: `Set a config key and save the config file.

Valid keys: ` + strings.Join(configKeys(), ", ") + `.

deduplicate and legacyStringLevel apply right away. A new source or sample
schedule is used after the daemon restarts.`,
			Example: `  battstatus config set deduplicate false
  battstatus config set sampleSchedule "@every 30s"`,
			RunE: func(_ *cobra.Command, args []string) error {
				fc, err := parseConfigUpdate(args)
				if err != nil {
					return err
				}

				conf, err := apiClient.SetConfig(fc)
				if err != nil {
					return fmt.Errorf("failed to set %s: %w", args[0], err)
				}
				logrus.WithFields(config.NewFileFromConfig(conf, "").LogrusFields()).Infof("successfully set %s", args[0])
				return nil
			},
		},
	)

	return cmd
}
