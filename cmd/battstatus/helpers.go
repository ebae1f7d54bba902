package main

import (
	"github.com/fatih/color"

	"github.com/charlie0129/battstatus/pkg/version"
)

func getVersion() (clientVersion string, daemonVersion string, err error) {
	daemonVersion, err = apiClient.GetVersion()
	if err != nil {
		return "", "", err
	}
	return version.Version, daemonVersion, nil
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
