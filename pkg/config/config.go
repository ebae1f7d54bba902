package config

import "github.com/sirupsen/logrus"

// Source kinds.
const (
	// SourceSystem samples the local battery.
	SourceSystem = "system"
	// SourcePush is fed by the host over the control socket.
	SourcePush = "push"
)

type Config interface {
	Source() string
	SampleSchedule() string
	Deduplicate() bool
	LegacyStringLevel() bool
	AllowNonRootAccess() bool
	AutoStart() bool

	SetSource(string) error
	SetSampleSchedule(string)
	SetDeduplicate(bool)
	SetLegacyStringLevel(bool)
	SetAllowNonRootAccess(bool)
	SetAutoStart(bool)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
