package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battstatus/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Source:             ptr.To(SourceSystem),
		SampleSchedule:     ptr.To("@every 10s"),
		Deduplicate:        ptr.To(true),
		LegacyStringLevel:  ptr.To(false),
		AllowNonRootAccess: ptr.To(false),
		AutoStart:          ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	// Source is where battery changes come from: "system" or "push".
	Source *string `json:"source,omitempty"`
	// SampleSchedule is the cron expression the system source samples on.
	SampleSchedule *string `json:"sampleSchedule,omitempty"`
	// Deduplicate suppresses statuses equal to the previous one.
	Deduplicate *bool `json:"deduplicate,omitempty"`
	// LegacyStringLevel sends the level as a string in BATTERY_STATUS_EVENT.
	LegacyStringLevel  *bool `json:"legacyStringLevel,omitempty"`
	AllowNonRootAccess *bool `json:"allowNonRootAccess,omitempty"`
	// AutoStart starts the watcher when the daemon starts.
	AutoStart *bool `json:"autoStart,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		Source:             ptr.To(c.Source()),
		SampleSchedule:     ptr.To(c.SampleSchedule()),
		Deduplicate:        ptr.To(c.Deduplicate()),
		LegacyStringLevel:  ptr.To(c.LegacyStringLevel()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
		AutoStart:          ptr.To(c.AutoStart()),
	}

	return rawConfig, nil
}

func validSource(s string) bool {
	return s == SourceSystem || s == SourcePush
}

func (f *File) Source() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.Source != nil {
		return *f.c.Source
	}
	return *defaultFileConfig.Source
}

func (f *File) SampleSchedule() string {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.SampleSchedule != nil && *f.c.SampleSchedule != "" {
		return *f.c.SampleSchedule
	}
	return *defaultFileConfig.SampleSchedule
}

func (f *File) Deduplicate() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.Deduplicate != nil {
		return *f.c.Deduplicate
	}
	return *defaultFileConfig.Deduplicate
}

func (f *File) LegacyStringLevel() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.LegacyStringLevel != nil {
		return *f.c.LegacyStringLevel
	}
	return *defaultFileConfig.LegacyStringLevel
}

func (f *File) AllowNonRootAccess() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.AllowNonRootAccess != nil {
		return *f.c.AllowNonRootAccess
	}
	return *defaultFileConfig.AllowNonRootAccess
}

func (f *File) AutoStart() bool {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c.AutoStart != nil {
		return *f.c.AutoStart
	}
	return *defaultFileConfig.AutoStart
}

func (f *File) SetSource(s string) error {
	if f.c == nil {
		panic("config is nil")
	}

	if !validSource(s) {
		return pkgerrors.Errorf("source must be %q or %q, got %q", SourceSystem, SourcePush, s)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Source = &s
	return nil
}

func (f *File) SetSampleSchedule(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SampleSchedule = &s
}

func (f *File) SetDeduplicate(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Deduplicate = &b
}

func (f *File) SetLegacyStringLevel(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.LegacyStringLevel = &b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) SetAutoStart(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AutoStart = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if conf.Source != nil && !validSource(*conf.Source) {
		return pkgerrors.Errorf("invalid source %q in %s", *conf.Source, f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"source":             f.Source(),
		"sampleSchedule":     f.SampleSchedule(),
		"deduplicate":        f.Deduplicate(),
		"legacyStringLevel":  f.LegacyStringLevel(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"autoStart":          f.AutoStart(),
	}
}
