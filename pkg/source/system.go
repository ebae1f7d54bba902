package source

import (
	"errors"
	"math"
	"sync"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/battstatus/pkg/metrics"
	"github.com/charlie0129/battstatus/pkg/status"
	"github.com/charlie0129/battstatus/pkg/watcher"
)

// DefaultSampleSchedule is used when no schedule is configured.
const DefaultSampleSchedule = "@every 10s"

var _ watcher.Source = &System{}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule can be used as a sample schedule.
func ValidateSchedule(schedule string) error {
	_, err := scheduleParser.Parse(schedule)
	return pkgerrors.Wrapf(err, "invalid sample schedule %q", schedule)
}

// ReadFunc returns the batteries present on the host.
type ReadFunc func() ([]*battery.Battery, error)

// System adapts the host battery, read through distatus/battery, into a
// push source. Samples are taken on a cron schedule and pushed to the
// handler; the watcher is expected to drop unchanged ones.
type System struct {
	schedule string
	read     ReadFunc
	parser   cron.Parser
	log      logrus.FieldLogger
}

// NewSystem returns a system source sampling on schedule, which accepts
// cron expressions with optional seconds and descriptors like "@every 5s".
func NewSystem(schedule string, log logrus.FieldLogger) *System {
	if schedule == "" {
		schedule = DefaultSampleSchedule
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &System{
		schedule: schedule,
		read:     battery.GetAll,
		parser:   scheduleParser,
		log:      log,
	}
}

// WithReader replaces the battery reader. Used in tests and on hosts with a
// custom battery backend.
func (s *System) WithReader(read ReadFunc) *System {
	s.read = read
	return s
}

// Subscribe takes one sample right away, then keeps sampling until the
// subscription is released. A host without a readable battery rejects the
// subscription.
func (s *System) Subscribe(h watcher.Handler) (watcher.Subscription, error) {
	schedule, err := s.parser.Parse(s.schedule)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "invalid sample schedule %q", s.schedule)
	}

	p, err := s.sample()
	if err != nil {
		return nil, err
	}
	h.HandleRawEvent(p)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(schedule, cron.FuncJob(func() {
		p, err := s.sample()
		if err != nil {
			metrics.SampleErrors.Inc()
			s.log.WithError(err).Warn("failed to sample system battery")
			return
		}
		h.HandleRawEvent(p)
	}))
	c.Start()

	s.log.WithField("schedule", s.schedule).Debug("sampling system battery")

	return &systemSubscription{cron: c}, nil
}

func (s *System) sample() (status.RawPayload, error) {
	batteries, err := s.read()
	if err = firstBatteryError(err); err != nil {
		return status.RawPayload{}, pkgerrors.Wrapf(err, "failed to read battery info")
	}
	if len(batteries) == 0 || batteries[0] == nil {
		return status.RawPayload{}, ErrNoBattery
	}
	// Only the first battery is reported.
	return FromBattery(batteries[0]), nil
}

// firstBatteryError keeps what matters for the first battery out of a
// battery.GetAll error. Unreadable optional fields such as the voltage or
// the charge rate are common and do not make a reading unusable.
func firstBatteryError(err error) error {
	if err == nil {
		return nil
	}
	var errs battery.Errors
	if !errors.As(err, &errs) {
		return err
	}
	if len(errs) == 0 || errs[0] == nil {
		return nil
	}

	var partial battery.ErrPartial
	switch e := errs[0].(type) {
	case battery.ErrPartial:
		partial = e
	case *battery.ErrPartial:
		partial = *e
	default:
		return errs[0]
	}
	if partial.State != nil || partial.Current != nil || partial.Full != nil {
		return partial
	}
	return nil
}

// FromBattery converts a distatus/battery reading into a raw payload.
func FromBattery(b *battery.Battery) status.RawPayload {
	p := status.RawPayload{Status: status.Unknown}

	switch b.State {
	case battery.Charging:
		p.Status = status.Charging
	case battery.Full:
		p.Status = status.Full
	case battery.Discharging:
		// On AC with charging inhibited the battery reports discharging at
		// zero rate.
		if b.ChargeRate != 0 {
			p.Status = status.Discharging
		} else {
			p.Status = status.NotCharging
		}
	}

	if b.Full > 0 {
		level := int(math.Round(b.Current / b.Full * 100))
		p.Level = &level
	}

	return p
}

type systemSubscription struct {
	once sync.Once
	cron *cron.Cron
}

// Unsubscribe stops sampling and waits for a running sample to finish.
func (s *systemSubscription) Unsubscribe() error {
	err := ErrNotSubscribed
	s.once.Do(func() {
		<-s.cron.Stop().Done()
		err = nil
	})
	return err
}
