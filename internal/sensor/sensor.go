// Package sensor is the periodic update loop: it polls schedule sources on the
// check schedule, re-evaluates the tariff on every tick, publishes a snapshot
// for the API and drives the relay.
package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "tariffd/internal/log"
	"tariffd/internal/model"
	"tariffd/internal/relay"
	"tariffd/internal/source"
	"tariffd/internal/tariff"
)

// DefaultCheckInterval applies when Options.Check is nil.
const DefaultCheckInterval = 60 * time.Minute

// Snapshot is the published sensor state.
type Snapshot struct {
	State     model.State `json:"state"`
	Info      string      `json:"info"`
	LastCheck time.Time   `json:"last_check"`
	NextCheck time.Time   `json:"next_check"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Options wire the sensor's collaborators. Zero values are usable.
type Options struct {
	// Location is the zone the schedule is written in. Defaults to time.Local.
	Location *time.Location
	// Check decides when sources are polled next.
	Check   cron.Schedule
	Sources []source.Source
	Relay   relay.Switch
}

type Sensor struct {
	eval    *tariff.Evaluator
	loc     *time.Location
	check   cron.Schedule
	sources []source.Source
	relay   relay.Switch
	now     func() time.Time

	// updateMu serialises Update; source checks may block on the network.
	updateMu  sync.Mutex
	lastCheck time.Time
	nextCheck time.Time
	driven    *model.State

	mu   sync.RWMutex
	snap Snapshot
}

func New(eval *tariff.Evaluator, opts Options) *Sensor {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Check == nil {
		opts.Check = cron.Every(DefaultCheckInterval)
	}
	if opts.Relay == nil {
		opts.Relay = relay.NopSwitch{}
	}
	return &Sensor{
		eval:    eval,
		loc:     opts.Location,
		check:   opts.Check,
		sources: opts.Sources,
		relay:   opts.Relay,
		now:     time.Now,
		snap:    Snapshot{State: model.StateUnknown, Info: tariff.InfoWaiting},
	}
}

// Snapshot returns the last published state.
func (s *Sensor) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update polls the sources if the check is due and then re-evaluates. The
// first call always checks.
func (s *Sensor) Update(ctx context.Context, now time.Time) Snapshot {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if !now.Before(s.nextCheck) {
		appLog.Info("time for scheduled schedule check", "sources", len(s.sources))
		s.runChecks(ctx)
		s.lastCheck = now
		s.nextCheck = s.check.Next(now)
	}
	return s.evaluate(now)
}

// Refresh re-evaluates without polling sources, e.g. after an upload.
func (s *Sensor) Refresh(now time.Time) Snapshot {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.evaluate(now)
}

// Run calls Update on spec (e.g. "@every 30s") until ctx is done. The first
// update runs immediately.
func (s *Sensor) Run(ctx context.Context, spec string) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { s.Update(ctx, s.now()) }); err != nil {
		return fmt.Errorf("update schedule %q: %w", spec, err)
	}

	s.Update(ctx, s.now())
	c.Start()
	appLog.Info("sensor loop started", "update", spec)

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("sensor loop stopped")
	return nil
}

func (s *Sensor) runChecks(ctx context.Context) {
	for _, src := range s.sources {
		ok, err := src.Check(ctx)
		if err != nil {
			appLog.Error("schedule source check failed", err, "source", src.Name())
		}
		if ok {
			appLog.Info("new schedule received", "source", src.Name())
		}
	}
}

func (s *Sensor) evaluate(now time.Time) Snapshot {
	res := s.eval.Evaluate(now.In(s.loc))
	snap := Snapshot{
		State:     res.State,
		Info:      res.Info,
		LastCheck: s.lastCheck,
		NextCheck: s.nextCheck,
		UpdatedAt: now,
	}

	s.drive(res.State)

	s.mu.Lock()
	prev := s.snap.State
	s.snap = snap
	s.mu.Unlock()

	if prev != snap.State {
		appLog.Info("tariff state changed", "from", string(prev), "to", string(snap.State), "info", snap.Info)
	}
	return snap
}

// drive switches the relay when the state changes. A failed switch is retried
// on the next update.
func (s *Sensor) drive(state model.State) {
	if s.driven != nil && *s.driven == state {
		return
	}
	if err := s.relay.Set(state == model.StateReduced); err != nil {
		appLog.Error("relay switch failed", err, "state", string(state))
		return
	}
	s.driven = &state
}

// cronLogger routes cron's own messages into the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
