package crestron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joshp123/tpanel/internal/blob"
	"github.com/joshp123/tpanel/internal/config"
)

// Listener is notified after the cached state or reachability changes.
type Listener func(name string, state PanelState, reachability Reachability)

// Options tune a Coordinator. Zero values fall back to defaults; Store and
// Metrics are optional.
type Options struct {
	ScanInterval              time.Duration
	StrictStandbyConfirmation bool
	Store                     blob.Store
	Metrics                   *Metrics
	Logger                    logrus.FieldLogger
}

// Coordinator owns the cached state of a single panel. It refreshes the cache
// on an interval and dispatches commands. The mutex only guards the cache;
// it is never held across a panel round trip.
type Coordinator struct {
	cfg      PanelConfig
	runner   Runner
	interval time.Duration
	strict   bool
	store    blob.Store
	metrics  *Metrics
	log      logrus.FieldLogger

	refreshCh chan struct{}

	mu           sync.Mutex
	state        PanelState
	reachability Reachability
	lastSuccess  time.Time
	listeners    []Listener
}

func NewCoordinator(cfg PanelConfig, runner Runner, opts Options) *Coordinator {
	interval := opts.ScanInterval
	if interval <= 0 {
		interval = config.DefaultScanInterval
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		cfg:       cfg,
		runner:    runner,
		interval:  interval,
		strict:    opts.StrictStandbyConfirmation,
		store:     opts.Store,
		metrics:   opts.Metrics,
		log:       log.WithField("panel", cfg.Name),
		refreshCh: make(chan struct{}, 1),
		state:     DefaultState(),
	}
}

func (c *Coordinator) Name() string {
	return c.cfg.Name
}

func (c *Coordinator) Config() PanelConfig {
	return c.cfg
}

// Snapshot returns a copy of the cached state.
func (c *Coordinator) Snapshot() (PanelState, Reachability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.reachability
}

// LastSuccess is the time of the last refresh that reached the panel.
// Commands do not move it.
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}

func (c *Coordinator) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// RequestRefresh schedules a refresh on the Run loop. Requests made while
// one is already pending are coalesced.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Run refreshes immediately, then on every tick or refresh request, until
// ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.refreshCh:
		}
		if ctx.Err() != nil {
			return nil
		}
		c.Refresh(ctx)
	}
}

// Refresh queries the panel brightness. It never fails: a transport fault
// marks the panel unreachable and returns the cached state unchanged.
func (c *Coordinator) Refresh(ctx context.Context) RefreshResult {
	start := time.Now()
	out, err := c.runner.Run(ctx, cmdBrightnessGet)
	c.metrics.observeRefresh(c.cfg.Name, time.Since(start), err == nil)
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled by the caller, not a panel fault.
			state, _ := c.Snapshot()
			return RefreshResult{State: state, Reachable: false}
		}
		c.log.WithError(err).Debug("failed to get brightness")
		state := c.apply(ctx, ReachabilityUnreachable, nil)
		return RefreshResult{State: state, Reachable: false}
	}

	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.mu.Unlock()

	value, ok := ParseBrightness(out)
	state := c.apply(ctx, ReachabilityReachable, func(s *PanelState) {
		if ok {
			s.Brightness = value
			// A panel that answers is awake.
			s.IsOn = true
		}
	})
	if !ok {
		c.log.WithField("output", out).Debug("no brightness in reply")
	}
	return RefreshResult{State: state, Reachable: true}
}

// SetBrightness clamps target to [0, 100] and sends it to the panel. The
// cache only changes when the panel echoes a brightness level back.
func (c *Coordinator) SetBrightness(ctx context.Context, target int) bool {
	target = ClampBrightness(target)
	out, err := c.runner.Run(ctx, brightnessCommand(target))
	if err != nil {
		c.metrics.observeCommand(c.cfg.Name, "set_brightness", resultError)
		return false
	}
	if !confirmed(out, confirmBrightness) {
		c.log.WithField("output", out).Warn("brightness change not confirmed")
		c.metrics.observeCommand(c.cfg.Name, "set_brightness", resultUnconfirmed)
		return false
	}

	c.apply(ctx, ReachabilityReachable, func(s *PanelState) {
		s.Brightness = target
	})
	c.metrics.observeCommand(c.cfg.Name, "set_brightness", resultOK)
	c.RequestRefresh()
	return true
}

// TurnOn wakes the panel from standby.
func (c *Coordinator) TurnOn(ctx context.Context) bool {
	return c.setStandby(ctx, false)
}

// TurnOff puts the panel into standby.
func (c *Coordinator) TurnOff(ctx context.Context) bool {
	return c.setStandby(ctx, true)
}

func (c *Coordinator) setStandby(ctx context.Context, standby bool) bool {
	command, phrase, name := cmdStandbyOff, confirmStandbyOff, "turn_on"
	if standby {
		command, phrase, name = cmdStandbyOn, confirmStandbyOn, "turn_off"
	}

	out, err := c.runner.Run(ctx, command)
	if err != nil {
		c.metrics.observeCommand(c.cfg.Name, name, resultError)
		return false
	}
	if !confirmed(out, phrase) {
		if c.strict {
			c.log.WithField("output", out).Warnf("%s not confirmed", command)
			c.metrics.observeCommand(c.cfg.Name, name, resultUnconfirmed)
			return false
		}
		c.log.WithField("output", out).Debugf("%s not confirmed, assuming success", command)
	}

	c.apply(ctx, ReachabilityReachable, func(s *PanelState) {
		s.IsOn = !standby
	})
	c.metrics.observeCommand(c.cfg.Name, name, resultOK)
	c.RequestRefresh()
	return true
}

// TestConnection reports whether the panel returns a readable brightness.
// It does not touch the cache.
func (c *Coordinator) TestConnection(ctx context.Context) bool {
	out, err := c.runner.Run(ctx, cmdBrightnessGet)
	if err != nil {
		c.metrics.observeCommand(c.cfg.Name, "test_connection", resultError)
		return false
	}
	if _, ok := ParseBrightness(out); !ok {
		c.metrics.observeCommand(c.cfg.Name, "test_connection", resultUnconfirmed)
		return false
	}
	c.metrics.observeCommand(c.cfg.Name, "test_connection", resultOK)
	return true
}

// Restore seeds the cache from the state mirror. A missing snapshot is not
// an error.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	snap, err := blob.LoadSnapshot(ctx, c.store, c.cfg.Name)
	if errors.Is(err, blob.ErrBlobNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore %s: %w", c.cfg.Name, err)
	}

	c.mu.Lock()
	c.state = PanelState{Brightness: ClampBrightness(snap.Brightness), IsOn: snap.IsOn}
	c.mu.Unlock()
	c.log.WithField("brightness", snap.Brightness).WithField("is_on", snap.IsOn).Info("restored panel state")
	return nil
}

// apply mutates the cache under the lock, then notifies listeners and
// mirrors the state outside it when anything changed.
func (c *Coordinator) apply(ctx context.Context, reach Reachability, mutate func(*PanelState)) PanelState {
	c.mu.Lock()
	before, beforeReach := c.state, c.reachability
	if mutate != nil {
		mutate(&c.state)
	}
	c.state.Brightness = ClampBrightness(c.state.Brightness)
	c.reachability = reach
	state := c.state
	changed := state != before || reach != beforeReach
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	if !changed {
		return state
	}
	for _, l := range listeners {
		l(c.cfg.Name, state, reach)
	}
	c.mirror(ctx, state, reach)
	return state
}

func (c *Coordinator) mirror(ctx context.Context, state PanelState, reach Reachability) {
	if c.store == nil {
		return
	}
	err := blob.SaveSnapshot(ctx, c.store, blob.Snapshot{
		Panel:        c.cfg.Name,
		Brightness:   state.Brightness,
		IsOn:         state.IsOn,
		Reachability: reach.String(),
	})
	if err != nil {
		c.log.WithError(err).Warn("mirror state snapshot")
	}
}
