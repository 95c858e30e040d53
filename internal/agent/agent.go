// Package agent assembles the appliance agent: the pull and push channels,
// the dispatcher, the actuator and the reporting loops.
package agent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onesibox/onesibox/internal/agent/actuator"
	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/dispatcher"
	"github.com/onesibox/onesibox/internal/agent/heartbeat"
	"github.com/onesibox/onesibox/internal/agent/hub"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/internal/agent/statusserver"
	"github.com/onesibox/onesibox/internal/agent/transport"
	"github.com/onesibox/onesibox/internal/agent/watchdog"
	"github.com/onesibox/onesibox/pkg/log"
	"github.com/onesibox/onesibox/pkg/version"
)

const (
	startupTimeout  = 90 * time.Second
	shutdownTimeout = 5 * time.Second
)

type Agent struct {
	applianceID string
	volume      int

	hal        core.HAL
	state      *state.Machine
	actuator   *actuator.Supervisor
	dispatcher *dispatcher.Dispatcher
	poller     *transport.Poller
	heartbeat  *heartbeat.Reporter
	hub        *hub.Hub
	watchdog   *watchdog.Watchdog
	status     *statusserver.Server
}

// State exposes the device state.
func (a *Agent) State() *state.Machine {
	return a.state
}

// Run starts every loop and blocks until ctx is done or one of them fails.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting onesibox-agent", "applianceID", a.applianceID, "version", version.Get().GitVersion)

	// The standby page is served locally, so bind before the browser starts.
	if err := a.status.Listen(); err != nil {
		return err
	}

	a.startup(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.status.Start(gctx) })
	g.Go(func() error { return a.poller.Run(gctx) })
	g.Go(func() error { return a.heartbeat.Run(gctx) })
	g.Go(func() error { return a.watchdog.Run(gctx, a.state) })
	if a.hub != nil {
		g.Go(func() error { return a.hub.Run(gctx) })
	}

	a.status.SetReady(true)
	a.watchdog.Ready()
	log.Info("Agent started", "pushChannel", a.hub != nil, "actuator", a.actuator.Active())

	err := g.Wait()
	a.shutdown()
	return err
}

// startup puts the browser on the standby page and applies the initial
// volume. Failures are logged; the actuator re-initializes on demand.
func (a *Agent) startup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := a.actuator.ForceRestart(ctx, ""); err != nil {
		log.Error(err, "Failed to start the browser on the standby page")
	}

	if err := a.hal.SetVolume(ctx, a.volume); err != nil {
		log.Warn("Failed to apply initial volume", "level", a.volume, "error", err)
	}
}

func (a *Agent) shutdown() {
	log.Info("Agent shutting down...")
	a.status.SetReady(false)
	a.watchdog.Stopping()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.actuator.GoToStandby(ctx); err != nil {
		log.Warn("Failed to return to standby on shutdown", "error", err)
	}

	a.dispatcher.Close()
	if err := a.actuator.Close(); err != nil {
		log.Warn("Failed to close the browser", "error", err)
	}
	log.Info("Agent stopped")
}
