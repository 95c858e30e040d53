package handlers

import (
	"context"
	"time"

	"k8s.io/utils/clock"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/internal/agent/state"
	"github.com/onesibox/onesibox/pkg/log"
)

// DefaultServiceUnit is the systemd unit the agent runs as.
const DefaultServiceUnit = "onesibox.service"

type powerFunc func(ctx context.Context, delay time.Duration) error

// System handles power and service commands. Immediate actions are
// deferred by AckGrace.
type System struct {
	hal   core.HAL
	state DeviceState
	unit  string
	clock clock.WithDelayedExecution
	log   log.Logger
}

func NewSystem(hal core.HAL, st DeviceState, unit string, c clock.WithDelayedExecution) *System {
	if unit == "" {
		unit = DefaultServiceUnit
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &System{hal: hal, state: st, unit: unit, clock: c, log: log.WithName("system")}
}

func (s *System) Name() string { return "system" }

func (s *System) Routes() map[core.CommandType]core.HandlerFunc {
	return map[core.CommandType]core.HandlerFunc{
		core.TypeReboot:         s.power("reboot", s.hal.Reboot),
		core.TypeShutdown:       s.power("shutdown", s.hal.Shutdown),
		core.TypeRestartService: s.restartService,
	}
}

func (s *System) power(kind string, fn powerFunc) core.HandlerFunc {
	return func(ctx context.Context, cmd *core.Command, act core.Actuator) (map[string]any, error) {
		seconds, _ := cmd.Number("delay")
		delay := time.Duration(seconds * float64(time.Second))
		s.log.Info("Power command received", "kind", kind, "delay", delay)

		if s.state.Snapshot().Status != state.StatusIdle {
			s.log.Info("Stopping current activity", "kind", kind)
			if err := act.GoToStandby(ctx); err != nil {
				s.log.Warn("Could not return to standby", "error", err)
			}
			s.state.SetIdle()
		}

		if delay > 0 {
			if err := fn(ctx, delay); err != nil {
				return nil, err
			}
			return map[string]any{"action": kind, "delay": seconds}, nil
		}

		s.clock.AfterFunc(AckGrace, func() {
			if err := fn(context.Background(), 0); err != nil {
				s.log.Error(err, "Power action failed", "kind", kind)
			}
		})
		return map[string]any{"action": kind, "delay": 0}, nil
	}
}

func (s *System) restartService(_ context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
	s.log.Info("Restarting service", "unit", s.unit, "commandId", cmd.ID)

	s.clock.AfterFunc(AckGrace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.hal.RestartService(ctx, s.unit); err != nil {
			s.log.Error(err, "Failed to restart service", "unit", s.unit)
		}
	})
	return map[string]any{"success": true, "message": "Service restart initiated"}, nil
}
