package handlers

import (
	"context"
	"errors"
	"math"

	"github.com/onesibox/onesibox/internal/agent/core"
	"github.com/onesibox/onesibox/pkg/log"
)

// Volume handles set_volume.
type Volume struct {
	hal   core.HAL
	state DeviceState
}

func NewVolume(hal core.HAL, st DeviceState) *Volume {
	return &Volume{hal: hal, state: st}
}

func (v *Volume) Name() string { return "volume" }

func (v *Volume) Routes() map[core.CommandType]core.HandlerFunc {
	return map[core.CommandType]core.HandlerFunc{
		core.TypeSetVolume: v.set,
	}
}

func (v *Volume) set(ctx context.Context, cmd *core.Command, _ core.Actuator) (map[string]any, error) {
	raw, ok := cmd.Number("level")
	if !ok || raw < 0 || raw > 100 {
		return nil, core.WithCode(core.ErrCodeInvalidPayload, errors.New("volume level must be between 0 and 100"))
	}
	level := int(math.Round(raw))

	log.Info("Setting volume", "level", level)
	if err := v.hal.SetVolume(ctx, level); err != nil {
		return nil, err
	}
	stored := v.state.SetVolume(level)
	return map[string]any{"level": stored}, nil
}
