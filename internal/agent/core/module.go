package core

import (
	"context"
)

// Actuator is the surface command handlers drive.
type Actuator interface {
	Navigate(ctx context.Context, url string) error
	GoToStandby(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	ExecuteScript(ctx context.Context, code string) (any, error)
	CurrentURL(ctx context.Context) (string, error)
}

// HandlerFunc executes one command. The returned map, when non-nil, is sent
// back as the acknowledgment result.
type HandlerFunc func(ctx context.Context, cmd *Command, act Actuator) (map[string]any, error)

// Module groups the handlers of one command family.
type Module interface {
	Name() string

	Routes() map[CommandType]HandlerFunc
}
