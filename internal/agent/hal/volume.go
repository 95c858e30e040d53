package hal

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/onesibox/onesibox/pkg/log"
)

// command runs an external program and returns its combined output.
type command func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// mixer sets the master volume through whichever audio tool works.
type mixer struct {
	run command
}

func (m *mixer) set(ctx context.Context, level int) error {
	level = max(0, min(100, level))
	pct := fmt.Sprintf("%d%%", level)

	attempts := [][]string{
		{"amixer", "set", "Master", pct},
		{"amixer", "-D", "pulse", "set", "Master", pct},
		{"pactl", "set-sink-volume", "@DEFAULT_SINK@", pct},
	}

	var errs []error
	for _, a := range attempts {
		if _, err := m.run(ctx, a[0], a[1:]...); err != nil {
			log.Warn("Volume tool failed, trying alternative method", "tool", a[0], "error", err)
			errs = append(errs, err)
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to set system volume: %w", utilerrors.NewAggregate(errs))
}
