package actuator

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/onesibox/onesibox/pkg/log"
)

const processStopTimeout = 3 * time.Second

var _ playbackToggler = (*processStrategy)(nil)

// browserProcess is one launched browser.
type browserProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopping bool
}

// processStrategy launches the browser directly in kiosk mode. It has no
// channel into the page, so navigation relaunches the process.
type processStrategy struct {
	settings Settings
	start    func(name string, args ...string) *exec.Cmd
	run      runner

	mu      sync.Mutex
	proc    *browserProcess
	crashed func(cause string)
}

// NewProcess returns the direct launch strategy.
func NewProcess(s Settings) Strategy {
	return &processStrategy{settings: s, start: exec.Command, run: execRunner}
}

func (p *processStrategy) Name() string { return "process" }

func (p *processStrategy) args(url string) []string {
	var args []string
	for _, f := range append(kioskFlags(isWayland()), p.settings.ExtraArgs...) {
		args = append(args, "--"+strings.TrimLeft(f, "-"))
	}
	if p.settings.UserDataDir != "" {
		args = append(args, "--user-data-dir="+p.settings.UserDataDir)
	}
	return append(args, url)
}

func (p *processStrategy) Launch(ctx context.Context, url string, crashed func(cause string)) error {
	p.mu.Lock()
	p.crashed = crashed
	p.mu.Unlock()
	return p.spawn(url)
}

func (p *processStrategy) spawn(url string) error {
	execPath, err := FindExecutable(p.settings.ExecPath)
	if err != nil {
		return err
	}

	cmd := p.start(execPath, p.args(url)...)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start %s", execPath)
	}
	log.Info("Launched kiosk browser", "pid", cmd.Process.Pid, "url", url)

	proc := &browserProcess{cmd: cmd, done: make(chan struct{})}

	p.mu.Lock()
	p.proc = proc
	crashed := p.crashed
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(proc.done)

		p.mu.Lock()
		expected := proc.stopping
		p.mu.Unlock()
		if !expected && crashed != nil {
			cause := "process exited"
			if err != nil {
				cause = "process exited: " + err.Error()
			}
			crashed(cause)
		}
	}()
	return nil
}

func (p *processStrategy) Ready() bool {
	p.mu.Lock()
	proc := p.proc
	p.mu.Unlock()
	if proc == nil {
		return false
	}
	select {
	case <-proc.done:
		return false
	default:
		return true
	}
}

// Navigate restarts the browser on url.
func (p *processStrategy) Navigate(ctx context.Context, url string) error {
	if err := p.stop(); err != nil {
		return err
	}
	return p.spawn(url)
}

func (p *processStrategy) Evaluate(context.Context, string) (any, error) {
	return nil, ErrUnsupported
}

// TogglePlayback presses the space bar in the launched browser's window.
func (p *processStrategy) TogglePlayback(ctx context.Context) error {
	w, err := findWindow(ctx, p.run, browserWindowClass)
	if err != nil {
		return err
	}
	return pressPlaybackKey(ctx, p.run, w)
}

func (p *processStrategy) Close() error {
	return p.stop()
}

func (p *processStrategy) stop() error {
	p.mu.Lock()
	proc := p.proc
	p.proc = nil
	if proc != nil {
		proc.stopping = true
	}
	p.mu.Unlock()

	if proc == nil {
		return nil
	}

	_ = proc.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-proc.done:
		return nil
	case <-time.After(processStopTimeout):
	}
	if err := proc.cmd.Process.Kill(); err != nil {
		return errors.Wrap(err, "kill browser")
	}
	<-proc.done
	return nil
}
