package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// xvfbScreen is the virtual screen of headful recordings. Replayed
// viewports are taken from HEAD, so it only has to be large enough.
const xvfbScreen = "1920x1080x24"

// xvfbSocket returns the unix socket an X server for display listens on.
func xvfbSocket(display string) (string, error) {
	num, ok := strings.CutPrefix(display, ":")
	if !ok {
		return "", fmt.Errorf("display %q: want :N", display)
	}
	num, _, _ = strings.Cut(num, ".")
	if _, err := strconv.Atoi(num); err != nil {
		return "", fmt.Errorf("display %q: %w", display, err)
	}
	return "/tmp/.X11-unix/X" + num, nil
}

// startXvfb launches the virtual display and waits until its socket
// appears, the process exits or ctx is done.
func (m *Manager) startXvfb(ctx context.Context) error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := xvfbSocket(display)
	if err != nil {
		return err
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", xvfbScreen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		select {
		case err := <-exited:
			return fmt.Errorf("xvfb %s exited: %v", display, err)
		case <-ctx.Done():
			cmd.Process.Kill()
			<-exited
			return fmt.Errorf("xvfb %s not ready: %w", display, ctx.Err())
		case <-tick.C:
		}
	}

	m.xvfb = cmd
	m.xvfbExited = exited
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "screen", xvfbScreen, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	m.xvfb.Process.Kill()
	err := <-m.xvfbExited
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay, "exit", err)
	m.xvfb, m.xvfbExited = nil, nil
}
