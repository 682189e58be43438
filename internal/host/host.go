// Package host launches and tracks the console-emulator host process.
package host

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/model"
)

// WindowHandle is an opaque, address-sized identity token for the window
// hosting the terminal view. It carries no arithmetic semantics; the
// supervisor only forwards it to the host on the command line.
type WindowHandle uintptr

// Config describes how to reach and launch the host executable.
type Config struct {
	// ExecutablePath locates the host emulator binary.
	ExecutablePath string

	// Window is the parent window token forwarded to the host.
	Window WindowHandle

	// TransportMode is echoed into the argv so the host enables the
	// matching command channel.
	TransportMode macro.Mode

	// ShowStatusBar is forwarded through the startup-config document.
	ShowStatusBar bool
}

// EncodeExitMode maps the exit-behavior policy to the host's wire code:
// close on exit = "n", keep open = "c0", keep open with message = "c".
// Elevated sessions prefix the code with the elevation marker.
func EncodeExitMode(behavior model.ExitBehavior, elevated bool) string {
	var code string
	switch behavior {
	case model.ExitBehaviorKeep:
		code = "c0"
	case model.ExitBehaviorKeepMessage:
		code = "c"
	default:
		code = "n"
	}
	if elevated {
		code = "a:" + code
	}
	return code
}

// BuildArgs assembles the host launch argv: transport mode, window token,
// startup-config path, working directory, optional ANSI-log directory,
// exit-mode code, and finally the payload command line.
func BuildArgs(cfg Config, info *model.StartInfo, cfgPath, ansiLogDir string) []string {
	args := []string{
		"-transport", string(cfg.TransportMode),
		"-parent", "0x" + strconv.FormatUint(uint64(cfg.Window), 16),
		"-cfg", cfgPath,
	}
	if info.StartupDir != "" {
		args = append(args, "-dir", info.StartupDir)
	}
	if ansiLogDir != "" {
		args = append(args, "-ansilog", ansiLogDir)
	}
	args = append(args, "-mode", EncodeExitMode(info.ExitBehavior, info.Elevated))
	args = append(args, "-cmd", info.CommandLine)
	return args
}

// Process wraps the running host OS process. The handle is read-only
// after creation except for the single best-effort Kill, which tolerates
// the process having already exited.
type Process struct {
	cmd *exec.Cmd
	pid int
}

// Launch starts the host process. Failures are fatal: an unresolved or
// absent executable and an OS process-creation failure both wrap
// model.ErrLaunch.
func Launch(cfg Config, info *model.StartInfo, cfgPath, ansiLogDir string) (*Process, error) {
	exe := cfg.ExecutablePath
	if exe == "" {
		return nil, fmt.Errorf("%w: host executable path is not configured", model.ErrLaunch)
	}
	if !filepath.IsAbs(exe) {
		resolved, err := exec.LookPath(exe)
		if err != nil {
			return nil, fmt.Errorf("%w: host executable %q not resolved: %v", model.ErrLaunch, exe, err)
		}
		exe = resolved
	}
	if _, err := os.Stat(exe); err != nil {
		return nil, fmt.Errorf("%w: host executable %q: %v", model.ErrLaunch, exe, err)
	}

	cmd := exec.Command(exe, BuildArgs(cfg, info, cfgPath, ansiLogDir)...)
	if info.StartupDir != "" {
		cmd.Dir = info.StartupDir
	}
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrLaunch, err)
	}

	return &Process{cmd: cmd, pid: cmd.Process.Pid}, nil
}

// PID returns the host process id.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the host process exits and returns its exit code.
// Returns -1 when the process was killed by a signal.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Kill terminates the host process. A process that already exited is not
// an error.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !isAlreadyFinished(err) {
		return err
	}
	return nil
}

func isAlreadyFinished(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
