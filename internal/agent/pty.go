package agent

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/opensandbox/shellrelay/pkg/types"
)

// DefaultShell returns the interactive shell command used when none is
// configured: bash if present, otherwise sh.
func DefaultShell() []string {
	for _, sh := range []string{"/bin/bash", "/bin/sh"} {
		if _, err := os.Stat(sh); err == nil {
			return []string{sh, "-i"}
		}
	}
	return []string{"sh", "-i"}
}

// ParseShell splits a configured shell command line on whitespace. An empty
// line selects DefaultShell.
func ParseShell(line string) []string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return DefaultShell()
	}
	return fields
}

// shellProcess is one shell running on the slave side of a PTY.
type shellProcess struct {
	cmd     *exec.Cmd
	ptmx    *os.File
	size    types.ResizeEvent
	started time.Time

	exited   chan struct{}
	exitCode int
}

func startShell(command []string, size types.ResizeEvent) (*shellProcess, error) {
	if len(command) == 0 {
		return nil, errors.New("empty shell command")
	}
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		fmt.Sprintf("COLUMNS=%d", size.Cols),
		fmt.Sprintf("LINES=%d", size.Rows),
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: size.Rows, Cols: size.Cols})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}

	p := &shellProcess{
		cmd:     cmd,
		ptmx:    ptmx,
		size:    size,
		started: time.Now(),
		exited:  make(chan struct{}),
	}
	go func() {
		p.exitCode = exitStatus(cmd.Wait())
		close(p.exited)
	}()
	return p, nil
}

func (p *shellProcess) pid() int {
	return p.cmd.Process.Pid
}

func (p *shellProcess) resize(size types.ResizeEvent) error {
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Rows: size.Rows, Cols: size.Cols}); err != nil {
		return err
	}
	p.size = size
	return nil
}

// terminate hangs up the shell's process group, as closing a terminal would,
// and kills it if it is still alive after grace.
func (p *shellProcess) terminate(grace time.Duration) {
	select {
	case <-p.exited:
		return
	default:
	}
	// The shell leads its own session, so its pid is also the group id.
	if err := unix.Kill(-p.pid(), unix.SIGHUP); err != nil {
		log.Printf("agent: SIGHUP shell group %d: %v", p.pid(), err)
	}
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}
	log.Printf("agent: shell %d ignored SIGHUP, killing", p.pid())
	if err := unix.Kill(-p.pid(), unix.SIGKILL); err != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.exited
}

func (p *shellProcess) close() {
	_ = p.ptmx.Close()
}

// exitStatus maps the result of Wait to an exit code. A shell killed by a
// signal reports -1.
func exitStatus(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return -1
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return exitErr.ExitCode()
	}
	if status.Signaled() {
		return -1
	}
	return status.ExitStatus()
}
