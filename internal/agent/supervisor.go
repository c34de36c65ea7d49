// Package agent runs an interactive shell on a PTY and relays it over a
// publish/subscribe transport. Keystrokes arrive on the input channel, shell
// output leaves on the output channel, window sizes arrive on the resize
// channel and lifecycle notifications are published on the status channel.
// The shell is restarted whenever it exits.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensandbox/shellrelay/internal/metrics"
	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/types"
)

const (
	DefaultStartAttempts = 3
	DefaultStopGrace     = 2 * time.Second
	DefaultStatusTimeout = 2 * time.Second

	// How long output keeps draining after the shell has exited.
	drainTimeout = 500 * time.Millisecond

	publishRetryInitial = 50 * time.Millisecond
	publishRetryMax     = 2 * time.Second

	readBufferSize = 32 * 1024
)

// Options configures a Supervisor. Zero values select the defaults.
type Options struct {
	Command []string          // shell command line; empty = DefaultShell
	Size    types.ResizeEvent // initial window size
	Backoff Backoff           // restart delay policy

	StartAttempts int           // spawn attempts before Run fails at startup
	StopGrace     time.Duration // SIGHUP to SIGKILL delay on shutdown
	StatusTimeout time.Duration // per status publish
}

func (o *Options) setDefaults() {
	if len(o.Command) == 0 {
		o.Command = DefaultShell()
	}
	if o.Size.Rows == 0 || o.Size.Cols == 0 {
		o.Size = types.ResizeEvent{Rows: types.DefaultRows, Cols: types.DefaultCols}
	}
	if o.Backoff.Initial <= 0 {
		o.Backoff.Initial = 2 * time.Second
	}
	if o.Backoff.Max < o.Backoff.Initial {
		o.Backoff.Max = max(30*time.Second, o.Backoff.Initial)
	}
	if o.Backoff.ResetAfter <= 0 {
		o.Backoff.ResetAfter = 10 * time.Second
	}
	if o.StartAttempts <= 0 {
		o.StartAttempts = DefaultStartAttempts
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = DefaultStatusTimeout
	}
}

// Supervisor owns the shell and its PTY for the lifetime of the agent.
type Supervisor struct {
	transport transport.Transport
	channels  transport.Channels
	opts      Options
	backoff   Backoff

	state     atomic.Pointer[State]
	pid       atomic.Int64
	restarts  atomic.Int64
	startTime time.Time
}

// NewSupervisor creates a supervisor relaying over t on the given channels.
func NewSupervisor(t transport.Transport, channels transport.Channels, opts Options) *Supervisor {
	opts.setDefaults()
	s := &Supervisor{
		transport: t,
		channels:  channels,
		opts:      opts,
		backoff:   opts.Backoff,
		startTime: time.Now(),
	}
	s.setState(State{Phase: PhaseStarting})
	return s
}

// State returns the current lifecycle state. It is safe to call from any
// goroutine.
func (s *Supervisor) State() State {
	return *s.state.Load()
}

func (s *Supervisor) setState(st State) {
	s.state.Store(&st)
	metrics.SetShellState(st.Phase.String(), phaseNames)
}

// Health is the body of the agent's /healthz endpoint.
type Health struct {
	State          string `json:"state"`
	ShellPID       int64  `json:"shell_pid,omitempty"`
	ShellRSSBytes  uint64 `json:"shell_rss_bytes,omitempty"`
	ShellProcesses int    `json:"shell_processes,omitempty"`
	Restarts       int64  `json:"restarts"`
	Uptime         string `json:"uptime"`
}

// Health reports the supervisor's current state.
func (s *Supervisor) Health() any {
	pid := s.pid.Load()
	stats := readShellStats(int(pid))
	return Health{
		State:          s.State().String(),
		ShellPID:       pid,
		ShellRSSBytes:  stats.RSSBytes,
		ShellProcesses: stats.Processes,
		Restarts:       s.restarts.Load(),
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
	}
}

// Run supervises the shell until ctx is cancelled. It returns an error only
// when the relay cannot start: the channels cannot be subscribed or the
// first shell fails to spawn after the configured attempts. On cancellation
// the shell is hung up, agent_stopping is published and Run returns nil.
func (s *Supervisor) Run(ctx context.Context) error {
	input, err := s.transport.Subscribe(ctx, s.channels.Input)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channels.Input, err)
	}
	resize, err := s.transport.Subscribe(ctx, s.channels.Resize)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channels.Resize, err)
	}
	go s.logEvents(ctx)

	s.publishStatus(ctx, types.Status{Kind: types.AgentStarted})

	sh, err := s.spawnInitial(ctx)
	if err != nil {
		s.stop(ctx)
		return err
	}

	for {
		s.pid.Store(int64(sh.pid()))
		s.apply(ctx, eventSpawned, 0)
		log.Printf("agent: shell started (pid %d, %s)", sh.pid(), sh.size)

		size, exited := s.runShell(ctx, sh, input, resize)
		s.pid.Store(0)
		if !exited {
			return s.stop(ctx)
		}

		uptime := time.Since(sh.started)
		log.Printf("agent: shell exited with code %d after %s", sh.exitCode, uptime.Round(time.Millisecond))
		s.restarts.Add(1)
		metrics.ShellRestarts.Inc()
		s.apply(ctx, eventExited, sh.exitCode)

		delay := s.backoff.Next(uptime)
		log.Printf("agent: restarting shell in %s", delay)
		if !sleep(ctx, delay) {
			return s.stop(ctx)
		}
		s.apply(ctx, eventRestart, 0)
		for {
			sh, err = startShell(s.opts.Command, size)
			if err == nil {
				break
			}
			delay = s.backoff.Next(0)
			log.Printf("agent: %v, retrying in %s", err, delay)
			if !sleep(ctx, delay) {
				return s.stop(ctx)
			}
			s.apply(ctx, eventSpawnFailed, 0)
		}
	}
}

func (s *Supervisor) stop(ctx context.Context) error {
	s.apply(ctx, eventStop, 0)
	log.Printf("agent: stopped")
	return nil
}

func (s *Supervisor) spawnInitial(ctx context.Context) (*shellProcess, error) {
	for attempt := 1; ; attempt++ {
		sh, err := startShell(s.opts.Command, s.opts.Size)
		if err == nil {
			return sh, nil
		}
		if attempt >= s.opts.StartAttempts {
			return nil, fmt.Errorf("start shell after %d attempts: %w", attempt, err)
		}
		log.Printf("agent: %v (attempt %d/%d)", err, attempt, s.opts.StartAttempts)
		if !sleep(ctx, s.opts.Backoff.Initial) {
			return nil, ctx.Err()
		}
	}
}

// apply moves the state machine and publishes the resulting statuses.
func (s *Supervisor) apply(ctx context.Context, ev event, exitCode int) {
	next, statuses, err := s.State().next(ev, exitCode)
	if err != nil {
		log.Printf("agent: %v", err)
		return
	}
	s.setState(next)
	for _, st := range statuses {
		s.publishStatus(ctx, st)
	}
}

// runShell relays one shell until it exits or ctx is cancelled. It returns
// the last applied window size and whether the shell exited on its own.
// Output is drained before it returns, so shells never overlap.
func (s *Supervisor) runShell(ctx context.Context, sh *shellProcess, input, resize <-chan []byte) (types.ResizeEvent, bool) {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, pumpCtx := errgroup.WithContext(pumpCtx)
	g.Go(func() error {
		return s.pumpInput(pumpCtx, sh, input)
	})
	g.Go(func() error {
		return s.pumpResize(pumpCtx, sh, resize)
	})

	// Output is not bound to the shell: what it wrote is published even when
	// it exits during a broker outage. Only agent shutdown cuts it short.
	outCtx, outCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer outCancel()
	var readSince atomic.Int64
	outDone := make(chan error, 1)
	go func() {
		outDone <- s.pumpOutput(outCtx, sh, &readSince)
	}()

	exited := true
	select {
	case <-sh.exited:
	case <-ctx.Done():
		exited = false
		sh.terminate(s.opts.StopGrace)
	}
	cancel()

	if err := s.drainOutput(ctx, sh, &readSince, outDone, outCancel); err != nil {
		log.Printf("agent: relay output: %v", err)
	}
	sh.close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("agent: relay: %v", err)
	}
	return sh.size, exited
}

// drainOutput waits for the output pump after the shell has gone. The pump
// reads the PTY to its end and publishes everything, however long the
// broker is away. A PTY held open by a background job of the shell is
// closed once a read has been idle for drainTimeout. After ctx is done the
// pump gets drainTimeout more and is then stopped.
func (s *Supervisor) drainOutput(ctx context.Context, sh *shellProcess, readSince *atomic.Int64, done <-chan error, stop context.CancelFunc) error {
	idle := time.NewTicker(drainTimeout / 5)
	defer idle.Stop()
	shutdown := ctx.Done()
	var deadline <-chan time.Time
	for {
		select {
		case err := <-done:
			return err
		case <-idle.C:
			if since := readSince.Load(); since != 0 && time.Since(time.Unix(0, since)) >= drainTimeout {
				sh.close()
			}
		case <-shutdown:
			shutdown = nil
			deadline = time.After(drainTimeout)
		case <-deadline:
			stop()
			sh.close()
			return <-done
		}
	}
}

// pumpOutput publishes every chunk read from the PTY, in order. A chunk is
// retried until it is published so that a broker outage delays output but
// does not drop it. readSince holds the start of a pending read in
// nanoseconds, or zero while a chunk is being published.
func (s *Supervisor) pumpOutput(ctx context.Context, sh *shellProcess, readSince *atomic.Int64) error {
	buf := make([]byte, readBufferSize)
	for {
		readSince.Store(time.Now().UnixNano())
		n, err := sh.ptmx.Read(buf)
		readSince.Store(0)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			metrics.PTYBytes.WithLabelValues("out").Add(float64(n))
			if perr := s.publishReliable(ctx, s.channels.Output, chunk); perr != nil {
				log.Printf("agent: dropped %d bytes of shell output: %v", n, perr)
				metrics.OutputDropped.Add(float64(n))
				return nil
			}
		}
		if err != nil {
			// EIO is how Linux reports that the slave side has closed.
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
				return nil
			}
			return fmt.Errorf("read pty: %w", err)
		}
	}
}

// pumpInput writes every input payload to the PTY unchanged.
func (s *Supervisor) pumpInput(ctx context.Context, sh *shellProcess, input <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-input:
			if !ok {
				return nil
			}
			if _, err := sh.ptmx.Write(data); err != nil {
				// The shell is going away; the exit path takes over.
				log.Printf("agent: write to shell: %v", err)
				return nil
			}
			metrics.PTYBytes.WithLabelValues("in").Add(float64(len(data)))
		}
	}
}

// pumpResize applies resize events to the PTY. Malformed payloads are logged
// and skipped.
func (s *Supervisor) pumpResize(ctx context.Context, sh *shellProcess, resize <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-resize:
			if !ok {
				return nil
			}
			ev, err := types.DecodeResize(data)
			if err != nil {
				log.Printf("agent: ignoring resize: %v", err)
				metrics.ResizeEvents.WithLabelValues("malformed").Inc()
				continue
			}
			if err := sh.resize(ev); err != nil {
				log.Printf("agent: resize to %s: %v", ev, err)
				metrics.ResizeEvents.WithLabelValues("failed").Inc()
				continue
			}
			metrics.ResizeEvents.WithLabelValues("applied").Inc()
		}
	}
}

func (s *Supervisor) publishReliable(ctx context.Context, topic string, payload []byte) error {
	delay := publishRetryInitial
	for attempt := 1; ; attempt++ {
		err := s.transport.Publish(ctx, topic, payload)
		if err == nil {
			if attempt > 1 {
				log.Printf("agent: publish to %s recovered after %d attempts", topic, attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, transport.ErrClosed) {
			return err
		}
		metrics.PublishErrors.WithLabelValues(topic).Inc()
		if attempt == 1 {
			log.Printf("agent: publish to %s failed, retrying: %v", topic, err)
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, publishRetryMax)
	}
}

// publishStatus makes a single bounded attempt. It keeps working after ctx
// is cancelled so that agent_stopping can still go out.
func (s *Supervisor) publishStatus(ctx context.Context, st types.Status) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.StatusTimeout)
	defer cancel()
	if err := s.transport.Publish(pctx, s.channels.Status, types.EncodeStatus(st)); err != nil {
		metrics.PublishErrors.WithLabelValues(s.channels.Status).Inc()
		log.Printf("agent: publish status %s: %v", st, err)
	}
}

func (s *Supervisor) logEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.transport.Events():
			if ev.Err != nil {
				log.Printf("agent: transport %s: %v", ev.Kind, ev.Err)
			} else {
				log.Printf("agent: transport %s", ev.Kind)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
