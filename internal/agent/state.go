package agent

import (
	"fmt"
	"time"

	"github.com/opensandbox/shellrelay/pkg/types"
)

// Phase is the lifecycle phase of the supervised shell.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseRunning
	PhaseExited
	PhaseRestarting
	PhaseStopped
)

var phaseNames = []string{"starting", "running", "exited", "restarting", "stopped"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the shell lifecycle state. A shell that ended is Exited while the
// restart delay runs and Restarting while its replacement is spawned. In
// both phases ExitCode reports how the previous shell ended.
type State struct {
	Phase    Phase
	ExitCode int
}

func (s State) String() string {
	if s.Phase == PhaseExited || s.Phase == PhaseRestarting {
		return fmt.Sprintf("%s(%d)", s.Phase, s.ExitCode)
	}
	return s.Phase.String()
}

type event int

const (
	eventSpawned event = iota
	eventExited
	eventRestart
	eventSpawnFailed
	eventStop
)

// next applies ev to s and returns the new state together with the status
// messages the transition publishes, in order.
func (s State) next(ev event, exitCode int) (State, []types.Status, error) {
	switch {
	case s.Phase == PhaseStopped:
		return s, nil, fmt.Errorf("agent stopped, cannot apply event %d", ev)

	case ev == eventStop:
		return State{Phase: PhaseStopped}, []types.Status{{Kind: types.AgentStopping}}, nil

	case ev == eventSpawned && (s.Phase == PhaseStarting || s.Phase == PhaseRestarting):
		return State{Phase: PhaseRunning}, []types.Status{{Kind: types.ShellStarted}}, nil

	case ev == eventExited && s.Phase == PhaseRunning:
		return State{Phase: PhaseExited, ExitCode: exitCode}, []types.Status{
			{Kind: types.ShellExited, ExitCode: exitCode},
		}, nil

	case ev == eventRestart && s.Phase == PhaseExited:
		return State{Phase: PhaseRestarting, ExitCode: s.ExitCode}, []types.Status{{Kind: types.ShellRestarting}}, nil

	case ev == eventSpawnFailed && s.Phase == PhaseRestarting:
		return s, []types.Status{{Kind: types.ShellRestarting}}, nil
	}
	return s, nil, fmt.Errorf("invalid event %d in state %s", ev, s)
}

// Backoff is a capped exponential restart delay. A shell that stayed up for
// at least ResetAfter starts over from Initial.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	ResetAfter time.Duration

	current time.Duration
}

// Next returns the delay before the next restart, given how long the shell
// that just exited had been running.
func (b *Backoff) Next(uptime time.Duration) time.Duration {
	if b.current == 0 || uptime >= b.ResetAfter {
		b.current = b.Initial
	} else {
		b.current = min(b.current*2, b.Max)
	}
	return b.current
}
