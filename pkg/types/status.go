package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownStatus is returned by DecodeStatus for tokens it does not know.
var ErrUnknownStatus = errors.New("unknown status message")

// StatusKind enumerates the liveness notifications published by the agent.
type StatusKind int

const (
	AgentStarted StatusKind = iota + 1
	ShellStarted
	ShellExited
	ShellRestarting
	AgentStopping
)

var statusTokens = map[StatusKind]string{
	AgentStarted:    "agent_started",
	ShellStarted:    "shell_started",
	ShellExited:     "shell_exited",
	ShellRestarting: "shell_restarting",
	AgentStopping:   "agent_stopping",
}

// Tokens sent by older agents.
var legacyStatusTokens = map[string]StatusKind{
	"shell_ready":            ShellStarted,
	"shell_error_restarting": ShellRestarting,
}

// Status is a single message on the status channel. ExitCode is only
// meaningful for ShellExited; -1 means the shell was killed by a signal or
// the code is unknown.
type Status struct {
	Kind     StatusKind
	ExitCode int
}

func (s Status) String() string {
	token, ok := statusTokens[s.Kind]
	if !ok {
		return fmt.Sprintf("status(%d)", int(s.Kind))
	}
	if s.Kind == ShellExited {
		return token + ":" + strconv.Itoa(s.ExitCode)
	}
	return token
}

// EncodeStatus returns the wire form of s, e.g. "shell_exited:1".
func EncodeStatus(s Status) []byte {
	return []byte(s.String())
}

// DecodeStatus parses a status payload.
func DecodeStatus(data []byte) (Status, error) {
	text := strings.TrimSpace(string(data))

	if kind, ok := legacyStatusTokens[text]; ok {
		return Status{Kind: kind}, nil
	}

	name, code, hasCode := strings.Cut(text, ":")
	for kind, token := range statusTokens {
		if token != name {
			continue
		}
		if kind != ShellExited {
			if hasCode {
				return Status{}, fmt.Errorf("%w: %q", ErrUnknownStatus, text)
			}
			return Status{Kind: kind}, nil
		}
		if !hasCode {
			return Status{Kind: ShellExited, ExitCode: -1}, nil
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			return Status{}, fmt.Errorf("%w: bad exit code in %q", ErrUnknownStatus, text)
		}
		return Status{Kind: ShellExited, ExitCode: n}, nil
	}
	return Status{}, fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}
