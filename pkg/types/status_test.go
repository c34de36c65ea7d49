package types

import (
	"errors"
	"testing"
)

func TestStatusEncode(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{Status{Kind: AgentStarted}, "agent_started"},
		{Status{Kind: ShellStarted}, "shell_started"},
		{Status{Kind: ShellExited, ExitCode: 0}, "shell_exited:0"},
		{Status{Kind: ShellExited, ExitCode: 127}, "shell_exited:127"},
		{Status{Kind: ShellExited, ExitCode: -1}, "shell_exited:-1"},
		{Status{Kind: ShellRestarting}, "shell_restarting"},
		{Status{Kind: AgentStopping}, "agent_stopping"},
	}
	for _, tc := range cases {
		if got := string(EncodeStatus(tc.status)); got != tc.want {
			t.Errorf("EncodeStatus(%+v): expected %q, got %q", tc.status, tc.want, got)
		}
		decoded, err := DecodeStatus([]byte(tc.want))
		if err != nil {
			t.Fatalf("DecodeStatus(%q) error: %v", tc.want, err)
		}
		if decoded != tc.status {
			t.Errorf("DecodeStatus(%q): expected %+v, got %+v", tc.want, tc.status, decoded)
		}
	}
}

func TestDecodeStatusLegacyTokens(t *testing.T) {
	cases := map[string]Status{
		"shell_ready":            {Kind: ShellStarted},
		"shell_error_restarting": {Kind: ShellRestarting},
		"shell_exited":           {Kind: ShellExited, ExitCode: -1},
		"shell_restarting\n":     {Kind: ShellRestarting},
	}
	for payload, want := range cases {
		got, err := DecodeStatus([]byte(payload))
		if err != nil {
			t.Fatalf("DecodeStatus(%q) error: %v", payload, err)
		}
		if got != want {
			t.Errorf("DecodeStatus(%q): expected %+v, got %+v", payload, want, got)
		}
	}
}

func TestDecodeStatusUnknown(t *testing.T) {
	for _, payload := range []string{"", "hello", "shell_exited:abc", "agent_started:3"} {
		_, err := DecodeStatus([]byte(payload))
		if !errors.Is(err, ErrUnknownStatus) {
			t.Errorf("DecodeStatus(%q): expected ErrUnknownStatus, got %v", payload, err)
		}
	}
}
