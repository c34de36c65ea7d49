package client

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensandbox/shellrelay/internal/agent"
	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/types"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSessionSendAndResize(t *testing.T) {
	broker := transport.NewMemoryBroker()
	peer := broker.Client()
	channels := transport.NewChannels("s1")

	ctx := context.Background()
	input, _ := peer.Subscribe(ctx, channels.Input)
	resize, _ := peer.Subscribe(ctx, channels.Resize)

	sess, err := Open(ctx, broker.Client(), "s1/")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	if err := sess.Send(ctx, []byte("ls -l\r")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := string(receive(t, input)); got != "ls -l\r" {
		t.Errorf("input = %q", got)
	}

	if err := sess.Resize(ctx, types.ResizeEvent{Rows: 30, Cols: 90}); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	got, err := types.DecodeResize(receive(t, resize))
	if err != nil || got != (types.ResizeEvent{Rows: 30, Cols: 90}) {
		t.Errorf("resize = %v (%v)", got, err)
	}
}

func TestSessionStatus(t *testing.T) {
	broker := transport.NewMemoryBroker()
	peer := broker.Client()
	ctx := context.Background()

	sess, err := Open(ctx, broker.Client(), "s2")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	for _, msg := range []string{"shell_exited:4", "bogus", "agent_started"} {
		if err := peer.Publish(ctx, sess.Channels().Status, []byte(msg)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	want := []types.Status{{Kind: types.ShellExited, ExitCode: 4}, {Kind: types.AgentStarted}}
	for _, w := range want {
		select {
		case got := <-sess.Status():
			if got != w {
				t.Errorf("status = %s, want %s", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("missing status %s", w)
		}
	}
}

func TestSessionSendRetriesUntilPublished(t *testing.T) {
	broker := transport.NewMemoryBroker()
	peer := broker.Client()
	ctx := context.Background()
	input, _ := peer.Subscribe(ctx, transport.NewChannels("s3").Input)

	c := broker.Client()
	sess, err := Open(ctx, c, "s3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	c.FailPublishes(transport.ErrInjected)
	done := make(chan error, 1)
	go func() { done <- sess.Send(ctx, []byte("x")) }()

	time.Sleep(250 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("Send returned during outage: %v", err)
	default:
	}

	c.FailPublishes(nil)
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := string(receive(t, input)); got != "x" {
		t.Errorf("input = %q", got)
	}
}

func TestSessionSendStopsOnCancel(t *testing.T) {
	broker := transport.NewMemoryBroker()
	c := broker.Client()
	sess, err := Open(context.Background(), c, "s4")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	c.FailPublishes(transport.ErrInjected)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := sess.Send(ctx, []byte("x")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestSessionCloseEndsOutput(t *testing.T) {
	broker := transport.NewMemoryBroker()
	sess, err := Open(context.Background(), broker.Client(), "s5")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sess.Close()
	sess.Close()

	select {
	case _, ok := <-sess.Output():
		if ok {
			t.Error("unexpected output after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("output channel not closed")
	}
}

func TestSessionExec(t *testing.T) {
	broker := transport.NewMemoryBroker()
	agentClient := broker.Client()
	defer agentClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sess, err := Open(ctx, broker.Client(), "exec")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	sup := agent.NewSupervisor(agentClient, transport.NewChannels("exec"), agent.Options{
		Command: []string{"/bin/sh", "-i"},
	})
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Wait for the shell before sending the command.
	deadline := time.After(5 * time.Second)
	for ready := false; !ready; {
		select {
		case st := <-sess.Status():
			ready = st.Kind == types.ShellStarted
		case <-deadline:
			t.Fatal("shell did not start")
		}
	}

	var out bytes.Buffer
	execCtx, execCancel := context.WithTimeout(ctx, 5*time.Second)
	defer execCancel()
	if err := sess.Exec(execCtx, "echo relay-$((6*7))", &out, 500*time.Millisecond); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if !strings.Contains(out.String(), "relay-42") {
		t.Errorf("output %q does not contain the command's result", out.String())
	}
}
