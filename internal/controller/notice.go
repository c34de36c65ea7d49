package controller

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/opensandbox/shellrelay/internal/transport"
	"github.com/opensandbox/shellrelay/pkg/types"
)

var (
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

// notice is a one-line message shown between shell output.
type notice struct {
	text string
	warn bool
}

// render frames the notice on its own line. Raw mode turns off output
// post-processing, hence the explicit carriage returns.
func (n notice) render() string {
	style := infoStyle
	if n.warn {
		style = warnStyle
	}
	return "\r\n" + style.Render("[shellrelay] "+n.text) + "\r\n"
}

func statusNotice(st types.Status) notice {
	switch st.Kind {
	case types.AgentStarted:
		return notice{text: "agent started"}
	case types.ShellStarted:
		return notice{text: "shell started"}
	case types.ShellExited:
		if st.ExitCode < 0 {
			return notice{text: "shell was killed", warn: true}
		}
		return notice{text: fmt.Sprintf("shell exited with code %d", st.ExitCode), warn: st.ExitCode != 0}
	case types.ShellRestarting:
		return notice{text: "restarting shell"}
	case types.AgentStopping:
		return notice{text: "agent stopping", warn: true}
	}
	return notice{text: st.String()}
}

func eventNotice(ev transport.Event) notice {
	switch ev.Kind {
	case transport.EventDisconnected:
		return notice{text: "connection to broker lost, reconnecting", warn: true}
	case transport.EventConnected:
		return notice{text: "reconnected to broker"}
	case transport.EventFatal:
		return notice{text: fmt.Sprintf("broker connection failed: %v", ev.Err), warn: true}
	}
	return notice{text: ev.Kind.String()}
}
