package transport

import "strings"

// Channels holds the four topics of one session.
type Channels struct {
	Input  string // controller -> agent keystrokes
	Output string // agent -> controller terminal output
	Resize string // controller -> agent window size
	Status string // agent -> controller liveness
}

// NewChannels derives the session topics from a channel prefix.
func NewChannels(prefix string) Channels {
	prefix = strings.TrimSuffix(prefix, "/")
	return Channels{
		Input:  prefix + "/in",
		Output: prefix + "/out",
		Resize: prefix + "/resize",
		Status: prefix + "/status",
	}
}

// natsSubject maps a slash separated topic to a NATS subject.
func natsSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}
