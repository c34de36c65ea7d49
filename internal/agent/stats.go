package agent

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// shellStats is resource usage of the shell's session, read from /proc.
// Both values are zero where /proc is unavailable.
type shellStats struct {
	RSSBytes  uint64 // resident memory of the shell itself
	Processes int    // processes in the shell's session, shell included
}

func readShellStats(pid int) shellStats {
	if pid <= 0 {
		return shellStats{}
	}
	return shellStats{
		RSSBytes:  readRSS(pid),
		Processes: countSessionProcesses(pid),
	}
}

// readRSS parses VmRSS from /proc/<pid>/status.
func readRSS(pid int) uint64 {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			return parseKBLine(line) * 1024
		}
	}
	return 0
}

// parseKBLine extracts the numeric value from "VmRSS:   123456 kB".
func parseKBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v
}

// countSessionProcesses counts /proc/[0-9]* entries whose session id is sid.
// The shell leads its own session, so its pid is the session id.
func countSessionProcesses(sid int) int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if !e.IsDir() || len(e.Name()) == 0 || e.Name()[0] < '0' || e.Name()[0] > '9' {
			continue
		}
		data, err := os.ReadFile("/proc/" + e.Name() + "/stat")
		if err != nil {
			continue // exited meanwhile
		}
		if s, ok := sessionID(string(data)); ok && s == sid {
			count++
		}
	}
	return count
}

// sessionID extracts the session field from a /proc/<pid>/stat line:
// "pid (comm) state ppid pgrp session ...". comm may contain spaces and
// parentheses, so fields are counted from the last ')'.
func sessionID(stat string) (int, bool) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return 0, false
	}
	fields := strings.Fields(stat[i+1:])
	if len(fields) < 4 {
		return 0, false
	}
	sid, err := strconv.Atoi(fields[3])
	if err != nil {
		return 0, false
	}
	return sid, true
}
