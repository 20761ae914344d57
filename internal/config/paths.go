package config

import "path/filepath"

// All citychat-owned directories live under home (~/.citychat or CITYCHAT_HOME).

// Home returns the citychat root directory.
func Home() string {
	return ResolveHome()
}

// DataDir returns home/data.
func DataDir() string {
	return filepath.Join(Home(), "data")
}

// SessionDir returns home/data/sessions, where the terminal client keeps
// conversation ids and transcripts.
func SessionDir() string {
	return filepath.Join(DataDir(), "sessions")
}

// LogsDir returns home/logs.
func LogsDir() string {
	return filepath.Join(Home(), "logs")
}
