package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RoutingLog represents a single job routing entry
type RoutingLog struct {
	Timestamp  time.Time `json:"timestamp"`
	JobID      string    `json:"job_id"`
	Platform   string    `json:"platform"`
	Tier       string    `json:"tier"`
	Queue      string    `json:"queue,omitempty"`
	Score      float64   `json:"score"`
	DurationMs int64     `json:"duration_ms"`
	Fallback   bool      `json:"fallback,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// Logger handles routing decision logging
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default routing logger
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a routing log entry
func (l *Logger) Log(entry *RoutingLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	// Console output (human-readable)
	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		dest := entry.Queue
		if dest == "" {
			dest = entry.Platform + "/" + entry.Tier
		}
		fb := ""
		if entry.Fallback {
			fb = " [fallback]"
		}
		fmt.Printf("[route] %s %s → %s score=%.2f %dms%s\n",
			status, entry.JobID, dest, entry.Score, entry.DurationMs, fb)
		if entry.Error != "" {
			fmt.Printf("[route]   error: %s\n", entry.Error)
		}
	}

	// File output (JSON)
	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
