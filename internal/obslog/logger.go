// Package obslog provides the supervisor's structured logger: JSON lines in
// Kubernetes, human-readable text locally, with rate-limited error output so
// a flapping worker can't flood stdout.
package obslog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Logger is the minimal, component-aware logging surface the rest of the
// supervisor depends on.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	WithComponent(component string) Logger
}

type supervisorLogger struct {
	level     string
	debug     bool
	service   string
	component string
	format    string
	output    io.Writer

	mu           sync.RWMutex
	errorLimiter *rateLimiter
}

// New creates a logger for serviceName. Level and format come from
// SUPERVISOR_LOG_LEVEL / SUPERVISOR_LOG_FORMAT, with a Kubernetes
// auto-detect defaulting to JSON.
func New(serviceName string) Logger {
	level := os.Getenv("SUPERVISOR_LOG_LEVEL")
	if level == "" {
		level = "INFO"
	}
	debug := strings.ToUpper(level) == "DEBUG" || os.Getenv("SUPERVISOR_DEBUG") == "true"

	format := "text"
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		format = "json"
	}
	if f := os.Getenv("SUPERVISOR_LOG_FORMAT"); f != "" {
		format = f
	}

	return &supervisorLogger{
		level:        strings.ToUpper(level),
		debug:        debug,
		service:      serviceName,
		component:    "supervisor",
		format:       format,
		output:       os.Stdout,
		errorLimiter: newRateLimiter(time.Second),
	}
}

func (l *supervisorLogger) WithComponent(component string) Logger {
	return &supervisorLogger{
		level: l.level, debug: l.debug, service: l.service,
		component: component, format: l.format, output: l.output,
		errorLimiter: l.errorLimiter,
	}
}

func (l *supervisorLogger) Info(msg string, fields map[string]interface{})  { l.log("INFO", msg, fields) }
func (l *supervisorLogger) Warn(msg string, fields map[string]interface{})  { l.log("WARN", msg, fields) }
func (l *supervisorLogger) Debug(msg string, fields map[string]interface{}) {
	if !l.debug {
		return
	}
	l.log("DEBUG", msg, fields)
}

func (l *supervisorLogger) Error(msg string, fields map[string]interface{}) {
	if l.errorLimiter != nil && !l.errorLimiter.allow() {
		return
	}
	l.log("ERROR", msg, fields)
}

var levelOrder = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func (l *supervisorLogger) log(level, msg string, fields map[string]interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if cur, ok := levelOrder[l.level]; ok {
		if this, ok2 := levelOrder[level]; ok2 && this < cur {
			return
		}
	}

	ts := time.Now().Format(time.RFC3339)
	if l.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   l.service,
			"component": l.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(l.output, string(data))
		}
		return
	}

	var b strings.Builder
	for k, v := range fields {
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	fmt.Fprintf(l.output, "%s [%s] [%s/%s] %s%s\n", ts, level, l.service, l.component, msg, b.String())
}

// FromContext is a convenience no-op for call sites that want to thread a
// request-scoped logger later without plumbing a parameter through today;
// it just returns base unchanged.
func FromContext(_ context.Context, base Logger) Logger { return base }

type rateLimiter struct {
	interval time.Duration
	last     time.Time
	mu       sync.Mutex
}

func newRateLimiter(interval time.Duration) *rateLimiter {
	return &rateLimiter{interval: interval}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if now.Sub(r.last) >= r.interval {
		r.last = now
		return true
	}
	return false
}
