// Package logging wraps logrus with the timestamp/level/caller formatter
// this server's ambient stack uses everywhere, mirroring the teacher's own
// logger package.
package logging

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	once sync.Once
	base *logrus.Logger
)

// FieldLogger is the logrus interface returned by L().WithField(...),
// re-exported so callers outside this package don't import logrus directly
// just to type a field.
type FieldLogger = logrus.FieldLogger

// formatter renders "[15:04:05.000] [INFO] (file.go:42) message".
type formatter struct{}

func (formatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("15:04:05.000")
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	msg := fmt.Sprintf("[%s] [%s] (%s) %s", timestamp, level, caller(), entry.Message)
	for k, v := range entry.Data {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	return append([]byte(msg), '\n'), nil
}

func caller() string {
	for i := 2; i < 20; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") || strings.Contains(file, "internal/logging") {
			continue
		}
		idx := strings.LastIndex(file, "/")
		if idx >= 0 {
			file = file[idx+1:]
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return "?"
}

// L returns the process-wide logger, initializing it on first use.
func L() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetFormatter(formatter{})
		base.SetLevel(logrus.InfoLevel)
	})
	return base
}

// SetDebug raises the logger to debug level when --debug is passed.
func SetDebug(enabled bool) {
	if enabled {
		L().SetLevel(logrus.DebugLevel)
	} else {
		L().SetLevel(logrus.InfoLevel)
	}
}

// Debug reports whether debug-level logging (and debug packet dumps) is on.
func Debug() bool {
	return L().IsLevelEnabled(logrus.DebugLevel)
}
