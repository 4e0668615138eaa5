package logging

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/go-zoox/logger"
)

// Level is the minimum severity a Logger emits.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"debug":    LevelDebug,
	"detailed": LevelDebug,
	"info":     LevelInfo,
	"warn":     LevelWarn,
	"error":    LevelError,
}

var level atomic.Int32

func init() {
	level.Store(int32(LevelInfo))
}

// Logger is the logging surface every ntun component receives through its config.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// SetLevel sets the process log level, one of debug, detailed, info, warn or error.
func SetLevel(name string) error {
	lv, ok := levelNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level: %s", name)
	}

	level.Store(int32(lv))
	if lv == LevelDebug {
		logger.SetLevel("debug")
	} else {
		logger.SetLevel(strings.ToLower(name))
	}
	return nil
}

type tagged struct {
	prefix string
}

// New returns a Logger writing through go-zoox/logger with the tags as prefix,
// e.g. New("transport", "tcp-client") logs "[transport][tcp-client] ...".
func New(tags ...string) Logger {
	return &tagged{prefix: prefix(tags)}
}

// With returns a Logger that appends tags to an existing one.
func With(l Logger, tags ...string) Logger {
	if l == nil {
		return New(tags...)
	}

	if t, ok := l.(*tagged); ok {
		return &tagged{prefix: t.prefix + prefix(tags)}
	}

	return &wrapped{parent: l, prefix: prefix(tags)}
}

func prefix(tags []string) string {
	var b strings.Builder
	for _, tag := range tags {
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	return b.String()
}

func enabled(lv Level) bool {
	return Level(level.Load()) <= lv
}

func (t *tagged) Debugf(format string, args ...interface{}) {
	if enabled(LevelDebug) {
		logger.Debugf(t.prefix+" "+format, args...)
	}
}

func (t *tagged) Infof(format string, args ...interface{}) {
	if enabled(LevelInfo) {
		logger.Infof(t.prefix+" "+format, args...)
	}
}

func (t *tagged) Warnf(format string, args ...interface{}) {
	if enabled(LevelWarn) {
		logger.Warnf(t.prefix+" "+format, args...)
	}
}

func (t *tagged) Errorf(format string, args ...interface{}) {
	if enabled(LevelError) {
		logger.Errorf(t.prefix+" "+format, args...)
	}
}

type wrapped struct {
	parent Logger
	prefix string
}

func (w *wrapped) Debugf(format string, args ...interface{}) {
	w.parent.Debugf(w.prefix+" "+format, args...)
}

func (w *wrapped) Infof(format string, args ...interface{}) {
	w.parent.Infof(w.prefix+" "+format, args...)
}

func (w *wrapped) Warnf(format string, args ...interface{}) {
	w.parent.Warnf(w.prefix+" "+format, args...)
}

func (w *wrapped) Errorf(format string, args ...interface{}) {
	w.parent.Errorf(w.prefix+" "+format, args...)
}

type discard struct{}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discard{}
}

func (discard) Debugf(string, ...interface{}) {}
func (discard) Infof(string, ...interface{})  {}
func (discard) Warnf(string, ...interface{})  {}
func (discard) Errorf(string, ...interface{}) {}
