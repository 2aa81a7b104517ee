package logging

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Logger struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	base         []slog.Attr
	shared       *sharedState
}

// sharedState is common to a root logger and every logger derived from it
// with With, so sinks and subscribers are configured once.
type sharedState struct {
	mu          sync.RWMutex
	fileSink    *fileSink
	nextID      int
	subscribers map[int]func(Event)
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	logger := &Logger{
		pretty: shouldPrettyPrint(),
		shared: &sharedState{subscribers: map[int]func(Event){}},
	}
	logger.debugEnabled.Store(debug)
	logger.terminalOut.Store(true)
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// With returns a logger that adds fields to every event. Debug and terminal
// switches are copied at call time; sinks and subscribers stay shared.
func (l *Logger) With(fields ...slog.Attr) *Logger {
	if l == nil {
		return nil
	}
	child := &Logger{
		pretty: l.pretty,
		base:   append(append([]slog.Attr(nil), l.base...), fields...),
		shared: l.shared,
	}
	child.debugEnabled.Store(l.debugEnabled.Load())
	child.terminalOut.Store(l.terminalOut.Load())
	return child
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	if !l.debugEnabled.Load() {
		// Debug events still reach the file sink when terminal debug output is off.
		l.log(slog.LevelDebug, msg, fields, false)
		return
	}
	l.log(slog.LevelDebug, msg, fields, true)
}

func (l *Logger) SetDebugEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.debugEnabled.Store(enabled)
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.terminalOut.Store(enabled)
}

func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(maxBytes)
	if err != nil {
		return err
	}
	l.shared.mu.Lock()
	old := l.shared.fileSink
	l.shared.fileSink = sink
	l.shared.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.shared.mu.Lock()
	sink := l.shared.fileSink
	l.shared.fileSink = nil
	l.shared.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) Subscribe(fn func(Event)) func() {
	if l == nil {
		panic("logging.Logger.Subscribe: logger must not be nil")
	}
	if fn == nil {
		panic("logging.Logger.Subscribe: callback must not be nil")
	}
	s := l.shared
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr, publish bool) {
	if len(l.base) > 0 {
		attrs = append(append([]slog.Attr(nil), l.base...), attrs...)
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  attrsToMap(attrs),
	}
	l.shared.mu.RLock()
	sink := l.shared.fileSink
	l.shared.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if publish && l.terminalOut.Load() {
		l.emit(event)
	}
	if publish {
		l.publishEvent(event)
	}
}

func (l *Logger) emit(event Event) {
	if l.pretty {
		_, _ = os.Stderr.WriteString(FormatEventANSI(event))
		return
	}
	_, _ = os.Stderr.WriteString(FormatEventLine(event))
}

func (l *Logger) publishEvent(event Event) {
	s := l.shared
	s.mu.RLock()
	if len(s.subscribers) == 0 {
		s.mu.RUnlock()
		return
	}
	callbacks := make([]func(Event), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		callbacks = append(callbacks, cb)
	}
	s.mu.RUnlock()

	for _, cb := range callbacks {
		cb(event)
	}
}
