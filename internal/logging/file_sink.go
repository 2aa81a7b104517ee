package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const defaultLogFileMaxBytes = 5 * 1024 * 1024

// fileSink appends JSON lines to a per-process file set, starting a new part
// whenever the current one would exceed maxBytes.
type fileSink struct {
	mu         sync.Mutex
	dir        string
	sessionTag string
	maxBytes   int64
	part       int
	file       *os.File
	size       int64
	closed     bool
}

type jsonLogLine struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func DefaultLogDirPath() (string, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, "eventsub-relay", "logs"), nil
}

func newFileSink(maxBytes int64) (*fileSink, error) {
	if maxBytes <= 0 {
		maxBytes = defaultLogFileMaxBytes
	}
	dir, err := DefaultLogDirPath()
	if err != nil {
		return nil, err
	}
	sink := &fileSink{
		dir:        dir,
		sessionTag: time.Now().UTC().Format("20060102-150405"),
		maxBytes:   maxBytes,
	}
	if err := sink.rotateLocked(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *fileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.size = 0
	return err
}

func (s *fileSink) WriteEvent(event Event) error {
	if s == nil {
		return nil
	}
	line, err := encodeLogLine(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	needsRotate := s.file == nil ||
		(s.maxBytes > 0 && s.size > 0 && s.size+int64(len(line)) > s.maxBytes)
	if needsRotate {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	return err
}

func encodeLogLine(event Event) ([]byte, error) {
	entry := jsonLogLine{
		Time:    event.Time.UTC().Format(time.RFC3339Nano),
		Level:   strings.ToUpper(event.Level.String()),
		Message: event.Message,
	}
	if len(event.Fields) > 0 {
		entry.Fields = make(map[string]any, len(event.Fields))
		for key, value := range event.Fields {
			entry.Fields[key] = jsonFieldValue(value)
		}
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return append(payload, '\n'), nil
}

func jsonFieldValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case error:
		return v.Error()
	case Secret:
		return v.String()
	case slog.Level:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return value
	}
}

func (s *fileSink) rotateLocked() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
		s.size = 0
	}
	s.part++
	path := filepath.Join(s.dir, fmt.Sprintf("relay-%s-%03d.jsonl", s.sessionTag, s.part))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.size = info.Size()
	return nil
}
