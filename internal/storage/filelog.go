package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"price-forecast/internal/journal"
)

// ErrCorruptLog reports an unreadable journal file.
var ErrCorruptLog = errors.New("storage: corrupt journal log")

const maxLineBytes = 1 << 20

// FileLog is an append-only JSON-lines journal. Every event is one line.
type FileLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenFileLog opens (creating if needed) the log at path.
func OpenFileLog(path string) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("journal.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal log: %w", err)
	}
	return &FileLog{path: path, file: f}, nil
}

// Path returns the backing file path.
func (l *FileLog) Path() string {
	return l.path
}

// Append writes ev as one line and syncs it to disk.
func (l *FileLog) Append(_ context.Context, ev journal.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return fmt.Errorf("journal log %s is closed", l.path)
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("write journal event: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync journal log: %w", err)
	}
	return nil
}

// Load reads every event in file order.
func (l *FileLog) Load(ctx context.Context) ([]journal.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("open journal log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	events := make([]journal.Event, 0)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev journal.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrCorruptLog, lineNo, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptLog, err)
	}
	return events, nil
}

// Close closes the file handle.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var _ journal.EventStore = (*FileLog)(nil)
