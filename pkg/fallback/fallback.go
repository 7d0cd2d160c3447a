// Package fallback persists execution records to a rotating local log when
// Kafka delivery is not possible.
package fallback

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/n8n-extras/kafka-execution-logger/pkg/events"
)

const filePrefix = "kafka-fallback-"

// Entry is one line of the fallback log: a record (or batch of records)
// wrapped with the time and reason it was diverted from Kafka.
type Entry struct {
	Timestamp    string                    `json:"timestamp"`
	Reason       string                    `json:"reason"`
	Message      *events.ExecutionRecord   `json:"message,omitempty"`
	MessageCount int                       `json:"messageCount,omitempty"`
	Messages     []*events.ExecutionRecord `json:"messages,omitempty"`
}

// Records returns the entry's payload regardless of single or batch shape.
func (e *Entry) Records() []*events.ExecutionRecord {
	if e.Message != nil {
		return []*events.ExecutionRecord{e.Message}
	}

	return e.Messages
}

type Config struct {
	Directory       string
	MaxFileSize     int64
	MaxFiles        int
	RotateOnStartup bool
}

// Writer appends newline-delimited JSON entries to a size-rotated file set.
// It never returns an error: fallback logging is the last resort, and a
// failing last resort must not take the pipeline down with it.
type Writer struct {
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	currentSize int64

	now func() time.Time
}

func NewWriter(config Config, logger *slog.Logger) *Writer {
	w := &Writer{
		config: config,
		logger: logger.With("module", "fallback"),
		now:    time.Now,
	}

	if err := os.MkdirAll(config.Directory, 0o755); err != nil {
		w.logger.Error("Failed to create fallback log directory", "directory", config.Directory, "error", err)

		return w
	}

	if config.RotateOnStartup {
		w.rotate()

		return w
	}

	if info, err := os.Stat(w.fileName(0)); err == nil {
		w.currentSize = info.Size()
	}

	return w
}

// LogMessage appends a single diverted record.
func (w *Writer) LogMessage(reason string, record *events.ExecutionRecord) {
	w.append(Entry{
		Timestamp: w.now().UTC().Format(events.TimestampLayout),
		Reason:    reason,
		Message:   record,
	})
}

// LogBatch appends a whole diverted batch as one entry.
func (w *Writer) LogBatch(reason string, records []*events.ExecutionRecord) {
	if len(records) == 0 {
		return
	}

	w.append(Entry{
		Timestamp:    w.now().UTC().Format(events.TimestampLayout),
		Reason:       reason,
		MessageCount: len(records),
		Messages:     records,
	})
}

func (w *Writer) append(entry Entry) {
	line, err := json.Marshal(entry)
	if err != nil {
		w.logger.Error("Failed to serialize fallback entry", "reason", entry.Reason, "error", err)

		return
	}

	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentSize+int64(len(line)) > w.config.MaxFileSize {
		w.rotateLocked()
	}

	file, err := os.OpenFile(w.fileName(0), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Error("Failed to open fallback log", "file", w.fileName(0), "error", err)

		return
	}

	defer func() {
		if err := file.Close(); err != nil {
			w.logger.Error("Failed to close fallback log", "error", err)
		}
	}()

	written, err := file.Write(line)
	if err != nil {
		w.logger.Error("Failed to append to fallback log", "file", w.fileName(0), "error", err)
	}

	w.currentSize += int64(written)
}

func (w *Writer) rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.rotateLocked()
}

// rotateLocked shifts every file one index up, dropping the oldest, and
// starts a fresh empty head file.
func (w *Writer) rotateLocked() {
	oldest := w.fileName(w.config.MaxFiles - 1)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			w.logger.Error("Failed to remove oldest fallback log", "file", oldest, "error", err)
		}
	}

	for i := w.config.MaxFiles - 2; i >= 0; i-- {
		from := w.fileName(i)
		if _, err := os.Stat(from); err != nil {
			continue
		}

		if err := os.Rename(from, w.fileName(i+1)); err != nil {
			w.logger.Error("Failed to rotate fallback log", "file", from, "error", err)
		}
	}

	file, err := os.OpenFile(w.fileName(0), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		w.logger.Error("Failed to create fallback log", "file", w.fileName(0), "error", err)
	} else if err := file.Close(); err != nil {
		w.logger.Error("Failed to close fallback log", "error", err)
	}

	w.currentSize = 0

	w.logger.Info("Rotated fallback log", "directory", w.config.Directory)
}

func (w *Writer) fileName(index int) string {
	return filepath.Join(w.config.Directory, fmt.Sprintf("%s%d.log", filePrefix, index))
}

// ReadEntries loads every entry in the file set, oldest file first, line
// order preserved within each file. Corrupt lines are skipped and counted.
func ReadEntries(directory string, maxFiles int) ([]Entry, int, error) {
	var entries []Entry

	skipped := 0

	for i := maxFiles - 1; i >= 0; i-- {
		path := filepath.Join(directory, fmt.Sprintf("%s%d.log", filePrefix, i))

		file, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, skipped, fmt.Errorf("failed to open fallback log %s: %w", path, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(line, &entry); err != nil {
				skipped++

				continue
			}

			entries = append(entries, entry)
		}

		scanErr := scanner.Err()

		if err := file.Close(); err != nil {
			return nil, skipped, fmt.Errorf("failed to close fallback log %s: %w", path, err)
		}

		if scanErr != nil {
			return nil, skipped, fmt.Errorf("failed to read fallback log %s: %w", path, scanErr)
		}
	}

	return entries, skipped, nil
}
