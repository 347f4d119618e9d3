package writer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	shared "github.com/homepulse/server/pkg"
)

// FileDeadLetter is the append-only JSON-lines log of points the pipeline
// gave up on. Each append is fsynced; this log is the only place core data
// loss is visible.
type FileDeadLetter struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileDeadLetter(path string) (*FileDeadLetter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open dead letter log: %w", err)
	}
	return &FileDeadLetter{f: f}, nil
}

func (d *FileDeadLetter) Record(rec shared.DeadLetterRecord) error {
	if rec.At == "" {
		rec.At = time.Now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode dead letter record: %w", err)
	}
	data = append(data, '\n')

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Write(data); err != nil {
		return fmt.Errorf("append dead letter record: %w", err)
	}
	return d.f.Sync()
}

func (d *FileDeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
