package platform

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// FileReader replays a packet dump file as a single record.
type FileReader struct {
	path string

	mu     sync.Mutex
	done   bool
	closed bool
}

// NewFileReader returns a reader over the dump at path. The file is read on
// the first call to Read.
func NewFileReader(path string) *FileReader {
	return &FileReader{path: path}
}

// Read returns the whole file, then io.EOF.
func (f *FileReader) Read() (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return Record{}, ErrClosed
	}
	if f.done {
		return Record{}, io.EOF
	}
	f.done = true

	data, err := os.ReadFile(f.path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read dump %s: %w", f.path, err)
	}
	return Record{RawSample: data}, nil
}

func (f *FileReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
