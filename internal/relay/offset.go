package relay

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileOffsetStore keeps the last acknowledged offset in a small text file,
// rewritten atomically via rename. A missing file reads as offset 0.
type FileOffsetStore struct {
	path string
}

func NewFileOffsetStore(path string) *FileOffsetStore {
	return &FileOffsetStore{path: path}
}

func (s *FileOffsetStore) Get() (int64, error) {
	b, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	off, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt offset file %s: %w", s.path, err)
	}
	return off, nil
}

func (s *FileOffsetStore) Set(offset int64) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(offset, 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
