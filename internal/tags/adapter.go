package tags

import (
	"fmt"
	"os"
	"path/filepath"

	"go.senan.xyz/taglib"
)

// FS is the production Adapter: TagLib for tag I/O, the local filesystem
// for presence checks and moves.
type FS struct{}

// NewFS returns a filesystem-backed adapter.
func NewFS() *FS {
	return &FS{}
}

func (*FS) ReadTags(path string) (map[string][]string, error) {
	raw, err := taglib.ReadTags(path)
	if err != nil {
		return nil, fmt.Errorf("read tags from %s: %w", path, err)
	}
	return raw, nil
}

func (*FS) WriteTags(path string, t map[string][]string) error {
	// DiffBeforeWrite skips touching the file when the tags already hold
	// the requested values, which keeps repeated embeds idempotent.
	if err := taglib.WriteTags(path, t, taglib.DiffBeforeWrite); err != nil {
		return fmt.Errorf("write tags to %s: %w", path, err)
	}
	return nil
}

func (*FS) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (*FS) Move(from, to string) error {
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", to, err)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return nil
}
