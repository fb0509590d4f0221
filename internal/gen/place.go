package gen

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"testmend/internal/shard"
)

// Stem names the generated file after the shard's first source file, the
// shard position when the shard carries no files.
func Stem(s shard.Shard) string {
	if len(s.Files) == 0 {
		return fmt.Sprintf("shard_%d", s.Index+1)
	}
	base := filepath.Base(s.Files[0])
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Place writes code under dir as test_<stem>_gaps.py, appending a numeric
// suffix when the name is already taken. Returns the written path.
func Place(dir, stem, code string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("test_%s_gaps.py", stem))
	for n := 2; fileExists(path); n++ {
		path = filepath.Join(dir, fmt.Sprintf("test_%s_gaps_%d.py", stem, n))
	}

	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
