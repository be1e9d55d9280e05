package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFiles creates files under dir from a name to content map and
// returns their absolute paths keyed by name.
func WriteFiles(t testing.TB, dir string, files map[string]string) map[string]string {
	t.Helper()
	paths := make(map[string]string, len(files))
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", path, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		paths[name] = path
	}
	return paths
}
