package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a stand-in media file of the requested size so tests can
// enqueue something that passes the CLI's existence checks. A size <= 0
// writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	// A rolling byte pattern rather than a constant fill, so a truncated or
	// duplicated write would change the content, not just the length.
	chunk := make([]byte, 16*1024)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	for written := int64(0); written < size; {
		n := int64(len(chunk))
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		written += n
	}
}
