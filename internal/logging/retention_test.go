package logging_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Zipties/voicestack2/internal/logging"
)

func writeAgedFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestCleanupOldLogsPrunesExpiredMatches(t *testing.T) {
	dir := t.TempDir()
	old := writeAgedFile(t, dir, "a_pipeline.log", 40*24*time.Hour)
	fresh := writeAgedFile(t, dir, "b_pipeline.log", time.Hour)
	unrelated := writeAgedFile(t, dir, "notes.txt", 40*24*time.Hour)
	excluded := writeAgedFile(t, dir, "c_pipeline.log", 40*24*time.Hour)

	logging.CleanupOldLogs(nil, 30, logging.RetentionTarget{
		Dir:     dir,
		Pattern: "*_pipeline.log",
		Exclude: []string{excluded},
	})

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected %s pruned", old)
	}
	for _, path := range []string{fresh, unrelated, excluded} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s kept: %v", path, err)
		}
	}
}

func TestCleanupOldLogsDisabled(t *testing.T) {
	dir := t.TempDir()
	old := writeAgedFile(t, dir, "a_pipeline.log", 400*24*time.Hour)

	logging.CleanupOldLogs(nil, 0, logging.RetentionTarget{Dir: dir, Pattern: "*_pipeline.log"})

	if _, err := os.Stat(old); err != nil {
		t.Fatalf("expected file kept when retention disabled: %v", err)
	}
}
