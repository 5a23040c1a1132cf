package artifacts_test

import (
	"os"
	"strings"
	"testing"

	"github.com/Zipties/voicestack2/internal/artifacts"
)

func sampleSegments() []artifacts.TranscriptSegment {
	return []artifacts.TranscriptSegment{
		{Start: 0, End: 1.5, Speaker: "Speaker A", Text: "hello there"},
		{Start: 1.5, End: 3661.25, Speaker: "Speaker B", Text: "general"},
		{Start: 3661.25, End: 3662, Speaker: "", Text: "   "},
	}
}

func TestWriteTextPrefixesSpeakers(t *testing.T) {
	dir := t.TempDir()
	path, err := artifacts.WriteText(dir, sampleSegments())
	if err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "Speaker A: hello there\nSpeaker B: general\n"
	if string(data) != want {
		t.Fatalf("unexpected text:\n%q\nwant:\n%q", data, want)
	}
}

func TestWriteSRTFormatsTimestamps(t *testing.T) {
	dir := t.TempDir()
	path, err := artifacts.WriteSRT(dir, sampleSegments())
	if err != nil {
		t.Fatalf("WriteSRT: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "00:00:00,000 --> 00:00:01,500") {
		t.Fatalf("missing first timestamp range:\n%s", content)
	}
	if !strings.Contains(content, "00:00:01,500 --> 01:01:01,250") {
		t.Fatalf("missing hour-spanning timestamp:\n%s", content)
	}
	if !strings.Contains(content, "Speaker A: hello there") {
		t.Fatalf("missing speaker prefix:\n%s", content)
	}
	// Whitespace-only segment is dropped, so only two cues.
	if strings.Contains(content, "3\n") {
		t.Fatalf("expected 2 cues only:\n%s", content)
	}
}

func TestWriteVTTHeaderAndSeparator(t *testing.T) {
	dir := t.TempDir()
	path, err := artifacts.WriteVTT(dir, sampleSegments())
	if err != nil {
		t.Fatalf("WriteVTT: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "WEBVTT\n\n") {
		t.Fatalf("missing WEBVTT header:\n%s", content)
	}
	if !strings.Contains(content, "00:00:00.000 --> 00:00:01.500") {
		t.Fatalf("expected dot millisecond separator:\n%s", content)
	}
}

func TestStepLogAppendsTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	log, err := artifacts.OpenStepLog(dir, "job-1")
	if err != nil {
		t.Fatalf("OpenStepLog: %v", err)
	}
	log.Step("stage %s started", "asr")
	log.Failure("asr", os.ErrDeadlineExceeded)
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening must append, not truncate.
	again, err := artifacts.OpenStepLog(dir, "job-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Step("retrying")
	if err := again.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(log.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], "stage asr started") {
		t.Fatalf("unexpected first line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "FAILED asr") {
		t.Fatalf("unexpected failure line: %q", lines[1])
	}
	// Each line starts with an RFC3339 UTC timestamp.
	for _, line := range lines {
		if !strings.Contains(line, "T") || !strings.HasSuffix(strings.Fields(line)[0], "Z") {
			t.Fatalf("line missing timestamp prefix: %q", line)
		}
	}
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	doc := artifacts.TranscriptDocument{
		JobID:    "job-1",
		Title:    "Weekly sync",
		Text:     "hello there general",
		Segments: sampleSegments(),
	}
	path, err := artifacts.WriteJSON(dir, "transcript.json", doc)
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"title": "Weekly sync"`) {
		t.Fatalf("missing title:\n%s", data)
	}
}
