package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TranscriptSegment is one attributed span rendered into the final artifacts.
type TranscriptSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// TranscriptDocument is the JSON rendition of a finished transcript.
type TranscriptDocument struct {
	JobID    string              `json:"job_id"`
	Title    string              `json:"title,omitempty"`
	Summary  string              `json:"summary,omitempty"`
	Tags     []string            `json:"tags,omitempty"`
	Language string              `json:"language,omitempty"`
	Text     string              `json:"text"`
	Segments []TranscriptSegment `json:"segments"`
}

// WriteJSON marshals any payload into the artifact directory. Stages use it
// for intermediate dumps; the finalizer uses it for transcript.json.
func WriteJSON(dir, name string, payload any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure artifact dir: %w", err)
	}
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// WriteText renders the speaker-attributed plain text transcript.
func WriteText(dir string, segments []TranscriptSegment) (string, error) {
	var builder strings.Builder
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		if segment.Speaker != "" {
			builder.WriteString(segment.Speaker)
			builder.WriteString(": ")
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return writeFile(dir, "transcript.txt", builder.String())
}

// WriteSRT renders SubRip subtitles with speaker prefixes.
func WriteSRT(dir string, segments []TranscriptSegment) (string, error) {
	var builder strings.Builder
	index := 1
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&builder, "%d\n%s --> %s\n%s\n\n",
			index,
			formatSRTTimestamp(segment.Start),
			formatSRTTimestamp(segment.End),
			speakerLine(segment.Speaker, text),
		)
		index++
	}
	return writeFile(dir, "transcript.srt", builder.String())
}

// WriteVTT renders WebVTT subtitles with speaker prefixes.
func WriteVTT(dir string, segments []TranscriptSegment) (string, error) {
	var builder strings.Builder
	builder.WriteString("WEBVTT\n\n")
	for _, segment := range segments {
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&builder, "%s --> %s\n%s\n\n",
			formatVTTTimestamp(segment.Start),
			formatVTTTimestamp(segment.End),
			speakerLine(segment.Speaker, text),
		)
	}
	return writeFile(dir, "transcript.vtt", builder.String())
}

func speakerLine(speaker, text string) string {
	if speaker == "" {
		return text
	}
	return speaker + ": " + text
}

func writeFile(dir, name, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure artifact dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return path, nil
}

// formatSRTTimestamp renders seconds as HH:MM:SS,mmm.
func formatSRTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ",")
}

// formatVTTTimestamp renders seconds as HH:MM:SS.mmm.
func formatVTTTimestamp(seconds float64) string {
	return formatTimestamp(seconds, ".")
}

func formatTimestamp(seconds float64, millisSep string) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3600000
	minutes := (totalMillis % 3600000) / 60000
	secs := (totalMillis % 60000) / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", hours, minutes, secs, millisSep, millis)
}
