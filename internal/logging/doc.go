// Package logging provides slog construction with console and JSON handlers,
// context-derived structured fields, and attribute helpers shared across the
// daemon and CLI.
package logging
