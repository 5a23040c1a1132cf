// Package config loads, normalizes, and validates VoiceStack's TOML
// configuration. Path fields are tilde-expanded and made absolute; engine
// and lock settings fall back to repository defaults and a small set of
// environment variables (WHISPER_MODEL, HF_TOKEN, LLM_API_KEY).
package config
