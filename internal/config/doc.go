// Package config defines the application configuration structure and the
// logic for loading it from environment variables and config files.
//
// Configuration errors are detected once, at startup, so that a missing
// extraction credential halts the process with a single actionable error
// instead of failing every document it touches.
package config
