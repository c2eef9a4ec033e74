// Package logging provides a leveled, printf-style logging interface for the
// nas-web media core, backed by log/slog.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// Until Init is called the level comes from the LOG_LEVEL (or DEBUG)
// environment variable and records go to stderr as text. Init switches to the
// configured level and format ("text" or "json").
//
// Components obtain a scoped logger with With("supervisor"), which adds a
// component attribute to every record.
package logging
