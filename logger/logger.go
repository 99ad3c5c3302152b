// Package logger provides structured logging for the pipeline worker.
//
// It wraps the standard log/slog with convenience functions for:
//   - Task lifecycle logging (start, done, error, retry)
//   - Outbound HTTP call logging (ASR, LLM, webhook, object store)
//   - Automatic redaction of presigned-URL signatures and credentials,
//     bearer tokens, and API keys
//   - Level-based verbosity control via LOG_LEVEL
//
// All exported functions use the global DefaultLogger, which can be
// reconfigured for different output formats and levels.
package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultLogger is the global structured logger instance.
// Safe for concurrent use; initialized with slog.LevelInfo by default.
var DefaultLogger *slog.Logger

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetLevel changes the logging level for all subsequent log operations.
func SetLevel(level slog.Level) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetVerbose enables debug-level logging, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

func Info(msg string, args ...any)  { DefaultLogger.Info(msg, args...) }
func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }
func Warn(msg string, args ...any)  { DefaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// TaskStart logs the beginning of a task execution.
func TaskStart(taskName, transcriptID string, attempt int, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs, "task", taskName, "transcript_id", transcriptID, "attempt", attempt)
	allAttrs = append(allAttrs, attrs...)
	Info("▶ task start", allAttrs...)
}

// TaskDone logs the successful completion of a task.
func TaskDone(taskName, transcriptID string, durationMs int64, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs, "task", taskName, "transcript_id", transcriptID, "duration_ms", durationMs)
	allAttrs = append(allAttrs, attrs...)
	Info("✅ task done", allAttrs...)
}

// TaskError logs a task failure.
func TaskError(taskName, transcriptID string, attempt int, err error, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs, "task", taskName, "transcript_id", transcriptID, "attempt", attempt, "error", err)
	allAttrs = append(allAttrs, attrs...)
	Error("❌ task failed", allAttrs...)
}

// TaskRetry logs a scheduled retry after a transient failure.
func TaskRetry(taskName, transcriptID string, attempt int, backoff string, err error) {
	Warn("↻ task retry scheduled", "task", taskName, "transcript_id", transcriptID, "attempt", attempt, "backoff", backoff, "error", err)
}

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(X-Amz-Signature=)[^&\s]+`),
	regexp.MustCompile(`(?i)(X-Amz-Credential=)[^&\s]+`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_\-.]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
}

// RedactSensitiveData strips presigned-URL signatures, bearer tokens, and
// API keys from a string before it reaches a log line.
func RedactSensitiveData(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			switch {
			case strings.HasPrefix(match, "Bearer "):
				return "Bearer [REDACTED]"
			case strings.Contains(match, "="):
				idx := strings.Index(match, "=")
				return match[:idx+1] + "[REDACTED]"
			default:
				return "[REDACTED]"
			}
		})
	}
	return result
}

// HTTPRequest logs an outbound HTTP request at debug level with redaction.
// No-op when debug logging is disabled.
func HTTPRequest(provider, method, url string, body interface{}) {
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{"provider", provider, "method", method, "url", RedactSensitiveData(url)}
	if body != nil {
		if raw, err := json.Marshal(body); err == nil {
			attrs = append(attrs, "body", RedactSensitiveData(string(raw)))
		}
	}
	Debug("🔵 http request", attrs...)
}

// HTTPResponse logs an outbound HTTP response at debug level with redaction.
func HTTPResponse(provider string, statusCode int, body string, err error) {
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []any{"provider", provider, "status_code", statusCode}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		Error("🔴 http response error", attrs...)
		return
	}
	var emoji string
	switch {
	case statusCode >= 200 && statusCode < 300:
		emoji = "🟢"
	case statusCode >= 400:
		emoji = "🔴"
	default:
		emoji = "🟡"
	}
	if body != "" {
		attrs = append(attrs, "body", RedactSensitiveData(body))
	}
	Debug(emoji+" http response", attrs...)
}
