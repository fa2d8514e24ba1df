// Package output renders the CLI's JSON envelope. Commands print one
// Response per invocation; agents consume compact JSON, humans can opt
// into pretty printing.
package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
)

// Response represents a standard JSON response.
type Response struct {
	SchemaVersion string            `json:"schema_version"`
	Success       bool              `json:"success"`
	Data          any               `json:"data,omitempty"`
	Error         string            `json:"error,omitempty"`
	ErrorCode     string            `json:"error_code,omitempty"`
	ErrorContext  map[string]string `json:"error_context,omitempty"`
}

// recoverableError mirrors models.RecoverableError without importing it,
// keeping this package dependency-free.
type recoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
}

// Success wraps a successful response with data.
func Success(data any) Response {
	return Response{
		SchemaVersion: "v1",
		Success:       true,
		Data:          data,
	}
}

// Error wraps an error in a response. Enriched errors carry their code
// and structured context through to the JSON output.
func Error(err error) Response {
	resp := Response{
		SchemaVersion: "v1",
		Success:       false,
		Error:         err.Error(),
	}
	var re recoverableError
	if errors.As(err, &re) {
		resp.ErrorCode = re.ErrorCode()
		resp.ErrorContext = re.Context()
	}
	return resp
}

// Config controls where and how responses are written.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig writes to stdout. Compact JSON minimizes token/output
// size for agent consumption; HIVE_PRETTY_JSON=1 enables indentation.
func DefaultConfig() Config {
	pretty := os.Getenv("HIVE_PRETTY_JSON") == "1" || os.Getenv("HIVE_PRETTY_JSON") == "true"
	return Config{Writer: os.Stdout, Pretty: pretty}
}

// PrintWith prints a value as JSON using the given config.
func PrintWith(cfg Config, v any) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout.
func Print(v any) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response.
func PrintSuccess(data any) error {
	return Print(Success(data))
}

// PrintError prints an error response.
func PrintError(err error) error {
	return Print(Error(err))
}
