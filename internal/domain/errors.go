package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownOrder          = errors.New("unknown order")
	ErrOrderClosed           = errors.New("order already closed")
	ErrNoPrimaryAsset        = errors.New("no asset id found in tape")
	ErrAmbiguousPrimaryAsset = errors.New("multiple asset ids found in tape")
	ErrBookViewUnbound       = errors.New("book view not bound")
)

// ConfigError reports one or more invalid configuration values. It is
// returned before any engine state is constructed; callers treat it as fatal
// (exit code 1).
type ConfigError struct {
	Problems []string
}

// NewConfigError builds a single-problem ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Problems: []string{fmt.Sprintf(format, args...)}}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config validation failed:\n  - %s", strings.Join(e.Problems, "\n  - "))
}
