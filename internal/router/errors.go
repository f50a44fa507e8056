package router

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrRateLimited matches provider errors caused by rate limiting.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrProvider matches every error reported by a model provider.
	ErrProvider = errors.New("provider error")
	// ErrNoDriver is returned when no driver serves the requested model.
	ErrNoDriver = errors.New("no driver for model")
)

// ProviderError wraps a failed provider call.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrProvider always and ErrRateLimited on 429.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrProvider:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsRateLimited reports whether err is a provider rate limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
