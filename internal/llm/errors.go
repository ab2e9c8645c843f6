package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFatalAPI marks provider errors that will not go away on retry (billing,
// quota, credentials). Callers should stop calling the provider.
var ErrFatalAPI = errors.New("fatal LLM API error")

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("LLM provider not configured")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}

// IsFatal reports whether err was classified as a fatal provider error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalAPI)
}

// ClassifyError wraps err with ErrFatalAPI when it looks fatal. Used for
// provider clients outside langchaingo.
func ClassifyError(err error) error {
	return wrapFatalError(err)
}
