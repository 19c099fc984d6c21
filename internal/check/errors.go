package check

import (
	"errors"
	"strings"
)

// ErrConfig is matched by every ConfigError.
var ErrConfig = errors.New("invalid check configuration")

// ConfigError reports a catalog problem found before any check runs.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid check configuration: " + e.Problems[0]
	}
	return "invalid check configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}
