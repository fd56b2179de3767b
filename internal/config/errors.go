package config

import (
	"errors"
	"fmt"
)

var (
	// ErrLoadConfig wraps failures reading a config source: the dotenv file,
	// the YAML file or the VITALS_ environment.
	ErrLoadConfig = errors.New("vitals config: cannot read source")
	// ErrInvalidConfig marks a loaded config that the engine cannot run with.
	ErrInvalidConfig = errors.New("vitals config: rejected")
	// ErrUnknownTimezone is an ErrInvalidConfig for a zone name the tz
	// database does not know.
	ErrUnknownTimezone = fmt.Errorf("%w: unknown timezone", ErrInvalidConfig)
)
