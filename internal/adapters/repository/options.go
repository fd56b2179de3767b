package repository

import (
	"github.com/cockroachdb/pebble/vfs"
	"github.com/okian/vitals/pkg/logger"
)

type config struct {
	logger logger.Logger
	fs     vfs.FS
}

// Option applies a configuration option to a store constructor.
type Option func(*config)

// WithLogger sets the store's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFS sets the filesystem used by the Pebble backend. Tests pass vfs.NewMem().
func WithFS(fs vfs.FS) Option {
	return func(c *config) {
		if fs != nil {
			c.fs = fs
		}
	}
}

func newConfig(opts []Option) config {
	c := config{logger: logger.GetOrNop(), fs: vfs.Default}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
