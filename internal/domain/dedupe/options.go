package dedupe

// Option configures a Registry.
type Option func(*config)

type config struct {
	maxEntries int
}

// WithMaxEntries caps the number of live keys.
// If maxEntries <= 0 the registry is unbounded.
func WithMaxEntries(maxEntries int) Option {
	return func(c *config) {
		c.maxEntries = maxEntries
	}
}
