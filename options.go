package detour

// Option configures a detour at construction.
type Option func(*config)

type config struct {
	forceAbsolute bool
	signatures    *[2]Signature
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// ForceAbsolute skips the search for memory near the target. The trampoline
// is placed anywhere and the target gets a longer absolute jump, so the
// target must have more room to patch.
func ForceAbsolute() Option {
	return func(c *config) {
		c.forceAbsolute = true
	}
}

// WithSignatures makes NewRaw check that target and replacement are
// compatible before touching memory. Typed constructors always check.
func WithSignatures(target, replacement Signature) Option {
	return func(c *config) {
		c.signatures = &[2]Signature{target, replacement}
	}
}
