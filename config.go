package shmwriter

import "time"

// frameHeaderSize is the fixed width of a frame's LEN field. It is not
// configurable: the wire layout in spec.md §3 fixes it at 4 bytes.
const frameHeaderSize = 4

// Config holds every tunable of the write engine and lifecycle controller.
// Use DefaultConfig and override fields with the With* options, the same
// functional-defaults shape vnykmshr-goflow's streaming writer uses.
type Config struct {
	// PostfixSize is the number of reserved bytes written after each
	// frame's payload and before its NOT_FINAL byte.
	PostfixSize int

	// ReadSpins is the number of spin iterations WriteSync performs,
	// each bounded by SpinTimeout, before failing the Writer with
	// ErrReadTooLong.
	ReadSpins int
	// SpinTimeout bounds a single futex wait inside one WriteSync spin
	// iteration.
	SpinTimeout time.Duration

	// StartTimeout bounds how long synchronize waits for the Reader to
	// reach READY.
	StartTimeout time.Duration
	// FinishSpins bounds how many times end's wait loop re-checks the
	// Reader's process sign after requesting FINISHING.
	FinishSpins int

	Logger  Logger
	Metrics *Metrics
}

// DefaultConfig returns the Config this package uses when New is called
// without any Option.
func DefaultConfig() Config {
	return Config{
		PostfixSize:  0,
		ReadSpins:    10,
		SpinTimeout:  1000 * time.Millisecond,
		StartTimeout: 5 * time.Second,
		FinishSpins:  10,
		Logger:       NoOpLogger{},
	}
}

func (c Config) geometry() FrameGeometry {
	return FrameGeometry{PrefixSize: frameHeaderSize, PostfixSize: c.PostfixSize}
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithPostfixSize overrides PostfixSize.
func WithPostfixSize(n int) Option {
	return func(c *Config) { c.PostfixSize = n }
}

// WithReadSpins overrides ReadSpins and SpinTimeout together.
func WithReadSpins(spins int, timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadSpins = spins
		c.SpinTimeout = timeout
	}
}

// WithStartTimeout overrides StartTimeout.
func WithStartTimeout(d time.Duration) Option {
	return func(c *Config) { c.StartTimeout = d }
}

// WithFinishSpins overrides FinishSpins.
func WithFinishSpins(n int) Option {
	return func(c *Config) { c.FinishSpins = n }
}

// WithLogger overrides the Logger, which defaults to NoOpLogger.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics attaches a Metrics instance created by NewMetrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
