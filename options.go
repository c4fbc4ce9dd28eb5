package annogo

import (
	"github.com/hupe1980/annogo/codec"
)

type options struct {
	logger            *Logger
	codec             codec.Codec
	metrics           MetricsCollector
	statusFunc        func(status string)
	errorFunc         func(err error)
	metadataCacheSize int
}

// Option configures MultiscaleSource constructor behavior.
type Option func(*options)

// WithLogger configures the structured logger. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithCodec configures the wire codec used to decode downloaded chunk
// payloads. If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetrics configures the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithStatusFunc configures the user-visible status callback. While commits
// are outstanding it receives a "Committing annotations" message; it
// receives the empty string once the last one resolves.
func WithStatusFunc(fn func(status string)) Option {
	return func(o *options) {
		o.statusFunc = fn
	}
}

// WithErrorFunc configures the callback that surfaces recoverable,
// user-visible failures (CommitError, MetadataError). The default logs
// them.
func WithErrorFunc(fn func(err error)) Option {
	return func(o *options) {
		o.errorFunc = fn
	}
}

// WithMetadataCacheSize bounds the per-id metadata LRU cache.
func WithMetadataCacheSize(size int) Option {
	return func(o *options) {
		o.metadataCacheSize = size
	}
}
