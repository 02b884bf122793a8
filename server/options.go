package server

import (
	"fmt"
	"log"
	"time"

	"github.com/edgerpc/edgerpc/metrics"
)

// RateLimitPolicy configures the fixed-window per-client rate limiter
// (spec.md §5 "Rate limiting").
type RateLimitPolicy struct {
	Max    int
	Window time.Duration
}

// Options configure a Server. A nil *Options provides defaults, following
// the nil-safe-accessor pattern used throughout this module
// (dispatch.Options, hibernate.Options, discovery.Options).
type Options struct {
	// Root is the canonical path prefix, without slashes (default "rpc").
	Root string

	// IdleTimeout and MaxHibernation configure the connection manager.
	IdleTimeout    time.Duration
	MaxHibernation time.Duration

	// MethodTimeout bounds a single dispatch; zero disables the race.
	MethodTimeout time.Duration

	// Concurrency bounds the dispatch engine's in-flight handler goroutines.
	Concurrency int

	// MaxBatchSize rejects larger batches with an invalid-request response.
	// Zero means unbounded.
	MaxBatchSize int

	// MaxPayloadSize rejects larger POST bodies with 413. Zero means
	// unbounded.
	MaxPayloadSize int64

	// RateLimit, if set, enforces a fixed-window per-client budget on POST.
	RateLimit *RateLimitPolicy

	// ClientKeyHeader names the header used to key the rate limiter. If
	// empty or absent on a request, the client's RemoteAddr is used.
	ClientKeyHeader string

	// ProductionMode collapses uncoded handler errors to a generic message.
	ProductionMode bool

	Logger  *log.Logger
	Metrics *metrics.M
}

func (o *Options) root() string {
	if o == nil || o.Root == "" {
		return "rpc"
	}
	return o.Root
}

func (o *Options) maxBatchSize() int {
	if o == nil {
		return 0
	}
	return o.MaxBatchSize
}

func (o *Options) maxPayloadSize() int64 {
	if o == nil {
		return 0
	}
	return o.MaxPayloadSize
}

func (o *Options) rateLimit() *RateLimitPolicy {
	if o == nil {
		return nil
	}
	return o.RateLimit
}

func (o *Options) clientKeyHeader() string {
	if o == nil {
		return ""
	}
	return o.ClientKeyHeader
}

func (o *Options) logger() func(string, ...interface{}) {
	if o == nil || o.Logger == nil {
		return func(string, ...interface{}) {}
	}
	l := o.Logger
	return func(msg string, args ...interface{}) { l.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}
