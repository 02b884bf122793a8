package dispatch

import (
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/edgerpc/edgerpc/metrics"
)

// Options control an Engine's behavior. A nil *Options provides sensible
// defaults, following the accessor pattern of 41north-jrpc2/opts.go.
type Options struct {
	// Logger, if set, receives debug logs.
	Logger *log.Logger

	// Concurrency bounds the number of handler goroutines an Engine will run
	// at once. A value less than 1 uses runtime.NumCPU().
	Concurrency int

	// MethodTimeout bounds a single dispatch's execution; zero disables the
	// timeout race (spec.md §4.5/§5 "Cancellation and timeouts").
	MethodTimeout time.Duration

	// ProductionMode, if true, collapses uncoded handler errors to a generic
	// internal-error message and drops their Data (spec.md §4.3).
	ProductionMode bool

	// Metrics, if set, receives dispatch counters. A nil value is a no-op
	// collector (metrics.M's nil-receiver contract).
	Metrics *metrics.M
}

func (o *Options) logger() func(string, ...interface{}) {
	if o == nil || o.Logger == nil {
		return func(string, ...interface{}) {}
	}
	l := o.Logger
	return func(msg string, args ...interface{}) { l.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) concurrency() int64 {
	if o == nil || o.Concurrency < 1 {
		return int64(runtime.NumCPU())
	}
	return int64(o.Concurrency)
}

func (o *Options) methodTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.MethodTimeout
}

func (o *Options) productionMode() bool { return o != nil && o.ProductionMode }

func (o *Options) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}
