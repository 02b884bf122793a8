// Package client implements the client coordinator of spec.md §4.7: a
// five-state connection state machine, id correlation independent of
// arrival order, capped exponential backoff reconnect, in-flight queueing
// during reconnect, subscription fan-out, and a request/response transport
// fallback — plus the batch/pipeline builder of §4.8.
package client

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/edgerpc/edgerpc/metrics"
)

// Options configure a Coordinator. A nil *Options provides defaults,
// following the accessor pattern used throughout this module
// (hibernate.Options, dispatch.Options, server.Options).
type Options struct {
	// AutoReconnect enables the reconnect state machine on an unexpected
	// close. If false, an unexpected close rejects every pending request
	// and transitions straight to closed.
	AutoReconnect bool

	// MaxReconnectAttempts caps retries before giving up and transitioning
	// to disconnected. Zero means unbounded.
	MaxReconnectAttempts int

	// BaseDelay, Backoff, and MaxDelay define the retry curve: delay(n) =
	// min(BaseDelay * Backoff^(n-1), MaxDelay) for attempt n (1-based).
	BaseDelay time.Duration
	Backoff   float64
	MaxDelay  time.Duration

	// RequestTimeout bounds how long a single pending request waits for a
	// reply before it is rejected with a timeout error. Zero disables the
	// per-request timer.
	RequestTimeout time.Duration

	// FallbackURL, if set, is used for the request/response transport: it
	// is tried when the initial bidirectional dial fails (if
	// FallbackEnabled) and for every call thereafter.
	FallbackURL     string
	FallbackEnabled bool
	HTTPClient      *http.Client

	// FallbackMaxRetries bounds the network-failure retry count for a
	// single HTTP POST call under the fallback transport.
	FallbackMaxRetries int

	Logger  *log.Logger
	Metrics *metrics.M
}

func (o *Options) autoReconnect() bool { return o != nil && o.AutoReconnect }

func (o *Options) maxReconnectAttempts() int {
	if o == nil {
		return 0
	}
	return o.MaxReconnectAttempts
}

func (o *Options) baseDelay() time.Duration {
	if o == nil || o.BaseDelay <= 0 {
		return 250 * time.Millisecond
	}
	return o.BaseDelay
}

func (o *Options) backoff() float64 {
	if o == nil || o.Backoff <= 1 {
		return 2
	}
	return o.Backoff
}

func (o *Options) maxDelay() time.Duration {
	if o == nil || o.MaxDelay <= 0 {
		return 30 * time.Second
	}
	return o.MaxDelay
}

func (o *Options) requestTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.RequestTimeout
}

func (o *Options) fallbackEnabled() bool { return o != nil && o.FallbackEnabled }

func (o *Options) fallbackURL() string {
	if o == nil {
		return ""
	}
	return o.FallbackURL
}

func (o *Options) fallbackMaxRetries() int {
	if o == nil || o.FallbackMaxRetries < 0 {
		return 0
	}
	return o.FallbackMaxRetries
}

func (o *Options) httpClient() *http.Client {
	if o == nil || o.HTTPClient == nil {
		return http.DefaultClient
	}
	return o.HTTPClient
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

// backoffDelay computes the retry delay for the given 1-based attempt
// number per spec.md §4.7: baseDelay × backoff^(attempt-1), capped at
// maxDelay.
func (o *Options) backoffDelay(attempt int) time.Duration {
	base := o.baseDelay()
	factor := 1.0
	for i := 1; i < attempt; i++ {
		factor *= o.backoff()
	}
	d := time.Duration(float64(base) * factor)
	if max := o.maxDelay(); d > max {
		return max
	}
	return d
}
