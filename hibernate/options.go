package hibernate

import (
	"fmt"
	"log"
	"time"

	"github.com/edgerpc/edgerpc/metrics"
)

// Options control a Manager's timers and limits. A nil *Options provides
// sensible defaults, following 41north-jrpc2/opts.go's accessor pattern.
type Options struct {
	// Logger, if set, receives debug logs.
	Logger *log.Logger

	// IdleTimeout is the delay from the last inbound message to hibernation.
	// Zero disables hibernation: connections stay open until closed.
	IdleTimeout time.Duration

	// MaxHibernation bounds how long a connection may stay hibernating
	// before the manager force-closes it. Zero means no bound.
	MaxHibernation time.Duration

	// QueueBound caps the number of events queued for a hibernating
	// connection; enqueuing past the bound drops the oldest event.
	QueueBound int

	Metrics *metrics.M
}

func (o *Options) logger() func(string, ...interface{}) {
	if o == nil || o.Logger == nil {
		return func(string, ...interface{}) {}
	}
	l := o.Logger
	return func(msg string, args ...interface{}) { l.Output(2, fmt.Sprintf(msg, args...)) }
}

func (o *Options) idleTimeout() time.Duration {
	if o == nil {
		return 0
	}
	return o.IdleTimeout
}

func (o *Options) maxHibernation() time.Duration {
	if o == nil {
		return 0
	}
	return o.MaxHibernation
}

func (o *Options) queueBound() int {
	if o == nil || o.QueueBound < 1 {
		return 64
	}
	return o.QueueBound
}

func (o *Options) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}
