package discovery

import (
	"log"

	"github.com/edgerpc/edgerpc/metrics"
)

// Options configure a Handler. A nil *Options provides defaults, following
// the same nil-safe-accessor shape used throughout this module
// (dispatch.Options, hibernate.Options).
type Options struct {
	// Root is the canonical path prefix, without slashes (conventionally
	// "rpc"). Every discoverable method name is expected to begin with this
	// token per spec.md §3's "Root token" convention.
	Root string

	Logger  *log.Logger
	Metrics *metrics.M
}

func (o *Options) root() string {
	if o == nil || o.Root == "" {
		return "rpc"
	}
	return o.Root
}

func (o *Options) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}
