// Package dispatch implements the dispatch engine: method lookup through
// the registry (with wildcard fallback), middleware chain composition,
// per-call timeouts, error shaping, and batch execution in both parallel
// and abort-on-first-error modes (spec.md §4.3).
package dispatch

import (
	"context"
	"time"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/code"
	"github.com/edgerpc/edgerpc/registry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// An Engine dispatches requests against a Registry.
type Engine struct {
	reg  *registry.Registry
	opts *Options
	sem  *semaphore.Weighted
	log  func(string, ...interface{})
}

// New returns an Engine that dispatches through reg.
func New(reg *registry.Registry, opts *Options) *Engine {
	return &Engine{
		reg:  reg,
		opts: opts,
		sem:  semaphore.NewWeighted(opts.concurrency()),
		log:  opts.logger(),
	}
}

// DispatchSingle executes one request through the middleware chain and
// handler, shaping the outcome into a Response. It never returns a native
// Go error — handler and middleware failures are always captured and
// surfaced as RPC errors (spec.md §4.3 "Failure semantics").
func (e *Engine) DispatchSingle(ctx context.Context, req *edgerpc.Request, ec *edgerpc.ExecContext) *edgerpc.Response {
	if err := req.DecodeError(); err != nil {
		return edgerpc.NewError(req.ID, edgerpc.Errorf(code.InvalidRequest, "%v", err))
	}

	desc, ok := e.reg.Lookup(req.Method)
	if !ok {
		e.opts.metrics().Count("dispatch.method_not_found", 1)
		return edgerpc.NewError(req.ID, edgerpc.MethodNotFound(req.Method))
	}

	if ec == nil {
		ec = &edgerpc.ExecContext{Meta: req.Meta}
	} else if ec.Meta == nil {
		ec.Meta = req.Meta
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return edgerpc.NewError(req.ID, edgerpc.Errorf(code.Internal, "dispatch unavailable: %v", err))
	}
	defer e.sem.Release(1)

	start := time.Now()
	result, rerr := e.runWithTimeout(ctx, req, ec, desc)
	elapsed := float64(time.Since(start).Milliseconds())
	e.opts.metrics().CountAndSetMax("dispatch.duration_ms", int64(elapsed))

	if rerr != nil {
		e.opts.metrics().Count("dispatch.errors", 1)
		return edgerpc.NewError(req.ID, e.shapeError(rerr))
	}

	rsp, err := edgerpc.NewResult(req.ID, result)
	if err != nil {
		return edgerpc.NewError(req.ID, edgerpc.Errorf(code.Internal, "encoding result: %v", err))
	}
	rsp.Meta = edgerpc.WithDuration(ec.Meta, elapsed)
	e.opts.metrics().Count("dispatch.ok", 1)
	return rsp
}

// runWithTimeout composes the middleware chain with desc.Handler at the
// tail and executes it, racing a configured per-call timeout. If the
// timeout fires first, the handler keeps running in the background and its
// eventual result is discarded (spec.md §5 "Cancellation and timeouts").
func (e *Engine) runWithTimeout(ctx context.Context, req *edgerpc.Request, ec *edgerpc.ExecContext, desc *registry.Descriptor) (interface{}, error) {
	chain := e.reg.SnapshotMiddleware()
	run := func(ctx context.Context) (interface{}, error) {
		return invokeChain(ctx, req, ec, chain, desc.Handler)
	}

	timeout := e.opts.methodTimeout()
	if timeout <= 0 {
		return run(ctx)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		// Run against the parent ctx, not runCtx: if the timeout fires, the
		// handler keeps running to completion in the background rather than
		// being cancelled (spec.md §5).
		val, err := run(ctx)
		done <- outcome{val, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-runCtx.Done():
		e.opts.metrics().Count("dispatch.timeouts", 1)
		return nil, edgerpc.Errorf(code.Timeout, "method %q timed out", req.Method)
	}
}

// invokeChain builds the index-advancing continuation described in
// spec.md §9 ("Middleware chain composition"): an ordered sequence plus an
// index, the handler implicit at position len(chain).
func invokeChain(ctx context.Context, req *edgerpc.Request, ec *edgerpc.ExecContext, chain []edgerpc.Middleware, h edgerpc.Handler) (interface{}, error) {
	var idx int
	var next edgerpc.Next
	next = func(ctx context.Context, req *edgerpc.Request) (interface{}, error) {
		if idx >= len(chain) {
			return safeHandle(ctx, req, h)
		}
		mw := chain[idx]
		idx++
		return mw(ctx, req, ec, next)
	}
	return next(ctx, req)
}

// safeHandle recovers a panicking handler into an internal error rather
// than letting it crash the dispatch goroutine.
func safeHandle(ctx context.Context, req *edgerpc.Request, h edgerpc.Handler) (val interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = edgerpc.Errorf(code.Internal, "handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, req)
}

// shapeError converts a handler/middleware failure into an *edgerpc.Error,
// applying production-mode redaction only to uncoded errors.
func (e *Engine) shapeError(err error) *edgerpc.Error {
	if rerr, ok := err.(*edgerpc.Error); ok {
		return rerr
	}
	c := code.FromError(err)
	if e.opts.productionMode() {
		return &edgerpc.Error{Code: c, Message: "internal error"}
	}
	return edgerpc.Errorf(c, "%v", err)
}

// DispatchBatch executes every member of br through DispatchSingle. When
// br.AbortOnError is false, members run in parallel and the full-length,
// order-preserving response slice is returned. When true, members run
// sequentially and execution stops at the first error response, so the
// result may be shorter than br.Requests (spec.md §4.3 "Batch dispatch").
func (e *Engine) DispatchBatch(ctx context.Context, br *edgerpc.BatchRequest, ec *edgerpc.ExecContext) *edgerpc.BatchResponse {
	start := time.Now()
	var responses []*edgerpc.Response
	success := true

	if br.AbortOnError {
		for _, req := range br.Requests {
			rsp := e.DispatchSingle(ctx, req, cloneExec(ec))
			responses = append(responses, rsp)
			if rsp.IsError() {
				success = false
				break
			}
		}
	} else {
		responses = make([]*edgerpc.Response, len(br.Requests))
		g, gctx := errgroup.WithContext(ctx)
		for i, req := range br.Requests {
			i, req := i, req
			g.Go(func() error {
				responses[i] = e.DispatchSingle(gctx, req, cloneExec(ec))
				return nil
			})
		}
		g.Wait() // member errors never escape DispatchSingle, so this cannot fail
		for _, rsp := range responses {
			if rsp.IsError() {
				success = false
			}
		}
	}

	elapsed := float64(time.Since(start).Milliseconds())
	return &edgerpc.BatchResponse{
		ID:         br.ID,
		Responses:  responses,
		Success:    success,
		DurationMS: &elapsed,
	}
}

// cloneExec returns a shallow per-member copy of ec so concurrent batch
// members do not race on ExecContext.Meta/Values mutation by middleware.
func cloneExec(ec *edgerpc.ExecContext) *edgerpc.ExecContext {
	if ec == nil {
		return nil
	}
	cp := *ec
	return &cp
}
