package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/edgerpc/edgerpc"
)

// Ref is the wire marker for a pipelined back-reference: a later call's
// params may embed a Ref pointing at an earlier call's result within the
// same pipeline. It serializes as {"$ref": index} (spec.md §4.7/§4.8);
// server-side pipelining is not part of the core, so the server may inline
// it or reject it — the marker is a hint only.
type Ref struct{ Index int }

// RefTo returns a Ref pointing at the result of the call previously added
// at position index (the value Pipeline.Add returned for that call).
func RefTo(index int) Ref { return Ref{Index: index} }

// MarshalJSON implements json.Marshaler.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Ref int `json:"$ref"`
	}{r.Index})
}

type plannedCall struct {
	method string
	params interface{}
}

// Pipeline is the client-side batch/pipeline builder of spec.md §4.8: an
// ordered list of planned calls, materialized into one BatchRequest on
// Execute. A Pipeline is single-use; calling Execute twice is an error.
type Pipeline struct {
	c        *Coordinator
	calls    []plannedCall
	executed bool
}

// NewPipeline returns an empty Pipeline bound to c.
func NewPipeline(c *Coordinator) *Pipeline {
	return &Pipeline{c: c}
}

// Add appends a planned call and returns its index within the pipeline,
// usable as a RefTo target in a later call's params.
func (p *Pipeline) Add(method string, params interface{}) int {
	p.calls = append(p.calls, plannedCall{method: method, params: params})
	return len(p.calls) - 1
}

// Execute allocates a batch id and member ids, marshals every planned
// call's params (resolving any embedded Ref markers to their wire shape),
// and forwards the batch to the coordinator. It returns the ordered list of
// member result values, or the first member error encountered.
func (p *Pipeline) Execute(ctx context.Context) ([]json.RawMessage, error) {
	if p.executed {
		return nil, errors.New("edgerpc: pipeline already executed")
	}
	p.executed = true
	if len(p.calls) == 0 {
		return nil, errors.New("edgerpc: empty pipeline")
	}

	reqs := make([]*edgerpc.Request, len(p.calls))
	for i, call := range p.calls {
		var raw json.RawMessage
		if call.params != nil {
			b, err := json.Marshal(call.params)
			if err != nil {
				return nil, err
			}
			raw = b
		}
		reqs[i] = &edgerpc.Request{ID: p.c.nextID(), Method: call.method, Params: raw}
	}
	br := &edgerpc.BatchRequest{ID: p.c.nextID(), Requests: reqs}

	rsp, err := p.c.dispatchBatch(ctx, br)
	if err != nil {
		return nil, err
	}

	results := make([]json.RawMessage, len(rsp.Responses))
	for i, r := range rsp.Responses {
		if r.IsError() {
			return nil, r.Err
		}
		results[i] = r.Result
	}
	return results, nil
}
