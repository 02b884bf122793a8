// This file implements the four decode operations and their matching
// encoders named in spec.md §4.1: single request, single response, batch
// request, batch response.
package edgerpc

import "encoding/json"

// DecodeRequest decodes a single request from input, which must be a string
// or []byte. It rejects every shape spec.md §4.1 enumerates: absent/empty
// input, malformed JSON, a non-object root, a missing/non-string/empty id,
// or a missing/non-string method.
func DecodeRequest(input interface{}) (*Request, error) {
	obj, err := checkRoot(bytesOf(input), true)
	if err != nil {
		return nil, err
	}
	return decodeRequestObject(obj)
}

// DecodeBatchRequest decodes a batch request: {id, requests[], abortOnError?}.
// Each member request is parsed independently; a member's own validation
// failure is recorded on that member (see Request.DecodeError) rather than
// aborting the whole batch, except that the requests array itself must be
// present and non-empty.
func DecodeBatchRequest(input interface{}) (*BatchRequest, error) {
	obj, err := checkRoot(bytesOf(input), true)
	if err != nil {
		return nil, err
	}
	br := &BatchRequest{}

	idRaw, hasID := obj["id"]
	if !hasID || json.Unmarshal(idRaw, &br.ID) != nil || br.ID == "" {
		return nil, Errorf(ErrInvalidRequest.Code, "batch id must be a non-empty string")
	}

	reqsRaw, hasReqs := obj["requests"]
	if !hasReqs {
		return nil, ErrEmptyBatch
	}
	var rawMembers []json.RawMessage
	if err := json.Unmarshal(reqsRaw, &rawMembers); err != nil {
		return nil, Errorf(ErrInvalidRequest.Code, "requests must be an array")
	}
	if len(rawMembers) == 0 {
		return nil, ErrEmptyBatch
	}

	br.Requests = make([]*Request, len(rawMembers))
	for i, raw := range rawMembers {
		req, err := DecodeRequest([]byte(raw))
		if err != nil {
			// A malformed member does not abort the whole batch decode
			// (spec.md §3: "each independently valid"); it is carried as a
			// placeholder request whose DecodeError dispatch will turn into
			// an invalid-request response for this member alone.
			req = &Request{decodeErr: err}
		}
		br.Requests[i] = req
	}

	if flag, ok := obj["abortOnError"]; ok {
		json.Unmarshal(flag, &br.AbortOnError)
	}
	return br, nil
}

// DecodeResponse decodes a single response from input.
func DecodeResponse(input interface{}) (*Response, error) {
	obj, err := checkRoot(bytesOf(input), true)
	if err != nil {
		return nil, err
	}
	return decodeResponseObject(obj)
}

// DecodeBatchResponse decodes a batch response: {id, responses[], success, duration?}.
func DecodeBatchResponse(input interface{}) (*BatchResponse, error) {
	obj, err := checkRoot(bytesOf(input), true)
	if err != nil {
		return nil, err
	}
	br := &BatchResponse{}

	if idRaw, ok := obj["id"]; ok {
		json.Unmarshal(idRaw, &br.ID)
	}

	if rspsRaw, ok := obj["responses"]; ok {
		var rawMembers []json.RawMessage
		if err := json.Unmarshal(rspsRaw, &rawMembers); err != nil {
			return nil, Errorf(ErrInvalidRequest.Code, "responses must be an array")
		}
		br.Responses = make([]*Response, len(rawMembers))
		for i, raw := range rawMembers {
			rsp, err := DecodeResponse([]byte(raw))
			if err != nil {
				return nil, Errorf(ErrInvalidRequest.Code, "responses[%d]: %v", i, err)
			}
			br.Responses[i] = rsp
		}
	}

	if okRaw, ok := obj["success"]; ok {
		json.Unmarshal(okRaw, &br.Success)
	}

	if durRaw, ok := obj["duration"]; ok && string(durRaw) != "null" {
		var d float64
		if json.Unmarshal(durRaw, &d) == nil {
			br.DurationMS = &d
		}
	}

	return br, nil
}

// EncodeRequest serializes req to JSON. Fields with an absent value
// (Params == nil, Meta == nil) are omitted; an explicit JSON null in Params
// is preserved verbatim because it is carried as json.RawMessage.
func EncodeRequest(req *Request) ([]byte, error) { return json.Marshal(req) }

// EncodeBatchRequest serializes a batch request to JSON.
func EncodeBatchRequest(br *BatchRequest) ([]byte, error) { return json.Marshal(br) }

// EncodeResponse serializes a response to JSON.
func EncodeResponse(rsp *Response) ([]byte, error) {
	if rsp.Result != nil && rsp.Err != nil {
		return nil, Errorf(ErrInvalidRequest.Code, "response must not carry both result and error")
	}
	return json.Marshal(rsp)
}

// EncodeBatchResponse serializes a batch response to JSON.
func EncodeBatchResponse(br *BatchResponse) ([]byte, error) { return json.Marshal(br) }
