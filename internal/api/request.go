package api

import "encoding/json"

// MaxPayloadSize bounds the params of a single request. Larger payloads are
// refused with ResourceExhausted instead of being buffered.
const MaxPayloadSize = 1 << 20

// DefaultPartition is the partition every backend has.
const DefaultPartition = "default"

// RequestType tells the worker how the response is consumed.
type RequestType int

const (
	// RequestTypeDefault requests come from a web client and expect a response
	// when ID is non-zero.
	RequestTypeDefault RequestType = iota
	// RequestTypeScript requests come from the HTTP script endpoint.
	RequestTypeScript
	// RequestTypeDiscard requests never produce a response.
	RequestTypeDiscard
)

// Request is a unit of work for one partition worker. It is handed over
// through the worker queue and consumed by exactly one worker.
type Request struct {
	Type      RequestType
	ConnID    uint64 // originating client connection
	ID        uint64 // correlation id, 0 for fire-and-forget
	Cmd       CmdID
	Partition string
	Params    json.RawMessage
}

// Response is produced at most once per processed Request.
type Response struct {
	Type      RequestType
	ConnID    uint64
	ID        uint64
	Cmd       CmdID
	Partition string
	Result    json.RawMessage
	Err       *Error
}

// Notification is pushed to every client attached to a partition.
type Notification struct {
	Partition string
	Method    string
	Params    json.RawMessage
}

// NewRequest builds a request envelope. It fails with ResourceExhausted when
// params exceed MaxPayloadSize.
func NewRequest(typ RequestType, connID, id uint64, cmd CmdID, params json.RawMessage, partition string) (*Request, error) {
	if len(params) > MaxPayloadSize {
		return nil, Errorf(ResourceExhausted, "payload of %d bytes exceeds %d", len(params), MaxPayloadSize)
	}
	if partition == "" {
		partition = DefaultPartition
	}
	return &Request{
		Type:      typ,
		ConnID:    connID,
		ID:        id,
		Cmd:       cmd,
		Partition: partition,
		Params:    params,
	}, nil
}

// NewResponse derives the response envelope for req.
func NewResponse(req *Request) *Response {
	return &Response{
		Type:      req.Type,
		ConnID:    req.ConnID,
		ID:        req.ID,
		Cmd:       req.Cmd,
		Partition: req.Partition,
	}
}

// WantsResponse reports whether the caller waits for a response.
func (r *Request) WantsResponse() bool {
	return r.ID != 0 && r.Type != RequestTypeDiscard
}

// SetResult marshals v into the response result.
func (r *Response) SetResult(v any) error {
	if v == nil {
		r.Result = json.RawMessage(`{"message":"ok"}`)
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Result = b
	return nil
}

// Fail records err on the response and drops any result.
func (r *Response) Fail(err error) {
	r.Result = nil
	r.Err = AsError(err)
}

// DecodeParams unmarshals the request params into v. An empty payload leaves v
// untouched.
func (r *Request) DecodeParams(v any) error {
	if len(r.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return Errorf(InvalidParams, "%s: %v", r.Cmd, err)
	}
	return nil
}
