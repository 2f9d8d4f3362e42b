package transport

import (
	"encoding/json"

	"mympdgo/internal/api"
)

const jsonrpcVersion = "2.0"

// JSON-RPC 2.0 error codes. Application kinds use the server error range.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

var kindCodes = map[api.Code]int{
	api.UnknownCommand:     codeMethodNotFound,
	api.InvalidParams:      codeInvalidParams,
	api.Internal:           codeInternal,
	api.Forbidden:          -32001,
	api.UnknownPartition:   -32002,
	api.BackendUnavailable: -32003,
	api.BackendError:       -32004,
	api.Timeout:            -32005,
	api.ResourceExhausted:  -32006,
	api.RebuildInProgress:  -32007,
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    rpcErrorData `json:"data"`
}

type rpcErrorData struct {
	Kind api.Code `json:"kind"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string             `json:"jsonrpc"`
	Method  string             `json:"method"`
	Params  notificationParams `json:"params"`
}

type notificationParams struct {
	Partition string          `json:"partition"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func errorResponse(id *uint64, err *api.Error) rpcResponse {
	code, ok := kindCodes[err.Code]
	if !ok {
		code = codeInternal
	}
	return rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: err.Msg, Data: rpcErrorData{Kind: err.Code}},
	}
}

func protocolError(id *uint64, code int, msg string) rpcResponse {
	return rpcResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &rpcError{Code: code, Message: msg, Data: rpcErrorData{Kind: api.InvalidParams}},
	}
}

func fromResponse(id *uint64, resp *api.Response) rpcResponse {
	if resp.Err != nil {
		return errorResponse(id, resp.Err)
	}
	return rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Result: resp.Result}
}

func encodeNotification(n api.Notification) ([]byte, error) {
	return json.Marshal(rpcNotification{
		JSONRPC: jsonrpcVersion,
		Method:  n.Method,
		Params:  notificationParams{Partition: n.Partition, Data: n.Params},
	})
}

// decodeRequest parses one frame. It returns a ready error response when the
// frame is not a usable request.
func decodeRequest(b []byte) (rpcRequest, *rpcResponse) {
	var req rpcRequest
	if err := json.Unmarshal(b, &req); err != nil {
		r := protocolError(nil, codeParseError, err.Error())
		return req, &r
	}
	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		r := protocolError(req.ID, codeInvalidRequest, "jsonrpc 2.0 request with method expected")
		return req, &r
	}
	return req, nil
}
