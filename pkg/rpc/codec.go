// Package rpc serves Connect procedures with plain Go structs encoded as JSON.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// CodecName replaces Connect's protobuf JSON codec.
const CodecName = "json"

// JSONCodec marshals request and response structs with encoding/json.
type JSONCodec struct{}

var _ connect.Codec = JSONCodec{}

func (JSONCodec) Name() string { return CodecName }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// NewUnaryHandler builds a unary Connect handler that speaks JSON.
func NewUnaryHandler[Req, Res any](
	procedure string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts ...connect.HandlerOption,
) *connect.Handler {
	return connect.NewUnaryHandler(procedure, fn, append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)...)
}

// NewClient builds a unary Connect client that speaks JSON.
func NewClient[Req, Res any](httpClient connect.HTTPClient, url string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](httpClient, url, append([]connect.ClientOption{connect.WithCodec(JSONCodec{})}, opts...)...)
}
