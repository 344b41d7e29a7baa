package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/soham407/sqlquest/internal/sandbox"
)

// jsonCodec lets the RPC service exchange plain Go structs without generated
// protobuf code.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ExecuteRequest runs SQL in a session's sandbox.
type ExecuteRequest struct {
	Session string `json:"session"`
	SQL     string `json:"sql"`
}

// ResetRequest restores a session's dataset.
type ResetRequest struct {
	Session string `json:"session"`
}

// ResetResponse acknowledges a reset.
type ResetResponse struct {
	OK bool `json:"ok"`
}

// SandboxServer is the RPC surface of the server.
type SandboxServer interface {
	Execute(context.Context, *ExecuteRequest) (*sandbox.QueryResult, error)
	Reset(context.Context, *ResetRequest) (*ResetResponse, error)
}

const serviceName = "sqlquest.Sandbox"

// RegisterSandboxServer registers srv on gs.
func RegisterSandboxServer(gs *grpc.Server, srv SandboxServer) {
	gs.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*SandboxServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Execute", Handler: executeHandler},
			{MethodName: "Reset", Handler: resetHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "sqlquest.json",
	}, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ResetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SandboxServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Reset"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SandboxServer).Reset(ctx, req.(*ResetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// rpcService serves SandboxServer from the registry. RPC clients name their
// session explicitly.
type rpcService struct {
	registry *Registry
}

func (s rpcService) Execute(ctx context.Context, req *ExecuteRequest) (*sandbox.QueryResult, error) {
	if !ValidSessionID(req.Session) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid session id %q", req.Session)
	}
	res := s.registry.Get(req.Session).Execute(ctx, req.SQL)
	return &res, nil
}

func (s rpcService) Reset(ctx context.Context, req *ResetRequest) (*ResetResponse, error) {
	if !ValidSessionID(req.Session) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid session id %q", req.Session)
	}
	if err := s.registry.Get(req.Session).Reset(ctx); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ResetResponse{OK: true}, nil
}

// Client calls a remote sandbox service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the RPC service at addr. Extra options are appended to
// the defaults (plaintext transport, JSON codec).
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Execute runs sql in the named session.
func (c *Client) Execute(ctx context.Context, session, sql string) (sandbox.QueryResult, error) {
	var out sandbox.QueryResult
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Execute", &ExecuteRequest{Session: session, SQL: sql}, &out)
	return out, err
}

// Reset restores the named session's dataset.
func (c *Client) Reset(ctx context.Context, session string) error {
	var out ResetResponse
	return c.conn.Invoke(ctx, "/"+serviceName+"/Reset", &ResetRequest{Session: session}, &out)
}

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }
