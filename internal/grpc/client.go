package grpc

import (
	"context"
	"crypto/tls"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
)

// Client is the Go client other school services embed to introspect access
// tokens against this service instead of reading the token store.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a new gRPC client
func NewClient(addr string, useTLS bool, extra ...grpc.DialOption) (*Client, error) {
	var opts []grpc.DialOption
	if useTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                30 * time.Second,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}))

	conn, err := grpc.NewClient(addr, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Introspect resolves an access token. ok is false for rejected tokens.
func (c *Client) Introspect(ctx context.Context, accessToken string) (*auth.Principal, bool, error) {
	req, err := structpb.NewStruct(map[string]any{"token": accessToken})
	if err != nil {
		return nil, false, err
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, introspectMethod, req, resp); err != nil {
		return nil, false, err
	}

	principal, ok := principalFromStruct(resp)
	return principal, ok, nil
}

// Conn exposes the underlying connection, e.g. for health checks.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
