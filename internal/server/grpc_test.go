package server

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/soham407/sqlquest/internal/testutil"
)

func newRPCClient(t *testing.T) (*Client, *Server) {
	t.Helper()
	s, err := New(Options{}, nil, testutil.NewTestLogger(t))
	require.NoError(t, err)

	ln := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)
	go gs.Serve(ln)

	c, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return ln.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Close()
		gs.Stop()
		s.Registry().Close()
	})
	return c, s
}

func TestRPCExecute(t *testing.T) {
	c, s := newRPCClient(t)
	ctx := context.Background()
	session := NewSessionID()

	res, err := c.Execute(ctx, session, "UPDATE employees SET salary = salary + 1000 WHERE id = 1")
	require.NoError(t, err)
	assert.True(t, res.IsStatus())

	res, err = c.Execute(ctx, session, "SELECT salary FROM employees WHERE id = 1")
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 76000.0, res.Rows[0][0].Float64())

	res, err = c.Execute(ctx, session, "SELEC 1")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "syntax error")

	require.NoError(t, c.Reset(ctx, session))
	res, err = c.Execute(ctx, session, "SELECT salary FROM employees WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, 75000.0, res.Rows[0][0].Float64())
	assert.Equal(t, []string{session}, s.Registry().Sessions())
}

func TestRPCRejectsBadSession(t *testing.T) {
	c, s := newRPCClient(t)

	_, err := c.Execute(context.Background(), "../etc", "SELECT 1")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	err = c.Reset(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Zero(t, s.Registry().Len())
}
