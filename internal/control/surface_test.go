package control_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdameros/taskmaster-go/internal/config"
	"github.com/tdameros/taskmaster-go/internal/control"
	"github.com/tdameros/taskmaster-go/internal/logging"
	"github.com/tdameros/taskmaster-go/internal/manager"
	"github.com/tdameros/taskmaster-go/internal/wire"
)

func noopReload() (config.Config, error) { return config.Config{}, nil }

func TestStatusRoundTrip(t *testing.T) {
	cfg := config.Config{"web": config.ProgramConfig{
		Command:         "sleep 3600",
		NumberOfProcess: 1,
		AutoRestart:     config.AutoRestartNever,
		StopSignal:      config.SIGTERM,
	}}
	m := manager.New(cfg, logging.NewDiscard())
	s := control.New(m, logging.NewDiscard(), noopReload)

	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := &singleConnListener{conns: make(chan net.Conn, 1)}
	ln.conns <- server
	go func() { _ = s.Serve(ctx, ln) }()

	require.NoError(t, wire.EncodeRequest(client, wire.Request{Kind: wire.RequestStatus}))
	resp, err := wire.DecodeResponse(client)
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseStatus, resp.Kind)
	require.Len(t, resp.Programs, 1)
	assert.Equal(t, "web", resp.Programs[0].Name)
}

func TestStartUnknownProgramReturnsError(t *testing.T) {
	m := manager.New(config.Config{}, logging.NewDiscard())
	s := control.New(m, logging.NewDiscard(), noopReload)

	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := &singleConnListener{conns: make(chan net.Conn, 1)}
	ln.conns <- server
	go func() { _ = s.Serve(ctx, ln) }()

	require.NoError(t, wire.EncodeRequest(client, wire.Request{Kind: wire.RequestStart, Name: "ghost"}))
	resp, err := wire.DecodeResponse(client)
	require.NoError(t, err)
	assert.Equal(t, wire.ResponseError, resp.Kind)
}

func TestAttachStreamsLinesInOrder(t *testing.T) {
	cfg := config.Config{"printer": config.ProgramConfig{
		Command:         "printf a\\nb\\nc\\n",
		NumberOfProcess: 1,
		AutoRestart:     config.AutoRestartNever,
		StopSignal:      config.SIGTERM,
	}}
	m := manager.New(cfg, logging.NewDiscard())

	s := control.New(m, logging.NewDiscard(), noopReload)
	client, server := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln := &singleConnListener{conns: make(chan net.Conn, 1)}
	ln.conns <- server
	go func() { _ = s.Serve(ctx, ln) }()

	require.NoError(t, wire.EncodeRequest(client, wire.Request{Kind: wire.RequestAttach, Name: "printer"}))
	require.NoError(t, m.StartProgram("printer"))

	var got []string
	for i := 0; i < 3; i++ {
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		resp, err := wire.DecodeResponse(client)
		require.NoError(t, err)
		require.Equal(t, wire.ResponseRawStream, resp.Kind)
		got = append(got, resp.Line)
	}
	assert.Equal(t, []string{"a\n", "b\n", "c\n"}, got)
}

// singleConnListener serves exactly one pre-supplied net.Conn, then blocks
// until the context cancels the caller's Serve loop via Close.
type singleConnListener struct {
	conns chan net.Conn
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (l *singleConnListener) Close() error {
	close(l.conns)
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return fakeAddr{} }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "pipe" }
func (fakeAddr) String() string  { return "pipe" }
