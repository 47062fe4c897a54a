package kv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// respServer is a tiny in-process RESP server understanding the commands
// ValkeyBackend issues.
type respServer struct {
	ln   net.Listener
	mu   sync.Mutex
	data map[string]string
	ttls map[string]string
	auth []string
}

func startRESPServer(t *testing.T) *respServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &respServer{ln: ln, data: map[string]string{}, ttls: map[string]string{}}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *respServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *respServer) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		fmt.Fprint(conn, s.exec(args))
	}
}

func (s *respServer) exec(args []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToUpper(args[0]) {
	case "PING":
		return "+PONG\r\n"
	case "AUTH":
		s.auth = append([]string(nil), args[1:]...)
		return "+OK\r\n"
	case "SELECT":
		return "+OK\r\n"
	case "SET":
		s.data[args[1]] = args[2]
		if len(args) == 5 {
			s.ttls[args[1]] = args[4]
		}
		return "+OK\r\n"
	case "GET":
		v, ok := s.data[args[1]]
		if !ok {
			return "$-1\r\n"
		}
		return fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
	case "DEL":
		_, ok := s.data[args[1]]
		delete(s.data, args[1])
		if ok {
			return ":1\r\n"
		}
		return ":0\r\n"
	}
	return "-ERR unknown command\r\n"
}

func readCommand(r *bufio.Reader) ([]string, error) {
	header, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(header, "*")))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sizeLine, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(sizeLine, "$")))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyBackendRoundTrip(t *testing.T) {
	srv := startRESPServer(t)
	ctx := context.Background()

	b, err := NewValkeyBackend(ctx, ValkeyConfig{
		Addr:      srv.ln.Addr().String(),
		Username:  "sim",
		Password:  "secret",
		DB:        2,
		KeyPrefix: "faultsim:",
	})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "faultInjections_v1", []byte(`[]`), 0))
	require.NoError(t, b.Set(ctx, "remote:series", []byte("x\r\ny"), 1500*time.Millisecond))

	got, err := b.Get(ctx, "faultInjections_v1")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	got, err = b.Get(ctx, "remote:series")
	require.NoError(t, err)
	assert.Equal(t, "x\r\ny", string(got))

	srv.mu.Lock()
	assert.Equal(t, "1500", srv.ttls["faultsim:remote:series"])
	assert.Equal(t, []string{"sim", "secret"}, srv.auth)
	_, prefixed := srv.data["faultsim:faultInjections_v1"]
	srv.mu.Unlock()
	assert.True(t, prefixed)

	require.NoError(t, b.Del(ctx, "faultInjections_v1"))
	_, err = b.Get(ctx, "faultInjections_v1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValkeyBackendRequiresAddr(t *testing.T) {
	_, err := NewValkeyBackend(context.Background(), ValkeyConfig{})
	require.Error(t, err)
}

func TestValkeyBackendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewValkeyBackend(context.Background(), ValkeyConfig{Addr: addr, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}
