package kv

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// ValkeyBackend implements Backend over RESP. Each command runs on a fresh
// connection, so the backend holds no pooled state.
type ValkeyBackend struct {
	cfg ValkeyConfig
}

// NewValkeyBackend validates the configuration and pings the server so wrong
// credentials or addresses fail at startup instead of on first write.
func NewValkeyBackend(ctx context.Context, cfg ValkeyConfig) (*ValkeyBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)
	b := &ValkeyBackend{cfg: cfg}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	reply, err := b.do(pingCtx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.kind != respSimple || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return b, nil
}

// Get fetches bytes by key, returning ErrNotFound when absent.
func (b *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := b.do(ctx, "GET", b.key(key))
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case respNil:
		return nil, ErrNotFound
	case respBulk:
		return reply.data, nil
	}
	return nil, fmt.Errorf("unexpected valkey reply %q for GET", reply.kind)
}

// Set stores bytes, with a millisecond expiry when ttl is positive.
func (b *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{b.key(key), string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := b.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if reply.kind != respSimple || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// Del removes a key.
func (b *ValkeyBackend) Del(ctx context.Context, key string) error {
	_, err := b.do(ctx, "DEL", b.key(key))
	return err
}

// Close is a no-op; connections are per command.
func (b *ValkeyBackend) Close() error { return nil }

func (b *ValkeyBackend) key(k string) string {
	return b.cfg.KeyPrefix + k
}

// do runs one command with retry on transient network errors.
func (b *ValkeyBackend) do(ctx context.Context, cmd string, args ...string) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < b.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}
		reply, err := b.once(ctx, cmd, args...)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !transient(err) || attempt == b.cfg.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return respReply{}, ctx.Err()
		case <-time.After(backoff(attempt)):
		}
	}
	return respReply{}, lastErr
}

func (b *ValkeyBackend) once(ctx context.Context, cmd string, args ...string) (respReply, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return respReply{}, err
	}
	defer conn.Close()

	rc := &respConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn), cfg: b.cfg}
	if err := b.handshake(rc); err != nil {
		return respReply{}, err
	}
	if err := rc.send(append([]string{cmd}, args...)...); err != nil {
		return respReply{}, err
	}
	return rc.receive()
}

func (b *ValkeyBackend) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: b.cfg.DialTimeout}
	if !b.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", b.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(b.cfg.Addr)
	if err != nil {
		host = b.cfg.Addr
	}
	td := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	return td.DialContext(ctx, "tcp", b.cfg.Addr)
}

func (b *ValkeyBackend) handshake(rc *respConn) error {
	if b.cfg.Password != "" {
		cmd := []string{"AUTH"}
		if b.cfg.Username != "" {
			cmd = append(cmd, b.cfg.Username)
		}
		cmd = append(cmd, b.cfg.Password)
		if err := rc.expectOK(cmd...); err != nil {
			return fmt.Errorf("auth failed: %w", err)
		}
	}
	if b.cfg.DB > 0 {
		if err := rc.expectOK("SELECT", strconv.Itoa(b.cfg.DB)); err != nil {
			return fmt.Errorf("select failed: %w", err)
		}
	}
	return nil
}

type respKind string

const (
	respSimple  respKind = "+"
	respBulk    respKind = "$"
	respInteger respKind = ":"
	respNil     respKind = "_"
)

type respReply struct {
	kind respKind
	data []byte
}

type respConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	cfg  ValkeyConfig
}

func (rc *respConn) expectOK(parts ...string) error {
	if err := rc.send(parts...); err != nil {
		return err
	}
	reply, err := rc.receive()
	if err != nil {
		return err
	}
	if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
		return fmt.Errorf("unexpected reply %s", reply.data)
	}
	return nil
}

func (rc *respConn) send(parts ...string) error {
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.cfg.WriteTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(rc.w, "*%d\r\n", len(parts))
	for _, p := range parts {
		fmt.Fprintf(rc.w, "$%d\r\n%s\r\n", len(p), p)
	}
	return rc.w.Flush()
}

func (rc *respConn) receive() (respReply, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := rc.r.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	line, err := rc.line()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		return respReply{kind: respSimple, data: line}, nil
	case '-':
		return respReply{}, errors.New(string(line))
	case ':':
		return respReply{kind: respInteger, data: line}, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{kind: respNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rc.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk termination")
		}
		return respReply{kind: respBulk, data: buf[:size]}, nil
	}
	return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
}

func (rc *respConn) line() ([]byte, error) {
	s, err := rc.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(s, "\r\n")), nil
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

func transient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
