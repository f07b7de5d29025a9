package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	DialTimeout time.Duration
	IOTimeout   time.Duration
	MaxRetries  int
	TLS         bool
}

func (c *ValkeyConfig) normalise() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// ValkeyProvider speaks RESP2 over a single reused connection. The connection
// is dropped on any I/O error and redialled on the next call.
type ValkeyProvider struct {
	cfg ValkeyConfig

	mu   sync.Mutex
	conn *respConn
}

// NewValkeyProvider connects and pings so bad credentials fail fast.
func NewValkeyProvider(ctx context.Context, cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.normalise()
	p := &ValkeyProvider{cfg: cfg}
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping %s: %w", cfg.Addr, err)
	}
	if reply.kind != '+' || string(reply.data) != "PONG" {
		return nil, fmt.Errorf("unexpected PING reply %q", reply.data)
	}
	return p, nil
}

// Get returns ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.null {
		return nil, ErrCacheMiss
	}
	if reply.kind != '$' {
		return nil, fmt.Errorf("unexpected GET reply type %q", reply.kind)
	}
	return reply.data, nil
}

// Set stores value with a millisecond TTL when ttl is positive.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.do(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if reply.kind != '+' || string(reply.data) != "OK" {
		return fmt.Errorf("unexpected SET reply %q", reply.data)
	}
	return nil
}

// Del removes key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close releases the connection.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// do runs one command, retrying transport failures with exponential backoff.
// Server error replies are returned without retry.
func (p *ValkeyProvider) do(ctx context.Context, cmd string, args ...string) (reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := &backoff.Backoff{Min: 25 * time.Millisecond, Max: time.Second, Factor: 2}
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return reply{}, err
		}
		if p.conn == nil {
			conn, err := p.dial(ctx)
			if err != nil {
				lastErr = err
				p.wait(ctx, attempt, b.Duration())
				continue
			}
			p.conn = conn
		}
		r, err := p.conn.roundTrip(p.cfg.IOTimeout, cmd, args...)
		var serverErr *ServerError
		if errors.As(err, &serverErr) {
			return reply{}, err
		}
		if err != nil {
			_ = p.conn.Close()
			p.conn = nil
			lastErr = err
			p.wait(ctx, attempt, b.Duration())
			continue
		}
		return r, nil
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) wait(ctx context.Context, attempt int, d time.Duration) {
	if attempt >= p.cfg.MaxRetries-1 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host, _, splitErr := net.SplitHostPort(p.cfg.Addr)
		if splitErr != nil {
			host = p.cfg.Addr
		}
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	rc := &respConn{Conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}
	if err := p.handshake(rc); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

func (p *ValkeyProvider) handshake(rc *respConn) error {
	if p.cfg.Password != "" {
		args := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{p.cfg.Username, p.cfg.Password}
		}
		if _, err := rc.roundTrip(p.cfg.IOTimeout, "AUTH", args...); err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := rc.roundTrip(p.cfg.IOTimeout, "SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return fmt.Errorf("valkey select %d: %w", p.cfg.DB, err)
		}
	}
	return nil
}

// ServerError is an error reply sent by the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "valkey: " + e.Message }

type reply struct {
	kind byte
	data []byte
	null bool
}

type respConn struct {
	net.Conn
	r *bufio.Reader
	w *bufio.Writer
}

func (c *respConn) roundTrip(timeout time.Duration, cmd string, args ...string) (reply, error) {
	if err := c.SetDeadline(time.Now().Add(timeout)); err != nil {
		return reply{}, err
	}
	fmt.Fprintf(c.w, "*%d\r\n$%d\r\n%s\r\n", len(args)+1, len(cmd), cmd)
	for _, a := range args {
		fmt.Fprintf(c.w, "$%d\r\n%s\r\n", len(a), a)
	}
	if err := c.w.Flush(); err != nil {
		return reply{}, err
	}
	return c.read()
}

func (c *respConn) read() (reply, error) {
	kind, err := c.r.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := c.line()
	if err != nil {
		return reply{}, err
	}
	switch kind {
	case '+', ':':
		return reply{kind: kind, data: line}, nil
	case '-':
		return reply{}, &ServerError{Message: string(line)}
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, fmt.Errorf("bad bulk length %q: %w", line, err)
		}
		if size < 0 {
			return reply{kind: kind, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return reply{}, err
		}
		return reply{kind: kind, data: buf[:size]}, nil
	}
	return reply{}, fmt.Errorf("unexpected RESP prefix %q", kind)
}

func (c *respConn) line() ([]byte, error) {
	s, err := c.r.ReadSlice('\n')
	if err != nil {
		return nil, err
	}
	if len(s) < 2 || s[len(s)-2] != '\r' {
		return nil, errors.New("invalid RESP line termination")
	}
	return append([]byte(nil), s[:len(s)-2]...), nil
}
