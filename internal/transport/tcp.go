package transport

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// TCP connection constants.
const (
	defaultDialTimeout = 5 * time.Second
	defaultIOTimeout   = 3 * time.Second
	defaultTerminator  = "\n"
	defaultErrorQuery  = "SYST:ERR?"
)

// TCPConfig configures a raw-socket instrument connection.
type TCPConfig struct {
	// Address is the host:port of the instrument's socket server.
	Address string `yaml:"address"`

	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// IOTimeout bounds each write and each response read.
	IOTimeout time.Duration `yaml:"io_timeout"`

	// Terminator ends outgoing commands and incoming responses.
	// Defaults to "\n".
	Terminator string `yaml:"terminator"`

	// ErrorQuery is the command used by CheckOperation to drain the
	// instrument's error queue. Defaults to "SYST:ERR?"; empty disables
	// nothing, set Disable to skip the check.
	ErrorQuery string `yaml:"error_query"`

	// DisableErrorQuery makes CheckOperation a no-op for instruments
	// without an error queue.
	DisableErrorQuery bool `yaml:"disable_error_query"`
}

func (c *TCPConfig) withDefaults() TCPConfig {
	cfg := *c
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = defaultIOTimeout
	}
	if cfg.Terminator == "" {
		cfg.Terminator = defaultTerminator
	}
	if cfg.ErrorQuery == "" {
		cfg.ErrorQuery = defaultErrorQuery
	}
	return cfg
}

// TCPTransport talks to an instrument over a raw TCP socket with
// newline-terminated commands, the common framing for bench instruments
// with LAN interfaces.
type TCPTransport struct {
	cfg TCPConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewTCP creates a closed TCP transport.
func NewTCP(cfg TCPConfig) *TCPTransport {
	return &TCPTransport{cfg: cfg.withDefaults()}
}

// Open implements Transport.
func (t *TCPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked(ctx)
}

func (t *TCPTransport) openLocked(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	dialer := net.Dialer{Timeout: t.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Address)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", t.cfg.Address, err)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

// Close implements Transport.
func (t *TCPTransport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

func (t *TCPTransport) closeLocked() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}

// Reopen implements Transport. Any buffered half-read response is dropped
// with the old connection.
func (t *TCPTransport) Reopen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.closeLocked()
	return t.openLocked(ctx)
}

// Connected implements Transport.
func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Query implements Transport.
func (t *TCPTransport) Query(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeLocked(ctx, cmd); err != nil {
		return "", err
	}
	return t.readLocked(ctx)
}

// Send implements Transport.
func (t *TCPTransport) Send(ctx context.Context, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx, line)
}

// CheckOperation implements Transport. It drains one entry from the
// instrument's error queue; a leading "0" code means no error pending.
func (t *TCPTransport) CheckOperation(ctx context.Context) (string, error) {
	if t.cfg.DisableErrorQuery {
		return "", nil
	}
	resp, err := t.Query(ctx, t.cfg.ErrorQuery)
	if err != nil {
		return "", err
	}
	return ParseErrorResponse(resp), nil
}

func (t *TCPTransport) writeLocked(ctx context.Context, line string) error {
	if t.conn == nil {
		return ErrClosed
	}

	deadline := time.Now().Add(t.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	if _, err := t.conn.Write([]byte(line + t.cfg.Terminator)); err != nil {
		return fmt.Errorf("writing %q: %w", line, err)
	}
	return nil
}

func (t *TCPTransport) readLocked(ctx context.Context) (string, error) {
	if t.conn == nil {
		return "", ErrClosed
	}

	deadline := time.Now().Add(t.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("setting read deadline: %w", err)
	}

	term := t.cfg.Terminator[len(t.cfg.Terminator)-1]
	resp, err := t.reader.ReadString(term)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	return strings.TrimRight(resp, t.cfg.Terminator+"\r"), nil
}

// ParseErrorResponse interprets an error-queue response. Instruments
// answer `0,"No error"` (or a bare "0") when the queue is empty; anything
// else is returned verbatim as the pending error message.
func ParseErrorResponse(resp string) string {
	trimmed := strings.TrimSpace(resp)
	if trimmed == "" {
		return ""
	}
	code, _, _ := strings.Cut(trimmed, ",")
	if strings.TrimSpace(code) == "0" || strings.TrimSpace(code) == "+0" {
		return ""
	}
	return trimmed
}
