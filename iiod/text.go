package iiod

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// TextTransport speaks the line-oriented dialect of older daemons. Every
// command is answered with one ASCII integer line: negative values are errno
// style failures, non-negative values are a byte count, a buffer id, or zero
// depending on the verb. Commands that return data follow the integer line
// with exactly that many raw bytes and a trailing newline.
type TextTransport struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
}

// NewTextTransport attaches a connection to a text transport.
func NewTextTransport(conn net.Conn) *TextTransport {
	return &TextTransport{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-exchange fallback deadline.
func (tt *TextTransport) SetTimeout(d time.Duration) {
	if d > 0 {
		tt.timeout = d
	}
}

func (tt *TextTransport) send(ctx context.Context, cmd string, trailer []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tt.conn.SetDeadline(exchangeDeadline(ctx, tt.timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	if _, err := tt.w.WriteString(cmd); err != nil {
		return err
	}
	if len(trailer) > 0 {
		if _, err := tt.w.Write(trailer); err != nil {
			return err
		}
		if err := tt.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return tt.w.Flush()
}

// statusLine reads the integer result line for the previous command.
func (tt *TextTransport) statusLine() (int, error) {
	line, err := tt.r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("malformed result line %q", strings.TrimSpace(line))
	}
	return n, nil
}

// payload reads n raw bytes plus the trailing newline.
func (tt *TextTransport) payload(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative payload length %d", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(tt.r, body); err != nil {
		return nil, err
	}
	// Trailing newline terminates the payload block.
	if b, err := tt.r.ReadByte(); err == nil && b != '\n' {
		_ = tt.r.UnreadByte()
	}
	return body, nil
}

// query sends a command expecting a counted payload back.
func (tt *TextTransport) query(ctx context.Context, cmd string) ([]byte, error) {
	if err := tt.send(ctx, cmd, nil); err != nil {
		return nil, err
	}
	n, err := tt.statusLine()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%s: status %d", firstWord(cmd), n)
	}
	return tt.payload(n)
}

// Probe asks for the daemon version; any well-formed integer reply means the
// far end speaks the text dialect.
func (tt *TextTransport) Probe(ctx context.Context) error {
	if _, err := tt.Version(ctx); err != nil {
		return fmt.Errorf("text probe: %w", err)
	}
	return nil
}

func (tt *TextTransport) Version(ctx context.Context) (string, error) {
	body, err := tt.query(ctx, "VERSION")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (tt *TextTransport) Context(ctx context.Context) ([]byte, error) {
	body, err := tt.query(ctx, "PRINT")
	if err != nil {
		return nil, err
	}
	// Some firmware emits a BOM or banner before the document.
	if idx := strings.Index(string(body), "<"); idx > 0 {
		body = body[idx:]
	}
	return body, nil
}

func (tt *TextTransport) ListDevices(ctx context.Context) ([]string, error) {
	body, err := tt.query(ctx, "LISTDEVICES")
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(body)), nil
}

func (tt *TextTransport) ReadAttr(ctx context.Context, dev, ch, attr string) (string, error) {
	cmd := fmt.Sprintf("READ %s %s", dev, attr)
	if ch != "" {
		cmd = fmt.Sprintf("READ %s %s %s", dev, ch, attr)
	}
	body, err := tt.query(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("read attr %s/%s/%s: %w", dev, ch, attr, err)
	}
	return strings.TrimSpace(string(body)), nil
}

func (tt *TextTransport) WriteAttr(ctx context.Context, dev, ch, attr, value string) error {
	cmd := fmt.Sprintf("WRITE %s %s %s", dev, attr, value)
	if ch != "" {
		cmd = fmt.Sprintf("WRITE %s %s %s %s", dev, ch, attr, value)
	}
	if err := tt.send(ctx, cmd, nil); err != nil {
		return fmt.Errorf("write attr %s/%s/%s: %w", dev, ch, attr, err)
	}
	n, err := tt.statusLine()
	if err != nil {
		return fmt.Errorf("write attr %s/%s/%s: %w", dev, ch, attr, err)
	}
	if n < 0 {
		return fmt.Errorf("write attr %s/%s/%s: status %d", dev, ch, attr, n)
	}
	return nil
}

func (tt *TextTransport) OpenBuffer(ctx context.Context, dev string, samples int, cyclic bool) (int, error) {
	cmd := fmt.Sprintf("BUFFER_OPEN %s %d %d", dev, samples, boolWord(cyclic))
	if err := tt.send(ctx, cmd, nil); err != nil {
		return 0, fmt.Errorf("open buffer on %s: %w", dev, err)
	}
	id, err := tt.statusLine()
	if err != nil {
		return 0, fmt.Errorf("open buffer on %s: %w", dev, err)
	}
	if id < 0 {
		return 0, fmt.Errorf("open buffer on %s: status %d", dev, id)
	}
	return id, nil
}

func (tt *TextTransport) WriteBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	cmd := fmt.Sprintf("BUFFER_WRITE %d %d", bufID, len(p))
	if err := tt.send(ctx, cmd, p); err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	n, err := tt.statusLine()
	if err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("write buffer %d: status %d", bufID, n)
	}
	return n, nil
}

func (tt *TextTransport) ReadBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	cmd := fmt.Sprintf("BUFFER_READ %d %d", bufID, len(p))
	if err := tt.send(ctx, cmd, nil); err != nil {
		return 0, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	n, err := tt.statusLine()
	if err != nil {
		return 0, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("read buffer %d: status %d", bufID, n)
	}
	body, err := tt.payload(n)
	if err != nil {
		return 0, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	return copy(p, body), nil
}

func (tt *TextTransport) CloseBuffer(ctx context.Context, bufID int) error {
	if err := tt.send(ctx, fmt.Sprintf("BUFFER_CLOSE %d", bufID), nil); err != nil {
		return fmt.Errorf("close buffer %d: %w", bufID, err)
	}
	n, err := tt.statusLine()
	if err != nil {
		return fmt.Errorf("close buffer %d: %w", bufID, err)
	}
	if n < 0 {
		return fmt.Errorf("close buffer %d: status %d", bufID, n)
	}
	return nil
}

// Close releases transport-local state. The Client owns the connection.
func (tt *TextTransport) Close() error { return nil }

func firstWord(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		return cmd[:i]
	}
	return strings.TrimSpace(cmd)
}
