// Package iiod implements a client for the IIO daemon network protocol as
// spoken by AD936x-class devices (PlutoSDR and derivatives). It supports the
// binary framing of recent daemons and falls back to the line-oriented text
// protocol of older firmware.
package iiod

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// DefaultTimeout bounds a single command/response exchange when the caller's
// context carries no deadline of its own.
const DefaultTimeout = 5 * time.Second

// Transport is one wire dialect of the IIOD protocol.
type Transport interface {
	// Probe checks whether the remote daemon speaks this dialect. It must
	// leave the connection reusable on success.
	Probe(ctx context.Context) error

	Version(ctx context.Context) (string, error)
	Context(ctx context.Context) ([]byte, error)
	ListDevices(ctx context.Context) ([]string, error)

	ReadAttr(ctx context.Context, dev, ch, attr string) (string, error)
	WriteAttr(ctx context.Context, dev, ch, attr, value string) error

	OpenBuffer(ctx context.Context, dev string, samples int, cyclic bool) (int, error)
	WriteBuffer(ctx context.Context, bufID int, p []byte) (int, error)
	ReadBuffer(ctx context.Context, bufID int, p []byte) (int, error)
	CloseBuffer(ctx context.Context, bufID int) error

	Close() error
}

// Client wraps one TCP session to an IIOD instance. All exchanges are
// serialized; the protocol has no request IDs, so responses must be read in
// lockstep with requests.
type Client struct {
	uri       string
	conn      net.Conn
	transport Transport

	mu     sync.Mutex
	xmlDoc *IIOContext

	// Logf, when set, receives transport selection and retry notices.
	Logf func(format string, args ...any)
}

// Dial connects to an IIOD instance at host:port, probing the binary dialect
// first and falling back to text mode.
func Dial(ctx context.Context, uri string) (*Client, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", uri)
	if err != nil {
		return nil, fmt.Errorf("connect to IIOD at %s: %w", uri, err)
	}

	c := &Client{uri: uri, conn: conn}

	bin := NewBinaryTransport(conn)
	if err := bin.Probe(ctx); err == nil {
		c.transport = bin
		c.logf("iiod: binary transport selected for %s", uri)
		return c, nil
	} else {
		c.logf("iiod: binary probe rejected (%v), trying text mode", err)
	}

	txt := NewTextTransport(conn)
	if err := txt.Probe(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("probe IIOD at %s: %w", uri, err)
	}
	c.transport = txt
	c.logf("iiod: text transport selected for %s", uri)
	return c, nil
}

// NewClient wraps an already-selected transport. Used by tests and by callers
// that force a dialect.
func NewClient(uri string, conn net.Conn, t Transport) *Client {
	return &Client{uri: uri, conn: conn, transport: t}
}

func (c *Client) logf(format string, args ...any) {
	if c.Logf != nil {
		c.Logf(format, args...)
	}
}

// URI returns the remote address this client was dialed against.
func (c *Client) URI() string { return c.uri }

// Close shuts the session down. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) active() (Transport, error) {
	if c.transport == nil {
		return nil, fmt.Errorf("iiod: client is closed")
	}
	return c.transport, nil
}

// Version reports the daemon version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return "", err
	}
	return t.Version(ctx)
}

// Context fetches and parses the XML context document. The parsed document is
// cached for the life of the session; the remote description is immutable.
func (c *Client) Context(ctx context.Context) (*IIOContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.xmlDoc != nil {
		return c.xmlDoc, nil
	}
	t, err := c.active()
	if err != nil {
		return nil, err
	}
	raw, err := t.Context(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch XML context: %w", err)
	}
	doc, err := ParseContext(raw)
	if err != nil {
		return nil, fmt.Errorf("parse XML context: %w", err)
	}
	c.xmlDoc = doc
	return doc, nil
}

// ListDevices enumerates device IDs known to the daemon.
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return nil, err
	}
	return t.ListDevices(ctx)
}

// ReadAttr reads a device or channel attribute. ch may be empty for
// device-level attributes.
func (c *Client) ReadAttr(ctx context.Context, dev, ch, attr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return "", err
	}
	return t.ReadAttr(ctx, dev, ch, attr)
}

// WriteAttr writes a device or channel attribute. ch may be empty for
// device-level attributes.
func (c *Client) WriteAttr(ctx context.Context, dev, ch, attr, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return err
	}
	return t.WriteAttr(ctx, dev, ch, attr, value)
}

func (c *Client) openBuffer(ctx context.Context, dev string, samples int, cyclic bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return 0, err
	}
	return t.OpenBuffer(ctx, dev, samples, cyclic)
}

func (c *Client) writeBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return 0, err
	}
	return t.WriteBuffer(ctx, bufID, p)
}

func (c *Client) readBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return 0, err
	}
	return t.ReadBuffer(ctx, bufID, p)
}

func (c *Client) closeBuffer(ctx context.Context, bufID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, err := c.active()
	if err != nil {
		return err
	}
	return t.CloseBuffer(ctx, bufID)
}

// exchangeDeadline computes the absolute deadline for one command/response
// round trip, preferring the caller's context deadline when it is sooner.
func exchangeDeadline(ctx context.Context, fallback time.Duration) time.Time {
	dl := time.Now().Add(fallback)
	if cd, ok := ctx.Deadline(); ok && cd.Before(dl) {
		return cd
	}
	return dl
}
