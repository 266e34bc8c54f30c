package iiod

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// Binary protocol opcodes. Requests carry a fixed five-word little-endian
// header {op, flags, target, code, payload length} followed by the payload.
// Responses are {status, length} followed by length payload bytes; status 0
// means success.
const (
	opVersion     = 0
	opPrint       = 1
	opListDevices = 2
	opOpenBuffer  = 3
	opCloseBuffer = 4
	opReadBuf     = 5
	opWriteBuf    = 6
	opAttr        = 7
)

const maxBinaryPayload = 32 * 1024 * 1024

// BinaryTransport speaks the framed binary dialect.
type BinaryTransport struct {
	conn    net.Conn
	timeout time.Duration
}

// NewBinaryTransport attaches a connection to a binary transport.
func NewBinaryTransport(conn net.Conn) *BinaryTransport {
	return &BinaryTransport{conn: conn, timeout: DefaultTimeout}
}

// SetTimeout overrides the per-exchange fallback deadline.
func (bt *BinaryTransport) SetTimeout(d time.Duration) {
	if d > 0 {
		bt.timeout = d
	}
}

func (bt *BinaryTransport) request(op, target uint32, payload []byte) []byte {
	buf := make([]byte, 20, 20+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], op)
	binary.LittleEndian.PutUint32(buf[4:8], 0) // flags
	binary.LittleEndian.PutUint32(buf[8:12], target)
	binary.LittleEndian.PutUint32(buf[12:16], 0) // code
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	return append(buf, payload...)
}

// exchange writes one framed request and reads the matching response.
func (bt *BinaryTransport) exchange(ctx context.Context, op, target uint32, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dl := exchangeDeadline(ctx, bt.timeout)
	if err := bt.conn.SetDeadline(dl); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	if _, err := bt.conn.Write(bt.request(op, target, payload)); err != nil {
		return nil, fmt.Errorf("send op %d: %w", op, err)
	}

	header := make([]byte, 8)
	if _, err := io.ReadFull(bt.conn, header); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}
	status := int32(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > maxBinaryPayload {
		return nil, fmt.Errorf("response payload too large: %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(bt.conn, body); err != nil {
		return nil, fmt.Errorf("read response payload: %w", err)
	}
	if status != 0 {
		return nil, fmt.Errorf("op %d failed: status %d", op, status)
	}
	return body, nil
}

// Probe requests the XML context and checks it looks like one. A daemon that
// does not speak binary framing will stall or answer garbage here.
func (bt *BinaryTransport) Probe(ctx context.Context) error {
	body, err := bt.exchange(ctx, opPrint, 0, nil)
	if err != nil {
		return err
	}
	if !bytes.Contains(body, []byte("<context")) {
		return fmt.Errorf("PRINT did not return an XML context")
	}
	return nil
}

func (bt *BinaryTransport) Version(ctx context.Context) (string, error) {
	body, err := bt.exchange(ctx, opVersion, 0, nil)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(body, "\x00\n")), nil
}

func (bt *BinaryTransport) Context(ctx context.Context) ([]byte, error) {
	return bt.exchange(ctx, opPrint, 0, nil)
}

func (bt *BinaryTransport) ListDevices(ctx context.Context) ([]string, error) {
	body, err := bt.exchange(ctx, opListDevices, 0, nil)
	if err != nil {
		return nil, err
	}
	parts := bytes.Split(body, []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := string(bytes.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// attrPayload renders dev\0ch\0attr\0[value\0]; "-" stands in for an absent
// channel so device-level attributes keep the field count.
func attrPayload(dev, ch, attr, value string, withValue bool) []byte {
	var buf bytes.Buffer
	buf.WriteString(dev)
	buf.WriteByte(0)
	if ch == "" {
		buf.WriteString("-")
	} else {
		buf.WriteString(ch)
	}
	buf.WriteByte(0)
	buf.WriteString(attr)
	buf.WriteByte(0)
	if withValue {
		buf.WriteString(value)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func (bt *BinaryTransport) ReadAttr(ctx context.Context, dev, ch, attr string) (string, error) {
	body, err := bt.exchange(ctx, opAttr, 0, attrPayload(dev, ch, attr, "", false))
	if err != nil {
		return "", fmt.Errorf("read attr %s/%s/%s: %w", dev, ch, attr, err)
	}
	return string(bytes.TrimRight(body, "\x00\n")), nil
}

func (bt *BinaryTransport) WriteAttr(ctx context.Context, dev, ch, attr, value string) error {
	if _, err := bt.exchange(ctx, opAttr, 0, attrPayload(dev, ch, attr, value, true)); err != nil {
		return fmt.Errorf("write attr %s/%s/%s: %w", dev, ch, attr, err)
	}
	return nil
}

func (bt *BinaryTransport) OpenBuffer(ctx context.Context, dev string, samples int, cyclic bool) (int, error) {
	payload := new(bytes.Buffer)
	binary.Write(payload, binary.LittleEndian, uint32(samples))
	binary.Write(payload, binary.LittleEndian, boolWord(cyclic))
	payload.WriteString(dev)
	payload.WriteByte(0)

	body, err := bt.exchange(ctx, opOpenBuffer, 0, payload.Bytes())
	if err != nil {
		return 0, fmt.Errorf("open buffer on %s: %w", dev, err)
	}
	if len(body) < 4 {
		return 0, fmt.Errorf("open buffer on %s: short id response", dev)
	}
	return int(binary.LittleEndian.Uint32(body[0:4])), nil
}

func (bt *BinaryTransport) WriteBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	body, err := bt.exchange(ctx, opWriteBuf, uint32(bufID), p)
	if err != nil {
		return 0, fmt.Errorf("write buffer %d: %w", bufID, err)
	}
	// The daemon may acknowledge with the byte count it queued.
	if len(body) >= 4 {
		return int(binary.LittleEndian.Uint32(body[0:4])), nil
	}
	return len(p), nil
}

func (bt *BinaryTransport) ReadBuffer(ctx context.Context, bufID int, p []byte) (int, error) {
	body, err := bt.exchange(ctx, opReadBuf, uint32(bufID), nil)
	if err != nil {
		return 0, fmt.Errorf("read buffer %d: %w", bufID, err)
	}
	return copy(p, body), nil
}

func (bt *BinaryTransport) CloseBuffer(ctx context.Context, bufID int) error {
	if _, err := bt.exchange(ctx, opCloseBuffer, uint32(bufID), nil); err != nil {
		return fmt.Errorf("close buffer %d: %w", bufID, err)
	}
	return nil
}

// Close releases transport-local state. The Client owns the connection.
func (bt *BinaryTransport) Close() error { return nil }

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
