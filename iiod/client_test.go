package iiod

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handle func(req binaryRequest, w io.Writer)) (*Client, *fakeBinaryServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	s := &fakeBinaryServer{handle: handle}
	go s.serve(serverConn)

	bt := NewBinaryTransport(clientConn)
	bt.SetTimeout(2 * time.Second)
	c := NewClient("pipe", clientConn, bt)
	t.Cleanup(func() { c.Close() })
	return c, s
}

// daemonHandler emulates enough of a Pluto daemon for the buffer lifecycle:
// PRINT serves the context, attribute writes are acked and remembered, and
// buffer verbs answer with fixed ids and counts.
func daemonHandler(req binaryRequest, w io.Writer) {
	switch req.op {
	case opPrint:
		binaryReply(w, 0, []byte(contextXML))
	case opAttr:
		if bytes.Count(req.payload, []byte{0}) == 4 {
			binaryReply(w, 0, nil) // write form
			return
		}
		binaryReply(w, 0, []byte("1\x00"))
	case opOpenBuffer:
		id := make([]byte, 4)
		binary.LittleEndian.PutUint32(id, 3)
		binaryReply(w, 0, id)
	case opWriteBuf:
		count := make([]byte, 4)
		binary.LittleEndian.PutUint32(count, uint32(len(req.payload)))
		binaryReply(w, 0, count)
	case opReadBuf:
		binaryReply(w, 0, FormatInt16([]int16{5, -5, 6, -6}))
	case opCloseBuffer:
		binaryReply(w, 0, nil)
	default:
		binaryReply(w, -22, nil)
	}
}

func TestClientCachesContext(t *testing.T) {
	c, s := newTestClient(t, daemonHandler)
	ctx := context.Background()

	doc, err := c.Context(ctx)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if _, ok := doc.FindDevice("ad9361-phy"); !ok {
		t.Fatalf("parsed context lost the phy device")
	}
	if _, err := c.Context(ctx); err != nil {
		t.Fatalf("second Context failed: %v", err)
	}

	prints := 0
	for _, req := range s.requests() {
		if req.op == opPrint {
			prints++
		}
	}
	if prints != 1 {
		t.Fatalf("daemon served %d PRINTs, want the document cached after 1", prints)
	}
}

func TestClientClosedErrors(t *testing.T) {
	c, _ := newTestClient(t, daemonHandler)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := c.Version(context.Background()); err == nil {
		t.Fatalf("Version on a closed client should fail")
	}
	if err := c.WriteAttr(context.Background(), "d", "c", "a", "v"); err == nil {
		t.Fatalf("WriteAttr on a closed client should fail")
	}
}

func TestCreateStreamBuffer(t *testing.T) {
	c, s := newTestClient(t, daemonHandler)
	ctx := context.Background()

	buf, err := c.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "output", 8192, 0x3, false)
	if err != nil {
		t.Fatalf("CreateStreamBuffer failed: %v", err)
	}
	if buf.ID() != 3 {
		t.Fatalf("buffer id = %d, want 3", buf.ID())
	}
	if buf.Samples() != 8192 {
		t.Fatalf("buffer depth = %d", buf.Samples())
	}
	if got := buf.EnabledChannels(); len(got) != 2 || got[0] != "voltage0" || got[1] != "voltage1" {
		t.Fatalf("enabled channels = %v, want scan order voltage0, voltage1", got)
	}

	frame := []int16{100, -100, 200, -200}
	if err := buf.WriteSamples(ctx, frame); err != nil {
		t.Fatalf("WriteSamples failed: %v", err)
	}

	if err := buf.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := buf.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := buf.WriteSamples(ctx, frame); err == nil {
		t.Fatalf("WriteSamples after Close should fail")
	}

	// Wire order: context, two enables, open, write, close, two disables.
	reqs := s.requests()
	var attrs []string
	var writeReq *binaryRequest
	for i := range reqs {
		switch reqs[i].op {
		case opAttr:
			attrs = append(attrs, string(bytes.TrimRight(reqs[i].payload, "\x00")))
		case opWriteBuf:
			writeReq = &reqs[i]
		}
	}
	wantAttrs := []string{
		"cf-ad9361-dds-core-lpc\x00voltage0\x00en\x001",
		"cf-ad9361-dds-core-lpc\x00voltage1\x00en\x001",
		"cf-ad9361-dds-core-lpc\x00voltage0\x00en\x000",
		"cf-ad9361-dds-core-lpc\x00voltage1\x00en\x000",
	}
	if len(attrs) != len(wantAttrs) {
		t.Fatalf("daemon saw %d attr ops: %q", len(attrs), attrs)
	}
	for i := range wantAttrs {
		if attrs[i] != wantAttrs[i] {
			t.Fatalf("attr op %d = %q, want %q", i, attrs[i], wantAttrs[i])
		}
	}
	if writeReq == nil || writeReq.target != 3 || !bytes.Equal(writeReq.payload, FormatInt16(frame)) {
		t.Fatalf("buffer write not seen or corrupted: %+v", writeReq)
	}
}

func TestCreateStreamBufferValidation(t *testing.T) {
	c, _ := newTestClient(t, daemonHandler)
	ctx := context.Background()

	if _, err := c.CreateStreamBuffer(ctx, "", "output", 8192, 1, false); err == nil {
		t.Fatalf("empty device accepted")
	}
	if _, err := c.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "output", 0, 1, false); err == nil {
		t.Fatalf("zero sample depth accepted")
	}
	if _, err := c.CreateStreamBuffer(ctx, "xadc", "output", 8192, 1, false); err == nil {
		t.Fatalf("unknown device accepted")
	}
	if _, err := c.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "input", 8192, 1, false); err == nil {
		t.Fatalf("direction without scan channels accepted")
	}
	if _, err := c.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "output", 8192, 0x0, false); err == nil {
		t.Fatalf("empty channel mask accepted")
	}
}

func TestBufferReadSamples(t *testing.T) {
	c, _ := newTestClient(t, daemonHandler)
	ctx := context.Background()

	buf, err := c.CreateStreamBuffer(ctx, "cf-ad9361-dds-core-lpc", "output", 16, 0x1, false)
	if err != nil {
		t.Fatalf("CreateStreamBuffer failed: %v", err)
	}
	p := make([]int16, 4)
	n, err := buf.ReadSamples(ctx, p)
	if err != nil {
		t.Fatalf("ReadSamples failed: %v", err)
	}
	if n != 4 || p[0] != 5 || p[1] != -5 {
		t.Fatalf("ReadSamples = %d %v", n, p)
	}
}

// serveFramedTCP runs daemonHandler over a real listener for Dial tests.
func serveFramedTCP(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s := &fakeBinaryServer{handle: daemonHandler}
			go s.serve(conn)
		}
	}()
	return ln.Addr().String()
}

func TestDialSelectsBinary(t *testing.T) {
	addr := serveFramedTCP(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if c.URI() != addr {
		t.Fatalf("URI = %q, want %q", c.URI(), addr)
	}
	doc, err := c.Context(ctx)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if _, ok := doc.FindDevice("cf-ad9361-dds-core-lpc"); !ok {
		t.Fatalf("context lost the DAC device")
	}
}

func TestDialFallsBackToText(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	// The far end answers the binary PRINT probe with a banner instead of a
	// document, then speaks the text dialect.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		probe := make([]byte, 20)
		if _, err := io.ReadFull(conn, probe); err != nil {
			return
		}
		binaryReply(conn, 0, []byte("iiod banner, no document here"))

		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimSpace(line) == "VERSION" {
				fmt.Fprintf(conn, "4\n0.24\n")
			} else {
				fmt.Fprintf(conn, "%d\n", -22)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	got, err := c.Version(ctx)
	if err != nil {
		t.Fatalf("Version over text transport failed: %v", err)
	}
	if got != "0.24" {
		t.Fatalf("Version = %q", got)
	}
}

func TestDialConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Dial(ctx, addr); err == nil {
		t.Fatalf("Dial to a closed port succeeded")
	}
}
