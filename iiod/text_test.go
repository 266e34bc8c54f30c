package iiod

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
)

// fakeTextServer answers line commands the way pre-binary iiod firmware does:
// one integer result line, then the counted payload for commands that return
// data.
type fakeTextServer struct {
	mu   sync.Mutex
	seen []string

	attrs map[string]string
}

func (s *fakeTextServer) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		s.mu.Lock()
		s.seen = append(s.seen, cmd)
		s.mu.Unlock()

		fields := strings.Fields(cmd)
		switch fields[0] {
		case "VERSION":
			payloadReply(conn, "0.24")
		case "PRINT":
			payloadReply(conn, contextXML)
		case "LISTDEVICES":
			payloadReply(conn, "iio:device1 iio:device3")
		case "READ":
			key := strings.Join(fields[1:], "/")
			if v, ok := s.attrs[key]; ok {
				payloadReply(conn, v)
			} else {
				fmt.Fprintf(conn, "%d\n", -2)
			}
		case "WRITE":
			key := strings.Join(fields[1:len(fields)-1], "/")
			if s.attrs == nil {
				s.attrs = map[string]string{}
			}
			s.attrs[key] = fields[len(fields)-1]
			fmt.Fprintf(conn, "%d\n", len(fields[len(fields)-1]))
		case "BUFFER_OPEN":
			fmt.Fprintf(conn, "%d\n", 2)
		case "BUFFER_WRITE":
			n, _ := strconv.Atoi(fields[2])
			body := make([]byte, n)
			if _, err := io.ReadFull(r, body); err != nil {
				return
			}
			if b, err := r.ReadByte(); err == nil && b != '\n' {
				r.UnreadByte()
			}
			fmt.Fprintf(conn, "%d\n", n)
		case "BUFFER_CLOSE":
			fmt.Fprintf(conn, "%d\n", 0)
		default:
			fmt.Fprintf(conn, "%d\n", -22)
		}
	}
}

// payloadReply writes the counted-payload form: length line, raw bytes,
// trailing newline.
func payloadReply(w io.Writer, body string) {
	fmt.Fprintf(w, "%d\n%s\n", len(body), body)
}

func (s *fakeTextServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.seen))
	copy(out, s.seen)
	return out
}

func startText(t *testing.T) (*TextTransport, *fakeTextServer) {
	t.Helper()
	client, server := net.Pipe()
	s := &fakeTextServer{attrs: map[string]string{
		"ad9361-phy/voltage0/hardwaregain": "-10.500000 dB",
	}}
	go s.serve(server)
	t.Cleanup(func() { client.Close() })

	tt := NewTextTransport(client)
	tt.SetTimeout(2 * time.Second)
	return tt, s
}

func TestTextProbeAndVersion(t *testing.T) {
	tt, _ := startText(t)
	if err := tt.Probe(context.Background()); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	got, err := tt.Version(context.Background())
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if got != "0.24" {
		t.Fatalf("Version = %q", got)
	}
}

func TestTextContextAndListDevices(t *testing.T) {
	tt, _ := startText(t)
	ctx := context.Background()

	raw, err := tt.Context(ctx)
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if _, err := ParseContext(raw); err != nil {
		t.Fatalf("PRINT payload does not parse: %v", err)
	}

	devs, err := tt.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices failed: %v", err)
	}
	if len(devs) != 2 || devs[0] != "iio:device1" {
		t.Fatalf("ListDevices = %v", devs)
	}
}

func TestTextAttrRoundTrip(t *testing.T) {
	tt, s := startText(t)
	ctx := context.Background()

	got, err := tt.ReadAttr(ctx, "ad9361-phy", "voltage0", "hardwaregain")
	if err != nil {
		t.Fatalf("ReadAttr failed: %v", err)
	}
	if got != "-10.500000 dB" {
		t.Fatalf("ReadAttr = %q", got)
	}

	if err := tt.WriteAttr(ctx, "ad9361-phy", "voltage0", "rf_bandwidth", "2000000"); err != nil {
		t.Fatalf("WriteAttr failed: %v", err)
	}
	back, err := tt.ReadAttr(ctx, "ad9361-phy", "voltage0", "rf_bandwidth")
	if err != nil {
		t.Fatalf("ReadAttr after write failed: %v", err)
	}
	if back != "2000000" {
		t.Fatalf("attribute did not stick: %q", back)
	}

	// Device-level attributes omit the channel field on the wire.
	if _, err := tt.ReadAttr(ctx, "ad9361-phy", "", "ensm_mode"); err == nil {
		t.Fatalf("expected errno for an attribute the daemon does not know")
	}
	cmds := s.commands()
	last := cmds[len(cmds)-1]
	if last != "READ ad9361-phy ensm_mode" {
		t.Fatalf("device attr command = %q", last)
	}
}

func TestTextBufferLifecycle(t *testing.T) {
	tt, s := startText(t)
	ctx := context.Background()

	id, err := tt.OpenBuffer(ctx, "cf-ad9361-dds-core-lpc", 8192, false)
	if err != nil {
		t.Fatalf("OpenBuffer failed: %v", err)
	}
	if id != 2 {
		t.Fatalf("OpenBuffer id = %d, want 2", id)
	}

	frame := FormatInt16([]int16{1, -1, 2, -2})
	n, err := tt.WriteBuffer(ctx, id, frame)
	if err != nil {
		t.Fatalf("WriteBuffer failed: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("WriteBuffer queued %d bytes, want %d", n, len(frame))
	}
	if err := tt.CloseBuffer(ctx, id); err != nil {
		t.Fatalf("CloseBuffer failed: %v", err)
	}

	cmds := s.commands()
	want := []string{
		"BUFFER_OPEN cf-ad9361-dds-core-lpc 8192 0",
		"BUFFER_WRITE 2 8",
		"BUFFER_CLOSE 2",
	}
	for i, w := range want {
		if cmds[i] != w {
			t.Fatalf("command %d = %q, want %q", i, cmds[i], w)
		}
	}
}

func TestTextNegativeStatus(t *testing.T) {
	tt, _ := startText(t)
	_, err := tt.ReadAttr(context.Background(), "ad9361-phy", "voltage0", "no_such_attr")
	if err == nil || !strings.Contains(err.Error(), "status -2") {
		t.Fatalf("expected errno error, got %v", err)
	}
}
