package sdr

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes the sysfs fallback target. Older firmware rejects IIOD
// attribute writes; shelling into the device and writing the sysfs file
// directly covers those.
type SSHConfig struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	SysfsRoot string
}

// SSHAttributeWriter writes IIO attributes through an SSH session. The
// connection is dialed lazily on first use and kept for the writer's
// lifetime.
type SSHAttributeWriter struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHAttributeWriter validates the target and prepares a writer.
func NewSSHAttributeWriter(cfg SSHConfig) (*SSHAttributeWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required")
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys/bus/iio/devices"
	}
	return &SSHAttributeWriter{cfg: cfg}, nil
}

// WriteAttribute writes value to the sysfs file derived from the IIO
// device/channel/attribute triple.
func (w *SSHAttributeWriter) WriteAttribute(ctx context.Context, device, channel, attr, value string) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	target := attributePath(w.cfg.SysfsRoot, device, channel, attr)
	// printf keeps the shell from interpreting the value.
	cmd := fmt.Sprintf("printf %s > %s", shellQuote(value), target)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("write %s via ssh: %w", target, err)
	}
	return nil
}

// Close tears the SSH connection down. Safe to call without a live
// connection.
func (w *SSHAttributeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

func (w *SSHAttributeWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create ssh client: %w", err)
	}
	w.client = ssh.NewClient(clientConn, chans, reqs)
	return w.client, nil
}

// attributePath maps an IIO attribute triple onto its sysfs filename. A
// channel carrying an explicit in_/out_ prefix is used as-is; bare channels
// default to the output direction since this writer serves the transmit
// path.
func attributePath(root, device, channel, attr string) string {
	base := path.Join(root, device)
	if channel == "" {
		return path.Join(base, attr)
	}
	lower := strings.ToLower(channel)
	if strings.HasPrefix(lower, "in_") || strings.HasPrefix(lower, "out_") {
		return path.Join(base, fmt.Sprintf("%s_%s", channel, attr))
	}
	return path.Join(base, fmt.Sprintf("out_%s_%s", channel, attr))
}

// shellQuote wraps value in single quotes with embedded quotes escaped.
func shellQuote(value string) string {
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return "'" + escaped + "'"
}
