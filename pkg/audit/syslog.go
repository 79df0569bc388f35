package audit

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gobeyondidentity/shm/pkg/authz"
)

const (
	reconnectBackoffInit = 100 * time.Millisecond
	reconnectBackoffMax  = 30 * time.Second
)

// SyslogConfig holds configuration for the syslog writer.
type SyslogConfig struct {
	SocketPath string   // Default: "/dev/log"
	Hostname   string   // Default: os.Hostname()
	AppName    string   // Default: "shmctl"
	Facility   Facility // Default: FacLocal0
}

// SyslogWriter sends audit records and authorization decisions to the local
// syslog daemon as RFC 5424 messages. It implements both Emitter and
// authz.AuditLogger.
//
// A failed write triggers one reconnect attempt, gated by exponential backoff
// (100ms doubling to 30s) so a dead daemon is not hammered.
type SyslogWriter struct {
	hostname   string
	appName    string
	facility   Facility
	socketPath string

	mu              sync.Mutex
	conn            net.Conn
	backoff         time.Duration
	lastReconnectAt time.Time
}

// NewSyslogWriter connects to the syslog socket. Callers should treat an
// error as "syslog unavailable" and carry on with the remaining sinks.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/dev/log"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "unknown"
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}
	if cfg.AppName == "" {
		cfg.AppName = "shmctl"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacLocal0
	}

	conn, err := dialSyslog(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("syslog connect: %w", err)
	}
	return &SyslogWriter{
		conn:       conn,
		hostname:   cfg.Hostname,
		appName:    cfg.AppName,
		facility:   cfg.Facility,
		socketPath: cfg.SocketPath,
	}, nil
}

// Emit writes r. Safe to call on a nil receiver.
func (w *SyslogWriter) Emit(r Record) error {
	if w == nil {
		return nil
	}
	return w.write(Message{
		Facility:  w.facility,
		Severity:  r.Severity,
		Timestamp: r.Timestamp,
		Hostname:  w.hostname,
		AppName:   w.appName,
		MessageID: string(r.Type),
		SD:        []SDElement{{ID: sdID, Params: recordParams(r)}},
	})
}

// LogDecision writes an authorization decision. Denials are warnings.
// Safe to call on a nil receiver.
func (w *SyslogWriter) LogDecision(_ context.Context, e authz.AuthzAuditEntry) error {
	if w == nil {
		return nil
	}
	msgID, sev := "authz.allow", SeverityInfo
	if e.Decision != "allow" {
		msgID, sev = "authz.deny", SeverityWarning
	}

	params := []SDParam{
		{Name: "actor", Value: e.Principal},
		{Name: "role", Value: e.Role},
		{Name: "action", Value: e.Action},
		{Name: "resource", Value: e.Resource},
		{Name: "decision", Value: e.Decision},
	}
	if e.RequestID != "" {
		params = append(params, SDParam{Name: "request_id", Value: e.RequestID})
	}
	if e.PolicyID != "" {
		params = append(params, SDParam{Name: "policy_id", Value: e.PolicyID})
	}
	if e.DurationUS > 0 {
		params = append(params, SDParam{Name: "latency_us", Value: strconv.FormatInt(e.DurationUS, 10)})
	}

	return w.write(Message{
		Facility:  w.facility,
		Severity:  sev,
		Timestamp: e.Timestamp,
		Hostname:  w.hostname,
		AppName:   w.appName,
		MessageID: msgID,
		SD:        []SDElement{{ID: sdID, Params: params}},
		Text:      e.Reason,
	})
}

func (w *SyslogWriter) write(m Message) error {
	data := FormatMessage(m)

	w.mu.Lock()
	defer w.mu.Unlock()

	_, err := w.conn.Write(data)
	if err == nil {
		w.backoff = 0
		return nil
	}
	if rerr := w.reconnectLocked(); rerr != nil {
		return fmt.Errorf("syslog write failed (%v), reconnect failed: %w", err, rerr)
	}
	if _, err = w.conn.Write(data); err != nil {
		return fmt.Errorf("syslog write after reconnect: %w", err)
	}
	w.backoff = 0
	return nil
}

// reconnectLocked replaces the connection. Must be called with w.mu held.
func (w *SyslogWriter) reconnectLocked() error {
	if w.backoff > 0 {
		if wait := w.backoff - time.Since(w.lastReconnectAt); wait > 0 {
			return fmt.Errorf("syslog reconnect backoff: retry in %v", wait)
		}
	}

	w.conn.Close()
	conn, err := dialSyslog(w.socketPath)
	if err != nil {
		w.lastReconnectAt = time.Now()
		w.backoff = min(max(w.backoff*2, reconnectBackoffInit), reconnectBackoffMax)
		return fmt.Errorf("syslog reconnect: %w", err)
	}
	w.conn = conn
	w.backoff = 0
	w.lastReconnectAt = time.Time{}
	return nil
}

// Close closes the socket. Safe to call on a nil receiver.
func (w *SyslogWriter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// dialSyslog prefers a datagram socket and falls back to a stream socket.
func dialSyslog(socketPath string) (net.Conn, error) {
	if conn, err := net.Dial("unixgram", socketPath); err == nil {
		return conn, nil
	}
	return net.Dial("unix", socketPath)
}
