package opcuaio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/goplc-io/goplc/pkg/log"
)

// ErrBackoff is returned while the session waits out the reconnect
// backoff window after a failed connect.
var ErrBackoff = errors.New("opcua: reconnect backoff active")

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// SessionConfig describes one OPC-UA server connection.
type SessionConfig struct {
	// Endpoint is the server URL, e.g. "opc.tcp://host:4840".
	Endpoint string

	// SecurityPolicy is the policy URI suffix ("None", "Basic256Sha256").
	SecurityPolicy string

	// SecurityMode is "none", "sign" or "signandencrypt".
	SecurityMode string

	// Username/Password select username token auth; empty Username
	// means anonymous.
	Username string
	Password string

	// CertFile/KeyFile load the client certificate and private key used
	// for the secure channel.
	CertFile string
	KeyFile  string

	// Timeout bounds individual service requests. Zero keeps the
	// client default.
	Timeout time.Duration
}

// ReadWriter is the protocol surface the block layer needs from a
// session. Tests substitute an in-memory implementation.
type ReadWriter interface {
	ReadValues(ctx context.Context, ids []*ua.ReadValueID) ([]*ua.DataValue, error)
	WriteValues(ctx context.Context, values []*ua.WriteValue) ([]ua.StatusCode, error)
}

// Session is one client connection with reconnect handling.
type Session struct {
	endpoint string
	opts     []opcua.Option
	logger   log.Logger

	mu          sync.Mutex
	client      *opcua.Client
	lastAttempt time.Time
	backoff     time.Duration
}

// NewSession prepares a session; the connection is established on first
// use.
func NewSession(cfg SessionConfig, logger log.Logger) (*Session, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("opcua: empty endpoint")
	}
	if logger == nil {
		logger = &log.NoopLogger{}
	}

	var opts []opcua.Option
	switch strings.ToLower(cfg.SecurityMode) {
	case "", "none":
		opts = append(opts, opcua.SecurityMode(ua.MessageSecurityModeNone))
	case "sign":
		opts = append(opts, opcua.SecurityMode(ua.MessageSecurityModeSign))
	case "signandencrypt":
		opts = append(opts, opcua.SecurityMode(ua.MessageSecurityModeSignAndEncrypt))
	default:
		return nil, fmt.Errorf("opcua: unknown security mode %q", cfg.SecurityMode)
	}
	if cfg.SecurityPolicy != "" {
		opts = append(opts, opcua.SecurityPolicy(cfg.SecurityPolicy))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, opcua.RequestTimeout(cfg.Timeout))
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, errors.New("opcua: certificate and key file are both required")
		}
		opts = append(opts, opcua.CertificateFile(cfg.CertFile), opcua.PrivateKeyFile(cfg.KeyFile))
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}

	return &Session{
		endpoint: cfg.Endpoint,
		opts:     opts,
		logger:   logger,
		backoff:  initialBackoff,
	}, nil
}

// ensure returns a connected client, establishing the connection if
// necessary. Failed attempts arm the backoff window.
func (s *Session) ensure(ctx context.Context) (*opcua.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	if wait := s.backoff - time.Since(s.lastAttempt); !s.lastAttempt.IsZero() && wait > 0 {
		return nil, fmt.Errorf("%w (%v left)", ErrBackoff, wait.Round(time.Millisecond))
	}

	s.lastAttempt = time.Now()
	c, err := opcua.NewClient(s.endpoint, s.opts...)
	if err != nil {
		return nil, fmt.Errorf("opcua: %s: %w", s.endpoint, err)
	}
	if err := c.Connect(ctx); err != nil {
		s.backoff = min(s.backoff*2, maxBackoff)
		return nil, fmt.Errorf("opcua: connect %s: %w", s.endpoint, err)
	}

	s.client = c
	s.backoff = initialBackoff
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceOPCUA,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: "CONNECTED",
			Reason:   s.endpoint,
		},
	})
	return c, nil
}

// invalidate drops the connection so the next call reconnects.
func (s *Session) invalidate(ctx context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	_ = s.client.Close(ctx)
	s.client = nil
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceOPCUA,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: "CONNECTED",
			NewState: "DISCONNECTED",
			Reason:   cause.Error(),
		},
	})
}

// ReadValues reads all node attributes in one request.
func (s *Session) ReadValues(ctx context.Context, ids []*ua.ReadValueID) ([]*ua.DataValue, error) {
	c, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.Read(ctx, &ua.ReadRequest{
		NodesToRead:        ids,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	})
	if err != nil {
		s.invalidate(ctx, err)
		return nil, fmt.Errorf("opcua: read: %w", err)
	}
	if len(resp.Results) != len(ids) {
		return nil, fmt.Errorf("opcua: read: %d results for %d nodes", len(resp.Results), len(ids))
	}
	return resp.Results, nil
}

// WriteValues writes all node values in one request.
func (s *Session) WriteValues(ctx context.Context, values []*ua.WriteValue) ([]ua.StatusCode, error) {
	c, err := s.ensure(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.Write(ctx, &ua.WriteRequest{NodesToWrite: values})
	if err != nil {
		s.invalidate(ctx, err)
		return nil, fmt.Errorf("opcua: write: %w", err)
	}
	if len(resp.Results) != len(values) {
		return nil, fmt.Errorf("opcua: write: %d results for %d nodes", len(resp.Results), len(values))
	}
	return resp.Results, nil
}

// Close shuts the connection down.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close(ctx)
	s.client = nil
	return err
}

var _ ReadWriter = (*Session)(nil)
