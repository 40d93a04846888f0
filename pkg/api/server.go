package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/goplc-io/goplc/pkg/log"
)

// maxConns bounds concurrent control connections.
const maxConns = 10

// writeTimeout bounds each response write; a stuck client must not
// hold a handler goroutine forever.
const writeTimeout = 5 * time.Second

// Server serves the control API on a unix domain socket.
type Server struct {
	path    string
	backend Backend
	logger  log.Logger

	ln     net.Listener
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewServer prepares a server for the given socket path.
func NewServer(path string, backend Backend, logger log.Logger) *Server {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	return &Server{
		path:    path,
		backend: backend,
		logger:  logger,
		sem:     make(chan struct{}, maxConns),
	}
}

// Start binds the socket and begins accepting connections. A stale
// socket file from a previous run is removed first.
func (s *Server) Start() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("api: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.path, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Close stops accepting, closes the listener and removes the socket.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.isClosed() {
				s.logError("accept", err)
			}
			return
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.reject(conn)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.serveConn(conn)
		}()
	}
}

// reject answers an over-limit connection with one error frame.
func (s *Server) reject(conn net.Conn) {
	defer conn.Close()
	resp := Response{
		Jsonrpc: "2.0",
		Error:   &Error{Code: codeTooManyConns, Message: "too many connections"},
	}
	if payload, err := cbor.Marshal(resp); err == nil {
		_ = writeFrame(conn, payload)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.isClosed() {
				s.logError("read", err)
			}
			return
		}

		resp := s.dispatch(payload)
		out, err := cbor.Marshal(resp)
		if err != nil {
			s.logError("encode", err)
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := writeFrame(conn, out); err != nil {
			if !s.isClosed() {
				s.logError("write", err)
			}
			return
		}
	}
}

func (s *Server) dispatch(payload []byte) Response {
	var req Request
	if err := cbor.Unmarshal(payload, &req); err != nil {
		return errResponse(0, codeParseError, "parse error")
	}
	if req.Jsonrpc != "2.0" || req.Method == "" {
		return errResponse(req.ID, codeInvalidRequest, "invalid request")
	}

	var result any
	switch req.Method {
	case "test":
		result = true
	case "info":
		result = s.backend.Info()
	case "task_stats.get":
		result = fromSchedStats(s.backend.TaskStats())
	case "task_stats.reset":
		s.backend.ResetTaskStats()
		result = true
	default:
		return errResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}

	raw, err := cbor.Marshal(result)
	if err != nil {
		return errResponse(req.ID, codeInternalError, err.Error())
	}
	return Response{Jsonrpc: "2.0", Result: raw, ID: req.ID}
}

func errResponse(id uint64, code int, msg string) Response {
	return Response{Jsonrpc: "2.0", Error: &Error{Code: code, Message: msg}, ID: id}
}

func (s *Server) logError(op string, err error) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Source:    log.SourceAPI,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Message: err.Error(), Context: op},
	})
}
