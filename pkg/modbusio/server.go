package modbusio

import (
	"fmt"
	"sync"
	"time"

	rmodbus "github.com/rolfl/modbus"

	"github.com/goplc-io/goplc/pkg/log"
)

// ServerSizes declares how many entries each register space of the
// served register image holds. Zero-sized spaces reject all requests.
type ServerSizes struct {
	Coils     int
	Discretes int
	Inputs    int
	Holdings  int
}

// Server exposes a Modbus TCP register image to external clients.
// Programs and service tasks access the image through the typed
// accessors; remote writes to coils and holdings are accepted into the
// image and reported through the optional write hooks.
type Server struct {
	name   string
	sizes  ServerSizes
	logger log.Logger

	srv rmodbus.Server
	tcp rmodbus.TCPServer

	mu             sync.Mutex
	onCoilWrite    func(address int, values []bool)
	onHoldingWrite func(address int, values []uint16)
}

// NewServer builds the register image. The name is reported as the
// Modbus device identification.
func NewServer(name, version string, sizes ServerSizes, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = &log.NoopLogger{}
	}
	s := &Server{name: name, sizes: sizes, logger: logger}

	srv, err := rmodbus.NewServer([]byte(name), []string{"goplc", name, version})
	if err != nil {
		return nil, fmt.Errorf("modbus server %s: %w", name, err)
	}

	if sizes.Discretes > 0 {
		srv.RegisterDiscretes(sizes.Discretes)
	}
	if sizes.Inputs > 0 {
		srv.RegisterInputs(sizes.Inputs)
	}
	if sizes.Coils > 0 {
		srv.RegisterCoils(sizes.Coils, s.acceptCoils)
	}
	if sizes.Holdings > 0 {
		srv.RegisterHoldings(sizes.Holdings, s.acceptHoldings)
	}

	s.srv = srv
	return s, nil
}

// acceptCoils admits remote coil writes unchanged into the image.
func (s *Server) acceptCoils(_ rmodbus.Server, _ rmodbus.Atomic, address int, values []bool, _ []bool) ([]bool, error) {
	s.mu.Lock()
	hook := s.onCoilWrite
	s.mu.Unlock()
	if hook != nil {
		hook(address, append([]bool(nil), values...))
	}
	s.logRemoteWrite("c", address, len(values))
	return values, nil
}

// acceptHoldings admits remote holding writes unchanged into the image.
func (s *Server) acceptHoldings(_ rmodbus.Server, _ rmodbus.Atomic, address int, values []int, _ []int) ([]int, error) {
	s.mu.Lock()
	hook := s.onHoldingWrite
	s.mu.Unlock()
	if hook != nil {
		words := make([]uint16, len(values))
		for i, v := range values {
			words[i] = uint16(v)
		}
		hook(address, words)
	}
	s.logRemoteWrite("h", address, len(values))
	return values, nil
}

func (s *Server) logRemoteWrite(prefix string, address, count int) {
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     s.name,
		Source:    log.SourceModbus,
		Category:  log.CategoryTransfer,
		Transfer: &log.TransferEvent{
			Direction: log.DirectionIn,
			Address:   fmt.Sprintf("%s%d", prefix, address),
			Count:     count,
		},
	})
}

// OnCoilWrite installs a hook invoked after a remote client wrote coils.
func (s *Server) OnCoilWrite(fn func(address int, values []bool)) {
	s.mu.Lock()
	s.onCoilWrite = fn
	s.mu.Unlock()
}

// OnHoldingWrite installs a hook invoked after a remote client wrote
// holding registers.
func (s *Server) OnHoldingWrite(fn func(address int, values []uint16)) {
	s.mu.Lock()
	s.onHoldingWrite = fn
	s.mu.Unlock()
}

// ListenTCP starts accepting Modbus TCP connections on addr, serving
// the image on all unit ids.
func (s *Server) ListenTCP(addr string) error {
	tcp, err := rmodbus.NewTCPServer(addr, rmodbus.ServeAllUnits(s.srv))
	if err != nil {
		return fmt.Errorf("modbus server %s: listen %s: %w", s.name, addr, err)
	}
	s.tcp = tcp
	s.logger.Log(log.Event{
		Timestamp: time.Now(),
		Block:     s.name,
		Source:    log.SourceModbus,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			NewState: "LISTENING",
			Reason:   addr,
		},
	})
	return nil
}

// Close stops the TCP listener if one is running.
func (s *Server) Close() error {
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Close()
}

// ReadCoils returns count coil values starting at address.
func (s *Server) ReadCoils(address, count int) ([]bool, error) {
	return s.srv.ReadCoilsAtomic(address, count)
}

// WriteCoils sets coil values starting at address.
func (s *Server) WriteCoils(address int, values []bool) error {
	return s.srv.WriteCoilsAtomic(address, values)
}

// ReadDiscretes returns count discrete input values starting at address.
func (s *Server) ReadDiscretes(address, count int) ([]bool, error) {
	return s.srv.ReadDiscretesAtomic(address, count)
}

// WriteDiscretes sets discrete input values starting at address.
func (s *Server) WriteDiscretes(address int, values []bool) error {
	return s.srv.WriteDiscretesAtomic(address, values)
}

// ReadInputs returns count input registers starting at address.
func (s *Server) ReadInputs(address, count int) ([]uint16, error) {
	vals, err := s.srv.ReadInputsAtomic(address, count)
	if err != nil {
		return nil, err
	}
	return intsToWords(vals), nil
}

// WriteInputs sets input registers starting at address.
func (s *Server) WriteInputs(address int, values []uint16) error {
	return s.srv.WriteInputsAtomic(address, wordsToInts(values))
}

// ReadHoldings returns count holding registers starting at address.
func (s *Server) ReadHoldings(address, count int) ([]uint16, error) {
	vals, err := s.srv.ReadHoldingsAtomic(address, count)
	if err != nil {
		return nil, err
	}
	return intsToWords(vals), nil
}

// WriteHoldings sets holding registers starting at address.
func (s *Server) WriteHoldings(address int, values []uint16) error {
	return s.srv.WriteHoldingsAtomic(address, wordsToInts(values))
}

func intsToWords(vals []int) []uint16 {
	out := make([]uint16, len(vals))
	for i, v := range vals {
		out[i] = uint16(v)
	}
	return out
}

func wordsToInts(words []uint16) []int {
	out := make([]int, len(words))
	for i, w := range words {
		out[i] = int(w)
	}
	return out
}
