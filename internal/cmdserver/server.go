// Package cmdserver implements the line-oriented command protocol (spec
// §4.6, §6): one TCP listener, one goroutine per connection, single-threaded
// request/response dispatch against the entity model.
package cmdserver

import (
	"fmt"
	"net"
	"sync"

	"github.com/panda-fpga/pandad/internal/entity"
	"github.com/panda-fpga/pandad/internal/logx"
)

var log = logx.For("cmdserver")

// SystemResult is what a "*..." system command produces: either a plain OK,
// a single value ("OK =value"), or a multi-line "!..." response.
type SystemResult struct {
	Lines   []string
	Value   string
	NoValue bool
}

// SystemDispatcher handles every line beginning with '*' (spec §4.9); it is
// implemented by internal/sysctl and injected so cmdserver never needs to
// know about arm/disarm, persistence, or metadata directly.
type SystemDispatcher interface {
	Dispatch(line string) (SystemResult, error)
}

// Server accepts command-protocol connections.
type Server struct {
	Entity *entity.Entity
	System SystemDispatcher

	listener net.Listener
	wg       sync.WaitGroup
	done     chan struct{}
}

// New binds the command protocol listener on addr (e.g. ":8888").
func New(addr string, reuseAddr bool, ent *entity.Entity, sys SystemDispatcher) (*Server, error) {
	ln, err := listenReuse(addr, reuseAddr)
	if err != nil {
		return nil, fmt.Errorf("command server listen on %s: %w", addr, err)
	}
	return &Server{Entity: ent, System: sys, listener: ln, done: make(chan struct{})}, nil
}

// Start begins accepting connections in a background goroutine.
func (s *Server) Start() {
	go s.acceptLoop()
}

// Stop closes the listener and waits for every in-flight connection handler
// to return.
func (s *Server) Stop() {
	s.listener.Close()
	s.wg.Wait()
}

// Addr returns the bound listen address, useful for tests that bind ":0".
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
	defer close(s.done)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}
