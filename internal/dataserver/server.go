package dataserver

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/panda-fpga/pandad/internal/capture"
	"github.com/panda-fpga/pandad/internal/logx"
)

var log = logx.For("dataserver")

// SessionProvider is the arm/disarm side of the handshake, implemented by
// internal/sysctl's Controller.
type SessionProvider interface {
	WaitForSession(ctx context.Context, afterGen uint64) (*capture.Session, uint64, error)
}

// defaultWriteTimeout is spec §5's "write timeout on data sockets (2s)
// prevents a stuck client from blocking the reader" — a stalled client is
// dropped rather than letting a slow TCP peer back up the DMA reader.
const defaultWriteTimeout = 2 * time.Second

// Server accepts data-protocol connections.
type Server struct {
	Provider     SessionProvider
	WriteTimeout time.Duration

	listener   net.Listener
	wg         sync.WaitGroup
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New binds the data protocol listener on addr (e.g. ":8889").
func New(addr string, reuseAddr bool, provider SessionProvider) (*Server, error) {
	ln, err := listenReuse(addr, reuseAddr)
	if err != nil {
		return nil, fmt.Errorf("data server listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{Provider: provider, WriteTimeout: defaultWriteTimeout, listener: ln, baseCtx: ctx, baseCancel: cancel}, nil
}

func (s *Server) Start() { go s.acceptLoop() }

func (s *Server) Stop() {
	s.listener.Close()
	s.baseCancel()
	s.wg.Wait()
}

func (s *Server) Addr() net.Addr { return s.listener.Addr() }

func (s *Server) acceptLoop() {
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

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	line = strings.TrimRight(line, "\r\n")

	opts, err := ParseOptions(line)
	if err != nil {
		s.resetWriteDeadline(conn)
		fmt.Fprintf(conn, "ERR %s\n", err)
		return
	}
	s.resetWriteDeadline(conn)
	if _, err := conn.Write([]byte("OK\n")); err != nil {
		return
	}

	var lastGen uint64
	for {
		session, gen, err := s.Provider.WaitForSession(s.baseCtx, lastGen)
		if err != nil {
			return
		}
		lastGen = gen
		if err := s.runSession(conn, session, opts); err != nil {
			log.Debug("session ended", "err", err)
			return
		}
		if opts.OneShot {
			return
		}
	}
}

// resetWriteDeadline re-arms the per-write timeout; a slow client is
// dropped rather than allowed to stall the capture reader (spec §5).
func (s *Server) resetWriteDeadline(conn net.Conn) {
	if s.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	}
}

func (s *Server) runSession(conn net.Conn, session *capture.Session, opts Options) error {
	plan := session.Plan

	if !opts.NoHeader {
		s.resetWriteDeadline(conn)
		if err := capture.WriteHeader(conn, plan, capture.HeaderOpts{Format: opts.headerFormat(), Process: opts.Process, XML: opts.XML}); err != nil {
			return err
		}
	}

	if err := session.AcquireClientSlot(s.baseCtx); err != nil {
		return err
	}
	defer session.ReleaseClientSlot()

	reader := session.Ring.NewReader()
	defer reader.Close()

	for {
		data, overrun, ok := reader.Next()
		if overrun {
			s.resetWriteDeadline(conn)
			fmt.Fprintf(conn, "ERR overrun\n")
			return fmt.Errorf("client overrun")
		}
		if !ok {
			break
		}
		chunk, err := encodeChunk(plan, data, opts)
		if err != nil {
			return err
		}
		s.resetWriteDeadline(conn)
		if err := writeChunk(conn, chunk, opts); err != nil {
			return err
		}
	}

	if !opts.NoStatus {
		completion := session.Completion()
		s.resetWriteDeadline(conn)
		if _, err := fmt.Fprintf(conn, "END %d %s\n", session.Samples(), completion); err != nil {
			return err
		}
	}
	return nil
}

func writeChunk(conn net.Conn, chunk []byte, opts Options) error {
	if opts.Framed {
		var lenPrefix [4]byte
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(chunk)))
		if _, err := conn.Write(lenPrefix[:]); err != nil {
			return err
		}
	}
	_, err := conn.Write(chunk)
	return err
}

func listenReuse(addr string, reuseAddr bool) (net.Listener, error) {
	return reuseAddrListen(addr, reuseAddr)
}
