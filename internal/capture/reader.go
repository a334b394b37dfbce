package capture

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/panda-fpga/pandad/internal/capturebuf"
	"github.com/panda-fpga/pandad/internal/hwaccess"
	"github.com/panda-fpga/pandad/internal/logx"
)

var log = logx.For("capture")

// maxDataClients bounds how many data-server connections may stream a
// single armed session concurrently, mirroring the teacher's pattern of
// gating concurrent consumers of one supervised worker rather than letting
// an unbounded number of readers pile onto the ring (solidcoredata-dca's
// supervised-goroutine-group precedent, see SPEC_FULL.md §B).
const maxDataClients = 64

// Session owns one arm-to-disarm capture run: the DMA reader goroutine, the
// shared ring buffer readers fan out from, and the completion code once the
// session ends.
type Session struct {
	Plan *Plan
	Ring *capturebuf.Buffer

	sem *semaphore.Weighted

	samples    atomic.Int64
	completion atomic.Value // hwaccess.CompletionCode

	done chan struct{}
	err  error
}

// Arm starts a new capture session: it arms the hardware, launches the DMA
// reader goroutine under an errgroup so the first hard read error is
// captured, and returns immediately. Callers obtain blocks via Ring.
func Arm(ctx context.Context, hw hwaccess.HardwareAccess, plan *Plan) (*Session, error) {
	if err := hw.Arm(); err != nil {
		return nil, fmt.Errorf("arm hardware: %w", err)
	}
	stream, err := hw.StreamReader()
	if err != nil {
		_ = hw.Disarm()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	s := &Session{
		Plan: plan,
		Ring: capturebuf.New(plan.SampleBytes*blocksPerChunk, ringDepth),
		sem:  semaphore.NewWeighted(maxDataClients),
		done: make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pump(gctx, hw, stream) })

	go func() {
		err := g.Wait()
		s.err = err
		close(s.done)
	}()

	return s, nil
}

const (
	blocksPerChunk = 64  // sample records per stream read and ring slot
	ringDepth      = 256 // ring depth in slots
)

// pump is the DMA reader goroutine: it reads fixed DMA blocks from the
// stream device and writes each one into the ring, framed as one length
// prefix per DMA block (the resolution SPEC_FULL.md §C gives to the open
// framing question), until the hardware reports completion or ctx is
// cancelled.
func (s *Session) pump(ctx context.Context, hw hwaccess.HardwareAccess, stream io.Reader) error {
	chunkBytes := s.Plan.SampleBytes * blocksPerChunk
	buf := make([]byte, chunkBytes)

	for {
		select {
		case <-ctx.Done():
			_ = hw.Disarm()
			return ctx.Err()
		default:
		}

		n, err := stream.Read(buf)
		if err != nil && err != io.EOF {
			return fmt.Errorf("stream read: %w", err)
		}
		if n > 0 {
			whole := n - (n % s.Plan.SampleBytes)
			if whole > 0 {
				s.Ring.WriteBlock(buf[:whole])
				s.samples.Add(int64(whole / s.Plan.SampleBytes))
			}
		}
		if err == io.EOF {
			code, cerr := hw.Completion()
			if cerr != nil {
				code = hwaccess.CompletionUnexpected
			}
			s.completion.Store(code)
			s.Ring.Close()
			return cerr
		}
		// n == 0, err == nil is a driver-level read timeout (spec's
		// StreamReader contract): loop and poll again rather than treating
		// it as end of capture.
		if n == 0 {
			time.Sleep(pollBackoff)
		}
	}
}

const pollBackoff = time.Millisecond

// AcquireClientSlot bounds the number of concurrent data-server readers on
// this session (golang.org/x/sync/semaphore, per the domain-stack wiring in
// SPEC_FULL.md §B).
func (s *Session) AcquireClientSlot(ctx context.Context) error {
	return s.sem.Acquire(ctx, 1)
}

// ReleaseClientSlot returns a slot acquired via AcquireClientSlot.
func (s *Session) ReleaseClientSlot() {
	s.sem.Release(1)
}

// Samples returns the number of samples written to the ring so far, for the
// `END <samples> <completion>` status line (spec §4.7).
func (s *Session) Samples() int64 {
	return s.samples.Load()
}

// Completion blocks until the session has ended and returns its completion
// code; it returns CompletionUnexpected if the reader goroutine exited
// abnormally.
func (s *Session) Completion() hwaccess.CompletionCode {
	<-s.done
	if c, ok := s.completion.Load().(hwaccess.CompletionCode); ok {
		return c
	}
	return hwaccess.CompletionUnexpected
}

// DoneChan returns a channel closed once the session has ended, for
// non-blocking completion checks (internal/sysctl uses this to drop a
// finished session without waiting on it).
func (s *Session) DoneChan() <-chan struct{} {
	return s.done
}

// Err returns the DMA reader goroutine's terminal error, if any.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Disarm requests an early end to the session (spec §4.9 *PCAP.DISARM).
func (s *Session) Disarm(hw hwaccess.HardwareAccess) error {
	return hw.Disarm()
}
