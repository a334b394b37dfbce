package dataserver_test

import (
	"bufio"
	"context"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/dataserver"
	"github.com/panda-fpga/pandad/internal/hwaccess"
	"github.com/panda-fpga/pandad/internal/sysctl"
)

func TestParseOptionsPresets(t *testing.T) {
	opts, err := dataserver.ParseOptions("BARE")
	if err != nil {
		t.Fatalf("parse BARE: %v", err)
	}
	if opts.Framed || !opts.NoHeader || !opts.NoStatus || !opts.OneShot {
		t.Fatalf("BARE preset not fully expanded: %+v", opts)
	}

	opts, err = dataserver.ParseOptions("DEFAULT")
	if err != nil {
		t.Fatalf("parse DEFAULT: %v", err)
	}
	if !opts.ASCII {
		t.Fatalf("DEFAULT preset should enable ASCII")
	}
}

func TestParseOptionsRejectsUnknown(t *testing.T) {
	if _, err := dataserver.ParseOptions("NONSENSE"); err == nil {
		t.Fatalf("expected error for unrecognised option")
	}
}

func TestFramedScaledOneShotEndToEnd(t *testing.T) {
	reg := busstate.NewRegistry(4)
	if err := reg.Register(busstate.RegisteredOutput{
		Name: "COUNTER1.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled), Scale: 1, Offset: 0,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	sim := hwaccess.NewSim()
	ctrl := sysctl.New(nil, reg, sim)

	srv, err := dataserver.New("127.0.0.1:0", false, ctrl)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.Start()
	defer srv.Stop()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("FRAMED SCALED ONE_SHOT\n")); err != nil {
		t.Fatalf("write options: %v", err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil || line != "OK\n" {
		t.Fatalf("want OK, got %q err=%v", line, err)
	}

	if err := ctrl.Arm(context.Background(), "Scaled"); err != nil {
		t.Fatalf("arm: %v", err)
	}

	session, _, err := ctrl.WaitForSession(context.Background(), 0)
	if err != nil {
		t.Fatalf("wait for session: %v", err)
	}
	sampleBytes := session.Plan.SampleBytes
	sample := make([]byte, sampleBytes*2)
	binary.LittleEndian.PutUint32(sample[0:], 7)
	binary.LittleEndian.PutUint32(sample[sampleBytes:], 9)
	sim.PushStreamData(sample)
	sim.CloseStream(hwaccess.CompletionOk)

	// Header, unless NO_HEADER, precedes the framed data.
	if _, err := r.ReadString('\n'); err != nil { // missed:
		t.Fatalf("header missed line: %v", err)
	}
	if _, err := r.ReadString('\n'); err != nil { // process:
		t.Fatalf("header process line: %v", err)
	}
	if _, err := r.ReadString('\n'); err != nil { // format:
		t.Fatalf("header format line: %v", err)
	}
	// sample-bytes: must report the actual wire width (8 bytes/field under
	// SCALED), not sampleBytes (4, COUNTER1.OUT's raw hardware width) —
	// the two diverge here, which is exactly what this end-to-end exercise
	// is meant to catch.
	sampleBytesLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("header sample-bytes line: %v", err)
	}
	if sampleBytesLine != "sample-bytes: 8\n" {
		t.Fatalf("want \"sample-bytes: 8\\n\", got %q", sampleBytesLine)
	}
	if _, err := r.ReadString('\n'); err != nil { // fields:
		t.Fatalf("header fields line: %v", err)
	}
	if _, err := r.ReadString('\n'); err != nil { // COUNTER1.OUT line
		t.Fatalf("header field line: %v", err)
	}

	var lenBuf [4]byte
	if _, err := readFull(r, lenBuf[:]); err != nil {
		t.Fatalf("read length prefix: %v", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n != 16 { // 2 samples * 8 bytes (one float64 field each)
		t.Fatalf("want frame length 16, got %d", n)
	}
	payload := make([]byte, n)
	if _, err := readFull(r, payload); err != nil {
		t.Fatalf("read payload: %v", err)
	}
	v0 := math.Float64frombits(binary.LittleEndian.Uint64(payload[0:]))
	v1 := math.Float64frombits(binary.LittleEndian.Uint64(payload[8:]))
	if v0 != 7 || v1 != 9 {
		t.Fatalf("want scaled values 7,9, got %v,%v", v0, v1)
	}

	end, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read end line: %v", err)
	}
	if end != "END 2 Ok\n" {
		t.Fatalf("want END 2 Ok, got %q", end)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
