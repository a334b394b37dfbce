package capturebuf_test

import (
	"bytes"
	"testing"

	"github.com/panda-fpga/pandad/internal/capturebuf"
)

func TestReaderSeesWrittenBlocks(t *testing.T) {
	buf := capturebuf.New(8, 4)
	r := buf.NewReader()

	buf.WriteBlock([]byte("abcdefgh"))
	data, overrun, ok := r.Next()
	if !ok || overrun {
		t.Fatalf("unexpected overrun=%v ok=%v", overrun, ok)
	}
	if !bytes.Equal(data, []byte("abcdefgh")) {
		t.Fatalf("got %q", data)
	}
}

func TestReaderClosedBufferEnds(t *testing.T) {
	buf := capturebuf.New(4, 4)
	r := buf.NewReader()
	buf.Close()
	_, _, ok := r.Next()
	if ok {
		t.Fatalf("expected ok=false on closed, drained buffer")
	}
}

func TestOverrunIsolation(t *testing.T) {
	buf := capturebuf.New(4, 2)
	slow := buf.NewReader()
	fast := buf.NewReader()

	// Fast reader keeps up.
	for i := 0; i < 5; i++ {
		buf.WriteBlock([]byte{byte(i), 0, 0, 0})
		if _, overrun, ok := fast.Next(); overrun || !ok {
			t.Fatalf("fast reader unexpectedly overran at iteration %d", i)
		}
	}
	buf.Close()
	if _, _, ok := fast.Next(); ok {
		t.Fatalf("expected fast reader to see end of stream")
	}

	// Slow reader never read anything and the writer lapped it (ring size
	// 2, 5 blocks written): it must observe an overrun rather than stale
	// data silently.
	_, overrun, ok := slow.Next()
	if ok || !overrun {
		t.Fatalf("expected slow reader to observe overrun, got overrun=%v ok=%v", overrun, ok)
	}
}
