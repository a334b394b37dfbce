//go:build linux

package hwaccess

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// shortTable writes a table through the reset/fill/length register burst
// protocol (spec §4.2): reset, then burst the words into the fill
// register, then write the final word count into the length register.
type shortTable struct {
	dev       *Device
	resetReg  uint32
	fillReg   uint32
	lengthReg uint32
	maxLen    int
}

func (d *Device) OpenShortTable(blockType, inst uint32, count int, resetReg, fillReg, lengthReg uint32, maxLen int) (ShortTable, error) {
	_ = blockType
	_ = inst
	_ = count
	return &shortTable{dev: d, resetReg: resetReg, fillReg: fillReg, lengthReg: lengthReg, maxLen: maxLen}, nil
}

func (t *shortTable) MaxLen() int { return t.maxLen }

func (t *shortTable) Write(words []uint32) error {
	if len(words) > t.maxLen {
		return fmt.Errorf("table write of %d words exceeds max length %d", len(words), t.maxLen)
	}
	if err := t.dev.WriteReg(0, 0, t.resetReg, 1); err != nil {
		return err
	}
	for _, w := range words {
		if err := t.dev.WriteReg(0, 0, t.fillReg, w); err != nil {
			return err
		}
	}
	return t.dev.WriteReg(0, 0, t.lengthReg, uint32(len(words)))
}

// blockLongTable is a DMA-mapped table backed by a block-device
// allocation. Hardware memory for tables is write-only, so Mapped returns
// the in-process shadow copy, not the device mmap: reads are always served
// from the copy the entity model keeps (spec §4.5).

func (d *Device) OpenLongTable(blockType, inst uint32, count int, order int, baseReg, lengthReg uint32) (LongTable, error) {
	f, err := openBlockInstance(order)
	if err != nil {
		return nil, err
	}
	return &blockLongTable{
		blockFile: f,
		baseReg:   baseReg,
		lengthReg: lengthReg,
		dev:       d,
		shadow:    make([]uint32, 0, count),
	}, nil
}

func openBlockInstance(order int) (*blockInstance, error) {
	f, err := os.OpenFile("/dev/panda.block", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/panda.block: %w", err)
	}
	cfg := blockConfigArg{Order: uint32(order), NBuffers: 1}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), pandaBlockConfig, uintptr(unsafe.Pointer(&cfg))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("ioctl PANDA_BLOCK_CONFIG: %w", errno)
	}
	size := (1 << uint(order)) * unix.Getpagesize()
	region, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap block device: %w", err)
	}
	return &blockInstance{file: f, region: region}, nil
}

type blockInstance struct {
	file   *os.File
	region []byte
}

func (b *blockInstance) Close() error {
	unix.Munmap(b.region)
	return b.file.Close()
}

type blockLongTable struct {
	blockFile *blockInstance
	baseReg   uint32
	lengthReg uint32
	dev       *Device
	shadow    []uint32
}

// Send streams one fragment via ioctl(PANDA_BLOCK_SEND). The final
// fragment (More=false) commits: for the streaming protocol this is the
// natural terminator; static-mode callers use Send once with More=false
// after writing length 0 to the reset register themselves via WriteReg.
func (t *blockLongTable) Send(buf BlockSendBuffer) error {
	arg := blockSendArg{
		Data:   uintptr(unsafe.Pointer(&buf.Data[0])),
		Length: uint32(len(buf.Data)),
	}
	if buf.More {
		arg.More = 1
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, t.blockFile.file.Fd(), pandaBlockSend, uintptr(unsafe.Pointer(&arg))); errno != 0 {
		return fmt.Errorf("ioctl PANDA_BLOCK_SEND: %w", errno)
	}
	t.shadow = append(t.shadow, buf.Data...)
	if !buf.More {
		if err := t.dev.WriteReg(0, 0, t.lengthReg, uint32(len(t.shadow))); err != nil {
			return err
		}
	}
	return nil
}

func (t *blockLongTable) Mapped() []uint32 {
	out := make([]uint32, len(t.shadow))
	copy(out, t.shadow)
	return out
}

func (t *blockLongTable) Close() error {
	return t.blockFile.Close()
}
