package aio

import (
	"context"
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/dchristini-lab/apdcore/errs"
)

// wordBytes is the size in bytes of one mmapped channel register; every
// channel, AI or AO, occupies one uint32 slot (spec.md §3 treats a raw
// sample as a driver-native word, and the FPGA facade this is ported from
// treats every register the same way).
const wordBytes = 4

// MMapDriver is a reference Driver backed by a memory-mapped register
// file, ported from the teacher's fpga.New()/Close(): open a device file,
// mmap a fixed window of it, and reinterpret the returned []byte as a
// pointer to a native-width array via unsafe.Pointer, instead of issuing
// one read()/write() syscall per sample. Where the teacher's FPGA exposes
// four fixed, hardware-specific channels (video/trig/ACP/ARP), MMapDriver
// generalizes to NChannels flat uint32 slots per namespace so it can back
// an arbitrary multi-channel AIO subsystem.
type MMapDriver struct {
	memfile *os.File

	aiSlice []byte
	aoSlice []byte
	aiBuf   []uint32
	aoBuf   []uint32

	aiKr  [][]Krange
	aoKr  [][]Krange
	aiMax []Raw
	aoMax []Raw
}

// MMapConfig describes where the AI and AO register windows live in the
// device file, and the range table every channel is fixed to (real AIO
// hardware would report per-channel ranges via an ioctl; here they are
// supplied up front since the mmap window carries no enumeration protocol
// of its own).
type MMapConfig struct {
	DevicePath string
	AIBaseAddr int64
	AOBaseAddr int64
	NAI, NAO   int
	AIRange    Krange
	AORange    Krange
	Maxdata    Raw
}

// OpenMMapDriver opens cfg.DevicePath (typically "/dev/mem") and mmaps its
// AI and AO register windows.
func OpenMMapDriver(cfg MMapConfig) (*MMapDriver, error) {
	memfile, err := os.OpenFile(cfg.DevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	aiLen := cfg.NAI * wordBytes
	aoLen := cfg.NAO * wordBytes
	if aiLen == 0 {
		aiLen = wordBytes
	}
	if aoLen == 0 {
		aoLen = wordBytes
	}
	aiSlice, err := syscall.Mmap(int(memfile.Fd()), cfg.AIBaseAddr, aiLen, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		memfile.Close()
		return nil, err
	}
	aoSlice, err := syscall.Mmap(int(memfile.Fd()), cfg.AOBaseAddr, aoLen, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		syscall.Munmap(aiSlice)
		memfile.Close()
		return nil, err
	}

	d := &MMapDriver{
		memfile: memfile,
		aiSlice: aiSlice,
		aoSlice: aoSlice,
		aiKr:    make([][]Krange, cfg.NAI),
		aoKr:    make([][]Krange, cfg.NAO),
		aiMax:   make([]Raw, cfg.NAI),
		aoMax:   make([]Raw, cfg.NAO),
	}
	if cfg.NAI > 0 {
		d.aiBuf = (*[MaxChannels]uint32)(unsafe.Pointer(&aiSlice[0]))[:cfg.NAI:cfg.NAI]
	}
	if cfg.NAO > 0 {
		d.aoBuf = (*[MaxChannels]uint32)(unsafe.Pointer(&aoSlice[0]))[:cfg.NAO:cfg.NAO]
	}
	for i := 0; i < cfg.NAI; i++ {
		d.aiKr[i] = []Krange{cfg.AIRange}
		d.aiMax[i] = cfg.Maxdata
	}
	for i := 0; i < cfg.NAO; i++ {
		d.aoKr[i] = []Krange{cfg.AORange}
		d.aoMax[i] = cfg.Maxdata
	}
	return d, nil
}

// Close unmaps both register windows and closes the device file.
func (d *MMapDriver) Close() error {
	if d.aiSlice != nil {
		syscall.Munmap(d.aiSlice)
	}
	if d.aoSlice != nil {
		syscall.Munmap(d.aoSlice)
	}
	return d.memfile.Close()
}

func (d *MMapDriver) Enumerate(ns Namespace) (EnumResult, error) {
	if ns == AO {
		return EnumResult{NChannels: len(d.aoKr), Kranges: d.aoKr, Maxdata: d.aoMax}, nil
	}
	return EnumResult{NChannels: len(d.aiKr), Kranges: d.aiKr, Maxdata: d.aiMax}, nil
}

func (d *MMapDriver) ReadDelayed(ctx context.Context, cs Chanspec, settling time.Duration) (Raw, error) {
	if cs.Channel < 0 || cs.Channel >= len(d.aiBuf) {
		return 0, errs.InvalidArgument
	}
	if settling > 0 {
		timer := time.NewTimer(settling)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timer.C:
		}
	}
	return Raw(d.aiBuf[cs.Channel]), nil
}

func (d *MMapDriver) Write(cs Chanspec, raw Raw) error {
	if cs.Channel < 0 || cs.Channel >= len(d.aoBuf) {
		return errs.InvalidArgument
	}
	d.aoBuf[cs.Channel] = uint32(raw)
	return nil
}

var _ Driver = (*MMapDriver)(nil)
