// Package algorithm is the set of operations a debug probe calls to
// program flash: initialize, erase, program, verify and uninitialize. With
// Options.Compressed set, program calls carry length-prefixed zlib images
// that are decompressed straight into flash.
package algorithm

import (
	"bytes"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
	"github.com/cstrahan/imxrt-flash-algorithm/stream"
)

// Function is the operation the host opened the session for.
type Function int

const (
	FunctionErase   Function = 1
	FunctionProgram Function = 2
	FunctionVerify  Function = 3
)

func (f Function) String() string {
	switch f {
	case FunctionErase:
		return "erase"
	case FunctionProgram:
		return "program"
	case FunctionVerify:
		return "verify"
	}
	return fmt.Sprintf("function %d", int(f))
}

type Options struct {
	// Compressed routes ProgramPage through the decompressing pipeline.
	Compressed bool
	Function   Function
	// Platform, if set, runs once before the driver is initialized.
	Platform func() error
	Metrics  *Metrics
}

// Algorithm is one programming session. It is not safe for concurrent use.
type Algorithm struct {
	drv     flash.Driver
	geo     flash.Geometry
	opts    Options
	writer  *stream.PageWriter
	pipe    *stream.Pipeline
	lastErr error
	closed  bool
}

// New brings up the platform and the driver and starts a session.
func New(drv flash.Driver, opts Options) (*Algorithm, error) {
	if opts.Platform != nil {
		if err := opts.Platform(); err != nil {
			return nil, fmt.Errorf("can't initialize platform: %w", err)
		}
	}

	geo := drv.Geometry()
	if st := drv.Init(); !st.OK() {
		err := &DriverError{Op: "init", Address: geo.Base, Status: st}
		opts.Metrics.observeError(err)
		return nil, err
	}

	a := &Algorithm{
		drv:    drv,
		geo:    geo,
		opts:   opts,
		writer: stream.NewPageWriter(countingProgrammer{drv: drv, m: opts.Metrics}, geo.Base, geo.PageSize),
	}
	if opts.Compressed {
		a.pipe = stream.New(a.writer)
	}
	glog.Infof("Initialized %s for %v: %d bytes at 0x%08x, compressed=%v", geo.Name, opts.Function, geo.Size, geo.Base, opts.Compressed)
	return a, nil
}

func (a *Algorithm) Geometry() flash.Geometry {
	return a.geo
}

// LastError returns the most recent failure of the session, including a
// failed teardown flush.
func (a *Algorithm) LastError() error {
	return a.lastErr
}

func (a *Algorithm) record(err error) error {
	if err != nil {
		a.lastErr = err
		a.opts.Metrics.observeError(err)
	}
	return err
}

func (a *Algorithm) checkTimeout(op string, start time.Time, limit time.Duration) {
	if d := time.Since(start); limit > 0 && d > limit {
		glog.Warningf("%s took %v, longer than the %v timeout", op, d, limit)
	}
}

func (a *Algorithm) EraseAll() error {
	if a.closed {
		return a.record(ErrClosed)
	}
	glog.V(1).Infof("Erasing all of %s", a.geo.Name)
	start := time.Now()
	st := a.drv.EraseAll()
	a.checkTimeout("erase all", start, a.geo.EraseTimeout*time.Duration(a.geo.Size/a.geo.SectorSize))
	if !st.OK() {
		return a.record(&DriverError{Op: "erase all", Address: a.geo.Base, Status: st})
	}
	a.opts.Metrics.observeErase("chip", start)
	return nil
}

// EraseSector erases the sector starting at the absolute address addr.
func (a *Algorithm) EraseSector(addr uint32) error {
	if a.closed {
		return a.record(ErrClosed)
	}
	if !a.geo.Contains(addr, int(a.geo.SectorSize)) {
		return a.record(&DriverError{Op: "erase sector", Address: addr, Status: flash.StatusInvalidArgument})
	}
	glog.V(1).Infof("Erasing sector 0x%08x", addr)
	start := time.Now()
	st := a.drv.EraseSector(addr - a.geo.Base)
	a.checkTimeout("erase sector", start, a.geo.EraseTimeout)
	if !st.OK() {
		return a.record(&DriverError{Op: "erase sector", Address: addr, Status: st})
	}
	a.opts.Metrics.observeErase("sector", start)
	return nil
}

// ProgramPage handles one program call from the host. Uncompressed data
// is written as is; compressed data is a chunk of an image stream.
func (a *Algorithm) ProgramPage(addr uint32, data []byte) error {
	if a.closed {
		return a.record(ErrClosed)
	}
	start := time.Now()
	defer a.opts.Metrics.observeChunk(start)

	if a.pipe != nil {
		return a.record(a.pipe.Program(addr, data))
	}

	if !a.geo.Contains(addr, len(data)) {
		return a.record(&DriverError{Op: "program page", Address: addr, Status: flash.StatusInvalidArgument})
	}
	n, st := a.writer.Write(addr, data)
	a.checkTimeout("program page", start, a.geo.ProgramTimeout)
	if !st.OK() {
		return a.record(&stream.StorageError{Status: st, Address: addr + uint32(n)})
	}
	return nil
}

// Verify compares data with the flash contents at addr. It returns the
// address of the first mismatch, or addr+len(data) if everything matches.
func (a *Algorithm) Verify(addr uint32, data []byte) (uint32, error) {
	if a.closed {
		return addr, a.record(ErrClosed)
	}
	if !a.geo.Contains(addr, len(data)) {
		return addr, a.record(&DriverError{Op: "verify", Address: addr, Status: flash.StatusInvalidArgument})
	}

	buf := make([]byte, a.geo.PageSize)
	for off := 0; off < len(data); off += len(buf) {
		want := data[off:]
		if len(want) > len(buf) {
			want = want[:len(buf)]
		}
		got := buf[:len(want)]
		at := addr + uint32(off)
		if st := a.drv.Read(at-a.geo.Base, got); !st.OK() {
			return at, a.record(&DriverError{Op: "read", Address: at, Status: st})
		}
		if !bytes.Equal(got, want) {
			for i := range got {
				if got[i] != want[i] {
					return at + uint32(i), nil
				}
			}
		}
	}
	return addr + uint32(len(data)), nil
}

// Close ends the session, flushing anything the pipeline still has
// staged. A failed flush is returned and kept as LastError.
func (a *Algorithm) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.pipe == nil {
		return nil
	}

	if err := a.pipe.Finish(); err != nil {
		glog.Errorf("Final flush failed: %v", err)
		return a.record(err)
	}
	c := a.pipe.Cursor()
	glog.V(1).Infof("Session closed; last image at 0x%08x, %d bytes", c.Start, c.Offset)
	return nil
}
