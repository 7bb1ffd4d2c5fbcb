package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/zlib"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
	"github.com/cstrahan/imxrt-flash-algorithm/inflate"
)

var testGeometry = flash.Geometry{
	Name:       "test",
	Base:       0,
	Size:       1 << 20,
	PageSize:   256,
	SectorSize: 4096,
	EmptyValue: 0xff,
}

func newDevice(t *testing.T) *flash.Device {
	t.Helper()
	dev, err := flash.NewMemory(testGeometry)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	if st := dev.Init(); !st.OK() {
		t.Fatalf("Init: %v", st)
	}
	return dev
}

func newPipeline(t *testing.T) (*Pipeline, *flash.Device) {
	dev := newDevice(t)
	return New(NewPageWriter(dev, testGeometry.Base, testGeometry.PageSize)), dev
}

func compress(t *testing.T, data []byte, level int) []byte {
	t.Helper()
	var b bytes.Buffer
	w, err := zlib.NewWriterLevel(&b, level)
	if err != nil {
		t.Fatalf("zlib.NewWriterLevel: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return b.Bytes()
}

// frame prefixes a compressed stream with its length header.
func frame(z []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(z))
	binary.LittleEndian.PutUint32(out, uint32(len(z)))
	return append(out, z...)
}

func readBack(t *testing.T, dev *flash.Device, addr uint32, n int) []byte {
	t.Helper()
	p := make([]byte, n)
	if st := dev.Read(addr-testGeometry.Base, p); !st.OK() {
		t.Fatalf("Read(0x%x, %d): %v", addr, n, st)
	}
	return p
}

func payload(n int) []byte {
	r := rand.New(rand.NewSource(int64(n)))
	var b bytes.Buffer
	for b.Len() < n {
		switch r.Intn(4) {
		case 0:
			b.Write(bytes.Repeat([]byte{byte(r.Intn(256))}, r.Intn(300)))
		case 1:
			for i := 0; i < 50; i++ {
				b.WriteByte(byte(r.Intn(256)))
			}
		default:
			b.WriteString("vector table, boot header, application text ")
		}
	}
	return b.Bytes()[:n]
}

func TestScenarioSingleCall(t *testing.T) {
	p, dev := newPipeline(t)
	if err := p.Program(0x1000, frame(compress(t, []byte("hello world"), zlib.DefaultCompression))); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := readBack(t, dev, 0x1000, 12); string(got) != "hello world\xff" {
		t.Errorf("Expected %q, got %q", "hello world\xff", got)
	}
	if c := p.Cursor(); c.Offset != 11 || c.Remaining != 0 || c.Start != 0x1000 {
		t.Errorf("cursor %+v, want start 0x1000 offset 11 remaining 0", c)
	}
}

func TestScenarioByteAtATime(t *testing.T) {
	p, dev := newPipeline(t)
	f := frame(compress(t, []byte("hello world"), zlib.DefaultCompression))

	if err := p.Program(0x1000, f[:HeaderSize+1]); err != nil {
		t.Fatalf("Program(header): %v", err)
	}
	for i := HeaderSize + 1; i < len(f); i++ {
		if err := p.Program(0x1000, f[i:i+1]); err != nil {
			t.Fatalf("Program(byte %d): %v", i, err)
		}
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := readBack(t, dev, 0x1000, 11); string(got) != "hello world" {
		t.Errorf("Expected %q, got %q", "hello world", got)
	}
	if off := p.Cursor().Offset; off != 11 {
		t.Errorf("offset %d, want 11", off)
	}
}

func TestScenarioSwitchImage(t *testing.T) {
	p, dev := newPipeline(t)
	a := payload(1000)
	fa := frame(compress(t, a, zlib.NoCompression))
	b := []byte("second image")

	if err := p.Program(0x1000, fa[:HeaderSize+500]); err != nil {
		t.Fatalf("Program(A): %v", err)
	}
	staged := p.Staged()
	if staged == 0 {
		t.Fatalf("nothing staged for the partial image")
	}
	if got := readBack(t, dev, 0x1000, 1); got[0] != 0xff {
		t.Fatalf("partial image written before switch")
	}

	if err := p.Program(0x2000, frame(compress(t, b, zlib.BestCompression))); err != nil {
		t.Fatalf("Program(B): %v", err)
	}
	if got := readBack(t, dev, 0x1000, staged); !bytes.Equal(got, a[:staged]) {
		t.Errorf("image A prefix mismatch")
	}
	if got := readBack(t, dev, 0x1000+uint32(staged), 1); got[0] != 0xff {
		t.Errorf("image A written past its staged bytes")
	}
	if got := readBack(t, dev, 0x2000, len(b)); !bytes.Equal(got, b) {
		t.Errorf("Expected %q, got %q", b, got)
	}
	if c := p.Cursor(); c.Start != 0x2000 || c.Offset != uint32(len(b)) {
		t.Errorf("cursor %+v, want image B complete", c)
	}
}

func TestScenarioSwitchImageAfterFlush(t *testing.T) {
	p, dev := newPipeline(t)
	a := payload(Capacity + 8000)
	fa := frame(compress(t, a, zlib.NoCompression))
	b := []byte("second image")

	if err := p.Program(0x1000, fa[:HeaderSize+Capacity+1000]); err != nil {
		t.Fatalf("Program(A): %v", err)
	}
	if off := p.Cursor().Offset; off != Capacity {
		t.Fatalf("offset %d before switch, want %d", off, Capacity)
	}
	staged := p.Staged()
	if staged == 0 {
		t.Fatalf("nothing staged after the first flush")
	}

	if err := p.Program(0x20000, frame(compress(t, b, zlib.BestSpeed))); err != nil {
		t.Fatalf("Program(B): %v", err)
	}
	if got := readBack(t, dev, 0x1000+Capacity, staged); !bytes.Equal(got, a[Capacity:Capacity+staged]) {
		t.Errorf("drained bytes of image A not at 0x%x", 0x1000+Capacity)
	}
	if got := readBack(t, dev, 0x1000, Capacity); !bytes.Equal(got, a[:Capacity]) {
		t.Errorf("image A prefix mismatch")
	}
	if got := readBack(t, dev, 0x1000+Capacity+uint32(staged), 1); got[0] != 0xff {
		t.Errorf("image A written past its staged bytes")
	}
	if got := readBack(t, dev, 0x20000, len(b)); !bytes.Equal(got, b) {
		t.Errorf("Expected %q, got %q", b, got)
	}
}

func TestScenarioEmptyImage(t *testing.T) {
	p, dev := newPipeline(t)
	if err := p.Program(0x1000, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if c := p.Cursor(); c.Start != 0x1000 || c.Offset != 0 || c.Remaining != 0 {
		t.Errorf("cursor %+v", c)
	}
	if err := p.Program(0x1000, []byte{0x78}); err != ErrOverrun {
		t.Errorf("Program after empty image: got %v, want %v", err, ErrOverrun)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if dev.PagesProgrammed != 0 {
		t.Errorf("%d pages programmed for an empty image", dev.PagesProgrammed)
	}
}

func TestProgramChunking(t *testing.T) {
	data := payload(150 << 10)
	for _, level := range []int{zlib.NoCompression, zlib.BestSpeed, zlib.BestCompression} {
		f := frame(compress(t, data, level))

		for _, chunk := range []int{1, 3, 255, 4096, 65536, len(f)} {
			if chunk == 1 && level != zlib.BestSpeed {
				continue
			}
			p, dev := newPipeline(t)
			for off := 0; off < len(f); off += chunk {
				end := off + chunk
				if end > len(f) {
					end = len(f)
				}
				c := f[off:end:end]
				if end == len(f) {
					// Pad the last chunk the way a host aligning its transfers would.
					c = append(c, bytes.Repeat([]byte{0xff}, 256-len(c)%256)...)
				}
				if err := p.Program(0x4000, c); err != nil {
					t.Fatalf("level %d chunk %d: Program at %d: %v", level, chunk, off, err)
				}
			}
			if err := p.Finish(); err != nil {
				t.Fatalf("level %d chunk %d: Finish: %v", level, chunk, err)
			}
			if got := readBack(t, dev, 0x4000, len(data)); !bytes.Equal(got, data) {
				t.Fatalf("level %d chunk %d: output mismatch", level, chunk)
			}
			if c := p.Cursor(); c.Offset != uint32(len(data)) || c.Remaining != 0 {
				t.Errorf("level %d chunk %d: cursor %+v", level, chunk, c)
			}
			if p.State() != NoImage {
				t.Errorf("state after Finish: %v", p.State())
			}
		}
	}
}

// flushRecorder notes how many bytes each flush carried.
type flushRecorder struct {
	dev     *flash.Device
	p       *Pipeline
	flushes []int
	offsets []uint32
	states  []State
}

func (r *flushRecorder) ProgramPage(addr uint32, data []byte) flash.Status {
	off := r.p.Cursor().Offset
	if len(r.offsets) == 0 || r.offsets[len(r.offsets)-1] != off {
		r.offsets = append(r.offsets, off)
		r.flushes = append(r.flushes, r.p.Staged())
		r.states = append(r.states, r.p.State())
	}
	return r.dev.ProgramPage(addr, data)
}

func TestFlushWhenFull(t *testing.T) {
	data := make([]byte, Capacity+100)
	rec := &flushRecorder{dev: newDevice(t)}
	rec.p = New(NewPageWriter(rec, 0, testGeometry.PageSize))

	f := frame(compress(t, data, zlib.BestCompression))
	if err := rec.p.Program(0, f); err != nil {
		t.Fatalf("Program: %v", err)
	}

	if want := []int{Capacity, 100}; len(rec.flushes) != 2 || rec.flushes[0] != want[0] || rec.flushes[1] != want[1] {
		t.Errorf("flush sizes %v, want %v", rec.flushes, want)
	}
	for i, s := range rec.states {
		if s != Draining {
			t.Errorf("flush %d ran in state %v", i, s)
		}
	}
	if rec.p.State() != Streaming {
		t.Errorf("state %v after flush, want %v", rec.p.State(), Streaming)
	}
}

func TestOverrun(t *testing.T) {
	p, dev := newPipeline(t)
	if err := p.Program(0x1000, frame(compress(t, []byte("hello world"), zlib.BestSpeed))); err != nil {
		t.Fatalf("Program: %v", err)
	}
	pages := dev.PagesProgrammed
	before := p.Cursor()

	err := p.Program(0x1000, []byte("more"))
	if !errors.Is(err, ErrOverrun) {
		t.Fatalf("got %v, want %v", err, ErrOverrun)
	}
	if p.Cursor() != before || dev.PagesProgrammed != pages || p.Staged() != 0 {
		t.Errorf("overrun changed state: cursor %+v, pages %d, staged %d", p.Cursor(), dev.PagesProgrammed, p.Staged())
	}
}

func TestUnderrunKeepsImage(t *testing.T) {
	p, dev := newPipeline(t)
	data := payload(5000)
	f := frame(compress(t, data, zlib.DefaultCompression))

	half := len(f) / 2
	if err := p.Program(0x1000, f[:half]); err != nil {
		t.Fatalf("Program: %v", err)
	}
	before, staged := p.Cursor(), p.Staged()

	for _, short := range [][]byte{nil, {1}, {1, 2, 3}} {
		if err := p.Program(0x8000, short); err != ErrUnderrun {
			t.Fatalf("Program(%d bytes): got %v, want %v", len(short), err, ErrUnderrun)
		}
	}
	if p.Cursor() != before || p.Staged() != staged || p.State() != Streaming {
		t.Fatalf("underrun changed state: cursor %+v staged %d state %v", p.Cursor(), p.Staged(), p.State())
	}

	if err := p.Program(0x1000, f[half:]); err != nil {
		t.Fatalf("Program(rest): %v", err)
	}
	if err := p.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if got := readBack(t, dev, 0x1000, len(data)); !bytes.Equal(got, data) {
		t.Errorf("image corrupted by underrun")
	}
}

func TestUnderrunOnFirstImage(t *testing.T) {
	p, _ := newPipeline(t)
	if err := p.Program(0, []byte{1, 0}); err != ErrUnderrun {
		t.Fatalf("got %v, want %v", err, ErrUnderrun)
	}
	if p.State() != NoImage {
		t.Errorf("state %v, want %v", p.State(), NoImage)
	}
}

func TestStorageFailure(t *testing.T) {
	p, dev := newPipeline(t)
	data := payload(2000)
	dev.InjectFault(0x1000+512+17, flash.StatusProgramFail)

	err := p.Program(0x1000, frame(compress(t, data, zlib.BestSpeed)))
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want *StorageError", err)
	}
	if se.Status != flash.StatusProgramFail || se.Address != 0x1000+512 {
		t.Errorf("got %+v, want program fail at 0x%x", se, 0x1000+512)
	}
	if !errors.Is(err, &StorageError{}) || errors.Is(err, &StorageError{Status: flash.StatusEraseAllFail}) {
		t.Errorf("StorageError.Is mismatch")
	}
	if off := p.Cursor().Offset; off != 512 {
		t.Errorf("offset %d after failure, want 512", off)
	}
	if got := readBack(t, dev, 0x1000, 512); !bytes.Equal(got, data[:512]) {
		t.Errorf("confirmed bytes mismatch")
	}
}

func TestStorageFailureEndsImage(t *testing.T) {
	p, dev := newPipeline(t)
	data := payload(Capacity + 8000)
	f := frame(compress(t, data, zlib.NoCompression))
	dev.InjectFault(0x1000+512, flash.StatusProgramFail)

	first := p.Program(0x1000, f[:40000])
	var se *StorageError
	if !errors.As(first, &se) || se.Address != 0x1000+512 {
		t.Fatalf("got %v, want program fail at 0x%x", first, 0x1000+512)
	}
	pages := dev.PagesProgrammed

	if err := p.Program(0x1000, f[40000:]); !errors.Is(err, se) {
		t.Errorf("Program after failure: got %v, want %v", err, se)
	}
	if err := p.Flush(); err != nil {
		t.Errorf("Flush after failure: %v", err)
	}
	if err := p.Finish(); !errors.Is(err, se) {
		t.Errorf("Finish after failure: got %v, want %v", err, se)
	}
	if dev.PagesProgrammed != pages || p.Staged() != 0 {
		t.Errorf("failed image kept writing: %d pages, %d staged", dev.PagesProgrammed-pages, p.Staged())
	}
	if got := readBack(t, dev, 0x1000+512, len(data)-512); !bytes.Equal(got, bytes.Repeat([]byte{0xff}, len(got))) {
		t.Errorf("bytes written past the failed page")
	}
	if c := p.Cursor(); c.Offset != 512 {
		t.Errorf("offset %d, want 512", c.Offset)
	}

	// A new image starts cleanly after a failed one.
	if err := p.Program(0x20000, frame(compress(t, []byte("next"), zlib.BestSpeed))); err != nil {
		t.Fatalf("Program(next): %v", err)
	}
	if err := p.Finish(); err != nil {
		t.Fatalf("Finish(next): %v", err)
	}
	if got := readBack(t, dev, 0x20000, 4); string(got) != "next" {
		t.Errorf("Expected %q, got %q", "next", got)
	}
}

func TestDecoderFailure(t *testing.T) {
	good := compress(t, payload(3000), zlib.DefaultCompression)

	shortHeader := make([]byte, HeaderSize, HeaderSize+len(good))
	binary.LittleEndian.PutUint32(shortHeader, uint32(len(good)-6))
	shortHeader = append(shortHeader, good...)

	for _, tc := range []struct {
		name string
		data []byte
		want inflate.Status
	}{
		{"bad_header", frame([]byte{0x78, 0x00, 0x00, 0x00}), inflate.StatusFailed},
		{"declared_short", shortHeader, inflate.StatusFailedCannotMakeProgress},
		{"bad_checksum", frame(append(good[:len(good)-1:len(good)-1], good[len(good)-1]^1)), inflate.StatusAdler32Mismatch},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newPipeline(t)
			err := p.Program(0x1000, tc.data)
			var de *DecoderError
			if !errors.As(err, &de) {
				t.Fatalf("got %v, want *DecoderError", err)
			}
			if de.Status != tc.want {
				t.Errorf("status %v, want %v", de.Status, tc.want)
			}
			if !errors.Is(err, &DecoderError{}) {
				t.Errorf("errors.Is(err, &DecoderError{}) = false")
			}
		})
	}
}

func TestFinishRestartsSameAddress(t *testing.T) {
	p, dev := newPipeline(t)
	for _, s := range []string{"first", "again"} {
		if err := p.Program(0x3000, frame(compress(t, []byte(s), zlib.BestSpeed))); err != nil {
			t.Fatalf("Program(%q): %v", s, err)
		}
		if err := p.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}
	}
	// NOR programming ANDs the second image into the first.
	want := make([]byte, 5)
	for i := range want {
		want[i] = "first"[i] & "again"[i]
	}
	if got := readBack(t, dev, 0x3000, 5); !bytes.Equal(got, want) {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
