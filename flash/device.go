package flash

import (
	"fmt"
	"io"
	"os"

	"github.com/golang/glog"
)

// Backing is the storage a Device keeps its contents in.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

// Device is a Driver with serial NOR semantics: erased bytes read as the
// empty value, programming can only clear bits, and a page program never
// crosses a page boundary.
type Device struct {
	geo     Geometry
	backing Backing
	closer  io.Closer
	ready   bool

	faults map[uint32]Status

	PagesProgrammed int
	SectorsErased   int
}

var _ Driver = (*Device)(nil)

type memBacking []byte

func (m memBacking) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m memBacking) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	return copy(m[off:], p), nil
}

// NewMemory returns a RAM-backed device whose contents start out erased.
func NewMemory(geo Geometry) (*Device, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	m := make(memBacking, geo.Size)
	for i := range m {
		m[i] = geo.EmptyValue
	}
	return NewDevice(geo, m), nil
}

// OpenFile returns a device backed by the image file at path. A missing
// file is created in the erased state; an existing one must be exactly
// geo.Size bytes.
func OpenFile(path string, geo Geometry) (*Device, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("can't open flash image: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("can't stat flash image %v: %w", path, err)
	}

	switch fi.Size() {
	case 0:
		blank := make([]byte, geo.SectorSize)
		for i := range blank {
			blank[i] = geo.EmptyValue
		}
		for off := int64(0); off < int64(geo.Size); off += int64(len(blank)) {
			if _, err := f.WriteAt(blank, off); err != nil {
				f.Close()
				return nil, fmt.Errorf("can't initialize flash image %v: %w", path, err)
			}
		}
		glog.V(1).Infof("Created erased flash image %v (%d bytes)", path, geo.Size)
	case int64(geo.Size):
	default:
		f.Close()
		return nil, fmt.Errorf("flash image %v is %d bytes, device is %d", path, fi.Size(), geo.Size)
	}

	d := NewDevice(geo, f)
	d.closer = f
	return d, nil
}

// NewDevice wraps backing, which must hold geo.Size bytes.
func NewDevice(geo Geometry, backing Backing) *Device {
	return &Device{geo: geo, backing: backing}
}

// Close releases the backing file, if any.
func (d *Device) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// InjectFault makes the next page program touching addr fail with st.
func (d *Device) InjectFault(addr uint32, st Status) {
	if d.faults == nil {
		d.faults = make(map[uint32]Status)
	}
	d.faults[addr] = st
}

func (d *Device) Geometry() Geometry {
	return d.geo
}

func (d *Device) Init() Status {
	d.ready = true
	return StatusSuccess
}

func (d *Device) inRange(addr uint32, n int) bool {
	return uint64(addr)+uint64(n) <= uint64(d.geo.Size)
}

func (d *Device) fill(off, n int64) Status {
	blank := make([]byte, d.geo.SectorSize)
	for i := range blank {
		blank[i] = d.geo.EmptyValue
	}
	for end := off + n; off < end; off += int64(len(blank)) {
		if _, err := d.backing.WriteAt(blank, off); err != nil {
			glog.Errorf("Erase at 0x%x failed: %v", off, err)
			return StatusFail
		}
	}
	return StatusSuccess
}

func (d *Device) EraseAll() Status {
	if !d.ready {
		return StatusFail
	}
	if st := d.fill(0, int64(d.geo.Size)); !st.OK() {
		return StatusEraseAllFail
	}
	d.SectorsErased += int(d.geo.Size / d.geo.SectorSize)
	return StatusSuccess
}

func (d *Device) EraseSector(addr uint32) Status {
	switch {
	case !d.ready:
		return StatusFail
	case addr%d.geo.SectorSize != 0, !d.inRange(addr, int(d.geo.SectorSize)):
		return StatusInvalidArgument
	}
	if st := d.fill(int64(addr), int64(d.geo.SectorSize)); !st.OK() {
		return StatusEraseSectorFail
	}
	d.SectorsErased++
	return StatusSuccess
}

func (d *Device) ProgramPage(addr uint32, data []byte) Status {
	switch {
	case !d.ready:
		return StatusFail
	case len(data) == 0:
		return StatusSuccess
	case !d.inRange(addr, len(data)):
		return StatusInvalidArgument
	case addr/d.geo.PageSize != (addr+uint32(len(data))-1)/d.geo.PageSize:
		return StatusWriteAlignmentError
	}

	for fa, st := range d.faults {
		if fa >= addr && fa < addr+uint32(len(data)) {
			delete(d.faults, fa)
			return st
		}
	}

	cur := make([]byte, len(data))
	if _, err := d.backing.ReadAt(cur, int64(addr)); err != nil {
		glog.Errorf("Page read-back at 0x%x failed: %v", addr, err)
		return StatusProgramFail
	}
	for i, b := range data {
		cur[i] &= b
	}
	if _, err := d.backing.WriteAt(cur, int64(addr)); err != nil {
		glog.Errorf("Page program at 0x%x failed: %v", addr, err)
		return StatusProgramFail
	}
	d.PagesProgrammed++
	return StatusSuccess
}

func (d *Device) Read(addr uint32, p []byte) Status {
	switch {
	case !d.ready:
		return StatusFail
	case !d.inRange(addr, len(p)):
		return StatusInvalidArgument
	}
	if _, err := d.backing.ReadAt(p, int64(addr)); err != nil {
		glog.Errorf("Read at 0x%x failed: %v", addr, err)
		return StatusFail
	}
	return StatusSuccess
}
