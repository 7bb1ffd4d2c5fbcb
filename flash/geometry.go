package flash

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Geometry describes a memory-mapped flash part. Addresses handed to the
// programming entry points are absolute (Base + device offset); Driver
// methods take device offsets.
type Geometry struct {
	Name           string        `yaml:"name"`
	Base           uint32        `yaml:"base"`
	Size           uint32        `yaml:"size"`
	PageSize       uint32        `yaml:"page_size"`
	SectorSize     uint32        `yaml:"sector_size"`
	EmptyValue     byte          `yaml:"empty_value"`
	ProgramTimeout time.Duration `yaml:"program_timeout"`
	EraseTimeout   time.Duration `yaml:"erase_timeout"`
}

// DefaultGeometry is the serial NOR behind FlexSPI on i.MX RT parts as
// set up by the boot ROM.
var DefaultGeometry = Geometry{
	Name:           "imxrt-flash-algorithm",
	Base:           0x6000_0000,
	Size:           0x0080_0000,
	PageSize:       256,
	SectorSize:     64 * 1024,
	EmptyValue:     0xff,
	ProgramTimeout: 2000 * time.Millisecond,
	EraseTimeout:   6000 * time.Millisecond,
}

func isPow2(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// Validate checks that g describes a usable device.
func (g Geometry) Validate() error {
	switch {
	case g.Size == 0:
		return errors.New("size must not be zero")
	case !isPow2(g.PageSize):
		return fmt.Errorf("page size 0x%x is not a power of two", g.PageSize)
	case !isPow2(g.SectorSize):
		return fmt.Errorf("sector size 0x%x is not a power of two", g.SectorSize)
	case g.SectorSize < g.PageSize:
		return fmt.Errorf("sector size 0x%x is smaller than page size 0x%x", g.SectorSize, g.PageSize)
	case g.Size%g.SectorSize != 0:
		return fmt.Errorf("size 0x%x is not a multiple of sector size 0x%x", g.Size, g.SectorSize)
	case g.Base%g.SectorSize != 0:
		return fmt.Errorf("base 0x%08x is not aligned to sector size 0x%x", g.Base, g.SectorSize)
	case uint64(g.Base)+uint64(g.Size) > 1<<32:
		return fmt.Errorf("[0x%08x+0x%x] exceeds the 32-bit address space", g.Base, g.Size)
	}
	return nil
}

// Contains reports whether the absolute range [addr, addr+n) lies within
// the device.
func (g Geometry) Contains(addr uint32, n int) bool {
	return addr >= g.Base && uint64(addr-g.Base)+uint64(n) <= uint64(g.Size)
}

// Sectors returns the absolute start addresses of the sectors overlapping
// [addr, addr+n).
func (g Geometry) Sectors(addr uint32, n int) []uint32 {
	if n <= 0 {
		return nil
	}
	first := addr &^ (g.SectorSize - 1)
	end := uint64(addr) + uint64(n)
	var ret []uint32
	for s := uint64(first); s < end; s += uint64(g.SectorSize) {
		ret = append(ret, uint32(s))
	}
	return ret
}

// LoadGeometry reads a YAML device description. Fields left out keep
// their DefaultGeometry values.
func LoadGeometry(path string) (Geometry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Geometry{}, fmt.Errorf("can't read device config: %w", err)
	}

	g := DefaultGeometry
	if err := yaml.Unmarshal(data, &g); err != nil {
		return Geometry{}, fmt.Errorf("can't parse device config %v: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, fmt.Errorf("invalid device config %v: %w", path, err)
	}
	return g, nil
}
