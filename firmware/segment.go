// Package firmware loads the images a host programs into flash: raw
// binaries, S-record files, NAND dumps with spare areas and compressed
// variants of each.
package firmware

import (
	"fmt"
	"sort"
)

// Segment is a contiguous run of image bytes destined for Start.
type Segment struct {
	Name  string
	Start uint32
	Data  []byte
}

func (s *Segment) Size() uint32 {
	return uint32(len(s.Data))
}

// End returns the address one past the last byte of s.
func (s *Segment) End() uint64 {
	return uint64(s.Start) + uint64(len(s.Data))
}

func (s *Segment) HasAddr(addr uint32) bool {
	return addr >= s.Start && uint64(addr) < s.End()
}

func (s *Segment) String() string {
	name := ""
	if s.Name != "" {
		name = fmt.Sprintf("%q ", s.Name)
	}
	if len(s.Data) == 0 {
		return fmt.Sprintf("%s[0x%08x-]", name, s.Start)
	}
	return fmt.Sprintf("%s[0x%08x-0x%08x]", name, s.Start, s.End()-1)
}

// Set is a collection of non-overlapping segments.
type Set struct {
	s []*Segment
}

// SegmentFor returns the segment containing addr.
func (m *Set) SegmentFor(addr uint32) (*Segment, bool) {
	for _, s := range m.s {
		if s.HasAddr(addr) {
			return s, true
		}
	}
	return nil, false
}

func overlaps(a, b *Segment) bool {
	return uint64(a.Start) < b.End() && uint64(b.Start) < a.End()
}

// Add inserts data at start. It fails if the new segment overlaps one
// already in the set.
func (m *Set) Add(start uint32, data []byte, name string) (*Segment, error) {
	ns := &Segment{Name: name, Start: start, Data: data}
	if ns.End() > 1<<32 {
		return nil, fmt.Errorf("segment %v runs past the end of the address space", ns)
	}
	for _, s := range m.s {
		if overlaps(ns, s) {
			return nil, fmt.Errorf("segment %v overlaps with existing segment %v", ns, s)
		}
	}
	m.s = append(m.s, ns)
	return ns, nil
}

// Append adds data at start, growing the segment that ends exactly at
// start if there is one.
func (m *Set) Append(start uint32, data []byte) error {
	var prev *Segment
	for _, s := range m.s {
		if len(s.Data) > 0 && s.End() == uint64(start) {
			prev = s
			break
		}
	}
	if prev == nil {
		_, err := m.Add(start, data, "")
		return err
	}

	ext := &Segment{Start: start, Data: data}
	if ext.End() > 1<<32 {
		return fmt.Errorf("segment %v runs past the end of the address space", ext)
	}
	for _, s := range m.s {
		if s != prev && overlaps(ext, s) {
			return fmt.Errorf("segment %v overlaps with existing segment %v", ext, s)
		}
	}
	prev.Data = append(prev.Data, data...)
	return nil
}

// Slice returns memory[low:high]. Both ends must lie in the same segment.
// A high of zero means the end of the segment containing low.
func (m *Set) Slice(low, high uint32) ([]byte, error) {
	ss, ok := m.SegmentFor(low)
	if !ok {
		return nil, fmt.Errorf("no segment for 0x%08x found", low)
	}

	if high == 0 {
		return ss.Data[low-ss.Start:], nil
	}
	es, ok := m.SegmentFor(high - 1)
	if !ok {
		return nil, fmt.Errorf("no segment for 0x%08x found", high-1)
	}
	if ss != es {
		return nil, fmt.Errorf("memory[0x%08x:0x%08x] not contiguous, start segment: %v, end segment: %v", low, high, ss, es)
	}
	return ss.Data[low-ss.Start : high-ss.Start], nil
}

// Segments returns the segments ordered by start address.
func (m *Set) Segments() []*Segment {
	ret := append([]*Segment(nil), m.s...)
	sort.Slice(ret, func(i, j int) bool { return ret[i].Start < ret[j].Start })
	return ret
}

// Size returns the total number of bytes in the set.
func (m *Set) Size() int {
	n := 0
	for _, s := range m.s {
		n += len(s.Data)
	}
	return n
}
