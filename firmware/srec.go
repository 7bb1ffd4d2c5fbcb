package firmware

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// SRecordInfo holds the non-data records of an S-record file.
type SRecordInfo struct {
	Header   string
	Entry    uint32
	HasEntry bool
	Records  int // data records read
}

func parseBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errors.New("odd number of bytes")
	}
	ret := make([]byte, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		b, err := strconv.ParseUint(s[i:i+2], 16, 8)
		if err != nil {
			return nil, err
		}
		ret = append(ret, byte(b))
	}
	return ret, nil
}

// addrLen is the address width in bytes of each record type.
var addrLen = map[byte]int{
	'0': 2, '1': 2, '2': 3, '3': 4,
	'5': 2, '6': 3,
	'7': 4, '8': 3, '9': 2,
}

// IsSRecord reports whether data looks like the start of an S-record file.
func IsSRecord(data []byte) bool {
	data = bytes.TrimLeft(data, " \t\r\n")
	return len(data) >= 4 && data[0] == 'S' && addrLen[data[1]] != 0 && bytes.IndexByte([]byte("0123456789ABCDEFabcdef"), data[2]) >= 0
}

// ParseSRecord reads an S-record file into a segment set. Consecutive data
// records grow the same segment.
func ParseSRecord(r io.Reader) (*Set, *SRecordInfo, error) {
	m := &Set{}
	info := &SRecordInfo{}
	sc := bufio.NewScanner(r)

	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if len(line) < 4 {
			return nil, nil, fmt.Errorf("line %d is too short", lineno)
		}
		if line[0] != 'S' {
			return nil, nil, fmt.Errorf("line %d does not start with 'S'", lineno)
		}
		t := line[1]
		al, ok := addrLen[t]
		if !ok {
			return nil, nil, fmt.Errorf("unknown S-record type %c at line %d", t, lineno)
		}

		rec, err := parseBytes(line[2:])
		if err != nil {
			return nil, nil, fmt.Errorf("can't parse line %d: %w", lineno, err)
		}
		if len(rec) < 1+al+1 || int(rec[0]) != len(rec)-1 {
			return nil, nil, fmt.Errorf("bad byte count at line %d", lineno)
		}
		var sum byte
		for _, b := range rec[:len(rec)-1] {
			sum += b
		}
		if ^sum != rec[len(rec)-1] {
			return nil, nil, fmt.Errorf("checksum mismatch at line %d: computed %02x, stored %02x", lineno, ^sum, rec[len(rec)-1])
		}

		var addr uint32
		for _, b := range rec[1 : 1+al] {
			addr = addr<<8 | uint32(b)
		}
		data := rec[1+al : len(rec)-1]

		switch t {
		case '0':
			info.Header = string(bytes.TrimRight(data, "\x00"))
			glog.V(1).Infof("S-record header: %q", info.Header)
		case '1', '2', '3':
			if err := m.Append(addr, data); err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", lineno, err)
			}
			info.Records++
		case '5', '6':
			if int(addr) != info.Records {
				return nil, nil, fmt.Errorf("record count %d at line %d, read %d data records", addr, lineno, info.Records)
			}
		case '7', '8', '9':
			info.Entry, info.HasEntry = addr, true
			glog.V(1).Infof("S-record start address: %08x", addr)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("can't read S-records: %w", err)
	}
	return m, info, nil
}
