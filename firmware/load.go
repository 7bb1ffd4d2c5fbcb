package firmware

import (
	"bytes"
	"fmt"
	"os"

	"github.com/golang/glog"
)

// LoadOptions describe how to turn a file into segments.
type LoadOptions struct {
	Format Format
	// Base is where a raw binary is placed. S-record files carry their own
	// addresses.
	Base uint32
	// NANDPageSize and NANDOOBSize, when OOB is non-zero, strip the spare
	// area from a raw NAND dump before anything else.
	NANDPageSize int
	NANDOOBSize  int
}

// Load reads the image at path.
func Load(path string, opts LoadOptions) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read image: %w", err)
	}
	glog.V(1).Infof("Read %d bytes from %s", len(data), path)

	if opts.NANDOOBSize > 0 {
		data, err = StripOOB(data, opts.NANDPageSize, opts.NANDOOBSize)
		if err != nil {
			return nil, fmt.Errorf("can't remove OOB data: %w", err)
		}
		glog.V(1).Infof("%d bytes after OOB removal", len(data))
	}

	f := opts.Format
	if f == FormatAuto {
		f = Detect(data)
	}
	data, err = Decompress(data, f)
	if err != nil {
		return nil, fmt.Errorf("can't decompress %s image %v: %w", f, path, err)
	}
	if f != FormatRaw {
		glog.V(1).Infof("%d bytes after %s decompression", len(data), f)
	}

	if IsSRecord(data) {
		m, info, err := ParseSRecord(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("can't parse S-records in %v: %w", path, err)
		}
		glog.Infof("Loaded %d S-records (%d segments, %d bytes) from %s", info.Records, len(m.s), m.Size(), path)
		return m, nil
	}

	m := &Set{}
	if _, err := m.Add(opts.Base, data, path); err != nil {
		return nil, err
	}
	return m, nil
}
