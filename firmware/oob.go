package firmware

import "fmt"

// StripOOB removes the spare area that follows every pageSize bytes of a
// raw NAND dump.
func StripOOB(data []byte, pageSize, oobSize int) ([]byte, error) {
	if pageSize <= 0 || oobSize < 0 {
		return nil, fmt.Errorf("bad NAND layout 0x%x+0x%x", pageSize, oobSize)
	}
	if len(data)%(pageSize+oobSize) != 0 {
		return nil, fmt.Errorf("data (len = 0x%x) is not a multiple of 0x%x+0x%0x", len(data), pageSize, oobSize)
	}

	ret := make([]byte, 0, len(data)/(pageSize+oobSize)*pageSize)
	for i := 0; i < len(data); i += pageSize + oobSize {
		ret = append(ret, data[i:i+pageSize]...)
	}
	return ret, nil
}
