package inflate

const (
	maxBits      = 15
	maxLitCodes  = 286
	maxDistCodes = 30
	fixedLitLen  = 288
	numCodeLens  = 19
)

// Order in which code length code lengths are sent in a dynamic block header.
var codeLenOrder = [numCodeLens]uint8{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtra = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

var distBase = [30]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [30]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

// huffman is a canonical prefix code stored as per-length counts and the
// symbols ordered by code. Decoding walks one bit at a time, which lets a
// lookup stop cleanly when the bit buffer runs dry.
type huffman struct {
	count  [maxBits + 1]uint16
	symbol [fixedLitLen]uint16
}

// build initializes h from code lengths. It returns 0 for a complete code,
// a positive value for an incomplete one and a negative value for an
// over-subscribed one.
func (h *huffman) build(lengths []uint8) int {
	h.count = [maxBits + 1]uint16{}
	for _, l := range lengths {
		h.count[l]++
	}
	if int(h.count[0]) == len(lengths) {
		return 0
	}

	left := 1
	for l := 1; l <= maxBits; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return left
		}
	}

	var offs [maxBits + 1]uint16
	for l := 1; l < maxBits; l++ {
		offs[l+1] = offs[l] + h.count[l]
	}
	for sym, l := range lengths {
		if l != 0 {
			h.symbol[offs[l]] = uint16(sym)
			offs[l]++
		}
	}
	return left
}

// lookup decodes one symbol from the low nb bits of b. ok is false when more
// bits are needed; sym is -1 for a code that is not in the table.
func (h *huffman) lookup(b uint64, nb uint) (sym int, n uint, ok bool) {
	code, first, index := 0, 0, 0
	for l := uint(1); l <= maxBits; l++ {
		if l > nb {
			return 0, 0, false
		}
		code |= int(b>>(l-1)) & 1
		count := int(h.count[l])
		if code-count < first {
			return int(h.symbol[index+code-first]), l, true
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return -1, maxBits, true
}

var fixedLit, fixedDist huffman

func init() {
	var lengths [fixedLitLen]uint8
	for i := range lengths {
		switch {
		case i < 144:
			lengths[i] = 8
		case i < 256:
			lengths[i] = 9
		case i < 280:
			lengths[i] = 7
		default:
			lengths[i] = 8
		}
	}
	fixedLit.build(lengths[:])

	var dist [maxDistCodes]uint8
	for i := range dist {
		dist[i] = 5
	}
	fixedDist.build(dist[:])
}
