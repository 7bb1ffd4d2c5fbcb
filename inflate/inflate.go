// Package inflate implements a push-mode zlib/DEFLATE decoder.
//
// Unlike compress/flate, which pulls from an io.Reader, a Decompressor is
// driven by the caller: each Step hands it whatever input has arrived and a
// region to write into, and it reports how far it got. Decoding can stop at
// any bit of the input and any byte of the output and resume on the next
// Step. Memory use is fixed: the only history kept is a 32 KiB window.
package inflate

import (
	"hash"
	"hash/adler32"
)

// WindowSize is the largest back-reference distance DEFLATE allows.
const WindowSize = 1 << 15

// Status is the outcome of a Step. Negative values are failures.
type Status int8

const (
	// StatusFailedCannotMakeProgress means the decoder needs more input but
	// FlagHasMoreInput was not set.
	StatusFailedCannotMakeProgress Status = -4
	StatusBadParam                 Status = -3
	StatusAdler32Mismatch          Status = -2
	StatusFailed                   Status = -1
	StatusDone                     Status = 0
	StatusNeedsMoreInput           Status = 1
	StatusHasMoreOutput            Status = 2
)

var statusNames = map[Status]string{
	StatusFailedCannotMakeProgress: "failed: cannot make progress",
	StatusBadParam:                 "bad parameter",
	StatusAdler32Mismatch:          "adler32 mismatch",
	StatusFailed:                   "failed",
	StatusDone:                     "done",
	StatusNeedsMoreInput:           "needs more input",
	StatusHasMoreOutput:            "has more output",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown status"
}

// Failed reports whether s is a terminal failure.
func (s Status) Failed() bool {
	return s < StatusDone
}

// Flags select per-Step decoding behaviour.
type Flags uint8

const (
	// FlagParseZlibHeader expects a zlib header and Adler-32 trailer around
	// the DEFLATE data.
	FlagParseZlibHeader Flags = 1 << iota
	// FlagHasMoreInput tells the decoder that the input of this Step is not
	// the end of the stream.
	FlagHasMoreInput
)

type state uint8

const (
	stateZlibHeader state = iota
	stateBlockHeader
	stateStoredHeader
	stateStored
	stateDynamicHeader
	stateCodeLenLens
	stateCodeLens
	stateCodeLenRepeat
	stateLitLen
	stateLengthExtra
	stateDist
	stateDistExtra
	stateCopy
	stateBlockEnd
	stateTrailer
	stateDone
	stateFailed
)

// Decompressor holds the full decoding state of one stream.
type Decompressor struct {
	st     state
	failed Status

	// Bit buffer, least significant bit first.
	b  uint64
	nb uint

	final bool
	lit   *huffman
	dist  *huffman

	// Dynamic block tables.
	dynLit, dynDist, codeLen huffman
	lens                     [maxLitCodes + maxDistCodes]uint8
	nlit, ndist, nclen       int
	idx                      int
	sym                      int

	length int
	offset int

	hist     [WindowSize]byte
	hpos     int
	totalOut int64
	adler    hash.Hash32

	// Per-Step input and output.
	in      []byte
	inPos   int
	out     []byte
	outPos  int
	outMark int
	flags   Flags
}

// NewDecompressor returns a Decompressor ready for a new stream.
func NewDecompressor() *Decompressor {
	d := &Decompressor{adler: adler32.New()}
	d.Reset()
	return d
}

// Reset discards all state so that d can decode a new stream.
func (d *Decompressor) Reset() {
	d.st = stateZlibHeader
	d.failed = StatusDone
	d.b, d.nb = 0, 0
	d.final = false
	d.lit, d.dist = nil, nil
	d.length, d.offset = 0, 0
	d.hpos = 0
	d.totalOut = 0
	d.adler.Reset()
	d.in, d.out = nil, nil
}

// TotalOut returns the number of bytes produced since the last Reset.
func (d *Decompressor) TotalOut() int64 {
	return d.totalOut
}

// Done reports whether the end of the stream has been reached.
func (d *Decompressor) Done() bool {
	return d.st == stateDone
}

// Step decodes from in into out. It returns the resulting status, the
// number of input bytes consumed and the number of bytes written to the
// start of out. Consumed input is part of the decoder state and must not be
// supplied again. FlagParseZlibHeader must be the same for every Step of a
// stream.
func (d *Decompressor) Step(in, out []byte, flags Flags) (status Status, consumed, produced int) {
	if d.st == stateZlibHeader && flags&FlagParseZlibHeader == 0 {
		d.st = stateBlockHeader
	}

	d.in, d.inPos = in, 0
	d.out, d.outPos, d.outMark = out, 0, 0
	d.flags = flags

	status = d.run()
	d.sum()

	consumed, produced = d.inPos, d.outPos
	d.in, d.out = nil, nil
	return status, consumed, produced
}

func (d *Decompressor) run() Status {
	for {
		switch d.st {
		case stateZlibHeader:
			if !d.need(16) {
				return d.stall()
			}
			cmf, flg := d.bits(8), d.bits(8)
			switch {
			case cmf&0x0f != 8, cmf>>4 > 7:
				return d.fail(StatusFailed)
			case (cmf<<8|flg)%31 != 0:
				return d.fail(StatusFailed)
			case flg&0x20 != 0:
				// Preset dictionaries are not supported.
				return d.fail(StatusFailed)
			}
			d.st = stateBlockHeader

		case stateBlockHeader:
			if !d.need(3) {
				return d.stall()
			}
			d.final = d.bits(1) == 1
			switch d.bits(2) {
			case 0:
				d.st = stateStoredHeader
			case 1:
				d.lit, d.dist = &fixedLit, &fixedDist
				d.st = stateLitLen
			case 2:
				d.st = stateDynamicHeader
			default:
				return d.fail(StatusFailed)
			}

		case stateStoredHeader:
			d.align()
			if !d.need(32) {
				return d.stall()
			}
			n, nn := d.bits(16), d.bits(16)
			if n != ^nn&0xffff {
				return d.fail(StatusFailed)
			}
			d.length = int(n)
			d.st = stateStored

		case stateStored:
			for d.length > 0 {
				if d.outPos == len(d.out) {
					return StatusHasMoreOutput
				}
				var c byte
				switch {
				case d.nb >= 8:
					c = byte(d.bits(8))
				case d.inPos < len(d.in):
					c = d.in[d.inPos]
					d.inPos++
				default:
					return d.stall()
				}
				d.emit(c)
				d.length--
			}
			d.st = stateBlockEnd

		case stateDynamicHeader:
			if !d.need(14) {
				return d.stall()
			}
			d.nlit = int(d.bits(5)) + 257
			d.ndist = int(d.bits(5)) + 1
			d.nclen = int(d.bits(4)) + 4
			if d.nlit > maxLitCodes || d.ndist > maxDistCodes {
				return d.fail(StatusFailed)
			}
			d.lens = [maxLitCodes + maxDistCodes]uint8{}
			d.idx = 0
			d.st = stateCodeLenLens

		case stateCodeLenLens:
			for d.idx < d.nclen {
				if !d.need(3) {
					return d.stall()
				}
				d.lens[codeLenOrder[d.idx]] = uint8(d.bits(3))
				d.idx++
			}
			if d.codeLen.build(d.lens[:numCodeLens]) != 0 {
				return d.fail(StatusFailed)
			}
			d.lens = [maxLitCodes + maxDistCodes]uint8{}
			d.idx = 0
			d.st = stateCodeLens

		case stateCodeLens:
			for d.idx < d.nlit+d.ndist {
				sym, ok := d.decode(&d.codeLen)
				if !ok {
					return d.stall()
				}
				if sym < 16 {
					d.lens[d.idx] = uint8(sym)
					d.idx++
					continue
				}
				d.sym = sym
				d.st = stateCodeLenRepeat
				break
			}
			if d.st == stateCodeLenRepeat {
				continue
			}
			if !d.buildDynamic() {
				return d.fail(StatusFailed)
			}
			d.lit, d.dist = &d.dynLit, &d.dynDist
			d.st = stateLitLen

		case stateCodeLenRepeat:
			var extra, base uint
			switch d.sym {
			case 16:
				extra, base = 2, 3
			case 17:
				extra, base = 3, 3
			default:
				extra, base = 7, 11
			}
			if !d.need(extra) {
				return d.stall()
			}
			n := int(base + uint(d.bits(extra)))
			if d.idx+n > d.nlit+d.ndist {
				return d.fail(StatusFailed)
			}
			var v uint8
			if d.sym == 16 {
				if d.idx == 0 {
					return d.fail(StatusFailed)
				}
				v = d.lens[d.idx-1]
			}
			for ; n > 0; n-- {
				d.lens[d.idx] = v
				d.idx++
			}
			d.st = stateCodeLens

		case stateLitLen:
			if d.outPos == len(d.out) {
				return StatusHasMoreOutput
			}
			sym, ok := d.decode(d.lit)
			if !ok {
				return d.stall()
			}
			switch {
			case sym < 256:
				d.emit(byte(sym))
			case sym == 256:
				d.st = stateBlockEnd
			case sym-257 < len(lengthBase):
				d.sym = sym - 257
				d.st = stateLengthExtra
			default:
				return d.fail(StatusFailed)
			}

		case stateLengthExtra:
			extra := uint(lengthExtra[d.sym])
			if !d.need(extra) {
				return d.stall()
			}
			d.length = int(lengthBase[d.sym]) + int(d.bits(extra))
			d.st = stateDist

		case stateDist:
			sym, ok := d.decode(d.dist)
			if !ok {
				return d.stall()
			}
			if sym >= len(distBase) {
				return d.fail(StatusFailed)
			}
			d.sym = sym
			d.st = stateDistExtra

		case stateDistExtra:
			extra := uint(distExtra[d.sym])
			if !d.need(extra) {
				return d.stall()
			}
			d.offset = int(distBase[d.sym]) + int(d.bits(extra))
			if int64(d.offset) > d.totalOut {
				return d.fail(StatusFailed)
			}
			d.st = stateCopy

		case stateCopy:
			for d.length > 0 {
				if d.outPos == len(d.out) {
					return StatusHasMoreOutput
				}
				d.emit(d.hist[(d.hpos-d.offset)&(WindowSize-1)])
				d.length--
			}
			d.st = stateLitLen

		case stateBlockEnd:
			switch {
			case !d.final:
				d.st = stateBlockHeader
			case d.flags&FlagParseZlibHeader != 0:
				d.st = stateTrailer
			default:
				d.align()
				d.st = stateDone
			}

		case stateTrailer:
			d.align()
			if !d.need(32) {
				return d.stall()
			}
			want := d.bits(8)<<24 | d.bits(8)<<16 | d.bits(8)<<8 | d.bits(8)
			d.sum()
			if d.adler.Sum32() != want {
				return d.fail(StatusAdler32Mismatch)
			}
			d.st = stateDone

		case stateDone:
			return StatusDone

		case stateFailed:
			return d.failed
		}
	}
}

// need makes sure at least n bits are buffered, pulling input one byte at
// a time so that nothing past the end of the stream is consumed.
func (d *Decompressor) need(n uint) bool {
	for d.nb < n {
		if d.inPos == len(d.in) {
			return false
		}
		d.b |= uint64(d.in[d.inPos]) << d.nb
		d.inPos++
		d.nb += 8
	}
	return true
}

func (d *Decompressor) bits(n uint) uint32 {
	v := uint32(d.b & (1<<n - 1))
	d.b >>= n
	d.nb -= n
	return v
}

// align drops the bits up to the next byte boundary.
func (d *Decompressor) align() {
	d.bits(d.nb % 8)
}

func (d *Decompressor) decode(h *huffman) (int, bool) {
	for {
		sym, n, ok := h.lookup(d.b, d.nb)
		if ok {
			if sym < 0 {
				d.fail(StatusFailed)
				return 0, false
			}
			d.b >>= n
			d.nb -= n
			return sym, true
		}
		if !d.need(d.nb + 1) {
			return 0, false
		}
	}
}

func (d *Decompressor) buildDynamic() bool {
	if d.lens[256] == 0 {
		return false
	}
	if left := d.dynLit.build(d.lens[:d.nlit]); left < 0 || left > 0 && d.nlit != int(d.dynLit.count[0])+int(d.dynLit.count[1]) {
		return false
	}
	left := d.dynDist.build(d.lens[d.nlit : d.nlit+d.ndist])
	return left == 0 || left > 0 && d.ndist == int(d.dynDist.count[0])+int(d.dynDist.count[1])
}

func (d *Decompressor) emit(c byte) {
	d.out[d.outPos] = c
	d.outPos++
	d.hist[d.hpos] = c
	d.hpos = (d.hpos + 1) & (WindowSize - 1)
	d.totalOut++
}

// sum folds the output written since the last call into the checksum.
func (d *Decompressor) sum() {
	if d.outPos > d.outMark {
		d.adler.Write(d.out[d.outMark:d.outPos])
		d.outMark = d.outPos
	}
}

func (d *Decompressor) stall() Status {
	switch {
	case d.st == stateFailed:
		return d.failed
	case d.flags&FlagHasMoreInput != 0:
		return StatusNeedsMoreInput
	default:
		return d.fail(StatusFailedCannotMakeProgress)
	}
}

func (d *Decompressor) fail(s Status) Status {
	d.st = stateFailed
	d.failed = s
	return s
}
