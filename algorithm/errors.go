package algorithm

import (
	"errors"
	"fmt"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
	"github.com/cstrahan/imxrt-flash-algorithm/stream"
)

// Flat codes reported to the host. Device statuses are passed through
// unchanged; decoder statuses are shifted into their own band.
const (
	CodeSuccess     uint32 = 0
	CodeUnknown     uint32 = 1
	CodeDecoderBase uint32 = 10000
	CodeOverrun     uint32 = 20000
	CodeUnderrun    uint32 = 20001
)

// ErrClosed is returned by every operation on a closed session.
var ErrClosed = errors.New("algorithm: session closed")

// DriverError reports a driver call that returned a non-zero status.
type DriverError struct {
	Op      string
	Address uint32
	Status  flash.Status
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s at 0x%08x: %v (%d)", e.Op, e.Address, e.Status, uint32(e.Status))
}

// Code maps err to the flat numeric code the host protocol carries.
func Code(err error) uint32 {
	var (
		de *stream.DecoderError
		se *stream.StorageError
		dr *DriverError
	)
	switch {
	case err == nil:
		return CodeSuccess
	case errors.As(err, &de):
		// Decoder failures are -4..-1.
		return CodeDecoderBase + uint32(int32(de.Status)+4)
	case errors.As(err, &se):
		return uint32(se.Status)
	case errors.As(err, &dr):
		return uint32(dr.Status)
	case errors.Is(err, stream.ErrOverrun):
		return CodeOverrun
	case errors.Is(err, stream.ErrUnderrun):
		return CodeUnderrun
	}
	return CodeUnknown
}

// Kind names the class of err for logs and metrics.
func Kind(err error) string {
	var (
		de *stream.DecoderError
		se *stream.StorageError
		dr *DriverError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return "decoder"
	case errors.As(err, &se):
		return "storage"
	case errors.As(err, &dr):
		return "driver"
	case errors.Is(err, stream.ErrOverrun):
		return "overrun"
	case errors.Is(err, stream.ErrUnderrun):
		return "underrun"
	}
	return "other"
}
