package stream

import (
	"errors"
	"fmt"

	"github.com/cstrahan/imxrt-flash-algorithm/flash"
	"github.com/cstrahan/imxrt-flash-algorithm/inflate"
)

var (
	// ErrOverrun is returned when data arrives for an image whose declared
	// compressed length has already been consumed.
	ErrOverrun = errors.New("stream: data beyond declared image length")
	// ErrUnderrun is returned when the first chunk of an image is too short
	// to hold the length header.
	ErrUnderrun = errors.New("stream: chunk too short for image length header")
)

// DecoderError reports a terminal decoder status.
type DecoderError struct {
	Status inflate.Status
}

func (e *DecoderError) Error() string {
	return fmt.Sprintf("stream: decoder failed: %v (%d)", e.Status, e.Status)
}

// Is matches any *DecoderError with the same status; a zero Status in the
// target matches every decoder failure.
func (e *DecoderError) Is(target error) bool {
	t, ok := target.(*DecoderError)
	if !ok {
		return false
	}
	return t.Status == 0 || t.Status == e.Status
}

// StorageError reports a page write the device rejected.
type StorageError struct {
	Status  flash.Status
	Address uint32 // absolute address of the rejected page
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("stream: page program at 0x%08x failed: %v (%d)", e.Address, e.Status, uint32(e.Status))
}

// Is matches any *StorageError with the same status; a zero Status in the
// target matches every storage failure.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return t.Status == flash.StatusSuccess || t.Status == e.Status
}
