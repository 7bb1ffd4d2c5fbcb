// Package flash models the storage driver the programming entry points run
// against: the page-program, erase and read primitives of a serial NOR
// part, reported through ROM-style status codes.
package flash

// Driver is the storage driver contract. Addresses are device offsets,
// i.e. absolute addresses minus Geometry.Base. Every call blocks until the
// device reports completion.
type Driver interface {
	// Init brings up the device. It must succeed before any other call.
	Init() Status
	Geometry() Geometry
	EraseAll() Status
	// EraseSector erases the sector starting at addr.
	EraseSector(addr uint32) Status
	// ProgramPage writes data, which must not cross a page boundary.
	ProgramPage(addr uint32, data []byte) Status
	Read(addr uint32, p []byte) Status
}
