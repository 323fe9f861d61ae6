package gatt

import "fmt"

// A Handle is an attribute handle assigned by the stack.
// The zero Handle is NoHandle: it is not a valid attribute
// handle and never compares equal to one.
type Handle struct {
	n     uint16
	valid bool
}

// NoHandle is the unset handle.
var NoHandle = Handle{}

// MakeHandle returns a set handle with number n.
func MakeHandle(n uint16) Handle {
	return Handle{n: n, valid: true}
}

// Valid reports whether h has been set.
func (h Handle) Valid() bool { return h.valid }

// Uint16 returns the handle number, or 0 if h is unset.
func (h Handle) Uint16() uint16 { return h.n }

// Is reports whether h is set and refers to attribute n.
// An unset handle matches nothing.
func (h Handle) Is(n uint16) bool {
	return h.valid && h.n == n
}

func (h Handle) String() string {
	if !h.valid {
		return "none"
	}
	return fmt.Sprintf("0x%04x", h.n)
}

// A GattIf is the interface handle the stack assigns
// to a registered application.
type GattIf uint8

// GattIfNone is the interface handle of an unregistered application.
// Events delivered with GattIfNone are broadcast to all profiles.
const GattIfNone GattIf = 0xff

// A ConnID identifies a link. It is an opaque token owned by the stack.
type ConnID uint16

// A handleRange is a contiguous range of handles, as returned
// by an attribute table installation.
type handleRange struct {
	hh   []uint16
	base uint16 // handle number for first handle in hh
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into hh corresponding to handle n.
// If n is too small, idx returns tooSmall (-1).
// If n is too large, idx returns tooLarge (-2).
func (r *handleRange) idx(n int) int {
	if n < int(r.base) {
		return tooSmall
	}
	if n >= int(r.base)+len(r.hh) {
		return tooLarge
	}
	return n - int(r.base)
}

// Index returns the table position of handle n.
func (r *handleRange) Index(n uint16) (TableIndex, bool) {
	i := r.idx(int(n))
	if i < 0 || r.hh[i] != n {
		return 0, false
	}
	return TableIndex(i), true
}

// At returns the handle at table position i.
func (r *handleRange) At(i TableIndex) Handle {
	if int(i) < 0 || int(i) >= len(r.hh) {
		return NoHandle
	}
	return MakeHandle(r.hh[i])
}
