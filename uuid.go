package gatt

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	uuid "github.com/satori/go.uuid"
)

// A UUID is a BLE UUID. Its bytes are stored in
// little-endian order, the order used on the wire.
type UUID struct {
	// Hide the bytes, so that we can change them later
	// without breaking the API.
	b []byte
}

// UUID16 converts a uint16 (such as 0x1800) to a UUID.
func UUID16(i uint16) UUID {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, i)
	return UUID{b}
}

// ParseUUID parses a standard-format UUID string, such
// as "1800" or "34DA3AD1-7110-41A1-B1EF-4430F509CDE7".
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	switch len(strings.Replace(s, "-", "", -1)) {
	case 4:
		b, err := hex.DecodeString(s)
		if err != nil {
			return UUID{}, err
		}
		return UUID{reverse(b)}, nil
	case 32:
		u, err := uuid.FromString(s)
		if err != nil {
			return UUID{}, err
		}
		return UUID{reverse(u.Bytes())}, nil
	}
	return UUID{}, fmt.Errorf("invalid uuid %q: want 16 or 128 bits", s)
}

// MustParseUUID parses a standard-format UUID string,
// like ParseUUID, but panics in case of error.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUIDFromBytes returns a UUID holding a copy of b,
// which must be in little-endian order.
func UUIDFromBytes(b []byte) UUID {
	return UUID{append([]byte(nil), b...)}
}

// Len returns the length of the UUID, in bytes.
// BLE UUIDs are either 2 or 16 bytes.
func (u UUID) Len() int {
	return len(u.b)
}

// Bytes returns a copy of the UUID in little-endian order.
func (u UUID) Bytes() []byte {
	return append([]byte(nil), u.b...)
}

// String hex-encodes a UUID in the canonical big-endian form.
func (u UUID) String() string {
	if u.Len() != 16 {
		return fmt.Sprintf("%x", reverse(u.b))
	}
	id, err := uuid.FromBytes(reverse(u.b))
	if err != nil {
		return fmt.Sprintf("%x", reverse(u.b))
	}
	return id.String()
}

// Equal returns a boolean reporting whether v represent the same UUID as u.
func (u UUID) Equal(v UUID) bool {
	return bytes.Equal(u.b, v.b)
}

// reverse returns a reversed copy of u.
func reverse(u []byte) []byte {
	// Special-case 16 bit UUIDS for speed.
	l := len(u)
	if l == 2 {
		return []byte{u[1], u[0]}
	}
	b := make([]byte, l)
	for i := 0; i < l; i++ {
		b[i] = u[l-i-1]
	}
	return b
}
