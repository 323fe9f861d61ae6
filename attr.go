package gatt

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidAttrValueLen is returned when a value exceeds an attribute's max length.
var ErrInvalidAttrValueLen = errors.New("invalid attribute value length")

// An AttrKind is the role of an entry in the attribute table.
type AttrKind int

const (
	KindService AttrKind = iota
	KindCharDecl
	KindCharValue
	KindCCCD
)

func (k AttrKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindCharDecl:
		return "characteristic declaration"
	case KindCharValue:
		return "characteristic value"
	case KindCCCD:
		return "client characteristic configuration"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Perm is an attribute access permission bitmask.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
)

func (p Perm) Read() bool  { return p&PermRead != 0 }
func (p Perm) Write() bool { return p&PermWrite != 0 }

// A TableIndex names a position in the attribute table. The stack
// assigns handles in table order, so the handles returned by a table
// installation are indexed by TableIndex as well.
type TableIndex int

const (
	IdxSvc TableIndex = iota
	IdxChar
	IdxCharVal
	IdxCharCfg

	// IdxNB is the number of entries in the table.
	IdxNB
)

func (i TableIndex) String() string {
	switch i {
	case IdxSvc:
		return "IDX_SVC"
	case IdxChar:
		return "IDX_CHAR"
	case IdxCharVal:
		return "IDX_CHAR_VAL"
	case IdxCharCfg:
		return "IDX_CHAR_CFG"
	}
	return fmt.Sprintf("IDX(%d)", int(i))
}

// An AttrDesc describes one attribute of the table.
// Value is the backing storage; its length is the current length.
type AttrDesc struct {
	Kind   AttrKind
	UUID   UUID
	Perm   Perm
	MaxLen int
	Value  []byte
}

// Len returns the current length of the attribute value.
func (d *AttrDesc) Len() int { return len(d.Value) }

// An AttrDB is the fixed attribute table of the tripod service:
// service, characteristic declaration, characteristic value, CCCD.
type AttrDB struct {
	attrs [IdxNB]AttrDesc
}

// NewAttrDB builds the attribute table for a service svc holding
// the read/write/notify characteristic chr. The counter and the
// CCCD start at zero.
func NewAttrDB(svc, chr UUID) *AttrDB {
	db := &AttrDB{}
	db.attrs[IdxSvc] = AttrDesc{
		Kind:   KindService,
		UUID:   attrPrimaryServiceUUID,
		Perm:   PermRead,
		MaxLen: svc.Len(),
		Value:  svc.Bytes(),
	}
	db.attrs[IdxChar] = AttrDesc{
		Kind:   KindCharDecl,
		UUID:   attrCharacteristicUUID,
		Perm:   PermRead,
		MaxLen: 1,
		Value:  []byte{charRead | charWrite | charNotify},
	}
	db.attrs[IdxCharVal] = AttrDesc{
		Kind:   KindCharValue,
		UUID:   chr,
		Perm:   PermRead | PermWrite,
		MaxLen: valueLen,
		Value:  make([]byte, valueLen),
	}
	db.attrs[IdxCharCfg] = AttrDesc{
		Kind:   KindCCCD,
		UUID:   attrClientCharacteristicConfig,
		Perm:   PermRead | PermWrite,
		MaxLen: 2,
		Value:  make([]byte, 2),
	}
	return db
}

// Len returns the number of entries; it is always IdxNB.
func (db *AttrDB) Len() int { return len(db.attrs) }

// At returns a copy of the entry at i.
func (db *AttrDB) At(i TableIndex) AttrDesc {
	d := db.attrs[i]
	d.Value = append([]byte(nil), d.Value...)
	return d
}

// Descs returns a copy of the whole table, in order.
func (db *AttrDB) Descs() []AttrDesc {
	dd := make([]AttrDesc, 0, IdxNB)
	for i := IdxSvc; i < IdxNB; i++ {
		dd = append(dd, db.At(i))
	}
	return dd
}

// SetValue replaces the backing storage of entry i.
// It returns ErrInvalidAttrValueLen if b is longer than the entry's max length.
func (db *AttrDB) SetValue(i TableIndex, b []byte) error {
	d := &db.attrs[i]
	if len(b) > d.MaxLen {
		return errors.Wrapf(ErrInvalidAttrValueLen, "%v: %d > %d", i, len(b), d.MaxLen)
	}
	d.Value = append(d.Value[:0], b...)
	return nil
}

// Int32 decodes the characteristic value.
func (db *AttrDB) Int32() int32 {
	return decodeInt32(db.attrs[IdxCharVal].Value)
}

// CCCD decodes the client characteristic configuration.
func (db *AttrDB) CCCD() uint16 {
	v := db.attrs[IdxCharCfg].Value
	if len(v) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(v)
}

// EncodeInt32 encodes v as the 4-byte characteristic payload.
func EncodeInt32(v int32) []byte {
	b := make([]byte, valueLen)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func decodeInt32(b []byte) int32 {
	if len(b) < valueLen {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}
