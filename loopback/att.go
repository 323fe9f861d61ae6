package loopback

import (
	"fmt"

	"github.com/filmmate/gatt"
)

const (
	attOpError         = 0x01
	attOpMtuReq        = 0x02
	attOpReadReq       = 0x0a
	attOpWriteReq      = 0x12
	attOpWriteCmd      = 0x52
	attOpPrepWriteReq  = 0x16
	attOpExecWriteReq  = 0x18
	attOpHandleNotify  = 0x1b
	attOpHandleInd     = 0x1d
	attOpReadByTypeReq = 0x08
)

var attOpName = map[byte]string{
	attOpMtuReq:        "mtu",
	attOpReadReq:       "read",
	attOpWriteReq:      "write",
	attOpWriteCmd:      "write command",
	attOpPrepWriteReq:  "prepare write",
	attOpExecWriteReq:  "execute write",
	attOpHandleNotify:  "notify",
	attOpHandleInd:     "indicate",
	attOpReadByTypeReq: "read by type",
}

// An ATTError is the error response the auto-response layer
// sends for a rejected request.
type ATTError struct {
	Opcode byte
	Handle uint16
	Status gatt.Status
}

func (e *ATTError) Error() string {
	return fmt.Sprintf("att: %s handle 0x%04x: %v", attOpName[e.Opcode], e.Handle, e.Status)
}

// Marshal returns the ATT error response PDU.
func (e *ATTError) Marshal() []byte {
	// little-endian encoding for handle
	return []byte{attOpError, e.Opcode, byte(e.Handle), byte(e.Handle >> 8), byte(e.Status)}
}

func attErr(op byte, h uint16, s gatt.Status) error {
	return &ATTError{Opcode: op, Handle: h, Status: s}
}
