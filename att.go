package gatt

import "fmt"

// A Status is a GATT/ATT status code reported by the stack
// in setup events and in ATT error responses.
type Status uint8

// Supported statuses. The values match the ATT error codes.
const (
	StatusSuccess             Status = 0x00
	StatusInvalidHandle       Status = 0x01
	StatusReadNotPerm         Status = 0x02
	StatusWriteNotPerm        Status = 0x03
	StatusInvalidPDU          Status = 0x04
	StatusReqNotSupp          Status = 0x06
	StatusInvalidOffset       Status = 0x07
	StatusPrepQueueFull       Status = 0x09
	StatusAttrNotFound        Status = 0x0a
	StatusAttrNotLong         Status = 0x0b
	StatusInvalAttrValueLen   Status = 0x0d
	StatusUnexpectedError     Status = 0x0e
	StatusInsuffResources     Status = 0x11
	StatusError               Status = 0x85 // generic stack failure
	StatusNoResources         Status = 0x80
	StatusInvalidConnectionID Status = 0x83
)

var statusName = map[Status]string{
	StatusSuccess:             "success",
	StatusInvalidHandle:       "invalid handle",
	StatusReadNotPerm:         "read not permitted",
	StatusWriteNotPerm:        "write not permitted",
	StatusInvalidPDU:          "invalid pdu",
	StatusReqNotSupp:          "request not supported",
	StatusInvalidOffset:       "invalid offset",
	StatusPrepQueueFull:       "prepare queue full",
	StatusAttrNotFound:        "attribute not found",
	StatusAttrNotLong:         "attribute not long",
	StatusInvalAttrValueLen:   "invalid attribute value length",
	StatusUnexpectedError:     "unlikely error",
	StatusInsuffResources:     "insufficient resources",
	StatusError:               "error",
	StatusNoResources:         "no resources",
	StatusInvalidConnectionID: "invalid connection id",
}

func (s Status) String() string {
	if n, ok := statusName[s]; ok {
		return n
	}
	return fmt.Sprintf("status(0x%02x)", uint8(s))
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }
