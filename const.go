package gatt

// This file includes constants from the Bluetooth Core Specification
// and the fixed identifiers of the tripod profile.

var (
	attrPrimaryServiceUUID         = UUID16(0x2800)
	attrCharacteristicUUID         = UUID16(0x2803)
	attrClientCharacteristicConfig = UUID16(0x2902)
)

var (
	// ServiceUUID is the tripod counter service.
	ServiceUUID = MustParseUUID("12345678-1234-5678-1234-56789abcdef0")

	// CharUUID is the read/write/notify counter characteristic.
	CharUUID = MustParseUUID("12345678-1234-5678-1234-56789abcdef1")
)

const (
	// DefaultAppID is the application id registered with the stack.
	DefaultAppID uint16 = 0x55

	// DefaultDeviceName is the advertised GAP device name.
	DefaultDeviceName = "FilmMate Tripod"

	// SvcInstID is the service instance id used for creation and table install.
	SvcInstID uint8 = 0
)

// Do not re-order the bit flags below;
// they are organized to match the Bluetooth Core Specification.

// Characteristic property flags.
const (
	charRead    = 1 << (iota + 1) // the characteristic may be read
	charWriteNR                   // the characteristic may be written to, with no reply
	charWrite                     // the characteristic may be written to, with a reply
	charNotify                    // the characteristic supports notifications
)

// CCCD bits.
const (
	CCCNotifyFlag   uint16 = 1
	CCCIndicateFlag uint16 = 2
)

// valueLen is the size of the characteristic value: a signed 32-bit integer.
const valueLen = 4
