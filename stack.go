package gatt

import "context"

// GATTS is the server API of the BLE host stack. Every call is a
// request: it returns once the request is queued, and its completion
// is reported later as an Event.
type GATTS interface {
	// CreateService requests creation of a service with room for numHandle attributes.
	CreateService(gattIf GattIf, id ServiceID, numHandle int) error

	// StartService requests that the service be started.
	StartService(serviceHandle uint16) error

	// CreateAttrTable requests installation of the attribute table under
	// the service instance instID.
	CreateAttrTable(gattIf GattIf, db []AttrDesc, instID uint8) error

	// SetAttrValue replaces the value the stack serves for handle.
	SetAttrValue(handle uint16, value []byte) error

	// SendIndicate sends value on conn as a notification, or as an
	// indication if needConfirm is set.
	SendIndicate(gattIf GattIf, conn ConnID, handle uint16, value []byte, needConfirm bool) error
}

// GAP is the advertising API of the BLE host stack.
type GAP interface {
	SetDeviceName(name string) error
	ConfigAdvData(d AdvData) error
	StartAdvertising(p AdvParams) error
}

// A Mode selects a controller mode.
type Mode uint8

const (
	ModeIdle Mode = iota
	ModeBLE
	ModeClassicBT
	ModeBTDM
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeBLE:
		return "ble"
	case ModeClassicBT:
		return "classic"
	case ModeBTDM:
		return "dual"
	}
	return "unknown"
}

// A Controller brings up the radio, the host stack and the
// persistent storage, and wires the event callbacks.
type Controller interface {
	NVSInit() error
	NVSErase() error
	MemRelease(m Mode) error
	ControllerInit() error
	ControllerEnable(m Mode) error
	HostInit() error
	HostEnable() error
	RegisterGATTSCallback(h GATTSHandler) error
	RegisterGAPCallback(h GAPHandler) error
	AppRegister(appID uint16) error
}

// A Runner delivers queued stack events until ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}
