package gatt

import "fmt"

// An Event is a GATTS callback event emitted by the stack.
// The set of events is closed; see the types below.
type Event interface {
	gattsEvent()
}

// RegEvent reports that an application registered.
type RegEvent struct {
	Status Status
	AppID  uint16
}

// CreateEvent reports that a service was created.
type CreateEvent struct {
	Status        Status
	ServiceHandle uint16
	ServiceID     ServiceID
}

// AttrTableEvent reports that an attribute table was installed.
// Handles are in table order.
type AttrTableEvent struct {
	Status    Status
	SvcUUID   UUID
	SvcInstID uint8
	Handles   []uint16
}

// NumHandle returns the number of installed handles.
func (e AttrTableEvent) NumHandle() int { return len(e.Handles) }

// StartEvent reports that a service was started.
type StartEvent struct {
	Status        Status
	ServiceHandle uint16
}

// WriteEvent reports a client write.
// IsPrep is set for prepare-write (long write) requests.
type WriteEvent struct {
	ConnID  ConnID
	TransID uint32
	Addr    [6]byte
	Handle  uint16
	Offset  uint16
	NeedRsp bool
	IsPrep  bool
	Value   []byte
}

// ExecWriteEvent reports an execute-write request ending a long write.
type ExecWriteEvent struct {
	ConnID  ConnID
	TransID uint32
	Commit  bool
}

// ConnectEvent reports a new link.
type ConnectEvent struct {
	ConnID ConnID
	Addr   [6]byte
}

// DisconnectEvent reports a lost link.
type DisconnectEvent struct {
	ConnID ConnID
	Reason uint8
}

// MTUEvent reports an MTU exchange.
type MTUEvent struct {
	ConnID ConnID
	MTU    uint16
}

// ConfEvent reports that a notification or indication was sent.
type ConfEvent struct {
	ConnID ConnID
	Status Status
	Handle uint16
}

// UnhandledEvent carries any other stack event code.
type UnhandledEvent struct {
	Code int
}

func (RegEvent) gattsEvent()        {}
func (CreateEvent) gattsEvent()     {}
func (AttrTableEvent) gattsEvent()  {}
func (StartEvent) gattsEvent()      {}
func (WriteEvent) gattsEvent()      {}
func (ExecWriteEvent) gattsEvent()  {}
func (ConnectEvent) gattsEvent()    {}
func (DisconnectEvent) gattsEvent() {}
func (MTUEvent) gattsEvent()        {}
func (ConfEvent) gattsEvent()       {}
func (UnhandledEvent) gattsEvent()  {}

// EventName returns a short name of e, for logging.
func EventName(e Event) string {
	switch e := e.(type) {
	case RegEvent:
		return "REG"
	case CreateEvent:
		return "CREATE"
	case AttrTableEvent:
		return "CREAT_ATTR_TAB"
	case StartEvent:
		return "START"
	case WriteEvent:
		return "WRITE"
	case ExecWriteEvent:
		return "EXEC_WRITE"
	case ConnectEvent:
		return "CONNECT"
	case DisconnectEvent:
		return "DISCONNECT"
	case MTUEvent:
		return "MTU"
	case ConfEvent:
		return "CONF"
	case UnhandledEvent:
		return fmt.Sprintf("UNHANDLED(%d)", e.Code)
	}
	return fmt.Sprintf("%T", e)
}

// A GAPEvent is a GAP callback event emitted by the stack.
type GAPEvent interface {
	gapEvent()
}

// AdvDataSetEvent reports that advertising data was configured.
type AdvDataSetEvent struct {
	Status Status
}

// AdvStartEvent reports the completion of a start-advertising request.
type AdvStartEvent struct {
	Status Status
}

// AdvStopEvent reports the completion of a stop-advertising request.
type AdvStopEvent struct {
	Status Status
}

// UnhandledGAPEvent carries any other GAP event code.
type UnhandledGAPEvent struct {
	Code int
}

func (AdvDataSetEvent) gapEvent()   {}
func (AdvStartEvent) gapEvent()     {}
func (AdvStopEvent) gapEvent()      {}
func (UnhandledGAPEvent) gapEvent() {}

// GATTSHandler receives GATTS events.
type GATTSHandler interface {
	HandleGATTSEvent(gattIf GattIf, e Event)
}

// GAPHandler receives GAP events.
type GAPHandler interface {
	HandleGAPEvent(e GAPEvent)
}

// GATTSHandlerFunc is an adapter to allow the use of
// ordinary functions as GATTSHandlers.
type GATTSHandlerFunc func(gattIf GattIf, e Event)

// HandleGATTSEvent calls f(gattIf, e).
func (f GATTSHandlerFunc) HandleGATTSEvent(gattIf GattIf, e Event) { f(gattIf, e) }

// GAPHandlerFunc is an adapter to allow the use of
// ordinary functions as GAPHandlers.
type GAPHandlerFunc func(e GAPEvent)

// HandleGAPEvent calls f(e).
func (f GAPHandlerFunc) HandleGAPEvent(e GAPEvent) { f(e) }
