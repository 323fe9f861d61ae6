package gatt

import (
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// MaxEIRPacketLength is the maximum allowed AdvertisingPacket
// and ScanResponsePacket length.
const MaxEIRPacketLength = 31

// advertising data field types
const (
	typeFlags            = 0x01 // Flags
	typeSomeUUID16       = 0x02 // Incomplete List of 16-bit Service Class UUIDs
	typeAllUUID16        = 0x03 // Complete List of 16-bit Service Class UUIDs
	typeSomeUUID128      = 0x06 // Incomplete List of 128-bit Service Class UUIDs
	typeAllUUID128       = 0x07 // Complete List of 128-bit Service Class UUIDs
	typeShortName        = 0x08 // Shortened Local Name
	typeCompleteName     = 0x09 // Complete Local Name
	typeTxPower          = 0x0A // Tx Power Level
	typeSlaveConnInt     = 0x12 // Slave Connection Interval Range
	typeManufacturerData = 0xFF // Manufacturer Specific Data
)

// Advertising flag bits.
const (
	FlagLimitedDiscoverable = 1 << iota // LE Limited Discoverable Mode
	FlagGeneralDiscoverable             // LE General Discoverable Mode
	FlagBREDRNotSupported               // BR/EDR Not Supported
)

// AdvData is the content requested from the stack's
// "configure advertising data" call.
type AdvData struct {
	SetScanRsp     bool
	IncludeName    bool
	IncludeTxPower bool
	MinInterval    uint16 // preferred connection interval, 1.25 ms units
	MaxInterval    uint16
	Appearance     uint16
	ServiceUUID    UUID
	Flags          uint8
}

// TripodAdvData returns the advertising data of the tripod profile:
// name, TX power and the 128-bit service UUID, general discoverable
// and BR/EDR not supported.
func TripodAdvData(svc UUID) AdvData {
	return AdvData{
		IncludeName:    true,
		IncludeTxPower: true,
		MinInterval:    0x0006,
		MaxInterval:    0x0010,
		ServiceUUID:    svc,
		Flags:          FlagGeneralDiscoverable | FlagBREDRNotSupported,
	}
}

// AdvType is the advertising PDU type.
type AdvType uint8

const (
	AdvTypeInd AdvType = iota // connectable undirected
	AdvTypeDirectIndHigh
	AdvTypeScanInd
	AdvTypeNonConnInd
	AdvTypeDirectIndLow
)

// OwnAddrType is the address type used in advertising packets.
type OwnAddrType uint8

const (
	OwnAddrPublic OwnAddrType = iota
	OwnAddrRandom
	OwnAddrRPAPublic
	OwnAddrRPARandom
)

// ChannelAll enables advertising channels 37, 38 and 39.
const ChannelAll uint8 = 0x07

// AdvFilterPolicy selects which scan and connection requests are accepted.
type AdvFilterPolicy uint8

const (
	FilterAllowScanAnyConnAny AdvFilterPolicy = iota
	FilterAllowScanWlstConnAny
	FilterAllowScanAnyConnWlst
	FilterAllowScanWlstConnWlst
)

// AdvParams are the parameters of a start-advertising request.
type AdvParams struct {
	IntervalMin  uint16 // 0.625 ms units
	IntervalMax  uint16
	Type         AdvType
	OwnAddrType  OwnAddrType
	ChannelMap   uint8
	FilterPolicy AdvFilterPolicy
}

// DefaultAdvParams returns the fixed tripod advertising parameters:
// 20 ms interval, connectable undirected, public address, all
// channels, scan and connect requests from any device.
func DefaultAdvParams() AdvParams {
	return AdvParams{
		IntervalMin:  0x20,
		IntervalMax:  0x20,
		Type:         AdvTypeInd,
		OwnAddrType:  OwnAddrPublic,
		ChannelMap:   ChannelAll,
		FilterPolicy: FilterAllowScanAnyConnAny,
	}
}

// Interval returns the minimum and maximum advertising intervals.
func (p AdvParams) Interval() (min, max time.Duration) {
	unit := 625 * time.Microsecond
	return time.Duration(p.IntervalMin) * unit, time.Duration(p.IntervalMax) * unit
}

// Connectable reports whether centrals may connect.
func (p AdvParams) Connectable() bool {
	return p.Type == AdvTypeInd || p.Type == AdvTypeDirectIndHigh || p.Type == AdvTypeDirectIndLow
}

// An AdvPacket is an advertising or scan response payload.
type AdvPacket struct {
	b []byte
}

// Bytes returns the packet padded to MaxEIRPacketLength.
func (p *AdvPacket) Bytes() [MaxEIRPacketLength]byte {
	var b [MaxEIRPacketLength]byte
	copy(b[:], p.b)
	return b
}

// Data returns the significant part of the packet.
func (p *AdvPacket) Data() []byte { return append([]byte(nil), p.b...) }

// Len returns the number of significant bytes.
func (p *AdvPacket) Len() int { return len(p.b) }

// AppendField appends a BLE advertising packet field.
// A field that does not fit is dropped.
func (p *AdvPacket) AppendField(typ byte, b []byte) *AdvPacket {
	// A field consists of len, typ, b.
	// Len is 1 byte for typ plus len(b).
	if len(p.b)+2+len(b) > MaxEIRPacketLength {
		return p
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	return p
}

// AppendFlags appends a flag field to the packet.
func (p *AdvPacket) AppendFlags(f byte) *AdvPacket {
	return p.AppendField(typeFlags, []byte{f})
}

// AppendName appends a name field to the packet.
// If the name fits in the space, it will be append as a complete name field, otherwise a short name field.
func (p *AdvPacket) AppendName(n string) *AdvPacket {
	typ := byte(typeCompleteName)
	if len(p.b)+2+len(n) > MaxEIRPacketLength {
		max := MaxEIRPacketLength - len(p.b) - 2
		if max <= 0 {
			return p
		}
		typ = byte(typeShortName)
		for max > 0 && !utf8.RuneStart(n[max]) {
			max--
		}
		n = n[:max]
		if n == "" {
			return p
		}
	}
	return p.AppendField(typ, []byte(n))
}

// AppendTxPower appends a TX power level field.
func (p *AdvPacket) AppendTxPower(dbm int8) *AdvPacket {
	return p.AppendField(typeTxPower, []byte{byte(dbm)})
}

// AppendConnIntervalRange appends the preferred connection interval range.
func (p *AdvPacket) AppendConnIntervalRange(min, max uint16) *AdvPacket {
	return p.AppendField(typeSlaveConnInt, []byte{byte(min), byte(min >> 8), byte(max), byte(max >> 8)})
}

// AppendUUIDFit appends a BLE advertised service UUID
// packet field if it fits in the packet, and reports
// whether the UUID fit.
func (p *AdvPacket) AppendUUIDFit(uu []UUID) bool {
	// Iterate all UUIDs to see if they fit in the packet or not.
	fit, l := true, len(p.b)
	for _, u := range uu {
		l += 2 + u.Len()
		if l > MaxEIRPacketLength {
			fit = false
			break
		}
	}

	// Append the UUIDs until they no longer fit.
	for _, u := range uu {
		if len(p.b)+2+u.Len() > MaxEIRPacketLength {
			break
		}
		switch l = u.Len(); {
		case l == 2 && fit:
			p.AppendField(typeAllUUID16, u.b)
		case l == 16 && fit:
			p.AppendField(typeAllUUID128, u.b)
		case l == 2 && !fit:
			p.AppendField(typeSomeUUID16, u.b)
		case l == 16 && !fit:
			p.AppendField(typeSomeUUID128, u.b)
		}
	}
	return fit
}

// EncodeAdvData builds the advertising packet described by d, the
// way a host stack lays it out: flags, TX power, service UUID, the
// preferred connection interval, then the device name. A name that
// does not fit is moved to the scan response, which is nil otherwise.
func EncodeAdvData(name string, txPower int8, d AdvData) (adv, scanRsp *AdvPacket) {
	adv = &AdvPacket{}
	if d.Flags != 0 {
		adv.AppendFlags(d.Flags)
	}
	if d.IncludeTxPower {
		adv.AppendTxPower(txPower)
	}
	if d.ServiceUUID.Len() > 0 {
		adv.AppendUUIDFit([]UUID{d.ServiceUUID})
	}
	if d.MinInterval != 0 && d.MaxInterval != 0 {
		adv.AppendConnIntervalRange(d.MinInterval, d.MaxInterval)
	}
	if !d.IncludeName {
		return adv, nil
	}
	if adv.Len()+2+len(name) <= MaxEIRPacketLength {
		adv.AppendName(name)
		return adv, nil
	}
	scanRsp = &AdvPacket{}
	scanRsp.AppendName(name)
	return adv, scanRsp
}

// Advertisement is a decoded advertising payload.
type Advertisement struct {
	LocalName        string
	ManufacturerData []byte
	Services         []UUID
	TxPowerLevel     int
	Flags            uint8
	HasTxPower       bool
	ConnIntervalMin  uint16
	ConnIntervalMax  uint16
}

// Unmarshal decodes an advertising or scan response payload into a,
// merging with fields already present.
func (a *Advertisement) Unmarshal(b []byte) error {
	for len(b) > 0 {
		if len(b) < 2 {
			return errors.New("invalid advertise data")
		}
		l, t := b[0], b[1]
		if l == 0 || len(b) < int(1+l) {
			return errors.New("invalid advertise data")
		}
		d := b[2 : 1+l]
		switch t {
		case typeFlags:
			if len(d) > 0 {
				a.Flags = d[0]
			}
		case typeSomeUUID16, typeAllUUID16:
			a.Services = uuidList(a.Services, d, 2)
		case typeSomeUUID128, typeAllUUID128:
			a.Services = uuidList(a.Services, d, 16)
		case typeShortName, typeCompleteName:
			a.LocalName = string(d)
		case typeTxPower:
			if len(d) > 0 {
				a.TxPowerLevel = int(int8(d[0]))
				a.HasTxPower = true
			}
		case typeSlaveConnInt:
			if len(d) == 4 {
				a.ConnIntervalMin = uint16(d[0]) | uint16(d[1])<<8
				a.ConnIntervalMax = uint16(d[2]) | uint16(d[3])<<8
			}
		case typeManufacturerData:
			a.ManufacturerData = append([]byte(nil), d...)
		}
		b = b[1+l:]
	}
	return nil
}

func uuidList(u []UUID, d []byte, w int) []UUID {
	for len(d) >= w {
		u = append(u, UUIDFromBytes(d[:w]))
		d = d[w:]
	}
	return u
}
