package loopback

import (
	"context"

	"github.com/pkg/errors"

	"github.com/filmmate/gatt"
)

// maxDeviceNameLen is the longest GAP device name the host accepts.
const maxDeviceNameLen = 248

// ErrNotAdvertising is returned by Connect when the peripheral is not
// connectable.
var ErrNotAdvertising = errors.New("loopback: peripheral is not advertising")

// SetDeviceName implements gatt.GAP.
func (s *Stack) SetDeviceName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gap_set_device_name(%q)", name)
	if len(name) > maxDeviceNameLen {
		return errors.Errorf("loopback: device name too long (%d bytes)", len(name))
	}
	s.name = name
	return nil
}

// ConfigAdvData implements gatt.GAP. The payload is built from the
// current device name; an AdvDataSetEvent follows.
func (s *Stack) ConfigAdvData(d gatt.AdvData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gap_config_adv_data(%v)", d.ServiceUUID)
	adv, rsp := gatt.EncodeAdvData(s.name, s.opts.TxPower, d)
	s.advData = d
	s.advPkt = adv.Data()
	s.scanRspPkt = nil
	if rsp != nil {
		s.scanRspPkt = rsp.Data()
	}
	s.emitGAP(gatt.AdvDataSetEvent{Status: gatt.StatusSuccess})
	return nil
}

// StartAdvertising implements gatt.GAP. Starting while already
// advertising succeeds and keeps advertising.
func (s *Stack) StartAdvertising(p gatt.AdvParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gap_start_advertising(0x%02x-0x%02x)", p.IntervalMin, p.IntervalMax)
	if p.IntervalMin < 0x20 || p.IntervalMax > 0x4000 || p.IntervalMin > p.IntervalMax {
		return errors.Errorf("loopback: invalid advertising interval 0x%x-0x%x", p.IntervalMin, p.IntervalMax)
	}
	if p.ChannelMap&gatt.ChannelAll == 0 {
		return errors.New("loopback: empty advertising channel map")
	}
	s.advParams = p
	s.advertising = true
	s.emitGAP(gatt.AdvStartEvent{Status: gatt.StatusSuccess})
	return nil
}

// Advertising reports whether the stack is advertising, and with which parameters.
func (s *Stack) Advertising() (gatt.AdvParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advParams, s.advertising
}

// AdvPayload returns the raw advertising and scan response payloads.
func (s *Stack) AdvPayload() (adv, scanRsp []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.advPkt...), append([]byte(nil), s.scanRspPkt...)
}

// A Report is the result of scanning the peripheral.
type Report struct {
	Addr        [6]byte
	Connectable bool
	Adv         gatt.Advertisement
}

// Scan returns the peripheral's advertisement, merged with its scan
// response. It blocks until the peripheral advertises or ctx is done.
func (s *Stack) Scan(ctx context.Context) (Report, error) {
	for {
		s.mu.Lock()
		on, p := s.advertising, s.advParams
		adv, rsp := s.advPkt, s.scanRspPkt
		s.mu.Unlock()
		if on {
			r := Report{Addr: s.opts.Addr, Connectable: p.Connectable()}
			if err := r.Adv.Unmarshal(adv); err != nil {
				return Report{}, errors.Wrap(err, "advertising data")
			}
			if err := r.Adv.Unmarshal(rsp); err != nil {
				return Report{}, errors.Wrap(err, "scan response")
			}
			return r, nil
		}
		min, _ := gatt.DefaultAdvParams().Interval()
		if err := sleep(ctx, min); err != nil {
			return Report{}, err
		}
	}
}
