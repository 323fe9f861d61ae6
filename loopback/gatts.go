package loopback

import (
	"github.com/pkg/errors"

	"github.com/filmmate/gatt"
)

// Errors returned by GATTS requests the stack cannot queue.
var (
	ErrUnknownInterface = errors.New("loopback: unknown gatts interface")
	ErrUnknownHandle    = errors.New("loopback: unknown attribute handle")
	ErrUnknownConn      = errors.New("loopback: unknown connection")
	ErrNotSubscribed    = errors.New("loopback: client has not enabled notifications")
	ErrPayloadTooLong   = errors.New("loopback: payload exceeds ATT_MTU-3")
)

type service struct {
	gattIf    gatt.GattIf
	id        gatt.ServiceID
	handle    uint16
	numHandle int
	started   bool
	installed bool
}

type attr struct {
	handle uint16
	svc    *service
	desc   gatt.AttrDesc
}

func (s *Stack) checkIf(gattIf gatt.GattIf) error {
	for _, i := range s.apps {
		if i == gattIf {
			return nil
		}
	}
	return errors.Wrapf(ErrUnknownInterface, "gatts_if %d", gattIf)
}

// CreateService implements gatt.GATTS.
func (s *Stack) CreateService(gattIf gatt.GattIf, id gatt.ServiceID, numHandle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_create_service(%d, %v, %d)", gattIf, id.UUID, numHandle)
	if err := s.checkIf(gattIf); err != nil {
		return err
	}
	if numHandle <= 0 {
		return errors.Errorf("loopback: invalid handle count %d", numHandle)
	}
	if st := s.opts.Faults.CreateStatus; !st.OK() {
		s.emitGATTS(gattIf, gatt.CreateEvent{Status: st, ServiceID: id})
		return nil
	}
	svc := &service{gattIf: gattIf, id: id, handle: s.nextHandle, numHandle: numHandle}
	s.services[svc.handle] = svc
	s.nextHandle += uint16(numHandle)
	s.emitGATTS(gattIf, gatt.CreateEvent{Status: gatt.StatusSuccess, ServiceHandle: svc.handle, ServiceID: id})
	return nil
}

// StartService implements gatt.GATTS.
func (s *Stack) StartService(serviceHandle uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_start_service(%d)", serviceHandle)
	svc, ok := s.services[serviceHandle]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "service handle %d", serviceHandle)
	}
	svc.started = true
	s.emitGATTS(svc.gattIf, gatt.StartEvent{Status: gatt.StatusSuccess, ServiceHandle: serviceHandle})
	return nil
}

// CreateAttrTable implements gatt.GATTS. The table is installed into a
// created service of the same interface and UUID that still has room
// for it, or into a new service otherwise. Handles are assigned in
// table order.
func (s *Stack) CreateAttrTable(gattIf gatt.GattIf, db []gatt.AttrDesc, instID uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_create_attr_tab(%d, %d entries, %d)", gattIf, len(db), instID)
	if err := s.checkIf(gattIf); err != nil {
		return err
	}
	if len(db) == 0 {
		return errors.New("loopback: empty attribute table")
	}
	svcUUID := gatt.UUIDFromBytes(db[0].Value)

	if st := s.opts.Faults.TableStatus; !st.OK() {
		s.emitGATTS(gattIf, gatt.AttrTableEvent{Status: st, SvcUUID: svcUUID, SvcInstID: instID})
		return nil
	}

	svc := s.findService(gattIf, svcUUID, len(db))
	if svc == nil {
		svc = &service{
			gattIf:    gattIf,
			id:        gatt.ServiceID{Primary: true, UUID: svcUUID, InstID: instID},
			handle:    s.nextHandle,
			numHandle: len(db),
		}
		s.services[svc.handle] = svc
		s.nextHandle += uint16(len(db))
	}
	svc.installed = true

	hh := make([]uint16, len(db))
	for i, d := range db {
		h := svc.handle + uint16(i)
		d.Value = append([]byte(nil), d.Value...)
		s.attrs[h] = &attr{handle: h, svc: svc, desc: d}
		hh[i] = h
	}
	if n := s.opts.Faults.TruncateBy; n > 0 {
		if n > len(hh) {
			n = len(hh)
		}
		hh = hh[:len(hh)-n]
	}
	s.emitGATTS(gattIf, gatt.AttrTableEvent{
		Status:    gatt.StatusSuccess,
		SvcUUID:   svcUUID,
		SvcInstID: instID,
		Handles:   hh,
	})
	return nil
}

func (s *Stack) findService(gattIf gatt.GattIf, u gatt.UUID, n int) *service {
	for _, svc := range s.services {
		if svc.gattIf == gattIf && !svc.installed && svc.numHandle >= n && svc.id.UUID.Equal(u) {
			return svc
		}
	}
	return nil
}

// SetAttrValue implements gatt.GATTS.
func (s *Stack) SetAttrValue(handle uint16, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_set_attr_value(%d, % x)", handle, value)
	a, ok := s.attrs[handle]
	if !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %d", handle)
	}
	if len(value) > a.desc.MaxLen {
		return errors.Wrapf(gatt.ErrInvalidAttrValueLen, "handle %d: %d > %d", handle, len(value), a.desc.MaxLen)
	}
	a.desc.Value = append(a.desc.Value[:0], value...)
	return nil
}

// SendIndicate implements gatt.GATTS. Notifications are delivered only
// when the client enabled them in the characteristic's CCCD.
func (s *Stack) SendIndicate(gattIf gatt.GattIf, conn gatt.ConnID, handle uint16, value []byte, needConfirm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_send_indicate(%d, %d, %d, % x, %t)", gattIf, conn, handle, value, needConfirm)
	if err := s.checkIf(gattIf); err != nil {
		return err
	}
	c, ok := s.conns[conn]
	if !ok {
		return errors.Wrapf(ErrUnknownConn, "conn_id %d", conn)
	}
	if _, ok := s.attrs[handle]; !ok {
		return errors.Wrapf(ErrUnknownHandle, "handle %d", handle)
	}
	if len(value) > int(c.mtu)-3 {
		return errors.Wrapf(ErrPayloadTooLong, "%d > %d", len(value), c.mtu-3)
	}
	flag := gatt.CCCNotifyFlag
	if needConfirm {
		flag = gatt.CCCIndicateFlag
	}
	if s.cccd(handle)&flag == 0 {
		return errors.Wrapf(ErrNotSubscribed, "handle %d", handle)
	}

	n := Notification{Handle: handle, Value: append([]byte(nil), value...), Indication: needConfirm}
	select {
	case c.notifs <- n:
	default:
		s.log.WithField("conn_id", conn).Warn("central notification queue full, dropped")
	}
	s.emitGATTS(gattIf, gatt.ConfEvent{ConnID: conn, Status: gatt.StatusSuccess, Handle: handle})
	return nil
}

// cccd returns the client configuration of the characteristic whose
// value is at handle: the CCCD attribute following it in its service.
func (s *Stack) cccd(handle uint16) uint16 {
	a, ok := s.attrs[handle+1]
	if !ok || a.desc.Kind != gatt.KindCCCD || len(a.desc.Value) < 2 {
		return 0
	}
	return uint16(a.desc.Value[0]) | uint16(a.desc.Value[1])<<8
}

// AttrValue returns the value the stack serves for handle.
func (s *Stack) AttrValue(handle uint16) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attrs[handle]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), a.desc.Value...), true
}
