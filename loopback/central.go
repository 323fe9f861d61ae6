package loopback

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/filmmate/gatt"
)

const (
	defaultMTU = 23
	serverMTU  = 517

	// maxPrepQueue is the number of prepared writes queued per link.
	maxPrepQueue = 32

	// gattsReadEvt is the stack code of a read served by the auto-response layer.
	gattsReadEvt = 1

	// reasonRemoteTerminated is the HCI reason reported when the central disconnects.
	reasonRemoteTerminated = 0x13
)

// ErrDisconnected is returned by operations on a closed link.
var ErrDisconnected = errors.New("loopback: disconnected")

// Property is a characteristic property bit, as found in the
// characteristic declaration.
type Property uint8

const (
	PropRead    Property = 0x02
	PropWriteNR Property = 0x04
	PropWrite   Property = 0x08
	PropNotify  Property = 0x10
)

// A Notification is a value pushed by the peripheral.
type Notification struct {
	Handle     uint16
	Value      []byte
	Indication bool
}

// A Service is a service found by discovery.
type Service struct {
	UUID            gatt.UUID
	Handle          uint16
	EndHandle       uint16
	Characteristics []Characteristic
}

// A Characteristic is a characteristic found by discovery.
// CCCDHandle is zero when the characteristic has no CCCD.
type Characteristic struct {
	UUID        gatt.UUID
	Properties  Property
	DeclHandle  uint16
	ValueHandle uint16
	CCCDHandle  uint16
}

// Has reports whether all properties in p are set.
func (c Characteristic) Has(p Property) bool { return c.Properties&p == p }

type prepWrite struct {
	handle uint16
	offset uint16
	value  []byte
}

// A Central is a client link to the stack's peripheral.
type Central struct {
	st     *Stack
	conn   gatt.ConnID
	addr   [6]byte
	log    logrus.FieldLogger
	notifs chan Notification

	// guarded by st.mu
	mtu     uint16
	prep    []prepWrite
	closed  bool
	transID uint32
}

// Connect opens a link from a central at addr. The peripheral must be
// advertising connectably; advertising stops once connected.
func (s *Stack) Connect(addr [6]byte) (*Central, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("connect(% x)", addr)
	if !s.advertising || !s.advParams.Connectable() {
		return nil, ErrNotAdvertising
	}
	s.advertising = false
	c := &Central{
		st:     s,
		conn:   s.nextConn,
		addr:   addr,
		log:    s.log.WithField("conn_id", s.nextConn),
		notifs: make(chan Notification, 16),
		mtu:    defaultMTU,
	}
	s.conns[c.conn] = c
	s.nextConn++
	s.emitGATTSAll(gatt.ConnectEvent{ConnID: c.conn, Addr: addr})
	return c, nil
}

// ConnID returns the link's connection id.
func (c *Central) ConnID() gatt.ConnID { return c.conn }

// Notifications returns the channel of values pushed to this central.
// It is closed on Disconnect.
func (c *Central) Notifications() <-chan Notification { return c.notifs }

// Disconnect closes the link.
func (c *Central) Disconnect() error {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	s.record("disconnect(%d)", c.conn)
	c.closed = true
	delete(s.conns, c.conn)
	close(c.notifs)
	s.emitGATTSAll(gatt.DisconnectEvent{ConnID: c.conn, Reason: reasonRemoteTerminated})
	return nil
}

// ExchangeMTU negotiates the ATT MTU and returns the agreed value.
func (c *Central) ExchangeMTU(mtu uint16) (uint16, error) {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return 0, ErrDisconnected
	}
	if mtu < defaultMTU {
		return 0, attErr(attOpMtuReq, 0, gatt.StatusInvalidPDU)
	}
	if mtu > serverMTU {
		mtu = serverMTU
	}
	c.mtu = mtu
	s.emitGATTSAll(gatt.MTUEvent{ConnID: c.conn, MTU: mtu})
	return mtu, nil
}

// Discover returns the services installed on the peripheral, in handle order.
func (c *Central) Discover() ([]Service, error) {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	var hh []uint16
	for h := range s.attrs {
		hh = append(hh, h)
	}
	sort.Slice(hh, func(i, j int) bool { return hh[i] < hh[j] })

	var ss []Service
	for _, h := range hh {
		a := s.attrs[h]
		switch a.desc.Kind {
		case gatt.KindService:
			ss = append(ss, Service{
				UUID:      gatt.UUIDFromBytes(a.desc.Value),
				Handle:    h,
				EndHandle: a.svc.handle + uint16(a.svc.numHandle) - 1,
			})
		case gatt.KindCharDecl:
			if len(ss) == 0 || len(a.desc.Value) == 0 {
				continue
			}
			ch := Characteristic{Properties: Property(a.desc.Value[0]), DeclHandle: h}
			if v, ok := s.attrs[h+1]; ok && v.desc.Kind == gatt.KindCharValue {
				ch.UUID = v.desc.UUID
				ch.ValueHandle = v.handle
			}
			if d, ok := s.attrs[h+2]; ok && d.desc.Kind == gatt.KindCCCD {
				ch.CCCDHandle = d.handle
			}
			last := &ss[len(ss)-1]
			last.Characteristics = append(last.Characteristics, ch)
		}
	}
	return ss, nil
}

// lookup must be called with st.mu held.
func (c *Central) lookup(op byte, handle uint16) (*attr, error) {
	if c.closed {
		return nil, ErrDisconnected
	}
	a, ok := c.st.attrs[handle]
	if !ok {
		return nil, attErr(op, handle, gatt.StatusInvalidHandle)
	}
	return a, nil
}

// Read reads the value the stack serves for handle.
func (c *Central) Read(handle uint16) ([]byte, error) {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := c.lookup(attOpReadReq, handle)
	if err != nil {
		return nil, err
	}
	if !a.desc.Perm.Read() {
		return nil, attErr(attOpReadReq, handle, gatt.StatusReadNotPerm)
	}
	v := a.desc.Value
	if n := int(c.mtu) - 1; len(v) > n {
		v = v[:n]
	}
	s.emitGATTS(a.svc.gattIf, gatt.UnhandledEvent{Code: gattsReadEvt})
	return append([]byte(nil), v...), nil
}

// checkWrite must be called with st.mu held.
func (c *Central) checkWrite(op byte, handle uint16, value []byte) (*attr, error) {
	a, err := c.lookup(op, handle)
	if err != nil {
		return nil, err
	}
	if !a.desc.Perm.Write() {
		return nil, attErr(op, handle, gatt.StatusWriteNotPerm)
	}
	if len(value) > a.desc.MaxLen || len(value) > int(c.mtu)-3 {
		return nil, attErr(op, handle, gatt.StatusInvalAttrValueLen)
	}
	return a, nil
}

// write must be called with st.mu held.
func (c *Central) write(op byte, handle uint16, value []byte, needRsp bool) error {
	a, err := c.checkWrite(op, handle, value)
	if err != nil {
		return err
	}
	a.desc.Value = append(a.desc.Value[:0], value...)
	c.transID++
	c.st.emitGATTS(a.svc.gattIf, gatt.WriteEvent{
		ConnID:  c.conn,
		TransID: c.transID,
		Addr:    c.addr,
		Handle:  handle,
		NeedRsp: needRsp,
		Value:   append([]byte(nil), value...),
	})
	return nil
}

// Write sends a write request. The auto-response layer stores the
// value and answers; the application sees a WriteEvent. A value the
// application then drops, such as one of the wrong length, stays
// stored and is returned by Read until the next SetAttrValue.
func (c *Central) Write(handle uint16, value []byte) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("write_req(%d, %d, % x)", c.conn, handle, value)
	return c.write(attOpWriteReq, handle, value, true)
}

// WriteCommand sends a write without response. Rejected commands are
// dropped without an error, as no response exists to carry one.
func (c *Central) WriteCommand(handle uint16, value []byte) error {
	c.st.mu.Lock()
	defer c.st.mu.Unlock()
	c.st.record("write_cmd(%d, %d, % x)", c.conn, handle, value)
	if c.closed {
		return ErrDisconnected
	}
	if err := c.write(attOpWriteCmd, handle, value, false); err != nil {
		c.log.WithError(err).Debug("write command dropped")
	}
	return nil
}

// PrepareWrite queues part of a long write.
func (c *Central) PrepareWrite(handle, offset uint16, value []byte) error {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("prep_write_req(%d, %d, %d, % x)", c.conn, handle, offset, value)
	a, err := c.lookup(attOpPrepWriteReq, handle)
	if err != nil {
		return err
	}
	if !a.desc.Perm.Write() {
		return attErr(attOpPrepWriteReq, handle, gatt.StatusWriteNotPerm)
	}
	if len(c.prep) >= maxPrepQueue {
		return attErr(attOpPrepWriteReq, handle, gatt.StatusPrepQueueFull)
	}
	v := append([]byte(nil), value...)
	c.prep = append(c.prep, prepWrite{handle: handle, offset: offset, value: v})
	c.transID++
	s.emitGATTS(a.svc.gattIf, gatt.WriteEvent{
		ConnID:  c.conn,
		TransID: c.transID,
		Addr:    c.addr,
		Handle:  handle,
		Offset:  offset,
		NeedRsp: true,
		IsPrep:  true,
		Value:   append([]byte(nil), value...),
	})
	return nil
}

// ExecuteWrite applies (commit) or discards the queued prepared writes.
// Values are assembled at their offsets and checked against the
// attributes' max lengths before any is stored.
func (c *Central) ExecuteWrite(commit bool) error {
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("exec_write_req(%d, %t)", c.conn, commit)
	if c.closed {
		return ErrDisconnected
	}
	prep := c.prep
	c.prep = nil

	if commit && len(prep) > 0 {
		vals := map[uint16][]byte{}
		for _, p := range prep {
			a := s.attrs[p.handle]
			cur, ok := vals[p.handle]
			if !ok {
				cur = append([]byte(nil), a.desc.Value...)
			}
			if int(p.offset) > len(cur) {
				return attErr(attOpExecWriteReq, p.handle, gatt.StatusInvalidOffset)
			}
			cur = append(cur[:p.offset], p.value...)
			if len(cur) > a.desc.MaxLen {
				return attErr(attOpExecWriteReq, p.handle, gatt.StatusInvalAttrValueLen)
			}
			vals[p.handle] = cur
		}
		for h, v := range vals {
			s.attrs[h].desc.Value = v
		}
	}
	c.transID++
	s.emitGATTSAll(gatt.ExecWriteEvent{ConnID: c.conn, TransID: c.transID, Commit: commit})
	return nil
}

// Subscribe enables notifications of ch by writing its CCCD.
func (c *Central) Subscribe(ch Characteristic) error {
	if ch.CCCDHandle == 0 {
		return errors.Errorf("loopback: characteristic %v has no cccd", ch.UUID)
	}
	return c.Write(ch.CCCDHandle, []byte{byte(gatt.CCCNotifyFlag), 0})
}

// Unsubscribe disables notifications of ch.
func (c *Central) Unsubscribe(ch Characteristic) error {
	if ch.CCCDHandle == 0 {
		return errors.Errorf("loopback: characteristic %v has no cccd", ch.UUID)
	}
	return c.Write(ch.CCCDHandle, []byte{0, 0})
}

// WaitNotification returns the next notification, or an error when ctx
// is done or the link is closed.
func (c *Central) WaitNotification(ctx context.Context) (Notification, error) {
	select {
	case n, ok := <-c.notifs:
		if !ok {
			return Notification{}, ErrDisconnected
		}
		return n, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
