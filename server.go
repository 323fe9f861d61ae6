package gatt

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// A Server is the GATTS side of the tripod profile. It drives the
// setup sequence (registration, service creation, attribute table
// installation) and serves the counter characteristic: a 4-byte
// write of v to the value handle stores v+1 and notifies it back on
// the writer's connection.
//
// HandleGATTSEvent may be called from any goroutine; events are
// processed one at a time.
type Server struct {
	gatts GATTS
	gap   GAP
	log   logrus.FieldLogger

	name    string
	svcUUID UUID
	chrUUID UUID

	mu      sync.Mutex
	profile Profile
	db      *AttrDB
	bound   bool // the profile accepted a registration event
}

// NewServer creates a Server issuing requests to gatts and gap.
// See also Server.Option.
func NewServer(gatts GATTS, gap GAP, opts ...Option) *Server {
	s := &Server{
		gatts:   gatts,
		gap:     gap,
		log:     logrus.StandardLogger(),
		name:    DefaultDeviceName,
		svcUUID: ServiceUUID,
		chrUUID: CharUUID,
		profile: newProfile(DefaultAppID),
	}
	s.Option(opts...)
	s.db = NewAttrDB(s.svcUUID, s.chrUUID)
	return s
}

// An Option configures a Server.
// It returns an option to restore the last arg's previous value.
type Option func(*Server) Option

// Option sets the options specified.
// Options must be set before the first event is dispatched.
func (s *Server) Option(opts ...Option) (prev Option) {
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// AppID sets the application id the server answers to.
func AppID(id uint16) Option {
	return func(s *Server) Option {
		prev := s.profile.AppID
		s.profile.AppID = id
		return AppID(prev)
	}
}

// Name sets the advertised device name.
func Name(n string) Option {
	return func(s *Server) Option {
		prev := s.name
		s.name = n
		return Name(prev)
	}
}

// Logger sets the logger.
func Logger(l logrus.FieldLogger) Option {
	return func(s *Server) Option {
		prev := s.log
		s.log = l
		return Logger(prev)
	}
}

// Services sets the service and characteristic UUIDs.
// It must be used with NewServer, before the attribute table is built.
func Services(svc, chr UUID) Option {
	return func(s *Server) Option {
		psvc, pchr := s.svcUUID, s.chrUUID
		s.svcUUID, s.chrUUID = svc, chr
		return Services(psvc, pchr)
	}
}

// HandleGATTSEvent implements GATTSHandler. It plays the role of the
// stack-wide dispatcher (binding the profile on its registration
// event) and of the profile callback.
func (s *Server) HandleGATTSEvent(gattIf GattIf, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := e.(RegEvent); ok && reg.AppID == s.profile.AppID {
		s.bound = true
	}
	if !s.bound {
		s.log.WithFields(logrus.Fields{
			"event":    EventName(e),
			"gatts_if": gattIf,
		}).Debug("event for a foreign profile ignored")
		return
	}
	if _, reg := e.(RegEvent); !reg && gattIf != GattIfNone && gattIf != s.profile.GattIf {
		s.log.WithFields(logrus.Fields{
			"event":    EventName(e),
			"gatts_if": gattIf,
			"want_if":  s.profile.GattIf,
		}).Debug("event for a foreign interface ignored")
		return
	}
	s.dispatch(gattIf, e)
}

func (s *Server) dispatch(gattIf GattIf, e Event) {
	log := s.log.WithField("event", EventName(e))
	switch e := e.(type) {
	case RegEvent:
		s.handleReg(log, gattIf, e)
	case CreateEvent:
		s.handleCreate(log, e)
	case AttrTableEvent:
		s.handleAttrTable(log, e)
	case StartEvent:
		log.WithFields(logrus.Fields{"status": e.Status, "handle": e.ServiceHandle}).Debug("service started")
	case WriteEvent:
		s.handleWrite(log, e)
	case ExecWriteEvent:
		log.WithField("conn_id", e.ConnID).Info("execute write ignored: long writes are not supported")
	case ConnectEvent:
		log.WithField("conn_id", e.ConnID).Info("connected")
	case DisconnectEvent:
		log.WithFields(logrus.Fields{"conn_id": e.ConnID, "reason": e.Reason}).Info("disconnected")
	case MTUEvent:
		log.WithFields(logrus.Fields{"conn_id": e.ConnID, "mtu": e.MTU}).Debug("mtu exchanged")
	case ConfEvent:
		log.WithFields(logrus.Fields{"conn_id": e.ConnID, "status": e.Status}).Debug("notification sent")
	case UnhandledEvent:
		log.WithField("code", e.Code).Debug("unhandled event")
	default:
		log.Warnf("unknown event type %T", e)
	}
}

func (s *Server) handleReg(log logrus.FieldLogger, gattIf GattIf, e RegEvent) {
	if e.AppID != s.profile.AppID {
		log.WithField("app_id", e.AppID).Debug("registration for a foreign app id ignored")
		return
	}
	if !e.Status.OK() {
		log.WithField("status", e.Status).Error("app registration failed")
		return
	}
	s.profile.GattIf = gattIf
	s.profile.ServiceID = ServiceID{Primary: true, UUID: s.svcUUID, InstID: SvcInstID}
	log.WithField("gatts_if", gattIf).Info("app registered")

	if err := s.gatts.CreateService(gattIf, s.profile.ServiceID, int(IdxNB)); err != nil {
		log.WithError(err).Error("create service request failed")
	}
	if err := s.gap.SetDeviceName(s.name); err != nil {
		log.WithError(err).Warn("set device name request failed")
	}
	if err := s.gap.ConfigAdvData(TripodAdvData(s.svcUUID)); err != nil {
		log.WithError(err).Warn("config adv data request failed")
	}
}

func (s *Server) handleCreate(log logrus.FieldLogger, e CreateEvent) {
	if !e.Status.OK() {
		log.WithField("status", e.Status).Error("service creation failed, setup stalled")
		return
	}
	if s.profile.GattIf == GattIfNone {
		log.Error("service created before registration, ignored")
		return
	}
	s.profile.ServiceHandle = MakeHandle(e.ServiceHandle)
	log.WithField("handle", s.profile.ServiceHandle).Info("service created")

	if err := s.gatts.StartService(e.ServiceHandle); err != nil {
		log.WithError(err).Error("start service request failed")
	}
	if err := s.gatts.CreateAttrTable(s.profile.GattIf, s.db.Descs(), SvcInstID); err != nil {
		log.WithError(err).Error("create attribute table request failed")
	}
}

func (s *Server) handleAttrTable(log logrus.FieldLogger, e AttrTableEvent) {
	if !e.Status.OK() {
		log.WithField("status", e.Status).Error("attribute table installation failed, setup stalled")
		return
	}
	if e.NumHandle() != int(IdxNB) {
		log.WithFields(logrus.Fields{
			"num_handle": e.NumHandle(),
			"want":       int(IdxNB),
		}).Error("attribute table handle count mismatch, setup stalled")
		return
	}
	if e.SvcUUID.Len() > 0 && !e.SvcUUID.Equal(s.svcUUID) {
		log.WithField("uuid", e.SvcUUID).Debug("attribute table of another service ignored")
		return
	}
	if !s.profile.ServiceHandle.Valid() {
		log.Error("attribute table installed before service creation, ignored")
		return
	}
	r := &handleRange{hh: append([]uint16(nil), e.Handles...), base: e.Handles[IdxSvc]}
	s.profile.handles = r
	s.profile.CharHandle = r.At(IdxCharVal)
	log.WithFields(logrus.Fields{
		"char_handle": s.profile.CharHandle,
		"cccd_handle": r.At(IdxCharCfg),
	}).Info("attribute table installed, profile ready")
}

func (s *Server) handleWrite(log logrus.FieldLogger, e WriteEvent) {
	log = log.WithFields(logrus.Fields{
		"conn_id": e.ConnID,
		"handle":  e.Handle,
		"len":     len(e.Value),
	})
	if e.IsPrep {
		log.Info("prepare write ignored: long writes are not supported")
		return
	}
	if !s.profile.Ready() {
		log.Warn("write before profile is ready ignored")
		return
	}
	if h := s.profile.CCCDHandle(); h.Is(e.Handle) {
		s.handleCCCDWrite(log, e)
		return
	}
	if !s.profile.CharHandle.Is(e.Handle) {
		log.Debug("write to another handle ignored")
		return
	}
	if len(e.Value) != valueLen {
		log.Warn("write with bad length dropped")
		return
	}

	received := decodeInt32(e.Value)
	// int32 addition wraps: MaxInt32 + 1 == MinInt32.
	response := received + 1
	s.profile.Value = response
	payload := EncodeInt32(response)
	if err := s.db.SetValue(IdxCharVal, payload); err != nil {
		log.WithError(err).Error("update attribute database failed")
		return
	}
	log = log.WithFields(logrus.Fields{"received": received, "value": response})
	if err := s.gatts.SetAttrValue(e.Handle, payload); err != nil {
		log.WithError(err).Warn("set attribute value request failed")
	}
	if err := s.gatts.SendIndicate(s.profile.GattIf, e.ConnID, e.Handle, payload, false); err != nil {
		log.WithError(err).Warn("send notification failed")
		return
	}
	log.Info("counter incremented and notified")
}

func (s *Server) handleCCCDWrite(log logrus.FieldLogger, e WriteEvent) {
	if len(e.Value) != 2 {
		log.Warn("cccd write with bad length dropped")
		return
	}
	if err := s.db.SetValue(IdxCharCfg, e.Value); err != nil {
		log.WithError(err).Error("update attribute database failed")
		return
	}
	s.profile.CCCD = s.db.CCCD()
	log.WithField("cccd", s.profile.CCCD).Info("client configuration updated")
}

// Profile returns a snapshot of the profile state.
func (s *Server) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Value returns the current counter value.
func (s *Server) Value() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Value
}

// Ready reports whether the characteristic value handle is known.
func (s *Server) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Ready()
}

// Table returns a copy of the attribute table.
func (s *Server) Table() []AttrDesc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Descs()
}

// DeviceName returns the advertised device name.
func (s *Server) DeviceName() string { return s.name }
