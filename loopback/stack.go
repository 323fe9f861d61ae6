// Package loopback is an in-process BLE stack. It implements the
// controller, host, GATTS and GAP APIs the tripod peripheral drives,
// including the ATT auto-response layer, and a Central to connect to
// it. Callback events are queued and delivered one at a time by a
// single consumer, Run or Flush.
package loopback

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/filmmate/gatt"
)

// Errors returned by bring-up steps taken out of order.
var (
	ErrNotReady       = errors.New("loopback: previous bring-up step missing")
	ErrAlreadyRunning = errors.New("loopback: event loop already running")
	ErrModeReleased   = errors.New("loopback: controller memory for this mode was released")
)

// Options configures a Stack.
type Options struct {
	// HandleBase is the first attribute handle assigned. Defaults to 40.
	HandleBase uint16

	// TxPower is the advertised TX power level, in dBm.
	TxPower int8

	// Addr is the public device address.
	Addr [6]byte

	// NVSNewVersion makes the first NVSInit fail with
	// gatt.ErrNVSNewVersion until the storage is erased.
	NVSNewVersion bool

	// Faults injects setup failures.
	Faults Faults

	Logger logrus.FieldLogger
}

// Faults injects failures into the setup event sequence.
type Faults struct {
	CreateStatus gatt.Status // status reported by CreateEvent
	TableStatus  gatt.Status // status reported by AttrTableEvent
	TruncateBy   int         // number of handles dropped from AttrTableEvent
}

// A Stack is an in-process BLE controller and host.
type Stack struct {
	opts Options
	log  logrus.FieldLogger

	q queue

	mu sync.Mutex

	// bring-up
	nvsReady    bool
	nvsOutdated bool
	released    map[gatt.Mode]bool
	ctrlInited  bool
	ctrlMode    gatt.Mode
	hostInited  bool
	hostEnabled bool
	gattsCb     gatt.GATTSHandler
	gapCb       gatt.GAPHandler
	apps        map[uint16]gatt.GattIf
	nextIf      gatt.GattIf
	calls       []string
	running     bool

	// gatts
	nextHandle uint16
	services   map[uint16]*service
	attrs      map[uint16]*attr

	// gap
	name        string
	advData     gatt.AdvData
	advPkt      []byte
	scanRspPkt  []byte
	advParams   gatt.AdvParams
	advertising bool

	// links
	conns    map[gatt.ConnID]*Central
	nextConn gatt.ConnID
}

// New returns a powered-off Stack.
func New(opts Options) *Stack {
	if opts.HandleBase == 0 {
		opts.HandleBase = 40
	}
	if opts.Addr == ([6]byte{}) {
		opts.Addr = [6]byte{0x24, 0x0a, 0xc4, 0x00, 0x00, 0x01}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Stack{
		opts:        opts,
		log:         opts.Logger.WithField("stack", "loopback"),
		q:           newQueue(),
		nvsOutdated: opts.NVSNewVersion,
		released:    map[gatt.Mode]bool{},
		apps:        map[uint16]gatt.GattIf{},
		nextIf:      3,
		nextHandle:  opts.HandleBase,
		services:    map[uint16]*service{},
		attrs:       map[uint16]*attr{},
		conns:       map[gatt.ConnID]*Central{},
	}
}

// Run delivers queued events until ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for {
		for fn, ok := s.q.pop(); ok; fn, ok = s.q.pop() {
			fn()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.q.ready:
		}
	}
}

// Flush delivers queued events, including the ones they cause, until
// the queue is empty. It returns the number of events delivered.
// Flush must not be used while Run is active.
func (s *Stack) Flush() int {
	n := 0
	for fn, ok := s.q.pop(); ok; fn, ok = s.q.pop() {
		fn()
		n++
	}
	return n
}

// Calls returns the API calls received so far, in order.
func (s *Stack) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// record must be called with s.mu held.
func (s *Stack) record(format string, args ...interface{}) {
	c := fmt.Sprintf(format, args...)
	s.calls = append(s.calls, c)
	s.log.Debug(c)
}

// emitGATTS queues e for the registered GATTS callback.
func (s *Stack) emitGATTS(gattIf gatt.GattIf, e gatt.Event) {
	s.q.push(func() {
		s.mu.Lock()
		cb := s.gattsCb
		s.mu.Unlock()
		if cb != nil {
			cb.HandleGATTSEvent(gattIf, e)
		}
	})
}

// emitGATTSAll queues e once per registered application.
// It must be called with s.mu held.
func (s *Stack) emitGATTSAll(e gatt.Event) {
	for _, gattIf := range s.apps {
		s.emitGATTS(gattIf, e)
	}
}

func (s *Stack) emitGAP(e gatt.GAPEvent) {
	s.q.push(func() {
		s.mu.Lock()
		cb := s.gapCb
		s.mu.Unlock()
		if cb != nil {
			cb.HandleGAPEvent(e)
		}
	})
}

// NVSInit initializes the persistent storage.
func (s *Stack) NVSInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("nvs_flash_init")
	if s.nvsOutdated {
		return gatt.ErrNVSNewVersion
	}
	s.nvsReady = true
	return nil
}

// NVSErase erases the persistent storage.
func (s *Stack) NVSErase() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("nvs_flash_erase")
	s.nvsOutdated = false
	s.nvsReady = false
	return nil
}

// MemRelease releases the controller memory of mode m.
func (s *Stack) MemRelease(m gatt.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mem_release(%v)", m)
	if s.ctrlInited {
		return errors.Wrap(ErrNotReady, "memory must be released before controller init")
	}
	s.released[m] = true
	return nil
}

// ControllerInit initializes the controller.
func (s *Stack) ControllerInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("controller_init")
	if !s.nvsReady {
		return errors.Wrap(ErrNotReady, "nvs not initialized")
	}
	s.ctrlInited = true
	return nil
}

// ControllerEnable enables the controller in mode m.
func (s *Stack) ControllerEnable(m gatt.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("controller_enable(%v)", m)
	if !s.ctrlInited {
		return errors.Wrap(ErrNotReady, "controller not initialized")
	}
	if s.released[m] || (m == gatt.ModeBTDM && s.released[gatt.ModeClassicBT]) {
		return ErrModeReleased
	}
	s.ctrlMode = m
	return nil
}

// HostInit initializes the host stack.
func (s *Stack) HostInit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("host_init")
	if s.ctrlMode == gatt.ModeIdle {
		return errors.Wrap(ErrNotReady, "controller not enabled")
	}
	s.hostInited = true
	return nil
}

// HostEnable enables the host stack.
func (s *Stack) HostEnable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("host_enable")
	if !s.hostInited {
		return errors.Wrap(ErrNotReady, "host not initialized")
	}
	s.hostEnabled = true
	return nil
}

// RegisterGATTSCallback sets the GATTS event callback.
func (s *Stack) RegisterGATTSCallback(h gatt.GATTSHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_register_callback")
	if !s.hostEnabled {
		return errors.Wrap(ErrNotReady, "host not enabled")
	}
	s.gattsCb = h
	return nil
}

// RegisterGAPCallback sets the GAP event callback.
func (s *Stack) RegisterGAPCallback(h gatt.GAPHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gap_register_callback")
	if !s.hostEnabled {
		return errors.Wrap(ErrNotReady, "host not enabled")
	}
	s.gapCb = h
	return nil
}

// AppRegister registers an application; a RegEvent follows.
func (s *Stack) AppRegister(appID uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("gatts_app_register(0x%02x)", appID)
	if !s.hostEnabled {
		return errors.Wrap(ErrNotReady, "host not enabled")
	}
	gattIf, ok := s.apps[appID]
	if !ok {
		gattIf = s.nextIf
		s.nextIf++
		s.apps[appID] = gattIf
	}
	s.emitGATTS(gattIf, gatt.RegEvent{Status: gatt.StatusSuccess, AppID: appID})
	return nil
}

// queue is an unbounded FIFO of event deliveries. Pushing never
// blocks, so callbacks may issue requests that queue more events.
type queue struct {
	mu    sync.Mutex
	fns   []func()
	ready chan struct{}
}

func newQueue() queue {
	return queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fns) == 0 {
		return nil, false
	}
	fn := q.fns[0]
	q.fns[0] = nil
	q.fns = q.fns[1:]
	return fn, true
}
