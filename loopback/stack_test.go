package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filmmate/gatt"
)

var central = [6]byte{0xc0, 0xff, 0xee, 0x00, 0x00, 0x01}

// newTestPeripheral boots a peripheral on a fresh stack and delivers
// the setup events.
func newTestPeripheral(t *testing.T, opts Options) (*Stack, *gatt.Peripheral, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	opts.Logger = log
	st := New(opts)
	p := gatt.NewPeripheral(st, st, gatt.Logger(log))
	require.NoError(t, gatt.Bootstrap(context.Background(), st, p))
	st.Flush()
	return st, p, hook
}

// connect returns a central subscribed to the counter characteristic.
func connect(t *testing.T, st *Stack) (*Central, Characteristic) {
	t.Helper()
	c, err := st.Connect(central)
	require.NoError(t, err)
	ss, err := c.Discover()
	require.NoError(t, err)
	require.Len(t, ss, 1)
	require.Len(t, ss[0].Characteristics, 1)
	ch := ss[0].Characteristics[0]
	require.NoError(t, c.Subscribe(ch))
	st.Flush()
	return c, ch
}

func TestSetupHandles(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{})
	require.True(t, p.Ready())

	prof := p.Profile()
	assert.Equal(t, gatt.GattIf(3), prof.GattIf)
	assert.True(t, prof.ServiceHandle.Is(40))
	assert.True(t, prof.CharHandle.Is(42))
	assert.True(t, prof.CCCDHandle().Is(43))

	assert.Equal(t, []string{
		"nvs_flash_init",
		"mem_release(classic)",
		"controller_init",
		"controller_enable(ble)",
		"host_init",
		"host_enable",
		"gatts_register_callback",
		"gap_register_callback",
		"gatts_app_register(0x55)",
		"gatts_create_service(3, " + gatt.ServiceUUID.String() + ", 4)",
		`gap_set_device_name("FilmMate Tripod")`,
		"gap_config_adv_data(" + gatt.ServiceUUID.String() + ")",
		"gatts_start_service(40)",
		"gatts_create_attr_tab(3, 4 entries, 0)",
		"gap_start_advertising(0x20-0x20)",
	}, st.Calls())
}

func TestSetupHandleBase(t *testing.T) {
	_, p, _ := newTestPeripheral(t, Options{HandleBase: 10})
	prof := p.Profile()
	assert.True(t, prof.ServiceHandle.Is(10))
	assert.True(t, prof.CharHandle.Is(12))
}

func TestScenario(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{HandleBase: 10})
	c, ch := connect(t, st)
	require.Equal(t, uint16(12), ch.ValueHandle)

	require.NoError(t, c.Write(12, []byte{0x05, 0, 0, 0}))
	st.Flush()

	assert.Equal(t, int32(6), p.Value())
	n, err := c.WaitNotification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Notification{Handle: 12, Value: []byte{0x06, 0, 0, 0}}, n)

	v, err := c.Read(12)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x06, 0, 0, 0}, v)
}

func TestAdvertising(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{TxPower: 3})

	params, on := st.Advertising()
	require.True(t, on)
	assert.Equal(t, gatt.DefaultAdvParams(), params)
	assert.Equal(t, 1, p.Adv.Starts())
	assert.Equal(t, gatt.AdvAdvertising, p.Adv.State())

	r, err := st.Scan(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Connectable)
	assert.Equal(t, "FilmMate Tripod", r.Adv.LocalName)
	require.Len(t, r.Adv.Services, 1)
	assert.True(t, r.Adv.Services[0].Equal(gatt.ServiceUUID))
	assert.Equal(t, 3, r.Adv.TxPowerLevel)

	adv, rsp := st.AdvPayload()
	assert.LessOrEqual(t, len(adv), gatt.MaxEIRPacketLength)
	assert.NotEmpty(t, rsp, "the name does not fit next to the 128-bit uuid")
}

func TestDiscover(t *testing.T) {
	st, _, _ := newTestPeripheral(t, Options{})
	c, err := st.Connect(central)
	require.NoError(t, err)

	ss, err := c.Discover()
	require.NoError(t, err)
	require.Len(t, ss, 1)
	svc := ss[0]
	assert.True(t, svc.UUID.Equal(gatt.ServiceUUID))
	assert.Equal(t, uint16(40), svc.Handle)
	assert.Equal(t, uint16(43), svc.EndHandle)

	require.Len(t, svc.Characteristics, 1)
	ch := svc.Characteristics[0]
	assert.True(t, ch.UUID.Equal(gatt.CharUUID))
	assert.True(t, ch.Has(PropRead|PropWrite|PropNotify))
	assert.False(t, ch.Has(PropWriteNR))
	assert.Equal(t, uint16(41), ch.DeclHandle)
	assert.Equal(t, uint16(42), ch.ValueHandle)
	assert.Equal(t, uint16(43), ch.CCCDHandle)
}

func TestSubscribe(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	prof := p.Profile()
	assert.True(t, prof.NotifyEnabled())
	v, err := c.Read(ch.CCCDHandle)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00}, v)

	require.NoError(t, c.Unsubscribe(ch))
	st.Flush()
	prof = p.Profile()
	assert.False(t, prof.NotifyEnabled())

	// The counter still increments; the stack drops the notification.
	require.NoError(t, c.Write(ch.ValueHandle, gatt.EncodeInt32(1)))
	st.Flush()
	assert.Equal(t, int32(2), p.Value())
	assert.Empty(t, c.Notifications())
}

func TestNotificationNeedsSubscription(t *testing.T) {
	st, p, hook := newTestPeripheral(t, Options{})
	c, err := st.Connect(central)
	require.NoError(t, err)

	require.NoError(t, c.Write(42, gatt.EncodeInt32(9)))
	st.Flush()

	assert.Equal(t, int32(10), p.Value())
	assert.Empty(t, c.Notifications())
	var sendErr error
	for _, e := range hook.AllEntries() {
		if e.Message == "send notification failed" {
			sendErr, _ = e.Data[logrus.ErrorKey].(error)
		}
	}
	assert.Equal(t, ErrNotSubscribed, errors.Cause(sendErr))
}

func TestWriteCommand(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	require.NoError(t, c.WriteCommand(ch.ValueHandle, gatt.EncodeInt32(-1)))
	st.Flush()
	assert.Equal(t, int32(0), p.Value())
	n, err := c.WaitNotification(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gatt.EncodeInt32(0), n.Value)

	// Rejected commands have no response to carry an error.
	require.NoError(t, c.WriteCommand(ch.ValueHandle, make([]byte, 5)))
	assert.Zero(t, st.Flush())
}

func TestATTErrors(t *testing.T) {
	st, _, _ := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	cases := []struct {
		name   string
		op     func() error
		status gatt.Status
	}{
		{"value too long", func() error { return c.Write(ch.ValueHandle, make([]byte, 5)) }, gatt.StatusInvalAttrValueLen},
		{"cccd too long", func() error { return c.Write(ch.CCCDHandle, make([]byte, 3)) }, gatt.StatusInvalAttrValueLen},
		{"write declaration", func() error { return c.Write(ch.DeclHandle, []byte{0}) }, gatt.StatusWriteNotPerm},
		{"write unknown", func() error { return c.Write(99, gatt.EncodeInt32(1)) }, gatt.StatusInvalidHandle},
		{"read unknown", func() error { _, err := c.Read(0); return err }, gatt.StatusInvalidHandle},
		{"prepare declaration", func() error { return c.PrepareWrite(ch.DeclHandle, 0, []byte{0}) }, gatt.StatusWriteNotPerm},
		{"small mtu", func() error { _, err := c.ExchangeMTU(10); return err }, gatt.StatusInvalidPDU},
	}

	for _, tt := range cases {
		err := tt.op()
		var attErr *ATTError
		require.True(t, errors.As(err, &attErr), "%s: got %v", tt.name, err)
		assert.Equal(t, tt.status, attErr.Status, tt.name)
		assert.Zero(t, st.Flush(), "%s: no event for a rejected request", tt.name)
	}
}

func TestShortWriteReachesServer(t *testing.T) {
	st, p, hook := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	require.NoError(t, c.Write(ch.ValueHandle, []byte{1, 2, 3}))
	st.Flush()
	assert.Equal(t, int32(0), p.Value())
	assert.Contains(t, messagesOf(hook), "write with bad length dropped")
	assert.Empty(t, c.Notifications())

	v, err := c.Read(ch.ValueHandle)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v, "the stack serves what it stored")
}

func TestPrepareWrite(t *testing.T) {
	st, p, hook := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 0, []byte{0x07, 0x00}))
	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 2, []byte{0x00, 0x00}))
	require.NoError(t, c.ExecuteWrite(true))
	st.Flush()

	mm := messagesOf(hook)
	assert.Contains(t, mm, "prepare write ignored: long writes are not supported")
	assert.Contains(t, mm, "execute write ignored: long writes are not supported")
	assert.Equal(t, int32(0), p.Value(), "long writes do not drive the counter")
	assert.Empty(t, c.Notifications())

	v, ok := st.AttrValue(ch.ValueHandle)
	require.True(t, ok)
	assert.Equal(t, []byte{0x07, 0, 0, 0}, v, "the stack stores the committed value")
}

func TestPrepareWriteErrors(t *testing.T) {
	st, _, _ := newTestPeripheral(t, Options{})
	c, ch := connect(t, st)

	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 9, []byte{1}))
	err := c.ExecuteWrite(true)
	var attErr *ATTError
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, gatt.StatusInvalidOffset, attErr.Status)

	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 0, make([]byte, 3)))
	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 3, make([]byte, 3)))
	err = c.ExecuteWrite(true)
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, gatt.StatusInvalAttrValueLen, attErr.Status)

	require.NoError(t, c.PrepareWrite(ch.ValueHandle, 0, []byte{9, 9, 9, 9}))
	require.NoError(t, c.ExecuteWrite(false))
	v, _ := st.AttrValue(ch.ValueHandle)
	assert.Equal(t, []byte{0, 0, 0, 0}, v, "cancelled writes are discarded")

	for i := 0; i < maxPrepQueue; i++ {
		require.NoError(t, c.PrepareWrite(ch.ValueHandle, 0, []byte{1}))
	}
	err = c.PrepareWrite(ch.ValueHandle, 0, []byte{1})
	require.True(t, errors.As(err, &attErr))
	assert.Equal(t, gatt.StatusPrepQueueFull, attErr.Status)
}

func TestMTUAndDisconnect(t *testing.T) {
	st, _, hook := newTestPeripheral(t, Options{})
	c, _ := connect(t, st)

	mtu, err := c.ExchangeMTU(1024)
	require.NoError(t, err)
	assert.Equal(t, uint16(serverMTU), mtu)
	st.Flush()
	assert.Contains(t, messagesOf(hook), "mtu exchanged")

	require.NoError(t, c.Disconnect())
	st.Flush()
	assert.Contains(t, messagesOf(hook), "disconnected")
	_, err = c.WaitNotification(context.Background())
	assert.Equal(t, ErrDisconnected, err)
	assert.Equal(t, ErrDisconnected, c.Disconnect())
	_, err = c.Read(42)
	assert.Equal(t, ErrDisconnected, err)

	// Advertising is not restarted after a disconnection.
	_, err = st.Connect(central)
	assert.Equal(t, ErrNotAdvertising, err)
}

func TestForeignApp(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{})
	require.NoError(t, st.AppRegister(0x56))
	st.Flush()

	prof := p.Profile()
	assert.Equal(t, gatt.GattIf(3), prof.GattIf)
	assert.True(t, prof.CharHandle.Is(42))
}

func TestFaults(t *testing.T) {
	cases := []struct {
		name   string
		faults Faults
		want   gatt.ProfileStatus
	}{
		{"create", Faults{CreateStatus: gatt.StatusError}, gatt.StatusServiceCreating},
		{"table", Faults{TableStatus: gatt.StatusNoResources}, gatt.StatusServiceCreated},
		{"truncate", Faults{TruncateBy: 1}, gatt.StatusServiceCreated},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			st, p, _ := newTestPeripheral(t, Options{Faults: tt.faults})
			prof := p.Profile()
			assert.Equal(t, tt.want, prof.Status())
			assert.False(t, p.Ready())

			// Advertising does not depend on the service setup.
			_, on := st.Advertising()
			assert.True(t, on)
		})
	}
}

func TestNVSNewVersion(t *testing.T) {
	st, p, _ := newTestPeripheral(t, Options{NVSNewVersion: true})
	assert.True(t, p.Ready())
	assert.Equal(t, []string{"nvs_flash_init", "nvs_flash_erase", "nvs_flash_init"}, st.Calls()[:3])
}

func TestBringUpOrder(t *testing.T) {
	st := New(Options{Logger: logrus.New()})
	assert.Equal(t, ErrNotReady, errors.Cause(st.ControllerInit()))
	assert.Equal(t, ErrNotReady, errors.Cause(st.HostInit()))
	assert.Equal(t, ErrNotReady, errors.Cause(st.AppRegister(gatt.DefaultAppID)))

	require.NoError(t, st.NVSInit())
	require.NoError(t, st.MemRelease(gatt.ModeClassicBT))
	require.NoError(t, st.ControllerInit())
	assert.Equal(t, ErrModeReleased, st.ControllerEnable(gatt.ModeBTDM))
	assert.Equal(t, ErrNotReady, errors.Cause(st.MemRelease(gatt.ModeBLE)))
	require.NoError(t, st.ControllerEnable(gatt.ModeBLE))
}

func TestRun(t *testing.T) {
	log, _ := test.NewNullLogger()
	st := New(Options{Logger: log})
	p := gatt.NewPeripheral(st, st, gatt.Logger(log))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	require.NoError(t, gatt.Bootstrap(ctx, st, p))
	require.Eventually(t, p.Ready, time.Second, time.Millisecond)
	assert.Equal(t, ErrAlreadyRunning, st.Run(ctx))

	_, err := st.Scan(ctx)
	require.NoError(t, err)
	c, err := st.Connect(central)
	require.NoError(t, err)
	ss, err := c.Discover()
	require.NoError(t, err)
	ch := ss[0].Characteristics[0]
	require.NoError(t, c.Subscribe(ch))
	require.Eventually(t, func() bool { prof := p.Profile(); return prof.NotifyEnabled() }, time.Second, time.Millisecond)

	for _, v := range []int32{5, 41, -7} {
		require.NoError(t, c.Write(ch.ValueHandle, gatt.EncodeInt32(v)))
		n, err := c.WaitNotification(ctx)
		require.NoError(t, err)
		assert.Equal(t, gatt.EncodeInt32(v+1), n.Value)
	}

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}

func TestScanCanceled(t *testing.T) {
	st := New(Options{Logger: logrus.New()})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := st.Scan(ctx)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestATTErrorMarshal(t *testing.T) {
	e := &ATTError{Opcode: attOpWriteReq, Handle: 0x002a, Status: gatt.StatusInvalAttrValueLen}
	assert.Equal(t, []byte{0x01, 0x12, 0x2a, 0x00, 0x0d}, e.Marshal())
	assert.Equal(t, "att: write handle 0x002a: invalid attribute value length", e.Error())
}

func messagesOf(hook *test.Hook) []string {
	var mm []string
	for _, e := range hook.AllEntries() {
		mm = append(mm, e.Message)
	}
	return mm
}
