package gatt

import (
	"fmt"
	"sync"
)

type notification struct {
	gattIf      GattIf
	conn        ConnID
	handle      uint16
	value       []byte
	needConfirm bool
}

type setValue struct {
	handle uint16
	value  []byte
}

// fakeStack records the requests issued to it. It never emits events;
// tests feed them to the handler under test directly.
type fakeStack struct {
	mu sync.Mutex

	calls     []string
	notifs    []notification
	setValues []setValue
	advParams []AdvParams
	tables    [][]AttrDesc
	advData   []AdvData

	// errs makes the named call fail.
	errs map[string]error
}

func newFakeStack() *fakeStack {
	return &fakeStack{errs: map[string]error{}}
}

func (f *fakeStack) record(name string, format string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name+"("+fmt.Sprintf(format, args...)+")")
	return f.errs[name]
}

func (f *fakeStack) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStack) Notifications() []notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notification(nil), f.notifs...)
}

func (f *fakeStack) CreateService(gattIf GattIf, id ServiceID, numHandle int) error {
	return f.record("create_service", "%d, %v, %d", gattIf, id.UUID, numHandle)
}

func (f *fakeStack) StartService(serviceHandle uint16) error {
	return f.record("start_service", "%d", serviceHandle)
}

func (f *fakeStack) CreateAttrTable(gattIf GattIf, db []AttrDesc, instID uint8) error {
	f.mu.Lock()
	f.tables = append(f.tables, db)
	f.mu.Unlock()
	return f.record("create_attr_tab", "%d, %d, %d", gattIf, len(db), instID)
}

func (f *fakeStack) SetAttrValue(handle uint16, value []byte) error {
	f.mu.Lock()
	f.setValues = append(f.setValues, setValue{handle, append([]byte(nil), value...)})
	f.mu.Unlock()
	return f.record("set_attr_value", "%d, % x", handle, value)
}

func (f *fakeStack) SendIndicate(gattIf GattIf, conn ConnID, handle uint16, value []byte, needConfirm bool) error {
	err := f.record("send_indicate", "%d, %d, %d, % x, %t", gattIf, conn, handle, value, needConfirm)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifs = append(f.notifs, notification{gattIf, conn, handle, append([]byte(nil), value...), needConfirm})
	return nil
}

func (f *fakeStack) SetDeviceName(name string) error {
	return f.record("set_device_name", "%q", name)
}

func (f *fakeStack) ConfigAdvData(d AdvData) error {
	f.mu.Lock()
	f.advData = append(f.advData, d)
	f.mu.Unlock()
	return f.record("config_adv_data", "%v", d.ServiceUUID)
}

func (f *fakeStack) StartAdvertising(p AdvParams) error {
	f.mu.Lock()
	f.advParams = append(f.advParams, p)
	f.mu.Unlock()
	return f.record("start_advertising", "0x%02x, 0x%02x", p.IntervalMin, p.IntervalMax)
}

func (f *fakeStack) NVSInit() error          { return f.nvsInit() }
func (f *fakeStack) NVSErase() error         { return f.record("nvs_erase", "") }
func (f *fakeStack) ControllerInit() error   { return f.record("controller_init", "") }
func (f *fakeStack) HostInit() error         { return f.record("host_init", "") }
func (f *fakeStack) HostEnable() error       { return f.record("host_enable", "") }
func (f *fakeStack) MemRelease(m Mode) error { return f.record("mem_release", "%v", m) }

func (f *fakeStack) ControllerEnable(m Mode) error {
	return f.record("controller_enable", "%v", m)
}

func (f *fakeStack) RegisterGATTSCallback(h GATTSHandler) error {
	return f.record("register_gatts_callback", "")
}

func (f *fakeStack) RegisterGAPCallback(h GAPHandler) error {
	return f.record("register_gap_callback", "")
}

func (f *fakeStack) AppRegister(appID uint16) error {
	return f.record("app_register", "0x%02x", appID)
}

// nvsInit fails with errs["nvs_init"] until the storage is erased.
func (f *fakeStack) nvsInit() error {
	err := f.record("nvs_init", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == "nvs_erase()" {
			return nil
		}
	}
	return err
}
