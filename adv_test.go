package gatt

import (
	"fmt"
	"reflect"
	"testing"
	"time"
	"unicode/utf8"
)

func TestAppendField(t *testing.T) {
	cases := []struct {
		curr    []byte
		typ     byte
		b       []byte
		wantLen int
	}{
		{curr: []byte{}, typ: typeManufacturerData, b: []byte{1, 2, 3}, wantLen: 5},
		{curr: make([]byte, 26), typ: typeManufacturerData, b: []byte{1, 2, 3}, wantLen: 31},
		{curr: make([]byte, 27), typ: typeManufacturerData, b: []byte{1, 2, 3}, wantLen: 27},
		{curr: make([]byte, 31), typ: typeFlags, b: []byte{6}, wantLen: 31},
	}

	for _, tt := range cases {
		a := (&AdvPacket{append([]byte(nil), tt.curr...)}).AppendField(tt.typ, tt.b)
		if a.Len() != tt.wantLen {
			t.Errorf("%d bytes: AppendField(%x, %x) got len %d want %d", len(tt.curr), tt.typ, tt.b, a.Len(), tt.wantLen)
		}
	}
}

func TestAppendFlags(t *testing.T) {
	a := (&AdvPacket{}).AppendFlags(FlagGeneralDiscoverable | FlagBREDRNotSupported)
	if got := fmt.Sprintf("%x", a.Data()); got != "020106" {
		t.Errorf("AppendFlags: got %q want %q", got, "020106")
	}
}

func TestAppendName(t *testing.T) {
	cases := []struct {
		curr      []byte
		name      string
		wantBytes []byte
		wantLen   int
	}{
		{
			curr:      []byte{},
			name:      "ABCDE",
			wantBytes: []byte{0x06, typeCompleteName, 'A', 'B', 'C', 'D', 'E'},
			wantLen:   7,
		},
		{
			curr:      []byte("111111111122222222223333"),
			name:      "ABCDE",
			wantBytes: append([]byte("111111111122222222223333"), []byte{0x06, typeCompleteName, 'A', 'B', 'C', 'D', 'E'}...),
			wantLen:   31,
		},
		{
			curr:      []byte("1111111111222222222233333"),
			name:      "ABCDE",
			wantBytes: append([]byte("1111111111222222222233333"), []byte{0x05, typeShortName, 'A', 'B', 'C', 'D'}...),
			wantLen:   31,
		},
		{
			curr:      []byte("11111111112222222222333333333"),
			name:      "ABCDE",
			wantBytes: []byte("11111111112222222222333333333"),
			wantLen:   29,
		},
		{
			curr:      []byte("111111111122222222223333"),
			name:      "ABCé",
			wantBytes: append([]byte("111111111122222222223333"), []byte{0x06, typeCompleteName, 'A', 'B', 'C', 0xc3, 0xa9}...),
			wantLen:   31,
		},
		{
			curr:      []byte("1111111111222222222233333"),
			name:      "ABCé",
			wantBytes: append([]byte("1111111111222222222233333"), []byte{0x04, typeShortName, 'A', 'B', 'C'}...),
			wantLen:   30,
		},
		{
			curr:      []byte("11111111112222222222333333"),
			name:      "éé",
			wantBytes: append([]byte("11111111112222222222333333"), []byte{0x03, typeShortName, 0xc3, 0xa9}...),
			wantLen:   30,
		},
		{
			curr:      []byte("1111111111222222222233333333"),
			name:      "éé",
			wantBytes: []byte("1111111111222222222233333333"),
			wantLen:   28,
		},
	}
	for _, tt := range cases {
		a := (&AdvPacket{tt.curr}).AppendName(tt.name)
		wantBytes := [31]byte{}
		copy(wantBytes[:], tt.wantBytes)
		if a.Bytes() != wantBytes {
			t.Errorf("%q a.AppendName(%q) got %x want %x", tt.curr, tt.name, a.Bytes(), tt.wantBytes)
		}
		if a.Len() != tt.wantLen {
			t.Errorf("%q a.AppendName(%q) got %d want %d", tt.curr, tt.name, a.Len(), tt.wantLen)
		}
		if b := a.Data(); len(b) > len(tt.curr) && !utf8.Valid(b[len(tt.curr)+2:]) {
			t.Errorf("%q a.AppendName(%q) cut a rune: % x", tt.curr, tt.name, b[len(tt.curr)+2:])
		}
	}
}

func TestAppendUUIDFit(t *testing.T) {
	cases := []struct {
		uu      []UUID
		want    string
		wantFit bool
	}{
		{
			uu:      []UUID{UUID16(0xFAFE)},
			want:    "0201060303fefa",
			wantFit: true,
		},
		{
			uu:      []UUID{UUID16(0xFAFE), UUID16(0xFAF9)},
			want:    "0201060303fefa0303f9fa",
			wantFit: true,
		},
		{
			uu:      []UUID{MustParseUUID("ABABABABABABABABABABABABABABABAB")},
			want:    "0201061107abababababababababababababababab",
			wantFit: true,
		},
		{
			uu: []UUID{
				MustParseUUID("ABABABABABABABABABABABABABABABAB"),
				MustParseUUID("CDCDCDCDCDCDCDCDCDCDCDCDCDCDCDCD"),
			},
			want: "0201061106abababababababababababababababab",
		},
		{
			uu: []UUID{
				UUID16(0xaaaa), UUID16(0xbbbb),
				UUID16(0xcccc), UUID16(0xdddd),
				UUID16(0xeeee), UUID16(0xffff),
				UUID16(0xaaaa), UUID16(0xbbbb),
			},
			want: "0201060302aaaa0302bbbb0302cccc0302dddd0302eeee0302ffff0302aaaa",
		},
	}

	for _, tt := range cases {
		a := (&AdvPacket{}).AppendFlags(FlagGeneralDiscoverable | FlagBREDRNotSupported)
		fit := a.AppendUUIDFit(tt.uu)
		if got := fmt.Sprintf("%x", a.Data()); got != tt.want {
			t.Errorf("AppendUUIDFit(%v) packet: got %q want %q", tt.uu, got, tt.want)
		}
		if fit != tt.wantFit {
			t.Errorf("AppendUUIDFit(%v) fit: got %t want %t", tt.uu, fit, tt.wantFit)
		}
	}
}

func TestDefaultAdvParams(t *testing.T) {
	p := DefaultAdvParams()
	want := AdvParams{
		IntervalMin:  0x20,
		IntervalMax:  0x20,
		Type:         AdvTypeInd,
		OwnAddrType:  OwnAddrPublic,
		ChannelMap:   ChannelAll,
		FilterPolicy: FilterAllowScanAnyConnAny,
	}
	if !reflect.DeepEqual(p, want) {
		t.Errorf("DefaultAdvParams: got %+v want %+v", p, want)
	}
	if min, max := p.Interval(); min != 20*time.Millisecond || max != 20*time.Millisecond {
		t.Errorf("Interval: got %v-%v want 20ms-20ms", min, max)
	}
	if !p.Connectable() {
		t.Error("default advertising should be connectable")
	}
}
