package main

import (
	"context"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/filmmate/gatt"
	"github.com/filmmate/gatt/internal/config"
	"github.com/filmmate/gatt/loopback"
)

var demoAddr = [6]byte{0xde, 0x00, 0x00, 0x00, 0x00, 0x01}

// runDemo plays the central: it finds the peripheral named name,
// connects, subscribes to the first characteristic supporting write
// and notify, then writes random values and prints the notified ones.
func runDemo(ctx context.Context, st *loopback.Stack, name string, cfg config.Demo, out io.Writer) error {
	cyan := color.New(color.FgHiCyan)
	green := color.New(color.FgHiGreen)
	yellow := color.New(color.FgHiYellow)

	cyan.Fprintln(out, "Scanning for device...")
	r, err := st.Scan(ctx)
	if err != nil {
		return errors.Wrap(err, "scan")
	}
	if !strings.Contains(r.Adv.LocalName, name) {
		return errors.Errorf("device %q not found (advertising %q)", name, r.Adv.LocalName)
	}
	cyan.Fprintf(out, "Found device: %s (% x)\n", r.Adv.LocalName, r.Addr)

	c, err := st.Connect(demoAddr)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	defer c.Disconnect()
	cyan.Fprintln(out, "Connected!")

	ss, err := c.Discover()
	if err != nil {
		return errors.Wrap(err, "discover")
	}
	var target *loopback.Characteristic
	for _, s := range ss {
		cyan.Fprintf(out, "Service: %v\n", s.UUID)
		for i, ch := range s.Characteristics {
			cyan.Fprintf(out, "  Characteristic: %v, Properties: 0x%02x\n", ch.UUID, uint8(ch.Properties))
			if target == nil && ch.Has(loopback.PropWrite|loopback.PropNotify) {
				target = &s.Characteristics[i]
			}
		}
	}
	if target == nil {
		return errors.New("no characteristic supports write and notify")
	}
	cyan.Fprintf(out, "Using characteristic: %v\n", target.UUID)
	if err := c.Subscribe(*target); err != nil {
		return errors.Wrap(err, "subscribe")
	}
	defer c.Unsubscribe(*target)

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	for i := 0; cfg.Count == 0 || i < cfg.Count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
		v := int32(rnd.Int63n(int64(cfg.Max) + 1))
		yellow.Fprintf(out, "Sending: %d\n", v)
		if err := c.Write(target.ValueHandle, gatt.EncodeInt32(v)); err != nil {
			return errors.Wrap(err, "write")
		}
		n, err := c.WaitNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "notification")
		}
		green.Fprintf(out, "Received notification: %d\n", int32(binary.LittleEndian.Uint32(n.Value)))
	}
	return nil
}
