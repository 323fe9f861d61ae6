package gatt_test

import (
	"context"
	"fmt"
	"io/ioutil"

	"github.com/sirupsen/logrus"

	"github.com/filmmate/gatt"
	"github.com/filmmate/gatt/loopback"
)

func Example() {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)

	st := loopback.New(loopback.Options{HandleBase: 10, Logger: log})
	p := gatt.NewPeripheral(st, st, gatt.Logger(log))
	if err := gatt.Bootstrap(context.Background(), st, p); err != nil {
		fmt.Println(err)
		return
	}
	st.Flush()
	prof := p.Profile()
	fmt.Println("ready:", p.Ready(), "value handle:", prof.CharHandle)

	c, _ := st.Connect([6]byte{1, 2, 3, 4, 5, 6})
	ss, _ := c.Discover()
	ch := ss[0].Characteristics[0]
	c.Subscribe(ch)
	c.Write(ch.ValueHandle, gatt.EncodeInt32(5))
	st.Flush()

	n := <-c.Notifications()
	fmt.Printf("notified % x\n", n.Value)
	fmt.Println("counter:", p.Value())
	// Output:
	// ready: true value handle: 0x000c
	// notified 06 00 00 00
	// counter: 6
}
