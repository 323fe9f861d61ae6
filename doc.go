// Package gatt implements the FilmMate Tripod BLE peripheral: a GATT
// server exposing one custom service with one read/write/notify
// characteristic holding a signed 32-bit counter.
//
// A central writes a 4-byte little-endian integer v to the
// characteristic; the peripheral stores v+1 and pushes it back as a
// notification on the same connection.
//
// STACK
//
// The radio, the controller and the host stack are external. They are
// driven through the Controller, GATTS and GAP interfaces; every
// request is fire-and-forget and its completion comes back later as a
// callback event. The loopback package provides an in-process
// implementation.
//
// SETUP
//
// Setup is a chain of events, each one triggering the next requests:
//
//     Bootstrap              -> AppRegister(0x55)
//     RegEvent               -> CreateService, SetDeviceName, ConfigAdvData
//     CreateEvent            -> StartService, CreateAttrTable
//     AttrTableEvent         -> value handle captured, profile ready
//     AdvDataSetEvent (GAP)  -> StartAdvertising
//
// Writes delivered before the attribute table is installed are ignored.
//
// USAGE
//
//     st := loopback.New(loopback.Options{})
//     p := gatt.NewPeripheral(st, st, gatt.Logger(log))
//     go st.Run(ctx)
//     if err := gatt.Bootstrap(ctx, st, p); err != nil {
//     	log.Fatal(err)
//     }
//
// Events are processed one at a time. A Server may be fed from
// several goroutines; it serializes them.
package gatt
