// Package device holds the live state of every device fleetlink has heard
// from.
//
// # Key Types
//
//   - Topics: encodes and decodes the MQTT topic layout
//     <namespace>/<deviceId>/<facet-path>
//   - Facet: one independently reported aspect of a device (LED, light,
//     status, sensor reading)
//   - Store: the in-memory map of device records, last write wins per facet
//   - Snapshot: a consistent deep copy of the whole store
//   - Command: on, off or toggle
//
// A device record exists from the first accepted message until the device
// reports an offline status. Facets that were never reported are unknown
// and render as null; that is different from an LED reported as off.
//
// # Usage
//
//	topics := device.Topics{Namespace: "devices"}
//	store := device.NewStore()
//
//	addr, ok := topics.Decode("devices/esp32-01/led/state")
//	if ok && addr.Facet == device.FacetLED {
//	    led, err := device.DecodeLED(payload)
//	    if err == nil {
//	        store.Upsert(addr.DeviceID, led)
//	    }
//	}
//
//	snap := store.Snapshot()
//	views := snap.Views() // {"esp32-01": {led: {on, pin}, light: null}}
//
// # Thread Safety
//
// Store is safe for concurrent use. Snapshots and records returned from it
// are copies and may be read or modified freely.
package device
