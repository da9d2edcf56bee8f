// Package aggregator folds device messages from the broker into the device
// store and tells the broadcast hub when something happened.
//
// For every message it decodes the topic, decodes the payload for that
// facet, mutates the store and then emits exactly one Event. Messages on
// unknown topics are ignored. Malformed payloads are logged and dropped
// without touching the store.
//
// Messages are processed one at a time in the order they are handed over,
// so two updates to the same facet always land in delivery order.
package aggregator
