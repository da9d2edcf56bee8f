// Package mqtt is fleetlink's link to the device broker.
//
// Devices publish state under the topic namespace; fleetlink subscribes,
// folds each message into the device store and publishes viewer commands
// back on the same broker.
//
//	Devices ↔ MQTT Broker ↔ fleetlink ↔ Viewers
//
// The client keeps the server's own presence on the configured status
// topic (online when connected, a retained offline will if the process
// dies), replays its subscriptions after every reconnect and hands
// messages to handlers one at a time in broker order. Stats exposes
// connection counters for the metrics endpoint.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("devices/+/status", 1, agg.HandleMessage)
package mqtt
