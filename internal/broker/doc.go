// Package broker runs an optional in-process MQTT broker.
//
// Small deployments can point their devices straight at fleetlink instead of
// running a separate Mosquitto. The broker is a plain MQTT 3.1.1/5 server;
// fleetlink's own MQTT client connects to it over loopback like any other
// client, so the rest of the system does not know which broker is in use.
package broker
