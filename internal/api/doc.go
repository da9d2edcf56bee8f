// Package api implements the HTTP API and realtime WebSocket endpoint for
// fleetlink.
//
// This package provides:
//   - the realtime viewer endpoint (gorilla/websocket transport for realtime.Hub)
//   - REST reads of the aggregated device state and a command endpoint
//   - the direct device proxy (/devices/{ip}/...)
//   - the embedded control page at /
//   - health and metrics endpoints
//   - middleware (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Devices publish state to MQTT; the aggregator folds it into the device
// store and notifies the hub, which pushes snapshots to every viewer.
// Viewer commands flow back through the relay to the device's command
// topic. The direct proxy bypasses MQTT and talks HTTP to a device by IP.
//
// # Graceful Degradation
//
// The server operates without MQTT: reads and WebSocket connections work,
// only commands fail (503 over REST, a failed commandAck over WebSocket).
package api
