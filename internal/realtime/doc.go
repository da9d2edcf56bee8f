// Package realtime fans device state out to connected viewers.
//
// The Hub keeps the set of viewers, pushes the current snapshot to each new
// viewer, rebroadcasts the snapshot whenever the aggregator reports a
// change and turns viewer commands into relay calls. It knows nothing about
// WebSockets: a Viewer is an outbound frame queue plus a Codec, and the
// transport (see internal/api) pumps frames between the queue and the
// connection.
//
// # Messages
//
// Every frame is a Message envelope {type, id, timestamp, payload}.
//
//	server → viewer   state       {devices: {<id>: {led, light}}, timestamp}
//	                  alert       {kind: connected|disconnected, deviceId, timestamp}
//	                  commandAck  {success, deviceId, command, error}
//	                  deviceState {deviceId, state}
//	                  pong, error
//	viewer → server   getState
//	                  getDeviceState {deviceId}
//	                  command     {deviceId, command}
//	                  ping
//
// # Backpressure
//
// Each viewer has a bounded queue. When it is full the oldest frame is
// dropped: every state frame is a full snapshot, so a lagging viewer only
// skips intermediate states. A slow viewer never blocks the aggregator or
// other viewers.
package realtime
