// Package panel serves the operator control page as an embedded asset.
//
// The page has two halves. The direct panel takes a device IP and calls
// the /devices/{ip}/... proxy endpoints. The realtime panel opens the
// viewer WebSocket, renders every device from the pushed state snapshots
// and sends toggle/on/off commands over the same socket.
//
// Assets live under web/ and are compiled into the binary with go:embed.
package panel
