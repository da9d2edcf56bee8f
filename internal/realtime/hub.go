package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleetlink/internal/aggregator"
	"github.com/nerrad567/fleetlink/internal/device"
)

// SnapshotSource provides the state the hub broadcasts.
type SnapshotSource interface {
	Snapshot() device.Snapshot
	Get(id string) (device.Record, bool)
}

// CommandRelay forwards viewer commands to devices.
type CommandRelay interface {
	Relay(ctx context.Context, deviceID string, cmd device.Command) error
}

// AlertSink receives presence alerts after they have been queued to
// viewers. Export may block; it runs on the broadcast goroutine.
type AlertSink interface {
	ExportAlerts(ctx context.Context, alerts []Alert) error
}

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats are hub counters for the metrics endpoint.
type Stats struct {
	Viewers        int    `json:"viewers"`
	Broadcasts     uint64 `json:"broadcasts"`
	Alerts         uint64 `json:"alerts"`
	DroppedFrames  uint64 `json:"dropped_frames"`
	CommandsOK     uint64 `json:"commands_ok"`
	CommandsFailed uint64 `json:"commands_failed"`
}

// Hub tracks viewers and fans state out to them.
type Hub struct {
	source SnapshotSource
	relay  CommandRelay
	sink   AlertSink
	logger Logger
	now    func() time.Time

	mu      sync.RWMutex
	viewers map[string]*Viewer
	stopped bool

	// sendMu orders snapshot reads with enqueues so no viewer receives an
	// older snapshot after a newer one. lastIDs is guarded by it.
	sendMu  sync.Mutex
	lastIDs map[string]struct{}

	pending chan struct{}

	broadcasts     atomic.Uint64
	alerts         atomic.Uint64
	dropped        atomic.Uint64
	commandsOK     atomic.Uint64
	commandsFailed atomic.Uint64
}

// NewHub creates a hub. relay may be nil, in which case every command is
// acknowledged as failed.
func NewHub(source SnapshotSource, relay CommandRelay) *Hub {
	return &Hub{
		source:  source,
		relay:   relay,
		logger:  noopLogger{},
		now:     time.Now,
		viewers: make(map[string]*Viewer),
		lastIDs: make(map[string]struct{}),
		pending: make(chan struct{}, 1),
	}
}

// SetLogger sets the logger for the hub.
func (h *Hub) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetAlertSink sets where presence alerts are exported. Call before Run.
func (h *Hub) SetAlertSink(sink AlertSink) {
	h.sink = sink
}

// Connect registers v and queues the current snapshot to it alone.
// After Run has returned, v is closed immediately.
func (h *Hub) Connect(v *Viewer) {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		v.close()
		return
	}
	h.viewers[v.id] = v
	count := len(h.viewers)
	h.mu.Unlock()

	h.logger.Debug("viewer connected", "viewer_id", v.id, "remote", v.remote, "total_viewers", count)
	h.sendSnapshot(v, "")
}

// Disconnect unregisters v and closes its queue. Safe to call repeatedly.
func (h *Hub) Disconnect(v *Viewer) {
	h.mu.Lock()
	_, ok := h.viewers[v.id]
	delete(h.viewers, v.id)
	count := len(h.viewers)
	h.mu.Unlock()

	if ok {
		h.dropped.Add(v.Dropped())
		h.logger.Debug("viewer disconnected", "viewer_id", v.id, "total_viewers", count)
	}
	v.close()
}

// Notify implements aggregator.Notifier. It never blocks; bursts of changes
// collapse into one broadcast.
func (h *Hub) Notify(ev aggregator.Event) {
	if !ev.Changed {
		return
	}
	select {
	case h.pending <- struct{}{}:
	default:
	}
}

// Run broadcasts pending changes until ctx is cancelled, then closes every
// viewer.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case <-h.pending:
			h.Broadcast(ctx)
		}
	}
}

// Broadcast queues alerts for presence changes since the previous broadcast
// followed by the current snapshot to every viewer.
func (h *Hub) Broadcast(ctx context.Context) {
	h.sendMu.Lock()
	snap := h.source.Snapshot()
	alerts := h.diffPresence(snap)
	viewers := h.viewerList()

	for _, a := range alerts {
		h.fanOut(viewers, h.envelope(TypeAlert, "", a))
	}
	h.fanOut(viewers, h.stateMessage(snap, ""))
	h.sendMu.Unlock()

	h.broadcasts.Add(1)
	if len(alerts) == 0 {
		return
	}
	h.alerts.Add(uint64(len(alerts)))
	if h.sink != nil {
		if err := h.sink.ExportAlerts(ctx, alerts); err != nil && !errors.Is(err, context.Canceled) {
			h.logger.Warn("exporting alerts failed", "count", len(alerts), "error", err)
		}
	}
}

// HandleMessage processes one inbound frame from v.
func (h *Hub) HandleMessage(ctx context.Context, v *Viewer, data []byte) {
	var msg Message
	if err := v.codec.Unmarshal(data, &msg); err != nil {
		h.sendError(v, "", "invalid message format")
		return
	}

	switch msg.Type {
	case TypeGetState:
		h.sendSnapshot(v, msg.ID)
	case TypeGetDeviceState:
		h.sendDeviceState(v, msg)
	case TypeCommand:
		h.handleCommand(ctx, v, msg)
	case TypePing:
		h.reply(v, h.envelope(TypePong, msg.ID, nil))
	default:
		h.sendError(v, msg.ID, "unknown message type: "+msg.Type)
	}
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	count := len(h.viewers)
	dropped := h.dropped.Load()
	for _, v := range h.viewers {
		dropped += v.Dropped()
	}
	h.mu.RUnlock()

	return Stats{
		Viewers:        count,
		Broadcasts:     h.broadcasts.Load(),
		Alerts:         h.alerts.Load(),
		DroppedFrames:  dropped,
		CommandsOK:     h.commandsOK.Load(),
		CommandsFailed: h.commandsFailed.Load(),
	}
}

func (h *Hub) handleCommand(ctx context.Context, v *Viewer, msg Message) {
	var req CommandRequest
	if err := h.decodePayload(v.codec, msg.Payload, &req); err != nil || req.DeviceID == "" || req.Command == "" {
		h.logger.Debug("ignoring malformed command", "viewer_id", v.id)
		return
	}

	ack := CommandAck{DeviceID: req.DeviceID, Command: req.Command}
	cmd, err := device.ParseCommand(req.Command)
	switch {
	case err != nil:
		ack.Error = "unknown command"
	case h.relay == nil:
		ack.Error = "command relay unavailable"
	default:
		if err := h.relay.Relay(ctx, req.DeviceID, cmd); err != nil {
			h.logger.Warn("relaying command failed",
				"device_id", req.DeviceID,
				"command", req.Command,
				"error", err,
			)
			ack.Error = err.Error()
		} else {
			ack.Success = true
		}
	}

	if ack.Success {
		h.commandsOK.Add(1)
	} else {
		h.commandsFailed.Add(1)
	}
	h.reply(v, h.envelope(TypeCommandAck, msg.ID, ack))
}

// decodePayload converts a generically decoded payload into dst by
// re-encoding it with the viewer's codec.
func (h *Hub) decodePayload(codec Codec, payload any, dst any) error {
	if payload == nil {
		return errors.New("realtime: missing payload")
	}
	raw, err := codec.Marshal(payload)
	if err != nil {
		return err
	}
	return codec.Unmarshal(raw, dst)
}

func (h *Hub) sendSnapshot(v *Viewer, id string) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	h.reply(v, h.stateMessage(h.source.Snapshot(), id))
}

func (h *Hub) sendDeviceState(v *Viewer, msg Message) {
	var req DeviceStateRequest
	if err := h.decodePayload(v.codec, msg.Payload, &req); err != nil || req.DeviceID == "" {
		h.sendError(v, msg.ID, "deviceId required")
		return
	}

	reply := DeviceStatePayload{DeviceID: req.DeviceID}
	if rec, ok := h.source.Get(req.DeviceID); ok {
		view := rec.View()
		reply.State = &view
	}
	h.reply(v, h.envelope(TypeDeviceState, msg.ID, reply))
}

func (h *Hub) sendError(v *Viewer, id, message string) {
	h.reply(v, h.envelope(TypeError, id, ErrorPayload{Message: message}))
}

func (h *Hub) reply(v *Viewer, msg Message) {
	frame, err := v.codec.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding message failed", "type", msg.Type, "codec", v.codec.Name(), "error", err)
		return
	}
	v.enqueue(frame)
}

// fanOut encodes msg once per codec and queues it to every viewer.
func (h *Hub) fanOut(viewers []*Viewer, msg Message) {
	frames := make(map[string][]byte, 2)
	for _, v := range viewers {
		name := v.codec.Name()
		frame, ok := frames[name]
		if !ok {
			var err error
			frame, err = v.codec.Marshal(msg)
			if err != nil {
				h.logger.Error("encoding message failed", "type", msg.Type, "codec", name, "error", err)
				continue
			}
			frames[name] = frame
		}
		v.enqueue(frame)
	}
}

// diffPresence compares snap with the IDs of the previous broadcast.
// Callers hold sendMu.
func (h *Hub) diffPresence(snap device.Snapshot) []Alert {
	ts := snap.TakenAt.UnixMilli()
	var alerts []Alert

	for _, id := range snap.IDs() {
		if _, ok := h.lastIDs[id]; !ok {
			alerts = append(alerts, Alert{Kind: AlertConnected, DeviceID: id, Timestamp: ts})
		}
	}
	var gone []string
	for id := range h.lastIDs {
		if _, ok := snap.Devices[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		alerts = append(alerts, Alert{Kind: AlertDisconnected, DeviceID: id, Timestamp: ts})
	}

	next := make(map[string]struct{}, len(snap.Devices))
	for id := range snap.Devices {
		next[id] = struct{}{}
	}
	h.lastIDs = next
	return alerts
}

func (h *Hub) stateMessage(snap device.Snapshot, id string) Message {
	ts := snap.TakenAt
	if ts.IsZero() {
		ts = h.now()
	}
	return h.envelope(TypeState, id, StatePayload{
		Devices:   snap.Views(),
		Timestamp: ts.UnixMilli(),
	})
}

func (h *Hub) envelope(msgType, id string, payload any) Message {
	return Message{
		Type:      msgType,
		ID:        id,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

func (h *Hub) viewerList() []*Viewer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Viewer, 0, len(h.viewers))
	for _, v := range h.viewers {
		out = append(out, v)
	}
	return out
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	h.stopped = true
	viewers := h.viewers
	h.viewers = make(map[string]*Viewer)
	h.mu.Unlock()

	for _, v := range viewers {
		v.close()
	}
	if len(viewers) > 0 {
		h.logger.Info("closed realtime viewers", "count", len(viewers))
	}
}
