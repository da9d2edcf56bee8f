package broker

import (
	"errors"
	"fmt"
	"sync/atomic"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
)

// ErrAlreadyStarted is returned by Start on a running broker.
var ErrAlreadyStarted = errors.New("broker: already started")

const listenerID = "tcp"

// Broker is an embedded MQTT broker.
type Broker struct {
	server   *mochi.Server
	cfg      config.EmbeddedConfig
	sessions *sessionHook
	logger   *logging.Logger
	started  atomic.Bool
}

// New creates a broker from cfg. Nothing listens until Start is called.
func New(cfg config.EmbeddedConfig, logger *logging.Logger) *Broker {
	logger = logger.Component("broker")
	server := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       logger.Logger,
	})
	return &Broker{
		server:   server,
		cfg:      cfg,
		sessions: &sessionHook{logger: logger},
		logger:   logger,
	}
}

// Start installs the auth and session hooks, binds the TCP listener and
// serves in the background.
func (b *Broker) Start() error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if err := b.addAuthHook(); err != nil {
		return fmt.Errorf("broker: adding auth hook: %w", err)
	}
	if err := b.server.AddHook(b.sessions, nil); err != nil {
		return fmt.Errorf("broker: adding session hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{ID: listenerID, Address: b.cfg.Address})
	if err := b.server.AddListener(tcp); err != nil {
		return fmt.Errorf("broker: listening on %s: %w", b.cfg.Address, err)
	}

	go func() {
		if err := b.server.Serve(); err != nil {
			b.logger.Error("embedded broker stopped", "error", err)
		}
	}()

	b.logger.Info("embedded broker listening",
		"address", b.cfg.Address,
		"auth", len(b.cfg.Users) > 0,
	)
	return nil
}

// addAuthHook allows everyone when no users are configured. Otherwise only
// the configured users and loopback clients (fleetlink itself) may connect.
func (b *Broker) addAuthHook() error {
	if len(b.cfg.Users) == 0 {
		return b.server.AddHook(new(auth.AllowHook), nil)
	}
	return b.server.AddHook(new(auth.Hook), &auth.Options{
		Ledger: authLedger(b.cfg.Users),
	})
}

// authLedger admits the configured users plus any client on a loopback
// address. mochi reports remotes as ip:port, so both loopback families are
// listed by address.
func authLedger(users []config.EmbeddedUser) *auth.Ledger {
	rules := make(auth.AuthRules, 0, len(users)+2)
	for _, u := range users {
		rules = append(rules, auth.AuthRule{
			Username: auth.RString(u.Username),
			Password: auth.RString(u.Password),
			Allow:    true,
		})
	}
	rules = append(rules,
		auth.AuthRule{Remote: "127.0.0.1:*", Allow: true},
		auth.AuthRule{Remote: "[::1]:*", Allow: true},
	)
	return &auth.Ledger{Auth: rules}
}

// Publish injects a message as the broker's inline client.
func (b *Broker) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return b.server.Publish(topic, payload, retain, qos)
}

// ConnectedClients returns the number of client sessions currently open.
func (b *Broker) ConnectedClients() int64 {
	return b.sessions.connected.Load()
}

// Close stops the listener and disconnects every client.
func (b *Broker) Close() error {
	if !b.started.Load() {
		return nil
	}
	return b.server.Close()
}

// sessionHook tracks client sessions for metrics and debug logging.
type sessionHook struct {
	mochi.HookBase
	logger    *logging.Logger
	connected atomic.Int64
}

func (h *sessionHook) ID() string {
	return "fleetlink-sessions"
}

func (h *sessionHook) Provides(b byte) bool {
	return b == mochi.OnSessionEstablished || b == mochi.OnDisconnect
}

func (h *sessionHook) OnSessionEstablished(cl *mochi.Client, _ packets.Packet) {
	h.connected.Add(1)
	h.logger.Debug("client session established", "client_id", cl.ID, "remote", cl.Net.Remote)
}

func (h *sessionHook) OnDisconnect(cl *mochi.Client, err error, expire bool) {
	h.connected.Add(-1)
	h.logger.Debug("client disconnected", "client_id", cl.ID, "error", err, "expire", expire)
}
