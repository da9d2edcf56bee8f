package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetlink/internal/broker"
	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
)

// testBroker starts an in-process broker on a free loopback port and
// returns a client config pointing at it.
func testBroker(t *testing.T) config.MQTTConfig {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().(*net.TCPAddr)
	l.Close()

	b := broker.New(config.EmbeddedConfig{Enabled: true, Address: addr.String()}, logging.Discard())
	if err := b.Start(); err != nil {
		t.Fatalf("starting test broker: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     addr.Port,
			ClientID: "fleetlink-test-" + strconv.Itoa(addr.Port),
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		StatusTopic: "fleetlink/server/status",
	}
}

func connectTest(t *testing.T, cfg config.MQTTConfig) *Client {
	t.Helper()
	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// ─── Connection ─────────────────────────────────────────────────────

func TestConnect(t *testing.T) {
	client := connectTest(t, testBroker(t))

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := testBroker(t)
	cfg.Broker.Port = 1 // nothing listens here

	_, err := Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should fail for refused connection")
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose(t *testing.T) {
	client, err := Connect(testBroker(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close(), want false")
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v, want nil", err)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// ─── HealthCheck ────────────────────────────────────────────────────

func TestHealthCheck(t *testing.T) {
	client := connectTest(t, testBroker(t))

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v, want nil", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := connectTest(t, testBroker(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client, err := Connect(testBroker(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

// ─── Publish ────────────────────────────────────────────────────────

func TestPublish_Validation(t *testing.T) {
	client := connectTest(t, testBroker(t))

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"valid", "devices/esp32-01/commands", []byte("toggle"), 1, nil},
		{"nil payload", "devices/esp32-01/commands", nil, 1, nil},
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "devices/esp32-01/commands", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "devices/esp32-01/commands", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := client.Publish(tt.topic, tt.payload, tt.qos, false)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Publish() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishDisconnected(t *testing.T) {
	client, err := Connect(testBroker(t))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	err = client.Publish("devices/esp32-01/commands", []byte("on"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// ─── Subscribe ──────────────────────────────────────────────────────

func TestSubscribe_Validation(t *testing.T) {
	client := connectTest(t, testBroker(t))
	handler := func(string, []byte) error { return nil }

	if err := client.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) error = %v, want ErrInvalidTopic", err)
	}
	if err := client.Subscribe("a/b", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v, want ErrInvalidQoS", err)
	}
	if err := client.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
	if subs := client.Subscriptions(); len(subs) != 0 {
		t.Errorf("Subscriptions() = %v, want none after rejected subscribes", subs)
	}
}

func TestSubscriptions_SortedAndInStats(t *testing.T) {
	client := connectTest(t, testBroker(t))
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{"devices/+/status", "devices/+/led/state", "devices/+/light/state"} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	// Re-subscribing replaces rather than duplicates.
	if err := client.Subscribe("devices/+/status", 0, handler); err != nil {
		t.Fatalf("Subscribe(again) error = %v", err)
	}

	want := []string{"devices/+/led/state", "devices/+/light/state", "devices/+/status"}
	got := client.Subscriptions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Subscriptions() = %v, want %v", got, want)
	}

	stats := client.Stats()
	if !stats.Connected {
		t.Error("Stats().Connected = false, want true")
	}
	if len(stats.Subscriptions) != 3 {
		t.Errorf("Stats().Subscriptions = %v, want 3 entries", stats.Subscriptions)
	}
	if !strings.HasPrefix(stats.Broker, "tcp://127.0.0.1:") {
		t.Errorf("Stats().Broker = %q, want tcp://127.0.0.1:<port>", stats.Broker)
	}
}

func TestStats_NilClient(t *testing.T) {
	var client *Client
	if client.IsConnected() {
		t.Error("IsConnected() on nil client = true")
	}
	if stats := client.Stats(); stats.Connected || stats.Broker != "" {
		t.Errorf("Stats() on nil client = %+v, want zero", stats)
	}
}

func TestWildcardRoundtrip_Ordered(t *testing.T) {
	cfg := testBroker(t)
	sub := connectTest(t, cfg)

	cfg.Broker.ClientID += "-pub"
	pub := connectTest(t, cfg)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	err := sub.Subscribe("devices/+/light/state", 1, func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, topic+"="+string(payload))
		if len(got) == 3 {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	want := []string{
		"devices/a/light/state=on",
		"devices/b/light/state=off",
		"devices/a/light/state=off",
	}
	for _, m := range want {
		topic, payload, _ := strings.Cut(m, "=")
		if err := pub.Publish(topic, []byte(payload), 1, false); err != nil {
			t.Fatalf("Publish(%s) error = %v", topic, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}

	if n := sub.Stats().MessagesReceived; n != 3 {
		t.Errorf("subscriber MessagesReceived = %d, want 3", n)
	}
	if n := pub.Stats().MessagesPublished; n != 3 {
		t.Errorf("publisher MessagesPublished = %d, want 3", n)
	}
}

// ─── Handler wrapping ───────────────────────────────────────────────

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
	errs  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestHandlerErrorAndPanicAreLogged(t *testing.T) {
	cfg := testBroker(t)
	client := connectTest(t, cfg)
	logger := &recordingLogger{}
	client.SetLogger(logger)

	calls := make(chan struct{}, 2)
	err := client.Subscribe("test/handler", 1, func(_ string, p []byte) error {
		calls <- struct{}{}
		if string(p) == "panic" {
			panic("boom")
		}
		return errors.New("handler error")
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client.Publish("test/handler", []byte("fail"), 1, false)
	client.Publish("test/handler", []byte("panic"), 1, false)

	for range 2 {
		select {
		case <-calls:
		case <-time.After(3 * time.Second):
			t.Fatal("handler was not called")
		}
	}

	// The panic is recovered after the handler signals; give it a moment.
	time.Sleep(50 * time.Millisecond)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errs) != 1 {
		t.Errorf("logged %d errors, want 1 (panic)", len(logger.errs))
	}
	if len(logger.warns) < 1 {
		t.Errorf("logged %d warnings, want at least 1 (handler error)", len(logger.warns))
	}
}

// ─── Options ────────────────────────────────────────────────────────

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "broker.local", Port: 8883, TLS: true, ClientID: "fl"},
		Auth:   config.MQTTAuthConfig{Username: "u", Password: "p"},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://broker.local:8883" {
		t.Errorf("Servers = %v, want [ssl://broker.local:8883]", opts.Servers)
	}
	if opts.ClientID != "fl" {
		t.Errorf("ClientID = %q, want fl", opts.ClientID)
	}
	if opts.Username != "u" || opts.Password != "p" {
		t.Errorf("credentials = %q/%q, want u/p", opts.Username, opts.Password)
	}
	if !opts.Order {
		t.Error("Order = false, want ordered delivery")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := config.MQTTConfig{Broker: config.MQTTBrokerConfig{ClientID: "fl"}, StatusTopic: "fleetlink/server/status"}
	opts := buildClientOptions(cfg)

	configureLWT(opts, cfg)

	if !opts.WillEnabled || opts.WillTopic != "fleetlink/server/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v, want enabled on status topic, retained",
			opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}

	var will presence
	if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if will.Status != presenceOffline || will.ClientID != "fl" || will.Reason != reasonUnexpected {
		t.Errorf("will = %+v, want offline/fl/%s", will, reasonUnexpected)
	}

	noStatus := buildClientOptions(config.MQTTConfig{})
	configureLWT(noStatus, config.MQTTConfig{})
	if noStatus.WillEnabled {
		t.Error("will enabled without a status topic")
	}
}

func TestPresencePayload_EscapesClientID(t *testing.T) {
	b := presencePayload(`fl"ee`, presenceOnline, "")

	var p presence
	if err := json.Unmarshal(b, &p); err != nil {
		t.Fatalf("presencePayload() is not JSON: %v (%s)", err, b)
	}
	if p.ClientID != `fl"ee` || p.Status != presenceOnline {
		t.Errorf("presence = %+v, want client_id fl\"ee online", p)
	}
	if strings.Contains(string(b), "reason") {
		t.Errorf("online presence carries a reason: %s", b)
	}
}

func TestServerPresenceRetained(t *testing.T) {
	cfg := testBroker(t)
	_ = connectTest(t, cfg)

	obsCfg := cfg
	obsCfg.Broker.ClientID += "-observer"
	obsCfg.StatusTopic = ""
	observer := connectTest(t, obsCfg)

	got := make(chan presence, 1)
	err := observer.Subscribe(cfg.StatusTopic, 1, func(_ string, payload []byte) error {
		var p presence
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		select {
		case got <- p:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case p := <-got:
		if p.Status != presenceOnline || p.ClientID != cfg.Broker.ClientID {
			t.Errorf("retained presence = %+v, want online from %s", p, cfg.Broker.ClientID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no retained presence on status topic")
	}
}
