package broker

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/nerrad567/fleetlink/internal/infrastructure/config"
	"github.com/nerrad567/fleetlink/internal/infrastructure/logging"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserving port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func startBroker(t *testing.T, cfg config.EmbeddedConfig) *Broker {
	t.Helper()
	b := New(cfg, logging.Discard())
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func dial(t *testing.T, addr, clientID, username, password string) (pahomqtt.Client, error) {
	t.Helper()
	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", addr)).
		SetClientID(clientID).
		SetConnectTimeout(2 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(3 * time.Second) {
		return nil, errors.New("connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	t.Cleanup(func() { c.Disconnect(100) })
	return c, nil
}

func TestBroker_AllowAllRoundtrip(t *testing.T) {
	addr := freeAddress(t)
	b := startBroker(t, config.EmbeddedConfig{Enabled: true, Address: addr})

	sub, err := dial(t, addr, "sub", "", "")
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	pub, err := dial(t, addr, "pub", "", "")
	if err != nil {
		t.Fatalf("publisher connect: %v", err)
	}

	received := make(chan string, 1)
	token := sub.Subscribe("devices/+/status", 1, func(_ pahomqtt.Client, m pahomqtt.Message) {
		received <- m.Topic() + "=" + string(m.Payload())
	})
	if !token.WaitTimeout(2*time.Second) || token.Error() != nil {
		t.Fatalf("subscribe failed: %v", token.Error())
	}

	pub.Publish("devices/esp32-01/status", 1, false, "online").WaitTimeout(2 * time.Second)

	select {
	case got := <-received:
		if want := "devices/esp32-01/status=online"; got != want {
			t.Errorf("received %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ConnectedClients() != 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := b.ConnectedClients(); n != 2 {
		t.Errorf("ConnectedClients() = %d, want 2", n)
	}
}

func TestBroker_InlinePublish(t *testing.T) {
	addr := freeAddress(t)
	b := startBroker(t, config.EmbeddedConfig{Enabled: true, Address: addr})

	sub, err := dial(t, addr, "sub-inline", "", "")
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}

	received := make(chan []byte, 1)
	sub.Subscribe("devices/+/light/state", 0, func(_ pahomqtt.Client, m pahomqtt.Message) {
		received <- m.Payload()
	}).WaitTimeout(2 * time.Second)

	if err := b.Publish("devices/esp32-01/light/state", []byte("on"), false, 0); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "on" {
			t.Errorf("payload = %q, want on", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for inline message")
	}
}

func TestBroker_StartTwice(t *testing.T) {
	b := startBroker(t, config.EmbeddedConfig{Enabled: true, Address: freeAddress(t)})

	if err := b.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestBroker_CloseWithoutStart(t *testing.T) {
	b := New(config.EmbeddedConfig{Address: "127.0.0.1:0"}, logging.Discard())
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestBroker_WithUsers(t *testing.T) {
	addr := freeAddress(t)
	startBroker(t, config.EmbeddedConfig{
		Enabled: true,
		Address: addr,
		Users:   []config.EmbeddedUser{{Username: "esp32", Password: "secret"}},
	})

	if _, err := dial(t, addr, "esp32-01", "esp32", "secret"); err != nil {
		t.Fatalf("configured user rejected: %v", err)
	}
}

func TestAuthLedger_LoopbackAndUsers(t *testing.T) {
	ledger := authLedger([]config.EmbeddedUser{{Username: "esp32", Password: "secret"}})

	tests := []struct {
		name     string
		remote   string
		username string
		password string
		want     bool
	}{
		{"ipv4 loopback without credentials", "127.0.0.1:50123", "", "", true},
		{"ipv6 loopback without credentials", "[::1]:50123", "", "", true},
		{"configured user from the network", "10.0.0.7:40000", "esp32", "secret", true},
		{"wrong password from the network", "10.0.0.7:40000", "esp32", "nope", false},
		{"anonymous from the network", "10.0.0.7:40000", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := &mochi.Client{
				Net:        mochi.ClientConnection{Remote: tt.remote},
				Properties: mochi.ClientProperties{Username: []byte(tt.username)},
			}
			pk := packets.Packet{Connect: packets.ConnectParams{
				Username: []byte(tt.username),
				Password: []byte(tt.password),
			}}

			if _, got := ledger.AuthOk(cl, pk); got != tt.want {
				t.Errorf("AuthOk(%s, %q) = %v, want %v", tt.remote, tt.username, got, tt.want)
			}
		})
	}
}

func TestSessionHook_Provides(t *testing.T) {
	h := &sessionHook{}

	tests := []struct {
		name string
		hook byte
		want bool
	}{
		{"session established", mochi.OnSessionEstablished, true},
		{"disconnect", mochi.OnDisconnect, true},
		{"publish", mochi.OnPublish, false},
		{"connect authenticate", mochi.OnConnectAuthenticate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.Provides(tt.hook); got != tt.want {
				t.Errorf("Provides() = %v, want %v", got, tt.want)
			}
		})
	}
}
