package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/status"
)

// --- mock MQTT client ---

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 1 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 1 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

type mockToken struct{}

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *mockToken) Error() error                   { return nil }

// failingConnectToken simulates a broker refusal or dial failure: Wait
// returns true (the attempt completed) and Error is non-nil, the same
// pair paho returns when CONNACK never succeeds.
type failingConnectToken struct{ err error }

func (t *failingConnectToken) Wait() bool                     { return true }
func (t *failingConnectToken) WaitTimeout(time.Duration) bool { return true }
func (t *failingConnectToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *failingConnectToken) Error() error                   { return t.err }

type failingConnectClient struct {
	mockClient
	err error
}

func (c *failingConnectClient) Connect() mqtt.Token {
	return &failingConnectToken{err: c.err}
}

type mockClient struct {
	mu        sync.Mutex
	published []mockMessage
	connected bool
}

func (c *mockClient) IsConnected() bool      { return c.connected }
func (c *mockClient) IsConnectionOpen() bool { return c.connected }
func (c *mockClient) Connect() mqtt.Token    { c.connected = true; return &mockToken{} }
func (c *mockClient) Disconnect(uint)        { c.connected = false }
func (c *mockClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p []byte
	switch v := payload.(type) {
	case []byte:
		p = v
	case string:
		p = []byte(v)
	}
	c.published = append(c.published, mockMessage{topic: topic, payload: p})
	return &mockToken{}
}
func (c *mockClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token { return &mockToken{} }
func (c *mockClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mockToken{}
}
func (c *mockClient) Unsubscribe(...string) mqtt.Token     { return &mockToken{} }
func (c *mockClient) AddRoute(string, mqtt.MessageHandler) {}
func (c *mockClient) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.NewClient(mqtt.NewClientOptions()).OptionsReader()
}

// --- tests ---

func baseConfig() *config.Config {
	c := config.New("app1")
	c.DeviceID = "dev1"
	c.Cloud = config.CloudConfig{Token: "tok", Host: "cloud.example.com", Port: 1883}
	_ = c.Finalize()
	return c
}

func TestNewRejectsMissingHost(t *testing.T) {
	cfg := baseConfig()
	cfg.Cloud.Host = ""
	_, code := New(cfg, Callbacks{})
	if code != status.BadParameter {
		t.Errorf("code = %v, want BadParameter", code)
	}
}

func TestNewSecurePortRequiresBundleWhenPolicyIsBundle(t *testing.T) {
	cfg := baseConfig()
	cfg.Cloud.Port = 8883
	cfg.Cloud.TLSPolicy = config.TLSExplicitBundle
	cfg.Cloud.CABundle = ""
	_, code := New(cfg, Callbacks{})
	if code != status.BadParameter {
		t.Errorf("code = %v, want BadParameter", code)
	}
}

func TestNewSecurePortMissingBundleFileIsNotFound(t *testing.T) {
	cfg := baseConfig()
	cfg.Cloud.Port = 8883
	cfg.Cloud.TLSPolicy = config.TLSExplicitBundle
	cfg.Cloud.CABundle = "/no/such/bundle.pem"
	_, code := New(cfg, Callbacks{})
	if code != status.NotFound {
		t.Errorf("code = %v, want NotFound", code)
	}
}

func TestNewRejectsSOCKS4Proxy(t *testing.T) {
	cfg := baseConfig()
	cfg.Proxy = config.ProxyConfig{Type: config.ProxyTypeSOCKS4, Host: "proxy", Port: 1080}
	_, code := New(cfg, Callbacks{})
	if code != status.NotSupported {
		t.Errorf("code = %v, want NotSupported", code)
	}
}

func TestBrokerURLSelectsTransportByPort(t *testing.T) {
	cases := map[int]string{
		1883: "tcp://host:1883",
		8883: "ssl://host:8883",
		443:  "wss://host:443",
	}
	for port, want := range cases {
		if got := brokerURL("host", port); got != want {
			t.Errorf("brokerURL(host, %d) = %q, want %q", port, got, want)
		}
	}
}

func TestOnMessageInvokesCallback(t *testing.T) {
	var gotTopic string
	var gotPayload []byte
	a := &Adapter{cb: Callbacks{
		OnMessage: func(topic string, payload []byte) {
			gotTopic = topic
			gotPayload = payload
		},
	}}

	a.onMessage(&mockClient{}, &mockMessage{topic: "reply/0001", payload: []byte(`{"1":{"success":true}}`)})

	if gotTopic != "reply/0001" {
		t.Errorf("topic = %q", gotTopic)
	}
	if string(gotPayload) != `{"1":{"success":true}}` {
		t.Errorf("payload = %q", gotPayload)
	}
}

func TestPublishFiresOnPublishCallback(t *testing.T) {
	done := make(chan uint16, 1)
	a := &Adapter{cb: Callbacks{OnPublish: func(mid uint16) { done <- mid }}}
	a.WithClient(&mockClient{})

	a.Publish("api/0001", []byte(`{}`))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnPublish callback never fired")
	}
}

func TestOnConnectAndDisconnectCallbacks(t *testing.T) {
	var connected bool
	var disconnectErr error
	a := &Adapter{cb: Callbacks{
		OnConnect:    func(ok bool) { connected = ok },
		OnDisconnect: func(err error) { disconnectErr = err },
	}}

	a.onConnect(&mockClient{})
	if !connected {
		t.Error("expected OnConnect(true)")
	}

	a.onConnectionLost(&mockClient{}, nil)
	if disconnectErr != nil {
		t.Errorf("disconnectErr = %v, want nil", disconnectErr)
	}
}

func TestConnectReportsFailureWhenTokenErrors(t *testing.T) {
	results := make(chan bool, 1)
	a := &Adapter{cb: Callbacks{OnConnect: func(ok bool) { results <- ok }}}
	a.WithClient(&failingConnectClient{err: errors.New("connection refused")})

	a.Connect()

	select {
	case ok := <-results:
		if ok {
			t.Error("expected OnConnect(false) on a failing connect token")
		}
	case <-time.After(time.Second):
		t.Fatal("OnConnect was never invoked for a failed connect")
	}
}
