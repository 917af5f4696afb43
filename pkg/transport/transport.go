// Package transport wraps the paho MQTT client: broker selection (plain
// TCP vs. WebSocket-tunnelled), TLS context construction, proxy dialing,
// and the four broker callbacks (on-connect, on-disconnect, on-message,
// on-publish) that feed the Session Manager and Work Dispatcher.
package transport

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/security"
	"github.com/wheelos-io/thingcore/pkg/status"
)

const keepAlive = 60 * time.Second

// 443 (WebSocket) and 8883 (plain TLS MQTT) both require a TLS context;
// 443 additionally selects the WebSocket transport.
func isSecurePort(port int) bool { return port == 443 || port == 8883 }

// Callbacks are invoked from paho's internal goroutines. The Session
// Manager supplies these at construction time; this package never
// mutates connection state itself — mapping a CONNACK result to a state
// transition is the caller's job.
type Callbacks struct {
	// OnConnect reports whether the broker accepted the connection.
	OnConnect func(success bool)
	// OnDisconnect reports the broker-initiated disconnect error, if any.
	OnDisconnect func(err error)
	// OnMessage delivers a raw inbound message for reply/ and notify/
	// topics; the caller decides how to parse and dispatch it.
	OnMessage func(topic string, payload []byte)
	// OnPublish resolves a published MQTT message ID, for the reply
	// tracker's mid-to-topic-counter bookkeeping.
	OnPublish func(mid uint16)
}

// Adapter wraps a paho mqtt.Client built from a validated Config.
type Adapter struct {
	client mqtt.Client
	cb     Callbacks
}

// New validates cfg and builds an Adapter without opening any socket.
// Configuration errors fatal to connecting are returned here as the
// matching status code, before any dial is attempted.
func New(cfg *config.Config, cb Callbacks) (*Adapter, status.Code) {
	if cfg.Cloud.Host == "" || cfg.Cloud.Port == 0 {
		return nil, status.BadParameter
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Cloud.Host, cfg.Cloud.Port)).
		SetClientID(cfg.ThingKey()).
		SetUsername(cfg.ThingKey()).
		SetPassword(cfg.Cloud.Token).
		SetKeepAlive(keepAlive).
		SetCleanSession(true).
		// The Session Manager owns reconnect (the keep-alive budget and
		// "last connected" bookkeeping live there, not in paho options);
		// paho must not reconnect on its own.
		SetAutoReconnect(false).
		SetConnectRetry(false)

	if isSecurePort(cfg.Cloud.Port) {
		tlsCfg, err := security.Config(security.Policy(cfg.Cloud.TLSPolicy), cfg.Cloud.CABundle)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, status.NotFound
			}
			return nil, status.BadParameter
		}
		opts.SetTLSConfig(tlsCfg)
	}

	if cfg.Proxy.Enabled() {
		dialFn, code := customOpenConnectionFn(cfg.Proxy)
		if code != status.Success {
			return nil, code
		}
		opts.CustomOpenConnectionFn = dialFn
	}

	a := &Adapter{cb: cb}
	opts.SetOnConnectHandler(a.onConnect)
	opts.SetConnectionLostHandler(a.onConnectionLost)
	opts.SetDefaultPublishHandler(a.onMessage)

	a.client = mqtt.NewClient(opts)
	return a, status.Success
}

// brokerURL picks ssl:// for the plain-TLS secure port, wss:// for the
// WebSocket-tunnelled port, tcp:// otherwise.
func brokerURL(host string, port int) string {
	scheme := "tcp"
	switch port {
	case 443:
		scheme = "wss"
	case 8883:
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// WithClient overrides the wrapped paho client, for test injection of a
// mock mqtt.Client.
func (a *Adapter) WithClient(c mqtt.Client) { a.client = c }

// Connect starts an asynchronous connect attempt. It does not block the
// caller for CONNACK; the outcome is reported via Callbacks.OnConnect.
// paho's OnConnectHandler only fires on success, so a dial error or a
// CONNACK rejection is observed here, off the token returned by
// client.Connect(), the same token.Wait()/token.Error() idiom the
// teacher's vehicle agent uses for its own (synchronous) connect.
func (a *Adapter) Connect() {
	token := a.client.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Printf("transport: connect failed: %v", token.Error())
			if a.cb.OnConnect != nil {
				a.cb.OnConnect(false)
			}
		}
	}()
}

// Disconnect closes the connection, waiting up to waitMs milliseconds
// for in-flight work to finish.
func (a *Adapter) Disconnect(waitMs uint) {
	if a.client != nil {
		a.client.Disconnect(waitMs)
	}
}

// Subscribe subscribes to topic at QoS 1, routing messages through
// Callbacks.OnMessage — a single dispatcher for every subscribed topic
// rather than a distinct handler per subscription.
func (a *Adapter) Subscribe(topic string) error {
	token := a.client.Subscribe(topic, 1, a.onMessage)
	token.Wait()
	return token.Error()
}

// Publish sends payload on topic at QoS 1 and returns the broker message
// ID assigned to the publish. If Callbacks.OnPublish is set, it fires
// once the broker PUBACK arrives, used by the reply tracker's mid
// bookkeeping.
func (a *Adapter) Publish(topic string, payload []byte) (mqtt.Token, uint16) {
	token := a.client.Publish(topic, 1, false, payload)
	var mid uint16
	if pt, ok := token.(*mqtt.PublishToken); ok {
		mid = pt.MessageID()
	}
	if a.cb.OnPublish != nil {
		go func() {
			token.Wait()
			a.cb.OnPublish(mid)
		}()
	}
	return token, mid
}

// IsConnected reports the paho client's own connection flag, used for
// Client.IsAlive (distinct from the Session Manager's own State, which
// also accounts for the Connecting phase).
func (a *Adapter) IsConnected() bool {
	return a.client != nil && a.client.IsConnected()
}

func (a *Adapter) onConnect(_ mqtt.Client) {
	log.Print("transport: broker CONNACK received")
	if a.cb.OnConnect != nil {
		a.cb.OnConnect(true)
	}
}

func (a *Adapter) onConnectionLost(_ mqtt.Client, err error) {
	if a.cb.OnDisconnect != nil {
		a.cb.OnDisconnect(err)
	}
}

func (a *Adapter) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if a.cb.OnMessage != nil {
		a.cb.OnMessage(msg.Topic(), msg.Payload())
	}
}
