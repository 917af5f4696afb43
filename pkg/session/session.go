// Package session owns the connection state machine and the single
// driver loop that pumps reconnect attempts and publish-queue flushes.
// It wraps pkg/transport's Adapter and feeds pkg/work's worker pool with
// inbound-message and flush-publish items; it knows nothing about the
// wire protocol itself (that is supplied via Hooks by the Client
// facade).
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/publish"
	"github.com/wheelos-io/thingcore/pkg/replytracker"
	"github.com/wheelos-io/thingcore/pkg/status"
	"github.com/wheelos-io/thingcore/pkg/transport"
	"github.com/wheelos-io/thingcore/pkg/work"
)

// State is a connection state value.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// pollInterval bounds how often Connect/Disconnect poll for a state or
// queue-depth change.
const pollInterval = 50 * time.Millisecond

// Hooks decouple the driver loop from the wire protocol: the Client
// facade supplies how an inbound message is decoded/dispatched and how
// the publish queue is flushed.
type Hooks struct {
	OnInboundMessage func(ctx context.Context, topic string, payload []byte)
	OnFlushPublish   func(ctx context.Context)
}

// Manager drives the connection state machine. State is written under mu
// by Connect, Disconnect, the driver loop, and the transport's connect
// and connection-lost callbacks; everything else reads it through
// State()/IsConnected().
type Manager struct {
	cfg      *config.Config
	hooks    Hooks
	publishQ *publish.Queue
	workQ    *work.Queue
	tracker  *replytracker.Tracker

	mu            sync.RWMutex
	state         State
	lastConnected time.Time

	adapter    *transport.Adapter
	cancel     context.CancelFunc
	driverDone chan struct{}
}

// New returns a disconnected Manager. tracker, publishQ, and workQ are
// shared with the Client facade that constructs the protocol-aware
// Hooks.
func New(cfg *config.Config, tracker *replytracker.Tracker, publishQ *publish.Queue, workQ *work.Queue, hooks Hooks) *Manager {
	return &Manager{
		cfg:           cfg,
		hooks:         hooks,
		publishQ:      publishQ,
		workQ:         workQ,
		tracker:       tracker,
		lastConnected: time.Now(),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the session is in the Connected state.
func (m *Manager) IsConnected() bool { return m.State() == Connected }

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Adapter exposes the underlying transport for the Client facade's send
// path; it is nil until a successful Connect.
func (m *Manager) Adapter() *transport.Adapter { return m.adapter }

// Connect moves the state to Connecting, builds the Transport Adapter,
// starts the driver loop and worker pool, and blocks up to timeout
// (0 = unbounded) waiting for the state to become Connected, per spec
// §4.1.
func (m *Manager) Connect(ctx context.Context, timeout time.Duration) status.Code {
	m.setState(Connecting)

	adapter, code := transport.New(m.cfg, transport.Callbacks{
		OnConnect:    m.handleConnect,
		OnDisconnect: m.handleDisconnect,
		OnMessage:    m.handleMessage,
		OnPublish:    m.handlePublishAck,
	})
	if code != status.Success {
		m.setState(Disconnected)
		return code
	}
	m.adapter = adapter
	m.adapter.Connect()

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.driverDone = make(chan struct{})

	go func() {
		if err := work.Run(runCtx, m.cfg.ThreadCount, m.workQ); err != nil {
			log.Printf("session: worker pool exited: %v", err)
		}
	}()
	go m.driverLoop(runCtx)

	deadline := time.Now().Add(timeout)
	for timeout == 0 || time.Now().Before(deadline) {
		switch m.State() {
		case Connected:
			return status.Success
		case Disconnected:
			// The initial connect attempt failed outright (rather than
			// merely being slow); stop the goroutines we just started.
			cancel()
			<-m.driverDone
			return status.Failure
		}
		time.Sleep(pollInterval)
	}
	return status.TimedOut
}

// Disconnect drains the publish queue, optionally waits for the reply
// tracker to empty, then stops the driver loop, worker pool, and
// transport.
func (m *Manager) Disconnect(waitForReplies bool, timeout time.Duration) status.Code {
	if m.publishQ.Len() > 0 {
		m.workQ.Submit(work.FlushPublish{Handle_: m.hooks.OnFlushPublish})
	}

	deadline := time.Now().Add(timeout)
	for (timeout == 0 || time.Now().Before(deadline)) && m.workQ.Len() > 0 {
		time.Sleep(pollInterval)
	}

	if waitForReplies && m.IsConnected() {
		for (timeout == 0 || time.Now().Before(deadline)) && len(m.tracker.Pending()) > 0 {
			time.Sleep(pollInterval)
		}
	}

	if m.cancel != nil {
		m.cancel()
		<-m.driverDone
	}
	if m.adapter != nil {
		m.adapter.Disconnect(250)
	}

	if pending := m.tracker.Pending(); len(pending) > 0 {
		log.Printf("session: %d request(s) never received a reply: %v", len(pending), pending)
	}
	m.tracker.AbandonAll(errors.New("session: disconnected"))
	m.setState(Disconnected)
	return status.Success
}

// driverLoop is the single goroutine that owns reconnect attempts and
// triggers publish-queue flushes. It does not need to pump the broker's
// network I/O itself — paho already runs that on its own goroutines —
// so each tick only checks for a lapsed connection and a non-empty
// publish queue.
func (m *Manager) driverLoop(ctx context.Context) {
	defer close(m.driverDone)

	loopTime := time.Duration(m.cfg.LoopTime) * time.Second
	if loopTime <= 0 {
		loopTime = time.Second
	}
	ticker := time.NewTicker(loopTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.publishQ.Flush:
			// An alarm was pushed; flush immediately rather than waiting
			// for the next tick.
			if m.IsConnected() {
				m.workQ.Submit(work.FlushPublish{Handle_: m.hooks.OnFlushPublish})
			}
		case <-ticker.C:
			if m.State() == Disconnected {
				if m.keepAliveExpired() {
					log.Printf("session: no connection after %ds, exiting", m.cfg.KeepAlive)
					return
				}
				m.setState(Connecting)
				m.adapter.Connect()
				continue
			}
			if m.publishQ.Len() > 0 {
				m.workQ.Submit(work.FlushPublish{Handle_: m.hooks.OnFlushPublish})
			}
		}
	}
}

// keepAliveExpired reports whether the reconnect budget has elapsed
// since the session was last connected. A budget of 0 means retry
// forever.
func (m *Manager) keepAliveExpired() bool {
	if m.cfg.KeepAlive == 0 {
		return false
	}
	m.mu.RLock()
	last := m.lastConnected
	m.mu.RUnlock()
	return time.Since(last) >= time.Duration(m.cfg.KeepAlive)*time.Second
}

func (m *Manager) handleConnect(success bool) {
	if !success {
		m.setState(Disconnected)
		return
	}
	m.setState(Connected)
	m.mu.Lock()
	m.lastConnected = time.Now()
	m.mu.Unlock()

	if err := m.adapter.Subscribe("reply/+"); err != nil {
		log.Printf("session: subscribe reply/+: %v", err)
	}
	if err := m.adapter.Subscribe("notify/+"); err != nil {
		log.Printf("session: subscribe notify/+: %v", err)
	}

	if pending := m.tracker.Pending(); len(pending) > 0 {
		log.Printf("session: reconnected with %d request(s) still awaiting a reply from before the drop: %v", len(pending), pending)
	}
}

func (m *Manager) handleDisconnect(err error) {
	m.setState(Disconnected)
	m.mu.Lock()
	m.lastConnected = time.Now()
	m.mu.Unlock()
	if err != nil {
		log.Printf("session: connection lost: %v", err)
	}
}

func (m *Manager) handleMessage(topic string, payload []byte) {
	if m.hooks.OnInboundMessage == nil {
		return
	}
	m.workQ.Submit(work.InboundMessage{Topic: topic, Payload: payload, Handle_: m.hooks.OnInboundMessage})
}

func (m *Manager) handlePublishAck(mid uint16) {
	if tc, ok := m.tracker.TopicCounterForMessageID(mid); ok {
		m.tracker.ForgetMessageID(mid)
		log.Printf("session: broker acked mid=%d (topic counter %s)", mid, tc)
	}
}
