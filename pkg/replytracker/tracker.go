// Package replytracker correlates outbound request batches with their
// eventual reply/TTTT messages, and outbound MQTT message IDs with the
// topic counter used to build each batch's correlation keys.
package replytracker

import (
	"fmt"
	"sync"
)

// Request is a pending outbound batch awaiting a reply. Done is closed
// exactly once, by Resolve or by Abandon.
type Request struct {
	Key     string
	Sent    []string // opcode names, in batch order, index i == reply key i+1
	Done    chan struct{}
	Replies map[string]Reply
	Err     error
}

// Reply mirrors protocol.Reply without importing pkg/protocol, keeping
// this package free of a wire-format dependency.
type Reply struct {
	Success    bool
	Params     map[string]any
	ErrorCodes []int
}

// Tracker holds every in-flight request batch, keyed by the topic
// counter ("TTTT") it was published under, plus a map from MQTT message
// ID to that same counter so an on-publish callback can cross-reference
// a send before the counter is known to the caller.
//
// All mutation goes through the single send lock (Lock/Unlock), matching
// the original SDK's single critical section around "assign a topic
// counter, publish, and record the pending request" — the lock is never
// held across the publish I/O itself, only the bookkeeping around it.
type Tracker struct {
	mu   sync.Mutex
	next int
	byTopicCounter map[string]*Request
	byMessageID    map[uint16]string
	order          []string // insertion order of pending topic counters, for diagnostics
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		byTopicCounter: make(map[string]*Request),
		byMessageID:    make(map[uint16]string),
	}
}

// Lock acquires the send lock. Callers hold it only across topic-counter
// assignment, publish, and Track — never across waiting for a reply.
func (t *Tracker) Lock() { t.mu.Lock() }

// Unlock releases the send lock.
func (t *Tracker) Unlock() { t.mu.Unlock() }

// NextCounter returns the next topic counter ("TTTT") to publish under.
// Must be called with the lock held.
func (t *Tracker) NextCounter() string {
	t.next++
	return fmt.Sprintf("%04d", t.next)
}

// Track records a pending request under topicCounter, built from the
// opcode names in batch order. Must be called with the lock held,
// immediately after the publish that carries topicCounter succeeds.
func (t *Tracker) Track(topicCounter string, sent []string) *Request {
	req := &Request{
		Key:  topicCounter,
		Sent: sent,
		Done: make(chan struct{}),
	}
	t.byTopicCounter[topicCounter] = req
	t.order = append(t.order, topicCounter)
	return req
}

// BindMessageID associates the paho message ID assigned to the publish
// with the topic counter it carried, so TopicCounterForMessageID can
// resolve it from an on-publish callback. Must be called with the lock
// held.
func (t *Tracker) BindMessageID(mid uint16, topicCounter string) {
	t.byMessageID[mid] = topicCounter
}

// TopicCounterForMessageID resolves a paho message ID back to the topic
// counter it was published under, if still pending.
func (t *Tracker) TopicCounterForMessageID(mid uint16) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tc, ok := t.byMessageID[mid]
	return tc, ok
}

// ForgetMessageID drops the message-ID association once the publish has
// been acknowledged by the broker, to bound byMessageID's size.
func (t *Tracker) ForgetMessageID(mid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMessageID, mid)
}

// Resolve delivers a decoded reply/TTTT payload to the pending request
// registered under topicCounter, if any, and removes it from tracking.
// Replies for an unknown topic counter are reported to the caller via ok
// so they can be logged and dropped.
func (t *Tracker) Resolve(topicCounter string, replies map[string]Reply) (*Request, bool) {
	t.mu.Lock()
	req, ok := t.byTopicCounter[topicCounter]
	if ok {
		delete(t.byTopicCounter, topicCounter)
		t.removeFromOrder(topicCounter)
	}
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	req.Replies = replies
	close(req.Done)
	return req, true
}

func (t *Tracker) removeFromOrder(topicCounter string) {
	for i, k := range t.order {
		if k == topicCounter {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// Pending returns the topic counters still awaiting a reply, in the
// order their requests were tracked — used to report unfinished
// requests at disconnect, per the reply-timeout open question.
func (t *Tracker) Pending() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// AbandonAll fails every pending request with err, used at disconnect
// for requests that never received a reply. It does not schedule any
// future sweep; pending requests are only ever resolved by a reply or by
// this disconnect-time call.
func (t *Tracker) AbandonAll(err error) {
	t.mu.Lock()
	pending := make([]*Request, 0, len(t.byTopicCounter))
	for _, req := range t.byTopicCounter {
		pending = append(pending, req)
	}
	t.byTopicCounter = make(map[string]*Request)
	t.byMessageID = make(map[uint16]string)
	t.order = nil
	t.mu.Unlock()

	for _, req := range pending {
		req.Err = err
		close(req.Done)
	}
}
