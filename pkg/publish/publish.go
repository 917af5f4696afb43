// Package publish holds the FIFO queue of pending telemetry/attribute/
// alarm/location/event publishes awaiting the next flush to the cloud.
package publish

import (
	"sync"
	"time"

	"github.com/wheelos-io/thingcore/pkg/protocol"
)

// Item is one pending publish. Each variant below implements it by
// returning the wire command it should become.
type Item interface {
	// Command builds the wire command for this item under thingKey.
	Command(thingKey string) protocol.Command
	// Description is a short human-readable summary, used for logging.
	Description() string
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Alarm is a pending alarm.publish.
type Alarm struct {
	Name      string
	State     int
	Message   *string
	Timestamp string
}

// NewAlarm stamps the current time.
func NewAlarm(name string, state int, message *string) Alarm {
	return Alarm{Name: name, State: state, Message: message, Timestamp: timestamp()}
}

func (a Alarm) Command(thingKey string) protocol.Command {
	return protocol.AlarmPublish(thingKey, a.Name, a.State, a.Message, a.Timestamp)
}

func (a Alarm) Description() string {
	return "Alarm Publish " + a.Name
}

// Attribute is a pending attribute.publish (string-valued).
type Attribute struct {
	Name      string
	Value     string
	Timestamp string
}

func NewAttribute(name, value string) Attribute {
	return Attribute{Name: name, Value: value, Timestamp: timestamp()}
}

func (a Attribute) Command(thingKey string) protocol.Command {
	return protocol.AttributePublish(thingKey, a.Name, a.Value, a.Timestamp)
}

func (a Attribute) Description() string {
	return "Attribute Publish " + a.Name
}

// Telemetry is a pending property.publish (numeric-valued).
type Telemetry struct {
	Name      string
	Value     float64
	Timestamp string
}

func NewTelemetry(name string, value float64) Telemetry {
	return Telemetry{Name: name, Value: value, Timestamp: timestamp()}
}

func (t Telemetry) Command(thingKey string) protocol.Command {
	return protocol.PropertyPublish(thingKey, t.Name, t.Value, t.Timestamp)
}

func (t Telemetry) Description() string {
	return "Property Publish " + t.Name
}

// Location is a pending location.publish.
type Location struct {
	Latitude, Longitude float64
	Params              protocol.LocationParams
	Timestamp           string
}

func NewLocation(lat, lng float64, params protocol.LocationParams) Location {
	return Location{Latitude: lat, Longitude: lng, Params: params, Timestamp: timestamp()}
}

func (l Location) Command(thingKey string) protocol.Command {
	return protocol.LocationPublish(thingKey, l.Latitude, l.Longitude, l.Params, l.Timestamp)
}

func (l Location) Description() string {
	return "Location Publish"
}

// Event is a pending log.publish, used for free-form event messages.
type Event struct {
	Message   string
	Timestamp string
}

func NewEvent(message string) Event {
	return Event{Message: message, Timestamp: timestamp()}
}

func (e Event) Command(thingKey string) protocol.Command {
	return protocol.LogPublish(thingKey, e.Message, e.Timestamp)
}

func (e Event) Description() string {
	return "Log Publish"
}

// Queue is a FIFO of pending publish items, safe for concurrent use by
// the publisher goroutines and the flush worker.
type Queue struct {
	mu    sync.Mutex
	items []Item
	// Flush is signaled whenever an item is pushed that demands an
	// immediate flush (alarms), instead of waiting for the next
	// scheduled drain.
	Flush chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{Flush: make(chan struct{}, 1)}
}

// Push enqueues item. Alarm items additionally signal Flush, matching
// the original's immediate-flush-on-alarm behavior.
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	_, isAlarm := item.(Alarm)
	q.mu.Unlock()

	if isAlarm {
		select {
		case q.Flush <- struct{}{}:
		default:
		}
	}
}

// DrainAll removes and returns every queued item in FIFO order, matching
// handle_publish's drain-in-one-pass loop over the publish queue.
func (q *Queue) DrainAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	return drained
}

// Len reports the number of items currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
