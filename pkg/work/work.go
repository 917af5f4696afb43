// Package work runs the fixed-size worker pool that drains inbound MQTT
// messages, publish-queue flushes, action requests, and file transfers
// off the MQTT callback goroutine.
package work

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Item is one unit of work dispatched to a worker. Handle is invoked on
// a worker goroutine; a panic is recovered and logged, and the
// worker continues processing the next item regardless.
type Item interface {
	Handle(ctx context.Context)
}

// InboundMessage wraps a decoded reply/notify MQTT message for handling.
type InboundMessage struct {
	Topic   string
	Payload []byte
	Handle_ func(ctx context.Context, topic string, payload []byte)
}

func (m InboundMessage) Handle(ctx context.Context) { m.Handle_(ctx, m.Topic, m.Payload) }

// FlushPublish requests a drain of the publish queue.
type FlushPublish struct {
	Handle_ func(ctx context.Context)
}

func (f FlushPublish) Handle(ctx context.Context) { f.Handle_(ctx) }

// ActionRequest wraps a dispatched action invocation.
type ActionRequest struct {
	RequestID string
	Action    string
	Params    map[string]any
	Handle_   func(ctx context.Context, requestID, action string, params map[string]any)
}

func (a ActionRequest) Handle(ctx context.Context) {
	a.Handle_(ctx, a.RequestID, a.Action, a.Params)
}

// FileDownload wraps a C2D file transfer request.
type FileDownload struct {
	FileID  string
	Handle_ func(ctx context.Context, fileID string)
}

func (f FileDownload) Handle(ctx context.Context) { f.Handle_(ctx, f.FileID) }

// FileUpload wraps a D2C file transfer request.
type FileUpload struct {
	FileID  string
	Handle_ func(ctx context.Context, fileID string)
}

func (f FileUpload) Handle(ctx context.Context) { f.Handle_(ctx, f.FileID) }

// Queue is a bounded channel of work items plus an errgroup-managed pool
// of worker goroutines draining it.
type Queue struct {
	items    chan Item
	loopTime time.Duration
}

// NewQueue returns a work queue with the given channel capacity.
func NewQueue(capacity int, loopTime time.Duration) *Queue {
	return &Queue{
		items:    make(chan Item, capacity),
		loopTime: loopTime,
	}
}

// Submit enqueues item, blocking if the queue is full.
func (q *Queue) Submit(item Item) {
	q.items <- item
}

// Len reports how many items are currently buffered.
func (q *Queue) Len() int {
	return len(q.items)
}

// Run starts threadCount worker goroutines draining the queue until ctx
// is canceled, then waits for all of them to return. Each worker pulls
// one item at a time, blocking until an item arrives or ctx is canceled;
// there is no per-tick dequeue timeout, cancellation is observed directly.
func Run(ctx context.Context, threadCount int, q *Queue) error {
	g, ctx := errgroup.WithContext(ctx)
	var wg sync.WaitGroup
	wg.Add(threadCount)

	for i := 0; i < threadCount; i++ {
		g.Go(func() error {
			defer wg.Done()
			worker(ctx, q)
			return nil
		})
	}

	return g.Wait()
}

func worker(ctx context.Context, q *Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-q.items:
			runItem(ctx, item)
		}
	}
}

func runItem(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("work: recovered panic handling %T: %v", item, r)
		}
	}()
	item.Handle(ctx)
}
