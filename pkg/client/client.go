// Package client is the application-facing facade, wiring the Session
// Manager, Transport Adapter, Reply Tracker, Publish Queue, Work
// Dispatcher, Action Registry, Mailbox handler, and File Transfer Engine
// into the single surface an application imports.
package client

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wheelos-io/thingcore/pkg/action"
	"github.com/wheelos-io/thingcore/pkg/config"
	"github.com/wheelos-io/thingcore/pkg/filetransfer"
	"github.com/wheelos-io/thingcore/pkg/mailbox"
	"github.com/wheelos-io/thingcore/pkg/protocol"
	"github.com/wheelos-io/thingcore/pkg/publish"
	"github.com/wheelos-io/thingcore/pkg/replytracker"
	"github.com/wheelos-io/thingcore/pkg/session"
	"github.com/wheelos-io/thingcore/pkg/status"
	"github.com/wheelos-io/thingcore/pkg/work"
)

// pollInterval bounds the blocking file-transfer wait loops, the Go
// analog of request_download/request_upload's sleep(0.1) spin.
const pollInterval = 100 * time.Millisecond

// Client is the thing-to-cloud connection an application holds for its
// entire lifetime: one Session Manager, one set of queues, one action
// registry, one file-transfer engine.
type Client struct {
	cfg     *config.Config
	tracker *replytracker.Tracker
	publishQ *publish.Queue
	workQ    *work.Queue
	actions  *action.Registry
	ft       *filetransfer.Engine
	ftPending *filetransfer.Registry // keyed by "<topicCounter>-<index>"
	ftByID    *filetransfer.Registry // keyed by the cloud-assigned fileId
	session   *session.Manager
}

// New validates cfg and builds a disconnected Client. It mirrors
// Client.__init__'s "half-construct never happens" guarantee: any
// configuration error is returned before any package is wired up.
func New(cfg *config.Config) (*Client, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	ft, err := filetransfer.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("client: file transfer engine: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		tracker:   replytracker.New(),
		publishQ:  publish.NewQueue(),
		workQ:     work.NewQueue(256, time.Duration(cfg.LoopTime)*time.Second),
		actions:   action.NewRegistry(),
		ft:        ft,
		ftPending: filetransfer.NewRegistry(),
		ftByID:    filetransfer.NewRegistry(),
	}
	c.session = session.New(cfg, c.tracker, c.publishQ, c.workQ, session.Hooks{
		OnInboundMessage: c.handleInbound,
		OnFlushPublish:   c.flushPublish,
	})
	return c, nil
}

// --- connection lifecycle ---

// Connect opens the cloud connection, blocking up to timeout (0 =
// unbounded) for the broker handshake to complete.
func (c *Client) Connect(ctx context.Context, timeout time.Duration) status.Code {
	return c.session.Connect(ctx, timeout)
}

// Disconnect drains pending publishes and, if waitForReplies, pending
// replies, before tearing down the connection.
func (c *Client) Disconnect(waitForReplies bool, timeout time.Duration) status.Code {
	return c.session.Disconnect(waitForReplies, timeout)
}

// IsConnected reports whether the Session Manager considers itself
// connected (post-CONNACK, pre-disconnect).
func (c *Client) IsConnected() bool { return c.session.IsConnected() }

// IsAlive reports the underlying transport's own connection flag,
// distinct from IsConnected during the brief Connecting phase.
func (c *Client) IsAlive() bool {
	adapter := c.session.Adapter()
	return adapter != nil && adapter.IsConnected()
}

// --- action registration ---

// RegisterCallback associates a Go function with actionName.
func (c *Client) RegisterCallback(actionName string, handler action.Handler) status.Code {
	if err := c.actions.Register(actionName, handler); err != nil {
		log.Print(err)
		return status.Exists
	}
	return status.Success
}

// RegisterCommand associates an external program with actionName.
func (c *Client) RegisterCommand(actionName, path string, args ...string) status.Code {
	return c.RegisterCallback(actionName, action.Command{Path: path, Args: args})
}

// Deregister removes actionName's handler.
func (c *Client) Deregister(actionName string) status.Code {
	if err := c.actions.Deregister(actionName); err != nil {
		log.Print(err)
		return status.NotFound
	}
	return status.Success
}

// Acknowledge sends a mailbox.ack for a manually-handled action request.
func (c *Client) Acknowledge(requestID string, code status.Code, errorMessage string, outParams map[string]any) status.Code {
	cloudErrorCode := status.ToCloudErrorCode(code)
	cmd := protocol.MailboxAck(requestID, cloudErrorCode, errorMessage, outParams)
	_, st := c.send(context.Background(), []protocol.Command{cmd},
		[]string{fmt.Sprintf("Action Acknowledge %s %d: %q", requestID, cloudErrorCode, errorMessage)})
	return st
}

// ProgressUpdate sends a mailbox.update progress message for a
// long-running action.
func (c *Client) ProgressUpdate(requestID, message string) status.Code {
	cmd := protocol.MailboxUpdate(requestID, message)
	_, st := c.send(context.Background(), []protocol.Command{cmd},
		[]string{fmt.Sprintf("Update Action Progress %s %q", requestID, message)})
	return st
}

// --- publishing ---

// PublishTelemetry queues a numeric property.publish.
func (c *Client) PublishTelemetry(name string, value float64) status.Code {
	c.publishQ.Push(publish.NewTelemetry(name, value))
	return status.Success
}

// PublishAttribute queues a string attribute.publish.
func (c *Client) PublishAttribute(name, value string) status.Code {
	c.publishQ.Push(publish.NewAttribute(name, value))
	return status.Success
}

// PublishAlarm queues an alarm.publish, which also triggers an immediate
// flush rather than waiting for the next driver-loop tick.
func (c *Client) PublishAlarm(name string, state int, message *string) status.Code {
	c.publishQ.Push(publish.NewAlarm(name, state, message))
	return status.Success
}

// PublishLocation queues a location.publish.
func (c *Client) PublishLocation(lat, lng float64, opt protocol.LocationParams) status.Code {
	c.publishQ.Push(publish.NewLocation(lat, lng, opt))
	return status.Success
}

// PublishEvent queues a free-form log.publish.
func (c *Client) PublishEvent(message string) status.Code {
	c.publishQ.Push(publish.NewEvent(message))
	return status.Success
}

// --- file transfer ---

// FileDownload requests a C2D file transfer. If blocking, it spin-waits
// up to timeout (0 = unbounded) for the transfer to complete.
func (c *Client) FileDownload(ctx context.Context, fileName, localPath string, global, blocking bool, timeout time.Duration) status.Code {
	transfer := filetransfer.NewDownload(fileName, localPath, global, nil)
	cmd := protocol.FileGet(c.cfg.ThingKey(), fileName, global)
	tc, st := c.send(ctx, []protocol.Command{cmd}, []string{"Download " + fileName})
	if st != status.Success {
		return st
	}
	c.ftPending.Put(tc+"-1", transfer)

	if !blocking {
		return status.Success
	}
	return waitFor(transfer, timeout)
}

// FileUpload requests a D2C file transfer, computing the local file's
// CRC-32 before issuing file.put.
func (c *Client) FileUpload(ctx context.Context, localPath, uploadName string, global, blocking bool, timeout time.Duration) status.Code {
	if uploadName == "" {
		uploadName = localPath
	}
	if !filepath.IsAbs(localPath) {
		log.Printf("client: upload path %q is not absolute, upload cancelled", localPath)
		return status.NotFound
	}
	checksum, err := filetransfer.ComputeCRC32(localPath)
	if err != nil {
		log.Printf("client: cannot find %q, upload cancelled: %v", localPath, err)
		return status.NotFound
	}

	transfer := filetransfer.NewUpload(uploadName, localPath, global, nil)
	cmd := protocol.FilePut(c.cfg.ThingKey(), uploadName, checksum, global)
	tc, st := c.send(ctx, []protocol.Command{cmd}, []string{fmt.Sprintf("Upload %s as %s", localPath, uploadName)})
	if st != status.Success {
		return st
	}
	c.ftPending.Put(tc+"-1", transfer)

	if !blocking {
		return status.Success
	}
	return waitFor(transfer, timeout)
}

func waitFor(transfer *filetransfer.Transfer, timeout time.Duration) status.Code {
	deadline := time.Now().Add(timeout)
	for timeout == 0 || time.Now().Before(deadline) {
		if code, done := transfer.Status(); done {
			return code
		}
		time.Sleep(pollInterval)
	}
	return status.TimedOut
}

// --- logging passthroughs ---

func (c *Client) Critical(format string, args ...any) { c.logAt(config.LogCritical, format, args...) }
func (c *Client) Error(format string, args ...any)    { c.logAt(config.LogError, format, args...) }
func (c *Client) Warning(format string, args ...any)  { c.logAt(config.LogWarning, format, args...) }
func (c *Client) Info(format string, args ...any)     { c.logAt(config.LogInfo, format, args...) }
func (c *Client) Debug(format string, args ...any)    { c.logAt(config.LogDebug, format, args...) }

func (c *Client) logAt(level config.LogLevel, format string, args ...any) {
	if level < c.cfg.LogLevel {
		return
	}
	log.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

// --- send path ---

// send batch-encodes commands, assigns a topic counter under the tracker's
// send lock, publishes, and records the pending request. It returns the
// assigned topic counter so callers needing reply correlation (file
// transfer) can register against it.
func (c *Client) send(_ context.Context, commands []protocol.Command, descriptions []string) (string, status.Code) {
	if !c.session.IsConnected() {
		return "", status.Failure
	}
	payload, err := protocol.EncodeBatch(commands)
	if err != nil {
		return "", status.BadParameter
	}
	sent := make([]string, len(commands))
	for i, cmd := range commands {
		sent[i] = cmd.Name
	}

	c.tracker.Lock()
	tc := c.tracker.NextCounter()
	_, mid := c.session.Adapter().Publish("api/"+tc, payload)
	c.tracker.BindMessageID(mid, tc)
	c.tracker.Track(tc, sent)
	c.tracker.Unlock()

	for i, desc := range descriptions {
		log.Printf("client: queued %s-%d - %s", tc, i+1, desc)
	}
	return tc, status.Success
}

// flushPublish drains every queued publish item into a single batched
// send.
func (c *Client) flushPublish(ctx context.Context) {
	items := c.publishQ.DrainAll()
	if len(items) == 0 {
		return
	}
	commands := make([]protocol.Command, len(items))
	descriptions := make([]string, len(items))
	thingKey := c.cfg.ThingKey()
	for i, item := range items {
		commands[i] = item.Command(thingKey)
		descriptions[i] = item.Description()
	}
	if _, st := c.send(ctx, commands, descriptions); st != status.Success {
		log.Printf("client: failed to flush %d queued publish(es)", len(items))
	}
}

// --- inbound dispatch ---

func (c *Client) handleInbound(ctx context.Context, topic string, payload []byte) {
	switch {
	case strings.HasPrefix(topic, "notify/"):
		c.handleNotify(ctx, topic)
	case strings.HasPrefix(topic, "reply/"):
		c.handleReply(ctx, strings.TrimPrefix(topic, "reply/"), payload)
	default:
		log.Printf("client: unsupported topic %q", topic)
	}
}

func (c *Client) handleNotify(ctx context.Context, topic string) {
	if !mailbox.IsActivityNotification(topic) {
		return
	}
	log.Print("client: received notification of mailbox activity")
	c.send(ctx, []protocol.Command{mailbox.CheckCommand()}, []string{"Mailbox Check"})
}

func (c *Client) handleReply(ctx context.Context, topicCounter string, payload []byte) {
	replies, err := protocol.DecodeReplies(payload)
	if err != nil {
		log.Printf("client: failed to decode reply/%s: %v", topicCounter, err)
		return
	}

	req, ok := c.tracker.Resolve(topicCounter, toTrackerReplies(replies))
	if !ok {
		log.Printf("client: reply for unknown topic counter %s", topicCounter)
		return
	}

	for i, opcode := range req.Sent {
		reply, ok := replies[strconv.Itoa(i+1)]
		if !ok {
			continue
		}
		if reply.Success {
			log.Printf("client: received success for %s-%d (%s)", topicCounter, i+1, opcode)
		} else {
			log.Printf("client: received failure for %s-%d (%s): %v", topicCounter, i+1, opcode, reply.ErrorCodes)
		}
		c.handleOneReply(ctx, topicCounter, i+1, opcode, reply)
	}
}

func (c *Client) handleOneReply(ctx context.Context, topicCounter string, index int, opcode string, reply protocol.Reply) {
	key := fmt.Sprintf("%s-%d", topicCounter, index)

	switch opcode {
	case protocol.OpFileGet:
		transfer, ok := c.ftPending.Take(key)
		if !ok {
			return
		}
		if !reply.Success {
			transfer.Finish(status.TranslateCloudError(reply.ErrorCodes))
			return
		}
		fileID, _ := reply.Params["fileId"].(string)
		if checksum, ok := numericParam(reply.Params["crc32"]); ok {
			transfer.ExpectedCRC = uint32(checksum)
			transfer.HasCRC = true
		}
		c.ftByID.Put(fileID, transfer)
		c.workQ.Submit(work.FileDownload{FileID: fileID, Handle_: c.runDownload})

	case protocol.OpFilePut:
		transfer, ok := c.ftPending.Take(key)
		if !ok {
			return
		}
		if !reply.Success {
			transfer.Finish(status.Failure)
			return
		}
		fileID, _ := reply.Params["fileId"].(string)
		c.ftByID.Put(fileID, transfer)
		c.workQ.Submit(work.FileUpload{FileID: fileID, Handle_: c.runUpload})

	case protocol.OpMailboxCheck:
		if !reply.Success {
			return
		}
		for _, entry := range mailbox.ParseCheckReply(reply) {
			c.workQ.Submit(work.ActionRequest{
				RequestID: entry.MailID,
				Action:    entry.Action,
				Params:    entry.Params,
				Handle_:   c.runAction,
			})
		}

	case protocol.OpDiagTime, protocol.OpDiagPing:
		// Issued for diagnostics only; never exposed synchronously.
		log.Printf("client: %s reply: %+v", opcode, reply)
	}
}

func numericParam(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func toTrackerReplies(replies map[string]protocol.Reply) map[string]replytracker.Reply {
	out := make(map[string]replytracker.Reply, len(replies))
	for k, r := range replies {
		out[k] = replytracker.Reply{Success: r.Success, Params: r.Params, ErrorCodes: r.ErrorCodes}
	}
	return out
}

func (c *Client) runDownload(ctx context.Context, fileID string) {
	transfer, ok := c.ftByID.Take(fileID)
	if !ok {
		log.Printf("client: no pending transfer for downloaded file %s", fileID)
		return
	}
	c.ft.Download(ctx, fileID, transfer)
}

func (c *Client) runUpload(ctx context.Context, fileID string) {
	transfer, ok := c.ftByID.Take(fileID)
	if !ok {
		log.Printf("client: no pending transfer for uploaded file %s", fileID)
		return
	}
	c.ft.Upload(ctx, fileID, transfer)
}

func (c *Client) runAction(ctx context.Context, requestID, name string, params map[string]any) {
	result := c.actions.Execute(ctx, action.Request{RequestID: requestID, Name: name, Params: params})

	// Invoked is reported as a mailbox.update, not a final mailbox.ack: an
	// ack is terminal and would break cloud-side triggers watching for a
	// later completion.
	var cmd protocol.Command
	if result.Status == status.Invoked {
		cmd = protocol.MailboxUpdate(requestID, "Invoked")
	} else {
		cmd = protocol.MailboxAck(requestID, status.ToCloudErrorCode(result.Status), result.ErrorMessage, result.Params)
	}

	desc := fmt.Sprintf("Action Complete %q result: %d(%s)", name, int(result.Status), result.Status)
	if result.ErrorMessage != "" {
		desc += fmt.Sprintf(" %q", result.ErrorMessage)
	}
	c.send(ctx, []protocol.Command{cmd}, []string{desc})
}
