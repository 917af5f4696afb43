// Package protocol builds and parses the wire messages exchanged with the
// cloud over MQTT: one JSON-encoded batch of opcode+params commands per
// outbound publish, and one JSON-encoded map of per-command replies per
// inbound message.
package protocol

import (
	"encoding/json"
	"strconv"
)

// Opcode names a wire command the core must be able to emit.
const (
	OpAlarmPublish     = "alarm.publish"
	OpAttributeCurrent = "attribute.current"
	OpAttributePublish = "attribute.publish"
	OpPropertyPublish  = "property.publish"
	OpLocationPublish  = "location.publish"
	OpLogPublish       = "log.publish"
	OpFileGet          = "file.get"
	OpFilePut          = "file.put"
	OpMailboxCheck     = "mailbox.check"
	OpMailboxAck       = "mailbox.ack"
	OpMailboxUpdate    = "mailbox.update"
	OpDiagPing         = "diag.ping"
	OpDiagTime         = "diag.time"
	OpThingFind        = "thing.find"
)

// Command is a single opcode+params entry inside a batched request.
type Command struct {
	Name   string         `json:"command"`
	Params map[string]any `json:"params,omitempty"`
}

// params builds a params map from kwargs, omitting every key whose value
// is nil, a nil pointer, or an empty string.
func params(kwargs map[string]any) map[string]any {
	out := make(map[string]any, len(kwargs))
	for k, v := range kwargs {
		if v == nil {
			continue
		}
		switch p := v.(type) {
		case *bool:
			if p == nil {
				continue
			}
			out[k] = *p
		case *float64:
			if p == nil {
				continue
			}
			out[k] = *p
		case *string:
			if p == nil {
				continue
			}
			out[k] = *p
		case string:
			if p == "" {
				continue
			}
			out[k] = p
		default:
			out[k] = v
		}
	}
	return out
}

// AlarmPublish builds an alarm.publish command.
func AlarmPublish(thingKey, key string, state int, message *string, timestamp string) Command {
	return Command{
		Name: OpAlarmPublish,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"key":      key,
			"state":    state,
			"msg":      message,
			"ts":       timestamp,
		}),
	}
}

// AttributePublish builds an attribute.publish command (string value).
func AttributePublish(thingKey, key, value, timestamp string) Command {
	return Command{
		Name: OpAttributePublish,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"key":      key,
			"value":    value,
			"ts":       timestamp,
		}),
	}
}

// AttributeCurrent builds an attribute.current request — supplemented from
// the original wire vocabulary; the core never issues this spontaneously.
func AttributeCurrent(thingKey, key, timestamp string) Command {
	return Command{
		Name: OpAttributeCurrent,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"key":      key,
			"ts":       timestamp,
		}),
	}
}

// PropertyPublish builds a property.publish command (numeric telemetry).
func PropertyPublish(thingKey, key string, value float64, timestamp string) Command {
	return Command{
		Name: OpPropertyPublish,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"key":      key,
			"value":    value,
			"ts":       timestamp,
		}),
	}
}

// LocationParams groups the optional location-publish fields.
type LocationParams struct {
	Heading  *float64
	Altitude *float64
	Speed    *float64
	FixAcc   *float64
	FixType  *string
}

// LocationPublish builds a location.publish command.
func LocationPublish(thingKey string, lat, lng float64, opt LocationParams, timestamp string) Command {
	return Command{
		Name: OpLocationPublish,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"lat":      lat,
			"lng":      lng,
			"heading":  opt.Heading,
			"altitude": opt.Altitude,
			"speed":    opt.Speed,
			"fixAcc":   opt.FixAcc,
			"fixType":  opt.FixType,
			"ts":       timestamp,
		}),
	}
}

// LogPublish builds a log.publish command, used for event publishes.
func LogPublish(thingKey, message, timestamp string) Command {
	return Command{
		Name: OpLogPublish,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"msg":      message,
			"ts":       timestamp,
		}),
	}
}

// FileGet builds a file.get command requesting a C2D file transfer.
func FileGet(thingKey, fileName string, global bool) Command {
	return Command{
		Name: OpFileGet,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"fileName": fileName,
			"global":   global,
		}),
	}
}

// FilePut builds a file.put command requesting a D2C file transfer.
func FilePut(thingKey, fileName string, crc32 uint32, global bool) Command {
	return Command{
		Name: OpFilePut,
		Params: params(map[string]any{
			"thingKey": thingKey,
			"fileName": fileName,
			"crc32":    crc32,
			"global":   global,
		}),
	}
}

// MailboxCheck builds a mailbox.check command.
func MailboxCheck(autoComplete bool) Command {
	return Command{
		Name:   OpMailboxCheck,
		Params: params(map[string]any{"autoComplete": autoComplete}),
	}
}

// MailboxAck builds a mailbox.ack command acknowledging an action request.
func MailboxAck(mailID string, errorCode int, errorMessage string, outParams map[string]any) Command {
	kwargs := map[string]any{
		"id":        mailID,
		"errorCode": errorCode,
	}
	if errorMessage != "" {
		kwargs["errorMessage"] = errorMessage
	}
	if outParams != nil {
		kwargs["params"] = outParams
	}
	return Command{Name: OpMailboxAck, Params: params(kwargs)}
}

// MailboxUpdate builds a mailbox.update command — used only to report an
// action's Invoked progress, since a mailbox.ack would close out the mail
// entry before the action actually finishes.
func MailboxUpdate(mailID, message string) Command {
	return Command{
		Name: OpMailboxUpdate,
		Params: params(map[string]any{
			"id":  mailID,
			"msg": message,
		}),
	}
}

// DiagPing builds a diag.ping command.
func DiagPing() Command {
	return Command{Name: OpDiagPing}
}

// DiagTime builds a diag.time command.
func DiagTime() Command {
	return Command{Name: OpDiagTime}
}

// ThingFind builds a thing.find command — supplemented from the original
// wire vocabulary for completeness; nothing in the core issues it.
func ThingFind(key string) Command {
	return Command{
		Name:   OpThingFind,
		Params: params(map[string]any{"key": key}),
	}
}

// EncodeBatch serializes a batch of commands as the TR50-style request
// object `{"1": cmd1, "2": cmd2, ...}`.
func EncodeBatch(commands []Command) ([]byte, error) {
	request := make(map[string]Command, len(commands))
	for i, cmd := range commands {
		request[strconv.Itoa(i+1)] = cmd
	}
	return json.Marshal(request)
}

// Reply is a single command's result inside a reply/TTTT message.
type Reply struct {
	Success    bool           `json:"success"`
	Params     map[string]any `json:"params,omitempty"`
	ErrorCodes []int          `json:"errorCodes,omitempty"`
}

// DecodeReplies parses a reply/TTTT payload into its per-index replies,
// keyed by the 1-based command position as a string ("1", "2", ...).
func DecodeReplies(payload []byte) (map[string]Reply, error) {
	var replies map[string]Reply
	if err := json.Unmarshal(payload, &replies); err != nil {
		return nil, err
	}
	return replies, nil
}
