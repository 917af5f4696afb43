// Package mailbox implements the notify/mailbox_activity → mailbox.check
// → method.exec pipeline used to deliver queued action requests.
package mailbox

import "github.com/wheelos-io/thingcore/pkg/protocol"

// ActivityTopic is the notification topic the cloud publishes whenever a
// mailbox entry is waiting; receiving it is the trigger to issue a
// mailbox.check.
const ActivityTopic = "notify/mailbox_activity"

// IsActivityNotification reports whether topic is the mailbox activity
// notification.
func IsActivityNotification(topic string) bool {
	return topic == ActivityTopic
}

// CheckCommand builds the mailbox.check command issued in response to an
// activity notification. autoComplete is always false: entries are
// acknowledged individually once their action has run, not implicitly by
// the check itself.
func CheckCommand() protocol.Command {
	return protocol.MailboxCheck(false)
}

// methodExec is the one mailbox command kind this core dispatches; the
// original's mailbox entries can in principle carry other commands, but
// only method.exec maps to an action invocation.
const methodExec = "method.exec"

// Entry is a single actionable mailbox message extracted from a
// mailbox.check reply.
type Entry struct {
	MailID string
	Action string
	Params map[string]any
}

// ParseCheckReply extracts the method.exec entries from a mailbox.check
// reply's "messages" param, each becoming an action dispatch. Non-success
// replies and non-method.exec entries yield no entries.
func ParseCheckReply(reply protocol.Reply) []Entry {
	if !reply.Success {
		return nil
	}
	raw, ok := reply.Params["messages"]
	if !ok {
		return nil
	}
	messages, ok := raw.([]any)
	if !ok {
		return nil
	}

	var entries []Entry
	for _, m := range messages {
		mail, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if command, _ := mail["command"].(string); command != methodExec {
			continue
		}
		mailID, _ := mail["id"].(string)
		params, _ := mail["params"].(map[string]any)
		action, _ := params["method"].(string)
		actionParams, _ := params["params"].(map[string]any)
		entries = append(entries, Entry{MailID: mailID, Action: action, Params: actionParams})
	}
	return entries
}
