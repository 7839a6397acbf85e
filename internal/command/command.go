package command

import "bytes"

// Kind names a fixture command. It is also the value written to logs and the
// exchange journal.
type Kind string

const (
	ReplyBoundPort   Kind = "reply_bound_port"
	EchoUntilClosed  Kind = "echo_until_closed"
	TriggerTCPClient Kind = "trigger_tcp_client"
	ReplyFive        Kind = "reply5"
	ReplyDiffPort    Kind = "reply_diff_port"
	Echo             Kind = "echo"
	Default          Kind = "default"
)

// payload prefixes understood by the fixtures
const (
	PrefixReplyBoundPort   = "#REPLY_BOUND_PORT:"
	PrefixTriggerTCPClient = "#TRIGGER_TCP_CLIENT:"
	PrefixReplyFive        = "#REPLY5:"
	PrefixReplyDiffPort    = "#REPLY_DIFF_PORT:"
	PrefixEcho             = "#ECHO:"

	// first payload byte that switches a TCP session into echo-until-closed
	EchoLoopMarker byte = 0x00
)

// Matcher reports whether a payload selects a rule.
type Matcher func(payload []byte) bool

// HasPrefix matches payloads starting with prefix.
func HasPrefix(prefix string) Matcher {
	p := []byte(prefix)
	return func(payload []byte) bool {
		return bytes.HasPrefix(payload, p)
	}
}

// FirstByte matches non-empty payloads whose first byte is b.
func FirstByte(b byte) Matcher {
	return func(payload []byte) bool {
		return len(payload) > 0 && payload[0] == b
	}
}

// Always matches every payload; used for the default rule.
func Always(payload []byte) bool { return true }

// Rule pairs a predicate with the handler it selects.
type Rule[H any] struct {
	Kind   Kind
	Match  Matcher
	Handle H
}

// Table is an ordered list of rules. The first matching rule wins, so the
// order of the slice is the command precedence.
type Table[H any] []Rule[H]

// Dispatch returns the first rule matching payload.
func (t Table[H]) Dispatch(payload []byte) (Rule[H], bool) {
	for _, r := range t {
		if r.Match != nil && r.Match(payload) {
			return r, true
		}
	}
	var zero Rule[H]
	return zero, false
}

// Kinds lists the rule kinds in precedence order.
func (t Table[H]) Kinds() []Kind {
	kinds := make([]Kind, 0, len(t))
	for _, r := range t {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

// Trailing returns the text after prefix, or nil when payload does not
// start with it.
func Trailing(payload []byte, prefix string) []byte {
	if !bytes.HasPrefix(payload, []byte(prefix)) {
		return nil
	}
	return payload[len(prefix):]
}
