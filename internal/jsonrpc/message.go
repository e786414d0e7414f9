// Package jsonrpc implements the JSON-RPC 2.0 message model the protocol
// engine speaks: a polymorphic id, a closed family of recognized methods,
// and a tagged Request/Response/Notification sum with strict round-trip
// encoding.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this codec emits or accepts.
const Version = "2.0"

// IdKind distinguishes the two legal MessageId variants.
type IdKind int

const (
	IdNone IdKind = iota
	IdString
	IdInteger
)

// Id is a polymorphic JSON-RPC id: a string, a signed integer, or absent.
// Identity is structural — two ids are equal iff same Kind and same value.
type Id struct {
	Kind IdKind
	Str  string
	Int  int64
}

// NoId is the zero value, representing an absent id (used by notifications).
var NoId = Id{Kind: IdNone}

// StringId builds a string-variant id.
func StringId(s string) Id { return Id{Kind: IdString, Str: s} }

// IntId builds an integer-variant id.
func IntId(i int64) Id { return Id{Kind: IdInteger, Int: i} }

// Equal reports whether two ids are the same variant and value.
func (id Id) Equal(other Id) bool {
	if id.Kind != other.Kind {
		return false
	}
	switch id.Kind {
	case IdString:
		return id.Str == other.Str
	case IdInteger:
		return id.Int == other.Int
	default:
		return true
	}
}

// IsNone reports whether the id is absent.
func (id Id) IsNone() bool { return id.Kind == IdNone }

func (id Id) String() string {
	switch id.Kind {
	case IdString:
		return id.Str
	case IdInteger:
		return fmt.Sprintf("%d", id.Int)
	default:
		return "<none>"
	}
}

// MarshalJSON encodes the id the way JSON-RPC expects: a JSON string, a
// JSON number with no fractional part, or JSON null.
func (id Id) MarshalJSON() ([]byte, error) {
	switch id.Kind {
	case IdString:
		return json.Marshal(id.Str)
	case IdInteger:
		return json.Marshal(id.Int)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON-RPC id. Only strings, integers, and null are
// accepted; floats with a fractional part or any other JSON type are
// rejected so the caller can surface Invalid Request.
func (id *Id) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NoId
		return nil
	}
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*id = StringId(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err == nil {
		i, err := asNumber.Int64()
		if err != nil {
			return fmt.Errorf("jsonrpc: id must be a string or integer, got non-integral number %q", asNumber)
		}
		*id = IntId(i)
		return nil
	}
	return fmt.Errorf("jsonrpc: id must be a string, integer, or null")
}

// Category distinguishes the three Message shapes.
type Category int

const (
	CategoryRequest Category = iota
	CategoryResponse
	CategoryNotification
)

// Method is a short, closed-vocabulary string naming an RPC or notification.
type Method string

// MaxMethodLen is the upper bound on an accepted method string (spec §3).
const MaxMethodLen = 64

// Recognized request methods.
const (
	MethodInitialize Method = "initialize"
	MethodToolsList  Method = "tools/list"
	MethodToolsCall  Method = "tools/call"
	MethodPing       Method = "ping"
)

// Recognized notification methods.
const (
	MethodInitialized      Method = "notifications/initialized"
	MethodProgress         Method = "notifications/progress"
	MethodCancelled        Method = "notifications/cancelled"
	MethodToolsListChanged Method = "notifications/tools/list_changed"
	MethodLog              Method = "notifications/log"
)

var recognizedRequestMethods = map[Method]bool{
	MethodInitialize: true,
	MethodToolsList:  true,
	MethodToolsCall:  true,
	MethodPing:       true,
}

var recognizedNotificationMethods = map[Method]bool{
	MethodInitialized:      true,
	MethodProgress:         true,
	MethodCancelled:        true,
	MethodToolsListChanged: true,
	MethodLog:              true,
}

// IsRecognizedRequestMethod reports whether m is a known request method.
func IsRecognizedRequestMethod(m Method) bool { return recognizedRequestMethods[m] }

// IsRecognizedNotificationMethod reports whether m is a known notification method.
func IsRecognizedNotificationMethod(m Method) bool { return recognizedNotificationMethods[m] }

// Request is a client-to-server (or server-to-client) call that demands
// exactly one Response echoing its id.
type Request struct {
	Id     Id
	Method Method
	Params json.RawMessage
}

// Response answers a prior Request. Exactly one of Result/Err is set.
type Response struct {
	Id     Id
	Result json.RawMessage
	Err    *Error
}

// Notification is fire-and-forget; it carries no id.
type Notification struct {
	Method Method
	Params json.RawMessage
}

// Message is the tagged sum of the three wire shapes. Exactly one of
// Request/Response/Notification is non-nil, selected by Category.
type Message struct {
	Category     Category
	Request      *Request
	Response     *Response
	Notification *Notification
}

// NewRequestMessage wraps a Request as a Message.
func NewRequestMessage(r *Request) Message {
	return Message{Category: CategoryRequest, Request: r}
}

// NewResponseMessage wraps a Response as a Message.
func NewResponseMessage(r *Response) Message {
	return Message{Category: CategoryResponse, Response: r}
}

// NewNotificationMessage wraps a Notification as a Message.
func NewNotificationMessage(n *Notification) Message {
	return Message{Category: CategoryNotification, Notification: n}
}
