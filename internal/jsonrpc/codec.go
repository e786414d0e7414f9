package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// wireEnvelope is the on-the-wire shape used for both decoding (loose,
// to classify the message) and encoding (strict, field order matches
// the reference). Id, Params, Result and Error are a json.RawMessage or
// pointer so that a present-but-null field is distinguishable from an
// absent one — this is
// what keeps string-valued fields from ever being re-typed during
// encode/decode, the defect spec.md §4.2 calls out by name.
type wireEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func hasField(raw json.RawMessage) bool {
	return raw != nil && string(raw) != "null"
}

// Decode parses bytes into a typed Message, or returns a *Error describing
// why decoding failed (parse error or invalid request). The returned error
// is always a *jsonrpc.Error so callers can build a Response directly.
func Decode(data []byte) (Message, *Error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, NewParseError(err.Error())
	}

	if env.JSONRPC != Version {
		return Message{}, NewInvalidRequest(fmt.Sprintf("jsonrpc must be %q", Version))
	}

	hasId := hasField(env.Id)
	hasMethod := env.Method != ""
	hasResult := hasField(env.Result)
	hasError := env.Error != nil

	switch {
	case hasMethod && hasId:
		id, idErr := decodeId(env.Id)
		if idErr != nil {
			return Message{}, idErr
		}
		if len(env.Method) > MaxMethodLen {
			return Message{}, NewInvalidRequest("method exceeds maximum length")
		}
		return NewRequestMessage(&Request{Id: id, Method: Method(env.Method), Params: env.Params}), nil

	case hasMethod && !hasId:
		if len(env.Method) > MaxMethodLen {
			return Message{}, NewInvalidRequest("method exceeds maximum length")
		}
		return NewNotificationMessage(&Notification{Method: Method(env.Method), Params: env.Params}), nil

	case hasId && !hasMethod && (hasResult != hasError):
		id, idErr := decodeId(env.Id)
		if idErr != nil {
			return Message{}, idErr
		}
		return NewResponseMessage(&Response{Id: id, Result: env.Result, Err: env.Error}), nil

	case env.Id != nil && !hasId && !hasMethod && hasError && !hasResult && env.Error.Code == CodeParseError:
		// A present-but-null id is legal only on a parse-error response,
		// the one reply emitted when the request's own id could not be read.
		return NewResponseMessage(&Response{Id: NoId, Err: env.Error}), nil

	default:
		return Message{}, NewInvalidRequest("message is neither a valid request, response, nor notification")
	}
}

func decodeId(raw json.RawMessage) (Id, *Error) {
	var id Id
	if err := id.UnmarshalJSON(raw); err != nil {
		return Id{}, NewInvalidRequest(err.Error())
	}
	return id, nil
}

// Encode serializes a Message back to bytes. Encoding always emits
// jsonrpc:"2.0", includes params only when non-empty, and emits exactly
// one of result/error for a Response.
func Encode(msg Message) ([]byte, error) {
	switch msg.Category {
	case CategoryRequest:
		req := msg.Request
		env := wireEnvelope{
			JSONRPC: Version,
			Method:  string(req.Method),
			Params:  req.Params,
		}
		idBytes, err := req.Id.MarshalJSON()
		if err != nil {
			return nil, err
		}
		env.Id = idBytes
		return json.Marshal(env)

	case CategoryNotification:
		notif := msg.Notification
		env := wireEnvelope{
			JSONRPC: Version,
			Method:  string(notif.Method),
			Params:  notif.Params,
		}
		return json.Marshal(env)

	case CategoryResponse:
		resp := msg.Response
		env := wireEnvelope{JSONRPC: Version}
		idBytes, err := resp.Id.MarshalJSON()
		if err != nil {
			return nil, err
		}
		env.Id = idBytes
		if resp.Err != nil {
			env.Error = resp.Err
		} else {
			env.Result = resp.Result
		}
		return json.Marshal(env)

	default:
		return nil, fmt.Errorf("jsonrpc: unknown message category %d", msg.Category)
	}
}

// EncodeResult builds and encodes a successful Response for id with result
// marshaled from v.
func EncodeResult(id Id, v interface{}) ([]byte, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Encode(NewResponseMessage(&Response{Id: id, Result: result}))
}

// EncodeError builds and encodes an error Response for id.
func EncodeError(id Id, e *Error) ([]byte, error) {
	return Encode(NewResponseMessage(&Response{Id: id, Err: e}))
}

// EncodeNotification builds and encodes a Notification with params marshaled from v.
func EncodeNotification(method Method, v interface{}) ([]byte, error) {
	var params json.RawMessage
	if v != nil {
		p, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		params = p
	}
	return Encode(NewNotificationMessage(&Notification{Method: method, Params: params}))
}

// EncodeRequest builds and encodes a Request with params marshaled from v.
func EncodeRequest(id Id, method Method, v interface{}) ([]byte, error) {
	var params json.RawMessage
	if v != nil {
		p, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		params = p
	}
	return Encode(NewRequestMessage(&Request{Id: id, Method: method, Params: params}))
}
