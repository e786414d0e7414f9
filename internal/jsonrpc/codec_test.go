package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeClassifiesRequest(t *testing.T) {
	msg, errObj := Decode([]byte(`{"jsonrpc":"2.0","id":"1","method":"initialize","params":{"protocolVersion":"2024-11-05"}}`))
	require.Nil(t, errObj)
	require.Equal(t, CategoryRequest, msg.Category)
	require.Equal(t, StringId("1"), msg.Request.Id)
	require.Equal(t, MethodInitialize, msg.Request.Method)
}

func TestDecodeClassifiesNotification(t *testing.T) {
	msg, errObj := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Nil(t, errObj)
	require.Equal(t, CategoryNotification, msg.Category)
	require.Equal(t, MethodInitialized, msg.Notification.Method)
}

func TestDecodeClassifiesResponse(t *testing.T) {
	msg, errObj := Decode([]byte(`{"jsonrpc":"2.0","id":2,"result":{"status":"ok"}}`))
	require.Nil(t, errObj)
	require.Equal(t, CategoryResponse, msg.Category)
	require.Equal(t, IntId(2), msg.Response.Id)
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, errObj := Decode([]byte(`{`))
	require.NotNil(t, errObj)
	require.Equal(t, CodeParseError, errObj.Code)
}

func TestDecodeRejectsWrongVersion(t *testing.T) {
	_, errObj := Decode([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`))
	require.NotNil(t, errObj)
	require.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestDecodeRejectsAmbiguousShape(t *testing.T) {
	// Neither request, response, nor notification: id absent, no method, no result/error.
	_, errObj := Decode([]byte(`{"jsonrpc":"2.0"}`))
	require.NotNil(t, errObj)
	require.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestDecodeRejectsResponseWithBothResultAndError(t *testing.T) {
	_, errObj := Decode([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":-32603,"message":"x"}}`))
	require.NotNil(t, errObj)
	require.Equal(t, CodeInvalidRequest, errObj.Code)
}

func TestDecodeRejectsNonIntegerId(t *testing.T) {
	_, errObj := Decode([]byte(`{"jsonrpc":"2.0","id":1.5,"method":"ping"}`))
	require.NotNil(t, errObj)
	require.Equal(t, CodeInvalidRequest, errObj.Code)
}

// TestRoundTripEveryResponseVariant guards against the known reference defect
// where string-typed fields collapse to the JSON literal true during encode.
func TestRoundTripEveryResponseVariant(t *testing.T) {
	cases := []struct {
		name string
		resp *Response
	}{
		{"string id success", &Response{Id: StringId("abc-123"), Result: mustJSON(t, map[string]string{"status": "ok"})}},
		{"integer id success", &Response{Id: IntId(-2147483648), Result: mustJSON(t, map[string]any{"value": "hello world"})}},
		{"empty string id", &Response{Id: StringId(""), Result: mustJSON(t, map[string]any{"text": "true"})}},
		{"error response", &Response{Id: IntId(7), Err: NewInvalidParams("bad shape")}},
		{"null id parse error", &Response{Id: NoId, Err: NewParseError("unexpected token")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(NewResponseMessage(tc.resp))
			require.NoError(t, err)

			decoded, errObj := Decode(encoded)
			require.Nil(t, errObj)
			require.Equal(t, CategoryResponse, decoded.Category)
			require.True(t, tc.resp.Id.Equal(decoded.Response.Id))

			if tc.resp.Err != nil {
				require.NotNil(t, decoded.Response.Err)
				require.Equal(t, tc.resp.Err.Code, decoded.Response.Err.Code)
				require.Equal(t, tc.resp.Err.Message, decoded.Response.Err.Message)
			} else {
				require.JSONEq(t, string(tc.resp.Result), string(decoded.Response.Result))
			}

			// Re-encoding the decoded message must produce byte-identical output:
			// the regression guard for the reference's string->true corruption bug.
			reEncoded, err := Encode(decoded)
			require.NoError(t, err)
			require.JSONEq(t, string(encoded), string(reEncoded))
		})
	}
}

func TestEncodeOmitsEmptyParams(t *testing.T) {
	encoded, err := Encode(NewRequestMessage(&Request{Id: StringId("1"), Method: MethodPing}))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &raw))
	_, hasParams := raw["params"]
	require.False(t, hasParams)
}

func TestIdBoundaryValuesRoundTrip(t *testing.T) {
	ids := []Id{IntId(-2147483648), StringId(""), StringId("unicode-✓")}
	for _, id := range ids {
		data, err := id.MarshalJSON()
		require.NoError(t, err)

		var decoded Id
		require.NoError(t, decoded.UnmarshalJSON(data))
		require.True(t, id.Equal(decoded))
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
