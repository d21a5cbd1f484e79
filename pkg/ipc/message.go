// Package ipc implements the wire protocol between a CLI process and a
// session's bridge daemon: length-prefixed JSON messages over a Unix
// domain socket (or named pipe on Windows), multiplexed request/response
// correlation, and server-push notifications.
package ipc

import "encoding/json"

// MessageType tags the union in Message.
type MessageType string

const (
	TypeRequest              MessageType = "request"
	TypeResponse             MessageType = "response"
	TypeNotification         MessageType = "notification"
	TypeShutdown             MessageType = "shutdown"
	TypeSetAuthCredentials   MessageType = "set-auth-credentials"
)

// ErrorPayload is the shape of Message.Error on a failed response. Kind
// mirrors the mcpcerr taxonomy so the session client can decide whether
// a failure is eligible for reconnect-and-retry without string matching.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"` // "client" | "server" | "transport" | "auth"
	Reauth  string `json:"reauth,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Message is the single on-wire envelope for every IPC exchange. Only
// the fields relevant to Type are populated; json:",omitempty" keeps an
// encoded message minimal.
type Message struct {
	Type   MessageType `json:"type"`
	ID     uint64      `json:"id,omitempty"`

	// request
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// response
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`

	// notification
	NotificationMethod string          `json:"notificationMethod,omitempty"`
	NotificationParams json.RawMessage `json:"notificationParams,omitempty"`

	// set-auth-credentials
	Headers      map[string]string `json:"headers,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
}

// NewRequest builds a request Message with params already encoded.
func NewRequest(id uint64, method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResult builds a success response Message for id.
func NewResult(id uint64, result any) (Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeResponse, ID: id, Result: raw}, nil
}

// NewError builds a failure response Message for id.
func NewError(id uint64, errPayload ErrorPayload) Message {
	return Message{Type: TypeResponse, ID: id, Error: &errPayload}
}

// NewNotification builds a server-push Message.
func NewNotification(method string, params any) (Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: TypeNotification, NotificationMethod: method, NotificationParams: raw}, nil
}

// NewRawNotification builds a server-push Message from params already
// encoded as JSON, used by the bridge server to fan out an upstream
// notification without a decode/re-encode round trip.
func NewRawNotification(method string, params json.RawMessage) Message {
	return Message{Type: TypeNotification, NotificationMethod: method, NotificationParams: params}
}

// NewShutdown builds a shutdown request Message.
func NewShutdown(id uint64) Message {
	return Message{Type: TypeShutdown, ID: id}
}

// NewSetAuthCredentials builds a credential-update Message.
func NewSetAuthCredentials(headers map[string]string, refreshToken string) Message {
	return Message{Type: TypeSetAuthCredentials, Headers: headers, RefreshToken: refreshToken}
}
