package gateway

import (
	"encoding/json"

	"github.com/ardrey/translate-hub/internal/work"
)

// Frame types exchanged over a client connection. Inbound types form a closed
// set; anything else is answered with an error frame, never a drop.
const (
	TypeConnectionEstablished = "connection_established"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypeRoomOccupied          = "room_occupied"
	TypeChatMessage           = "chat_message"
	TypeTranslationResult     = "translation_result"
	TypeError                 = "error"
	TypePing                  = "ping"
	TypePong                  = "pong"

	TypeJoinRoom    = "join_room"
	TypeLeaveRoom   = "leave_room"
	TypeSendMessage = "send_message"
)

// Error codes carried in error frames.
const (
	CodeMissingMessageType  = "MISSING_MESSAGE_TYPE"
	CodeUnknownMessageType  = "UNKNOWN_MESSAGE_TYPE"
	CodeInvalidMessage      = "INVALID_MESSAGE_FORMAT"
	CodeOperationNotAllowed = "OPERATION_NOT_ALLOWED"
	CodeNotInRoom           = "NOT_IN_ROOM"
	CodeSendFailed          = "SEND_FAILED"
)

// Envelope is the inbound frame shape. RoomID and Message are interpreted per
// type.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// EstablishedFrame confirms a new connection with its session and room.
type EstablishedFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RoomID    string `json:"room_id"`
}

// RoomFrame reports a room membership change.
type RoomFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

// ChatFrame carries a message relayed into a room.
type ChatFrame struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id"`
	From    string          `json:"from"`
	Message json.RawMessage `json:"message"`
}

// ResultFrame carries a finished work result to the client. Exactly one of
// Result and Error is set.
type ResultFrame struct {
	Type   string        `json:"type"`
	Result *work.Outcome `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ErrorFrame reports a per-frame failure without dropping the connection.
type ErrorFrame struct {
	Type      string `json:"type"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// PingFrame is the application-level heartbeat, preferred over protocol pings
// because intermediaries are known to swallow those.
type PingFrame struct {
	Type string `json:"type"`
}

func errorFrame(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, ErrorCode: code, Message: message}
}
