package server

import (
	"time"

	"github.com/classchat/classchat/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for everything a connection can ask for.
// Exactly one of the operation fields is set.
type ClientMessage struct {
	BaseMessage
	GetTeacherRooms *GetTeacherRooms  `json:"get-teacher-rooms,omitempty"`
	GetStudentRooms *GetStudentRooms  `json:"get-student-rooms,omitempty"`
	Join            *Join             `json:"join-room,omitempty"`
	Leave           *Leave            `json:"leave-room,omitempty"`
	GetMessages     *GetMessages      `json:"get-messages,omitempty"`
	Publish         *Publish          `json:"send-message,omitempty"`
	ToggleStatus    *ToggleStatus     `json:"toggle-chat-status,omitempty"`
	InitRooms       *InitStudentRooms `json:"initialize-student-rooms,omitempty"`
	client          *Client
}

type GetTeacherRooms struct {
	TeacherId string `json:"teacher_id"`
}

type GetStudentRooms struct {
	StudentId string `json:"student_id"`
}

type Join struct {
	RoomId string `json:"room_id"`
}

type Leave struct {
	RoomId string `json:"room_id"`
}

type GetMessages struct {
	RoomId string `json:"room_id"`
	Limit  int    `json:"limit,omitempty"`
}

// Publish carries a send-message request. Sender fields are client-asserted;
// they are not re-verified against the connection identity.
type Publish struct {
	RoomId      string            `json:"room_id"`
	Content     string            `json:"content"`
	SenderId    string            `json:"sender_id"`
	SenderName  string            `json:"sender_name"`
	SenderType  types.Role        `json:"sender_type"`
	MessageType types.MessageType `json:"message_type,omitempty"`
	MediaUrl    string            `json:"media_url,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
	FileSize    int64             `json:"file_size,omitempty"`
}

type ToggleStatus struct {
	RoomId   string `json:"room_id"`
	IsActive bool   `json:"is_active"`
}

type InitStudentRooms struct {
	TeacherId string `json:"teacher_id"`
}

// ServerMessage is the envelope for everything the server emits. Exactly one
// of the event fields is set.
type ServerMessage struct {
	BaseMessage
	TeacherRooms *RoomList        `json:"teacher-rooms,omitempty"`
	StudentRooms *RoomList        `json:"student-rooms,omitempty"`
	History      *MessageHistory  `json:"message-history,omitempty"`
	Message      *types.Message   `json:"new-message,omitempty"`
	StatusChange *StatusChange    `json:"chat-status-changed,omitempty"`
	InitResult   *RoomsInitialized `json:"student-rooms-initialized,omitempty"`
	Error        *ErrorEvent      `json:"error,omitempty"`
	SkipClient   *Client          `json:"-"`
}

type RoomList struct {
	Rooms []types.Room `json:"rooms"`
}

type MessageHistory struct {
	RoomId   string          `json:"room_id"`
	Messages []types.Message `json:"messages"`
}

type StatusChange struct {
	RoomId   string `json:"room_id"`
	IsActive bool   `json:"is_active"`
}

type RoomsInitialized struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

func errEvent(id int, message string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Error: &ErrorEvent{Message: message},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errEvent(id, "room not found")
}

func ErrRoomClosed(id int) *ServerMessage {
	return errEvent(id, "room is closed")
}

func ErrNotAllowed(id int) *ServerMessage {
	return errEvent(id, "not allowed")
}

func ErrInternalError(id int) *ServerMessage {
	return errEvent(id, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errEvent(id, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errEvent(0, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
