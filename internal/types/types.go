package types

import (
	"time"
)

// RoomType distinguishes the two kinds of chat rooms.
type RoomType string

const (
	RoomTypePrivate RoomType = "private"
	RoomTypeClass   RoomType = "class"
)

// Role identifies which side of a conversation a participant is on.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Opposite returns the role on the receiving end of a message sent by r.
func (r Role) Opposite() Role {
	if r == RoleTeacher {
		return RoleStudent
	}
	return RoleTeacher
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// MessageType describes the payload kind of a message.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeDocument MessageType = "document"
)

// Room is a chat room as presented to a viewer. Private rooms carry the
// teacher/student pair and cached display names, class rooms carry the class
// name and a representative class id. Shared fields cover the open/closed
// state, the last-message cache and the per-role unread counters.
type Room struct {
	Id                 string     `json:"id"`
	Type               RoomType   `json:"type"`
	IsActive           bool       `json:"is_active"`
	TeacherId          string     `json:"teacher_id"`
	StudentId          string     `json:"student_id,omitempty"`
	TeacherName        string     `json:"teacher_name,omitempty"`
	StudentName        string     `json:"student_name,omitempty"`
	ClassId            string     `json:"class_id,omitempty"`
	Name               string     `json:"name,omitempty"`
	LastMessage        string     `json:"last_message,omitempty"`
	LastMessageTime    *time.Time `json:"last_message_time,omitempty"`
	TeacherUnreadCount int        `json:"teacher_unread_count"`
	StudentUnreadCount int        `json:"student_unread_count"`
	CreatedAt          time.Time  `json:"created_at,omitempty"`
	UpdatedAt          time.Time  `json:"updated_at,omitempty"`
}

// Message is a single chat message. Timestamps are server-assigned and
// non-decreasing within a room; ties are broken by Id.
type Message struct {
	Id          int         `json:"id"`
	RoomId      string      `json:"room_id"`
	SenderId    string      `json:"sender_id"`
	SenderName  string      `json:"sender_name"`
	SenderType  Role        `json:"sender_type"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	MediaUrl    string      `json:"media_url,omitempty"`
	FileName    string      `json:"file_name,omitempty"`
	FileSize    int64       `json:"file_size,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// GradeSection identifies one roster bucket, e.g. grade "7" section "B".
type GradeSection struct {
	Grade   string `json:"grade"`
	Section string `json:"section"`
}

// User is the authenticated identity bound to a live connection.
type User struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
