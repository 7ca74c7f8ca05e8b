package database

import (
	"time"

	"github.com/classchat/classchat/internal/types"
)

// Account is a login identity for the companion HTTP API. It points at the
// teacher or student record it belongs to.
type Account struct {
	Id           int
	Email        string
	PasswordHash string
	SubjectId    string
	Role         types.Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Teacher and Student rows come from the roster tables owned by the
// surrounding school platform; this service only reads them.
type Teacher struct {
	Id        string
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Student struct {
	Id        string
	Name      string
	Grade     string
	Section   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Class is one schedule entry. A class name may appear under several entries
// (different days), each with its own id and grade-section list.
type Class struct {
	Id        string
	Name      string
	TeacherId string
	Sections  []types.GradeSection
	CreatedAt time.Time
}

// Room is the stored form of a chat room. Private rooms populate StudentId
// and the cached display names, class rooms populate ClassId and Name. The
// last-message fields and unread counters are denormalized caches mutated
// only by AppendMessage and ResetUnread.
type Room struct {
	Id                 int
	ExternalId         string
	Type               types.RoomType
	IsActive           bool
	TeacherId          string
	StudentId          string
	TeacherName        string
	StudentName        string
	ClassId            string
	Name               string
	LastMessage        string
	LastMessageTime    *time.Time
	TeacherUnreadCount int
	StudentUnreadCount int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Message struct {
	Id          int
	RoomId      int
	SenderId    string
	SenderName  string
	SenderType  types.Role
	Content     string
	MessageType types.MessageType
	MediaUrl    string
	FileName    string
	FileSize    int64
	CreatedAt   time.Time
}

type CreateAccountParams struct {
	Email        string
	PasswordHash string
	SubjectId    string
	Role         types.Role
}

type CreatePrivateRoomParams struct {
	ExternalId  string
	TeacherId   string
	StudentId   string
	TeacherName string
	StudentName string
}

type CreateClassRoomParams struct {
	ExternalId string
	ClassId    string
	Name       string
	TeacherId  string
}

type AppendMessageParams struct {
	RoomId      int
	SenderId    string
	SenderName  string
	SenderType  types.Role
	Content     string
	MessageType types.MessageType
	MediaUrl    string
	FileName    string
	FileSize    int64
	Timestamp   time.Time
}
