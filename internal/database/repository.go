package database

import "github.com/classchat/classchat/internal/types"

type ClassChatRepository interface {
	Ping() error

	// accounts (companion HTTP auth)
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	GetAccountById(id int) (Account, error)

	// roster index (read-only)
	GetTeacher(id string) (Teacher, error)
	GetTeachersByIds(ids []string) ([]Teacher, error)
	GetStudent(id string) (Student, error)
	GetStudentsByGradeSection(grade, section string) ([]Student, error)
	GetClassesForTeacher(teacherId string) ([]Class, error)
	GetClassIdsForStudent(grade, section string) ([]string, error)

	// room store
	GetRoomByExternalId(externalId string) (Room, error)
	GetPrivateRoomsByTeacher(teacherId string) ([]Room, error)
	GetPrivateRoomsByStudent(studentId string) ([]Room, error)
	GetClassRoomsByTeacher(teacherId string) ([]Room, error)
	GetClassRoomsByClassIds(classIds []string) ([]Room, error)
	CreatePrivateRoom(params CreatePrivateRoomParams) (Room, bool, error)
	CreateClassRoom(params CreateClassRoomParams) (Room, bool, error)
	UpdateRoomNames(roomId int, teacherName, studentName string) error
	SetRoomActive(externalId string, isActive bool) (Room, error)
	ResetUnread(externalId string, role types.Role) error

	// message log
	AppendMessage(params AppendMessageParams) (Message, error)
	GetMessages(roomId, limit int) ([]Message, error)
}
