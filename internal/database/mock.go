package database

import (
	"github.com/stretchr/testify/mock"

	"github.com/classchat/classchat/internal/types"
)

type MockClassChatRepository struct {
	mock.Mock
}

func (m *MockClassChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockClassChatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockClassChatRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockClassChatRepository) GetAccountById(id int) (Account, error) {
	args := m.Called(id)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockClassChatRepository) GetTeacher(id string) (Teacher, error) {
	args := m.Called(id)
	return args.Get(0).(Teacher), args.Error(1)
}
func (m *MockClassChatRepository) GetTeachersByIds(ids []string) ([]Teacher, error) {
	args := m.Called(ids)
	return args.Get(0).([]Teacher), args.Error(1)
}
func (m *MockClassChatRepository) GetStudent(id string) (Student, error) {
	args := m.Called(id)
	return args.Get(0).(Student), args.Error(1)
}
func (m *MockClassChatRepository) GetStudentsByGradeSection(grade, section string) ([]Student, error) {
	args := m.Called(grade, section)
	return args.Get(0).([]Student), args.Error(1)
}
func (m *MockClassChatRepository) GetClassesForTeacher(teacherId string) ([]Class, error) {
	args := m.Called(teacherId)
	return args.Get(0).([]Class), args.Error(1)
}
func (m *MockClassChatRepository) GetClassIdsForStudent(grade, section string) ([]string, error) {
	args := m.Called(grade, section)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockClassChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockClassChatRepository) GetPrivateRoomsByTeacher(teacherId string) ([]Room, error) {
	args := m.Called(teacherId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockClassChatRepository) GetPrivateRoomsByStudent(studentId string) ([]Room, error) {
	args := m.Called(studentId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockClassChatRepository) GetClassRoomsByTeacher(teacherId string) ([]Room, error) {
	args := m.Called(teacherId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockClassChatRepository) GetClassRoomsByClassIds(classIds []string) ([]Room, error) {
	args := m.Called(classIds)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockClassChatRepository) CreatePrivateRoom(params CreatePrivateRoomParams) (Room, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockClassChatRepository) CreateClassRoom(params CreateClassRoomParams) (Room, bool, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Bool(1), args.Error(2)
}
func (m *MockClassChatRepository) UpdateRoomNames(roomId int, teacherName, studentName string) error {
	args := m.Called(roomId, teacherName, studentName)
	return args.Error(0)
}
func (m *MockClassChatRepository) SetRoomActive(externalId string, isActive bool) (Room, error) {
	args := m.Called(externalId, isActive)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockClassChatRepository) ResetUnread(externalId string, role types.Role) error {
	args := m.Called(externalId, role)
	return args.Error(0)
}
func (m *MockClassChatRepository) AppendMessage(params AppendMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockClassChatRepository) GetMessages(roomId, limit int) ([]Message, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]Message), args.Error(1)
}
