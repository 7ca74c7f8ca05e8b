package resolver

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/types"
)

// Resolver computes the set of chat rooms visible to a viewer by combining
// roster lookups with room store queries.
type Resolver struct {
	log *log.Logger
	db  database.ClassChatRepository
}

func NewResolver(logger *log.Logger, db database.ClassChatRepository) *Resolver {
	return &Resolver{log: logger, db: db}
}

// RoomsForTeacher returns every private and class room owned by the teacher,
// most recently active first.
func (r *Resolver) RoomsForTeacher(teacherId string) ([]types.Room, error) {
	private, err := r.db.GetPrivateRoomsByTeacher(teacherId)
	if err != nil {
		return nil, fmt.Errorf("private rooms for teacher %q: %w", teacherId, err)
	}

	class, err := r.db.GetClassRoomsByTeacher(teacherId)
	if err != nil {
		return nil, fmt.Errorf("class rooms for teacher %q: %w", teacherId, err)
	}

	rooms := make([]types.Room, 0, len(private)+len(class))
	for _, room := range append(private, class...) {
		rooms = append(rooms, viewRoom(room))
	}

	sortByRecency(rooms)
	return rooms, nil
}

// RoomsForStudent returns the union of the student's private rooms and the
// class rooms matching their current grade/section. A missing student record
// yields an empty list, never an error.
//
// Class rooms are looked up by their cached class id, which is only one of
// potentially several schedule-entry ids sharing the class name. When a name
// has multiple live entries the cached id may fall outside the matched set
// and the room is not returned. Kept as-is to match the upstream behavior.
func (r *Resolver) RoomsForStudent(studentId string) ([]types.Room, error) {
	student, err := r.db.GetStudent(studentId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Printf("student %q not found, returning no rooms", studentId)
			return []types.Room{}, nil
		}
		return nil, fmt.Errorf("get student %q: %w", studentId, err)
	}

	private, err := r.db.GetPrivateRoomsByStudent(studentId)
	if err != nil {
		return nil, fmt.Errorf("private rooms for student %q: %w", studentId, err)
	}

	classIds, err := r.db.GetClassIdsForStudent(student.Grade, student.Section)
	if err != nil {
		return nil, fmt.Errorf("class ids for grade %q section %q: %w", student.Grade, student.Section, err)
	}

	var class []database.Room
	if len(classIds) > 0 {
		class, err = r.db.GetClassRoomsByClassIds(classIds)
		if err != nil {
			return nil, fmt.Errorf("class rooms for student %q: %w", studentId, err)
		}
	}

	teacherNames, err := r.teacherNames(private)
	if err != nil {
		return nil, err
	}

	rooms := make([]types.Room, 0, len(private)+len(class))
	for _, room := range private {
		view := viewRoom(room)
		// the teacher record is the canonical name source; fall back to the
		// cached name when the record is missing
		if name, ok := teacherNames[room.TeacherId]; ok && name != "" {
			view.TeacherName = name
		}
		rooms = append(rooms, view)
	}
	for _, room := range class {
		rooms = append(rooms, viewRoom(room))
	}

	sortByRecency(rooms)
	return rooms, nil
}

func (r *Resolver) teacherNames(rooms []database.Room) (map[string]string, error) {
	if len(rooms) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(rooms))
	ids := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if _, ok := seen[room.TeacherId]; ok {
			continue
		}
		seen[room.TeacherId] = struct{}{}
		ids = append(ids, room.TeacherId)
	}

	teachers, err := r.db.GetTeachersByIds(ids)
	if err != nil {
		return nil, fmt.Errorf("resolve teacher names: %w", err)
	}

	names := make(map[string]string, len(teachers))
	for _, t := range teachers {
		names[t.Id] = t.Name
	}
	return names, nil
}

// sortByRecency orders rooms newest message first; rooms without messages
// keep their relative order after all rooms with messages.
func sortByRecency(rooms []types.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		ti, tj := rooms[i].LastMessageTime, rooms[j].LastMessageTime
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})
}

func viewRoom(room database.Room) types.Room {
	return types.Room{
		Id:                 room.ExternalId,
		Type:               room.Type,
		IsActive:           room.IsActive,
		TeacherId:          room.TeacherId,
		StudentId:          room.StudentId,
		TeacherName:        room.TeacherName,
		StudentName:        room.StudentName,
		ClassId:            room.ClassId,
		Name:               room.Name,
		LastMessage:        room.LastMessage,
		LastMessageTime:    room.LastMessageTime,
		TeacherUnreadCount: room.TeacherUnreadCount,
		StudentUnreadCount: room.StudentUnreadCount,
		CreatedAt:          room.CreatedAt,
		UpdatedAt:          room.UpdatedAt,
	}
}
