package provisioner

import (
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/teris-io/shortid"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/stats"
	"github.com/classchat/classchat/internal/types"
)

const (
	defaultTeacherName = "Teacher"
	defaultStudentName = "Student"
)

// Provisioner creates chat rooms when classes or roster membership change.
// All operations are idempotent: an existing room is returned unchanged and
// concurrent creators racing on the same dedup key converge on one room via
// the store's conditional insert.
type Provisioner struct {
	log   *log.Logger
	db    database.ClassChatRepository
	stats stats.StatsProvider
	newId func() (string, error)
}

// RosterResult reports how many private rooms a roster sync created versus
// found already present.
type RosterResult struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

func NewProvisioner(logger *log.Logger, db database.ClassChatRepository, su stats.StatsProvider) *Provisioner {
	return &Provisioner{
		log:   logger,
		db:    db,
		stats: su,
		newId: shortid.Generate,
	}
}

// EnsureClassRoom returns the room for the class name and teacher, creating
// it open with zeroed counters if absent. An existing room is returned as-is:
// its cached class id is not overwritten even when classId differs, so all
// schedule entries sharing a name reuse the first room created.
func (p *Provisioner) EnsureClassRoom(classId, teacherId, className string) (types.Room, error) {
	sid, err := p.newId()
	if err != nil {
		return types.Room{}, fmt.Errorf("generate room id: %w", err)
	}

	room, created, err := p.db.CreateClassRoom(database.CreateClassRoomParams{
		ExternalId: sid,
		ClassId:    classId,
		Name:       className,
		TeacherId:  teacherId,
	})
	if err != nil {
		return types.Room{}, fmt.Errorf("create class room %q for teacher %q: %w", className, teacherId, err)
	}

	if created {
		p.log.Printf("provisioned class room %q for class %q", room.ExternalId, className)
		p.stats.Incr(stats.RoomsProvisioned)
	}

	return viewRoom(room), nil
}

// EnsurePrivateRoom returns the room for the teacher/student pair, creating
// it if absent with display names resolved from the roster records.
func (p *Provisioner) EnsurePrivateRoom(teacherId, studentId string) (types.Room, error) {
	teacherName := p.teacherName(teacherId)

	studentName := defaultStudentName
	student, err := p.db.GetStudent(studentId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return types.Room{}, fmt.Errorf("get student %q: %w", studentId, err)
	}
	if err == nil && student.Name != "" {
		studentName = student.Name
	}

	room, _, err := p.createPrivateRoom(teacherId, studentId, teacherName, studentName)
	if err != nil {
		return types.Room{}, err
	}

	return viewRoom(room), nil
}

// EnsurePrivateRoomsForRoster creates a private room between the teacher and
// every student currently in the given grade/section pairs. Rooms that exist
// but miss a cached display name are backfilled in place. Safe to re-run and
// to race with individual EnsurePrivateRoom calls.
func (p *Provisioner) EnsurePrivateRoomsForRoster(teacherId string, gradeSections []types.GradeSection) (RosterResult, error) {
	teacherName := p.teacherName(teacherId)

	var res RosterResult
	for _, gs := range gradeSections {
		students, err := p.db.GetStudentsByGradeSection(gs.Grade, gs.Section)
		if err != nil {
			return res, fmt.Errorf("students in grade %q section %q: %w", gs.Grade, gs.Section, err)
		}

		for _, student := range students {
			studentName := student.Name
			if studentName == "" {
				studentName = defaultStudentName
			}

			room, created, err := p.createPrivateRoom(teacherId, student.Id, teacherName, studentName)
			if err != nil {
				return res, err
			}
			if created {
				res.Created++
				continue
			}
			res.Existing++

			if room.TeacherName == "" || room.StudentName == "" {
				tn, sn := room.TeacherName, room.StudentName
				if tn == "" {
					tn = teacherName
				}
				if sn == "" {
					sn = studentName
				}
				if err := p.db.UpdateRoomNames(room.Id, tn, sn); err != nil {
					return res, fmt.Errorf("backfill names on room %q: %w", room.ExternalId, err)
				}
			}
		}
	}

	return res, nil
}

func (p *Provisioner) createPrivateRoom(teacherId, studentId, teacherName, studentName string) (database.Room, bool, error) {
	sid, err := p.newId()
	if err != nil {
		return database.Room{}, false, fmt.Errorf("generate room id: %w", err)
	}

	room, created, err := p.db.CreatePrivateRoom(database.CreatePrivateRoomParams{
		ExternalId:  sid,
		TeacherId:   teacherId,
		StudentId:   studentId,
		TeacherName: teacherName,
		StudentName: studentName,
	})
	if err != nil {
		return database.Room{}, false, fmt.Errorf("create private room %q/%q: %w", teacherId, studentId, err)
	}

	if created {
		p.log.Printf("provisioned private room %q for teacher %q and student %q", room.ExternalId, teacherId, studentId)
		p.stats.Incr(stats.RoomsProvisioned)
	}

	return room, created, nil
}

func (p *Provisioner) teacherName(teacherId string) string {
	teacher, err := p.db.GetTeacher(teacherId)
	if err != nil || teacher.Name == "" {
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			p.log.Printf("get teacher %q: %v", teacherId, err)
		}
		return defaultTeacherName
	}
	return teacher.Name
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
