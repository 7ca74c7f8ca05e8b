package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/classchat/classchat/internal/types"
)

const defaultMessageLimit = 100

const roomColumns = "id, external_id, type, is_active, teacher_id, student_id, teacher_name, student_name, " +
	"class_id, name, last_message, last_message_time, teacher_unread_count, student_unread_count, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (Room, error) {
	var room Room
	var lastMessageTime sql.NullTime
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Type,
		&room.IsActive,
		&room.TeacherId,
		&room.StudentId,
		&room.TeacherName,
		&room.StudentName,
		&room.ClassId,
		&room.Name,
		&room.LastMessage,
		&lastMessageTime,
		&room.TeacherUnreadCount,
		&room.StudentUnreadCount,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	if lastMessageTime.Valid {
		t := lastMessageTime.Time
		room.LastMessageTime = &t
	}

	return room, nil
}

func (db *PgClassChatRepository) queryRooms(query string, args ...any) ([]Room, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgClassChatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	row := db.conn.QueryRow(
		"INSERT INTO accounts (email, password_hash, subject_id, role) "+
			"VALUES ($1, $2, $3, $4) "+
			"RETURNING id, email, password_hash, subject_id, role",
		params.Email, params.PasswordHash, params.SubjectId, params.Role,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Email, &a.PasswordHash, &a.SubjectId, &a.Role)
	return a, err
}

func (db *PgClassChatRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, subject_id, role FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Email, &a.PasswordHash, &a.SubjectId, &a.Role)
	return a, err
}

func (db *PgClassChatRepository) GetAccountById(id int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, email, password_hash, subject_id, role FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(&a.Id, &a.Email, &a.PasswordHash, &a.SubjectId, &a.Role)
	return a, err
}

func (db *PgClassChatRepository) GetTeacher(id string) (Teacher, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, email FROM teachers WHERE id = $1 LIMIT 1",
		id,
	)

	var t Teacher
	err := row.Scan(&t.Id, &t.Name, &t.Email)
	return t, err
}

func (db *PgClassChatRepository) GetTeachersByIds(ids []string) ([]Teacher, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, email FROM teachers WHERE id = ANY($1)",
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teachers []Teacher
	for rows.Next() {
		var t Teacher
		if err := rows.Scan(&t.Id, &t.Name, &t.Email); err != nil {
			return nil, err
		}
		teachers = append(teachers, t)
	}

	return teachers, rows.Err()
}

func (db *PgClassChatRepository) GetStudent(id string) (Student, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, grade, section FROM students WHERE id = $1 LIMIT 1",
		id,
	)

	var s Student
	err := row.Scan(&s.Id, &s.Name, &s.Grade, &s.Section)
	return s, err
}

func (db *PgClassChatRepository) GetStudentsByGradeSection(grade, section string) ([]Student, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, grade, section FROM students "+
			"WHERE grade = $1 AND section = $2 ORDER BY id",
		grade, section,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.Id, &s.Name, &s.Grade, &s.Section); err != nil {
			return nil, err
		}
		students = append(students, s)
	}

	return students, rows.Err()
}

func (db *PgClassChatRepository) GetClassesForTeacher(teacherId string) ([]Class, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, teacher_id, created_at FROM classes "+
			"WHERE teacher_id = $1 ORDER BY id",
		teacherId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classes []Class
	var classIds []string
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.Id, &c.Name, &c.TeacherId, &c.CreatedAt); err != nil {
			return nil, err
		}
		classes = append(classes, c)
		classIds = append(classIds, c.Id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(classIds) == 0 {
		return classes, nil
	}

	sectionRows, err := db.conn.Query(
		"SELECT class_id, grade, section FROM class_sections WHERE class_id = ANY($1)",
		pq.Array(classIds),
	)
	if err != nil {
		return nil, err
	}
	defer sectionRows.Close()

	sections := make(map[string][]types.GradeSection)
	for sectionRows.Next() {
		var classId string
		var gs types.GradeSection
		if err := sectionRows.Scan(&classId, &gs.Grade, &gs.Section); err != nil {
			return nil, err
		}
		sections[classId] = append(sections[classId], gs)
	}
	if err := sectionRows.Err(); err != nil {
		return nil, err
	}

	for i := range classes {
		classes[i].Sections = sections[classes[i].Id]
	}

	return classes, nil
}

func (db *PgClassChatRepository) GetClassIdsForStudent(grade, section string) ([]string, error) {
	rows, err := db.conn.Query(
		"SELECT DISTINCT class_id FROM class_sections "+
			"WHERE grade = $1 AND section = $2 ORDER BY class_id",
		grade, section,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var classIds []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		classIds = append(classIds, id)
	}

	return classIds, rows.Err()
}

func (db *PgClassChatRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	return scanRoom(row)
}

func (db *PgClassChatRepository) GetPrivateRoomsByTeacher(teacherId string) ([]Room, error) {
	return db.queryRooms(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'private' AND teacher_id = $1 ORDER BY id",
		teacherId,
	)
}

func (db *PgClassChatRepository) GetPrivateRoomsByStudent(studentId string) ([]Room, error) {
	return db.queryRooms(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'private' AND student_id = $1 ORDER BY id",
		studentId,
	)
}

func (db *PgClassChatRepository) GetClassRoomsByTeacher(teacherId string) ([]Room, error) {
	return db.queryRooms(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'class' AND teacher_id = $1 ORDER BY id",
		teacherId,
	)
}

func (db *PgClassChatRepository) GetClassRoomsByClassIds(classIds []string) ([]Room, error) {
	return db.queryRooms(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'class' AND class_id = ANY($1) ORDER BY id",
		pq.Array(classIds),
	)
}

// CreatePrivateRoom inserts a private room for the teacher/student pair if
// none exists. The conditional insert makes concurrent creators converge on a
// single row; the second return value reports whether this call created it.
func (db *PgClassChatRepository) CreatePrivateRoom(params CreatePrivateRoomParams) (Room, bool, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, type, is_active, teacher_id, student_id, teacher_name, student_name, created_at, updated_at) "+
			"VALUES ($1, 'private', TRUE, $2, $3, $4, $5, $6, $6) "+
			"ON CONFLICT (teacher_id, student_id) WHERE type = 'private' DO NOTHING "+
			"RETURNING "+roomColumns,
		params.ExternalId,
		params.TeacherId,
		params.StudentId,
		params.TeacherName,
		params.StudentName,
		now,
	)

	room, err := scanRoom(row)
	if err == nil {
		return room, true, nil
	}
	if err != sql.ErrNoRows {
		return Room{}, false, err
	}

	// lost the race, return the winner's row
	existing := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'private' AND teacher_id = $1 AND student_id = $2 LIMIT 1",
		params.TeacherId,
		params.StudentId,
	)
	room, err = scanRoom(existing)
	return room, false, err
}

// CreateClassRoom inserts a class room deduplicated by class name and
// teacher. Schedule entries sharing the name reuse the first room created;
// the cached class id of an existing room is never overwritten.
func (db *PgClassChatRepository) CreateClassRoom(params CreateClassRoomParams) (Room, bool, error) {
	now := time.Now().UTC()
	row := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, type, is_active, teacher_id, class_id, name, created_at, updated_at) "+
			"VALUES ($1, 'class', TRUE, $2, $3, $4, $5, $5) "+
			"ON CONFLICT (name, teacher_id) WHERE type = 'class' DO NOTHING "+
			"RETURNING "+roomColumns,
		params.ExternalId,
		params.TeacherId,
		params.ClassId,
		params.Name,
		now,
	)

	room, err := scanRoom(row)
	if err == nil {
		return room, true, nil
	}
	if err != sql.ErrNoRows {
		return Room{}, false, err
	}

	existing := db.conn.QueryRow(
		"SELECT "+roomColumns+" FROM rooms "+
			"WHERE type = 'class' AND name = $1 AND teacher_id = $2 LIMIT 1",
		params.Name,
		params.TeacherId,
	)
	room, err = scanRoom(existing)
	return room, false, err
}

func (db *PgClassChatRepository) UpdateRoomNames(roomId int, teacherName, studentName string) error {
	_, err := db.conn.Exec(
		"UPDATE rooms SET teacher_name = $2, student_name = $3, updated_at = $4 WHERE id = $1",
		roomId,
		teacherName,
		studentName,
		time.Now().UTC(),
	)
	return err
}

func (db *PgClassChatRepository) SetRoomActive(externalId string, isActive bool) (Room, error) {
	row := db.conn.QueryRow(
		"UPDATE rooms SET is_active = $2, updated_at = $3 "+
			"WHERE external_id = $1 RETURNING "+roomColumns,
		externalId,
		isActive,
		time.Now().UTC(),
	)

	return scanRoom(row)
}

func (db *PgClassChatRepository) ResetUnread(externalId string, role types.Role) error {
	var query string
	switch role {
	case types.RoleTeacher:
		query = "UPDATE rooms SET teacher_unread_count = 0 WHERE external_id = $1"
	case types.RoleStudent:
		query = "UPDATE rooms SET student_unread_count = 0 WHERE external_id = $1"
	default:
		return fmt.Errorf("unknown role %q", role)
	}

	_, err := db.conn.Exec(query, externalId)
	return err
}

// AppendMessage appends a message and updates the room's last-message cache
// and the recipient role's unread counter in one transaction, so a crash
// between the steps cannot leave the cache inconsistent with the log.
func (db *PgClassChatRepository) AppendMessage(params AppendMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"INSERT INTO messages (room_id, sender_id, sender_name, sender_type, content, message_type, media_url, file_name, file_size, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at",
		params.RoomId,
		params.SenderId,
		params.SenderName,
		params.SenderType,
		params.Content,
		params.MessageType,
		params.MediaUrl,
		params.FileName,
		params.FileSize,
		params.Timestamp,
	)

	msg := Message{
		RoomId:      params.RoomId,
		SenderId:    params.SenderId,
		SenderName:  params.SenderName,
		SenderType:  params.SenderType,
		Content:     params.Content,
		MessageType: params.MessageType,
		MediaUrl:    params.MediaUrl,
		FileName:    params.FileName,
		FileSize:    params.FileSize,
	}
	if err := row.Scan(&msg.Id, &msg.CreatedAt); err != nil {
		return Message{}, err
	}

	teacherInc, studentInc := 0, 1
	if params.SenderType == types.RoleStudent {
		teacherInc, studentInc = 1, 0
	}

	if _, err := tx.Exec(
		"UPDATE rooms SET last_message = $2, last_message_time = $3, updated_at = $3, "+
			"teacher_unread_count = teacher_unread_count + $4, "+
			"student_unread_count = student_unread_count + $5 "+
			"WHERE id = $1",
		params.RoomId,
		params.Content,
		params.Timestamp,
		teacherInc,
		studentInc,
	); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *PgClassChatRepository) GetMessages(roomId, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}

	rows, err := db.conn.Query(
		"SELECT id, room_id, sender_id, sender_name, sender_type, content, message_type, media_url, file_name, file_size, created_at "+
			"FROM messages WHERE room_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		roomId,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.Id,
			&m.RoomId,
			&m.SenderId,
			&m.SenderName,
			&m.SenderType,
			&m.Content,
			&m.MessageType,
			&m.MediaUrl,
			&m.FileName,
			&m.FileSize,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// most-recent page, oldest first for display
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
