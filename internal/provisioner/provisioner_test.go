package provisioner

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/stats"
	"github.com/classchat/classchat/internal/testutil"
	"github.com/classchat/classchat/internal/types"
)

func newTestProvisioner(t *testing.T, db database.ClassChatRepository, su stats.StatsProvider) *Provisioner {
	p := NewProvisioner(testutil.TestLogger(t), db, su)
	p.newId = func() (string, error) { return "sid-test", nil }
	return p
}

func TestEnsureClassRoom(t *testing.T) {
	t.Run("creates new room open with zeroed counters", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("CreateClassRoom", database.CreateClassRoomParams{
			ExternalId: "sid-test", ClassId: "c1", Name: "Math 7", TeacherId: "t1",
		}).Return(database.Room{
			Id: 1, ExternalId: "sid-test", Type: types.RoomTypeClass, IsActive: true,
			TeacherId: "t1", ClassId: "c1", Name: "Math 7",
		}, true, nil)
		su.On("Incr", stats.RoomsProvisioned).Return()

		p := newTestProvisioner(t, db, su)
		room, err := p.EnsureClassRoom("c1", "t1", "Math 7")
		require.NoError(t, err)

		assert.Equal(t, "sid-test", room.Id)
		assert.True(t, room.IsActive, "expected new class room to be open")
		assert.Zero(t, room.TeacherUnreadCount, "expected zeroed teacher counter")
		assert.Zero(t, room.StudentUnreadCount, "expected zeroed student counter")
	})

	t.Run("existing room returned with cached class id intact", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		// a second schedule entry (c2) hits the same name+teacher room
		db.On("CreateClassRoom", mock.MatchedBy(func(p database.CreateClassRoomParams) bool {
			return p.ClassId == "c2" && p.Name == "Math 7" && p.TeacherId == "t1"
		})).Return(database.Room{
			Id: 1, ExternalId: "existing", Type: types.RoomTypeClass, IsActive: true,
			TeacherId: "t1", ClassId: "c1", Name: "Math 7",
		}, false, nil)

		p := newTestProvisioner(t, db, su)
		room, err := p.EnsureClassRoom("c2", "t1", "Math 7")
		require.NoError(t, err)

		assert.Equal(t, "existing", room.Id, "expected the first room reused")
		assert.Equal(t, "c1", room.ClassId, "expected cached class id not overwritten")
		su.AssertNotCalled(t, "Incr", stats.RoomsProvisioned)
	})
}

func TestEnsurePrivateRoom(t *testing.T) {
	t.Run("resolves display names from roster", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("GetTeacher", "t1").Return(database.Teacher{Id: "t1", Name: "Mr. Rao"}, nil)
		db.On("GetStudent", "s1").Return(database.Student{Id: "s1", Name: "Asha"}, nil)
		db.On("CreatePrivateRoom", database.CreatePrivateRoomParams{
			ExternalId: "sid-test", TeacherId: "t1", StudentId: "s1",
			TeacherName: "Mr. Rao", StudentName: "Asha",
		}).Return(database.Room{
			Id: 1, ExternalId: "sid-test", Type: types.RoomTypePrivate, IsActive: true,
			TeacherId: "t1", StudentId: "s1", TeacherName: "Mr. Rao", StudentName: "Asha",
		}, true, nil)
		su.On("Incr", stats.RoomsProvisioned).Return()

		p := newTestProvisioner(t, db, su)
		room, err := p.EnsurePrivateRoom("t1", "s1")
		require.NoError(t, err)
		assert.Equal(t, "Mr. Rao", room.TeacherName)
		assert.Equal(t, "Asha", room.StudentName)
	})

	t.Run("missing records fall back to default names", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("GetTeacher", "t1").Return(database.Teacher{}, sql.ErrNoRows)
		db.On("GetStudent", "s1").Return(database.Student{}, sql.ErrNoRows)
		db.On("CreatePrivateRoom", mock.MatchedBy(func(p database.CreatePrivateRoomParams) bool {
			return p.TeacherName == "Teacher" && p.StudentName == "Student"
		})).Return(database.Room{Id: 1, ExternalId: "sid-test", Type: types.RoomTypePrivate}, true, nil)
		su.On("Incr", stats.RoomsProvisioned).Return()

		p := newTestProvisioner(t, db, su)
		_, err := p.EnsurePrivateRoom("t1", "s1")
		require.NoError(t, err)
	})

	t.Run("second call returns first room", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("GetTeacher", "t1").Return(database.Teacher{Id: "t1", Name: "Mr. Rao"}, nil)
		db.On("GetStudent", "s1").Return(database.Student{Id: "s1", Name: "Asha"}, nil)
		db.On("CreatePrivateRoom", mock.Anything).Return(database.Room{
			Id: 1, ExternalId: "first", Type: types.RoomTypePrivate,
			TeacherName: "Mr. Rao", StudentName: "Asha",
		}, false, nil)

		p := newTestProvisioner(t, db, su)
		room, err := p.EnsurePrivateRoom("t1", "s1")
		require.NoError(t, err)
		assert.Equal(t, "first", room.Id, "expected the existing room's id")
		su.AssertNotCalled(t, "Incr", stats.RoomsProvisioned)
	})
}

func TestEnsurePrivateRoomsForRoster(t *testing.T) {
	gradeSections := []types.GradeSection{{Grade: "7", Section: "B"}}

	t.Run("creates rooms for each student", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("GetTeacher", "t1").Return(database.Teacher{Id: "t1", Name: "Mr. Rao"}, nil)
		db.On("GetStudentsByGradeSection", "7", "B").Return([]database.Student{
			{Id: "s1", Name: "Asha", Grade: "7", Section: "B"},
			{Id: "s2", Name: "Ben", Grade: "7", Section: "B"},
		}, nil)
		db.On("CreatePrivateRoom", mock.MatchedBy(func(p database.CreatePrivateRoomParams) bool {
			return p.StudentId == "s1"
		})).Return(database.Room{Id: 1, ExternalId: "ra", TeacherName: "Mr. Rao", StudentName: "Asha"}, true, nil)
		db.On("CreatePrivateRoom", mock.MatchedBy(func(p database.CreatePrivateRoomParams) bool {
			return p.StudentId == "s2"
		})).Return(database.Room{Id: 2, ExternalId: "rb", TeacherName: "Mr. Rao", StudentName: "Ben"}, true, nil)
		su.On("Incr", stats.RoomsProvisioned).Return().Times(2)

		p := newTestProvisioner(t, db, su)
		res, err := p.EnsurePrivateRoomsForRoster("t1", gradeSections)
		require.NoError(t, err)
		assert.Equal(t, RosterResult{Created: 2, Existing: 0}, res)
	})

	t.Run("idempotent rerun counts existing and backfills missing names", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)

		db.On("GetTeacher", "t1").Return(database.Teacher{Id: "t1", Name: "Mr. Rao"}, nil)
		db.On("GetStudentsByGradeSection", "7", "B").Return([]database.Student{
			{Id: "s1", Name: "Asha", Grade: "7", Section: "B"},
		}, nil)
		// pre-existing room from before names were cached
		db.On("CreatePrivateRoom", mock.Anything).Return(database.Room{
			Id: 7, ExternalId: "old", TeacherId: "t1", StudentId: "s1",
		}, false, nil)
		db.On("UpdateRoomNames", 7, "Mr. Rao", "Asha").Return(nil)

		p := newTestProvisioner(t, db, su)
		res, err := p.EnsurePrivateRoomsForRoster("t1", gradeSections)
		require.NoError(t, err)
		assert.Equal(t, RosterResult{Created: 0, Existing: 1}, res)
	})
}
