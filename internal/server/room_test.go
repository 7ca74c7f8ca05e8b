package server

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/stats"
	"github.com/classchat/classchat/internal/testutil"
	"github.com/classchat/classchat/internal/types"
)

func TestNewRoom(t *testing.T) {
	cs := newTestChatServer(t, &database.MockClassChatRepository{}, &stats.MockStatsUpdater{})

	dbRoom := database.Room{
		Id:         7,
		ExternalId: "rm-7",
		Type:       types.RoomTypeClass,
		IsActive:   true,
		TeacherId:  "t-1",
		Name:       "Mathematics",
	}

	room := newRoom(cs, dbRoom)
	assert.Equal(t, 7, room.id, "expected room id to match")
	assert.Equal(t, "rm-7", room.externalId, "expected external id to match")
	assert.Equal(t, types.RoomTypeClass, room.roomType, "expected room type to match")
	assert.True(t, room.isActive, "expected active flag to match")
	assert.Equal(t, "t-1", room.teacherId, "expected teacher id to match")
	assert.Equal(t, "Mathematics", room.name, "expected room name to match")
	assert.NotNil(t, room.joinChan, "expected joinChan to be initialized")
	assert.NotNil(t, room.leaveChan, "expected leaveChan to be initialized")
	assert.NotNil(t, room.clientMsgChan, "expected clientMsgChan to be initialized")
	assert.NotNil(t, room.clients, "expected clients map to be initialized")

	// a nameless private room is logged by its external id
	room = newRoom(cs, database.Room{Id: 8, ExternalId: "rm-8", Type: types.RoomTypePrivate})
	assert.Equal(t, "rm-8", room.name, "expected external id fallback for nameless room")
}

func TestRoom_addClient_removeClient(t *testing.T) {
	cs := newTestChatServer(t, &database.MockClassChatRepository{}, &stats.MockStatsUpdater{})
	room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1"})
	room.killTimer = time.NewTimer(idleRoomTimeout)
	room.killTimer.Stop()

	c := &Client{
		user:  types.User{Id: "s-1", Role: types.RoleStudent},
		rooms: make(map[string]*Room),
		log:   testutil.TestLogger(t),
	}

	room.addClient(c)
	assert.Contains(t, room.clients, c, "expected client to be added to room")
	assert.Contains(t, c.rooms, room.externalId, "expected room to be tracked by client")

	room.removeClient(c)
	assert.NotContains(t, room.clients, c, "expected client to be removed from room")
}

func TestRoom_saveAndBroadcast(t *testing.T) {
	newClient := func(t *testing.T, role types.Role) *Client {
		return &Client{
			user:  types.User{Id: "u-1", Role: role},
			send:  make(chan *ServerMessage, 4),
			rooms: make(map[string]*Room),
			log:   testutil.TestLogger(t),
		}
	}

	t.Run("persists and broadcasts to all clients including sender", func(t *testing.T) {
		now := Now()
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.MatchedBy(func(p database.AppendMessageParams) bool {
			return p.RoomId == 1 && p.SenderId == "s-1" && p.Content == "hello" &&
				p.MessageType == types.MessageTypeText
		})).Return(database.Message{
			Id:          10,
			RoomId:      1,
			SenderId:    "s-1",
			SenderName:  "Ana",
			SenderType:  types.RoleStudent,
			Content:     "hello",
			MessageType: types.MessageTypeText,
			CreatedAt:   now,
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.MessagesSent).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

		sender := newClient(t, types.RoleStudent)
		other := newClient(t, types.RoleTeacher)
		room.clients[sender] = struct{}{}
		room.clients[other] = struct{}{}

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1, Timestamp: now},
			Publish: &Publish{
				RoomId:     "rm-1",
				Content:    "hello",
				SenderId:   "s-1",
				SenderName: "Ana",
				SenderType: types.RoleStudent,
			},
			client: sender,
		})

		for _, c := range []*Client{sender, other} {
			select {
			case msg := <-c.send:
				assert.NotNil(t, msg.Message, "expected new-message event")
				assert.Equal(t, 10, msg.Message.Id, "expected stored message id")
				assert.Equal(t, "rm-1", msg.Message.RoomId, "expected external room id on the wire")
				assert.Equal(t, "hello", msg.Message.Content, "expected message content")
				assert.Equal(t, now, msg.Message.Timestamp, "expected server-assigned timestamp")
			default:
				t.Error("expected message to be queued to client")
			}
		}
	})

	t.Run("defaults message type to text", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.MatchedBy(func(p database.AppendMessageParams) bool {
			return p.MessageType == types.MessageTypeText
		})).Return(database.Message{Id: 1, RoomId: 1, Content: "hi", MessageType: types.MessageTypeText}, nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.MessagesSent).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true})

		sender := newClient(t, types.RoleTeacher)
		room.clients[sender] = struct{}{}

		room.saveAndBroadcast(&ClientMessage{
			Publish: &Publish{RoomId: "rm-1", Content: "hi", SenderId: "t-1", SenderType: types.RoleTeacher},
			client:  sender,
		})
	})

	t.Run("rejects student message to closed room", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: false, TeacherId: "t-1"})

		sender := newClient(t, types.RoleStudent)
		room.clients[sender] = struct{}{}

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 5},
			Publish:     &Publish{RoomId: "rm-1", Content: "hello", SenderId: "s-1", SenderType: types.RoleStudent},
			client:      sender,
		})

		select {
		case msg := <-sender.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, 5, msg.Id, "expected error id to match request id")
			assert.Equal(t, "room is closed", msg.Error.Message, "expected room closed error")
		default:
			t.Error("expected error message to be queued")
		}
	})

	t.Run("allows teacher message to closed room", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything).Return(database.Message{
			Id: 11, RoomId: 1, Content: "announcement", MessageType: types.MessageTypeText,
		}, nil).Once()

		su := &stats.MockStatsUpdater{}
		su.On("Incr", stats.MessagesSent).Once()
		defer su.AssertExpectations(t)

		cs := newTestChatServer(t, db, su)
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: false, TeacherId: "t-1"})

		sender := newClient(t, types.RoleTeacher)
		room.clients[sender] = struct{}{}

		room.saveAndBroadcast(&ClientMessage{
			Publish: &Publish{RoomId: "rm-1", Content: "announcement", SenderId: "t-1", SenderType: types.RoleTeacher},
			client:  sender,
		})

		select {
		case msg := <-sender.send:
			assert.NotNil(t, msg.Message, "expected new-message event for teacher send")
		default:
			t.Error("expected message to be queued to sender")
		}
	})

	t.Run("rejects empty content", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockClassChatRepository{}, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true})

		sender := newClient(t, types.RoleStudent)
		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 2},
			Publish:     &Publish{RoomId: "rm-1", SenderId: "s-1", SenderType: types.RoleStudent},
			client:      sender,
		})

		select {
		case msg := <-sender.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, "invalid message format", msg.Error.Message, "expected invalid message error")
		default:
			t.Error("expected error message to be queued")
		}
	})

	t.Run("db error saving message", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("AppendMessage", mock.Anything).Return(database.Message{}, errors.New("db error")).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true})

		sender := newClient(t, types.RoleStudent)
		room.clients[sender] = struct{}{}

		room.saveAndBroadcast(&ClientMessage{
			BaseMessage: BaseMessage{Id: 3},
			Publish:     &Publish{RoomId: "rm-1", Content: "hello", SenderId: "s-1", SenderType: types.RoleStudent},
			client:      sender,
		})

		select {
		case msg := <-sender.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, "internal server error", msg.Error.Message, "expected internal error")
		default:
			t.Error("expected error message to be queued")
		}
	})
}

func TestRoom_broadcastOrdering(t *testing.T) {
	now := Now()
	contents := []string{"first", "second", "third", "fourth"}

	db := &database.MockClassChatRepository{}
	defer db.AssertExpectations(t)
	for i, content := range contents {
		content := content
		db.On("AppendMessage", mock.MatchedBy(func(p database.AppendMessageParams) bool {
			return p.RoomId == 1 && p.Content == content
		})).Return(database.Message{
			Id:          i + 1,
			RoomId:      1,
			SenderId:    "s-1",
			SenderName:  "Ana",
			SenderType:  types.RoleStudent,
			Content:     content,
			MessageType: types.MessageTypeText,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
		}, nil).Once()
	}

	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.MessagesSent).Times(len(contents))
	defer su.AssertExpectations(t)

	cs := newTestChatServer(t, db, su)
	room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

	sender := newTestClient(t, cs, types.User{Id: "s-1", Role: types.RoleStudent})
	other := newTestClient(t, cs, types.User{Id: "t-1", Role: types.RoleTeacher})
	room.clients[sender] = struct{}{}
	room.clients[other] = struct{}{}

	go room.start()
	defer func() {
		room.exit <- struct{}{}
		<-room.done
	}()

	for i, content := range contents {
		room.clientMsgChan <- &ClientMessage{
			BaseMessage: BaseMessage{Id: i + 1},
			Publish: &Publish{
				RoomId:     "rm-1",
				Content:    content,
				SenderId:   "s-1",
				SenderName: "Ana",
				SenderType: types.RoleStudent,
			},
			client: sender,
		}
	}

	// every subscriber drains the fan-out in append order
	for _, c := range []*Client{sender, other} {
		var got []string
		for range contents {
			select {
			case msg := <-c.send:
				assert.NotNil(t, msg.Message, "expected new-message event")
				got = append(got, msg.Message.Content)
			case <-time.After(time.Second):
				t.Fatal("timed out waiting for broadcast")
			}
		}
		assert.Equal(t, contents, got, "expected identical delivery order for all subscribers")
	}
}

func TestRoom_handleToggle(t *testing.T) {
	newClient := func(t *testing.T, id string, role types.Role) *Client {
		return &Client{
			user:  types.User{Id: id, Role: role},
			send:  make(chan *ServerMessage, 1),
			rooms: make(map[string]*Room),
			log:   testutil.TestLogger(t),
		}
	}

	t.Run("teacher closes the room", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("SetRoomActive", "rm-1", false).Return(database.Room{
			Id: 1, ExternalId: "rm-1", IsActive: false, TeacherId: "t-1",
		}, nil).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

		teacher := newClient(t, "t-1", types.RoleTeacher)
		room.handleToggle(&ClientMessage{
			BaseMessage:  BaseMessage{Id: 1},
			ToggleStatus: &ToggleStatus{RoomId: "rm-1", IsActive: false},
			client:       teacher,
		})

		assert.False(t, room.isActive, "expected cached active flag to be updated")

		select {
		case msg := <-cs.broadcastAllChan:
			assert.NotNil(t, msg.StatusChange, "expected chat-status-changed event")
			assert.Equal(t, "rm-1", msg.StatusChange.RoomId, "expected room id to match")
			assert.False(t, msg.StatusChange.IsActive, "expected room to be reported closed")
		default:
			t.Error("expected status change to be broadcast to all connections")
		}
	})

	t.Run("student may not toggle", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

		student := newClient(t, "s-1", types.RoleStudent)
		room.handleToggle(&ClientMessage{
			BaseMessage:  BaseMessage{Id: 2},
			ToggleStatus: &ToggleStatus{RoomId: "rm-1", IsActive: false},
			client:       student,
		})

		assert.True(t, room.isActive, "expected room to stay open")

		select {
		case msg := <-student.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, "not allowed", msg.Error.Message, "expected not allowed error")
		default:
			t.Error("expected error message to be queued")
		}
	})

	t.Run("another teacher may not toggle", func(t *testing.T) {
		cs := newTestChatServer(t, &database.MockClassChatRepository{}, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

		other := newClient(t, "t-2", types.RoleTeacher)
		room.handleToggle(&ClientMessage{
			ToggleStatus: &ToggleStatus{RoomId: "rm-1", IsActive: false},
			client:       other,
		})

		assert.True(t, room.isActive, "expected room to stay open")

		select {
		case msg := <-other.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, "not allowed", msg.Error.Message, "expected not allowed error")
		default:
			t.Error("expected error message to be queued")
		}
	})

	t.Run("db error toggling", func(t *testing.T) {
		db := &database.MockClassChatRepository{}
		defer db.AssertExpectations(t)
		db.On("SetRoomActive", "rm-1", false).Return(database.Room{}, errors.New("db error")).Once()

		cs := newTestChatServer(t, db, &stats.MockStatsUpdater{})
		room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1", IsActive: true, TeacherId: "t-1"})

		teacher := newClient(t, "t-1", types.RoleTeacher)
		room.handleToggle(&ClientMessage{
			BaseMessage:  BaseMessage{Id: 3},
			ToggleStatus: &ToggleStatus{RoomId: "rm-1", IsActive: false},
			client:       teacher,
		})

		assert.True(t, room.isActive, "expected cached active flag to be unchanged")

		select {
		case msg := <-teacher.send:
			assert.NotNil(t, msg.Error, "expected error event")
			assert.Equal(t, "internal server error", msg.Error.Message, "expected internal error")
		default:
			t.Error("expected error message to be queued")
		}
	})
}

func TestRoom_idleTimeout(t *testing.T) {
	cs := newTestChatServer(t, &database.MockClassChatRepository{}, &stats.MockStatsUpdater{})
	room := newRoom(cs, database.Room{Id: 1, ExternalId: "rm-1"})

	origTimeout := idleRoomTimeout
	idleRoomTimeout = 10 * time.Millisecond
	defer func() { idleRoomTimeout = origTimeout }()

	go room.start()
	defer func() {
		room.exit <- struct{}{}
		<-room.done
	}()

	c := &Client{
		user:  types.User{Id: "s-1", Role: types.RoleStudent},
		rooms: make(map[string]*Room),
		log:   testutil.TestLogger(t),
	}

	room.joinChan <- &ClientMessage{Join: &Join{RoomId: "rm-1"}, client: c}
	room.leaveChan <- leaveReq{c: c}

	select {
	case req := <-cs.unloadRoomChan:
		assert.Equal(t, "rm-1", req.roomId, "expected unload request for idle room")
	case <-time.After(time.Second):
		t.Error("expected idle room to request unload")
	}
}

func Test_viewMessage(t *testing.T) {
	now := Now()
	m := database.Message{
		Id:          3,
		RoomId:      1,
		SenderId:    "t-1",
		SenderName:  "Mr. Cole",
		SenderType:  types.RoleTeacher,
		Content:     "see attachment",
		MessageType: types.MessageTypeDocument,
		MediaUrl:    "http://localhost:8080/uploads/abc-notes.pdf",
		FileName:    "notes.pdf",
		FileSize:    2048,
		CreatedAt:   now,
	}

	got := viewMessage(m, "rm-1")
	assert.Equal(t, "rm-1", got.RoomId, "expected external room id")
	assert.Equal(t, m.Id, got.Id, "expected message id to match")
	assert.Equal(t, m.Content, got.Content, "expected content to match")
	assert.Equal(t, m.MessageType, got.MessageType, "expected message type to match")
	assert.Equal(t, m.MediaUrl, got.MediaUrl, "expected media url to match")
	assert.Equal(t, m.FileName, got.FileName, "expected file name to match")
	assert.Equal(t, m.FileSize, got.FileSize, "expected file size to match")
	assert.Equal(t, now, got.Timestamp, "expected timestamp to match")
}
