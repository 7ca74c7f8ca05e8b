package server

import (
	"log"
	"sync"
	"time"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/stats"
	"github.com/classchat/classchat/internal/types"
)

var idleRoomTimeout = time.Minute * 5

type leaveReq struct {
	c *Client
}

// Room is the actor for one chat room. All sends and status toggles for the
// room pass through its single goroutine, so message order and the closed
// check are serialized without locking.
type Room struct {
	id         int
	externalId string
	roomType   types.RoomType
	isActive   bool
	teacherId  string
	name       string

	cs            *ChatServer
	joinChan      chan *ClientMessage
	leaveChan     chan leaveReq
	clientMsgChan chan *ClientMessage
	clients       map[*Client]struct{}
	clientLock    sync.RWMutex
	exit          chan struct{}
	done          chan struct{}
	log           *log.Logger
	killTimer     *time.Timer
}

func newRoom(cs *ChatServer, dbRoom database.Room) *Room {
	name := dbRoom.Name
	if name == "" {
		name = dbRoom.ExternalId
	}

	return &Room{
		id:            dbRoom.Id,
		externalId:    dbRoom.ExternalId,
		roomType:      dbRoom.Type,
		isActive:      dbRoom.IsActive,
		teacherId:     dbRoom.TeacherId,
		name:          name,
		cs:            cs,
		joinChan:      make(chan *ClientMessage, 256),
		leaveChan:     make(chan leaveReq, 256),
		clientMsgChan: make(chan *ClientMessage, 256),
		clients:       make(map[*Client]struct{}),
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
		log:           cs.log,
	}
}

func (r *Room) start() {
	defer func() {
		r.log.Printf("room %q exiting", r.name)
	}()

	r.log.Printf("starting room %q", r.name)

	r.killTimer = time.NewTimer(idleRoomTimeout)
	r.killTimer.Stop()

	for {
		select {
		case joinMsg := <-r.joinChan:
			r.addClient(joinMsg.client)
		case leave := <-r.leaveChan:
			r.removeClient(leave.c)
			leave.c.delRoom(r.externalId)

			if len(r.clients) == 0 {
				r.log.Printf("no clients in %q, starting kill timer", r.name)
				r.killTimer.Reset(idleRoomTimeout)
			}
		case msg := <-r.clientMsgChan:
			switch {
			case msg.Publish != nil:
				r.saveAndBroadcast(msg)
			case msg.ToggleStatus != nil:
				r.handleToggle(msg)
			}
		case <-r.killTimer.C:
			r.log.Printf("room %q timed out", r.name)
			r.cs.unloadRoomChan <- unloadRoomRequest{roomId: r.externalId}
		case <-r.exit:
			for c := range r.clients {
				c.delRoom(r.externalId)
			}

			close(r.done)
			return
		}
	}
}

func (r *Room) addClient(c *Client) {
	r.killTimer.Stop()

	r.clientLock.Lock()
	r.clients[c] = struct{}{}
	r.clientLock.Unlock()

	c.addRoom(r)
	r.log.Printf("added %s %q to room %q", c.user.Role, c.user.Id, r.name)
}

func (r *Room) removeClient(c *Client) {
	r.clientLock.Lock()
	delete(r.clients, c)
	r.clientLock.Unlock()

	r.log.Printf("removed %s %q from room %q", c.user.Role, c.user.Id, r.name)
}

// saveAndBroadcast persists a message and fans it out to every subscribed
// connection, the sender included. Students cannot post to a closed room;
// the teacher still can.
func (r *Room) saveAndBroadcast(msg *ClientMessage) {
	pub := msg.Publish

	if !r.isActive && msg.client.user.Role != types.RoleTeacher {
		msg.client.queueMessage(ErrRoomClosed(msg.Id))
		return
	}

	if pub.Content == "" || !pub.SenderType.Valid() {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	messageType := pub.MessageType
	if messageType == "" {
		messageType = types.MessageTypeText
	}

	saved, err := r.cs.db.AppendMessage(database.AppendMessageParams{
		RoomId:      r.id,
		SenderId:    pub.SenderId,
		SenderName:  pub.SenderName,
		SenderType:  pub.SenderType,
		Content:     pub.Content,
		MessageType: messageType,
		MediaUrl:    pub.MediaUrl,
		FileName:    pub.FileName,
		FileSize:    pub.FileSize,
		Timestamp:   Now(),
	})
	if err != nil {
		r.log.Println("AppendMessage:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.cs.stats.Incr(stats.MessagesSent)

	out := viewMessage(saved, r.externalId)
	r.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: saved.CreatedAt},
		Message:     &out,
	})
}

// handleToggle opens or closes the room. Only the room's teacher may do it,
// and the resulting status change is announced to every live connection so
// users who haven't opened the room see it too.
func (r *Room) handleToggle(msg *ClientMessage) {
	toggle := msg.ToggleStatus

	if msg.client.user.Role != types.RoleTeacher || msg.client.user.Id != r.teacherId {
		msg.client.queueMessage(ErrNotAllowed(msg.Id))
		return
	}

	updated, err := r.cs.db.SetRoomActive(r.externalId, toggle.IsActive)
	if err != nil {
		r.log.Println("SetRoomActive:", err)
		msg.client.queueMessage(ErrInternalError(msg.Id))
		return
	}

	r.isActive = updated.IsActive
	r.log.Printf("room %q active=%t", r.name, r.isActive)

	r.cs.broadcastAllChan <- &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		StatusChange: &StatusChange{
			RoomId:   r.externalId,
			IsActive: r.isActive,
		},
	}
}

func (r *Room) broadcast(msg *ServerMessage) {
	r.clientLock.RLock()
	defer r.clientLock.RUnlock()

	for client := range r.clients {
		client.queueMessage(msg)
	}
}

func viewMessage(m database.Message, externalRoomId string) types.Message {
	return types.Message{
		Id:          m.Id,
		RoomId:      externalRoomId,
		SenderId:    m.SenderId,
		SenderName:  m.SenderName,
		SenderType:  m.SenderType,
		Content:     m.Content,
		MessageType: m.MessageType,
		MediaUrl:    m.MediaUrl,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		Timestamp:   m.CreatedAt,
	}
}
