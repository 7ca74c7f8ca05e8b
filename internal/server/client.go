package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/classchat/classchat/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

type Client struct {
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	send       chan *ServerMessage
	rooms      map[string]*Room
	roomsLock  sync.RWMutex
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		conn:       conn,
		chatServer: cs,
		log:        l,
		user:       user,
		send:       make(chan *ServerMessage, 256),
		rooms:      make(map[string]*Room),
		stop:       make(chan struct{}),
	}
}

// Start runs the read and write pumps. The write pump owns all writes to the
// connection, including pings.
func (c *Client) Start() {
	go c.write()
	go c.read()
}

func (c *Client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(0))
			continue
		}

		msg.client = c
		msg.Timestamp = Now()

		switch {
		case msg.GetTeacherRooms != nil:
			c.handleGetTeacherRooms(&msg)
		case msg.GetStudentRooms != nil:
			c.handleGetStudentRooms(&msg)
		case msg.Join != nil:
			c.joinRoom(&msg)
		case msg.Leave != nil:
			c.leaveRoom(&msg)
		case msg.GetMessages != nil:
			c.handleGetMessages(&msg)
		case msg.Publish != nil:
			c.publish(&msg)
		case msg.ToggleStatus != nil:
			c.chatServer.toggleChan <- &msg
		case msg.InitRooms != nil:
			c.handleInitStudentRooms(&msg)
		default:
			c.queueMessage(ErrInvalidMessage(msg.Id))
		}
	}
}

// Room-list and history fetches are read paths: a store hiccup degrades to
// an empty reply with a logged cause, never an error event. A transient
// backend failure must not break a client's view.
func (c *Client) handleGetTeacherRooms(msg *ClientMessage) {
	rooms, err := c.chatServer.resolver.RoomsForTeacher(msg.GetTeacherRooms.TeacherId)
	if err != nil {
		c.log.Println("RoomsForTeacher:", err)
		rooms = []types.Room{}
	}

	c.queueMessage(&ServerMessage{
		BaseMessage:  BaseMessage{Id: msg.Id, Timestamp: Now()},
		TeacherRooms: &RoomList{Rooms: rooms},
	})
}

func (c *Client) handleGetStudentRooms(msg *ClientMessage) {
	rooms, err := c.chatServer.resolver.RoomsForStudent(msg.GetStudentRooms.StudentId)
	if err != nil {
		c.log.Println("RoomsForStudent:", err)
		rooms = []types.Room{}
	}

	c.queueMessage(&ServerMessage{
		BaseMessage:  BaseMessage{Id: msg.Id, Timestamp: Now()},
		StudentRooms: &RoomList{Rooms: rooms},
	})
}

// handleGetMessages returns room history oldest-first and clears the
// requester's unread counter. Fetching history is what "opening" a room
// means, so this is where unread resets. A vanished room or a store failure
// yields an empty history, same as the room-list reads.
func (c *Client) handleGetMessages(msg *ClientMessage) {
	req := msg.GetMessages

	messages := []types.Message{}
	dbRoom, err := c.chatServer.db.GetRoomByExternalId(req.RoomId)
	if err != nil {
		c.log.Println("GetRoomByExternalId:", err)
	} else {
		dbMessages, err := c.chatServer.db.GetMessages(dbRoom.Id, req.Limit)
		if err != nil {
			c.log.Println("GetMessages:", err)
		}
		for _, m := range dbMessages {
			messages = append(messages, viewMessage(m, dbRoom.ExternalId))
		}

		if err := c.chatServer.db.ResetUnread(dbRoom.ExternalId, c.user.Role); err != nil {
			c.log.Println("ResetUnread:", err)
		}
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		History: &MessageHistory{
			RoomId:   req.RoomId,
			Messages: messages,
		},
	})
}

// handleInitStudentRooms provisions a private room per student on the
// teacher's roster, then replies with counts followed by the refreshed room
// list.
func (c *Client) handleInitStudentRooms(msg *ClientMessage) {
	teacherId := msg.InitRooms.TeacherId

	classes, err := c.chatServer.db.GetClassesForTeacher(teacherId)
	if err != nil {
		c.log.Println("GetClassesForTeacher:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	seen := make(map[types.GradeSection]struct{})
	var gradeSections []types.GradeSection
	for _, class := range classes {
		for _, gs := range class.Sections {
			if _, ok := seen[gs]; ok {
				continue
			}
			seen[gs] = struct{}{}
			gradeSections = append(gradeSections, gs)
		}
	}

	result, err := c.chatServer.prov.EnsurePrivateRoomsForRoster(teacherId, gradeSections)
	if err != nil {
		c.log.Println("EnsurePrivateRoomsForRoster:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Id: msg.Id, Timestamp: Now()},
		InitResult: &RoomsInitialized{
			Created:  result.Created,
			Existing: result.Existing,
		},
	})

	rooms, err := c.chatServer.resolver.RoomsForTeacher(teacherId)
	if err != nil {
		c.log.Println("RoomsForTeacher:", err)
		return
	}

	c.queueMessage(&ServerMessage{
		BaseMessage:  BaseMessage{Timestamp: Now()},
		TeacherRooms: &RoomList{Rooms: rooms},
	})
}

func (c *Client) publish(msg *ClientMessage) {
	r := c.getRoom(msg.Publish.RoomId)
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.log.Printf("message channel full on room %q", r.externalId)
		c.queueMessage(ErrServiceUnavailable(msg.Id))
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) cleanup() {
	select {
	case c.chatServer.deRegisterChan <- c:
	case <-c.chatServer.done:
	}
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	for _, room := range c.rooms {
		select {
		case room.leaveChan <- leaveReq{c: c}:
		case <-room.done:
		}
	}
}

func (c *Client) joinRoom(msg *ClientMessage) {
	c.chatServer.joinChan <- msg
}

func (c *Client) leaveRoom(msg *ClientMessage) {
	r := c.getRoom(msg.Leave.RoomId)
	if r == nil {
		c.log.Printf("client not subscribed to room %q", msg.Leave.RoomId)
		return
	}

	select {
	case r.leaveChan <- leaveReq{c: c}:
	case <-r.done:
	}
}

func (c *Client) delRoom(id string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	delete(c.rooms, id)
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.externalId] = r
}

func (c *Client) getRoom(id string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	if room, ok := c.rooms[id]; ok {
		return room
	}

	return nil
}
