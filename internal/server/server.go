package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/provisioner"
	"github.com/classchat/classchat/internal/stats"
	"github.com/classchat/classchat/internal/types"
)

// RoomResolver computes the room list visible to a viewer.
type RoomResolver interface {
	RoomsForTeacher(teacherId string) ([]types.Room, error)
	RoomsForStudent(studentId string) ([]types.Room, error)
}

// RoomProvisioner creates private rooms from roster membership.
type RoomProvisioner interface {
	EnsurePrivateRoomsForRoster(teacherId string, gradeSections []types.GradeSection) (provisioner.RosterResult, error)
}

type unloadRoomRequest struct {
	roomId string
}

type stopRequest struct {
	done chan struct{}
}

// ChatServer owns the connection registry and the set of loaded room actors.
// Room actors are loaded lazily on first join and unloaded when idle.
type ChatServer struct {
	log      *log.Logger
	db       database.ClassChatRepository
	resolver RoomResolver
	prov     RoomProvisioner
	stats    stats.StatsProvider

	clients     map[*Client]struct{}
	clientsLock sync.Mutex

	rooms map[string]*Room

	joinChan         chan *ClientMessage
	toggleChan       chan *ClientMessage
	broadcastAllChan chan *ServerMessage
	RegisterChan     chan *Client
	deRegisterChan   chan *Client
	unloadRoomChan   chan unloadRoomRequest
	stop             chan stopRequest
	done             chan struct{}
}

func NewChatServer(logger *log.Logger, db database.ClassChatRepository, res RoomResolver, prov RoomProvisioner, su stats.StatsProvider) (*ChatServer, error) {
	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.ActiveRooms)
	su.RegisterMetric(stats.MessagesSent)
	su.RegisterMetric(stats.RoomsProvisioned)

	return &ChatServer{
		log:              logger,
		db:               db,
		resolver:         res,
		prov:             prov,
		stats:            su,
		clients:          make(map[*Client]struct{}),
		rooms:            make(map[string]*Room),
		joinChan:         make(chan *ClientMessage, 256),
		toggleChan:       make(chan *ClientMessage, 256),
		broadcastAllChan: make(chan *ServerMessage, 256),
		RegisterChan:     make(chan *Client),
		deRegisterChan:   make(chan *Client),
		unloadRoomChan:   make(chan unloadRoomRequest, 256),
		stop:             make(chan stopRequest),
		done:             make(chan struct{}),
	}, nil
}

func (cs *ChatServer) Run() {
	for {
		select {
		case joinMsg := <-cs.joinChan:
			room, ok := cs.loadRoom(joinMsg.Join.RoomId, joinMsg)
			if !ok {
				continue
			}
			select {
			case room.joinChan <- joinMsg:
			default:
				cs.log.Printf("join channel full on room %q", room.externalId)
				joinMsg.client.queueMessage(ErrServiceUnavailable(joinMsg.Id))
			}
		case toggleMsg := <-cs.toggleChan:
			room, ok := cs.loadRoom(toggleMsg.ToggleStatus.RoomId, toggleMsg)
			if !ok {
				continue
			}
			select {
			case room.clientMsgChan <- toggleMsg:
			default:
				cs.log.Printf("message channel full on room %q", room.externalId)
				toggleMsg.client.queueMessage(ErrServiceUnavailable(toggleMsg.Id))
			}
		case msg := <-cs.broadcastAllChan:
			cs.broadcastAll(msg)
		case client := <-cs.RegisterChan:
			cs.log.Printf("adding connection for %s %q", client.user.Role, client.user.Id)
			cs.addClient(client)
		case client := <-cs.deRegisterChan:
			cs.log.Printf("removing connection for %s %q", client.user.Role, client.user.Id)
			cs.removeClient(client)
		case req := <-cs.unloadRoomChan:
			if r, ok := cs.rooms[req.roomId]; ok {
				cs.unloadRoom(r.externalId)
				r.exit <- struct{}{}
				<-r.done
			}
		case req := <-cs.stop:
			cs.log.Println("shutting down rooms")
			for _, r := range cs.rooms {
				r.exit <- struct{}{}
				<-r.done
			}
			cs.rooms = make(map[string]*Room)

			close(req.done)
			close(cs.done)
			return
		}
	}
}

// loadRoom returns the actor for the room, starting one from the store if it
// isn't loaded. A missing room is reported to the requesting client.
func (cs *ChatServer) loadRoom(roomId string, msg *ClientMessage) (*Room, bool) {
	if room, ok := cs.rooms[roomId]; ok {
		return room, true
	}

	dbRoom, err := cs.db.GetRoomByExternalId(roomId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		} else {
			cs.log.Println("GetRoomByExternalId:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
		}
		return nil, false
	}

	room := newRoom(cs, dbRoom)
	cs.rooms[room.externalId] = room
	cs.stats.Incr(stats.ActiveRooms)

	go room.start()

	return room, true
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveConnections)
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	if _, ok := cs.clients[c]; !ok {
		return
	}
	delete(cs.clients, c)
	cs.stats.Decr(stats.ActiveConnections)
}

// broadcastAll delivers a message to every live connection, subscribed to
// the room or not. Used for chat-status-changed so closed/open banners reach
// users who haven't opened the room yet.
func (cs *ChatServer) broadcastAll(msg *ServerMessage) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) unloadRoom(roomId string) {
	if _, ok := cs.rooms[roomId]; ok {
		cs.log.Printf("unloading room %q", roomId)
		delete(cs.rooms, roomId)
		cs.stats.Decr(stats.ActiveRooms)
	}
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.RegisterChan <- c
}

func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	req := stopRequest{done: make(chan struct{})}
	select {
	case cs.stop <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
