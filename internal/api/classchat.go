package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/classchat/classchat/internal/blob"
	"github.com/classchat/classchat/internal/config"
	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/provisioner"
	"github.com/classchat/classchat/internal/server"
	"github.com/classchat/classchat/internal/types"
)

// RoomResolver computes the room list visible to a viewer.
type RoomResolver interface {
	RoomsForTeacher(teacherId string) ([]types.Room, error)
	RoomsForStudent(studentId string) ([]types.Room, error)
}

// RoomProvisioner creates rooms idempotently on behalf of the school
// platform's enrollment webhooks.
type RoomProvisioner interface {
	EnsureClassRoom(classId, teacherId, className string) (types.Room, error)
	EnsurePrivateRoom(teacherId, studentId string) (types.Room, error)
	EnsurePrivateRoomsForRoster(teacherId string, gradeSections []types.GradeSection) (provisioner.RosterResult, error)
}

type ClassChatApp struct {
	log            *log.Logger
	db             database.ClassChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	resolver       RoomResolver
	prov           RoomProvisioner
	blobs          blob.Store
	signingKey     []byte
	allowedOrigins []string
}

func NewClassChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.ClassChatRepository,
	resolver RoomResolver, prov RoomProvisioner, blobs blob.Store, cfg *config.Config) *ClassChatApp {
	s := &ClassChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		resolver:       resolver,
		prov:           prov,
		blobs:          blobs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRooms))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("POST /api/provision/class", s.authMiddleware(s.provisionClassRoom))
	mux.Handle("POST /api/provision/private", s.authMiddleware(s.provisionPrivateRoom))
	mux.Handle("POST /api/provision/roster", s.authMiddleware(s.provisionRoster))
	mux.Handle("POST /chat/upload", s.authMiddleware(s.upload))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ClassChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ClassChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
