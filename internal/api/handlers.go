package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/classchat/classchat/internal/server"
	"github.com/classchat/classchat/internal/types"
)

// maxUploadSize bounds chat attachments.
const maxUploadSize = 32 << 20

type ProvisionClassRoomRequest struct {
	ClassId   string `json:"class_id"`
	TeacherId string `json:"teacher_id"`
	ClassName string `json:"class_name"`
}

type ProvisionPrivateRoomRequest struct {
	TeacherId string `json:"teacher_id"`
	StudentId string `json:"student_id"`
}

type ProvisionRosterRequest struct {
	TeacherId     string               `json:"teacher_id"`
	GradeSections []types.GradeSection `json:"grade_sections"`
}

type ProvisionRosterResponse struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

type UploadResponse struct {
	Url         string            `json:"url"`
	FileName    string            `json:"file_name"`
	FileSize    int64             `json:"file_size"`
	MessageType types.MessageType `json:"message_type"`
	MimeType    string            `json:"mime_type"`
}

func (s *ClassChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// getRooms mirrors the socket room-list operations for callers that only
// need a one-shot snapshot.
func (s *ClassChatApp) getRooms(w http.ResponseWriter, r *http.Request) {
	teacherId := r.URL.Query().Get("teacher_id")
	studentId := r.URL.Query().Get("student_id")

	var (
		rooms []types.Room
		err   error
	)
	switch {
	case teacherId != "" && studentId == "":
		rooms, err = s.resolver.RoomsForTeacher(teacherId)
	case studentId != "" && teacherId == "":
		rooms, err = s.resolver.RoomsForStudent(studentId)
	default:
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err != nil {
		s.log.Println("resolve rooms:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, rooms)
}

func (s *ClassChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	dbMessages, err := s.db.GetMessages(room.Id, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.Message{
			Id:          msg.Id,
			RoomId:      room.ExternalId,
			SenderId:    msg.SenderId,
			SenderName:  msg.SenderName,
			SenderType:  msg.SenderType,
			Content:     msg.Content,
			MessageType: msg.MessageType,
			MediaUrl:    msg.MediaUrl,
			FileName:    msg.FileName,
			FileSize:    msg.FileSize,
			Timestamp:   msg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ClassChatApp) provisionClassRoom(w http.ResponseWriter, r *http.Request) {
	var req ProvisionClassRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ClassId == "" || req.TeacherId == "" || req.ClassName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.prov.EnsureClassRoom(req.ClassId, req.TeacherId, req.ClassName)
	if err != nil {
		s.log.Println("ensure class room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ClassChatApp) provisionPrivateRoom(w http.ResponseWriter, r *http.Request) {
	var req ProvisionPrivateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.TeacherId == "" || req.StudentId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.prov.EnsurePrivateRoom(req.TeacherId, req.StudentId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.log.Println("ensure private room:", err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

func (s *ClassChatApp) provisionRoster(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRosterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.TeacherId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	result, err := s.prov.EnsurePrivateRoomsForRoster(req.TeacherId, req.GradeSections)
	if err != nil {
		s.log.Println("ensure rooms for roster:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, ProvisionRosterResponse{
		Created:  result.Created,
		Existing: result.Existing,
	})
}

// upload stores a chat attachment and returns the payload fields the client
// embeds in its send-message request.
func (s *ClassChatApp) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		errResp := NewRequestEntityTooLargeError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	saved, err := s.blobs.Save(header.Filename, file)
	if err != nil {
		s.log.Println("save upload:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	s.writeJson(w, http.StatusOK, UploadResponse{
		Url:         saved.URL,
		FileName:    saved.FileName,
		FileSize:    saved.Size,
		MessageType: messageTypeForMime(mimeType),
		MimeType:    mimeType,
	})
}

func messageTypeForMime(mimeType string) types.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.MessageTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return types.MessageTypeVideo
	default:
		return types.MessageTypeDocument
	}
}

func (s *ClassChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	accountId, ok := AccountId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	session, err := s.sessionForAccountId(accountId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:   session.Id,
		Name: session.Name,
		Role: session.Role,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	client.Start()
}
