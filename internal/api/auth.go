package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/classchat/classchat/internal/database"
	"github.com/classchat/classchat/internal/types"
)

const (
	accountIdClaim = "account-id"
	expClaim       = "exp"

	tokenCookieKey = "token"
)

var defaultJwtExpiration = time.Hour * 24

type contextKey string

const accountIdKey contextKey = "account-id"

func WithAccountId(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, accountIdKey, id)
}

func AccountId(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(accountIdKey).(int)
	return id, ok
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest binds a login to an existing teacher or student record.
type RegisterRequest struct {
	Email     string     `json:"email"`
	Password  string     `json:"password"`
	SubjectId string     `json:"subject_id"`
	Role      types.Role `json:"role"`
}

// Session is the authenticated identity returned by login and session
// lookups. Id is the teacher or student id the account belongs to.
type Session struct {
	Id   string     `json:"id"`
	Name string     `json:"name"`
	Role types.Role `json:"role"`
}

func (s *ClassChatApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Email == "" || req.Password == "" || req.SubjectId == "" || !req.Role.Valid() {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the roster record must exist before a login can be attached to it
	switch req.Role {
	case types.RoleTeacher:
		_, err := s.db.GetTeacher(req.SubjectId)
		if err != nil {
			s.registerLookupError(w, req.SubjectId, err)
			return
		}
	case types.RoleStudent:
		_, err := s.db.GetStudent(req.SubjectId)
		if err != nil {
			s.registerLookupError(w, req.SubjectId, err)
			return
		}
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.CreateAccount(database.CreateAccountParams{
		Email:        req.Email,
		PasswordHash: pwdHash,
		SubjectId:    req.SubjectId,
		Role:         req.Role,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	session, err := s.sessionForAccountId(account.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, session)
}

func (s *ClassChatApp) registerLookupError(w http.ResponseWriter, subjectId string, err error) {
	var errResp *ApiError
	if errors.Is(err, sql.ErrNoRows) {
		errResp = NewNotFoundError()
	} else {
		s.log.Printf("look up subject %q: %v", subjectId, err)
		errResp = NewInternalServerError(err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ClassChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	account, err := s.db.GetAccountByEmail(lr.Email)
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

	if !verifyPassword(account.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	session, err := s.sessionForAccountId(account.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(account.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, session)
}

func (s *ClassChatApp) session(w http.ResponseWriter, r *http.Request) {
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

	s.writeJson(w, http.StatusOK, session)
}

func (s *ClassChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

// sessionForAccountId resolves an account to the roster identity it logs in
// as, including the display name from the teacher or student record.
func (s *ClassChatApp) sessionForAccountId(accountId int) (Session, error) {
	account, err := s.db.GetAccountById(accountId)
	if err != nil {
		return Session{}, err
	}

	session := Session{Id: account.SubjectId, Role: account.Role}

	switch account.Role {
	case types.RoleTeacher:
		teacher, err := s.db.GetTeacher(account.SubjectId)
		if err != nil {
			return Session{}, fmt.Errorf("get teacher %q: %w", account.SubjectId, err)
		}
		session.Name = teacher.Name
	case types.RoleStudent:
		student, err := s.db.GetStudent(account.SubjectId)
		if err != nil {
			return Session{}, fmt.Errorf("get student %q: %w", account.SubjectId, err)
		}
		session.Name = student.Name
	default:
		return Session{}, fmt.Errorf("account %d has unknown role %q", account.Id, account.Role)
	}

	return session, nil
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *ClassChatApp) createJwtForSession(accountId int, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		accountIdClaim: accountId,
		expClaim:       time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *ClassChatApp) extractAccountIdFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}

	accountId, ok := claims[accountIdClaim].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid account id claim")
	}

	return int(accountId), nil
}
