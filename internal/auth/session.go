// Package auth keeps the mock local session. There is no server-side
// authentication: a session is a user record stored on this device.
package auth

import (
	"strings"
	"sync"

	apperrors "github.com/eodiceanne-star/heard-app-beta/internal/errors"
	"github.com/eodiceanne-star/heard-app-beta/internal/logging"
	"github.com/eodiceanne-star/heard-app-beta/internal/models"
	"github.com/eodiceanne-star/heard-app-beta/internal/store"
	"github.com/eodiceanne-star/heard-app-beta/internal/uuid"
)

// MinPasswordLength is the shortest password Signup accepts.
const MinPasswordLength = 6

// Sessions manages the signed-in user.
type Sessions struct {
	mu     sync.Mutex
	store  *store.Store
	newID  uuid.Generator
	logger *logging.Logger
}

// NewSessions creates a session manager persisted in st.
func NewSessions(st *store.Store, logger *logging.Logger) *Sessions {
	if logger == nil {
		logger = logging.Get()
	}
	return &Sessions{store: st, newID: uuid.New, logger: logger}
}

// Login signs in with any non-empty email and password.
func (s *Sessions) Login(email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperrors.New(apperrors.ErrAuthFailed, "email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperrors.Newf(apperrors.ErrAuthFailed, "invalid email %q", email)
	}

	name := email[:strings.Index(email, "@")]
	return s.save(models.User{
		ID:          "user-" + s.newID(),
		Email:       email,
		DisplayName: name,
		Avatar:      avatarFor(name),
	})
}

// Signup creates a session for a new user.
func (s *Sessions) Signup(email, password, displayName string) (*models.User, error) {
	email = strings.TrimSpace(email)
	displayName = strings.TrimSpace(displayName)
	if email == "" || password == "" || displayName == "" {
		return nil, apperrors.New(apperrors.ErrAuthFailed, "email, password and display name are required")
	}
	if !strings.Contains(email, "@") {
		return nil, apperrors.Newf(apperrors.ErrAuthFailed, "invalid email %q", email)
	}
	if len([]rune(password)) < MinPasswordLength {
		return nil, apperrors.Newf(apperrors.ErrAuthFailed, "password must be at least %d characters", MinPasswordLength)
	}

	return s.save(models.User{
		ID:          "user-" + s.newID(),
		Email:       email,
		DisplayName: displayName,
		Avatar:      avatarFor(displayName),
	})
}

// Logout ends the session. Logging out without a session is a no-op.
func (s *Sessions) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Remove(models.KeySession); err != nil {
		return err
	}
	s.logger.Info("Signed out")
	return nil
}

// Current returns the signed-in user, or nil.
func (s *Sessions) Current() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	var u models.User
	ok, err := s.store.Read(models.KeySession, &u)
	if err != nil {
		s.logger.Error("Failed to read session", err)
		return nil
	}
	if !ok || u.ID == "" {
		return nil
	}
	return &u
}

// CurrentUserID returns the signed-in user's id, or "".
func (s *Sessions) CurrentUserID() string {
	if u := s.Current(); u != nil {
		return u.ID
	}
	return ""
}

func (s *Sessions) save(u models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Write(models.KeySession, u); err != nil {
		return nil, err
	}
	s.logger.Info("Signed in", map[string]interface{}{"user_id": u.ID})
	return &u, nil
}

// avatarFor returns the initial shown when no picture is set.
func avatarFor(name string) string {
	for _, r := range name {
		return strings.ToUpper(string(r))
	}
	return "?"
}
