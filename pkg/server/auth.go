package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/feedwire/feedwire/pkg/database"
)

// ErrNoSession indicates the request carried no resolvable web session.
var ErrNoSession = errors.New("no valid session")

// resolveSessionIdentity authenticates a request against the shared session
// store. The websocket handshake and the HTTP API both go through here, so a
// browser's login cookie is one trust domain across both. Failure is
// terminal for the operation; there are no retries.
func (s *Server) resolveSessionIdentity(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(s.config.SessionCookie)
	if err != nil {
		return 0, ErrNoSession
	}

	userID, err := s.db.GetAuthSession(cookie.Value)
	if errors.Is(err, database.ErrSessionNotFound) {
		return 0, ErrNoSession
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// handleRegister creates an account and logs it in
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "missing fields")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		errorLog.Printf("bcrypt hash failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	userID, err := s.db.CreateUser(req.Username, string(hash))
	if errors.Is(err, database.ErrUsernameTaken) {
		writeJSONError(w, http.StatusBadRequest, "username taken")
		return
	}
	if err != nil {
		errorLog.Printf("create user failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	if err := s.issueSession(w, userID); err != nil {
		errorLog.Printf("issue session failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"user": userPayload{ID: userID, Username: req.Username},
	})
}

// handleLogin authenticates credentials and issues a session cookie
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid")
		return
	}

	user, err := s.db.GetUserByUsername(req.Username)
	if errors.Is(err, database.ErrUserNotFound) {
		writeJSONError(w, http.StatusBadRequest, "invalid")
		return
	}
	if err != nil {
		errorLog.Printf("login lookup failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid")
		return
	}

	if err := s.issueSession(w, user.ID); err != nil {
		errorLog.Printf("issue session failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"user": userPayload{ID: user.ID, Username: user.Username},
	})
}

// handleLogout invalidates the current session
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.config.SessionCookie); err == nil {
		if err := s.db.DeleteAuthSession(cookie.Value); err != nil {
			errorLog.Printf("delete session failed: %v", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleMe reports the logged-in user and their messaging preference. An
// unauthenticated request is not an error here; it answers loggedIn=false.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := s.resolveSessionIdentity(r)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
		return
	}

	user, err := s.db.GetUserByID(userID)
	if err != nil {
		// Don't fail the whole request over a profile read; answer with
		// defaults the way the preference contract demands.
		errorLog.Printf("me: user read failed (falling back to defaults): %v", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"loggedIn": true,
			"user":     map[string]any{"id": userID, "dm_follow_only": false},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loggedIn": true,
		"user": map[string]any{
			"id":             user.ID,
			"username":       user.Username,
			"dm_follow_only": user.DMFollowOnly,
		},
	})
}

// issueSession creates an auth session row and sets the shared cookie
func (s *Server) issueSession(w http.ResponseWriter, userID int64) error {
	ttl := time.Duration(s.config.SessionTTLHours) * time.Hour
	token, err := s.db.CreateAuthSession(userID, ttl)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
