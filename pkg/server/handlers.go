package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/feedwire/feedwire/pkg/database"
	"github.com/feedwire/feedwire/pkg/protocol"
)

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		errorLog.Printf("response encode failed: %v", err)
	}
}

// writeJSONError writes an {"error": ...} response
func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requireAuth resolves the request's session or writes a 401. The bool
// reports whether the caller may proceed.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := s.resolveSessionIdentity(r)
	if errors.Is(err, ErrNoSession) {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated")
		return 0, false
	}
	if err != nil {
		errorLog.Printf("session resolution failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return 0, false
	}
	return userID, true
}

// pathUserID parses the {id} path segment
func pathUserID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// handleSetDMFollowOnly updates the caller's messaging privacy preference.
// Only the owning identity can change it; there is no admin override.
func (s *Server) handleSetDMFollowOnly(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing fields")
		return
	}

	if err := s.db.SetDMFollowOnly(userID, req.Enabled); err != nil {
		errorLog.Printf("update dm_follow_only failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleFollow creates a follow edge and nudges the follower's own feed.
// Duplicate follows are a no-op.
func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.db.CreateFollow(userID, targetID); err != nil {
		errorLog.Printf("create follow failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	// Push is best effort; the follow is already committed.
	s.dispatcher.Notify(userID, protocol.NewFeedUpdate())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleUnfollow removes a follow edge and nudges the follower's own feed
func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.db.DeleteFollow(userID, targetID); err != nil {
		errorLog.Printf("delete follow failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	s.dispatcher.Notify(userID, protocol.NewFeedUpdate())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleCreatePost stores a post and broadcasts a feed refresh to every
// connected user. Attachment handling and body rendering live in the web
// layer; this endpoint only needs the mutation that drives the broadcast.
func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing fields")
		return
	}

	postID, err := s.db.CreatePost(userID, req.Content)
	if err != nil {
		errorLog.Printf("create post failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	s.dispatcher.Broadcast(protocol.NewFeedUpdate())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "postId": postID})
}

// handleCanDM is the standalone gate query, used by clients to grey out the
// message button before the user composes anything.
func (s *Server) handleCanDM(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	targetID, ok := pathUserID(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if _, err := s.db.GetUserByID(targetID); errors.Is(err, database.ErrUserNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"allowed": false})
		return
	}

	allowed, err := s.gate.MayMessage(userID, targetID)
	if err != nil {
		errorLog.Printf("canDM check failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"allowed": allowed})
}

// handleConversations lists the caller's DM sidebar entries
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	convos, err := s.db.ListConversations(userID)
	if err != nil {
		errorLog.Printf("list conversations failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	type convoPayload struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		LastMsg  string `json:"last_msg"`
	}
	payload := make([]convoPayload, 0, len(convos))
	for _, c := range convos {
		payload = append(payload, convoPayload{ID: c.PeerID, Username: c.PeerUsername, LastMsg: c.LastMessage})
	}
	writeJSON(w, http.StatusOK, map[string]any{"convos": payload})
}

// handleSearchUsers returns users whose name starts with the query
func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAuth(w, r); !ok {
		return
	}

	query := r.URL.Query().Get("q")
	users, err := s.db.SearchUsers(query, 20)
	if err != nil {
		errorLog.Printf("search users failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "server error")
		return
	}

	results := make([]userPayload, 0, len(users))
	for _, u := range users {
		results = append(results, userPayload{ID: u.ID, Username: u.Username})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// HealthHandler reports liveness for the internal metrics listener
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}
