// Package database persists the social graph and direct-message log in
// SQLite. It is the single durable store: the web layer and the realtime
// layer share the same users, follows and auth session tables, so a login
// cookie issued over HTTP authenticates the websocket too.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrUserNotFound indicates the user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("username taken")
	// ErrSessionNotFound indicates the auth session is missing or expired.
	ErrSessionNotFound = errors.New("session not found")
)

// DB wraps the SQLite database connection
type DB struct {
	conn      *sql.DB // Read connection pool
	writeConn *sql.DB // Dedicated write connection (1 connection)
}

// Open opens a connection to the SQLite database at the given path
// and initializes the schema if needed
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Allow multiple readers in WAL mode, but keep the pool modest
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := applyPragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// Dedicated write connection: exactly 1 connection, no pooling.
	// SQLite allows multiple readers but only one writer at a time.
	writeConn, err := sql.Open("sqlite", path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := applyPragmas(writeConn); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, err
	}

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// applyPragmas configures a connection for concurrent access
func applyPragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close closes the database connections
func (db *DB) Close() error {
	db.writeConn.Close()
	return db.conn.Close()
}

// initSchema creates all tables and indexes if they don't exist
func (db *DB) initSchema() error {
	schema := `
-- User accounts. dm_follow_only is the messaging privacy preference:
-- when set, only users this user follows may message them.
CREATE TABLE IF NOT EXISTS User (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	dm_follow_only INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

-- Directed follow edges
CREATE TABLE IF NOT EXISTS Follow (
	follower_id INTEGER NOT NULL,
	followee_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (follower_id, followee_id),
	FOREIGN KEY (follower_id) REFERENCES User(id) ON DELETE CASCADE,
	FOREIGN KEY (followee_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Direct message log (append-only from the application's point of view)
CREATE TABLE IF NOT EXISTS DirectMessage (
	id TEXT PRIMARY KEY,
	from_user_id INTEGER NOT NULL,
	to_user_id INTEGER NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (from_user_id) REFERENCES User(id) ON DELETE CASCADE,
	FOREIGN KEY (to_user_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Feed posts (body rendering and attachments live in the web layer)
CREATE TABLE IF NOT EXISTS Post (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	author_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY (author_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Web sessions, shared between the HTTP API and the websocket handshake
CREATE TABLE IF NOT EXISTS AuthSession (
	token TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	FOREIGN KEY (user_id) REFERENCES User(id) ON DELETE CASCADE
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_dm_forward ON DirectMessage(from_user_id, to_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_dm_reverse ON DirectMessage(to_user_id, from_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_follow_followee ON Follow(followee_id);
CREATE INDEX IF NOT EXISTS idx_authsession_expiry ON AuthSession(expires_at);
CREATE INDEX IF NOT EXISTS idx_post_created ON Post(created_at DESC);
`

	_, err := db.conn.Exec(schema)
	return err
}

// User represents a registered account
type User struct {
	ID           int64
	Username     string
	PasswordHash string // bcrypt hash
	DMFollowOnly bool   // Accept messages only from users this user follows
	CreatedAt    int64  // Unix timestamp in milliseconds
}

// DirectMessage represents one stored message between two users
type DirectMessage struct {
	ID        string // UUID, generated at append time
	From      int64
	To        int64
	Text      string
	CreatedAt int64 // Unix timestamp in milliseconds
}

// ConversationSummary is one sidebar entry: a peer and the latest message
// exchanged with them.
type ConversationSummary struct {
	PeerID       int64
	PeerUsername string
	LastMessage  string
}

// CreateUser inserts a new user with the given bcrypt hash. Returns
// ErrUsernameTaken when the username is already registered.
func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	now := time.Now().UnixMilli()
	result, err := db.writeConn.Exec(
		`INSERT INTO User (username, password_hash, created_at) VALUES (?, ?, ?)`,
		username, passwordHash, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("failed to create user: %w", err)
	}
	return result.LastInsertId()
}

// GetUserByUsername looks up a user by exact username
func (db *DB) GetUserByUsername(username string) (*User, error) {
	return db.scanUser(db.conn.QueryRow(
		`SELECT id, username, password_hash, dm_follow_only, created_at FROM User WHERE username = ?`,
		username,
	))
}

// GetUserByID looks up a user by id
func (db *DB) GetUserByID(userID int64) (*User, error) {
	return db.scanUser(db.conn.QueryRow(
		`SELECT id, username, password_hash, dm_follow_only, created_at FROM User WHERE id = ?`,
		userID,
	))
}

func (db *DB) scanUser(row *sql.Row) (*User, error) {
	var u User
	var followOnly int
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &followOnly, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.DMFollowOnly = followOnly != 0
	return &u, nil
}

// SearchUsers returns up to limit users whose username starts with the given
// prefix (case-insensitive).
func (db *DB) SearchUsers(prefix string, limit int) ([]*User, error) {
	rows, err := db.conn.Query(
		`SELECT id, username, password_hash, dm_follow_only, created_at
		 FROM User WHERE LOWER(username) LIKE ? ORDER BY username LIMIT ?`,
		strings.ToLower(prefix)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		var followOnly int
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &followOnly, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.DMFollowOnly = followOnly != 0
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SetDMFollowOnly updates the messaging privacy preference for a user
func (db *DB) SetDMFollowOnly(userID int64, enabled bool) error {
	value := 0
	if enabled {
		value = 1
	}
	result, err := db.writeConn.Exec(`UPDATE User SET dm_follow_only = ? WHERE id = ?`, value, userID)
	if err != nil {
		return fmt.Errorf("failed to update dm_follow_only: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetDMPreference returns the recipient's messaging privacy preference.
// An unknown user reads as unrestricted: the preference must never be the
// reason a lookup fails.
func (db *DB) GetDMPreference(userID int64) (bool, error) {
	var followOnly int
	err := db.conn.QueryRow(`SELECT dm_follow_only FROM User WHERE id = ?`, userID).Scan(&followOnly)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read dm_follow_only: %w", err)
	}
	return followOnly != 0, nil
}

// CreateFollow records a follow edge. Duplicate follows are a no-op.
func (db *DB) CreateFollow(followerID, followeeID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.writeConn.Exec(
		`INSERT OR IGNORE INTO Follow (follower_id, followee_id, created_at) VALUES (?, ?, ?)`,
		followerID, followeeID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}
	return nil
}

// DeleteFollow removes a follow edge. Removing a missing edge is a no-op.
func (db *DB) DeleteFollow(followerID, followeeID int64) error {
	_, err := db.writeConn.Exec(
		`DELETE FROM Follow WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	return nil
}

// FollowExists reports whether follower follows followee
func (db *DB) FollowExists(followerID, followeeID int64) (bool, error) {
	var one int
	err := db.conn.QueryRow(
		`SELECT 1 FROM Follow WHERE follower_id = ? AND followee_id = ?`,
		followerID, followeeID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check follow: %w", err)
	}
	return true, nil
}

// AppendMessage stores a new direct message, assigning its id and creation
// timestamp. Messages are never updated or deleted afterwards.
func (db *DB) AppendMessage(fromUserID, toUserID int64, text string) (*DirectMessage, error) {
	msg := &DirectMessage{
		ID:        uuid.NewString(),
		From:      fromUserID,
		To:        toUserID,
		Text:      text,
		CreatedAt: time.Now().UnixMilli(),
	}

	_, err := db.writeConn.Exec(
		`INSERT INTO DirectMessage (id, from_user_id, to_user_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.From, msg.To, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

// ConversationBetween returns every message exchanged between the two users,
// in either direction, ascending by creation time. The argument order does
// not matter. No pagination: callers get the full conversation.
func (db *DB) ConversationBetween(userA, userB int64) ([]*DirectMessage, error) {
	rows, err := db.conn.Query(
		`SELECT id, from_user_id, to_user_id, text, created_at
		 FROM DirectMessage
		 WHERE (from_user_id = ? AND to_user_id = ?)
		    OR (from_user_id = ? AND to_user_id = ?)
		 ORDER BY created_at ASC, rowid ASC`,
		userA, userB, userB, userA,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer rows.Close()

	var messages []*DirectMessage
	for rows.Next() {
		var m DirectMessage
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// ListConversations returns one summary per user the given user has
// exchanged messages with, newest conversation first.
func (db *DB) ListConversations(userID int64) ([]*ConversationSummary, error) {
	rows, err := db.conn.Query(
		`SELECT u.id, u.username,
		        (SELECT text FROM DirectMessage
		         WHERE (from_user_id = u.id AND to_user_id = ?)
		            OR (from_user_id = ? AND to_user_id = u.id)
		         ORDER BY created_at DESC, rowid DESC LIMIT 1) AS last_msg,
		        (SELECT created_at FROM DirectMessage
		         WHERE (from_user_id = u.id AND to_user_id = ?)
		            OR (from_user_id = ? AND to_user_id = u.id)
		         ORDER BY created_at DESC, rowid DESC LIMIT 1) AS last_at
		 FROM User u
		 WHERE u.id <> ?
		   AND EXISTS (SELECT 1 FROM DirectMessage
		               WHERE (from_user_id = u.id AND to_user_id = ?)
		                  OR (from_user_id = ? AND to_user_id = u.id))
		 ORDER BY last_at DESC`,
		userID, userID, userID, userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var convos []*ConversationSummary
	for rows.Next() {
		var c ConversationSummary
		var lastAt int64
		if err := rows.Scan(&c.PeerID, &c.PeerUsername, &c.LastMessage, &lastAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		convos = append(convos, &c)
	}
	return convos, rows.Err()
}

// CreatePost inserts a feed post and returns its id
func (db *DB) CreatePost(authorID int64, content string) (int64, error) {
	now := time.Now().UnixMilli()
	result, err := db.writeConn.Exec(
		`INSERT INTO Post (author_id, content, created_at) VALUES (?, ?, ?)`,
		authorID, content, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create post: %w", err)
	}
	return result.LastInsertId()
}

// CreateAuthSession issues a new web session token for the user
func (db *DB) CreateAuthSession(userID int64, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	now := time.Now()
	_, err := db.writeConn.Exec(
		`INSERT INTO AuthSession (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, userID, now.UnixMilli(), now.Add(ttl).UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create auth session: %w", err)
	}
	return token, nil
}

// GetAuthSession resolves a session token to a user id. Expired or unknown
// tokens return ErrSessionNotFound.
func (db *DB) GetAuthSession(token string) (int64, error) {
	var userID, expiresAt int64
	err := db.conn.QueryRow(
		`SELECT user_id, expires_at FROM AuthSession WHERE token = ?`,
		token,
	).Scan(&userID, &expiresAt)
	if err == sql.ErrNoRows {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read auth session: %w", err)
	}
	if expiresAt < time.Now().UnixMilli() {
		return 0, ErrSessionNotFound
	}
	return userID, nil
}

// DeleteAuthSession invalidates a session token. Unknown tokens are a no-op.
func (db *DB) DeleteAuthSession(token string) error {
	_, err := db.writeConn.Exec(`DELETE FROM AuthSession WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to delete auth session: %w", err)
	}
	return nil
}

// CleanupExpiredAuthSessions deletes expired session rows and reports how
// many were removed.
func (db *DB) CleanupExpiredAuthSessions() (int64, error) {
	result, err := db.writeConn.Exec(
		`DELETE FROM AuthSession WHERE expires_at < ?`,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup auth sessions: %w", err)
	}
	return result.RowsAffected()
}
