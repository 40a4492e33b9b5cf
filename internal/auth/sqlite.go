package auth

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqtt/internal/packet"
	"github.com/pyr33x/goqtt/pkg/er"
	h "github.com/pyr33x/goqtt/pkg/hash"
	"golang.org/x/crypto/bcrypt"
)

// SQLiteProvider authenticates against a `users(username, secret)` table in
// a SQLite database, with passwords stored as bcrypt hashes via pkg/hash.
// It authorizes everything once authenticated; pair it with
// ACLRoleBasedProvider-style rules at the embedding layer if per-topic
// restriction is needed.
type SQLiteProvider struct {
	db *sql.DB
}

// OpenSQLiteProvider opens (and, if necessary, creates) the users table at
// dsn using the sqlite3 driver.
func OpenSQLiteProvider(dsn string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &er.Err{Context: "Auth, OpenSQLiteProvider", Message: err}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		secret   TEXT NOT NULL
	)`); err != nil {
		return nil, &er.Err{Context: "Auth, OpenSQLiteProvider", Message: err}
	}
	return &SQLiteProvider{db: db}, nil
}

func NewSQLiteProvider(db *sql.DB) *SQLiteProvider {
	return &SQLiteProvider{db: db}
}

// AddUser hashes password and upserts the user row.
func (s *SQLiteProvider) AddUser(username, password string) error {
	hash, err := h.HashPasswd(password, bcrypt.DefaultCost)
	if err != nil {
		return &er.Err{Context: "Auth, AddUser", Message: er.ErrHashFailed}
	}
	_, err = s.db.Exec(
		`INSERT INTO users (username, secret) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET secret = excluded.secret`,
		username, hash,
	)
	if err != nil {
		return &er.Err{Context: "Auth, AddUser", Message: err}
	}
	return nil
}

func (s *SQLiteProvider) Authenticate(clientID, username, password string) bool {
	if username == "" {
		return false
	}

	var hash string
	err := s.db.QueryRow("SELECT secret FROM users WHERE username = ?", username).Scan(&hash)
	if err != nil {
		return false
	}
	return h.VerifyPasswd(hash, password)
}

func (s *SQLiteProvider) AuthorizePublish(clientID, topic string) bool { return true }

func (s *SQLiteProvider) AuthorizeSubscribe(clientID, topicFilter string) int {
	return int(packet.QoSExactlyOnce)
}

func (s *SQLiteProvider) CleanupClient(clientID string) {}
