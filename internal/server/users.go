package server

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrEmailExists  = errors.New("email already exists")
	ErrUserNotFound = errors.New("user not found")
)

// UserStore persists owner accounts. The Postgres implementation is used
// with the remote backend; the in-memory one mirrors the fallback store's
// process-lifetime semantics.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (id, passwordHash string, err error)
}

type pgUserStore struct {
	db *sql.DB
}

func NewPostgresUserStore(db *sql.DB) UserStore { return &pgUserStore{db: db} }

func (s *pgUserStore) CreateUser(ctx context.Context, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash) VALUES ($1,$2,$3)
`, id, email, passwordHash)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return "", ErrEmailExists
		}
		return "", err
	}
	return id, nil
}

func (s *pgUserStore) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, `
SELECT id, password_hash FROM users WHERE email = $1
`, email).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", err
	}
	return id, hash, nil
}

type memUser struct {
	id   string
	hash string
}

type memUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]memUser
}

func NewMemoryUserStore() UserStore {
	return &memUserStore{byEmail: make(map[string]memUser)}
}

func (s *memUserStore) CreateUser(_ context.Context, email, passwordHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return "", ErrEmailExists
	}
	u := memUser{id: uuid.NewString(), hash: passwordHash}
	s.byEmail[email] = u
	return u.id, nil
}

func (s *memUserStore) GetUserByEmail(_ context.Context, email string) (string, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byEmail[email]
	if !ok {
		return "", "", ErrUserNotFound
	}
	return u.id, u.hash, nil
}
