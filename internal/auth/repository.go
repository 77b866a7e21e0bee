package auth

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/ajaymenon/storefront-core/internal/database"
	"github.com/ajaymenon/storefront-core/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, name, email, passwordHash string, role domain.Role) (*domain.Actor, error) {
	actor := &domain.Actor{
		ID:    uuid.New().String(),
		Name:  name,
		Email: email,
		Role:  role,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, actor.ID, name, email, passwordHash, role)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return actor, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.Actor, string, error) {
	actor := &domain.Actor{}
	var hash string

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role
		FROM users
		WHERE email = $1
	`, email).Scan(&actor.ID, &actor.Name, &actor.Email, &hash, &actor.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", domain.ErrNotFound
		}
		return nil, "", err
	}

	return actor, hash, nil
}

func (r *Repository) EmailByID(ctx context.Context, userID string) (string, error) {
	var email string
	err := r.db.QueryRowContext(ctx, `
		SELECT email FROM users WHERE id = $1
	`, userID).Scan(&email)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return email, nil
}

func (r *Repository) CreateSession(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (token, user_id, expires_at, created_at)
		VALUES ($1, $2, $3, NOW())
	`, token, userID, time.Now().UTC().Add(ttl))
	if err != nil {
		return "", err
	}
	return token, nil
}

// ActorByToken resolves a bearer token to its actor, rejecting expired
// sessions.
func (r *Repository) ActorByToken(ctx context.Context, token string) (*domain.Actor, error) {
	actor := &domain.Actor{}

	err := r.db.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.email, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > NOW()
	`, token).Scan(&actor.ID, &actor.Name, &actor.Email, &actor.Role)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}

	return actor, nil
}
