package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"gigsync-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// ErrUserNotFound distinguishes an absent account from a storage failure.
var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	Create(user *domain.User) error
	FindByID(id string) (*domain.User, error)
	FindByEmail(email string) (*domain.User, error)
	EmailExists(email string) (bool, error)
}

type couchUserRepository struct {
	client *kivik.Client
	dbName string
}

func NewUserRepository(client *kivik.Client, dbName string) UserRepository {
	return &couchUserRepository{
		client: client,
		dbName: dbName,
	}
}

func (r *couchUserRepository) Create(user *domain.User) error {
	db := r.client.DB(r.dbName)

	docID := fmt.Sprintf("user:%s", user.ID)
	if _, err := db.Put(context.Background(), docID, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *couchUserRepository) FindByID(id string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	row := db.Get(context.Background(), fmt.Sprintf("user:%s", id))

	var user domain.User
	if err := row.ScanDoc(&user); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return &user, nil
}

func (r *couchUserRepository) FindByEmail(email string) (*domain.User, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"email":    email,
			"password": map[string]interface{}{"$exists": true},
		},
		"limit": 1,
	}

	rows := db.Find(context.Background(), query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query user by email: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		var user domain.User
		if err := rows.ScanDoc(&user); err != nil {
			return nil, fmt.Errorf("failed to decode user: %w", err)
		}
		return &user, nil
	}

	return nil, ErrUserNotFound
}

// EmailExists reports whether email is taken. A storage failure surfaces
// as an error; it must never read as "email free".
func (r *couchUserRepository) EmailExists(email string) (bool, error) {
	_, err := r.FindByEmail(email)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
