package user

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrUsernameTaken is returned by Repository.Create on a unique constraint violation.
var ErrUsernameTaken = errors.New("user: username already taken")

// ErrNotFound is returned when a lookup finds no matching user.
var ErrNotFound = errors.New("user: not found")

// Repository persists User records backed by GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a Repository bound to db.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user, assigning it a fresh UUID.
func (r *Repository) Create(u *User) error {
	u.ID = uuid.NewString()
	if err := r.db.Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// GetByUsername looks up a user by their unique username.
func (r *Repository) GetByUsername(username string) (*User, error) {
	var u User
	err := r.db.Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID looks up a user by primary key.
func (r *Repository) GetByID(id string) (*User, error) {
	var u User
	err := r.db.Where("id = ?", id).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	// Checked by message since matching pgconn.PgError.Code would pull in an
	// extra import for a single error-code comparison.
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
