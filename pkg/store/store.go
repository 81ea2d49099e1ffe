package store

import (
	"errors"

	"github.com/calebJoshwa/EduReuse/pkg/domain"
)

// ErrDuplicateUsername is returned when a signup races or repeats an
// existing username. The unique index is the source of truth.
var ErrDuplicateUsername = errors.New("username already exists")

// Store defines persistence operations for users, books, favorites, cart
// lines, and contact messages.
type Store interface {
	// users
	CreateUserWithProfile(user domain.User, profile domain.Profile) error
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)
	UserCount() (int, error)
	GetProfile(userID string) (domain.Profile, bool, error)
	CountBooksByOwner(ownerID string) (int, error)

	// books
	CreateBook(domain.Book) error
	UpdateBook(domain.Book) error
	ListBooks(search, category string) ([]domain.Book, error)
	GetBook(id string) (domain.Book, bool, error)
	DeleteBook(id string) error

	// favorites
	AddFavorite(domain.Favorite) (domain.Favorite, bool, error)
	ListFavoritesByUser(userID string) ([]domain.Favorite, error)
	GetFavorite(id string) (domain.Favorite, bool, error)
	DeleteFavorite(id string) error

	// cart
	UpsertCartLine(domain.CartLine) (domain.CartLine, error)
	ListCartByUser(userID string) ([]domain.CartLine, error)
	GetCartLine(id string) (domain.CartLine, bool, error)
	DeleteCartLine(id string) error

	// messages
	CreateMessage(domain.ContactMessage) error
	ListMessagesByRecipient(userID string) ([]domain.ContactMessage, error)
	ListMessagesBySender(userID string) ([]domain.ContactMessage, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
