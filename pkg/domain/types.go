package domain

import "time"

type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionGood Condition = "good"
	ConditionFair Condition = "fair"
	ConditionPoor Condition = "poor"
)

// ParseCondition normalizes a raw condition value. Empty input falls back
// to the default listing condition.
func ParseCondition(raw string) (Condition, bool) {
	switch Condition(raw) {
	case "":
		return ConditionGood, true
	case ConditionNew, ConditionGood, ConditionFair, ConditionPoor:
		return Condition(raw), true
	default:
		return "", false
	}
}

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Profile carries optional contact details next to a user identity.
type Profile struct {
	UserID string `json:"userId"`
	Phone  string `json:"phone"`
}

type Book struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Author      string    `json:"author"`
	Category    string    `json:"category,omitempty"`
	Condition   Condition `json:"condition"`
	Price       float64   `json:"price"`
	Description string    `json:"description,omitempty"`
	Image       string    `json:"image,omitempty"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Favorite struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	CreatedAt time.Time `json:"createdAt"`
}

type CartLine struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	BookID   string    `json:"bookId"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"addedAt"`
}

// ContactMessage is append-only; the recipient is derived from the book
// owner when the row is written, never supplied by the caller.
type ContactMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	BookID      string    `json:"bookId"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserView is the user payload shape returned to clients, including the
// derived listing count and profile phone.
type UserView struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Email     string   `json:"email"`
	Role      UserRole `json:"role"`
	Phone     string   `json:"phone"`
	BookCount int      `json:"bookCount"`
}

// BookView embeds the owner so listings render without extra round trips.
type BookView struct {
	Book
	Owner UserView `json:"owner"`
}

type FavoriteView struct {
	ID        string    `json:"id"`
	Book      BookView  `json:"book"`
	CreatedAt time.Time `json:"createdAt"`
}

type CartLineView struct {
	ID       string    `json:"id"`
	Book     BookView  `json:"book"`
	Quantity int       `json:"quantity"`
	AddedAt  time.Time `json:"addedAt"`
}

type MessageView struct {
	ID        string    `json:"id"`
	Sender    UserView  `json:"sender"`
	Recipient UserView  `json:"recipient"`
	BookID    string    `json:"bookId"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
