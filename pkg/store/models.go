package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        string
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ProfileModel struct {
	UserID string `gorm:"primaryKey"`
	Phone  string
}

type BookModel struct {
	ID          string    `gorm:"primaryKey"`
	Name        string    `gorm:"not null"`
	Author      string    `gorm:"not null"`
	Category    string    `gorm:"index"`
	Condition   string    `gorm:"not null"`
	Price       float64   `gorm:"type:numeric(10,2);not null"`
	Description string    `gorm:"type:text"`
	Image       string
	OwnerID     string    `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

type FavoriteModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_favorites_user_book"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_favorites_user_book"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type CartLineModel struct {
	ID       string    `gorm:"primaryKey"`
	UserID   string    `gorm:"not null;uniqueIndex:idx_cart_lines_user_book"`
	BookID   string    `gorm:"not null;uniqueIndex:idx_cart_lines_user_book"`
	Quantity int       `gorm:"not null"`
	AddedAt  time.Time `gorm:"not null;index"`
}

type ContactMessageModel struct {
	ID          string    `gorm:"primaryKey"`
	SenderID    string    `gorm:"not null;index"`
	RecipientID string    `gorm:"not null;index"`
	BookID      string    `gorm:"not null;index"`
	Message     string    `gorm:"type:text;not null"`
	CreatedAt   time.Time `gorm:"not null;index"`
}
