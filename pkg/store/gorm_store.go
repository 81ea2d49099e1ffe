package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/calebJoshwa/EduReuse/pkg/domain"
)

const migrateLockID int64 = 62180443

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProfileModel{},
			&BookModel{},
			&FavoriteModel{},
			&CartLineModel{},
			&ContactMessageModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUserWithProfile inserts the identity and its profile in one
// transaction. A username collision maps to ErrDuplicateUsername.
func (s *GormStore) CreateUserWithProfile(user domain.User, profile domain.Profile) error {
	userModel := userToModel(user)
	profileModel := ProfileModel{UserID: user.ID, Phone: profile.Phone}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&userModel).Error; err != nil {
			return err
		}
		return tx.Create(&profileModel).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateUsername
	}
	return err
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetProfile returns the profile bound to a user, if any.
func (s *GormStore) GetProfile(userID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return domain.Profile{UserID: model.UserID, Phone: model.Phone}, true, nil
}

// CountBooksByOwner returns the number of listings owned by a user.
func (s *GormStore) CountBooksByOwner(ownerID string) (int, error) {
	var count int64
	if err := s.db.Model(&BookModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateBook inserts a new listing.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Create(&model).Error
}

// UpdateBook persists listing changes.
func (s *GormStore) UpdateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Model(&BookModel{}).Where("id = ?", b.ID).Updates(map[string]any{
		"name":        model.Name,
		"author":      model.Author,
		"category":    model.Category,
		"condition":   model.Condition,
		"price":       model.Price,
		"description": model.Description,
		"image":       model.Image,
	}).Error
}

// ListBooks returns listings newest first. search matches name, author, or
// category as a case-insensitive substring; category is a case-insensitive
// exact match. Both filters combine as AND.
func (s *GormStore) ListBooks(search, category string) ([]domain.Book, error) {
	tx := s.db.Order("created_at DESC")
	if search != "" {
		pattern := "%" + search + "%"
		tx = tx.Where("(name ILIKE ? OR author ILIKE ? OR category ILIKE ?)", pattern, pattern, pattern)
	}
	if category != "" {
		tx = tx.Where("LOWER(category) = LOWER(?)", category)
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// GetBook retrieves a listing.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes a listing and its dependent favorites, cart lines,
// and messages in one transaction.
func (s *GormStore) DeleteBook(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FavoriteModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&CartLineModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ContactMessageModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// AddFavorite inserts against the unique (user, book) pair with
// ON CONFLICT DO NOTHING. When the pair already exists the existing row is
// fetched and returned with created=false, so concurrent adds converge on
// a single row instead of erroring.
func (s *GormStore) AddFavorite(f domain.Favorite) (domain.Favorite, bool, error) {
	model := FavoriteModel{ID: f.ID, UserID: f.UserID, BookID: f.BookID, CreatedAt: f.CreatedAt}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return domain.Favorite{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		var existing FavoriteModel
		if err := s.db.Where("user_id = ? AND book_id = ?", f.UserID, f.BookID).First(&existing).Error; err != nil {
			return domain.Favorite{}, false, err
		}
		return favoriteFromModel(existing), false, nil
	}
	return favoriteFromModel(model), true, nil
}

// ListFavoritesByUser returns a user's favorites newest first.
func (s *GormStore) ListFavoritesByUser(userID string) ([]domain.Favorite, error) {
	var models []FavoriteModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Favorite, 0, len(models))
	for _, m := range models {
		res = append(res, favoriteFromModel(m))
	}
	return res, nil
}

// GetFavorite retrieves a favorite row by ID.
func (s *GormStore) GetFavorite(id string) (domain.Favorite, bool, error) {
	var model FavoriteModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Favorite{}, false, nil
		}
		return domain.Favorite{}, false, err
	}
	return favoriteFromModel(model), true, nil
}

// DeleteFavorite removes a favorite row by ID.
func (s *GormStore) DeleteFavorite(id string) error {
	return s.db.Delete(&FavoriteModel{}, "id = ?", id).Error
}

// UpsertCartLine adds a line or atomically increments the existing one.
// The increment runs inside the database (quantity + EXCLUDED.quantity), so
// concurrent adds for the same (user, book) pair cannot lose updates.
func (s *GormStore) UpsertCartLine(line domain.CartLine) (domain.CartLine, error) {
	model := CartLineModel{
		ID:       line.ID,
		UserID:   line.UserID,
		BookID:   line.BookID,
		Quantity: line.Quantity,
		AddedAt:  line.AddedAt,
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity": gorm.Expr("cart_line_models.quantity + EXCLUDED.quantity"),
		}),
	}).Create(&model).Error; err != nil {
		return domain.CartLine{}, err
	}
	var current CartLineModel
	if err := s.db.Where("user_id = ? AND book_id = ?", line.UserID, line.BookID).First(&current).Error; err != nil {
		return domain.CartLine{}, err
	}
	return cartLineFromModel(current), nil
}

// ListCartByUser returns a user's cart lines newest-added first.
func (s *GormStore) ListCartByUser(userID string) ([]domain.CartLine, error) {
	var models []CartLineModel
	if err := s.db.Where("user_id = ?", userID).Order("added_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CartLine, 0, len(models))
	for _, m := range models {
		res = append(res, cartLineFromModel(m))
	}
	return res, nil
}

// GetCartLine retrieves a cart line by ID.
func (s *GormStore) GetCartLine(id string) (domain.CartLine, bool, error) {
	var model CartLineModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CartLine{}, false, nil
		}
		return domain.CartLine{}, false, err
	}
	return cartLineFromModel(model), true, nil
}

// DeleteCartLine removes a cart line by ID.
func (s *GormStore) DeleteCartLine(id string) error {
	return s.db.Delete(&CartLineModel{}, "id = ?", id).Error
}

// CreateMessage appends a contact message row.
func (s *GormStore) CreateMessage(msg domain.ContactMessage) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessagesByRecipient returns a user's inbox newest first.
func (s *GormStore) ListMessagesByRecipient(userID string) ([]domain.ContactMessage, error) {
	return s.listMessages("recipient_id = ?", userID)
}

// ListMessagesBySender returns a user's sent messages newest first.
func (s *GormStore) ListMessagesBySender(userID string) ([]domain.ContactMessage, error) {
	return s.listMessages("sender_id = ?", userID)
}

func (s *GormStore) listMessages(cond string, userID string) ([]domain.ContactMessage, error) {
	var models []ContactMessageModel
	if err := s.db.Where(cond, userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ContactMessage, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	role := domain.UserRole(m.Role)
	if role == "" {
		role = domain.RoleUser
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         role,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:          b.ID,
		Name:        b.Name,
		Author:      b.Author,
		Category:    b.Category,
		Condition:   string(b.Condition),
		Price:       b.Price,
		Description: b.Description,
		Image:       b.Image,
		OwnerID:     b.OwnerID,
		CreatedAt:   b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:          m.ID,
		Name:        m.Name,
		Author:      m.Author,
		Category:    m.Category,
		Condition:   domain.Condition(m.Condition),
		Price:       m.Price,
		Description: m.Description,
		Image:       m.Image,
		OwnerID:     m.OwnerID,
		CreatedAt:   m.CreatedAt,
	}
}

func favoriteFromModel(m FavoriteModel) domain.Favorite {
	return domain.Favorite{ID: m.ID, UserID: m.UserID, BookID: m.BookID, CreatedAt: m.CreatedAt}
}

func cartLineFromModel(m CartLineModel) domain.CartLine {
	return domain.CartLine{ID: m.ID, UserID: m.UserID, BookID: m.BookID, Quantity: m.Quantity, AddedAt: m.AddedAt}
}

func messageToModel(msg domain.ContactMessage) ContactMessageModel {
	return ContactMessageModel{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		BookID:      msg.BookID,
		Message:     msg.Message,
		CreatedAt:   msg.CreatedAt,
	}
}

func messageFromModel(m ContactMessageModel) domain.ContactMessage {
	return domain.ContactMessage{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		BookID:      m.BookID,
		Message:     m.Message,
		CreatedAt:   m.CreatedAt,
	}
}
