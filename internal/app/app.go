package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/calebJoshwa/EduReuse/internal/util"
	"github.com/calebJoshwa/EduReuse/pkg/auth"
	"github.com/calebJoshwa/EduReuse/pkg/domain"
	"github.com/calebJoshwa/EduReuse/pkg/mail"
	"github.com/calebJoshwa/EduReuse/pkg/queue"
	"github.com/calebJoshwa/EduReuse/pkg/storage"
	"github.com/calebJoshwa/EduReuse/pkg/store"
)

const coverURLExpiry = 7 * 24 * time.Hour

// EmailEnqueuer hands a notification to the background dispatch queue.
type EmailEnqueuer interface {
	Enqueue(ctx context.Context, to []string, subject, body string) (queue.EmailJob, error)
}

// Config wires the application's collaborators.
type Config struct {
	Store    store.Store
	Sessions store.SessionStore
	Mailer   mail.Mailer
	// EmailQueue is optional; when nil, message notifications fall back
	// to a direct bounded send.
	EmailQueue EmailEnqueuer
	// Objects is optional; cover upload is rejected when nil.
	Objects storage.ObjectStore
	// OrderRecipients are operational addresses copied on every order.
	OrderRecipients []string
	NotifyTimeout   time.Duration
}

// App implements the marketplace use cases on top of the store, the
// session store, and the mail transports.
type App struct {
	store           store.Store
	sessions        store.SessionStore
	mailer          mail.Mailer
	emailQueue      EmailEnqueuer
	objects         storage.ObjectStore
	orderRecipients []string
	notifyTimeout   time.Duration
}

func New(cfg Config) *App {
	notifyTimeout := cfg.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = 10 * time.Second
	}
	mailer := cfg.Mailer
	if mailer == nil {
		mailer = mail.LogMailer{}
	}
	return &App{
		store:           cfg.Store,
		sessions:        cfg.Sessions,
		mailer:          mailer,
		emailQueue:      cfg.EmailQueue,
		objects:         cfg.Objects,
		orderRecipients: cfg.OrderRecipients,
		notifyTimeout:   notifyTimeout,
	}
}

// ---- auth / identity ----

type SignUpInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// SignUp creates a user plus profile. The first account on a fresh
// database becomes the admin.
func (a *App) SignUp(ctx context.Context, in SignUpInput) (domain.UserView, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return domain.UserView{}, validationf("username is required")
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.UserView{}, &ValidationError{Detail: err.Error()}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("hash password: %w", err)
	}

	role := domain.RoleUser
	count, err := a.store.UserCount()
	if err != nil {
		return domain.UserView{}, fmt.Errorf("count users: %w", err)
	}
	if count == 0 {
		role = domain.RoleAdmin
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        strings.TrimSpace(in.Email),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := domain.Profile{UserID: user.ID, Phone: strings.TrimSpace(in.Phone)}
	if err := a.store.CreateUserWithProfile(user, profile); err != nil {
		if err == store.ErrDuplicateUsername {
			return domain.UserView{}, validationf("username already exists")
		}
		return domain.UserView{}, fmt.Errorf("create user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user_signed_up", "user_id", user.ID, "role", string(user.Role))
	return a.userView(user)
}

// Login checks credentials and opens a session.
func (a *App) Login(ctx context.Context, username, password string) (string, domain.UserView, error) {
	user, found, err := a.store.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return "", domain.UserView{}, fmt.Errorf("look up user: %w", err)
	}
	if !found || !auth.CheckPassword(password, user.PasswordHash) {
		return "", domain.UserView{}, validationf("invalid username or password")
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return "", domain.UserView{}, fmt.Errorf("open session: %w", err)
	}
	view, err := a.userView(user)
	if err != nil {
		return "", domain.UserView{}, err
	}
	util.LoggerFromContext(ctx).Info("user_logged_in", "user_id", user.ID)
	return token, view, nil
}

func (a *App) Logout(_ context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves the session cookie to a user.
func (a *App) UserFromToken(_ context.Context, token string) (domain.User, error) {
	if token == "" {
		return domain.User{}, ErrUnauthenticated
	}
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil {
		return domain.User{}, fmt.Errorf("resolve session: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	user, found, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// CurrentUser returns the caller's own payload.
func (a *App) CurrentUser(_ context.Context, caller domain.User) (domain.UserView, error) {
	return a.userView(caller)
}

// ListUsers is restricted to admins.
func (a *App) ListUsers(_ context.Context, caller domain.User) ([]domain.UserView, error) {
	if caller.Role != domain.RoleAdmin {
		return nil, ErrForbidden
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	views := make([]domain.UserView, 0, len(users))
	for _, u := range users {
		v, err := a.userView(u)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (a *App) userView(u domain.User) (domain.UserView, error) {
	phone := ""
	if profile, found, err := a.store.GetProfile(u.ID); err != nil {
		return domain.UserView{}, fmt.Errorf("load profile: %w", err)
	} else if found {
		phone = profile.Phone
	}
	bookCount, err := a.store.CountBooksByOwner(u.ID)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("count books: %w", err)
	}
	return domain.UserView{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Phone:     phone,
		BookCount: bookCount,
	}, nil
}

func (a *App) userViewByID(id string) (domain.UserView, error) {
	user, found, err := a.store.GetUserByID(id)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("load user: %w", err)
	}
	if !found {
		// Owner rows can outlive users only through manual surgery;
		// render a placeholder rather than failing the whole list.
		return domain.UserView{ID: id}, nil
	}
	return a.userView(user)
}

// ---- book catalog ----

type CreateBookInput struct {
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	Category    string  `json:"category"`
	Condition   string  `json:"condition"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
}

type UpdateBookInput struct {
	Name        *string  `json:"name"`
	Author      *string  `json:"author"`
	Category    *string  `json:"category"`
	Condition   *string  `json:"condition"`
	Price       *float64 `json:"price"`
	Description *string  `json:"description"`
	Image       *string  `json:"image"`
}

func (a *App) ListBooks(_ context.Context, search, category string) ([]domain.BookView, error) {
	books, err := a.store.ListBooks(strings.TrimSpace(search), strings.TrimSpace(category))
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return a.bookViews(books)
}

func (a *App) GetBook(_ context.Context, id string) (domain.BookView, error) {
	book, found, err := a.store.GetBook(id)
	if err != nil {
		return domain.BookView{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.BookView{}, ErrNotFound
	}
	return a.bookView(book)
}

// CreateBook lists a book under the caller. The owner is always the
// caller, never request data.
func (a *App) CreateBook(ctx context.Context, caller domain.User, in CreateBookInput) (domain.BookView, error) {
	name := strings.TrimSpace(in.Name)
	author := strings.TrimSpace(in.Author)
	if name == "" {
		return domain.BookView{}, validationf("name is required")
	}
	if author == "" {
		return domain.BookView{}, validationf("author is required")
	}
	if in.Price < 0 {
		return domain.BookView{}, validationf("price must not be negative")
	}
	condition, ok := domain.ParseCondition(in.Condition)
	if !ok {
		return domain.BookView{}, validationf("invalid condition %q", in.Condition)
	}

	book := domain.Book{
		ID:          util.NewID(),
		Name:        name,
		Author:      author,
		Category:    strings.TrimSpace(in.Category),
		Condition:   condition,
		Price:       in.Price,
		Description: in.Description,
		Image:       strings.TrimSpace(in.Image),
		OwnerID:     caller.ID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateBook(book); err != nil {
		return domain.BookView{}, fmt.Errorf("create book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book_created", "book_id", book.ID, "owner_id", caller.ID)
	return a.bookView(book)
}

// UpdateBook merges the supplied fields into the stored book. Only the
// owner or an admin may mutate a listing.
func (a *App) UpdateBook(_ context.Context, caller domain.User, id string, in UpdateBookInput) (domain.BookView, error) {
	book, err := a.mutableBook(caller, id)
	if err != nil {
		return domain.BookView{}, err
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return domain.BookView{}, validationf("name is required")
		}
		book.Name = strings.TrimSpace(*in.Name)
	}
	if in.Author != nil {
		if strings.TrimSpace(*in.Author) == "" {
			return domain.BookView{}, validationf("author is required")
		}
		book.Author = strings.TrimSpace(*in.Author)
	}
	if in.Category != nil {
		book.Category = strings.TrimSpace(*in.Category)
	}
	if in.Condition != nil {
		condition, ok := domain.ParseCondition(*in.Condition)
		if !ok {
			return domain.BookView{}, validationf("invalid condition %q", *in.Condition)
		}
		book.Condition = condition
	}
	if in.Price != nil {
		if *in.Price < 0 {
			return domain.BookView{}, validationf("price must not be negative")
		}
		book.Price = *in.Price
	}
	if in.Description != nil {
		book.Description = *in.Description
	}
	if in.Image != nil {
		book.Image = strings.TrimSpace(*in.Image)
	}

	if err := a.store.UpdateBook(book); err != nil {
		return domain.BookView{}, fmt.Errorf("update book: %w", err)
	}
	return a.bookView(book)
}

func (a *App) DeleteBook(ctx context.Context, caller domain.User, id string) error {
	if _, err := a.mutableBook(caller, id); err != nil {
		return err
	}
	if err := a.store.DeleteBook(id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book_deleted", "book_id", id, "user_id", caller.ID)
	return nil
}

// AttachImage uploads a cover to object storage and records a presigned
// URL on the book.
func (a *App) AttachImage(ctx context.Context, caller domain.User, bookID, filename string, r io.Reader, size int64, contentType string) (domain.BookView, error) {
	if a.objects == nil {
		return domain.BookView{}, ErrStorageUnavailable
	}
	book, err := a.mutableBook(caller, bookID)
	if err != nil {
		return domain.BookView{}, err
	}

	key := storage.CoverKey(book.ID, filename)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.BookView{}, fmt.Errorf("upload cover: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, coverURLExpiry)
	if err != nil {
		return domain.BookView{}, fmt.Errorf("presign cover: %w", err)
	}
	book.Image = url
	if err := a.store.UpdateBook(book); err != nil {
		return domain.BookView{}, fmt.Errorf("update book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book_cover_uploaded", "book_id", book.ID, "key", key)
	return a.bookView(book)
}

// mutableBook loads a book and checks the caller may mutate it.
func (a *App) mutableBook(caller domain.User, id string) (domain.Book, error) {
	book, found, err := a.store.GetBook(id)
	if err != nil {
		return domain.Book{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.Book{}, ErrNotFound
	}
	if book.OwnerID != caller.ID && caller.Role != domain.RoleAdmin {
		return domain.Book{}, ErrForbidden
	}
	return book, nil
}

func (a *App) bookView(book domain.Book) (domain.BookView, error) {
	owner, err := a.userViewByID(book.OwnerID)
	if err != nil {
		return domain.BookView{}, err
	}
	return domain.BookView{Book: book, Owner: owner}, nil
}

func (a *App) bookViews(books []domain.Book) ([]domain.BookView, error) {
	owners := make(map[string]domain.UserView)
	views := make([]domain.BookView, 0, len(books))
	for _, book := range books {
		owner, ok := owners[book.OwnerID]
		if !ok {
			v, err := a.userViewByID(book.OwnerID)
			if err != nil {
				return nil, err
			}
			owners[book.OwnerID] = v
			owner = v
		}
		views = append(views, domain.BookView{Book: book, Owner: owner})
	}
	return views, nil
}

// ---- favorites ----

// AddFavorite is idempotent per (user, book); repeats return the
// existing row with created=false.
func (a *App) AddFavorite(_ context.Context, caller domain.User, bookID string) (domain.FavoriteView, bool, error) {
	book, found, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.FavoriteView{}, false, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.FavoriteView{}, false, ErrNotFound
	}

	fav, created, err := a.store.AddFavorite(domain.Favorite{
		ID:        util.NewID(),
		UserID:    caller.ID,
		BookID:    book.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.FavoriteView{}, false, fmt.Errorf("add favorite: %w", err)
	}
	view, err := a.favoriteView(fav, book)
	if err != nil {
		return domain.FavoriteView{}, false, err
	}
	return view, created, nil
}

func (a *App) ListFavorites(_ context.Context, caller domain.User) ([]domain.FavoriteView, error) {
	favs, err := a.store.ListFavoritesByUser(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	views := make([]domain.FavoriteView, 0, len(favs))
	for _, fav := range favs {
		book, found, err := a.store.GetBook(fav.BookID)
		if err != nil {
			return nil, fmt.Errorf("load book: %w", err)
		}
		if !found {
			continue
		}
		view, err := a.favoriteView(fav, book)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// RemoveFavorite deletes the row only when the caller owns it; rows
// belonging to other users read as absent.
func (a *App) RemoveFavorite(_ context.Context, caller domain.User, id string) error {
	fav, found, err := a.store.GetFavorite(id)
	if err != nil {
		return fmt.Errorf("load favorite: %w", err)
	}
	if !found || fav.UserID != caller.ID {
		return ErrNotFound
	}
	if err := a.store.DeleteFavorite(id); err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	return nil
}

func (a *App) favoriteView(fav domain.Favorite, book domain.Book) (domain.FavoriteView, error) {
	bv, err := a.bookView(book)
	if err != nil {
		return domain.FavoriteView{}, err
	}
	return domain.FavoriteView{ID: fav.ID, Book: bv, CreatedAt: fav.CreatedAt}, nil
}

// ---- cart ----

// AddToCart inserts or atomically increments the (user, book) line.
func (a *App) AddToCart(_ context.Context, caller domain.User, bookID string, quantity int) (domain.CartLineView, error) {
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return domain.CartLineView{}, validationf("quantity must be at least 1")
	}
	book, found, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.CartLineView{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.CartLineView{}, ErrNotFound
	}

	line, err := a.store.UpsertCartLine(domain.CartLine{
		ID:       util.NewID(),
		UserID:   caller.ID,
		BookID:   book.ID,
		Quantity: quantity,
		AddedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.CartLineView{}, fmt.Errorf("upsert cart line: %w", err)
	}
	return a.cartLineView(line, book)
}

func (a *App) ListCart(_ context.Context, caller domain.User) ([]domain.CartLineView, error) {
	lines, err := a.store.ListCartByUser(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	views := make([]domain.CartLineView, 0, len(lines))
	for _, line := range lines {
		book, found, err := a.store.GetBook(line.BookID)
		if err != nil {
			return nil, fmt.Errorf("load book: %w", err)
		}
		if !found {
			continue
		}
		view, err := a.cartLineView(line, book)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (a *App) RemoveCartLine(_ context.Context, caller domain.User, id string) error {
	line, found, err := a.store.GetCartLine(id)
	if err != nil {
		return fmt.Errorf("load cart line: %w", err)
	}
	if !found || line.UserID != caller.ID {
		return ErrNotFound
	}
	if err := a.store.DeleteCartLine(id); err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (a *App) cartLineView(line domain.CartLine, book domain.Book) (domain.CartLineView, error) {
	bv, err := a.bookView(book)
	if err != nil {
		return domain.CartLineView{}, err
	}
	return domain.CartLineView{ID: line.ID, Book: bv, Quantity: line.Quantity, AddedAt: line.AddedAt}, nil
}

// ---- messages ----

// SendMessage stores a contact message and then notifies the book owner
// by email on a best-effort basis. The row is the durability boundary;
// delivery failures are logged and swallowed, and no store transaction
// spans the send.
func (a *App) SendMessage(ctx context.Context, caller domain.User, bookID, text string) (domain.MessageView, error) {
	if strings.TrimSpace(bookID) == "" {
		return domain.MessageView{}, validationf("book is required")
	}
	if strings.TrimSpace(text) == "" {
		return domain.MessageView{}, validationf("message is required")
	}
	book, found, err := a.store.GetBook(bookID)
	if err != nil {
		return domain.MessageView{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return domain.MessageView{}, ErrNotFound
	}

	msg := domain.ContactMessage{
		ID:          util.NewID(),
		SenderID:    caller.ID,
		RecipientID: book.OwnerID,
		BookID:      book.ID,
		Message:     text,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.CreateMessage(msg); err != nil {
		return domain.MessageView{}, fmt.Errorf("create message: %w", err)
	}

	a.notifyMessage(ctx, caller, book, text)
	return a.messageView(msg)
}

func (a *App) notifyMessage(ctx context.Context, sender domain.User, book domain.Book, text string) {
	logger := util.LoggerFromContext(ctx)
	owner, found, err := a.store.GetUserByID(book.OwnerID)
	if err != nil || !found || strings.TrimSpace(owner.Email) == "" {
		logger.Info("message_notification_skipped", "book_id", book.ID, "reason", "owner has no email")
		return
	}

	subject := fmt.Sprintf("New message about %q on EduReuse", book.Name)
	body := fmt.Sprintf(
		"Hi %s,\n\n%s sent you a message about %q:\n\n%s\n\nReply to %s to get in touch.\n\n— EduReuse",
		owner.Username, sender.Username, book.Name, text, senderContact(sender),
	)

	if a.emailQueue != nil {
		if _, err := a.emailQueue.Enqueue(ctx, []string{owner.Email}, subject, body); err != nil {
			logger.Warn("message_notification_enqueue_failed", "book_id", book.ID, "error", err)
		}
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.notifyTimeout)
	defer cancel()
	if err := a.mailer.Send(sendCtx, []string{owner.Email}, subject, body); err != nil {
		logger.Warn("message_notification_send_failed", "book_id", book.ID, "error", err)
	}
}

func senderContact(sender domain.User) string {
	if strings.TrimSpace(sender.Email) != "" {
		return sender.Email
	}
	return sender.Username
}

// Inbox lists messages received by the caller, newest first.
func (a *App) Inbox(_ context.Context, caller domain.User) ([]domain.MessageView, error) {
	msgs, err := a.store.ListMessagesByRecipient(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	return a.messageViews(msgs)
}

// Sent lists messages the caller authored, newest first.
func (a *App) Sent(_ context.Context, caller domain.User) ([]domain.MessageView, error) {
	msgs, err := a.store.ListMessagesBySender(caller.ID)
	if err != nil {
		return nil, fmt.Errorf("list sent: %w", err)
	}
	return a.messageViews(msgs)
}

func (a *App) messageView(msg domain.ContactMessage) (domain.MessageView, error) {
	sender, err := a.userViewByID(msg.SenderID)
	if err != nil {
		return domain.MessageView{}, err
	}
	recipient, err := a.userViewByID(msg.RecipientID)
	if err != nil {
		return domain.MessageView{}, err
	}
	return domain.MessageView{
		ID:        msg.ID,
		Sender:    sender,
		Recipient: recipient,
		BookID:    msg.BookID,
		Message:   msg.Message,
		CreatedAt: msg.CreatedAt,
	}, nil
}

func (a *App) messageViews(msgs []domain.ContactMessage) ([]domain.MessageView, error) {
	views := make([]domain.MessageView, 0, len(msgs))
	for _, msg := range msgs {
		view, err := a.messageView(msg)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// ---- orders ----

// OrderReceipt is the response for a placed order. There is no durable
// order row; the email is the record.
type OrderReceipt struct {
	Detail     string   `json:"detail"`
	Recipients []string `json:"recipients"`
}

// PlaceOrder emails the seller (plus configured operational addresses)
// about a purchase request. The send is mandatory and synchronous; a
// transport failure fails the request.
func (a *App) PlaceOrder(ctx context.Context, buyer domain.User, bookID string, quantity int, note string) (OrderReceipt, error) {
	if strings.TrimSpace(bookID) == "" {
		return OrderReceipt{}, validationf("book is required")
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return OrderReceipt{}, validationf("quantity must be at least 1")
	}
	book, found, err := a.store.GetBook(bookID)
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("load book: %w", err)
	}
	if !found {
		return OrderReceipt{}, ErrNotFound
	}
	seller, found, err := a.store.GetUserByID(book.OwnerID)
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("load seller: %w", err)
	}
	if !found || strings.TrimSpace(seller.Email) == "" {
		return OrderReceipt{}, validationf("seller has no email address on file")
	}

	recipients := dedupeAddresses(append([]string{seller.Email}, a.orderRecipients...))

	phone := ""
	if profile, found, err := a.store.GetProfile(buyer.ID); err == nil && found {
		phone = profile.Phone
	}
	subject := fmt.Sprintf("EduReuse order: %s", book.Name)
	body := fmt.Sprintf(
		"New order on EduReuse\n\nBook: %s by %s\nPrice: %.2f\nQuantity: %d\n\nBuyer: %s\nEmail: %s\nPhone: %s\n\nNote:\n%s\n",
		book.Name, book.Author, book.Price, quantity,
		buyer.Username, buyer.Email, phone, note,
	)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.notifyTimeout)
	defer cancel()
	if err := a.mailer.Send(sendCtx, recipients, subject, body); err != nil {
		return OrderReceipt{}, &NotificationError{Err: err}
	}

	util.LoggerFromContext(ctx).Info("order_placed",
		"book_id", book.ID, "buyer_id", buyer.ID, "quantity", quantity, "recipients", len(recipients))
	return OrderReceipt{Detail: "order sent to seller", Recipients: recipients}, nil
}

func dedupeAddresses(addrs []string) []string {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}
