package store

import (
	"strings"
	"sync"

	"github.com/calebJoshwa/EduReuse/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors the Postgres store's
// semantics, including the unique (user, book) pair guarantees, and is used
// by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	usernames map[string]string // username -> user ID
	profiles  map[string]domain.Profile
	userOrder []string

	books     map[string]domain.Book
	bookOrder []string // insertion order, oldest first

	favorites    map[string]domain.Favorite
	favoritePair map[string]string // userID|bookID -> favorite ID
	favOrder     []string

	cart      map[string]domain.CartLine
	cartPair  map[string]string // userID|bookID -> cart line ID
	cartOrder []string

	messages []domain.ContactMessage
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:        make(map[string]domain.User),
		usernames:    make(map[string]string),
		profiles:     make(map[string]domain.Profile),
		books:        make(map[string]domain.Book),
		favorites:    make(map[string]domain.Favorite),
		favoritePair: make(map[string]string),
		cart:         make(map[string]domain.CartLine),
		cartPair:     make(map[string]string),
	}
}

func pairKey(userID, bookID string) string {
	return userID + "|" + bookID
}

// CreateUserWithProfile registers a user and profile atomically.
func (m *MemoryStore) CreateUserWithProfile(user domain.User, profile domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usernames[user.Username]; exists {
		return ErrDuplicateUsername
	}
	m.users[user.ID] = user
	m.usernames[user.Username] = user.ID
	m.profiles[user.ID] = domain.Profile{UserID: user.ID, Phone: profile.Phone}
	m.userOrder = append(m.userOrder, user.ID)
	return nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.usernames[username]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// ListUsers returns all users in signup order.
func (m *MemoryStore) ListUsers() ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		if u, ok := m.users[id]; ok {
			res = append(res, u)
		}
	}
	return res, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// GetProfile returns the profile bound to a user, if any.
func (m *MemoryStore) GetProfile(userID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

// CountBooksByOwner returns the number of listings owned by a user.
func (m *MemoryStore) CountBooksByOwner(ownerID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, b := range m.books {
		if b.OwnerID == ownerID {
			count++
		}
	}
	return count, nil
}

// CreateBook inserts a new listing.
func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	m.bookOrder = append(m.bookOrder, b.ID)
	return nil
}

// UpdateBook persists listing changes.
func (m *MemoryStore) UpdateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[b.ID]; ok {
		m.books[b.ID] = b
	}
	return nil
}

// ListBooks returns listings newest first with the search/category filter
// contract of the Postgres store.
func (m *MemoryStore) ListBooks(search, category string) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search = strings.ToLower(search)
	category = strings.ToLower(category)
	res := make([]domain.Book, 0, len(m.bookOrder))
	for i := len(m.bookOrder) - 1; i >= 0; i-- {
		b, ok := m.books[m.bookOrder[i]]
		if !ok {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(b.Name), search) &&
			!strings.Contains(strings.ToLower(b.Author), search) &&
			!strings.Contains(strings.ToLower(b.Category), search) {
			continue
		}
		if category != "" && strings.ToLower(b.Category) != category {
			continue
		}
		res = append(res, b)
	}
	return res, nil
}

// GetBook retrieves a listing.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// DeleteBook removes a listing and cascades to favorites, cart lines, and
// messages that reference it.
func (m *MemoryStore) DeleteBook(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.books, id)
	m.bookOrder = removeID(m.bookOrder, id)
	for favID, fav := range m.favorites {
		if fav.BookID == id {
			delete(m.favorites, favID)
			delete(m.favoritePair, pairKey(fav.UserID, fav.BookID))
			m.favOrder = removeID(m.favOrder, favID)
		}
	}
	for lineID, line := range m.cart {
		if line.BookID == id {
			delete(m.cart, lineID)
			delete(m.cartPair, pairKey(line.UserID, line.BookID))
			m.cartOrder = removeID(m.cartOrder, lineID)
		}
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.BookID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	return nil
}

// AddFavorite resolves repeated adds for the same (user, book) pair to the
// one existing row; the lock makes the check-and-insert atomic.
func (m *MemoryStore) AddFavorite(f domain.Favorite) (domain.Favorite, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(f.UserID, f.BookID)
	if existingID, ok := m.favoritePair[key]; ok {
		return m.favorites[existingID], false, nil
	}
	m.favorites[f.ID] = f
	m.favoritePair[key] = f.ID
	m.favOrder = append(m.favOrder, f.ID)
	return f, true, nil
}

// ListFavoritesByUser returns a user's favorites newest first.
func (m *MemoryStore) ListFavoritesByUser(userID string) ([]domain.Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Favorite, 0)
	for i := len(m.favOrder) - 1; i >= 0; i-- {
		if f, ok := m.favorites[m.favOrder[i]]; ok && f.UserID == userID {
			res = append(res, f)
		}
	}
	return res, nil
}

// GetFavorite retrieves a favorite row by ID.
func (m *MemoryStore) GetFavorite(id string) (domain.Favorite, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.favorites[id]
	return f, ok, nil
}

// DeleteFavorite removes a favorite row by ID.
func (m *MemoryStore) DeleteFavorite(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.favorites[id]; ok {
		delete(m.favorites, id)
		delete(m.favoritePair, pairKey(f.UserID, f.BookID))
		m.favOrder = removeID(m.favOrder, id)
	}
	return nil
}

// UpsertCartLine adds a line or increments the existing one under the lock,
// so concurrent adds for the same pair never lose increments.
func (m *MemoryStore) UpsertCartLine(line domain.CartLine) (domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(line.UserID, line.BookID)
	if existingID, ok := m.cartPair[key]; ok {
		existing := m.cart[existingID]
		existing.Quantity += line.Quantity
		m.cart[existingID] = existing
		return existing, nil
	}
	m.cart[line.ID] = line
	m.cartPair[key] = line.ID
	m.cartOrder = append(m.cartOrder, line.ID)
	return line, nil
}

// ListCartByUser returns a user's cart lines newest-added first.
func (m *MemoryStore) ListCartByUser(userID string) ([]domain.CartLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.CartLine, 0)
	for i := len(m.cartOrder) - 1; i >= 0; i-- {
		if line, ok := m.cart[m.cartOrder[i]]; ok && line.UserID == userID {
			res = append(res, line)
		}
	}
	return res, nil
}

// GetCartLine retrieves a cart line by ID.
func (m *MemoryStore) GetCartLine(id string) (domain.CartLine, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	line, ok := m.cart[id]
	return line, ok, nil
}

// DeleteCartLine removes a cart line by ID.
func (m *MemoryStore) DeleteCartLine(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if line, ok := m.cart[id]; ok {
		delete(m.cart, id)
		delete(m.cartPair, pairKey(line.UserID, line.BookID))
		m.cartOrder = removeID(m.cartOrder, id)
	}
	return nil
}

// CreateMessage appends a contact message row.
func (m *MemoryStore) CreateMessage(msg domain.ContactMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// ListMessagesByRecipient returns a user's inbox newest first.
func (m *MemoryStore) ListMessagesByRecipient(userID string) ([]domain.ContactMessage, error) {
	return m.listMessages(func(msg domain.ContactMessage) bool {
		return msg.RecipientID == userID
	})
}

// ListMessagesBySender returns a user's sent messages newest first.
func (m *MemoryStore) ListMessagesBySender(userID string) ([]domain.ContactMessage, error) {
	return m.listMessages(func(msg domain.ContactMessage) bool {
		return msg.SenderID == userID
	})
}

func (m *MemoryStore) listMessages(match func(domain.ContactMessage) bool) ([]domain.ContactMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.ContactMessage, 0)
	for i := len(m.messages) - 1; i >= 0; i-- {
		if match(m.messages[i]) {
			res = append(res, m.messages[i])
		}
	}
	return res, nil
}

func removeID(ids []string, id string) []string {
	filtered := ids[:0]
	for _, item := range ids {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
