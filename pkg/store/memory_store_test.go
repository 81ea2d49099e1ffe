package store

import (
	"sync"
	"testing"
	"time"

	"github.com/calebJoshwa/EduReuse/internal/util"
	"github.com/calebJoshwa/EduReuse/pkg/domain"
)

func seedBook(t *testing.T, s Store, name, author, category string) domain.Book {
	t.Helper()
	book := domain.Book{
		ID:        util.NewID(),
		Name:      name,
		Author:    author,
		Category:  category,
		Condition: domain.ConditionGood,
		Price:     10,
		OwnerID:   "owner-1",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateBook(book); err != nil {
		t.Fatalf("create book: %v", err)
	}
	return book
}

func TestAddFavoriteIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "Calculus", "Stewart", "Math")

	first, created, err := s.AddFavorite(domain.Favorite{
		ID: util.NewID(), UserID: "u1", BookID: book.ID, CreatedAt: time.Now().UTC(),
	})
	if err != nil || !created {
		t.Fatalf("first add: created=%v err=%v", created, err)
	}
	second, created, err := s.AddFavorite(domain.Favorite{
		ID: util.NewID(), UserID: "u1", BookID: book.ID, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if created {
		t.Fatalf("second add should report the existing row")
	}
	if second.ID != first.ID {
		t.Fatalf("expected same row, got %s and %s", first.ID, second.ID)
	}

	favs, err := s.ListFavoritesByUser("u1")
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if len(favs) != 1 {
		t.Fatalf("expected exactly one favorite row, got %d", len(favs))
	}
}

func TestAddFavoriteConcurrentAddsYieldOneRow(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "Physics", "Halliday", "Science")

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _, err := s.AddFavorite(domain.Favorite{
				ID: util.NewID(), UserID: "u1", BookID: book.ID, CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("concurrent add: %v", err)
			}
		}()
	}
	wg.Wait()

	favs, err := s.ListFavoritesByUser("u1")
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if len(favs) != 1 {
		t.Fatalf("expected exactly one favorite row after %d concurrent adds, got %d", n, len(favs))
	}
}

func TestUpsertCartLineConcurrentIncrementsDoNotLoseUpdates(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "Chemistry", "Atkins", "Science")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := s.UpsertCartLine(domain.CartLine{
				ID: util.NewID(), UserID: "u1", BookID: book.ID, Quantity: 1, AddedAt: time.Now().UTC(),
			})
			if err != nil {
				t.Errorf("concurrent upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	lines, err := s.ListCartByUser("u1")
	if err != nil {
		t.Fatalf("list cart: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one cart line, got %d", len(lines))
	}
	if lines[0].Quantity != n {
		t.Fatalf("expected quantity %d, got %d", n, lines[0].Quantity)
	}
}

func TestListBooksSearchAndCategoryFilters(t *testing.T) {
	s := NewMemoryStore()
	calc := seedBook(t, s, "Calculus Made Easy", "Thompson", "Math")
	seedBook(t, s, "Moby Dick", "Melville", "Fiction")
	foo := seedBook(t, s, "History of Foo", "Barman", "Fiction")

	tests := []struct {
		name      string
		search    string
		category  string
		wantCount int
		wantFirst string
	}{
		{"search matches name", "calculus", "", 1, calc.ID},
		{"search matches author case-insensitively", "MELV", "", 1, ""},
		{"category exact match", "", "fiction", 2, foo.ID},
		{"search and category combine as AND", "foo", "Fiction", 1, foo.ID},
		{"category substring does not match", "", "Fict", 0, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			books, err := s.ListBooks(tc.search, tc.category)
			if err != nil {
				t.Fatalf("list books: %v", err)
			}
			if len(books) != tc.wantCount {
				t.Fatalf("expected %d books, got %d", tc.wantCount, len(books))
			}
			if tc.wantFirst != "" && books[0].ID != tc.wantFirst {
				t.Fatalf("expected first book %s, got %s", tc.wantFirst, books[0].ID)
			}
		})
	}

	// Default listing is newest first.
	all, err := s.ListBooks("", "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != foo.ID || all[2].ID != calc.ID {
		t.Fatalf("expected newest-first ordering, got %+v", all)
	}
}

func TestCreateUserWithProfileRejectsDuplicateUsername(t *testing.T) {
	s := NewMemoryStore()
	alice := domain.User{ID: util.NewID(), Username: "alice", Role: domain.RoleUser, CreatedAt: time.Now().UTC()}
	if err := s.CreateUserWithProfile(alice, domain.Profile{Phone: "123"}); err != nil {
		t.Fatalf("first signup: %v", err)
	}
	dup := domain.User{ID: util.NewID(), Username: "alice", Role: domain.RoleUser, CreatedAt: time.Now().UTC()}
	if err := s.CreateUserWithProfile(dup, domain.Profile{}); err != ErrDuplicateUsername {
		t.Fatalf("expected ErrDuplicateUsername, got %v", err)
	}
	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one user after duplicate signup, got %d", count)
	}
	if _, ok, _ := s.GetProfile(dup.ID); ok {
		t.Fatalf("duplicate signup must not create a second profile")
	}
}

func TestDeleteBookCascades(t *testing.T) {
	s := NewMemoryStore()
	book := seedBook(t, s, "Biology", "Campbell", "Science")

	if _, _, err := s.AddFavorite(domain.Favorite{ID: util.NewID(), UserID: "u1", BookID: book.ID}); err != nil {
		t.Fatalf("add favorite: %v", err)
	}
	if _, err := s.UpsertCartLine(domain.CartLine{ID: util.NewID(), UserID: "u1", BookID: book.ID, Quantity: 1}); err != nil {
		t.Fatalf("add cart line: %v", err)
	}
	if err := s.CreateMessage(domain.ContactMessage{ID: util.NewID(), SenderID: "u1", RecipientID: "owner-1", BookID: book.ID, Message: "hi"}); err != nil {
		t.Fatalf("create message: %v", err)
	}

	if err := s.DeleteBook(book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if favs, _ := s.ListFavoritesByUser("u1"); len(favs) != 0 {
		t.Fatalf("expected favorites to cascade, got %d", len(favs))
	}
	if lines, _ := s.ListCartByUser("u1"); len(lines) != 0 {
		t.Fatalf("expected cart lines to cascade, got %d", len(lines))
	}
	if msgs, _ := s.ListMessagesByRecipient("owner-1"); len(msgs) != 0 {
		t.Fatalf("expected messages to cascade, got %d", len(msgs))
	}
}
