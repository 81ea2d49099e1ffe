package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/calebJoshwa/EduReuse/internal/app"
	"github.com/calebJoshwa/EduReuse/pkg/mail"
	"github.com/calebJoshwa/EduReuse/pkg/store"
)

func newTestServer(t *testing.T, signupLimit int) *httptest.Server {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	a := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      store.NewJWTSessionStore("test-secret", time.Hour),
		Mailer:        mail.LogMailer{},
		NotifyTimeout: time.Second,
	})
	srv, err := New(Config{
		App:                      a,
		RedisAddr:                redisSrv.Addr(),
		SignupRateLimitPerMinute: signupLimit,
		LoginRateLimitPerMinute:  100,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

// browser simulates one cookie-holding client.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

func newBrowser(t *testing.T, ts *httptest.Server) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	b := &browser{t: t, base: ts.URL, client: &http.Client{Jar: jar}}
	b.fetchCSRF()
	return b
}

func (b *browser) fetchCSRF() {
	b.t.Helper()
	resp, err := b.client.Get(b.base + "/api/auth/csrf/")
	if err != nil {
		b.t.Fatalf("fetch csrf: %v", err)
	}
	resp.Body.Close()
	u, _ := url.Parse(b.base)
	for _, c := range b.client.Jar.Cookies(u) {
		if c.Name == "csrftoken" {
			b.csrf = c.Value
		}
	}
	if b.csrf == "" {
		b.t.Fatalf("csrftoken cookie not set")
	}
}

func (b *browser) do(method, path string, body any) (int, []byte) {
	b.t.Helper()
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			b.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, b.base+path, payload)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.csrf != "" {
		req.Header.Set("X-CSRFToken", b.csrf)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func (b *browser) signupAndLogin(username, email string) {
	b.t.Helper()
	status, body := b.do(http.MethodPost, "/api/auth/signup/", map[string]string{
		"username": username, "email": email, "password": "hunter2hunter2", "phone": "555-0100",
	})
	if status != http.StatusCreated {
		b.t.Fatalf("signup %s: status %d body %s", username, status, body)
	}
	status, body = b.do(http.MethodPost, "/api/auth/login/", map[string]string{
		"username": username, "password": "hunter2hunter2",
	})
	if status != http.StatusOK {
		b.t.Fatalf("login %s: status %d body %s", username, status, body)
	}
}

func decodeInto(t *testing.T, raw []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestSignupLoginMessageFlow(t *testing.T) {
	ts := newTestServer(t, 100)

	alice := newBrowser(t, ts)
	alice.signupAndLogin("alice", "alice@example.com")

	status, raw := alice.do(http.MethodPost, "/api/books/", map[string]any{
		"name": "Calculus", "author": "Stewart", "category": "Math", "price": 15.5,
	})
	if status != http.StatusCreated {
		t.Fatalf("create book: status %d body %s", status, raw)
	}
	var book struct {
		ID    string `json:"id"`
		Owner struct {
			Username string `json:"username"`
		} `json:"owner"`
	}
	decodeInto(t, raw, &book)
	if book.Owner.Username != "alice" {
		t.Fatalf("owner should be alice, got %q", book.Owner.Username)
	}

	bob := newBrowser(t, ts)
	bob.signupAndLogin("bob", "bob@example.com")

	status, raw = bob.do(http.MethodPost, "/api/messages/", map[string]string{
		"book": book.ID, "message": "is this still available?",
	})
	if status != http.StatusCreated {
		t.Fatalf("send message: status %d body %s", status, raw)
	}

	status, raw = alice.do(http.MethodGet, "/api/messages/", nil)
	if status != http.StatusOK {
		t.Fatalf("inbox: status %d body %s", status, raw)
	}
	var inbox []struct {
		Message string `json:"message"`
		Sender  struct {
			Username string `json:"username"`
		} `json:"sender"`
	}
	decodeInto(t, raw, &inbox)
	if len(inbox) != 1 || inbox[0].Message != "is this still available?" || inbox[0].Sender.Username != "bob" {
		t.Fatalf("unexpected inbox: %s", raw)
	}

	status, raw = bob.do(http.MethodGet, "/api/messages/?sent=true", nil)
	if status != http.StatusOK {
		t.Fatalf("sent box: status %d body %s", status, raw)
	}
	var sent []json.RawMessage
	decodeInto(t, raw, &sent)
	if len(sent) != 1 {
		t.Fatalf("expected one sent message, got %d", len(sent))
	}
}

func TestFavoritesCartAndOrderFlow(t *testing.T) {
	ts := newTestServer(t, 100)

	alice := newBrowser(t, ts)
	alice.signupAndLogin("alice", "alice@example.com")
	status, raw := alice.do(http.MethodPost, "/api/books/", map[string]any{
		"name": "Physics", "author": "Halliday", "price": 20,
	})
	if status != http.StatusCreated {
		t.Fatalf("create book: status %d body %s", status, raw)
	}
	var book struct {
		ID string `json:"id"`
	}
	decodeInto(t, raw, &book)

	bob := newBrowser(t, ts)
	bob.signupAndLogin("bob", "bob@example.com")

	// Favorite twice; second add returns the existing row.
	status, raw = bob.do(http.MethodPost, "/api/favorites/", map[string]string{"book": book.ID})
	if status != http.StatusCreated {
		t.Fatalf("first favorite: status %d body %s", status, raw)
	}
	var fav struct {
		ID string `json:"id"`
	}
	decodeInto(t, raw, &fav)
	status, raw = bob.do(http.MethodPost, "/api/favorites/", map[string]string{"book": book.ID})
	if status != http.StatusOK {
		t.Fatalf("repeat favorite: status %d body %s", status, raw)
	}
	var repeat struct {
		ID string `json:"id"`
	}
	decodeInto(t, raw, &repeat)
	if repeat.ID != fav.ID {
		t.Fatalf("repeat favorite should return the same row: %s vs %s", repeat.ID, fav.ID)
	}

	// Cart add-or-increment.
	for i := 0; i < 2; i++ {
		status, raw = bob.do(http.MethodPost, "/api/cart/", map[string]any{"book": book.ID, "quantity": 1})
		if status != http.StatusCreated {
			t.Fatalf("cart add %d: status %d body %s", i, status, raw)
		}
	}
	status, raw = bob.do(http.MethodGet, "/api/cart/", nil)
	if status != http.StatusOK {
		t.Fatalf("list cart: status %d body %s", status, raw)
	}
	var cart []struct {
		ID       string `json:"id"`
		Quantity int    `json:"quantity"`
	}
	decodeInto(t, raw, &cart)
	if len(cart) != 1 || cart[0].Quantity != 2 {
		t.Fatalf("expected one line with quantity 2, got %s", raw)
	}

	// Order goes to the seller.
	status, raw = bob.do(http.MethodPost, "/api/order/", map[string]any{
		"book": book.ID, "quantity": 1, "note": "pickup tomorrow",
	})
	if status != http.StatusOK {
		t.Fatalf("order: status %d body %s", status, raw)
	}
	var receipt struct {
		Recipients []string `json:"recipients"`
	}
	decodeInto(t, raw, &receipt)
	if len(receipt.Recipients) != 1 || receipt.Recipients[0] != "alice@example.com" {
		t.Fatalf("unexpected recipients: %v", receipt.Recipients)
	}

	// Cleanup endpoints.
	if status, raw = bob.do(http.MethodDelete, fmt.Sprintf("/api/favorites/%s/", fav.ID), nil); status != http.StatusNoContent {
		t.Fatalf("delete favorite: status %d body %s", status, raw)
	}
	if status, raw = bob.do(http.MethodDelete, fmt.Sprintf("/api/cart/%s/", cart[0].ID), nil); status != http.StatusNoContent {
		t.Fatalf("delete cart line: status %d body %s", status, raw)
	}
}

func TestCSRFRequiredForUnsafeMethods(t *testing.T) {
	ts := newTestServer(t, 100)

	body := bytes.NewReader([]byte(`{"username":"mallory","password":"hunter2hunter2"}`))
	resp, err := http.Post(ts.URL+"/api/auth/signup/", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredAndPublicCatalog(t *testing.T) {
	ts := newTestServer(t, 100)

	resp, err := http.Get(ts.URL + "/api/favorites/")
	if err != nil {
		t.Fatalf("get favorites: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous favorites, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/books/")
	if err != nil {
		t.Fatalf("get books: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catalog should be public, got %d", resp.StatusCode)
	}
}

func TestOwnershipEnforcedOverHTTP(t *testing.T) {
	ts := newTestServer(t, 100)

	alice := newBrowser(t, ts)
	alice.signupAndLogin("alice", "alice@example.com")
	status, raw := alice.do(http.MethodPost, "/api/books/", map[string]any{"name": "Biology", "author": "Campbell"})
	if status != http.StatusCreated {
		t.Fatalf("create book: status %d body %s", status, raw)
	}
	var book struct {
		ID string `json:"id"`
	}
	decodeInto(t, raw, &book)

	// alice is the first signup and therefore admin; bob is a regular user.
	bob := newBrowser(t, ts)
	bob.signupAndLogin("bob", "bob@example.com")

	if status, raw = bob.do(http.MethodDelete, fmt.Sprintf("/api/books/%s/", book.ID), nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner delete, got %d body %s", status, raw)
	}
	if status, raw = bob.do(http.MethodGet, "/api/users/", nil); status != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin user list, got %d body %s", status, raw)
	}
	if status, raw = alice.do(http.MethodGet, "/api/users/", nil); status != http.StatusOK {
		t.Fatalf("admin user list: status %d body %s", status, raw)
	}
}

func TestSignupRateLimit(t *testing.T) {
	ts := newTestServer(t, 2)
	b := newBrowser(t, ts)

	for i := 0; i < 2; i++ {
		status, raw := b.do(http.MethodPost, "/api/auth/signup/", map[string]string{
			"username": fmt.Sprintf("user%d", i), "password": "hunter2hunter2",
		})
		if status != http.StatusCreated {
			t.Fatalf("signup %d: status %d body %s", i, status, raw)
		}
	}
	status, raw := b.do(http.MethodPost, "/api/auth/signup/", map[string]string{
		"username": "user3", "password": "hunter2hunter2",
	})
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d body %s", status, raw)
	}
}

func TestErrorBodyShape(t *testing.T) {
	ts := newTestServer(t, 100)
	b := newBrowser(t, ts)
	b.signupAndLogin("alice", "alice@example.com")

	status, raw := b.do(http.MethodGet, "/api/books/does-not-exist/", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	var body map[string]string
	decodeInto(t, raw, &body)
	if body["detail"] == "" {
		t.Fatalf("error body must carry a detail field: %s", raw)
	}
}
