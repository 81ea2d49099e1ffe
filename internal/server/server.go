package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/calebJoshwa/EduReuse/internal/app"
	"github.com/calebJoshwa/EduReuse/internal/ratelimit"
	"github.com/calebJoshwa/EduReuse/internal/util"
	"github.com/calebJoshwa/EduReuse/pkg/domain"
)

const (
	sessionCookieName = "sessionid"
	csrfCookieName    = "csrftoken"
	csrfHeaderName    = "X-CSRFToken"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	AllowedOrigin            string
	TrustedProxies           *util.TrustedProxies
	SessionTTL               time.Duration
	CookieSecure             bool
	MaxUploadBytes           int64
}

// Server exposes the HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigin  string
	trustedProxies *util.TrustedProxies
	sessionTTL     time.Duration
	cookieSecure   bool
	maxUploadBytes int64
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	signupLimit := cfg.SignupRateLimitPerMinute
	if signupLimit <= 0 {
		signupLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "edureuse:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signupLimiter, err := newLimiter("signup", signupLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}

	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		allowedOrigin:  cfg.AllowedOrigin,
		trustedProxies: cfg.TrustedProxies,
		sessionTTL:     sessionTTL,
		cookieSecure:   cfg.CookieSecure,
		maxUploadBytes: maxUpload,
		signupLimiter:  signupLimiter,
		loginLimiter:   loginLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.csrfProtect(s.mux)
	h = util.WithCORS(s.allowedOrigin, h)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/test/", s.handleTest)

	// auth
	s.mux.HandleFunc("/api/auth/csrf/", s.handleCSRF)
	s.mux.HandleFunc("/api/auth/signup/", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login/", s.handleLogin)
	s.mux.Handle("/api/auth/logout/", s.authenticated(s.handleLogout))
	s.mux.HandleFunc("/api/auth/user/", s.handleCurrentUser)
	s.mux.Handle("/api/users/", s.authenticated(s.handleUsers))

	// catalog
	s.mux.HandleFunc("/api/books/", s.handleBooks)

	// marketplace (auth required)
	s.mux.Handle("/api/messages/", s.authenticated(s.handleMessages))
	s.mux.Handle("/api/favorites/", s.authenticated(s.handleFavorites))
	s.mux.Handle("/api/cart/", s.authenticated(s.handleCart))
	s.mux.Handle("/api/order/", s.authenticated(s.handleOrder))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "API is reachable"})
}

// csrfProtect enforces the double-submit contract: unsafe methods must
// send the csrftoken cookie back in the X-CSRFToken header.
func (s *Server) csrfProtect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" || r.Header.Get(csrfHeaderName) != cookie.Value {
			writeError(w, http.StatusForbidden, "CSRF verification failed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	token := util.NewID()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		// Not HttpOnly: the frontend reads it to echo the header.
	})
	writeJSON(w, http.StatusOK, map[string]string{"detail": "CSRF cookie set"})
}

// auth wrappers

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.currentUser(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) currentUser(r *http.Request) (domain.User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return domain.User{}, app.ErrUnauthenticated
	}
	return s.app.UserFromToken(r.Context(), cookie.Value)
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// auth handlers

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		return
	}
	var req app.SignUpInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	view, err := s.app.SignUp(r.Context(), req)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, view, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.setSessionCookie(w, token, int(s.sessionTTL.Seconds()))
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		_ = s.app.Logout(r.Context(), cookie.Value)
	}
	s.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "logged out"})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.currentUser(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	view, err := s.app.CurrentUser(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// catalog handlers

// /api/books/, /api/books/{id}/, /api/books/{id}/image/
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	segs := splitPath(r.URL.Path, "/api/books/")
	switch {
	case len(segs) == 0:
		s.handleBookCollection(w, r)
	case len(segs) == 1:
		s.handleBookByID(w, r, segs[0])
	case len(segs) == 2 && segs[1] == "image":
		s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
			s.handleBookImage(w, r, user, segs[0])
		}).ServeHTTP(w, r)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleBookCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		books, err := s.app.ListBooks(r.Context(), q.Get("search"), q.Get("category"))
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, books)
	case http.MethodPost:
		user, err := s.currentUser(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		var req app.CreateBookInput
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		view, err := s.app.CreateBook(r.Context(), user, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		view, err := s.app.GetBook(r.Context(), id)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodPut, http.MethodPatch:
		user, err := s.currentUser(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		var req app.UpdateBookInput
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		view, err := s.app.UpdateBook(r.Context(), user, id, req)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case http.MethodDelete:
		user, err := s.currentUser(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		if err := s.app.DeleteBook(r.Context(), user, id); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"detail": "book deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleBookImage(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required (field: image)")
		return
	}
	defer file.Close()
	view, err := s.app.AttachImage(r.Context(), user, id, header.Filename, file, header.Size, header.Header.Get("Content-Type"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// marketplace handlers

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user domain.User) {
	if len(splitPath(r.URL.Path, "/api/messages/")) != 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		var (
			msgs []domain.MessageView
			err  error
		)
		if r.URL.Query().Get("sent") == "true" {
			msgs, err = s.app.Sent(r.Context(), user)
		} else {
			msgs, err = s.app.Inbox(r.Context(), user)
		}
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var req struct {
			Book    string `json:"book"`
			Message string `json:"message"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		view, err := s.app.SendMessage(r.Context(), user, req.Book, req.Message)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request, user domain.User) {
	segs := splitPath(r.URL.Path, "/api/favorites/")
	switch {
	case len(segs) == 0:
		switch r.Method {
		case http.MethodGet:
			favs, err := s.app.ListFavorites(r.Context(), user)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, favs)
		case http.MethodPost:
			var req struct {
				Book string `json:"book"`
			}
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			view, created, err := s.app.AddFavorite(r.Context(), user, req.Book)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			writeJSON(w, status, view)
		default:
			methodNotAllowed(w)
		}
	case len(segs) == 1 && r.Method == http.MethodDelete:
		if err := s.app.RemoveFavorite(r.Context(), user, segs[0]); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(segs) == 1:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	segs := splitPath(r.URL.Path, "/api/cart/")
	switch {
	case len(segs) == 0:
		switch r.Method {
		case http.MethodGet:
			lines, err := s.app.ListCart(r.Context(), user)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, lines)
		case http.MethodPost:
			var req struct {
				Book     string `json:"book"`
				Quantity int    `json:"quantity"`
			}
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			view, err := s.app.AddToCart(r.Context(), user, req.Book, req.Quantity)
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, view)
		default:
			methodNotAllowed(w)
		}
	case len(segs) == 1 && r.Method == http.MethodDelete:
		if err := s.app.RemoveCartLine(r.Context(), user, segs[0]); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(segs) == 1:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Book     string `json:"book"`
		Quantity int    `json:"quantity"`
		Note     string `json:"note"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	receipt, err := s.app.PlaceOrder(r.Context(), user, req.Book, req.Quantity, req.Note)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// plumbing

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	var nerr *app.NotificationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Detail)
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "image storage is not available")
	case errors.As(err, &nerr):
		util.LoggerFromContext(r.Context()).Error("order_notification_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not send order email")
	default:
		util.LoggerFromContext(r.Context()).Error("request_failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}

// splitPath returns the non-empty segments after prefix, tolerating the
// trailing-slash URL style.
func splitPath(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
