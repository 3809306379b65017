// Package apitest provides an in-memory stand-in for the document API,
// served over httptest, for use in tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// Roles as the API spells them.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

type user struct {
	ID       string `json:"_id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	password string
}

type document struct {
	ID           string    `json:"_id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Status       string    `json:"status"`
	CreatedBy    string    `json:"createdBy"`
	BlockchainTx string    `json:"blockchainTx,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type historyEntry struct {
	ID             string    `json:"_id"`
	DocumentID     string    `json:"documentId"`
	UserID         string    `json:"userId"`
	User           user      `json:"user"`
	Action         string    `json:"action"`
	Timestamp      time.Time `json:"timestamp"`
	BlockchainHash string    `json:"blockchainHash"`
}

// Call is one request the server received.
type Call struct {
	Method        string
	Path          string
	Authorization string
}

// Server is a fake document API. All methods are safe for concurrent use.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	users   map[string]*user // by email
	tokens  map[string]string
	docs    []*document
	history map[string][]historyEntry
	seq     int
	calls   []Call
	failing map[string]int
	hooks   map[string]func()
	now     time.Time
}

// NewServer starts a fake API that is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		users:   make(map[string]*user),
		tokens:  make(map[string]string),
		history: make(map[string][]historyEntry),
		failing: make(map[string]int),
		hooks:   make(map[string]func()),
		now:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", s.login)
	mux.HandleFunc("GET /auth/me", s.authed(s.me))
	mux.HandleFunc("GET /documents", s.authed(s.listDocuments))
	mux.HandleFunc("POST /documents", s.authed(s.createDocument))
	mux.HandleFunc("GET /documents/{id}", s.authed(s.getDocument))
	mux.HandleFunc("POST /documents/{id}/approve", s.authed(s.transition("approved", "APPROVE")))
	mux.HandleFunc("POST /documents/{id}/reject", s.authed(s.transition("rejected", "REJECT")))
	mux.HandleFunc("GET /documents/{id}/history", s.authed(s.documentHistory))
	mux.HandleFunc("GET /history/user", s.authed(s.userHistory))

	s.Server = httptest.NewServer(s.record(mux))
	tb.Cleanup(s.Close)
	return s
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

func (s *Server) tick() time.Time {
	s.now = s.now.Add(time.Minute)
	return s.now
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(email, password, role string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &user{
		ID:       s.nextID("u"),
		Name:     strings.Split(email, "@")[0],
		Email:    email,
		Role:     role,
		password: password,
	}
	s.users[email] = u
	return u.ID
}

// AddDocument stores a document created by email and returns its id.
func (s *Server) AddDocument(email, title, content, status string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[email]
	at := s.tick()
	doc := &document{
		ID:        s.nextID("d"),
		Title:     title,
		Content:   content,
		Status:    status,
		CreatedBy: u.ID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.docs = append(s.docs, doc)
	s.appendHistory(doc.ID, u, "UPLOAD", at)
	return doc.ID
}

// RegisterToken makes token authenticate as email, e.g. a hand-made JWT.
func (s *Server) RegisterToken(token, email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token] = email
}

// RevokeTokens invalidates every issued token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// Fail makes every request to "METHOD /path" answer with status.
func (s *Server) Fail(method, path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[method+" "+path] = status
}

// OnRequest runs fn whenever "METHOD /path" arrives, before it is served.
func (s *Server) OnRequest(method, path string, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[method+" "+path] = fn
}

// Calls returns the requests received so far, optionally filtered to
// "METHOD /path".
func (s *Server) Calls(route ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if len(route) == 0 || route[0] == c.Method+" "+c.Path {
			out = append(out, c)
		}
	}
	return out
}

// Status returns the current status of a stored document.
func (s *Server) Status(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc := s.find(id); doc != nil {
		return doc.Status
	}
	return ""
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Authorization: r.Header.Get("Authorization")})
		status, failing := s.failing[r.Method+" "+r.URL.Path]
		hook := s.hooks[r.Method+" "+r.URL.Path]
		s.mu.Unlock()

		if hook != nil {
			hook()
		}

		if failing {
			writeError(w, r, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, u *user)

func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		email, ok := s.tokens[token]
		u := s.users[email]
		s.mu.Unlock()
		if token == "" || !ok || u == nil {
			writeError(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, u)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid request")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Email]
	if !ok || u.password != req.Password {
		s.mu.Unlock()
		writeError(w, r, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	token := s.nextID("tok-")
	s.tokens[token] = u.Email
	s.mu.Unlock()

	writeData(w, r, http.StatusCreated, map[string]any{"access_token": token, "user": u})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request, u *user) {
	writeData(w, r, http.StatusOK, u)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request, _ *user) {
	s.mu.Lock()
	docs := make([]document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, *d)
	}
	s.mu.Unlock()
	writeData(w, r, http.StatusOK, docs)
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request, u *user) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" || req.Content == "" {
		writeError(w, r, http.StatusBadRequest, "title and content are required")
		return
	}

	s.mu.Lock()
	at := s.tick()
	doc := &document{
		ID:        s.nextID("d"),
		Title:     req.Title,
		Content:   req.Content,
		Status:    "pending",
		CreatedBy: u.ID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	s.docs = append(s.docs, doc)
	s.appendHistory(doc.ID, u, "UPLOAD", at)
	out := *doc
	s.mu.Unlock()

	writeData(w, r, http.StatusCreated, out)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request, _ *user) {
	s.mu.Lock()
	doc := s.find(r.PathValue("id"))
	var out document
	if doc != nil {
		out = *doc
	}
	s.mu.Unlock()

	if doc == nil {
		writeError(w, r, http.StatusNotFound, "Document not found")
		return
	}
	writeData(w, r, http.StatusOK, out)
}

func (s *Server) transition(status, action string) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, u *user) {
		if u.Role != RoleAdmin {
			writeError(w, r, http.StatusForbidden, "Forbidden resource")
			return
		}

		s.mu.Lock()
		doc := s.find(r.PathValue("id"))
		if doc == nil {
			s.mu.Unlock()
			writeError(w, r, http.StatusNotFound, "Document not found")
			return
		}
		if doc.Status != "pending" {
			s.mu.Unlock()
			writeError(w, r, http.StatusBadRequest, "Document is not pending")
			return
		}
		at := s.tick()
		doc.Status = status
		doc.UpdatedAt = at
		entry := s.appendHistory(doc.ID, u, action, at)
		doc.BlockchainTx = entry.BlockchainHash
		out := *doc
		s.mu.Unlock()

		writeData(w, r, http.StatusOK, out)
	}
}

func (s *Server) documentHistory(w http.ResponseWriter, r *http.Request, _ *user) {
	id := r.PathValue("id")
	s.mu.Lock()
	doc := s.find(id)
	entries := append([]historyEntry(nil), s.history[id]...)
	s.mu.Unlock()

	if doc == nil {
		writeError(w, r, http.StatusNotFound, "Document not found")
		return
	}
	writeData(w, r, http.StatusOK, entries)
}

func (s *Server) userHistory(w http.ResponseWriter, r *http.Request, u *user) {
	s.mu.Lock()
	entries := []historyEntry{}
	for _, d := range s.docs {
		for _, e := range s.history[d.ID] {
			if e.UserID == u.ID {
				entries = append(entries, e)
			}
		}
	}
	s.mu.Unlock()
	writeData(w, r, http.StatusOK, entries)
}

// Must be called with lock held
func (s *Server) find(id string) *document {
	for _, d := range s.docs {
		if d.ID == id {
			return d
		}
	}
	return nil
}

// Must be called with lock held
func (s *Server) appendHistory(docID string, u *user, action string, at time.Time) historyEntry {
	entry := historyEntry{
		ID:             s.nextID("h"),
		DocumentID:     docID,
		UserID:         u.ID,
		User:           *u,
		Action:         action,
		Timestamp:      at,
		BlockchainHash: fmt.Sprintf("0x%064x", s.seq),
	}
	s.history[docID] = append(s.history[docID], entry)
	return entry
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, status, map[string]any{
		"status":    status,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"path":      r.URL.Path,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]any{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"path":      r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
