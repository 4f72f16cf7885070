// Package session keeps per-browser dashboard state: the transfer flow,
// one lifecycle slot per admin form, pending form input and toasts.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brojonat/idproperty/service/transfer"
	"github.com/brojonat/idproperty/service/txn"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CookieName is the session cookie.
const CookieName = "idproperty_session"

// Flash is a one-shot toast.
type Flash struct {
	Kind    string `json:"kind"` // "success" or "error"
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// Session is one browser's state.
type Session struct {
	ID       string
	Transfer *transfer.Flow

	mu       sync.Mutex
	operator bool
	slots    map[string]*txn.Slot
	forms    map[string]map[string]string
	flashes  []Flash
	notified map[uuid.UUID]bool
}

func newSession(id string) *Session {
	return &Session{
		ID:       id,
		Transfer: &transfer.Flow{},
		slots:    make(map[string]*txn.Slot),
		forms:    make(map[string]map[string]string),
		notified: make(map[uuid.UUID]bool),
	}
}

// Operator reports whether the browser logged in with the operator token.
func (s *Session) Operator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.operator
}

// Slot returns the lifecycle slot for a form, creating it on first use.
func (s *Session) Slot(name string) *txn.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[name]
	if !ok {
		slot = &txn.Slot{}
		s.slots[name] = slot
	}
	return slot
}

// FormValues returns a copy of the retained input of a form.
func (s *Session) FormValues(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.forms[name]))
	for k, v := range s.forms[name] {
		out[k] = v
	}
	return out
}

// SetFormValues retains input so a re-rendered form keeps it.
func (s *Session) SetFormValues(name string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forms[name] = values
}

// ClearForm drops retained input.
func (s *Session) ClearForm(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.forms, name)
}

// AddFlash queues a toast.
func (s *Session) AddFlash(f Flash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flashes = append(s.flashes, f)
}

// TakeFlashes returns and clears queued toasts.
func (s *Session) TakeFlashes() []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.flashes
	s.flashes = nil
	return out
}

// MarkNotified records that the outcome of an action was shown. It returns
// false when it already was.
func (s *Session) MarkNotified(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notified[id] {
		return false
	}
	s.notified[id] = true
	return true
}

// Store holds sessions in memory. A session expires after ttl without
// requests; every request through Ensure extends it.
type Store struct {
	sessions *expirable.LRU[string, *Session]
	ttl      time.Duration
	secure   bool
	logger   *slog.Logger
}

// NewStore creates a store of at most size sessions.
func NewStore(size int, ttl time.Duration, secure bool, logger *slog.Logger) *Store {
	return &Store{
		sessions: expirable.NewLRU[string, *Session](size, nil, ttl),
		ttl:      ttl,
		secure:   secure,
		logger:   logger,
	}
}

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	return st.sessions.Get(id)
}

// Ensure returns the request's session, creating one when the request has
// none or an expired one. The cookie is (re)issued on every call.
func (st *Store) Ensure(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil {
		if sess, ok := st.sessions.Get(c.Value); ok {
			st.sessions.Add(sess.ID, sess)
			st.setCookie(w, sess.ID, int(st.ttl.Seconds()))
			return sess
		}
	}

	sess := newSession(uuid.NewString())
	st.sessions.Add(sess.ID, sess)
	st.setCookie(w, sess.ID, int(st.ttl.Seconds()))
	st.logger.DebugContext(r.Context(), "session created", "session_id", sess.ID)
	return sess
}

// Login replaces the request's session with a fresh operator session so an
// id issued before login never carries operator rights.
func (st *Store) Login(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil {
		st.sessions.Remove(c.Value)
	}
	sess := newSession(uuid.NewString())
	sess.operator = true
	st.sessions.Add(sess.ID, sess)
	st.setCookie(w, sess.ID, int(st.ttl.Seconds()))
	st.logger.InfoContext(r.Context(), "operator logged in", "session_id", sess.ID)
	return sess
}

// Logout drops the request's session and clears the cookie.
func (st *Store) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(CookieName); err == nil {
		st.sessions.Remove(c.Value)
	}
	st.setCookie(w, "", -1)
}

func (st *Store) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   st.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	return st.sessions.Len()
}

type sessionKey struct{}

// WithSession attaches sess to ctx.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session attached to ctx.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(*Session)
	return sess, ok
}

type accountKey struct{}

// WithAccount attaches the account the request acts as. nil means the
// request is anonymous.
func WithAccount(ctx context.Context, account *common.Address) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

// AccountFrom returns the account attached to ctx, or nil.
func AccountFrom(ctx context.Context) *common.Address {
	account, _ := ctx.Value(accountKey{}).(*common.Address)
	return account
}
