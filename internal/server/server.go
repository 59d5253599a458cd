// Package server provides the browser-facing front end. It establishes
// anonymous sessions, extracts a strongly-typed identity from them, and
// renders the trading engine's string responses verbatim.
package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/paper-trading/internal/engine"
	"github.com/rxtech-lab/paper-trading/internal/logger"
	"github.com/rxtech-lab/paper-trading/internal/store"
)

const (
	sessionCookie = "session_id"

	// sessionMaxAge bounds the lifetime of an entry in the in-memory session
	// table. Expired entries are rejected on lookup and swept at login time,
	// so the table does not grow without bound.
	sessionMaxAge = 12 * time.Hour
)

// Trader is the subset of the trading engine the server drives.
type Trader interface {
	Buy(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error)
	Sell(ctx context.Context, identityKey int64, displayName, rawSymbol string, quantity decimal.Decimal) (string, error)
	Wallet(ctx context.Context, identityKey int64) (string, error)
	MarketReport(ctx context.Context, rawSymbol string) (string, error)
}

// session binds one opaque cookie value to a typed identity.
type session struct {
	IdentityKey int64
	DisplayName string
	CreatedAt   time.Time
}

// Server is the HTTP front end.
type Server struct {
	trader Trader
	store  store.AccountStore
	log    *logger.Logger

	mu       sync.RWMutex
	sessions map[string]session

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server. The account store is used at login time to
// create the account eagerly, the way the original flow greets a new user
// with a funded balance.
func NewServer(trader Trader, accountStore store.AccountStore, log *logger.Logger) *Server {
	s := &Server{
		trader:   trader,
		store:    accountStore,
		log:      log,
		sessions: make(map[string]session),
	}

	router := mux.NewRouter()
	router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/trade", s.handleTrade).Methods(http.MethodPost)
	router.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)
	router.HandleFunc("/price", s.handlePrice).Methods(http.MethodPost)

	s.httpServer = &http.Server{Handler: router}

	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped", zap.Error(err))
		}
	}()

	s.log.Info("server started", zap.String("addr", listener.Addr().String()))

	return nil
}

// Addr returns the bound listen address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleLogin establishes a session. A blank userId gets a generated
// identity key, so anonymous web users and platform-identified users share
// one opaque key space.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)

		return
	}

	displayName := r.PostFormValue("userName")
	if displayName == "" {
		displayName = "WebUser"
	}

	identityKey, err := parseOrGenerateIdentity(r.PostFormValue("userId"))
	if err != nil {
		http.Error(w, "userId must be an integer", http.StatusBadRequest)

		return
	}

	if _, err := s.store.GetOrCreate(r.Context(), identityKey, displayName); err != nil {
		s.log.Error("login failed", zap.Int64("identityKey", identityKey), zap.Error(err))
		http.Error(w, engine.MsgGenericFailure, http.StatusInternalServerError)

		return
	}

	sessionID := uuid.New().String()
	now := time.Now()

	s.mu.Lock()

	for id, sess := range s.sessions {
		if now.Sub(sess.CreatedAt) > sessionMaxAge {
			delete(s.sessions, id)
		}
	}

	s.sessions[sessionID] = session{IdentityKey: identityKey, DisplayName: displayName, CreatedAt: now}
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
	})

	fmt.Fprintf(w, "Welcome %s! Your trading account is ready.", displayName)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		http.Error(w, "not logged in", http.StatusUnauthorized)

		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)

		return
	}

	symbol := r.PostFormValue("symbol")

	quantity, err := decimal.NewFromString(r.PostFormValue("quantity"))
	if err != nil {
		fmt.Fprint(w, engine.MsgInvalidQty)

		return
	}

	var result string

	switch r.PostFormValue("action") {
	case "sell":
		result, err = s.trader.Sell(r.Context(), sess.IdentityKey, sess.DisplayName, symbol, quantity)
	default:
		result, err = s.trader.Buy(r.Context(), sess.IdentityKey, sess.DisplayName, symbol, quantity)
	}

	if err != nil {
		http.Error(w, engine.MsgGenericFailure, http.StatusInternalServerError)

		return
	}

	fmt.Fprint(w, result)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(r)
	if !ok {
		http.Error(w, "not logged in", http.StatusUnauthorized)

		return
	}

	result, err := s.trader.Wallet(r.Context(), sess.IdentityKey)
	if err != nil {
		http.Error(w, engine.MsgGenericFailure, http.StatusInternalServerError)

		return
	}

	fmt.Fprint(w, result)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentSession(r); !ok {
		http.Error(w, "not logged in", http.StatusUnauthorized)

		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form", http.StatusBadRequest)

		return
	}

	result, err := s.trader.MarketReport(r.Context(), r.PostFormValue("symbol"))
	if err != nil {
		http.Error(w, engine.MsgGenericFailure, http.StatusInternalServerError)

		return
	}

	fmt.Fprint(w, result)
}

// currentSession extracts the typed identity bound to the request's cookie.
func (s *Server) currentSession(r *http.Request) (session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return session{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[cookie.Value]
	if !ok || time.Since(sess.CreatedAt) > sessionMaxAge {
		return session{}, false
	}

	return sess, true
}

// parseOrGenerateIdentity parses a user-supplied identity key or generates a
// fresh one for anonymous sessions.
func parseOrGenerateIdentity(raw string) (int64, error) {
	if raw == "" {
		// Take 63 random bits from a v4 uuid so generated web keys live
		// in the same non-negative key space as platform-provided ids.
		u := uuid.New()

		return int64(binary.BigEndian.Uint64(u[:8]) >> 1), nil
	}

	return strconv.ParseInt(raw, 10, 64)
}
