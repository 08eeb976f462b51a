package session

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"haulsync/driver-client/internal/securestore"
	"haulsync/driver-client/pkg/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("no authenticated session")

// Store holds the current user record. With a path and secret it also
// persists the record as a sealed snapshot so a restart keeps the login.
type Store struct {
	mu      sync.RWMutex
	current *models.UserRecord
	path    string
	secret  string
	logger  *slog.Logger
}

func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{logger: logger}
}

func NewPersistentStore(path, secret string, logger *slog.Logger) (*Store, error) {
	s := NewStore(logger)
	s.path = strings.TrimSpace(path)
	s.secret = strings.TrimSpace(secret)
	if s.path == "" {
		return s, nil
	}
	var record models.UserRecord
	err := securestore.ReadSealedJSON(s.path, s.secret, &record)
	switch {
	case err == nil:
		s.current = &record
	case os.IsNotExist(err):
	case errors.Is(err, securestore.ErrPlaintext):
		// Pre-encryption session file; drop it rather than trust it.
		s.logger.Warn("discarding unsealed session file", "path", s.path)
	default:
		return nil, err
	}
	return s, nil
}

// Current returns the logged-in user record, if any.
func (s *Store) Current() (models.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.UserRecord{}, false
	}
	return *s.current, true
}

func (s *Store) Set(record models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := securestore.WriteSealedJSON(s.path, s.secret, record); err != nil {
			return err
		}
	}
	s.current = &record
	return nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	s.current = nil
	return nil
}

// Token returns the current bearer token, failing with ErrUnauthenticated
// when no session exists or the token has visibly expired.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || strings.TrimSpace(s.current.Token) == "" {
		return "", ErrUnauthenticated
	}
	if expired(s.current.Token, time.Now()) {
		return "", ErrUnauthenticated
	}
	return s.current.Token, nil
}

// expired inspects the token's exp claim without verifying the signature;
// verification belongs to the backend. Opaque tokens pass through.
func expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}
