// Package auth keeps user credentials in a JSON document next to the ledger.
//
// Entries are stored as {"hash": "<bcrypt>"}. Documents written by older
// versions hold the password itself as a plain JSON string; those entries
// still authenticate and are replaced by a hash on the first successful
// login.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"finman/internal/core"
	"finman/internal/ledger/jsonfile"
	"finman/internal/log"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type credential struct {
	Hash string `json:"hash"`
}

// Store authenticates users against a credential document.
type Store struct {
	doc    *jsonfile.Document
	cost   int
	logger *log.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithCost sets the bcrypt cost for new hashes.
func WithCost(cost int) Option {
	return func(s *Store) { s.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(log.ComponentAuth) }
}

// NewStore returns a credential store backed by the document at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		doc:    jsonfile.NewDocument(path),
		cost:   bcrypt.DefaultCost,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds username with password. It fails with ErrUserExists when
// the name is taken.
func (s *Store) Register(ctx context.Context, username, password string) error {
	if err := validate(username, password); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	entry, err := json.Marshal(credential{Hash: string(hash)})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	err = s.doc.Update(ctx, func(entries jsonfile.Entries) error {
		if _, ok := entries[username]; ok {
			return ErrUserExists
		}
		entries[username] = entry
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "User registered", log.FieldUser, username)
	return nil
}

// Verify checks password for username. Unknown users and wrong passwords
// both yield ErrInvalidCredentials.
func (s *Store) Verify(ctx context.Context, username, password string) error {
	if err := validate(username, password); err != nil {
		return ErrInvalidCredentials
	}
	entries, err := s.doc.Read(ctx)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	raw, ok := entries[username]
	if !ok {
		return ErrInvalidCredentials
	}

	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		if subtle.ConstantTimeCompare([]byte(legacy), []byte(password)) != 1 {
			return ErrInvalidCredentials
		}
		s.upgrade(ctx, username, password)
		return nil
	}

	var c credential
	if err := json.Unmarshal(raw, &c); err != nil || c.Hash == "" {
		return fmt.Errorf("%w: credential for %q", core.ErrCorruptStore, username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Exists reports whether username is registered.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	entries, err := s.doc.Read(ctx)
	if err != nil {
		return false, err
	}
	_, ok := entries[username]
	return ok, nil
}

// upgrade replaces a legacy cleartext entry with a hash. Failures are
// logged; the login itself already succeeded.
func (s *Store) upgrade(ctx context.Context, username, password string) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		s.logger.LogError(ctx, "Failed to hash legacy credential", err, log.OpLogin, log.NewFields().WithUser(username))
		return
	}
	entry, _ := json.Marshal(credential{Hash: string(hash)})
	err = s.doc.Update(ctx, func(entries jsonfile.Entries) error {
		entries[username] = entry
		return nil
	})
	if err != nil {
		s.logger.LogError(ctx, "Failed to upgrade legacy credential", err, log.OpLogin, log.NewFields().WithUser(username))
		return
	}
	s.logger.InfoContext(ctx, "Legacy credential upgraded", log.FieldUser, username)
}

func validate(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return core.ErrEmptyUser
	}
	if password == "" {
		return fmt.Errorf("%w: empty password", core.ErrValidation)
	}
	return nil
}
