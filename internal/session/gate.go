// Package session gates access to per-identity local data.
//
// Local-first startup cannot wait for the network, so the gate trusts the
// device-cached identity immediately (the fast path) and verifies it
// against the server in the background. If verification comes back as a
// different user, or the server rejects the session outright, the gate
// flips to rejected and the caller must tear everything down: the store
// handle, the queue, the transports. Data cached for one identity is
// never served to another.
//
// Each identity gets its own storage directory, so switching accounts is
// a teardown plus a reopen rather than a table wipe.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheVisher/Pawkit-sub009/internal/remote"
)

// State is the gate's position in its lifecycle.
type State int

const (
	// StateUninitialized means no identity is cached on this device.
	StateUninitialized State = iota

	// StateFastPathTrusted means a cached identity was loaded and local
	// data may be served, but the server has not confirmed it yet.
	StateFastPathTrusted

	// StateVerifying means a network check is in flight.
	StateVerifying

	// StateVerified means the server confirmed the cached identity.
	StateVerified

	// StateRejected means the server rejected the session or returned a
	// different identity. Local data must not be served.
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFastPathTrusted:
		return "trusted"
	case StateVerifying:
		return "verifying"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrIdentityMismatch is returned when the server session resolves to a
// different user than the one cached on this device.
var ErrIdentityMismatch = errors.New("server identity does not match cached identity")

// ErrNoSession is returned when no identity is cached on this device.
var ErrNoSession = errors.New("no cached session")

// Verifier checks the current session against the server and returns the
// authenticated user id. Implemented by remote.Client.
type Verifier interface {
	VerifySession(ctx context.Context) (string, error)
}

// Config holds gate settings.
type Config struct {
	// Dir is the root data directory. Credentials live in
	// Dir/session.json and each identity's database under Dir/<userID>/.
	Dir string

	// Verifier performs the network identity check.
	Verifier Verifier

	// Logger for gate transitions. Default: stderr logger.
	Logger *log.Logger
}

type credentials struct {
	UserID  string    `json:"userId"`
	Token   string    `json:"token"`
	SavedAt time.Time `json:"savedAt"`
}

// Gate tracks the trust state of the device-cached identity.
type Gate struct {
	dir      string
	verifier Verifier
	logger   *log.Logger

	mu    sync.Mutex
	state State
	creds *credentials
}

// New creates a gate and loads any cached credentials from disk.
func New(config Config) (*Gate, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("verifier cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	g := &Gate{
		dir:      config.Dir,
		verifier: config.Verifier,
		logger:   config.Logger,
		state:    StateUninitialized,
	}

	creds, err := loadCredentials(g.credentialsPath())
	if err != nil {
		return nil, err
	}
	if creds != nil {
		g.creds = creds
		g.state = StateFastPathTrusted
		g.logger.Printf("Loaded cached identity %s (fast path)", creds.UserID)
	}
	return g, nil
}

// State returns the current gate state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// UserID returns the cached user id, or empty when uninitialized.
func (g *Gate) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.creds == nil {
		return ""
	}
	return g.creds.UserID
}

// Token returns the cached session token. It satisfies remote.TokenFunc.
func (g *Gate) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.creds == nil {
		return "", ErrNoSession
	}
	if g.state == StateRejected {
		return "", remote.ErrUnauthorized
	}
	return g.creds.Token, nil
}

// DatabasePath returns the storage path for the cached identity's
// database. Fails when no identity is cached.
func (g *Gate) DatabasePath() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.creds == nil {
		return "", ErrNoSession
	}
	return filepath.Join(g.dir, g.creds.UserID, "pawkit.db"), nil
}

// Verify checks the cached identity against the server.
//
// Transient failures leave the fast-path trust in place: offline startup
// keeps working on cached data. An auth rejection or an identity
// mismatch moves the gate to rejected, and the caller must stop serving
// local data immediately.
func (g *Gate) Verify(ctx context.Context) error {
	g.mu.Lock()
	if g.creds == nil {
		g.mu.Unlock()
		return ErrNoSession
	}
	cachedID := g.creds.UserID
	prev := g.state
	g.state = StateVerifying
	g.mu.Unlock()

	serverID, err := g.verifier.VerifySession(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case err == nil && serverID == cachedID:
		g.state = StateVerified
		g.logger.Printf("Identity %s verified", cachedID)
		return nil

	case err == nil:
		g.state = StateRejected
		g.logger.Printf("Identity mismatch: cached %s, server %s", cachedID, serverID)
		return ErrIdentityMismatch

	case errors.Is(err, remote.ErrUnauthorized):
		g.state = StateRejected
		g.logger.Printf("Session rejected for %s", cachedID)
		return err

	default:
		// Network trouble is not a verdict. Stay where we were.
		g.state = prev
		g.logger.Printf("Warning: identity check failed transiently: %v", err)
		return err
	}
}

// SignIn stores a fresh identity and token after a successful login and
// marks the gate verified.
func (g *Gate) SignIn(userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("userID and token cannot be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	creds := &credentials{UserID: userID, Token: token, SavedAt: time.Now()}
	if err := saveCredentials(g.credentialsPath(), creds); err != nil {
		return err
	}
	g.creds = creds
	g.state = StateVerified
	g.logger.Printf("Signed in as %s", userID)
	return nil
}

// SignOut clears the cached credentials and removes the identity's local
// database files. The caller must close the store before calling this.
func (g *Gate) SignOut() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.creds == nil {
		return nil
	}
	userID := g.creds.UserID

	if err := os.Remove(g.credentialsPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	if err := removeIdentityData(filepath.Join(g.dir, userID)); err != nil {
		return err
	}

	g.creds = nil
	g.state = StateUninitialized
	g.logger.Printf("Signed out %s and removed local data", userID)
	return nil
}

func (g *Gate) credentialsPath() string {
	return filepath.Join(g.dir, "session.json")
}

func loadCredentials(path string) (*credentials, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	if creds.UserID == "" || creds.Token == "" {
		return nil, nil
	}
	return &creds, nil
}

func saveCredentials(path string, creds *credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// removeIdentityData deletes the identity directory, which holds the
// database plus its WAL and shared-memory sidecars.
func removeIdentityData(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove identity data: %w", err)
	}
	return nil
}
