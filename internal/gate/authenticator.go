// Package gate implements the synchronous checks every request passes
// through before reaching a business handler: credential authentication,
// project lifecycle gating, and scope enforcement. The three checks run
// in strict sequence; the ordering is a contract, not an optimization.
package gate

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/store"
	"github.com/nimbase/gate/internal/task"
	"github.com/nimbase/gate/pkg/models"
	"golang.org/x/crypto/blake2b"
)

// AuthContext is the validated identity a request carries through the
// rest of the gate.
type AuthContext struct {
	KeyID       uuid.UUID
	ProjectID   uuid.UUID
	DeveloperID uuid.UUID
	KeyType     models.KeyType
	KeyPrefix   string
	Scopes      []string
	Environment models.Environment
}

// IsMCP reports whether the credential is an AI-tool (MCP) token, which
// carries heavier auditing requirements.
func (a *AuthContext) IsMCP() bool {
	return a.KeyType == models.KeyTypeMCP
}

// HashKey computes the deterministic one-way digest stored for a raw
// API key. BLAKE2b-256 keeps lookup by digest equality cheap while
// remaining one-way.
func HashKey(raw string) string {
	sum := blake2b.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticator turns raw credentials into validated auth contexts.
type Authenticator struct {
	store  store.Store
	tasks  *task.Runner
	logger *slog.Logger
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(s store.Store, tasks *task.Runner, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{store: s, tasks: tasks, logger: logger, now: time.Now}
}

// Authenticate validates a raw credential and returns the identity it
// represents. Missing, revoked, and expired keys all fail with
// KEY_INVALID. On success a detached task bumps last_used and
// usage_count; the caller never waits for it.
func (a *Authenticator) Authenticate(ctx context.Context, rawCredential string) (*AuthContext, error) {
	if rawCredential == "" {
		return nil, keyInvalid()
	}

	digest := HashKey(rawCredential)

	key, err := a.store.GetAPIKeyByHash(ctx, digest)
	if err == store.ErrNotFound {
		return nil, keyInvalid()
	}
	if err != nil {
		a.logger.Error("api key lookup failed", "error", err)
		return nil, internalError("Failed to validate API key")
	}

	// The lookup already matched on digest equality; recheck in constant
	// time so the final comparison leaks no timing information.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(digest)) != 1 {
		return nil, keyInvalid()
	}

	if key.Status == models.KeyStatusRevoked {
		return nil, keyInvalid()
	}
	if key.IsExpired(a.now()) {
		return nil, keyInvalid()
	}

	keyID := key.ID
	touch := func(ctx context.Context) {
		if err := a.store.TouchAPIKey(ctx, keyID); err != nil {
			a.logger.Error("api key usage bump failed", "key_id", keyID, "error", err)
		}
	}
	if a.tasks != nil {
		a.tasks.TrySubmit("key-touch", touch)
	} else {
		touch(ctx)
	}

	return &AuthContext{
		KeyID:       key.ID,
		ProjectID:   key.ProjectID,
		DeveloperID: key.DeveloperID,
		KeyType:     key.KeyType,
		KeyPrefix:   key.KeyPrefix,
		Scopes:      key.Scopes,
		Environment: key.Environment,
	}, nil
}
