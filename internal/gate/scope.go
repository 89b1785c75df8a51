package gate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nimbase/gate/pkg/models"
	"github.com/nimbase/gate/pkg/scopes"
)

// Enforcer decides whether an authenticated identity may perform an
// operation. Non-MCP keys are checked against their stored scope set;
// MCP tokens additionally satisfy the tier rules encoded in their
// prefix.
type Enforcer struct{}

// NewEnforcer creates an Enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{}
}

// Enforce returns nil when the identity's permissions cover operation,
// and a PERMISSION_DENIED gate error otherwise.
func (e *Enforcer) Enforce(authCtx *AuthContext, operation string) error {
	if !scopes.Known(operation) {
		return &Error{
			Code:    CodePermissionDenied,
			Message: fmt.Sprintf("Unknown operation %q", operation),
		}
	}

	if authCtx.KeyType == models.KeyTypeMCP {
		return e.enforceMCP(authCtx, operation)
	}

	if !slices.Contains(authCtx.Scopes, operation) {
		return &Error{
			Code:    CodePermissionDenied,
			Message: fmt.Sprintf("API key does not have the %q scope", operation),
			Details: map[string]any{
				"required_scope": operation,
				"granted_scopes": authCtx.Scopes,
			},
		}
	}
	return nil
}

// enforceMCP validates the token's stored scope set against the
// canonical set for its tier before evaluating the operation. A
// mismatch is a hard validation failure: it indicates tampered or stale
// scope data and is never silently overridden.
func (e *Enforcer) enforceMCP(authCtx *AuthContext, operation string) error {
	tier, ok := scopes.TierFromPrefix(authCtx.KeyPrefix)
	if !ok {
		return &Error{
			Code:    CodePermissionDenied,
			Message: fmt.Sprintf("MCP token prefix %q does not encode a valid access tier", authCtx.KeyPrefix),
		}
	}

	canonical := scopes.CanonicalScopes(tier)
	missing, unexpected := scopes.Diff(authCtx.Scopes, canonical)
	if len(missing) > 0 || len(unexpected) > 0 {
		return &Error{
			Code:    CodePermissionDenied,
			Message: fmt.Sprintf("MCP token scopes do not match the %s tier", tier),
			Details: map[string]any{
				"tier":              string(tier),
				"missing_scopes":    missing,
				"unexpected_scopes": unexpected,
			},
		}
	}

	class := scopes.ClassOf(operation)
	if !tier.Allows(class) {
		required := scopes.RequiredTiers(class)
		names := make([]string, len(required))
		for i, t := range required {
			names[i] = string(t)
		}
		return &Error{
			Code: CodePermissionDenied,
			Message: fmt.Sprintf("MCP token tier %q cannot perform %s operation %q; requires tier %s",
				tier, class, operation, strings.Join(names, " or ")),
			Details: map[string]any{
				"operation":       operation,
				"operation_class": class.String(),
				"current_tier":    string(tier),
				"required_tiers":  names,
			},
		}
	}
	return nil
}
