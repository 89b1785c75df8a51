// Package scopes defines the capability vocabulary of the platform: the
// coarse operation strings keys are checked against, the three operation
// classes, and the canonical scope sets for each MCP access tier.
package scopes

import (
	"sort"
	"strings"
)

// Operations understood by the gate.
const (
	DBSelect          = "db:select"
	DBInsert          = "db:insert"
	DBUpdate          = "db:update"
	DBDelete          = "db:delete"
	StorageRead       = "storage:read"
	StorageWrite      = "storage:write"
	AuthRead          = "auth:read"
	AuthManage        = "auth:manage"
	FunctionsInvoke   = "functions:invoke"
	RealtimeSubscribe = "realtime:subscribe"
	RealtimePublish   = "realtime:publish"
)

// Class is the access class of an operation. Admin is a distinct,
// stricter class, not a superset relationship with write.
type Class int

const (
	ClassUnknown Class = iota
	ClassReadOnly
	ClassWrite
	ClassAdmin
)

func (c Class) String() string {
	switch c {
	case ClassReadOnly:
		return "read-only"
	case ClassWrite:
		return "write"
	case ClassAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

var operationClasses = map[string]Class{
	DBSelect:          ClassReadOnly,
	StorageRead:       ClassReadOnly,
	AuthRead:          ClassReadOnly,
	RealtimeSubscribe: ClassReadOnly,

	DBInsert:        ClassWrite,
	DBUpdate:        ClassWrite,
	StorageWrite:    ClassWrite,
	FunctionsInvoke: ClassWrite,

	DBDelete:        ClassAdmin,
	AuthManage:      ClassAdmin,
	RealtimePublish: ClassAdmin,
}

// ClassOf returns the class of an operation, or ClassUnknown for
// operations the gate does not recognize.
func ClassOf(operation string) Class {
	return operationClasses[operation]
}

// Known reports whether operation is part of the gate vocabulary.
func Known(operation string) bool {
	_, ok := operationClasses[operation]
	return ok
}

// MCPTier is the access tier encoded in an MCP token prefix.
type MCPTier string

const (
	TierReadOnly  MCPTier = "ro"
	TierReadWrite MCPTier = "rw"
	TierAdmin     MCPTier = "admin"
)

// mcpPrefixes maps key-prefix markers to tiers. Evaluated in declaration
// order so "mcp_admin_" is tested before the shorter markers.
var mcpPrefixes = []struct {
	prefix string
	tier   MCPTier
}{
	{"mcp_admin_", TierAdmin},
	{"mcp_ro_", TierReadOnly},
	{"mcp_rw_", TierReadWrite},
}

// TierFromPrefix extracts the access tier from an MCP key prefix.
func TierFromPrefix(keyPrefix string) (MCPTier, bool) {
	for _, p := range mcpPrefixes {
		if strings.HasPrefix(keyPrefix, p.prefix) {
			return p.tier, true
		}
	}
	return "", false
}

// Allows reports whether the tier permits operations of the given class.
func (t MCPTier) Allows(c Class) bool {
	switch t {
	case TierReadOnly:
		return c == ClassReadOnly
	case TierReadWrite:
		return c == ClassReadOnly || c == ClassWrite
	case TierAdmin:
		return c == ClassReadOnly || c == ClassWrite || c == ClassAdmin
	default:
		return false
	}
}

// RequiredTiers lists the tiers that would permit operations of the
// given class, used in denial messages so callers can self-correct.
func RequiredTiers(c Class) []MCPTier {
	switch c {
	case ClassReadOnly:
		return []MCPTier{TierReadOnly, TierReadWrite, TierAdmin}
	case ClassWrite:
		return []MCPTier{TierReadWrite, TierAdmin}
	case ClassAdmin:
		return []MCPTier{TierAdmin}
	default:
		return nil
	}
}

// CanonicalScopes returns the exact scope set an MCP token of the given
// tier must carry, sorted. Any drift between a token's stored scopes and
// this set is a validation error.
func CanonicalScopes(t MCPTier) []string {
	var out []string
	for op, class := range operationClasses {
		if t.Allows(class) {
			out = append(out, op)
		}
	}
	sort.Strings(out)
	return out
}

// Diff compares a stored scope set against the canonical set for a tier
// and returns the scopes missing from and unexpected in the stored set.
func Diff(stored []string, canonical []string) (missing, unexpected []string) {
	have := make(map[string]bool, len(stored))
	for _, s := range stored {
		have[s] = true
	}
	want := make(map[string]bool, len(canonical))
	for _, s := range canonical {
		want[s] = true
		if !have[s] {
			missing = append(missing, s)
		}
	}
	for _, s := range stored {
		if !want[s] {
			unexpected = append(unexpected, s)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}
