package session_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nimbase/gate/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *session.Service {
	return session.NewService("access-secret", "refresh-secret", time.Hour, 720*time.Hour)
}

func TestIssueAndVerify(t *testing.T) {
	svc := newService()
	developerID := uuid.New()

	token, err := svc.Issue(developerID, nil)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, developerID.String(), claims.DeveloperID)
	assert.Equal(t, developerID.String(), claims.Subject)
	assert.Equal(t, "nimbase-gate", claims.Issuer)
	assert.Empty(t, claims.ProjectID)
}

func TestIssue_ProjectBound(t *testing.T) {
	svc := newService()
	developerID := uuid.New()
	projectID := uuid.New()

	token, err := svc.Issue(developerID, &projectID)
	require.NoError(t, err)

	claims, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, projectID.String(), claims.ProjectID)
}

func TestIssue_NilDeveloperRejected(t *testing.T) {
	svc := newService()

	_, err := svc.Issue(uuid.Nil, nil)
	assert.Error(t, err)

	_, err = svc.IssueRefresh(uuid.Nil)
	assert.Error(t, err)
}

func TestVerify_WrongSecret(t *testing.T) {
	token, err := newService().Issue(uuid.New(), nil)
	require.NoError(t, err)

	other := session.NewService("different-secret", "refresh-secret", time.Hour, time.Hour)
	_, err = other.Verify(token)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	svc := newService()

	for _, tok := range []string{"", "not.a.jwt", "a.b"} {
		_, err := svc.Verify(tok)
		assert.ErrorIs(t, err, session.ErrInvalidToken, tok)
	}
}

func TestVerify_Expired(t *testing.T) {
	svc := session.NewService("access-secret", "refresh-secret", -time.Minute, time.Hour)

	token, err := svc.Issue(uuid.New(), nil)
	require.NoError(t, err)

	_, err = svc.Verify(token)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestVerifyRefresh(t *testing.T) {
	svc := newService()
	developerID := uuid.New()

	token, err := svc.IssueRefresh(developerID)
	require.NoError(t, err)

	claims, err := svc.VerifyRefresh(token)
	require.NoError(t, err)
	assert.Equal(t, developerID.String(), claims.DeveloperID)
	assert.Equal(t, "refresh", claims.TokenType)
}

func TestVerifyRefresh_RejectsAccessToken(t *testing.T) {
	svc := newService()

	access, err := svc.Issue(uuid.New(), nil)
	require.NoError(t, err)

	_, err = svc.VerifyRefresh(access)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}

func TestVerify_RejectsRefreshToken(t *testing.T) {
	svc := newService()

	refresh, err := svc.IssueRefresh(uuid.New())
	require.NoError(t, err)

	// Refresh tokens are signed with a different secret; they must never
	// pass as access tokens.
	_, err = svc.Verify(refresh)
	assert.ErrorIs(t, err, session.ErrInvalidToken)
}
