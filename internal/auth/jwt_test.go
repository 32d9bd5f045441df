package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"emargement/internal/attendance"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "emargement-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("instructor-1", attendance.RoleInstructor, testIssuer, testKey, 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	require.Equal(t, "instructor-1", claims.Subject)
	require.Equal(t, attendance.Actor{ID: "instructor-1", Role: attendance.RoleInstructor}, claims.Actor())
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := Issue("x", attendance.Role("superuser"), testIssuer, testKey, time.Minute, time.Hour)
	require.Error(t, err)
}

func TestParseRejectsWrongKey(t *testing.T) {
	pair, err := Issue("s1", attendance.RoleStudent, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	require.Error(t, err)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	pair, err := Issue("s1", attendance.RoleStudent, "someone-else", testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	require.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("s1", attendance.RoleStudent, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	require.Error(t, err)
}
