package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"emargement/internal/attendance"
	"emargement/internal/roster"
)

var (
	instructor = attendance.Actor{ID: "instructor-1", Role: attendance.RoleInstructor}
	admin      = attendance.Actor{ID: "admin-1", Role: attendance.RoleAdmin}
	studentS1  = attendance.Actor{ID: "s1", Role: attendance.RoleStudent}
)

// pendingSession drives a one-student session all the way to
// PendingValidation against the in-memory store.
func pendingSession(t *testing.T) (*attendance.Service, string) {
	t.Helper()
	resolver := roster.NewStatic(map[string][]string{"c1": {"s1"}})
	svc := attendance.NewService(attendance.NewMemStore(), resolver, attendance.NewTokenService(time.Hour), nil, nil)
	ctx := context.Background()

	sess, err := svc.Create(ctx, instructor, attendance.CreateInput{CourseID: "c1"})
	require.NoError(t, err)
	opened, err := svc.Open(ctx, sess.ID, instructor)
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, sess.ID, studentS1, opened.Token.Code, nil, "")
	require.NoError(t, err)
	_, err = svc.SignInstructor(ctx, sess.ID, instructor, []byte("sig-i"), "")
	require.NoError(t, err)
	_, err = svc.SubmitToAdmin(ctx, sess.ID, instructor)
	require.NoError(t, err)
	return svc, sess.ID
}

func TestCanValidate(t *testing.T) {
	gate := NewGate(nil, NewMemCredentials())
	require.True(t, gate.CanValidate(attendance.Session{State: attendance.StatePendingValidation}))
	require.False(t, gate.CanValidate(attendance.Session{State: attendance.StateOpen}))
	require.False(t, gate.CanValidate(attendance.Session{State: attendance.StateValidated}))
}

func TestValidateWithFreshSignature(t *testing.T) {
	svc, sessionID := pendingSession(t)
	gate := NewGate(svc, NewMemCredentials())

	sess, err := gate.Validate(context.Background(), sessionID, admin, true, []byte("drawn"))
	require.NoError(t, err)
	require.Equal(t, attendance.StateValidated, sess.State)
	require.Equal(t, admin.ID, sess.ValidatedBy)
}

func TestValidateWithStoredCredential(t *testing.T) {
	svc, sessionID := pendingSession(t)
	creds := NewMemCredentials()
	gate := NewGate(svc, creds)
	ctx := context.Background()

	// No enrolled credential yet.
	_, err := gate.Validate(ctx, sessionID, admin, false, nil)
	require.ErrorIs(t, err, ErrNoStoredSignature)

	require.NoError(t, gate.Enroll(ctx, admin.ID, []byte("enrolled")))

	sess, err := gate.Validate(ctx, sessionID, admin, false, nil)
	require.NoError(t, err)
	require.Equal(t, attendance.StateValidated, sess.State)
}

func TestEnrollRequiresImage(t *testing.T) {
	gate := NewGate(nil, NewMemCredentials())
	require.Error(t, gate.Enroll(context.Background(), admin.ID, nil))
}

func TestMemCredentialsRoundTrip(t *testing.T) {
	creds := NewMemCredentials()
	ctx := context.Background()

	blob, err := creds.Get(ctx, "admin-1")
	require.NoError(t, err)
	require.Empty(t, blob)

	require.NoError(t, creds.Put(ctx, "admin-1", []byte("first")))
	require.NoError(t, creds.Put(ctx, "admin-1", []byte("second")))

	blob, err = creds.Get(ctx, "admin-1")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), blob)
}
