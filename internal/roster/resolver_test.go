package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := NewStatic(map[string][]string{"go-101": {"s1", "s2"}})
	ctx := context.Background()

	ids, err := r.ExpectedParticipants(ctx, "go-101")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, ids)

	_, err = r.ExpectedParticipants(ctx, "missing")
	require.ErrorIs(t, err, ErrUnknownCourse)

	r.Set("go-102", []string{"s3"})
	ids, err = r.ExpectedParticipants(ctx, "go-102")
	require.NoError(t, err)
	require.Equal(t, []string{"s3"}, ids)
}

func TestStaticReturnsCopy(t *testing.T) {
	r := NewStatic(map[string][]string{"go-101": {"s1", "s2"}})

	ids, err := r.ExpectedParticipants(context.Background(), "go-101")
	require.NoError(t, err)
	ids[0] = "mutated"

	again, err := r.ExpectedParticipants(context.Background(), "go-101")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, again)
}

func TestClientFetchesEnrollments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/courses/go-101/enrollments":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"student_ids":["s1","s2","s3"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, false, nil)
	ids, err := c.ExpectedParticipants(context.Background(), "go-101")
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2", "s3"}, ids)

	_, err = c.ExpectedParticipants(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownCourse)
}

func TestClientSkipMode(t *testing.T) {
	c := NewClient("http://unreachable.invalid", true, []string{"s1"})

	ids, err := c.ExpectedParticipants(context.Background(), "anything")
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, ids)
	require.NoError(t, c.Health(context.Background()))
}
