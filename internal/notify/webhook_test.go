package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook_IPChanged(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	uid := uuid.Must(uuid.NewV4())
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	w := NewWebhook(srv.Client(), srv.URL)

	err := w.IPChanged(context.Background(), IPChange{IdentityID: uid, NewIP: "5.6.7.8", OldIP: "1.2.3.4", At: at})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"identity_id": uid.String(),
		"new_ip":      "5.6.7.8",
		"old_ip":      "1.2.3.4",
		"event":       EventIPChanged,
		"timestamp":   "2025-03-01T10:00:00Z",
	}, got)
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(nil, srv.URL).IPChanged(context.Background(), IPChange{IdentityID: uuid.Must(uuid.NewV4())})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhook_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := NewWebhook(srv.Client(), srv.URL).IPChanged(ctx, IPChange{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
