package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fallguard/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testNotification() models.FallNotification {
	accuracy := 12.5
	return models.FallNotification{
		FallDetected: true,
		Timestamp:    "2023-11-14T22:13:20.000Z",
		Location: models.NotificationLocation{
			Latitude:  13.7563,
			Longitude: 100.5018,
			Accuracy:  &accuracy,
		},
		GmapLink: testMapLink,
		UserData: models.UserRef{"userId": "u-42"},
	}
}

func TestHTTPNotifier_PostsNotification(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	n := NewHTTPNotifier(zap.NewNop(), server.URL, time.Second)
	require.NoError(t, n.Notify(context.Background(), testNotification()))

	assert.Equal(t, true, body["fallDetected"])
	assert.Equal(t, "2023-11-14T22:13:20.000Z", body["timestamp"])
	assert.Equal(t, testMapLink, body["gmap_link"])
	assert.Equal(t, map[string]any{"userId": "u-42"}, body["userData"])

	location, ok := body["location"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 13.7563, location["latitude"])
	assert.Equal(t, 100.5018, location["longitude"])
	assert.Equal(t, 12.5, location["accuracy"])
}

func TestHTTPNotifier_ErrorStatus(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewHTTPNotifier(zap.NewNop(), server.URL, time.Second)
	err := n.Notify(context.Background(), testNotification())

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPNotifier_MissingEndpoint(t *testing.T) {
	n := NewHTTPNotifier(zap.NewNop(), "", time.Second)
	assert.Error(t, n.Notify(context.Background(), testNotification()))
}

func TestHTTPNotifier_RespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n := NewHTTPNotifier(zap.NewNop(), server.URL, 5*time.Second)
	assert.Error(t, n.Notify(ctx, testNotification()))
}
