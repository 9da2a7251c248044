package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Route(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/route", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stops":["p-2","p-1"],"score":0.87}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, 0)
	route, err := c.Route(context.Background(), Request{
		InstanceID: "inst-1",
		VehicleID:  "van-1",
		Stops:      []Stop{{ParticipantID: "p-1", Address: "1 Main St"}, {ParticipantID: "p-2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-2", "p-1"}, route.Stops)
	assert.InDelta(t, 0.87, route.Score, 1e-9)
	assert.Equal(t, "van-1", got.VehicleID)
	assert.Len(t, got.Stops, 2)
}

func TestClient_RouteTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, 50*time.Millisecond, 10)
	start := time.Now()
	_, err := c.Route(context.Background(), Request{InstanceID: "inst-1"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_RouteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "geocoder down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second, 5).Route(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Route(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoProvider)
}
