package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bucknalla/go-gpx-location/location"
)

func testSamples() []location.PositionSample {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return []location.PositionSample{
		{Latitude: 37.7749, Longitude: -122.4194, Timestamp: start},
		{Latitude: 37.7750, Longitude: -122.4193, Timestamp: start.Add(time.Second)},
	}
}

func newTestServer(t *testing.T, mode location.Mode) (*Server, *location.Manager, *httptest.Server) {
	t.Helper()
	cfg := location.DefaultConfig()
	cfg.SecondLength = 0.01
	m, err := location.NewManager(mode, location.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	s := NewServer(m, nil)
	m.SetDelegate(location.Strong(s))

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(cancel)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, m, ts
}

func post(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getStatus(t *testing.T, ts *httptest.Server) Status {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	return st
}

func TestStatusBeforeStart(t *testing.T) {
	_, _, ts := newTestServer(t, location.Locations{Samples: testSamples()})

	st := getStatus(t, ts)
	assert.Equal(t, "2 locations", st.Mode)
	assert.True(t, st.Simulating)
	assert.Equal(t, "authorized_always", st.Authorization)
	require.NotNil(t, st.Playback)
	assert.Equal(t, location.StateIdle, st.Playback.State)
	assert.Equal(t, 2, st.Playback.Total)
	assert.Nil(t, st.Location)
}

func TestStartPlaysTrack(t *testing.T) {
	_, m, ts := newTestServer(t, location.Locations{Samples: testSamples()})

	resp := post(t, ts, "/api/start", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		sim, _ := m.Simulator()
		return sim.Status().Completed
	}, 2*time.Second, 5*time.Millisecond)

	st := getStatus(t, ts)
	require.NotNil(t, st.Location)
	assert.Equal(t, -122.4193, st.Location.Longitude)

	resp = post(t, ts, "/api/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = post(t, ts, "/api/kill", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, location.StateKilled, getStatus(t, ts).Playback.State)
}

func TestMethodNotAllowed(t *testing.T) {
	_, _, ts := newTestServer(t, location.Locations{})
	for _, path := range []string{"/api/start", "/api/stop", "/api/kill", "/api/locations", "/api/config"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "GET %s", path)
	}

	resp := post(t, ts, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp2, err := http.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestReplaceLocations(t *testing.T) {
	_, m, ts := newTestServer(t, location.Locations{Samples: testSamples()})

	resp := post(t, ts, "/api/locations", `[{"latitude": 1, "longitude": 2}, {"latitude": 3, "longitude": 4}, {"latitude": 5, "longitude": 6}]`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sim, _ := m.Simulator()
	assert.Equal(t, 3, sim.Track().Len())

	resp = post(t, ts, "/api/locations", `[{"latitude": 91, "longitude": 0}]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts, "/api/locations", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 3, sim.Track().Len())
}

func TestReplaceLocationsInSensorMode(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	_, _, ts := newTestServer(t, location.Sensor{Source: pr})

	resp := post(t, ts, "/api/locations", `[{"latitude": 1, "longitude": 2}]`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "manager mode is sensor")

	st := getStatus(t, ts)
	assert.False(t, st.Simulating)
	assert.Nil(t, st.Playback)
}

func TestUpdateConfig(t *testing.T) {
	_, m, ts := newTestServer(t, location.Locations{Samples: testSamples()})

	resp := post(t, ts, "/api/config", `{"second_length": 0.5, "distance_filter": 25}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.5, m.SecondLength())
	assert.Equal(t, 25.0, m.DistanceFilter())

	resp = post(t, ts, "/api/config", `{"distance_filter": 5}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.5, m.SecondLength(), "absent fields are unchanged")

	resp = post(t, ts, "/api/config", `{"second_length": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0.5, m.SecondLength())
}

func TestWebSocketStream(t *testing.T) {
	_, m, ts := newTestServer(t, location.Locations{Samples: testSamples()})
	m.StartMonitoring(location.Region{ID: "start", Latitude: 37.7749, Longitude: -122.4194, Radius: 5})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "status", first.Type)

	require.Eventually(t, func() bool {
		s := getStatus(t, ts)
		return s.Clients == 1
	}, time.Second, 5*time.Millisecond)

	post(t, ts, "/api/start", "")

	var types []string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(types) < 4 {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"location", "enter_region", "location", "exit_region"}, types)
}

func TestListenAndServeShutdown(t *testing.T) {
	m, err := location.NewManager(location.Locations{})
	require.NoError(t, err)
	s := NewServer(m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
