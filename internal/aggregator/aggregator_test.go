// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package aggregator

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/civbridge/internal/logging"
	"github.com/Thermoquad/civbridge/internal/metrics"
	"github.com/Thermoquad/civbridge/internal/recorder"
	"github.com/Thermoquad/civbridge/pkg/status"
)

type fakeRecorder struct {
	mu       sync.Mutex
	dir      string
	active   bool
	name     string
	hz       int64
	channels int
	rate     int
	files    []recorder.FileInfo
}

func newFakeRecorder(dir string) *fakeRecorder {
	return &fakeRecorder{dir: dir, channels: 1, rate: 44100}
}

func (f *fakeRecorder) Start(name string, hz int64) (recorder.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return recorder.Status{}, recorder.ErrAlreadyRecording
	}
	f.active = true
	f.name = name
	f.hz = hz
	return f.statusLocked(), nil
}

func (f *fakeRecorder) Stop() (recorder.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return recorder.Status{}, recorder.ErrNotRecording
	}
	f.active = false
	return f.statusLocked(), nil
}

func (f *fakeRecorder) Status() recorder.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

func (f *fakeRecorder) statusLocked() recorder.Status {
	st := recorder.Status{Active: f.active, SampleRate: f.rate, Channels: f.channels}
	if f.active {
		st.Elapsed = 3 * time.Second
	}
	return st
}

func (f *fakeRecorder) SetChannels(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n != 1 && n != 2 {
		return recorder.ErrInvalidSettings
	}
	f.channels = n
	return nil
}

func (f *fakeRecorder) SetSampleRate(rate int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rate <= 0 {
		return recorder.ErrInvalidSettings
	}
	f.rate = rate
	return nil
}

func (f *fakeRecorder) label() (string, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, f.hz
}

func (f *fakeRecorder) settings() (channels, rate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, f.rate
}

func (f *fakeRecorder) List() ([]recorder.FileInfo, error) { return f.files, nil }
func (f *fakeRecorder) Count() int                         { return len(f.files) }
func (f *fakeRecorder) Interface(context.Context) string   { return "USB Audio CODEC" }
func (f *fakeRecorder) Dir() string                        { return f.dir }

type fakeHost struct{}

func (fakeHost) FreeGiB(string) float64 { return 12.5 }
func (fakeHost) CPULoad() int           { return 7 }
func (fakeHost) RAMUsage() int          { return 42 }
func (fakeHost) IPAddress() string      { return "192.168.1.20" }

var fixedTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *Store, *fakeRecorder) {
	t.Helper()
	store := NewStore()
	rec := newFakeRecorder(t.TempDir())
	base := []ServiceOption{
		WithLogger(logging.Discard()),
		WithHostInfo(fakeHost{}),
		WithClock(func() time.Time { return fixedTime }),
	}
	return NewService(store, rec, append(base, opts...)...), store, rec
}

func merge(t *testing.T, store *Store, segment string) {
	t.Helper()
	_, err := store.Merge([]byte(segment))
	require.NoError(t, err)
}

// ============================================================================
// Store
// ============================================================================

func TestStore_Merge(t *testing.T) {
	store := NewStore()
	assert.True(t, store.Updated().IsZero())

	merge(t, store, `{"name":"IC-705"}`)
	merge(t, store, `{"frequency":7050000}`)
	merge(t, store, `{"mode":"USB"}`)

	assert.Equal(t, status.DeviceState{Name: "IC-705", Frequency: 7050000, Mode: "USB"}, store.Snapshot())
	assert.False(t, store.Updated().IsZero())

	_, err := store.Merge([]byte(`{"frequency":`))
	assert.Error(t, err)
	assert.Equal(t, int64(7050000), store.Snapshot().Frequency, "failed merge leaves state unchanged")
}

// ============================================================================
// Status socket
// ============================================================================

func startServer(t *testing.T, store *Store) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(store, WithServerLogger(logging.Discard()), WithReadTimeout(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	return ln.Addr().String(), func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	}
}

func TestServer_MergesSegments(t *testing.T) {
	store := NewStore()
	addr, stop := startServer(t, store)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	stream := `{"name":"IC-705"}` + "\xfd" + `{"freq` + "|" + `uency":7050000}` + "\xfd" +
		`not json` + "\xfd" + `{"mode":"USB"}` + "\xfd"
	for _, part := range strings.Split(stream, "|") {
		_, err := conn.Write([]byte(part))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	want := status.DeviceState{Name: "IC-705", Frequency: 7050000, Mode: "USB"}
	assert.Eventually(t, func() bool { return store.Snapshot() == want },
		time.Second, 5*time.Millisecond)
}

func TestServer_NotFoundKeepsState(t *testing.T) {
	store := NewStore()
	merge(t, store, `{"name":"IC-705","frequency":14074000,"mode":"USB"}`)
	addr, stop := startServer(t, store)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"transceiver":"not found"}` + "\xfd" + `{"frequency":14074500}` + "\xfd"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return store.Snapshot().Frequency == 14074500 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "IC-705", store.Snapshot().Name)
}

func TestServer_MultipleBridges(t *testing.T) {
	store := NewStore()
	addr, stop := startServer(t, store)
	defer stop()

	a, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer a.Close()
	b, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Write([]byte(`{"name":"IC-7300"}` + "\xfd"))
	require.NoError(t, err)
	_, err = b.Write([]byte(`{"mode":"CW"}` + "\xfd"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := store.Snapshot()
		return st.Name == "IC-7300" && st.Mode == "CW"
	}, time.Second, 5*time.Millisecond)
}

func TestServer_StopsWithOpenConnection(t *testing.T) {
	addr, stop := startServer(t, NewStore())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	stop()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server closes bridge connections on shutdown")
}

// ============================================================================
// HTTP
// ============================================================================

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func send(t *testing.T, method, url, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestService_Status(t *testing.T) {
	svc, store, _ := newTestService(t, WithHTTPPort("8080"))
	merge(t, store, `{"name":"IC-705","frequency":7050000,"mode":"LSB"}`)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	var ds DeviceStatus
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &ds))

	assert.Equal(t, DeviceStatus{
		Recordings:          0,
		Audio:               "USB Audio CODEC",
		RecordingSampleRate: 44100,
		RecordingChannels:   1,
		DiskSpace:           12.5,
		Time:                "14:07:09",
		Transceiver:         "IC-705",
		Frequency:           7050000,
		Mode:                "LSB",
		IP:                  "http://192.168.1.20:8080",
		CPULoad:             7,
		RAMUsage:            42,
	}, ds)
}

func TestService_RecordingLifecycle(t *testing.T) {
	svc, store, rec := newTestService(t)
	merge(t, store, `{"name":"IC-705","frequency":14074000}`)

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusConflict, send(t, http.MethodPost, srv.URL+"/api/recording/stop", ""))
	assert.Equal(t, http.StatusOK, send(t, http.MethodPost, srv.URL+"/api/recording/start", ""))
	assert.Equal(t, http.StatusConflict, send(t, http.MethodPost, srv.URL+"/api/recording/start", ""))

	name, hz := rec.label()
	assert.Equal(t, "IC-705", name)
	assert.Equal(t, int64(14074000), hz)

	var ds DeviceStatus
	getJSON(t, srv.URL+"/api/status", &ds)
	assert.True(t, ds.RecordingActive)
	assert.Equal(t, 3.0, ds.RecordingTime)

	assert.Equal(t, http.StatusOK, send(t, http.MethodPost, srv.URL+"/api/recording/stop", ""))
	getJSON(t, srv.URL+"/api/status", &ds)
	assert.False(t, ds.RecordingActive)
	assert.Zero(t, ds.RecordingTime)
}

func TestService_Settings(t *testing.T) {
	svc, _, rec := newTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	url := srv.URL + "/api/recording/settings"
	assert.Equal(t, http.StatusOK, send(t, http.MethodPut, url, `{"channels":2,"sample_rate":48000}`))
	channels, rate := rec.settings()
	assert.Equal(t, 2, channels)
	assert.Equal(t, 48000, rate)

	assert.Equal(t, http.StatusBadRequest, send(t, http.MethodPut, url, `{"channels":3}`))
	assert.Equal(t, http.StatusBadRequest, send(t, http.MethodPut, url, `{`))
	channels, _ = rec.settings()
	assert.Equal(t, 2, channels)
}

func TestService_Recordings(t *testing.T) {
	svc, _, rec := newTestService(t)
	rec.files = []recorder.FileInfo{{Name: "IC-705_20240305_140709Z_7050kHz_AF.wav", Size: 44}}
	require.NoError(t, os.WriteFile(filepath.Join(rec.dir, rec.files[0].Name), []byte("RIFF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rec.dir, "notes.txt"), []byte("x"), 0o644))

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	var files []recorder.FileInfo
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/recordings", &files))
	require.Len(t, files, 1)
	assert.Equal(t, rec.files[0].Name, files[0].Name)

	resp, err := http.Get(srv.URL + "/recordings/" + rec.files[0].Name)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RIFF", string(body))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/recordings/notes.txt", nil))
}

func TestService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	svc, _, _ := newTestService(t, WithMetrics(m, reg))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "civbridge_")
}

func TestService_NoMetricsRoute(t *testing.T) {
	svc, _, _ := newTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/metrics", nil))
}

// ============================================================================
// Websocket
// ============================================================================

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readStatus(t *testing.T, conn *websocket.Conn) DeviceStatus {
	t.Helper()
	msg := readMessage(t, conn)
	require.Equal(t, MsgDeviceStatus, msg.Type)
	var ds DeviceStatus
	require.NoError(t, json.Unmarshal(msg.Data, &ds))
	return ds
}

func command(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	msg, err := NewMessage(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func TestWebSocket_PushesStatus(t *testing.T) {
	svc, store, _ := newTestService(t, WithStatusInterval(10*time.Millisecond))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	first := readStatus(t, conn)
	assert.Empty(t, first.Transceiver)

	merge(t, store, `{"name":"IC-9700","frequency":144300000}`)

	var ds DeviceStatus
	for range 50 {
		ds = readStatus(t, conn)
		if ds.Transceiver != "" {
			break
		}
	}
	assert.Equal(t, "IC-9700", ds.Transceiver)
	assert.Equal(t, int64(144300000), ds.Frequency)
}

func TestWebSocket_Commands(t *testing.T) {
	svc, _, rec := newTestService(t, WithStatusInterval(time.Hour))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	readStatus(t, conn)

	command(t, conn, MsgRecordStart, nil)
	assert.True(t, readStatus(t, conn).RecordingActive)

	command(t, conn, MsgRecordStart, nil)
	assert.True(t, readStatus(t, conn).RecordingActive, "second start is ignored")

	command(t, conn, MsgSetModeStereo, nil)
	assert.Equal(t, 2, readStatus(t, conn).RecordingChannels)

	command(t, conn, MsgSetModeMono, nil)
	assert.Equal(t, 1, readStatus(t, conn).RecordingChannels)

	command(t, conn, MsgSetSampleRate, 22050)
	assert.Equal(t, 22050, readStatus(t, conn).RecordingSampleRate)

	command(t, conn, MsgRecordStop, nil)
	assert.False(t, readStatus(t, conn).RecordingActive)

	command(t, conn, MsgRecordStop, nil)
	assert.False(t, readStatus(t, conn).RecordingActive, "second stop is ignored")

	_, rate := rec.settings()
	assert.Equal(t, 22050, rate)
}

func TestWebSocket_CommandErrors(t *testing.T) {
	svc, _, _ := newTestService(t, WithStatusInterval(time.Hour))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	conn := dialWS(t, srv)
	readStatus(t, conn)

	command(t, conn, MsgSetSampleRate, "fast")
	msg := readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)

	command(t, conn, MsgSetSampleRate, -1)
	msg = readMessage(t, conn)
	assert.Equal(t, MsgError, msg.Type)

	command(t, conn, "reboot", nil)
	msg = readMessage(t, conn)
	require.Equal(t, MsgError, msg.Type)
	var text string
	require.NoError(t, json.Unmarshal(msg.Data, &text))
	assert.Contains(t, text, "reboot")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	command(t, conn, MsgSetModeStereo, nil)
	assert.Equal(t, 2, readStatus(t, conn).RecordingChannels, "malformed frames are skipped")
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(MsgRecordStop, nil)
	require.NoError(t, err)
	assert.Nil(t, msg.Data)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"record_stop"}`, string(data))

	msg, err = NewMessage(MsgSetSampleRate, 48000)
	require.NoError(t, err)
	assert.Equal(t, "48000", string(msg.Data))
}

// ============================================================================
// Client
// ============================================================================

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestClient_StatusAndCommands(t *testing.T) {
	svc, store, _ := newTestService(t, WithStatusInterval(time.Hour))
	merge(t, store, `{"name":"IC-705","frequency":7050000,"mode":"USB"}`)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), ClientOptions{Username: "op", Password: "secret"})
	require.NoError(t, err)
	defer c.Close()

	msg, err := c.Next()
	require.NoError(t, err)
	ds, err := DecodeStatus(msg)
	require.NoError(t, err)
	assert.Equal(t, "IC-705", ds.Transceiver)
	assert.Equal(t, "USB", ds.Mode)

	require.NoError(t, c.Send(MsgSetSampleRate, 0))
	msg, err = c.Next()
	require.NoError(t, err)
	assert.Equal(t, MsgError, msg.Type)
	assert.Contains(t, DecodeError(msg), "invalid recording settings")

	_, err = DecodeStatus(msg)
	assert.Error(t, err)
}

func TestClient_Close(t *testing.T) {
	svc, _, _ := newTestService(t, WithStatusInterval(time.Hour))
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), ClientOptions{})
	require.NoError(t, err)
	_, err = c.Next()
	require.NoError(t, err)

	require.NoError(t, c.Close())
	_, err = c.Next()
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.ErrorIs(t, c.Send(MsgRecordStop, nil), ErrConnectionClosed)
}

func TestDial_RejectsScheme(t *testing.T) {
	_, err := Dial(context.Background(), "http://localhost:8000/ws", ClientOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

func TestSystemHost_CPULoadSampledOnce(t *testing.T) {
	now := fixedTime
	reads := 0
	h := &SystemHost{
		now: func() time.Time { return now },
		readCPU: func() int {
			reads++
			return 10 * reads
		},
	}

	// Concurrent status pushes within one window share the sample
	for i := 0; i < 5; i++ {
		assert.Equal(t, 10, h.CPULoad())
	}
	assert.Equal(t, 1, reads)

	now = now.Add(500 * time.Millisecond)
	assert.Equal(t, 10, h.CPULoad())

	now = now.Add(cpuRefresh)
	assert.Equal(t, 20, h.CPULoad())
	assert.Equal(t, 2, reads)
}
