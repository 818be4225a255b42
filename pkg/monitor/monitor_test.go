package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PPDLDev/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func get(t *testing.T, h http.Handler, path string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func TestStatusAndSeries(t *testing.T) {
	sink := metrics.NewMemorySink()
	sink.Record(1, 0.5, "accuracy_per_class/class_0")
	sink.Record(2, 0.75, "accuracy_per_class/class_0")
	sink.RecordImage(1, "confusion_matrix", "/tmp/cm.png")
	hs := NewHTTPServer(":0", "run-1", sink, NewHub())
	hs.SetStatus(func(s *Status) {
		s.State = "training"
		s.Epoch = 2
	})

	var st struct {
		Status  Status `json:"status"`
		Clients int    `json:"clients"`
	}
	assert.Equal(t, http.StatusOK, get(t, hs.Router, "/status", &st))
	assert.Equal(t, "run-1", st.Status.RunID)
	assert.Equal(t, "training", st.Status.State)
	assert.Equal(t, 2, st.Status.Epoch)

	var names struct{ Series []string }
	assert.Equal(t, http.StatusOK, get(t, hs.Router, "/series", &names))
	assert.Equal(t, []string{"accuracy_per_class/class_0"}, names.Series)

	var series struct {
		Name   string
		Points []metrics.Point
	}
	q := "/series?name=" + url.QueryEscape("accuracy_per_class/class_0")
	assert.Equal(t, http.StatusOK, get(t, hs.Router, q, &series))
	assert.Equal(t, []metrics.Point{{Step: 1, Value: 0.5}, {Step: 2, Value: 0.75}}, series.Points)

	assert.Equal(t, http.StatusNotFound, get(t, hs.Router, "/series?name=nope", nil))

	var images struct{ Images []metrics.Image }
	assert.Equal(t, http.StatusOK, get(t, hs.Router, "/images", &images))
	assert.Len(t, images.Images, 1)
}

func TestHubStreamsEvents(t *testing.T) {
	hub := NewHub()
	hs := NewHTTPServer(":0", "run-2", metrics.NewMemorySink(), hub)
	ts := httptest.NewServer(hs.Router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	var sink metrics.Sink = hub
	sink.Record(3, 91.5, "accuracy")
	sink.RecordImage(3, "confusion_matrix", "cm.png")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, Event{Type: "scalar", Step: 3, Series: "accuracy", Value: 91.5}, ev)
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "image", ev.Type)
	assert.Equal(t, "cm.png", ev.Path)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestServerAsSink(t *testing.T) {
	mem := metrics.NewMemorySink()
	hs := NewHTTPServer(":0", "run-4", mem, nil)
	var sink metrics.Sink = hs
	sink.Record(0, 2.5, "privacy/epsilon")
	sink.Record(4, 88, "accuracy")
	sink.RecordImage(4, "confusion_matrix", "cm.png")

	st := hs.Status()
	assert.Equal(t, "training", st.State)
	assert.Equal(t, 4, st.Epoch)
	assert.Equal(t, 2.5, st.Epsilon)
	assert.Len(t, mem.Series("accuracy"), 1)
	assert.Len(t, mem.Images(), 1)
}

func TestStartStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	hs := NewHTTPServer(addr, "run-3", metrics.NewMemorySink(), NewHub())
	done := make(chan error, 1)
	go func() { done <- hs.Start() }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, hs.Stop(ctx))
	assert.NoError(t, <-done)
}

func TestIsPrivateIP(t *testing.T) {
	assert.True(t, isPrivateIP(net.ParseIP("192.168.1.7")))
	assert.True(t, isPrivateIP(net.ParseIP("10.3.4.5")))
	assert.False(t, isPrivateIP(net.ParseIP("8.8.8.8")))
	assert.False(t, isPrivateIP(net.ParseIP("::1")))
}
