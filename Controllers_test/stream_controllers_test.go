package Controllers_test

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/table-order/kds"
)

// readEvents streams "event:" names from an SSE body until it closes.
func readEvents(body io.Reader) <-chan string {
	out := make(chan string, 16)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event:"); ok {
				out <- strings.TrimSpace(name)
			}
		}
	}()
	return out
}

func waitEvent(t *testing.T, events <-chan string, want string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case name, ok := <-events:
			require.True(t, ok, "stream closed before %q", want)
			if name == want {
				return
			}
		case <-timeout:
			t.Fatalf("no %q event within timeout", want)
		}
	}
}

func TestAdminStreamSendsSnapshotThenEvents(t *testing.T) {
	app := newTestApp(t)
	table := app.seedTable(t, "T1")
	p := app.seedProduct(t, "Tea", 1, 10)
	token := app.openSession(t, table)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/orders/stream?token="+url.QueryEscape(app.adminToken(t)), nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := readEvents(resp.Body)
	waitEvent(t, events, kds.EventSnapshot)
	require.Eventually(t, func() bool { return app.Hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	app.placeOrder(t, token, p.ID, 1)
	waitEvent(t, events, kds.EventOrderCreate)
}

func TestAdminStreamRequiresAuth(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/admin/orders/stream", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminWebSocketReceivesSnapshot(t *testing.T) {
	app := newTestApp(t)

	srv := httptest.NewServer(app.Router)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/admin/orders/ws?token=" + url.QueryEscape(app.adminToken(t))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var first, second kds.Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, kds.EventConnected, first.Event)
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, kds.EventSnapshot, second.Event)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	table := app.seedTable(t, "T2")
	p := app.seedProduct(t, "Tea", 1, 10)
	app.placeOrder(t, app.openSession(t, table), p.ID, 1)

	w := app.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "tableorder_sessions_opened_total")
	assert.Contains(t, body, "tableorder_orders_created_total")

	w = app.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
