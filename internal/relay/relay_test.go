package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"quoteflow/internal/book"
	"quoteflow/models"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"0.0.0.0:80":                 "0.0.0.0:80",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://10.0.0.5:8080":       "10.0.0.5:8080",
		"https://10.0.0.5":           "10.0.0.5:8080",
		"http://:7070":               "0.0.0.0:7070",
		"tcp://localhost:5050":       "localhost:5050",
		"https://relay.example.com/": "relay.example.com:8080",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func testServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv, err := NewServer(":0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	hub.Routes(srv.Router())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func update(symbol string, id int64) book.Update {
	return book.Update{
		Kind: book.KindTopOfBook,
		Snapshot: models.BookSnapshot{
			TopOfBook: models.TopOfBook{
				Symbol:   symbol,
				BestBid:  models.PriceLevel{Price: decimal.RequireFromString("0.1"), Quantity: decimal.NewFromInt(3)},
				BestAsk:  models.PriceLevel{Price: decimal.RequireFromString("0.2"), Quantity: decimal.NewFromInt(4)},
				UpdateID: id,
			},
			Depth: models.DepthSnapshot{Symbol: symbol, LastUpdateID: 7},
		},
	}
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubPushesOnUpdate(t *testing.T) {
	hub := NewHub(4, time.Second)
	ts := testServer(t, hub)
	conn := dial(t, ts, "")
	waitClients(t, hub, 1)

	state := book.NewState("DOGEUSDT")
	state.Subscribe("relay", hub)
	state.ReplaceTopOfBook(update("DOGEUSDT", 3).Snapshot.TopOfBook)

	msg := readMessage(t, conn)
	for _, key := range []string{"symbol", "top_of_book", "order_book_depth"} {
		if _, ok := msg[key]; !ok {
			t.Fatalf("frame missing %q: %v", key, msg)
		}
	}
	var symbol string
	json.Unmarshal(msg["symbol"], &symbol)
	if symbol != "DOGEUSDT" {
		t.Fatalf("symbol = %q", symbol)
	}
}

func TestHubSendsLatestOnConnectAndFiltersSymbol(t *testing.T) {
	hub := NewHub(4, time.Second)
	ts := testServer(t, hub)
	hub.OnBookUpdate(update("DOGEUSDT", 1))
	hub.OnBookUpdate(update("BTCUSDT", 2))

	conn := dial(t, ts, "?symbol=btcusdt")
	msg := readMessage(t, conn)
	var symbol string
	json.Unmarshal(msg["symbol"], &symbol)
	if symbol != "BTCUSDT" {
		t.Fatalf("expected filtered snapshot, got %q", symbol)
	}

	hub.OnBookUpdate(update("DOGEUSDT", 3))
	hub.OnBookUpdate(update("BTCUSDT", 4))
	msg = readMessage(t, conn)
	var tob models.TopOfBook
	if err := json.Unmarshal(msg["top_of_book"], &tob); err != nil {
		t.Fatalf("decode tob: %v", err)
	}
	if tob.UpdateID != 4 {
		t.Fatalf("received update %d for another symbol", tob.UpdateID)
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub(1, time.Second)
	c := &client{id: "slow", send: make(chan []byte, 1)}
	hub.clients[c] = struct{}{}

	for i := int64(0); i < 5; i++ {
		if err := hub.OnBookUpdate(update("DOGEUSDT", i)); err != nil {
			t.Fatalf("OnBookUpdate: %v", err)
		}
	}
	if hub.Dropped() != 4 {
		t.Fatalf("dropped = %d, want 4", hub.Dropped())
	}
}

func TestBookEndpoint(t *testing.T) {
	hub := NewHub(4, time.Second)
	ts := testServer(t, hub)

	resp, err := http.Get(ts.URL + "/api/book/DOGEUSDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d before any data", resp.StatusCode)
	}

	hub.OnBookUpdate(update("DOGEUSDT", 1))
	resp, err = http.Get(ts.URL + "/api/book/dogeusdt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var msg Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Symbol != "DOGEUSDT" || msg.Depth.LastUpdateID != 7 {
		t.Fatalf("unexpected body: %+v", msg)
	}
}

func TestHealthz(t *testing.T) {
	ts := testServer(t, NewHub(1, time.Second))
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(4, time.Second)
	ts := testServer(t, hub)
	conn := dial(t, ts, "")
	waitClients(t, hub, 1)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to close")
	}
	if hub.Clients() != 0 {
		t.Fatalf("clients = %d", hub.Clients())
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
