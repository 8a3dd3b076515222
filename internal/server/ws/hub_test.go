package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/truthledger/internal/store/memory"
)

func TestMatchChannel(t *testing.T) {
	subs := map[string]bool{"ledger:*": true, "market:btc": true}
	tests := []struct {
		channel string
		want    bool
	}{
		{"ledger:stake_placed", true},
		{"market:btc", true},
		{"market:eth", false},
		{"other", false},
	}
	for _, tt := range tests {
		if got := matchChannel(subs, tt.channel); got != tt.want {
			t.Errorf("matchChannel(%q) = %v, want %v", tt.channel, got, tt.want)
		}
	}
}

func TestRoutesFor(t *testing.T) {
	got := routesFor([]byte(`{"type":"claim_paid","marketId":"m1"}`))
	if strings.Join(got, ",") != "ledger:claim_paid,market:m1" {
		t.Errorf("routesFor = %v", got)
	}
	if routesFor([]byte(`not json`)) != nil {
		t.Error("malformed payload routed")
	}
}

func TestHub_MarketSubscription(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := memory.NewBus()
	counts := make(chan int, 16)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:      "server",
		OnClients: func(n int) { counts <- n },
	})
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?market=m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&status); err != nil || status.Type != "hub_status" {
		t.Fatalf("initial status = %+v, %v", status, err)
	}
	select {
	case n := <-counts:
		if n != 1 {
			t.Errorf("client count = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client count not reported")
	}

	// The hub subscribes asynchronously; publish until the client sees the
	// market it follows, skipping the other market.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		bus.Publish(ctx, "ledger:stake_placed", []byte(`{"type":"stake_placed","marketId":"m2"}`))
		bus.Publish(ctx, "ledger:stake_placed", []byte(`{"type":"stake_placed","marketId":"m1","amount":5}`))

		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			continue
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev["marketId"] != "m1" {
			t.Fatalf("received event for %v, want only m1", ev["marketId"])
		}
		return
	}
	t.Fatal("no event delivered")
}
