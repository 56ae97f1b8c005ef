package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clearing-house/internal/model"
	"github.com/atmx/clearing-house/internal/notify"
)

func TestMulti_DeliversToAll(t *testing.T) {
	var got []string
	m := notify.Multi{
		notify.Func(func(e notify.Event) { got = append(got, "a:"+e.Type) }),
		notify.Func(func(e notify.Event) { got = append(got, "b:"+e.Type) }),
	}
	m.Notify(notify.NewEvent(model.EventMarginAdded, nil))

	require.Equal(t, []string{"a:margin_added", "b:margin_added"}, got)
}

func TestSubject(t *testing.T) {
	require.Equal(t, "clearinghouse.events.trade_executed",
		notify.Subject(notify.DefaultSubjectPrefix, model.EventTradeExecuted))
}

func TestWSHub_BroadcastsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hubHandler(hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Notify(notify.NewEvent(model.EventMarketCreated, model.MarketCreated{MarketID: 3, AssetID: "BTC"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string              `json:"type"`
		Data model.MarketCreated `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, model.EventMarketCreated, msg.Type)
	require.Equal(t, model.MarketID(3), msg.Data.MarketID)
	require.Equal(t, "BTC", msg.Data.AssetID)
}

func TestWSHub_UnregistersOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewWSHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(hubHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func hubHandler(hub *notify.WSHub) http.Handler {
	return http.HandlerFunc(hub.HandleWS)
}
