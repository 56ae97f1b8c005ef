package notify_test

import (
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atmx/clearing-house/internal/model"
	"github.com/atmx/clearing-house/internal/notify"
)

func runNATS(t *testing.T) string {
	t.Helper()
	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	srv := natsserver.RunServer(&opts)
	t.Cleanup(srv.Shutdown)
	return srv.ClientURL()
}

func subscribe(t *testing.T, url, subject string) chan *nats.Msg {
	t.Helper()
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	msgs := make(chan *nats.Msg, 4)
	_, err = nc.ChanSubscribe(subject, msgs)
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	return msgs
}

func receive(t *testing.T, msgs chan *nats.Msg) *nats.Msg {
	t.Helper()
	select {
	case msg := <-msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestNATSPublisher_PublishesEventUnderPrefix(t *testing.T) {
	url := runNATS(t)
	msgs := subscribe(t, url, "test.events.>")

	pub, err := notify.NewNATSPublisher(url, "test.events")
	require.NoError(t, err)
	defer pub.Close()

	pub.Notify(notify.NewEvent(model.EventMarginAdded, model.MarginAdded{
		Account: "alice",
		AssetID: "USDC",
		Amount:  decimal.NewFromInt(5),
	}))

	msg := receive(t, msgs)
	require.Equal(t, "test.events.margin_added", msg.Subject)

	var ev struct {
		Type string            `json:"type"`
		Data model.MarginAdded `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	require.Equal(t, model.EventMarginAdded, ev.Type)
	require.Equal(t, "alice", ev.Data.Account)
	require.True(t, ev.Data.Amount.Equal(decimal.NewFromInt(5)))
}

func TestNATSPublisher_DefaultPrefix(t *testing.T) {
	url := runNATS(t)
	msgs := subscribe(t, url, notify.DefaultSubjectPrefix+".>")

	pub, err := notify.NewNATSPublisher(url, "")
	require.NoError(t, err)
	defer pub.Close()

	pub.Notify(notify.NewEvent(model.EventMarketCreated, model.MarketCreated{MarketID: 1, AssetID: "ETH"}))
	require.Equal(t, "clearinghouse.events.market_created", receive(t, msgs).Subject)
}

func TestNATSPublisher_ConnectFailure(t *testing.T) {
	_, err := notify.NewNATSPublisher("nats://127.0.0.1:1", "")
	require.Error(t, err)
}
