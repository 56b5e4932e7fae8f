package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

type recordSender struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordSender) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordSender) Name() string { return "record" }

func (s *recordSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func encode(t *testing.T, evt domain.SettlementEvent) []byte {
	t.Helper()
	data, err := json.Marshal(evt)
	require.NoError(t, err)
	return data
}

func TestNotifierFiltersAndDelivers(t *testing.T) {
	rec := &recordSender{}
	n := NewNotifier([]Sender{rec}, nil, slog.New(slog.DiscardHandler))
	require.True(t, n.Enabled())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Run(ctx) }()

	buyer := common.HexToAddress("0xb0b")
	require.NoError(t, n.Publish(ctx, domain.ChannelListings, encode(t, domain.SettlementEvent{
		Type: domain.EventListingRepriced, Ask: 5,
	})))
	require.NoError(t, n.Publish(ctx, domain.ChannelListings, encode(t, domain.SettlementEvent{
		Type: domain.EventListingBought, Buyer: &buyer, Ask: 1000, Fee: 50,
	})))

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 10*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "Listing sold", rec.alerts[0].Title)
	assert.Equal(t, domain.EventListingBought, rec.alerts[0].Event)
	assert.Contains(t, rec.alerts[0].Text(), "price: 1000 + fee 50")
	assert.Contains(t, rec.alerts[0].Text(), "buyer: "+buyer.Hex())
}

func TestNotifierRejectsGarbage(t *testing.T) {
	n := NewNotifier(nil, []string{"fees_withdrawn"}, slog.New(slog.DiscardHandler))
	assert.False(t, n.Enabled())
	require.Error(t, n.Publish(context.Background(), domain.ChannelFees, []byte("{")))
}

func TestDispatchCombinesFailures(t *testing.T) {
	bad := &recordSender{err: errors.New("boom")}
	good := &recordSender{}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.dispatch(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 senders failed")
	assert.Contains(t, err.Error(), "record: boom")
	assert.Equal(t, 1, good.count())
}

func TestTelegramAndDiscordSenders(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string]map[string]any{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(data, &m)
		mu.Lock()
		bodies[r.URL.Path] = m
		mu.Unlock()
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	ctx := context.Background()

	a := Alert{
		Event:  domain.EventFeesWithdrawn,
		Title:  "Fees <withdrawn>",
		Fields: []Field{{Name: "amount", Value: "30"}},
	}

	tg := NewTelegramSender("TOKEN", "42").WithAPIURL(srv.URL + "/")
	require.NoError(t, tg.Send(ctx, a))
	sent := bodies["/botTOKEN/sendMessage"]
	assert.Equal(t, "42", sent["chat_id"])
	assert.Equal(t, "HTML", sent["parse_mode"])
	assert.Equal(t, "<b>Fees &lt;withdrawn&gt;</b>\namount: <code>30</code>", sent["text"])

	dc := NewDiscordSender(srv.URL + "/hook")
	require.NoError(t, dc.Send(ctx, a))
	embeds, ok := bodies["/hook"]["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	assert.Equal(t, "Fees <withdrawn>", embed["title"])
	assert.InDelta(t, float64(0xf1c40f), embed["color"], 0)
	fields := embed["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "`30`", fields[0].(map[string]any)["value"])

	err := NewDiscordSender(srv.URL + "/fail").Send(ctx, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400: nope")
}
