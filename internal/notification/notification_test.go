package notification

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

type captureNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, a Alert) error {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	c.mu.Unlock()
	return c.err
}

func report(states map[model.Tier]model.State) model.Report {
	r := model.Report{RunID: "run-1", Instrument: "EUR_USD", States: states}
	for _, tier := range model.Tiers {
		if st, ok := states[tier]; ok {
			score := 0.2
			if st == model.StateGreen {
				score = 0.9
			}
			r.Tiers = append(r.Tiers, model.TierReport{Tier: tier, Granularity: "D", State: st, Score: score, Voters: 4})
		}
	}
	return r
}

func TestStateWatcherAlertsOnFlip(t *testing.T) {
	n := &captureNotifier{}
	prom := metrics.NewMetrics(prometheus.NewRegistry())
	w := NewStateWatcher(n, prom)
	ctx := context.Background()

	require.NoError(t, w.Consume(ctx, report(map[model.Tier]model.State{model.TierDaily: model.StateGreen, model.TierMicro: model.StateRed})))
	assert.Empty(t, n.alerts, "first observation is a baseline")

	require.NoError(t, w.Consume(ctx, report(map[model.Tier]model.State{model.TierDaily: model.StateGreen, model.TierMicro: model.StateRed})))
	assert.Empty(t, n.alerts)

	require.NoError(t, w.Consume(ctx, report(map[model.Tier]model.State{model.TierDaily: model.StateRed, model.TierMicro: model.StateGreen})))
	require.Len(t, n.alerts, 2)
	assert.Equal(t, AlertWarning, n.alerts[0].Level)
	assert.Equal(t, "EUR_USD daily tier Green → Red", n.alerts[0].Title)
	assert.Equal(t, "Red", n.alerts[0].Fields["to"])
	assert.Equal(t, AlertInfo, n.alerts[1].Level)

	st, ok := w.State("EUR_USD", model.TierMicro)
	assert.True(t, ok)
	assert.Equal(t, model.StateGreen, st)

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.StateFlips.WithLabelValues("EUR_USD", "daily")))
	assert.Equal(t, 2.0, testutil.ToFloat64(prom.Notifies.WithLabelValues("capture", "ok")))
}

func TestStateWatcherReturnsSendError(t *testing.T) {
	n := &captureNotifier{err: errors.New("down")}
	w := NewStateWatcher(n, nil)
	ctx := context.Background()
	_ = w.Consume(ctx, report(map[model.Tier]model.State{model.TierMacro: model.StateRed}))
	err := w.Consume(ctx, report(map[model.Tier]model.State{model.TierMacro: model.StateGreen}))
	assert.EqualError(t, err, "down")
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &captureNotifier{}
	bad := &captureNotifier{err: errors.New("boom")}
	err := Multi{NewLogNotifier(), ok, bad}.Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture: boom")
	assert.Len(t, ok.alerts, 1)
}

func TestWebhookNotifier(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{
		Level: AlertWarning, Title: "flip", Message: "m", Fields: map[string]string{"tier": "macro"},
	})
	require.NoError(t, err)
	assert.Equal(t, "WARNING", got.Level)
	assert.Equal(t, "macro", got.Fields["tier"])
	assert.NotEmpty(t, got.TS)
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{})
	assert.ErrorContains(t, err, "502")
}

func TestTelegramNotifier(t *testing.T) {
	var text, chat, mode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"fx","username":"forxbot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			text, chat, mode = r.PostForm.Get("text"), r.PostForm.Get("chat_id"), r.PostForm.Get("parse_mode")
			io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n, err := NewTelegramNotifierWithEndpoint("TOKEN", 42, srv.URL+"/bot%s/%s")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertCritical, Title: "EUR_USD", Message: "score 0.75"}))

	assert.Equal(t, "42", chat)
	assert.Equal(t, "MarkdownV2", mode)
	assert.Contains(t, text, `EUR\_USD`)
	assert.Contains(t, text, `0\.75`)
}
