package broker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjmoor/AI-ForXBot/internal/breaker"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

func newTestOanda(t *testing.T, h http.HandlerFunc) *Oanda {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewOanda(OandaConfig{BaseURL: srv.URL, AccountID: "101-001", Token: "tok"},
		breaker.New("oanda-test", 2, time.Minute))
}

func TestOandaBaseURL(t *testing.T) {
	assert.Equal(t, OandaPracticeURL, NewOanda(OandaConfig{}, nil).base)
	assert.Equal(t, OandaLiveURL, NewOanda(OandaConfig{Environment: "live"}, nil).base)
}

func TestOandaAccount(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/101-001/summary", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		io.WriteString(w, `{"account":{"id":"101-001","currency":"USD","balance":"1000.50","NAV":"1002.00","unrealizedPL":"1.50","marginUsed":"20","openTradeCount":2}}`)
	})
	a, err := o.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "oanda", a.Broker)
	assert.Equal(t, "1000.5", a.Balance.String())
	assert.Equal(t, "1002", a.NAV.String())
	assert.Equal(t, 2, a.OpenTradeCount)
}

func TestOandaPlaceOrder(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body struct {
			Order map[string]any `json:"order"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "-250", body.Order["units"])
		assert.Equal(t, "MARKET", body.Order["type"])
		assert.Equal(t, "FOK", body.Order["timeInForce"])
		io.WriteString(w, `{"orderCreateTransaction":{"id":"42","time":"2026-01-05T10:00:00.000000000Z"},"orderFillTransaction":{"id":"43","price":"1.10234"}}`)
	})
	ord, err := o.PlaceOrder(context.Background(), model.OrderRequest{
		Instrument: "EUR_USD", Side: model.SideSell, Units: dec("250"),
	})
	require.NoError(t, err)
	assert.Equal(t, "42", ord.ID)
	assert.Equal(t, model.OrderFilled, ord.Status)
	assert.Equal(t, "1.10234", ord.FillPrice.String())
	assert.NotEmpty(t, ord.ClientTag)
}

func TestOandaOrderCancelled(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"orderCreateTransaction":{"id":"7"},"orderCancelTransaction":{"reason":"INSUFFICIENT_MARGIN"}}`)
	})
	ord, err := o.PlaceOrder(context.Background(), model.OrderRequest{Instrument: "EUR_USD", Side: model.SideBuy, Units: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, model.OrderRejected, ord.Status)
	assert.Equal(t, "INSUFFICIENT_MARGIN", ord.Reason)
}

func TestOandaPositionsNetted(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/101-001/openPositions", r.URL.Path)
		io.WriteString(w, `{"positions":[{"instrument":"EUR_USD",
			"long":{"units":"0","pl":"1","unrealizedPL":"0"},
			"short":{"units":"-300","averagePrice":"1.1","pl":"2","unrealizedPL":"-4.5"}}]}`)
	})
	pos, err := o.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, "-300", pos[0].Units.String())
	assert.Equal(t, "1.1", pos[0].AvgPrice.String())
	assert.Equal(t, "3", pos[0].RealizedPL.String())
	assert.Equal(t, "-4.5", pos[0].UnrealizedPL.String())
}

func TestOandaCandlesSkipIncomplete(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "M1", r.URL.Query().Get("granularity"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		io.WriteString(w, `{"candles":[
			{"complete":true,"volume":10,"time":"2026-01-05T10:00:00.000000000Z","mid":{"o":"1.1","h":"1.2","l":"1.0","c":"1.15"}},
			{"complete":true,"volume":12,"time":"2026-01-05T10:01:00.000000000Z","mid":{"o":"1.15","h":"1.16","l":"1.14","c":"1.155"}},
			{"complete":false,"volume":3,"time":"2026-01-05T10:02:00.000000000Z","mid":{"o":"1.155","h":"1.156","l":"1.154","c":"1.155"}}]}`)
	})
	bars, err := o.Candles(context.Background(), "EUR_USD", "M1", 3)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 1.15, bars[0].Close)
	require.NotNil(t, bars[1].Volume)
	assert.Equal(t, 12.0, *bars[1].Volume)

	_, err = o.Candles(context.Background(), "EUR_USD", "X9", 3)
	assert.Error(t, err)
}

func TestOandaErrorsTripBreaker(t *testing.T) {
	calls := 0
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errorMessage":"Insufficient authorization"}`)
	})
	_, err := o.Account(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Insufficient authorization", apiErr.Message)

	_, _ = o.Account(context.Background())
	_, err = o.Account(context.Background())
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, 2, calls)
}

func TestSourceWrapsErrors(t *testing.T) {
	o := newTestOanda(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := Source(o, 10).Fetch(context.Background(), "EUR_USD", "D")
	var due *model.DataUnavailableError
	require.True(t, errors.As(err, &due))
	assert.Equal(t, "D", due.Granularity)
}
