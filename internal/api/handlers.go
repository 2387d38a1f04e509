package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/rjmoor/AI-ForXBot/internal/broker"
	"github.com/rjmoor/AI-ForXBot/internal/indicator"
	"github.com/rjmoor/AI-ForXBot/internal/model"
	"github.com/rjmoor/AI-ForXBot/internal/pipeline"
	"github.com/rjmoor/AI-ForXBot/internal/store/sqlite"
	"github.com/rjmoor/AI-ForXBot/internal/trading"
)

const (
	defaultCandleCount  = 100
	defaultTradeLimit   = 100
	maxTradeLimit       = 1000
	defaultHistoryLimit = 20
	maxHistoryLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			x, _ := d.Float64()
			return x
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func instrumentParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("instrument")))
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "AI-ForXBot",
		"message": "Welcome to the AI-ForXBot forex indicator engine",
		"time":    time.Now().UTC(),
	})
}

// ── Trading lifecycle ──

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Trading.Status())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Trading.Start(s.Base); err != nil {
		if errors.Is(err, trading.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Trading started", "status": s.Trading.Status()})
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Trading.Stop(); err != nil {
		if errors.Is(err, trading.ErrNotRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Trading stopped", "status": s.Trading.Status()})
}

// ── Broker passthrough ──

func (s *server) brokerError(w http.ResponseWriter, endpoint string, err error) {
	log.Printf("[api] broker %s: %v", endpoint, err)
	writeError(w, http.StatusBadGateway, err.Error())
}

func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Broker.Account(r.Context())
	if err != nil {
		s.brokerError(w, "account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *server) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.Instrument = strings.ToUpper(strings.TrimSpace(req.Instrument))
	req.Side = model.Side(strings.ToUpper(string(req.Side)))
	req.Type = strings.ToUpper(req.Type)
	if req.Type == "" {
		req.Type = model.OrderTypeMarket
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	order, err := s.Broker.PlaceOrder(r.Context(), req)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.OrdersTotal.WithLabelValues(s.Broker.Name(), "error").Inc()
		}
		s.brokerError(w, "order", err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.OrdersTotal.WithLabelValues(s.Broker.Name(), strings.ToLower(order.Status)).Inc()
	}
	if s.Journal != nil {
		if err := s.Journal.RecordOrder(r.Context(), order); err != nil {
			log.Printf("[api] journal order %s: %v", order.ID, err)
		}
	}

	status := http.StatusCreated
	if order.Status == model.OrderRejected {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, order)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// orderHistory is implemented by brokers that keep every order in memory.
type orderHistory interface {
	History() []model.Order
}

// handleOrders lists pending orders; ?state=all lists every order when the
// broker keeps a history.
func (s *server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("state") == "all" {
		h, ok := s.Broker.(orderHistory)
		if !ok {
			writeError(w, http.StatusNotImplemented, s.Broker.Name()+" does not keep an order history")
			return
		}
		writeJSON(w, http.StatusOK, h.History())
		return
	}
	orders, err := s.Broker.Orders(r.Context())
	if err != nil {
		s.brokerError(w, "orders", err)
		return
	}
	if orders == nil {
		orders = []model.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.Broker.Positions(r.Context())
	if err != nil {
		s.brokerError(w, "positions", err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *server) handleCandles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	inst := instrumentParam(r)
	gran := strings.ToUpper(q.Get("granularity"))
	if inst == "" || gran == "" {
		writeError(w, http.StatusBadRequest, "instrument and granularity are required")
		return
	}
	if !broker.ValidGranularity(gran) {
		writeError(w, http.StatusBadRequest, "unknown granularity "+gran)
		return
	}
	count := defaultCandleCount
	if c := q.Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > broker.MaxCandles {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", broker.MaxCandles))
			return
		}
		count = n
	}

	bars, err := s.Broker.Candles(r.Context(), inst, gran, count)
	if err != nil {
		s.brokerError(w, "candles", err)
		return
	}
	if bars == nil {
		bars = []model.Bar{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument":  inst,
		"granularity": gran,
		"candles":     bars,
	})
}

func (s *server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}
	limit := defaultTradeLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxTradeLimit {
			limit = n
		}
	}
	trades, err := s.Journal.Trades(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

func (s *server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	if s.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal not configured")
		return
	}
	perf, err := s.Journal.Performance(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if perf == nil {
		perf = []sqlite.InstrumentPerformance{}
	}
	writeJSON(w, http.StatusOK, perf)
}

// Settings are read-only; changing them needs a restart.
func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Settings)
}

func (s *server) handlePopulate(w http.ResponseWriter, r *http.Request) {
	if s.Populator == nil {
		writeError(w, http.StatusServiceUnavailable, "no market data source configured")
		return
	}
	results, err := s.Populator.Populate(r.Context())
	total := 0
	for _, res := range results {
		total += res.Bars
	}
	body := map[string]any{"results": results, "bars": total}
	if err != nil {
		body["error"] = err.Error()
		status := http.StatusMultiStatus
		if total == 0 {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, body)
		return
	}
	body["message"] = "Data population completed"
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handlePopulationStatus(w http.ResponseWriter, r *http.Request) {
	if s.Populator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	body := map[string]any{"enabled": true}
	if last := s.Populator.LastRun(); !last.IsZero() {
		body["last_run"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

// ── Indicators and tier states ──

type indicatorInfo struct {
	Name  string                          `json:"name"`
	Tiers map[model.Tier]model.TierParams `json:"tiers"`
}

func (s *server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	var configured map[string]map[model.Tier]model.TierParams
	if s.Indicators != nil {
		configured = s.Indicators.Snapshot()
	}
	names := indicator.Names()
	out := make([]indicatorInfo, 0, len(names))
	for _, name := range names {
		tiers := configured[name]
		if tiers == nil {
			tiers = map[model.Tier]model.TierParams{}
		}
		out = append(out, indicatorInfo{Name: name, Tiers: tiers})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleIndicatorValues(w http.ResponseWriter, r *http.Request) {
	if s.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	inst := instrumentParam(r)
	if inst == "" {
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	values, err := s.Results.LatestIndicatorValues(r.Context(), inst)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if values == nil {
		values = []model.IndicatorValue{}
	}
	writeJSON(w, http.StatusOK, values)
}

// handleIndicatorParams returns the parameters last persisted for ?name=,
// which may differ from the loaded config until the next analysis run.
func (s *server) handleIndicatorParams(w http.ResponseWriter, r *http.Request) {
	if s.Results == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not configured")
		return
	}
	d, err := indicator.Resolve(r.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := s.Results.IndicatorParams(r.Context(), d.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": d.Name, "tiers": params})
}

func (s *server) handleStates(w http.ResponseWriter, r *http.Request) {
	inst := instrumentParam(r)
	if inst == "" {
		reports := s.Analyzer.LatestAll()
		if reports == nil {
			reports = []model.Report{}
		}
		writeJSON(w, http.StatusOK, reports)
		return
	}

	if s.Reports != nil {
		rep, err := s.Reports.LatestReport(r.Context(), inst)
		if err != nil {
			log.Printf("[api] report cache %s: %v", inst, err)
		} else if rep != nil {
			writeJSON(w, http.StatusOK, rep)
			return
		}
	}
	if rep, ok := s.Analyzer.Latest(inst); ok {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	writeError(w, http.StatusNotFound, "no states for "+inst+" yet")
}

func (s *server) handleStateHistory(w http.ResponseWriter, r *http.Request) {
	if s.Reports == nil {
		writeError(w, http.StatusServiceUnavailable, "report history needs redis")
		return
	}
	inst := instrumentParam(r)
	if inst == "" {
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	limit := defaultHistoryLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxHistoryLimit {
			limit = n
		}
	}
	reports, err := s.Reports.History(r.Context(), inst, int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	inst := instrumentParam(r)
	if inst == "" {
		writeError(w, http.StatusBadRequest, "instrument is required")
		return
	}
	rep, err := s.Analyzer.Analyze(r.Context(), inst)
	if err != nil {
		status := http.StatusInternalServerError
		var unavailable *model.DataUnavailableError
		if errors.Is(err, pipeline.ErrNoTiers) || errors.As(err, &unavailable) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleEvaluate scores caller-supplied votes:
//
//	{"macro": {"RSI": 1, "MACD": 0}, "micro": {...}}
func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]model.TierResult
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	byTier := make(map[model.Tier]model.TierResult, len(raw))
	for name, res := range raw {
		tier, err := model.ParseTier(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for ind, v := range res {
			if v != 0 && v != 1 {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("%s/%s: vote must be 0 or 1, got %d", tier, ind, v))
				return
			}
		}
		byTier[tier] = res
	}

	evals := s.Analyzer.Evaluate(byTier)
	tiers := make([]string, 0, len(evals))
	states := make(map[model.Tier]model.State, len(evals))
	for t, e := range evals {
		tiers = append(tiers, string(t))
		states[t] = e.State
	}
	sort.Strings(tiers)
	writeJSON(w, http.StatusOK, map[string]any{
		"states":      states,
		"evaluations": evals,
		"tiers":       tiers,
	})
}
