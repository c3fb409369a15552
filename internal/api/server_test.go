package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pesowatch/internal/config"
	"pesowatch/internal/forex"
	"pesowatch/internal/storage"
	ratesync "pesowatch/internal/sync"
)

// --- in-memory fakes mirroring the repository semantics ---

type memRates struct {
	byDay map[time.Time]storage.RateRecord
}

func newMemRates() *memRates {
	return &memRates{byDay: make(map[time.Time]storage.RateRecord)}
}

func (m *memRates) sorted() []storage.RateRecord {
	out := make([]storage.RateRecord, 0, len(m.byDay))
	for _, rec := range m.byDay {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (m *memRates) Upsert(ctx context.Context, records []storage.RateRecord) error {
	for _, rec := range records {
		m.byDay[storage.Day(rec.Date)] = rec
	}
	return nil
}

func (m *memRates) Between(ctx context.Context, from, to time.Time) ([]storage.RateRecord, error) {
	var out []storage.RateRecord
	for _, rec := range m.sorted() {
		if !rec.Date.Before(storage.Day(from)) && !rec.Date.After(storage.Day(to)) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRates) Recent(ctx context.Context, limit int) ([]storage.RateRecord, error) {
	all := m.sorted()
	var out []storage.RateRecord
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memRates) Latest(ctx context.Context) (storage.RateRecord, error) {
	all := m.sorted()
	if len(all) == 0 {
		return storage.RateRecord{}, storage.ErrNotFound
	}
	return all[len(all)-1], nil
}

func (m *memRates) EarlierThan(ctx context.Context, d time.Time) (storage.RateRecord, error) {
	all := m.sorted()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Date.Before(storage.Day(d)) {
			return all[i], nil
		}
	}
	return storage.RateRecord{}, storage.ErrNotFound
}

func (m *memRates) SetMovingAverages(ctx context.Context, d time.Time, ma20, ma50 *decimal.Decimal) error {
	rec, ok := m.byDay[storage.Day(d)]
	if !ok {
		return storage.ErrNotFound
	}
	rec.MA20, rec.MA50 = ma20, ma50
	m.byDay[storage.Day(d)] = rec
	return nil
}

func (m *memRates) Count(ctx context.Context) (int64, error) {
	return int64(len(m.byDay)), nil
}

type memTransactions struct {
	nextID int64
	txs    []storage.Transaction
}

func (m *memTransactions) Insert(ctx context.Context, ownerID string, tx storage.Transaction) (storage.Transaction, error) {
	if ownerID == "" {
		return storage.Transaction{}, storage.ErrAuthRequired
	}
	m.nextID++
	tx.ID = m.nextID
	tx.OwnerID = ownerID
	tx.AmountPHP = tx.AmountUSD.Mul(tx.Rate)
	tx.CreatedAt = time.Now().UTC()
	m.txs = append(m.txs, tx)
	return tx, nil
}

func (m *memTransactions) ListByOwner(ctx context.Context, ownerID string) ([]storage.Transaction, error) {
	if ownerID == "" {
		return nil, storage.ErrAuthRequired
	}
	out := make([]storage.Transaction, 0)
	for _, tx := range m.txs {
		if tx.OwnerID == ownerID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (m *memTransactions) Delete(ctx context.Context, ownerID string, id int64) error {
	if ownerID == "" {
		return storage.ErrAuthRequired
	}
	for i, tx := range m.txs {
		if tx.ID == id && tx.OwnerID == ownerID {
			m.txs = append(m.txs[:i], m.txs[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

type memAlerts struct {
	nextID int64
	alerts []storage.RateAlert
}

func (m *memAlerts) Insert(ctx context.Context, ownerID string, alert storage.RateAlert) (storage.RateAlert, error) {
	if ownerID == "" {
		return storage.RateAlert{}, storage.ErrAuthRequired
	}
	m.nextID++
	alert.ID = m.nextID
	alert.OwnerID = ownerID
	alert.CreatedAt = time.Now().UTC()
	m.alerts = append(m.alerts, alert)
	return alert, nil
}

func (m *memAlerts) ListByOwner(ctx context.Context, ownerID string) ([]storage.RateAlert, error) {
	if ownerID == "" {
		return nil, storage.ErrAuthRequired
	}
	out := make([]storage.RateAlert, 0)
	for _, alert := range m.alerts {
		if alert.OwnerID == ownerID {
			out = append(out, alert)
		}
	}
	return out, nil
}

func (m *memAlerts) SetActive(ctx context.Context, ownerID string, id int64, active bool) (storage.RateAlert, error) {
	if ownerID == "" {
		return storage.RateAlert{}, storage.ErrAuthRequired
	}
	for i, alert := range m.alerts {
		if alert.ID == id && alert.OwnerID == ownerID {
			m.alerts[i].IsActive = active
			return m.alerts[i], nil
		}
	}
	return storage.RateAlert{}, storage.ErrNotFound
}

func (m *memAlerts) Delete(ctx context.Context, ownerID string, id int64) error {
	if ownerID == "" {
		return storage.ErrAuthRequired
	}
	for i, alert := range m.alerts {
		if alert.ID == id && alert.OwnerID == ownerID {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			return nil
		}
	}
	return storage.ErrNotFound
}

type fakeProvider struct {
	latest forex.Rate
	rates  []forex.Rate
	err    error
}

func (p *fakeProvider) Latest(ctx context.Context) (forex.Rate, error) {
	return p.latest, p.err
}

func (p *fakeProvider) Range(ctx context.Context, start, end time.Time) ([]forex.Rate, error) {
	return p.rates, p.err
}

func (p *fakeProvider) Name() string { return "fake" }

// --- harness ---

type fixture struct {
	server *Server
	rates  *memRates
	txs    *memTransactions
	alerts *memAlerts
}

func newFixture(t *testing.T, provider forex.Provider) *fixture {
	t.Helper()
	if provider == nil {
		provider = &fakeProvider{}
	}

	rates := newMemRates()
	txs := &memTransactions{}
	alerts := &memAlerts{}
	syncer := ratesync.New(provider, rates, nil, 0, zerolog.Nop())

	cfg := config.ServerConfig{
		Tokens: map[string]string{"secret-token": "owner-1"},
	}
	server := NewServer(cfg, rates, txs, alerts, syncer, zerolog.Nop())

	return &fixture{server: server, rates: rates, txs: txs, alerts: alerts}
}

func (f *fixture) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeInto(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func day(s string) time.Time {
	t, err := time.Parse(storage.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// --- tests ---

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestLatestRate(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodGet, "/v1/rates/latest", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("empty history: want 404, got %d", rr.Code)
	}

	_ = f.rates.Upsert(context.Background(), []storage.RateRecord{
		{Date: day("2025-01-09"), USDPHPRate: decimal.RequireFromString("56.1")},
		{Date: day("2025-01-10"), USDPHPRate: decimal.RequireFromString("56.3")},
	})

	rr = f.do(t, http.MethodGet, "/v1/rates/latest", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got rateDTO
	decodeInto(t, rr, &got)
	if got.Date != "2025-01-10" {
		t.Fatalf("want newest record, got %s", got.Date)
	}
}

func TestRateHistoryFill(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.rates.Upsert(context.Background(), []storage.RateRecord{
		{Date: day("2025-01-06"), USDPHPRate: decimal.RequireFromString("56.1")},
		{Date: day("2025-01-09"), USDPHPRate: decimal.RequireFromString("56.4")},
	})

	rr := f.do(t, http.MethodGet, "/v1/rates/history?from=2025-01-06&to=2025-01-09", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	var plain []rateDTO
	decodeInto(t, rr, &plain)
	if len(plain) != 2 {
		t.Fatalf("unfilled history: want 2 records, got %d", len(plain))
	}

	rr = f.do(t, http.MethodGet, "/v1/rates/history?from=2025-01-06&to=2025-01-09&fill=1", "", nil)
	var filled []rateDTO
	decodeInto(t, rr, &filled)
	if len(filled) != 4 {
		t.Fatalf("filled history: want 4 records, got %d", len(filled))
	}
	if !filled[1].Synthetic || !filled[2].Synthetic {
		t.Fatal("gap days must be synthetic")
	}

	rr = f.do(t, http.MethodGet, "/v1/rates/history?from=bogus", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad date: want 400, got %d", rr.Code)
	}
}

func TestRateStats(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.rates.Upsert(context.Background(), []storage.RateRecord{
		{Date: day("2025-01-06"), USDPHPRate: decimal.RequireFromString("56")},
		{Date: day("2025-01-07"), USDPHPRate: decimal.RequireFromString("58")},
		{Date: day("2025-01-08"), USDPHPRate: decimal.RequireFromString("57")},
	})

	rr := f.do(t, http.MethodGet, "/v1/rates/stats?from=2025-01-06&to=2025-01-08", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	var got struct {
		Days    int             `json:"days"`
		High    decimal.Decimal `json:"high"`
		Change  decimal.Decimal `json:"change"`
		Current decimal.Decimal `json:"current"`
	}
	decodeInto(t, rr, &got)
	if got.Days != 3 {
		t.Fatalf("want 3 days, got %d", got.Days)
	}
	if !got.High.Equal(decimal.RequireFromString("58")) {
		t.Fatalf("high: got %s", got.High)
	}
	if !got.Change.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("change: got %s", got.Change)
	}
}

func TestSyncRequiresAuth(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/v1/sync", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous sync: want 401, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/sync", "wrong-token", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: want 401, got %d", rr.Code)
	}
}

func TestSyncLatestAndStatus(t *testing.T) {
	provider := &fakeProvider{latest: forex.Rate{
		Date:   day("2025-01-10"),
		USDPHP: decimal.RequireFromString("56.25"),
	}}
	f := newFixture(t, provider)

	rr := f.do(t, http.MethodPost, "/v1/sync", "secret-token", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(t, http.MethodGet, "/v1/sync/status", "", nil)
	var status ratesync.Status
	decodeInto(t, rr, &status)
	if status.LastSuccess.IsZero() || status.LastError != "" {
		t.Fatalf("status after successful sync: %+v", status)
	}
}

func TestSyncUpstreamFailureMapsTo502(t *testing.T) {
	provider := &fakeProvider{err: &forex.UpstreamError{Provider: "fake", Reason: "boom"}}
	f := newFixture(t, provider)

	rr := f.do(t, http.MethodPost, "/v1/sync", "secret-token", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure: want 502, got %d", rr.Code)
	}
}

func TestSyncRange(t *testing.T) {
	provider := &fakeProvider{rates: []forex.Rate{
		{Date: day("2025-01-06"), USDPHP: decimal.RequireFromString("56.1")},
		{Date: day("2025-01-08"), USDPHP: decimal.RequireFromString("56.3")},
	}}
	f := newFixture(t, provider)

	body := map[string]any{"from": "2025-01-06", "to": "2025-01-08", "fill_gaps": true}
	rr := f.do(t, http.MethodPost, "/v1/sync/range", "secret-token", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var got map[string]int
	decodeInto(t, rr, &got)
	if got["synced"] != 2 || got["filled"] != 1 {
		t.Fatalf("want synced=2 filled=1, got %v", got)
	}

	rr = f.do(t, http.MethodPost, "/v1/sync/range", "secret-token",
		map[string]any{"from": "2025-01-08", "to": "2025-01-06"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted range: want 400, got %d", rr.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	body := map[string]any{
		"date": "2025-01-10", "type": "BUY",
		"amount_usd": "100", "rate": "56.25",
	}

	rr := f.do(t, http.MethodPost, "/v1/transactions", "", body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous insert: want 401, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/transactions", "secret-token", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created transactionDTO
	decodeInto(t, rr, &created)
	if !created.AmountPHP.Equal(decimal.RequireFromString("5625")) {
		t.Fatalf("amount_php must be computed server side, got %s", created.AmountPHP)
	}

	rr = f.do(t, http.MethodGet, "/v1/transactions", "secret-token", nil)
	var list []transactionDTO
	decodeInto(t, rr, &list)
	if len(list) != 1 {
		t.Fatalf("want 1 transaction, got %d", len(list))
	}

	rr = f.do(t, http.MethodDelete, "/v1/transactions/999", "secret-token", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing id: want 404, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodDelete, "/v1/transactions/1", "secret-token", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", rr.Code)
	}
}

func TestTransactionValidation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []map[string]any{
		{"date": "2025-01-10", "type": "HOLD", "amount_usd": "100", "rate": "56"},
		{"date": "2025-01-10", "type": "BUY", "amount_usd": "-1", "rate": "56"},
		{"date": "not-a-date", "type": "BUY", "amount_usd": "100", "rate": "56"},
		{"date": "2025-01-10", "type": "BUY", "amount_usd": "100", "rate": "56", "bogus": true},
	}
	for i, body := range cases {
		rr := f.do(t, http.MethodPost, "/v1/transactions", "secret-token", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("case %d: want 400, got %d", i, rr.Code)
		}
	}
}

func TestAnalyticsSummary(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []map[string]any{
		{"date": "2025-01-05", "type": "BUY", "amount_usd": "100", "rate": "50"},
		{"date": "2025-02-06", "type": "SELL", "amount_usd": "40", "rate": "55"},
	} {
		if rr := f.do(t, http.MethodPost, "/v1/transactions", "secret-token", body); rr.Code != http.StatusCreated {
			t.Fatalf("seed insert failed: %d", rr.Code)
		}
	}

	rr := f.do(t, http.MethodGet, "/v1/analytics/summary", "secret-token", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	var got struct {
		CurrentPosition   decimal.Decimal `json:"current_position"`
		RealizedProfitPHP decimal.Decimal `json:"realized_profit_php"`
	}
	decodeInto(t, rr, &got)
	if !got.CurrentPosition.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("current position: got %s", got.CurrentPosition)
	}
	if !got.RealizedProfitPHP.Equal(decimal.RequireFromString("200")) {
		t.Fatalf("realized profit: got %s", got.RealizedProfitPHP)
	}

	rr = f.do(t, http.MethodGet, "/v1/analytics/monthly-volume", "secret-token", nil)
	var volumes []map[string]any
	decodeInto(t, rr, &volumes)
	if len(volumes) != 2 {
		t.Fatalf("want 2 months, got %d", len(volumes))
	}
	if volumes[0]["month"] != "2025-01" || volumes[1]["month"] != "2025-02" {
		t.Fatalf("months must be ascending, got %v", volumes)
	}
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	_ = f.rates.Upsert(context.Background(), []storage.RateRecord{
		{Date: day("2025-01-10"), USDPHPRate: decimal.RequireFromString("57")},
	})

	rr := f.do(t, http.MethodPost, "/v1/alerts", "secret-token",
		map[string]any{"target_rate": "56.5", "direction": "ABOVE"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created alertDTO
	decodeInto(t, rr, &created)
	if !created.IsActive {
		t.Fatal("new alerts start active")
	}

	// 57 >= 56.5, so the ABOVE alert shows as triggered.
	rr = f.do(t, http.MethodGet, "/v1/alerts", "secret-token", nil)
	var list []alertDTO
	decodeInto(t, rr, &list)
	if len(list) != 1 || !list[0].Triggered {
		t.Fatalf("want a triggered alert, got %+v", list)
	}

	rr = f.do(t, http.MethodPatch, "/v1/alerts/1", "secret-token",
		map[string]any{"is_active": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle: want 200, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodGet, "/v1/alerts", "secret-token", nil)
	decodeInto(t, rr, &list)
	if list[0].IsActive || list[0].Triggered {
		t.Fatal("deactivated alert must not trigger")
	}

	rr = f.do(t, http.MethodDelete, "/v1/alerts/1", "secret-token", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: want 204, got %d", rr.Code)
	}
}

func TestAlertValidation(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/v1/alerts", "secret-token",
		map[string]any{"target_rate": "56", "direction": "SIDEWAYS"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad direction: want 400, got %d", rr.Code)
	}

	rr = f.do(t, http.MethodPost, "/v1/alerts", "secret-token",
		map[string]any{"target_rate": "0", "direction": "ABOVE"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("zero target: want 400, got %d", rr.Code)
	}
}

func TestCORSPreflights(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodOptions, "/v1/rates/latest", "", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight: want 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("preflight must carry CORS headers")
	}
}

func TestMalformedAuthHeader(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Basic abc123")
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("non-bearer auth: want 401, got %d", rr.Code)
	}
}
