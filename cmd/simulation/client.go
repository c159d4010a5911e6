package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/klear-paper/internal/types"
	"github.com/ksred/klear-paper/pkg/response"
	"github.com/rs/zerolog/log"
)

// routeStats tracks latency for one API endpoint
type routeStats struct {
	mu         sync.Mutex
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

func (rs *routeStats) record(d time.Duration, failed bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// calculate returns min, max, mean, median, p95 and p99 latencies
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sorted := append([]time.Duration(nil), rs.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean = sum / time.Duration(len(sorted))
	median = sorted[len(sorted)/2]

	p95 = sorted[int(math.Ceil(float64(len(sorted))*0.95))-1]
	p99 = sorted[int(math.Ceil(float64(len(sorted))*0.99))-1]
	return
}

// apiError is a non-2xx envelope returned by the server
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Message)
}

// simulationClient talks to the paper trading API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

func newSimulationClient(baseURL string, httpClient *http.Client) *simulationClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &simulationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"execute": {name: "Execute Order"},
			"get":     {name: "Get Order"},
			"cancel":  {name: "Cancel Order"},
			"prices":  {name: "Push Prices"},
			"deposit": {name: "Deposit"},
			"account": {name: "Account Snapshot"},
			"history": {name: "History"},
		},
	}
}

// call sends one request and decodes the envelope's data into out
func (sc *simulationClient) call(route, method, path string, body interface{}, out interface{}, idempotent bool) error {
	start := time.Now()
	var callErr error
	defer func() {
		sc.stats[route].record(time.Since(start), callErr != nil)
	}()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			callErr = err
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, reader)
	if err != nil {
		callErr = err
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sc.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+sc.authToken)
	}
	if idempotent {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		callErr = err
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		callErr = fmt.Errorf("failed to read response body: %w", err)
		return callErr
	}
	log.Debug().Str("route", route).Str("response", string(respBody)).Msg("API response")

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *response.Error `json:"error"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		callErr = fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		return callErr
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		apiErr := &apiError{Status: resp.StatusCode}
		if envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		callErr = apiErr
		return apiErr
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			callErr = fmt.Errorf("failed to decode data: %w", err)
			return callErr
		}
	}
	return nil
}

func (sc *simulationClient) authenticate(apiKey, apiSecret string) error {
	var token struct {
		Token string `json:"jwt_token"`
	}
	err := sc.call("auth", http.MethodPost, "/api/v1/auth/token",
		map[string]string{"api_key": apiKey, "api_secret": apiSecret}, &token, false)
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token.Token
	return nil
}

func (sc *simulationClient) executeOrder(req types.OrderRequest) (*types.Execution, error) {
	var exec types.Execution
	if err := sc.call("execute", http.MethodPost, "/api/v1/orders", req, &exec, true); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (sc *simulationClient) getOrder(orderID string) (*types.Execution, error) {
	var exec types.Execution
	if err := sc.call("get", http.MethodGet, "/api/v1/orders/"+orderID, nil, &exec, false); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (sc *simulationClient) cancelOrder(orderID string) (*types.Execution, error) {
	var exec types.Execution
	if err := sc.call("cancel", http.MethodDelete, "/api/v1/orders/"+orderID, nil, &exec, false); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (sc *simulationClient) pushPrices(prices map[string]float64) (*types.PriceUpdateResult, error) {
	var result types.PriceUpdateResult
	if err := sc.call("prices", http.MethodPost, "/api/v1/prices", types.PriceUpdateRequest{Prices: prices}, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

func (sc *simulationClient) deposit(asset string, amount float64) (*types.DepositRecord, error) {
	var rec types.DepositRecord
	if err := sc.call("deposit", http.MethodPost, "/api/v1/deposits", types.FundingRequest{Asset: asset, Amount: amount}, &rec, false); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (sc *simulationClient) account(cur string) (*types.AccountSnapshot, error) {
	var snap types.AccountSnapshot
	if err := sc.call("account", http.MethodGet, "/api/v1/account?currency="+cur, nil, &snap, false); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (sc *simulationClient) history(cur string) (*types.TradeHistorySummary, error) {
	var summary types.TradeHistorySummary
	if err := sc.call("history", http.MethodGet, "/api/v1/history?currency="+cur, nil, &summary, false); err != nil {
		return nil, err
	}
	return &summary, nil
}

// printPerformanceStats outputs latency statistics for every endpoint
func (sc *simulationClient) printPerformanceStats(w io.Writer) {
	names := make([]string, 0, len(sc.stats))
	for key := range sc.stats {
		names = append(names, key)
	}
	sort.Strings(names)

	fmt.Fprintln(w, "\nAPI Performance Statistics")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	fmt.Fprintf(w, "%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, key := range names {
		stats := sc.stats[key]
		if stats.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Fprintf(w, "%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Fprintln(w, strings.Repeat("-", 100))
}
