package price

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"gas-tracker-bot/internal/types"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Source produces gas readings.
type Source interface {
	Fetch(ctx context.Context) (types.GasReading, error)
}

// EtherscanSource reads the Etherscan gastracker/gasoracle endpoint.
type EtherscanSource struct {
	baseURL string
	apiKey  string
	client  *http.Client
	now     func() time.Time
}

// NewEtherscanSource falls back to DefaultFetchTimeout for a non-positive timeout.
func NewEtherscanSource(baseURL, apiKey string, timeout time.Duration) *EtherscanSource {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &EtherscanSource{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

type oracleResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type oracleResult struct {
	LastBlock       string `json:"LastBlock"`
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
	SuggestBaseFee  string `json:"suggestBaseFee"`
}

func (s *EtherscanSource) endpoint() (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid etherscan url")
	}
	q := u.Query()
	q.Set("chainid", "1")
	q.Set("module", "gastracker")
	q.Set("action", "gasoracle")
	q.Set("apikey", s.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch calls the oracle once. Every failure is an *types.UpstreamError.
func (s *EtherscanSource) Fetch(ctx context.Context) (types.GasReading, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return types.GasReading{}, &types.UpstreamError{Op: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.GasReading{}, &types.UpstreamError{Op: "build request", Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return types.GasReading{}, &types.UpstreamError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.GasReading{}, &types.UpstreamError{Op: "request", Err: errors.Errorf("unexpected status %d", resp.StatusCode)}
	}

	var body oracleResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return types.GasReading{}, &types.UpstreamError{Op: "decode", Err: err}
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("gas oracle response: %s", spew.Sdump(body))
	}

	if body.Status != "1" {
		// on errors the result field holds a message string
		var reason string
		if err := json.Unmarshal(body.Result, &reason); err != nil || reason == "" {
			reason = body.Message
		}
		return types.GasReading{}, &types.UpstreamError{Op: "oracle", Err: errors.Errorf("status %q: %s", body.Status, reason)}
	}

	var result oracleResult
	if err := json.Unmarshal(body.Result, &result); err != nil {
		return types.GasReading{}, &types.UpstreamError{Op: "decode", Err: err}
	}

	return parseReading(result, s.now())
}

func parseReading(r oracleResult, fetchedAt time.Time) (types.GasReading, error) {
	low, err := parseGwei("SafeGasPrice", r.SafeGasPrice)
	if err != nil {
		return types.GasReading{}, err
	}
	avg, err := parseGwei("ProposeGasPrice", r.ProposeGasPrice)
	if err != nil {
		return types.GasReading{}, err
	}
	high, err := parseGwei("FastGasPrice", r.FastGasPrice)
	if err != nil {
		return types.GasReading{}, err
	}

	return types.GasReading{
		Low:       low,
		Average:   avg,
		High:      high,
		FetchedAt: fetchedAt,
	}, nil
}

func parseGwei(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Decimal{}, &types.UpstreamError{Op: "validate", Err: errors.Errorf("missing %s", field)}
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &types.UpstreamError{Op: "validate", Err: errors.Errorf("%s is not a number: %q", field, raw)}
	}
	if v.IsNegative() {
		return decimal.Decimal{}, &types.UpstreamError{Op: "validate", Err: errors.Errorf("%s is negative: %s", field, raw)}
	}
	return v, nil
}
