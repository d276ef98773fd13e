package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lending-rate-alerts/internal/monitor"
)

const ratesPath = "/api/v1/rates"

// APIOptions parameterise the HTTP rate provider. The endpoint is expected
// to front the actual rate source (typically a browser-automation scraper
// exposing its latest snapshots over REST).
type APIOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	AuthToken string
}

// API fetches lending rates from an HTTP JSON endpoint.
type API struct {
	opts    APIOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAPI constructs an HTTP rate provider.
func NewAPI(opts APIOptions, logger zerolog.Logger) *API {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &API{
		opts:    opts,
		logger:  logger.With().Str("component", "api_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Fetch retrieves the current annualised rate for a target.
func (a *API) Fetch(ctx context.Context, target monitor.Target) (monitor.Observation, error) {
	if a.baseURL == "" {
		return monitor.Observation{}, errors.New("rate api base url not configured")
	}

	query := url.Values{}
	query.Set("symbol", target.Key.Symbol)
	query.Set("exchange", target.Key.Exchange)
	query.Set("timeframe", target.Key.Timeframe)

	endpoint := a.baseURL + ratesPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return monitor.Observation{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "ratewatcher/1.0")
	}
	if a.opts.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.opts.AuthToken)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return monitor.Observation{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return monitor.Observation{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return monitor.Observation{}, parseHTTPError(resp.StatusCode, payload)
	}

	var rateRes rateResponse
	if err := json.Unmarshal(payload, &rateRes); err != nil {
		return monitor.Observation{}, err
	}

	rate, err := decimal.NewFromString(rateRes.AnnualRate.String())
	if err != nil {
		return monitor.Observation{}, fmt.Errorf("parse annual rate: %w", err)
	}

	obs := monitor.Observation{
		Rate:       rate,
		ObservedAt: time.Now().UTC(),
	}
	for _, raw := range rateRes.History {
		// 历史点解析失败只影响展示，不影响判定
		var p ratePoint
		if err := json.Unmarshal(raw, &p); err != nil {
			a.logger.Warn().Err(err).Stringer("target", target.Key).Msg("skipping unparsable history point")
			continue
		}
		hr, err := decimal.NewFromString(p.Rate.String())
		if err != nil {
			a.logger.Warn().Err(err).Stringer("target", target.Key).Msg("skipping unparsable history point")
			continue
		}
		obs.History = append(obs.History, monitor.RatePoint{Time: p.Time, Rate: hr})
	}

	return obs, nil
}

type rateResponse struct {
	Symbol     string            `json:"symbol"`
	Exchange   string            `json:"exchange"`
	Timeframe  string            `json:"timeframe"`
	AnnualRate json.Number       `json:"annual_rate"`
	History    []json.RawMessage `json:"history"`
	ScrapedAt  time.Time         `json:"scraped_at"`
}

type ratePoint struct {
	Time time.Time   `json:"time"`
	Rate json.Number `json:"rate"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("rate api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("rate api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("rate api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("rate api error (%d)", status)
}
