package bitget

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fibo-hedge-bot/internal/config"
	"fibo-hedge-bot/internal/exchange"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const successCode = "00000"

type Options struct {
	BaseURL     string
	ProductType string
	MarginCoin  string
	MarginMode  string
	Timeout     time.Duration
	// Limiter is shared by every client built from the same credentials.
	Limiter *rate.Limiter
}

// Client is a signed REST client for the Bitget v2 mix (futures) API in
// hedge position mode. It implements exchange.Gateway.
type Client struct {
	http    *resty.Client
	creds   config.Credentials
	opts    Options
	limiter *rate.Limiter
	prices  PriceSource
	log     *zap.Logger
	now     func() time.Time
}

// PriceSource supplies a cached price; ok is false when none is fresh.
type PriceSource interface {
	Price(pair string) (decimal.Decimal, bool)
}

func New(creds config.Credentials, opts Options, log *zap.Logger) (*Client, error) {
	if !creds.Complete() {
		return nil, errors.New("bitget credentials are incomplete")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.bitget.com"
	}
	if opts.ProductType == "" {
		opts.ProductType = "USDT-FUTURES"
	}
	if opts.MarginCoin == "" {
		opts.MarginCoin = "USDT"
	}
	if opts.MarginMode == "" {
		opts.MarginMode = "crossed"
	}
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("locale", "en-US")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}
	return &Client{
		http:    httpClient,
		creds:   creds,
		opts:    opts,
		limiter: opts.Limiter,
		log:     log,
		now:     time.Now,
	}, nil
}

// SetPriceSource makes Price prefer the streamed ticker over REST.
func (c *Client) SetPriceSource(src PriceSource) {
	c.prices = src
}

type envelope struct {
	Code        string          `json:"code"`
	Msg         string          `json:"msg"`
	RequestTime int64           `json:"requestTime"`
	Data        json.RawMessage `json:"data"`
}

// Sign computes the ACCESS-SIGN header:
// base64(hmac_sha256(secret, timestamp + METHOD + path[?query] + body)).
func Sign(secret, timestamp, method, path, query, body string) string {
	prehash := timestamp + strings.ToUpper(method) + path
	if query != "" {
		prehash += "?" + query
	}
	prehash += body
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params.Encode(), nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "", payload, out)
}

func (c *Client) do(ctx context.Context, method, path, query string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s %s: rate limiter: %w", method, path, err)
		}
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	req := c.http.R().
		SetContext(ctx).
		SetHeader("ACCESS-KEY", c.creds.APIKey).
		SetHeader("ACCESS-SIGN", Sign(c.creds.APISecret, ts, method, path, query, string(body))).
		SetHeader("ACCESS-TIMESTAMP", ts).
		SetHeader("ACCESS-PASSPHRASE", c.creds.Passphrase)
	if query != "" {
		req.SetQueryString(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w: %v", method, path, exchange.ErrTimeout, err)
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	var env envelope
	if jerr := json.Unmarshal(resp.Body(), &env); jerr != nil {
		if resp.StatusCode() == http.StatusTooManyRequests {
			return fmt.Errorf("%s %s: %w", method, path, exchange.ErrRateLimited)
		}
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode(), truncate(resp.Body()))
	}
	if resp.StatusCode() == http.StatusTooManyRequests || env.Code != successCode {
		apiErr := &APIError{Status: resp.StatusCode(), Code: env.Code, Msg: env.Msg}
		c.log.Debug("bitget api error", zap.String("path", path), zap.Int("status", apiErr.Status), zap.String("code", apiErr.Code), zap.String("msg", apiErr.Msg))
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s %s: decode data: %w", method, path, err)
	}
	return nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
