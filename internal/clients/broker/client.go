// Package broker implements the authenticated HTTPS RPC client for the
// external exchange broker. Requests are rate-limited through a
// single-worker queue and signed with HMAC-SHA256 over path||body.
package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinrebalancer/engine/internal/domain"
)

const (
	rateLimitDelay   = 250 * time.Millisecond
	requestQueueSize = 100
	maxRetries       = 3
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPTimeout time.Duration
}

type requestJob struct {
	method       string
	path         string
	body         []byte
	authenticated bool
	resultCh     chan requestResult
}

type requestResult struct {
	status int
	body   []byte
	err    error
}

// Client is the signed RPC client to the exchange broker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger

	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// New creates a Client and starts its rate-limiting worker.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 20 * time.Second
	}
	c := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		log:          log.With().Str("component", "broker_client").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	go c.worker()
	return c
}

// Close drains the queue and stops the worker.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		close(c.requestQueue)
		<-c.workerDone
	})
}

func (c *Client) worker() {
	defer close(c.workerDone)
	var lastRequestTime time.Time
	first := true

	process := func(job requestJob) {
		if !first {
			if elapsed := time.Since(lastRequestTime); elapsed < rateLimitDelay {
				time.Sleep(rateLimitDelay - elapsed)
			}
		}
		first = false
		status, body, err := c.doWithRetry(job.method, job.path, job.body, job.authenticated)
		lastRequestTime = time.Now()
		job.resultCh <- requestResult{status: status, body: body, err: err}
	}

	for {
		select {
		case <-c.stopChan:
			for {
				select {
				case job, ok := <-c.requestQueue:
					if !ok {
						return
					}
					process(job)
				default:
					return
				}
			}
		case job, ok := <-c.requestQueue:
			if !ok {
				return
			}
			process(job)
		}
	}
}

// enqueue submits a request job and waits for its result.
func (c *Client) enqueue(ctx context.Context, method, path string, body []byte, authenticated bool) ([]byte, error) {
	resultCh := make(chan requestResult, 1)
	job := requestJob{method: method, path: path, body: body, authenticated: authenticated, resultCh: resultCh}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return nil, fmt.Errorf("broker client is closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		select {
		case c.requestQueue <- job:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, fmt.Errorf("broker request queue is full")
		}
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, result.err
		}
		return result.body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doWithRetry performs one logical request in up to maxRetries attempts,
// retrying transient failures (network errors and 5xx) after a 1s, then
// 2s backoff.
// 4xx responses are returned immediately as non-retryable BrokerErrors.
func (c *Client) doWithRetry(method, path string, body []byte, authenticated bool) (int, []byte, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, respBody, err := c.doOnce(method, path, body, authenticated)
		if err == nil && status < 500 {
			if status >= 400 {
				return status, respBody, domain.NewBrokerError(status, string(respBody), nil)
			}
			return status, respBody, nil
		}
		if err == nil {
			lastErr = domain.NewBrokerError(status, string(respBody), nil)
		} else {
			lastErr = domain.NewBrokerError(0, "transport failure", err)
		}
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	return 0, nil, lastErr
}

func (c *Client) doOnce(method, path string, body []byte, authenticated bool) (int, []byte, error) {
	url := c.cfg.BaseURL + path
	var bodyReader io.Reader
	if body != nil {
		bodyReader = strings.NewReader(string(body))
	}
	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if authenticated {
		signaturePayload := path
		if body != nil {
			signaturePayload += string(body)
		}
		req.Header.Set("APIKEY", c.cfg.APIKey)
		req.Header.Set("Signature", sign(c.cfg.APISecret, signaturePayload))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// sign computes HMAC-SHA256 over message, hex-encoded.
func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// serialize marshals v to compact JSON, returning nil for a nil v (GETs
// with no body sign over an empty string).
func serialize(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// jitteredDelay returns a poll interval around base with up to ±30%
// jitter, so concurrent bots polling the same trade don't thunder.
func jitteredDelay(base time.Duration) time.Duration {
	jitter := time.Duration(rand.Int63n(int64(base) * 6 / 10)) - (base * 3 / 10)
	d := base + jitter
	if d < 0 {
		d = base
	}
	return d
}
