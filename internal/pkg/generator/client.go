package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
)

// Client communicates with the text generation service
type Client struct {
	httpclient  *http.Client
	generateURL string
	timeout     time.Duration
	backoff     func() backoff.BackOff
}

// NewClient creates a generator client
func NewClient(generateURL string) (*Client, error) {
	res := Client{}
	if generateURL == "" {
		return nil, fmt.Errorf("no generateURL")
	}
	res.generateURL = generateURL
	res.timeout = time.Minute * 10
	res.httpclient = &http.Client{}
	res.backoff = newSimpleBackoff
	return &res, nil
}

type generateRequest struct {
	Kind  string `json:"kind"`
	Input string `json:"input"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate asks the service to produce one artifact text for the input
func (sp *Client) Generate(ctx context.Context, kind, input string) (string, error) {
	b, err := json.Marshal(generateRequest{Kind: kind, Input: input})
	if err != nil {
		return "", fmt.Errorf("can't marshal request: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		req, err := http.NewRequest(http.MethodPost, sp.generateURL, bytes.NewReader(b))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", "application/json")

		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("kind", kind).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", goapp.IsRetryableCode(resp.StatusCode), err
		}
		var respData generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		if respData.Text == "" {
			return "", false, fmt.Errorf("empty generation result")
		}
		return respData.Text, false, nil
	}, sp.backoff())
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
