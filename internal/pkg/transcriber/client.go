package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/cenkalti/backoff/v4"
	tapi "github.com/minto-app/minto/internal/pkg/transcriber/api"
)

const (
	prmFile     = "file"
	prmFileName = "fileName"
	prmLanguage = "language"
)

// Client communicates with transcriber service
type Client struct {
	httpclient    *http.Client
	transcribeURL string
	timeout       time.Duration
	backoff       func() backoff.BackOff
}

// NewClient creates a transcriber client
func NewClient(transcribeURL string) (*Client, error) {
	res := Client{}
	if transcribeURL == "" {
		return nil, fmt.Errorf("no transcribeURL")
	}
	res.transcribeURL = transcribeURL
	res.timeout = time.Minute * 30
	res.httpclient = asrHTTPClient()
	res.backoff = newSimpleBackoff
	return &res, nil
}

// Transcribe sends the audio stream and waits for the full transcription result
func (sp *Client) Transcribe(ctx context.Context, fileName string, audio io.Reader, language string) (*tapi.Result, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(prmFile, fileName)
	if err != nil {
		return nil, fmt.Errorf("can't add file to request: %w", err)
	}
	if _, err = io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("can't add file content to request: %w", err)
	}
	for v, k := range map[string]string{prmFileName: fileName, prmLanguage: language} {
		if err := writer.WriteField(v, k); err != nil {
			return nil, fmt.Errorf("can't add param: %w", err)
		}
	}
	writer.Close()

	return goapp.InvokeWithBackoff(ctx, func() (*tapi.Result, bool, error) {
		req, err := http.NewRequest(http.MethodPost, sp.transcribeURL, bytes.NewReader(body.Bytes()))
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())

		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		res := &tapi.Result{}
		if err := json.NewDecoder(resp.Body).Decode(res); err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't unmarshal: %w", err)
		}
		if res.Text == "" && len(res.Words) == 0 {
			return nil, false, fmt.Errorf("empty transcription result")
		}
		return res, false, nil
	}, sp.backoff())
}

func asrHTTPClient() *http.Client {
	return &http.Client{Transport: newTransport()}
}

func newTransport() http.RoundTripper {
	// default roundripper is not well suited for our case
	// it has just 2 idle connections per host, so try to tune a bit
	res := http.DefaultTransport.(*http.Transport).Clone()
	res.MaxConnsPerHost = 100
	res.MaxIdleConns = 50
	res.MaxIdleConnsPerHost = 50
	res.IdleConnTimeout = 90 * time.Second
	return res
}

func newSimpleBackoff() backoff.BackOff {
	res := backoff.NewExponentialBackOff()
	return backoff.WithMaxRetries(res, 3)
}
