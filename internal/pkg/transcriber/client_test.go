package transcriber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResp struct {
	code int
	resp string
}

type testReq struct {
	resp string
	URL  string
}

func newTestR(code int, resp string) testResp {
	return testResp{code: code, resp: resp}
}

func newTestReq(req *http.Request) testReq {
	b, _ := io.ReadAll(req.Body)
	return testReq{URL: req.URL.String(), resp: string(b)}
}

func initTestServer(t *testing.T, rData map[string]testResp) (*Client, *httptest.Server, *[]testReq) {
	t.Helper()
	resRequest := make([]testReq, 0)
	rLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rLock.Lock()
		defer rLock.Unlock()
		resRequest = append(resRequest, newTestReq(req))
		resp, f := rData[req.URL.String()]
		if f {
			rw.WriteHeader(resp.code)
			_, _ = rw.Write([]byte(resp.resp))
		} else {
			rw.WriteHeader(http.StatusNotFound)
		}
	}))
	// Use Client & URL from our local test server
	api := Client{}
	api.httpclient = server.Client()
	api.transcribeURL = server.URL + "/transcribe"
	api.timeout = time.Second
	api.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	t.Cleanup(func() { server.Close() })
	return &api, server, &resRequest
}

func TestNewClient(t *testing.T) {
	cl, err := NewClient("http://local:8080/transcribe")
	assert.Nil(t, err)
	assert.NotNil(t, cl)
}

func TestNewClient_Fail(t *testing.T) {
	cl, err := NewClient("")
	assert.NotNil(t, err)
	assert.Nil(t, cl)
}

func TestTranscribe(t *testing.T) {
	cl, _, tReq := initTestServer(t, map[string]testResp{"/transcribe": newTestR(200,
		`{"text":"olia text","duration":61.5,"words":[{"text":"olia","start":0.1,"end":0.5,"speaker_id":"S1"}]}`)})

	res, err := cl.Transcribe(context.Background(), "file.wav", strings.NewReader("audio"), "lt")
	require.Nil(t, err)
	assert.Equal(t, "olia text", res.Text)
	assert.Equal(t, 61.5, res.DurationSeconds)
	require.Equal(t, 1, len(res.Words))
	assert.Equal(t, "S1", res.Words[0].SpeakerID)

	require.Equal(t, 1, len(*tReq))
	assert.Contains(t, (*tReq)[0].resp, `name="language"`)
	assert.Contains(t, (*tReq)[0].resp, "lt")
	assert.Contains(t, (*tReq)[0].resp, "audio")
}

func TestTranscribe_FailCode(t *testing.T) {
	cl, _, _ := initTestServer(t, map[string]testResp{"/transcribe": newTestR(400, "")})

	res, err := cl.Transcribe(context.Background(), "file.wav", strings.NewReader("audio"), "lt")
	assert.NotNil(t, err)
	assert.Nil(t, res)
}

func TestTranscribe_FailEmpty(t *testing.T) {
	cl, _, _ := initTestServer(t, map[string]testResp{"/transcribe": newTestR(200, `{"text":""}`)})

	res, err := cl.Transcribe(context.Background(), "file.wav", strings.NewReader("audio"), "lt")
	assert.NotNil(t, err)
	assert.Nil(t, res)
}
