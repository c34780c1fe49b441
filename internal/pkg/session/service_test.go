package session

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/test"
	"github.com/minto-app/minto/internal/pkg/test/mocks"
	"github.com/minto-app/minto/internal/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

var (
	dbMock     *mocks.DB
	filerMock  *mocks.Filer
	senderMock *mocks.Sender
	tData      *Data
	tEcho      *echo.Echo
)

func initTest(t *testing.T) {
	dbMock = &mocks.DB{}
	filerMock = &mocks.Filer{}
	senderMock = &mocks.Sender{}
	tData = &Data{}
	tData.DB = dbMock
	tData.Reader = filerMock
	tData.MsgSender = senderMock
	tEcho = initRoutes(tData)
	dbMock.On("UpdateSession", mock.Anything, mock.Anything).Return(nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func newTestSession(st status.Status) *persistence.Session {
	return &persistence.Session{ID: "sess1", Owner: "usr", OrganizationID: "org1",
		FileName: "file.mp3", Language: "lt", Status: st.String(), Version: 1}
}

func newJSONReq(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	test.Code(t, tEcho, req, 200)
}

func Test_Get(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.PendingSpeakerEdit)
	ses.AudioLengthSeconds = utils.ToSQLInt32(61)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := httptest.NewRequest(http.MethodGet, "/session/sess1", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	s := test.RStr(t, resp.Body)
	assert.Contains(t, s, `"id":"sess1"`)
	assert.Contains(t, s, `"status":"PENDING_SPEAKER_EDIT"`)
	assert.Contains(t, s, `"audioLengthSeconds":61`)
}

func Test_Get_NotFound(t *testing.T) {
	initTest(t)
	dbMock.On("LoadSession", mock.Anything, "sess2").Return(nil, utils.ErrNotFound)
	req := httptest.NewRequest(http.MethodGet, "/session/sess2", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func Test_Speakers(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.PendingSpeakerEdit)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/speakers", `{"speakers":{"S1":"Vardenis"}}`)
	test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, status.SpeakerEditCompleted.String(), ses.Status)
	assert.Equal(t, map[string]string{"S1": "Vardenis"}, ses.SpeakerMap)
	senderMock.AssertCalled(t, "SendMessage", mock.Anything, mock.Anything, messages.StatusChange)
}

func Test_Speakers_WrongState(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.Uploaded)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/speakers", `{"speakers":{"S1":"Vardenis"}}`)
	test.Code(t, tEcho, req, http.StatusConflict)
}

func Test_Speakers_VersionConflict(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.PendingSpeakerEdit)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("UpdateSession", mock.Anything, mock.Anything).Return(utils.ErrVersionConflict)
	req := newJSONReq(http.MethodPost, "/session/sess1/speakers", `{"speakers":{}}`)
	test.Code(t, tEcho, req, http.StatusConflict)
}

func Test_Generate(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.SpeakerEditCompleted)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/generate", `{"kinds":["bullets","tasks"]}`)
	test.Code(t, tEcho, req, http.StatusOK)

	assert.Equal(t, []string{"bullets", "tasks"}, ses.RequestedKinds)
	assert.Equal(t, status.ProcessingBullets.String(), ses.Status)
	genCalls := 0
	for _, c := range senderMock.Calls {
		if c.Arguments[2] == messages.Generate {
			genCalls++
			msg := c.Arguments[1].(*messages.GenerationMessage)
			assert.Equal(t, "sess1", msg.ID)
		}
	}
	assert.Equal(t, 2, genCalls)
}

func Test_Generate_UnknownKind(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.SpeakerEditCompleted)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/generate", `{"kinds":["olia"]}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func Test_Generate_NoKinds(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.SpeakerEditCompleted)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/generate", `{"kinds":[]}`)
	test.Code(t, tEcho, req, http.StatusBadRequest)
}

func Test_Generate_WrongState(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.Uploaded)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/generate", `{"kinds":["bullets"]}`)
	test.Code(t, tEcho, req, http.StatusConflict)
}

func Test_Generate_RetryAfterFail(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.BulletsFailed)
	ses.RequestedKinds = []string{"bullets"}
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := newJSONReq(http.MethodPost, "/session/sess1/generate", `{"kinds":["bullets"]}`)
	test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, []string{"bullets"}, ses.RequestedKinds)
	assert.Equal(t, status.ProcessingBullets.String(), ses.Status)
}

func Test_Download(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.AllCompleted)
	ses.MinutesKey = utils.ToSQLStr("private/usr/sess1/minutes.txt")
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/minutes.txt").Return(
		newTestFile("olia", "minutes.txt"), nil)
	req := httptest.NewRequest(http.MethodGet, "/session/sess1/result/minutes", nil)
	resp := test.Code(t, tEcho, req, http.StatusOK)
	assert.Equal(t, "olia", test.RStr(t, resp.Body))
	assert.Equal(t, "attachment; filename=minutes.txt", resp.Header().Get("Content-Disposition"))
}

func Test_Download_NoArtifact(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.PendingSpeakerEdit)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	req := httptest.NewRequest(http.MethodGet, "/session/sess1/result/minutes", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

func Test_Download_NoFile(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.AllCompleted)
	ses.MinutesKey = utils.ToSQLStr("private/usr/sess1/minutes.txt")
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/minutes.txt").Return(nil,
		minio.ErrorResponse{StatusCode: http.StatusNotFound})
	req := httptest.NewRequest(http.MethodGet, "/session/sess1/result/minutes", nil)
	test.Code(t, tEcho, req, http.StatusNotFound)
}

type testFileWrap struct {
	r *strings.Reader
	n string
}

func newTestFile(s, n string) *testFileWrap {
	return &testFileWrap{r: strings.NewReader(s), n: n}
}

func (fw *testFileWrap) Read(p []byte) (n int, err error) {
	return fw.r.Read(p)
}

func (fw *testFileWrap) Seek(offset int64, whence int) (int64, error) {
	return fw.r.Seek(offset, whence)
}

func (fw *testFileWrap) Close() error {
	return nil
}

func (fw *testFileWrap) Stat() (fs.FileInfo, error) {
	return testFileInfo{fw: fw}, nil
}

type testFileInfo struct {
	fw *testFileWrap
}

func (i testFileInfo) Name() string       { return i.fw.n }
func (i testFileInfo) Size() int64        { return int64(i.fw.r.Len()) }
func (i testFileInfo) Mode() fs.FileMode  { return 0 }
func (i testFileInfo) ModTime() time.Time { return time.Now() }
func (i testFileInfo) IsDir() bool        { return false }
func (i testFileInfo) Sys() any           { return nil }
