package worker

import (
	"context"
	"strings"
	"testing"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	tapi "github.com/minto-app/minto/internal/pkg/transcriber/api"
	"github.com/minto-app/minto/internal/pkg/test"
	"github.com/minto-app/minto/internal/pkg/test/mocks"
	"github.com/minto-app/minto/internal/pkg/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vgarvardt/gue/v5"
)

var (
	dbMock     *mocks.DB
	senderMock *mocks.Sender
	filerMock  *mocks.Filer
	trMock     *mocks.Transcriber
	genMock    *mocks.Generator
	tData      *ServiceData
)

type testProvider struct {
	tr tapi.Transcriber
}

func (p *testProvider) Get(srv string, allowNew bool) (tapi.Transcriber, string, error) {
	return p.tr, "srv", nil
}

func initTest(t *testing.T) {
	dbMock = &mocks.DB{}
	senderMock = &mocks.Sender{}
	filerMock = &mocks.Filer{}
	trMock = &mocks.Transcriber{}
	genMock = &mocks.Generator{}
	tData = &ServiceData{}
	tData.DB = dbMock
	tData.MsgSender = senderMock
	tData.Filer = filerMock
	tData.TranscriberProvider = &testProvider{tr: trMock}
	tData.Generator = genMock
	tData.MaxTextLen = 6000
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	dbMock.On("UpdateSession", mock.Anything, mock.Anything).Return(nil)
	filerMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func newTestSession(st status.Status) *persistence.Session {
	return &persistence.Session{ID: "sess1", Owner: "usr", OrganizationID: "org1",
		FileName: "file.mp3", Language: "lt", Status: st.String(),
		InputBlobName: utils.ToSQLStr("private/usr/sess1/file.mp3"), Version: 1}
}

type testFileWrap struct {
	r *strings.Reader
}

func newTestFile(s string) *testFileWrap {
	return &testFileWrap{r: strings.NewReader(s)}
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

func sentQueues() []string {
	res := []string{}
	for _, c := range senderMock.Calls {
		res = append(res, c.Arguments[2].(string))
	}
	return res
}

func Test_handleTranscription(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.Uploaded)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("LoadOrganization", mock.Anything, "org1").Return(&persistence.Organization{ID: "org1",
		RemainingMinutes: 100}, nil)
	dbMock.On("DecrementMinutes", mock.Anything, "org1", 2).Return(98, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/file.mp3").Return(newTestFile("audio"), nil)
	trMock.On("Transcribe", mock.Anything, "file.mp3", mock.Anything, "lt").Return(
		&tapi.Result{Text: "olia", DurationSeconds: 61,
			Words: []tapi.Word{{Text: "olia", Start: 0, End: 1, SpeakerID: "S1"}}}, nil)

	err := handleTranscription(test.Ctx(t), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, tData)
	require.Nil(t, err)

	assert.Equal(t, status.PendingSpeakerEdit.String(), ses.Status)
	assert.Equal(t, "private/usr/sess1/transcript.json", ses.TranscriptKey.String)
	assert.Equal(t, int32(61), ses.AudioLengthSeconds.Int32)
	dbMock.AssertCalled(t, "DecrementMinutes", mock.Anything, "org1", 2)
	filerMock.AssertCalled(t, "SaveFile", mock.Anything, "private/usr/sess1/transcript.json", mock.Anything)
	assert.Contains(t, sentQueues(), messages.StatusChange)
	assert.Contains(t, sentQueues(), messages.Inform)
}

func Test_handleTranscription_SkipDone(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.PendingSpeakerEdit)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)

	err := handleTranscription(test.Ctx(t), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, tData)
	require.Nil(t, err)
	dbMock.AssertNotCalled(t, "UpdateSession", mock.Anything, mock.Anything)
	trMock.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_handleTranscription_NoQuota(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.ProcessingTranscription)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("LoadOrganization", mock.Anything, "org1").Return(&persistence.Organization{ID: "org1",
		RemainingMinutes: 0}, nil)

	err := handleTranscription(test.Ctx(t), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, tData)
	require.NotNil(t, err)
	assert.False(t, utils.IsRetryable(err))
	trMock.AssertNotCalled(t, "Transcribe", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_handleTranscription_ChargesOnQuotaOverrun(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.ProcessingTranscription)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("LoadOrganization", mock.Anything, "org1").Return(&persistence.Organization{ID: "org1",
		RemainingMinutes: 1}, nil)
	dbMock.On("DecrementMinutes", mock.Anything, "org1", 2).Return(0, utils.ErrQuotaExceeded)
	dbMock.On("DecrementMinutes", mock.Anything, "org1", 1).Return(0, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/file.mp3").Return(newTestFile("audio"), nil)
	trMock.On("Transcribe", mock.Anything, "file.mp3", mock.Anything, "lt").Return(
		&tapi.Result{Text: "olia", DurationSeconds: 61}, nil)

	err := handleTranscription(test.Ctx(t), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, tData)
	require.NotNil(t, err)
	assert.False(t, utils.IsRetryable(err))
	// transcript is kept, the rest of the balance is charged
	filerMock.AssertCalled(t, "SaveFile", mock.Anything, "private/usr/sess1/transcript.json", mock.Anything)
	dbMock.AssertCalled(t, "DecrementMinutes", mock.Anything, "org1", 1)
}

func Test_handleTranscription_NoSession(t *testing.T) {
	initTest(t)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(nil, utils.ErrNotFound)

	err := handleTranscription(test.Ctx(t), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, tData)
	require.NotNil(t, err)
	assert.False(t, utils.IsRetryable(err))
}

const testTranscript = `{"schema_version":"1.0","audio_duration":10,"language":"lt","text":"olia",
"words":[{"text":"olia","start":0,"end":1,"speaker_id":"S1"}]}`

func newGenSession() *persistence.Session {
	ses := newTestSession(status.SpeakerEditCompleted)
	ses.TranscriptKey = utils.ToSQLStr("private/usr/sess1/transcript.json")
	ses.RequestedKinds = []string{"bullets", "minutes"}
	return ses
}

func Test_handleGeneration_Bullets(t *testing.T) {
	initTest(t)
	ses := newGenSession()
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("TryCompleteAll", mock.Anything, "sess1").Return(false, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/transcript.json").Return(newTestFile(testTranscript), nil)
	genMock.On("Generate", mock.Anything, "bullets", mock.Anything).Return("- olia", nil)

	err := handleGeneration(test.Ctx(t), &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "bullets"}, tData)
	require.Nil(t, err)

	filerMock.AssertCalled(t, "SaveFile", mock.Anything, "private/usr/sess1/bulletPoints.txt", mock.Anything)
	assert.Equal(t, "private/usr/sess1/bulletPoints.txt", ses.BulletPointsKey.String)
	assert.Equal(t, persistence.KindStatusCompleted, ses.BulletsStatus.String)
	assert.Equal(t, status.BulletsCompleted.String(), ses.Status)
}

func Test_handleGeneration_TasksChargesQuota(t *testing.T) {
	initTest(t)
	ses := newGenSession()
	ses.RequestedKinds = []string{"tasks"}
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("TryCompleteAll", mock.Anything, "sess1").Return(true, nil)
	dbMock.On("DecrementTaskGenerations", mock.Anything, "org1", 1).Return(9, nil)
	filerMock.On("LoadFile", mock.Anything, "private/usr/sess1/transcript.json").Return(newTestFile(testTranscript), nil)
	genMock.On("Generate", mock.Anything, "tasks", mock.Anything).Return(`[{"task":"olia"}]`, nil)

	err := handleGeneration(test.Ctx(t), &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "tasks"}, tData)
	require.Nil(t, err)

	dbMock.AssertCalled(t, "DecrementTaskGenerations", mock.Anything, "org1", 1)
	filerMock.AssertCalled(t, "SaveFile", mock.Anything, "private/usr/sess1/tasks.json", mock.Anything)
	assert.Contains(t, sentQueues(), messages.Inform)
}

func Test_handleGeneration_TasksNoQuota(t *testing.T) {
	initTest(t)
	ses := newGenSession()
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	dbMock.On("DecrementTaskGenerations", mock.Anything, "org1", 1).Return(0, utils.ErrQuotaExceeded)

	err := handleGeneration(test.Ctx(t), &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "tasks"}, tData)
	require.NotNil(t, err)
	assert.False(t, utils.IsRetryable(err))
	genMock.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func Test_handleGeneration_SkipCompleted(t *testing.T) {
	initTest(t)
	ses := newGenSession()
	ses.BulletsStatus = utils.ToSQLStr(persistence.KindStatusCompleted)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)

	err := handleGeneration(test.Ctx(t), &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "bullets"}, tData)
	require.Nil(t, err)
	genMock.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func Test_handleGeneration_UnknownKind(t *testing.T) {
	initTest(t)
	err := handleGeneration(test.Ctx(t), &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "olia"}, tData)
	require.NotNil(t, err)
	assert.False(t, utils.IsRetryable(err))
}

func Test_markGenerationFailed(t *testing.T) {
	initTest(t)
	ses := newGenSession()
	ses.Status = status.ProcessingMinutes.String()
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)

	err := markGenerationFailed(test.Ctx(t), tData, &messages.GenerationMessage{
		SessionMessage: messages.SessionMessage{QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		Kind:           "minutes"}, errors.New("olia"))
	require.Nil(t, err)
	assert.Equal(t, persistence.KindStatusFailed, ses.MinutesStatus.String)
	assert.Equal(t, status.MinutesFailed.String(), ses.Status)
	assert.Equal(t, "olia", ses.ErrorMessage.String)
}

func Test_markTranscriptionFailed(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.ProcessingTranscription)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)

	err := markTranscriptionFailed(test.Ctx(t), tData, &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}}, errors.New("olia"))
	require.Nil(t, err)
	assert.Equal(t, status.TranscriptionFailed.String(), ses.Status)
	assert.Equal(t, "olia", ses.ErrorMessage.String)
	assert.Contains(t, sentQueues(), messages.Inform)
}

func Test_transcriptionFailure_Retries(t *testing.T) {
	initTest(t)
	f := transcriptionFailure(tData)
	retry, _, err := f(context.Background(), &messages.SessionMessage{}, errors.New("olia"), &gue.Job{ErrorCount: 1})
	assert.True(t, retry)
	assert.Nil(t, err)
}

func Test_transcriptionFailure_StopsOnNonRetryable(t *testing.T) {
	initTest(t)
	ses := newTestSession(status.ProcessingTranscription)
	dbMock.On("LoadSession", mock.Anything, "sess1").Return(ses, nil)
	f := transcriptionFailure(tData)
	retry, _, err := f(context.Background(), &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: "sess1"}},
		utils.NewErrNonRetryable(errors.New("olia")), &gue.Job{ErrorCount: 0})
	assert.False(t, retry)
	assert.Nil(t, err)
	assert.Equal(t, status.TranscriptionFailed.String(), ses.Status)
}

func Test_minutesFor(t *testing.T) {
	tests := []struct {
		name string
		args float64
		want int
	}{
		{name: "zero", args: 0, want: 0},
		{name: "rounds up", args: 1, want: 1},
		{name: "exact", args: 60, want: 1},
		{name: "above minute", args: 61, want: 2},
		{name: "hour", args: 3600, want: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, minutesFor(tt.args))
		})
	}
}

func Test_validate(t *testing.T) {
	initTest(t)
	tData.GueClient = nil
	err := validate(tData)
	assert.NotNil(t, err)
}
