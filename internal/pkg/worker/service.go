package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minto-app/minto/internal/pkg/chunker"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	tapi "github.com/minto-app/minto/internal/pkg/transcriber/api"
	"github.com/minto-app/minto/internal/pkg/utils"
	"github.com/minto-app/minto/internal/pkg/utils/handler"
	"github.com/vgarvardt/gue/v5"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB provides session and quota persistence
type DB interface {
	LoadSession(ctx context.Context, id string) (*persistence.Session, error)
	UpdateSession(ctx context.Context, item *persistence.Session) error
	TryCompleteAll(ctx context.Context, id string) (bool, error)
	LoadOrganization(ctx context.Context, id string) (*persistence.Organization, error)
	DecrementMinutes(ctx context.Context, id string, amount int) (int, error)
	DecrementTaskGenerations(ctx context.Context, id string, amount int) (int, error)
}

// Filer retrieves and saves files
type Filer interface {
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
	SaveFile(ctx context.Context, name string, r io.Reader) error
}

// TranscriberProvider returns a working transcriber instance
type TranscriberProvider interface {
	Get(srv string, allowNew bool) (tapi.Transcriber, string, error)
}

// Generator produces artifact texts
type Generator interface {
	Generate(ctx context.Context, kind, input string) (string, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient           *gue.Client
	WorkerCount         int
	MsgSender           MsgSender
	DB                  DB
	Filer               Filer
	TranscriberProvider TranscriberProvider
	Generator           Generator
	MaxTextLen          int
	Testing             bool
}

// StartWorkerService starts the event queue listener service to listen for events
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}
	if data.MaxTextLen == 0 {
		data.MaxTextLen = chunker.DefaultMaxLen
	}

	trPool, err := newPool(data, messages.Transcribe, "transcription-worker",
		handler.Create(data, handleTranscription, handler.DefaultOpts[messages.SessionMessage]().
			WithFailure(transcriptionFailure(data)).
			WithTimeout(time.Minute*120).WithBackoff(handler.DefaultBackoffOrTest(data.Testing))))
	if err != nil {
		return nil, err
	}
	genPool, err := newPool(data, messages.Generate, "generation-worker",
		handler.Create(data, handleGeneration, handler.DefaultOpts[messages.GenerationMessage]().
			WithFailure(generationFailure(data)).
			WithTimeout(time.Minute*30).WithBackoff(handler.DefaultBackoffOrTest(data.Testing))))
	if err != nil {
		return nil, err
	}

	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		run := func(p *gue.WorkerPool, name string) chan struct{} {
			done := make(chan struct{}, 1)
			go func() {
				if err := p.Run(ctx); err != nil {
					goapp.Log.Error().Err(err).Str("pool", name).Msg("pool error")
				}
				done <- struct{}{}
			}()
			return done
		}
		trDone := run(trPool, "transcription")
		genDone := run(genPool, "generation")
		<-trDone
		<-genDone
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	return res, nil
}

func newPool(data *ServiceData, queue, poolID string, wf gue.WorkFunc) (*gue.WorkerPool, error) {
	pool, err := gue.NewWorkerPool(
		data.GueClient, gue.WorkMap{queue: wf}, data.WorkerCount,
		gue.WithPoolQueue(queue),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID(poolID),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	return pool, nil
}

func handleTranscription(ctx context.Context, m *messages.SessionMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling transcription")
	ses, err := data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	st := status.From(ses.Status)
	if st != status.Uploaded && st != status.ProcessingTranscription {
		// a redelivered job for an already processed session
		goapp.Log.Info().Str("ID", m.ID).Str("status", ses.Status).Msg("already processed - skip")
		return nil
	}
	if st == status.Uploaded {
		ses.Status = status.ProcessingTranscription.String()
		if err := data.DB.UpdateSession(ctx, ses); err != nil {
			return fmt.Errorf("can't update session: %w", err)
		}
		ses.Version++
		sendStatusChange(ctx, data.MsgSender, m.ID)
		err = data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
			QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
			Type:         amessages.InformTypeStarted, At: time.Now()}, messages.Inform)
		if err != nil {
			return fmt.Errorf("can't send msg: %w", err)
		}
	}
	org, err := data.DB.LoadOrganization(ctx, ses.OrganizationID)
	if err != nil {
		if err == utils.ErrNotFound {
			return utils.NewErrNonRetryable(fmt.Errorf("no organization %s", ses.OrganizationID))
		}
		return fmt.Errorf("can't load organization: %w", err)
	}
	if org.RemainingMinutes <= 0 {
		return utils.NewErrNonRetryable(fmt.Errorf("no remaining minutes: %w", utils.ErrQuotaExceeded))
	}

	blobName := m.BlobName
	if blobName == "" {
		blobName = utils.FromSQLStr(ses.InputBlobName)
	}
	if blobName == "" {
		return utils.NewErrNonRetryable(fmt.Errorf("no input blob for %s", m.ID))
	}
	goapp.Log.Info().Str("ID", m.ID).Str("blob", goapp.Sanitize(blobName)).Msg("load audio")
	file, err := data.Filer.LoadFile(ctx, blobName)
	if err != nil {
		return fmt.Errorf("can't load file: %w", err)
	}
	defer file.Close()

	transcriber, srv, err := data.TranscriberProvider.Get("", true)
	if err != nil {
		return fmt.Errorf("can't get transcriber: %w", err)
	}
	if transcriber == nil {
		return fmt.Errorf("no transcriber available")
	}
	goapp.Log.Info().Str("ID", m.ID).Str("srv", srv).Msg("transcribing")
	res, err := transcriber.Transcribe(ctx, ses.FileName, file, ses.Language)
	if err != nil {
		return fmt.Errorf("can't transcribe: %w", err)
	}
	minutes := minutesFor(res.DurationSeconds)
	goapp.Log.Info().Str("ID", m.ID).Float64("duration", res.DurationSeconds).Int("minutes", minutes).Msg("transcribed")

	if err := saveTranscript(ctx, data, ses, res); err != nil {
		return fmt.Errorf("can't save transcript: %w", err)
	}

	// the work was done, charge the real duration even if it exceeds the remaining quota
	if _, err := data.DB.DecrementMinutes(ctx, ses.OrganizationID, minutes); err != nil {
		if err == utils.ErrQuotaExceeded {
			drainMinutes(ctx, data, ses.OrganizationID)
			return utils.NewErrNonRetryable(fmt.Errorf("audio longer than remaining quota: %w", utils.ErrQuotaExceeded))
		}
		return fmt.Errorf("can't decrement minutes: %w", err)
	}

	ses, err = data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	ses.Status = status.PendingSpeakerEdit.String()
	ses.TranscriptKey = utils.ToSQLStr(utils.ObjectPath(ses.Owner, ses.ID, persistence.FileTranscript))
	ses.AudioLengthSeconds = utils.ToSQLInt32(int32(math.Round(res.DurationSeconds)))
	ses.TranscriptFormat = utils.ToSQLStr("json")
	if err := data.DB.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	sendStatusChange(ctx, data.MsgSender, m.ID)
	goapp.Log.Info().Str("ID", m.ID).Msg("Transcription completed")
	return nil
}

func saveTranscript(ctx context.Context, data *ServiceData, ses *persistence.Session, res *tapi.Result) error {
	tr := &persistence.Transcript{SchemaVersion: persistence.TranscriptSchemaVersion,
		AudioDuration: res.DurationSeconds, Language: ses.Language, Text: res.Text}
	for _, w := range res.Words {
		tr.Words = append(tr.Words, persistence.Word{Text: w.Text, Start: w.Start,
			End: w.End, SpeakerID: w.SpeakerID})
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("can't marshal transcript: %w", err)
	}
	name := utils.ObjectPath(ses.Owner, ses.ID, persistence.FileTranscript)
	if err := data.Filer.SaveFile(ctx, name, bytes.NewReader(b)); err != nil {
		return fmt.Errorf("can't save file: %w", err)
	}
	return nil
}

// minutesFor rounds the duration up to full minutes
func minutesFor(durationSeconds float64) int {
	return int(math.Ceil(durationSeconds / 60))
}

// drainMinutes takes the rest of the balance when the real usage was bigger
func drainMinutes(ctx context.Context, data *ServiceData, orgID string) {
	org, err := data.DB.LoadOrganization(ctx, orgID)
	if err != nil {
		goapp.Log.Error().Err(err).Str("orgID", orgID).Msg("can't load organization")
		return
	}
	if org.RemainingMinutes <= 0 {
		return
	}
	if _, err := data.DB.DecrementMinutes(ctx, orgID, org.RemainingMinutes); err != nil {
		goapp.Log.Error().Err(err).Str("orgID", orgID).Msg("can't drain minutes")
	}
}

func handleGeneration(ctx context.Context, m *messages.GenerationMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("kind", m.Kind).Msg("handling generation")
	kind := status.Kind(m.Kind)
	if status.Processing(kind) == 0 {
		return utils.NewErrNonRetryable(fmt.Errorf("unknown kind '%s'", m.Kind))
	}
	ses, err := data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	if kindStatus(ses, kind) == persistence.KindStatusCompleted {
		goapp.Log.Info().Str("ID", m.ID).Str("kind", m.Kind).Msg("already completed - skip")
		return nil
	}
	if kind == status.KindTasks && kindStatus(ses, kind) != persistence.KindStatusProcessing {
		if _, err := data.DB.DecrementTaskGenerations(ctx, ses.OrganizationID, 1); err != nil {
			if err == utils.ErrQuotaExceeded || err == utils.ErrNotFound {
				return utils.NewErrNonRetryable(fmt.Errorf("can't charge task generation: %w", err))
			}
			return fmt.Errorf("can't decrement task generations: %w", err)
		}
	}
	if err := markProcessing(ctx, data, ses, kind); err != nil {
		return err
	}

	text, err := loadTranscriptText(ctx, data, ses)
	if err != nil {
		return err
	}
	chunks := chunker.SplitWithSpeakerContext(text, data.MaxTextLen)
	out, err := generate(ctx, data, kind, chunks)
	if err != nil {
		return fmt.Errorf("can't generate %s: %w", m.Kind, err)
	}

	name := utils.ObjectPath(ses.Owner, ses.ID, artifactFile(kind))
	if err := data.Filer.SaveFile(ctx, name, strings.NewReader(out)); err != nil {
		return fmt.Errorf("can't save file: %w", err)
	}

	ses, err = data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	setArtifactKey(ses, kind, name)
	setKindStatus(ses, kind, persistence.KindStatusCompleted)
	if status.CanTransition(status.From(ses.Status), status.Completed(kind)) {
		ses.Status = status.Completed(kind).String()
	}
	if err := data.DB.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	completedAll, err := data.DB.TryCompleteAll(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't check completion: %w", err)
	}
	sendStatusChange(ctx, data.MsgSender, m.ID)
	if completedAll {
		goapp.Log.Info().Str("ID", m.ID).Msg("all artifacts completed")
		err := data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
			QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
			Type:         amessages.InformTypeFinished, At: time.Now()}, messages.Inform)
		if err != nil {
			goapp.Log.Warn().Err(err).Str("ID", m.ID).Msg("can't send inform msg")
		}
	}
	goapp.Log.Info().Str("ID", m.ID).Str("kind", m.Kind).Msg("Generation completed")
	return nil
}

func markProcessing(ctx context.Context, data *ServiceData, ses *persistence.Session, kind status.Kind) error {
	changed := false
	if kindStatus(ses, kind) != persistence.KindStatusProcessing {
		setKindStatus(ses, kind, persistence.KindStatusProcessing)
		changed = true
	}
	if status.CanTransition(status.From(ses.Status), status.Processing(kind)) {
		ses.Status = status.Processing(kind).String()
		changed = true
	}
	if !changed {
		return nil
	}
	if err := data.DB.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	ses.Version++
	sendStatusChange(ctx, data.MsgSender, ses.ID)
	return nil
}

func loadTranscriptText(ctx context.Context, data *ServiceData, ses *persistence.Session) (string, error) {
	key := utils.FromSQLStr(ses.TranscriptKey)
	if key == "" {
		return "", utils.NewErrNonRetryable(fmt.Errorf("no transcript for %s", ses.ID))
	}
	file, err := data.Filer.LoadFile(ctx, key)
	if err != nil {
		return "", fmt.Errorf("can't load file: %w", err)
	}
	defer file.Close()
	b, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("can't read file: %w", err)
	}
	tr, err := persistence.ParseTranscript(b)
	if err != nil {
		return "", utils.NewErrNonRetryable(err)
	}
	return tr.SpeakerText(ses.SpeakerMap), nil
}

// generate produces the artifact text. Bullet points are made for every chunk
// and joined, other kinds use one call over the first chunk
func generate(ctx context.Context, data *ServiceData, kind status.Kind, chunks []string) (string, error) {
	if len(chunks) == 0 {
		return "", utils.NewErrNonRetryable(fmt.Errorf("empty transcript"))
	}
	if kind == status.KindBullets {
		parts := make([]string, 0, len(chunks))
		for _, ch := range chunks {
			out, err := data.Generator.Generate(ctx, string(kind), ch)
			if err != nil {
				return "", err
			}
			parts = append(parts, out)
		}
		return strings.Join(parts, "\n"), nil
	}
	return data.Generator.Generate(ctx, string(kind), chunks[0])
}

func artifactFile(kind status.Kind) string {
	switch kind {
	case status.KindBullets:
		return persistence.FileBulletPoints
	case status.KindMinutes:
		return persistence.FileMinutes
	case status.KindTasks:
		return persistence.FileTasks
	}
	return ""
}

func kindStatus(ses *persistence.Session, kind status.Kind) string {
	switch kind {
	case status.KindBullets:
		return utils.FromSQLStr(ses.BulletsStatus)
	case status.KindMinutes:
		return utils.FromSQLStr(ses.MinutesStatus)
	case status.KindTasks:
		return utils.FromSQLStr(ses.TasksStatus)
	}
	return ""
}

func setKindStatus(ses *persistence.Session, kind status.Kind, st string) {
	switch kind {
	case status.KindBullets:
		ses.BulletsStatus = utils.ToSQLStr(st)
	case status.KindMinutes:
		ses.MinutesStatus = utils.ToSQLStr(st)
	case status.KindTasks:
		ses.TasksStatus = utils.ToSQLStr(st)
	}
}

func setArtifactKey(ses *persistence.Session, kind status.Kind, name string) {
	switch kind {
	case status.KindBullets:
		ses.BulletPointsKey = utils.ToSQLStr(name)
	case status.KindMinutes:
		ses.MinutesKey = utils.ToSQLStr(name)
	case status.KindTasks:
		ses.TasksKey = utils.ToSQLStr(name)
	}
}

func sendStatusChange(ctx context.Context, sender MsgSender, id string) {
	err := sender.SendMessage(ctx, &amessages.QueueMessage{ID: id}, messages.StatusChange)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't send status change")
	}
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.Filer == nil {
		return fmt.Errorf("no Filer")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.TranscriberProvider == nil {
		return fmt.Errorf("no TranscriberProvider")
	}
	if data.Generator == nil {
		return fmt.Errorf("no Generator")
	}
	return nil
}
