package worker

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/utils"
	"github.com/vgarvardt/gue/v5"
)

const maxJobRetries = 3

// transcriptionFailure decides on a retry and moves the session
// to the failed state when no more retries are left
func transcriptionFailure(data *ServiceData) func(context.Context, *messages.SessionMessage, error, *gue.Job) (bool, time.Duration, error) {
	return func(ctx context.Context, m *messages.SessionMessage, err error, j *gue.Job) (bool, time.Duration, error) {
		if utils.IsRetryable(err) && j.ErrorCount < maxJobRetries {
			return true, 0, nil
		}
		return false, 0, markTranscriptionFailed(ctx, data, m, err)
	}
}

func markTranscriptionFailed(ctx context.Context, data *ServiceData, m *messages.SessionMessage, cause error) error {
	goapp.Log.Warn().Err(cause).Str("ID", m.ID).Msg("mark transcription failed")
	ses, err := data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	if !status.CanTransition(status.From(ses.Status), status.TranscriptionFailed) {
		goapp.Log.Info().Str("ID", m.ID).Str("status", ses.Status).Msg("skip failure update")
		return nil
	}
	ses.Status = status.TranscriptionFailed.String()
	ses.ErrorMessage = utils.ToSQLStr(cause.Error())
	if err := data.DB.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	sendStatusChange(ctx, data.MsgSender, m.ID)
	err = data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: *amessages.NewQueueMessageFromM(&m.QueueMessage),
		Type:         amessages.InformTypeFailed, At: time.Now()}, messages.Inform)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", m.ID).Msg("can't send inform msg")
	}
	return nil
}

// generationFailure marks only the failed artifact type,
// other requested types keep going
func generationFailure(data *ServiceData) func(context.Context, *messages.GenerationMessage, error, *gue.Job) (bool, time.Duration, error) {
	return func(ctx context.Context, m *messages.GenerationMessage, err error, j *gue.Job) (bool, time.Duration, error) {
		if utils.IsRetryable(err) && j.ErrorCount < maxJobRetries {
			return true, 0, nil
		}
		return false, 0, markGenerationFailed(ctx, data, m, err)
	}
}

func markGenerationFailed(ctx context.Context, data *ServiceData, m *messages.GenerationMessage, cause error) error {
	goapp.Log.Warn().Err(cause).Str("ID", m.ID).Str("kind", m.Kind).Msg("mark generation failed")
	kind := status.Kind(m.Kind)
	if status.Failed(kind) == 0 {
		return nil
	}
	ses, err := data.DB.LoadSession(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load session: %w", err)
	}
	if kindStatus(ses, kind) == persistence.KindStatusCompleted {
		return nil
	}
	setKindStatus(ses, kind, persistence.KindStatusFailed)
	if status.CanTransition(status.From(ses.Status), status.Failed(kind)) {
		ses.Status = status.Failed(kind).String()
	}
	ses.ErrorMessage = utils.ToSQLStr(cause.Error())
	if err := data.DB.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	sendStatusChange(ctx, data.MsgSender, m.ID)
	return nil
}
