package clean

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/utils"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// DB provides session records for cleaning
type DB interface {
	LoadSession(ctx context.Context, id string) (*persistence.Session, error)
	UpdateSession(ctx context.Context, item *persistence.Session) error
	LoadExpiredSessions(ctx context.Context, olderThan time.Time, limit int) ([]*persistence.Session, error)
}

// Filer removes stored files
type Filer interface {
	Delete(ctx context.Context, name string) error
}

// SessionCleaner drops a session's stored files and marks the record afterwards
type SessionCleaner struct {
	db    DB
	filer Filer

	deleteRetries int
	retryStep     time.Duration
}

// SweepReport summarizes one sweep run
type SweepReport struct {
	Selected int
	Cleaned  int
	Failed   int
	Partial  bool
}

// NewSessionCleaner creates the cleaner instance
func NewSessionCleaner(db DB, filer Filer) (*SessionCleaner, error) {
	if db == nil {
		return nil, errors.New("no db")
	}
	if filer == nil {
		return nil, errors.New("no filer")
	}
	return &SessionCleaner{db: db, filer: filer, deleteRetries: 3, retryStep: time.Second}, nil
}

// Clean removes all files of one session, each file retried on failure.
// Record keys are cleared only after every file is gone
func (c *SessionCleaner) Clean(ctx context.Context, id string) error {
	ses, err := c.db.LoadSession(ctx, id)
	if err != nil {
		return fmt.Errorf("can't load session %s: %w", id, err)
	}
	var errAll error
	for _, key := range fileKeys(ses) {
		key := key
		err := utils.Retry(ctx, func() error { return c.filer.Delete(ctx, key) }, c.deleteRetries, c.retryStep)
		if err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("can't delete %s: %w", key, err))
		}
	}
	if errAll != nil {
		return errAll
	}
	return c.markDeleted(ctx, ses)
}

// Sweep cleans expired sessions up to limit, stopping at deadline if set.
// Sessions still in progress are skipped. One failed session does not stop the others
func (c *SessionCleaner) Sweep(ctx context.Context, olderThan time.Time, limit int, deadline time.Time) (*SweepReport, error) {
	sessions, err := c.db.LoadExpiredSessions(ctx, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("can't load expired sessions: %w", err)
	}
	res := &SweepReport{Selected: len(sessions)}
	var errAll error
	for i, ses := range sessions {
		if !deadline.IsZero() && time.Now().After(deadline) {
			res.Partial = true
			goapp.Log.Warn().Int("left", len(sessions)-i).Msg("sweep budget spent")
			break
		}
		if !status.IsTerminal(status.From(ses.Status)) {
			goapp.Log.Warn().Str("ID", ses.ID).Str("status", ses.Status).Msg("skip not finished session")
			continue
		}
		if err := c.cleanOne(ctx, ses); err != nil {
			goapp.Log.Error().Err(err).Str("ID", ses.ID).Msg("can't clean session")
			res.Failed++
			errAll = multierr.Append(errAll, err)
			continue
		}
		res.Cleaned++
	}
	return res, errAll
}

func (c *SessionCleaner) cleanOne(ctx context.Context, ses *persistence.Session) error {
	var errAll error
	for _, key := range fileKeys(ses) {
		if err := c.filer.Delete(ctx, key); err != nil {
			errAll = multierr.Append(errAll, fmt.Errorf("can't delete %s: %w", key, err))
		}
	}
	if errAll != nil {
		return errAll
	}
	return c.markDeleted(ctx, ses)
}

func (c *SessionCleaner) markDeleted(ctx context.Context, ses *persistence.Session) error {
	ses.TranscriptKey, ses.BulletPointsKey, ses.MinutesKey = sql.NullString{}, sql.NullString{}, sql.NullString{}
	ses.TasksKey, ses.TaskFileKey, ses.InformationFileKey = sql.NullString{}, sql.NullString{}, sql.NullString{}
	ses.InputBlobName = sql.NullString{}
	ses.FilesDeletionTime = utils.ToSQLTime(time.Now())
	if err := c.db.UpdateSession(ctx, ses); err != nil {
		return fmt.Errorf("can't update session %s: %w", ses.ID, err)
	}
	goapp.Log.Info().Str("ID", ses.ID).Msg("files dropped")
	return nil
}

func fileKeys(ses *persistence.Session) []string {
	res := ses.ArtifactKeys()
	if ses.InputBlobName.Valid && ses.InputBlobName.String != "" {
		res = append(res, ses.InputBlobName.String)
	}
	return res
}
