package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/utils"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

const sessionFields = `id, owner, email, organization_id, file_name, language, status,
	input_blob_name, transcript_key, bullet_points_key, minutes_key, tasks_key,
	task_file_key, information_file_key, requested_kinds,
	bullets_status, minutes_status, tasks_status,
	audio_length_seconds, transcript_format, speaker_map, error_message,
	files_deletion_time, created, updated, version`

func scanSession(row pgx.Row) (*persistence.Session, error) {
	var res persistence.Session
	err := row.Scan(&res.ID, &res.Owner, &res.Email, &res.OrganizationID, &res.FileName,
		&res.Language, &res.Status,
		&res.InputBlobName, &res.TranscriptKey, &res.BulletPointsKey, &res.MinutesKey,
		&res.TasksKey, &res.TaskFileKey, &res.InformationFileKey, &res.RequestedKinds,
		&res.BulletsStatus, &res.MinutesStatus, &res.TasksStatus,
		&res.AudioLengthSeconds, &res.TranscriptFormat, &res.SpeakerMap, &res.ErrorMessage,
		&res.FilesDeletionTime, &res.Created, &res.Updated, &res.Version)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// InsertSession inserts session into DB
func (db *DB) InsertSession(ctx context.Context, item *persistence.Session) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO sessions(id, owner, email, organization_id,
	file_name, language, status, input_blob_name, created, updated, version)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)`, item.ID, item.Owner, item.Email,
		item.OrganizationID, item.FileName, item.Language, item.Status, item.InputBlobName,
		time.Now())
	if err != nil {
		return fmt.Errorf("can't insert session: %w", err)
	}
	defer rows.Close()
	return nil
}

// UpsertSession inserts a session or patches only the unset fields of an existing one.
// The owner and status of an existing record are never touched,
// so a redelivered storage event can't move a session backwards
func (db *DB) UpsertSession(ctx context.Context, item *persistence.Session) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO sessions(id, owner, email, organization_id,
	file_name, language, status, input_blob_name, created, updated, version)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, 1)
	ON CONFLICT (id) DO UPDATE SET
	email = COALESCE(sessions.email, EXCLUDED.email),
	file_name = CASE WHEN sessions.file_name = '' THEN EXCLUDED.file_name ELSE sessions.file_name END,
	language = CASE WHEN sessions.language = '' THEN EXCLUDED.language ELSE sessions.language END,
	input_blob_name = COALESCE(sessions.input_blob_name, EXCLUDED.input_blob_name),
	updated = $9,
	version = sessions.version + 1`, item.ID, item.Owner, item.Email,
		item.OrganizationID, item.FileName, item.Language, item.Status, item.InputBlobName,
		time.Now())
	if err != nil {
		return fmt.Errorf("can't upsert session: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadSession loads session from DB
func (db *DB) LoadSession(ctx context.Context, id string) (*persistence.Session, error) {
	res, err := scanSession(db.pool.QueryRow(ctx, `SELECT `+sessionFields+` FROM sessions
		WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, utils.ErrNotFound
		}
		return nil, fmt.Errorf("can't load session: %w", err)
	}
	return res, nil
}

// UpdateSession updates session fields conditioned on version.
// The owner column is immutable and is never part of the update
func (db *DB) UpdateSession(ctx context.Context, item *persistence.Session) error {
	rows, err := db.pool.Exec(ctx, `UPDATE sessions SET
	status = $3,
	email = $4,
	file_name = $5,
	language = $6,
	input_blob_name = $7,
	transcript_key = $8,
	bullet_points_key = $9,
	minutes_key = $10,
	tasks_key = $11,
	task_file_key = $12,
	information_file_key = $13,
	requested_kinds = $14,
	bullets_status = $15,
	minutes_status = $16,
	tasks_status = $17,
	audio_length_seconds = $18,
	transcript_format = $19,
	speaker_map = $20,
	error_message = $21,
	files_deletion_time = $22,
	updated = $23,
	version = $2 + 1
	WHERE id = $1 and version = $2`, item.ID, item.Version, item.Status,
		item.Email, item.FileName, item.Language, item.InputBlobName,
		item.TranscriptKey, item.BulletPointsKey, item.MinutesKey, item.TasksKey,
		item.TaskFileKey, item.InformationFileKey, item.RequestedKinds,
		item.BulletsStatus, item.MinutesStatus, item.TasksStatus,
		item.AudioLengthSeconds, item.TranscriptFormat, item.SpeakerMap,
		item.ErrorMessage, item.FilesDeletionTime, time.Now())
	if err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update session %s: %w", item.ID, utils.ErrVersionConflict)
	}
	return nil
}

// TryCompleteAll moves a session to the final completed state in one conditional statement.
// The transition happens only if every requested artifact type is completed and
// its output locator is set. Returns true if the row moved
func (db *DB) TryCompleteAll(ctx context.Context, id string) (bool, error) {
	froms := []string{}
	for _, st := range []status.Status{status.ProcessingBullets, status.BulletsCompleted, status.BulletsFailed,
		status.ProcessingMinutes, status.MinutesCompleted, status.MinutesFailed,
		status.ProcessingTasks, status.TasksCompleted, status.TasksFailed} {
		froms = append(froms, st.String())
	}
	rows, err := db.pool.Exec(ctx, `UPDATE sessions SET
	status = $2,
	updated = $3,
	version = version + 1
	WHERE id = $1
	AND status = ANY($4)
	AND requested_kinds IS NOT NULL AND cardinality(requested_kinds) > 0
	AND NOT ($5 = ANY(requested_kinds) AND (bullet_points_key IS NULL OR bullets_status IS DISTINCT FROM $8))
	AND NOT ($6 = ANY(requested_kinds) AND (minutes_key IS NULL OR minutes_status IS DISTINCT FROM $8))
	AND NOT ($7 = ANY(requested_kinds) AND (tasks_key IS NULL OR tasks_status IS DISTINCT FROM $8))`,
		id, status.AllCompleted.String(), time.Now(), froms,
		string(status.KindBullets), string(status.KindMinutes), string(status.KindTasks),
		persistence.KindStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("can't complete session: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// LoadExpiredSessions selects terminal sessions older than `olderThan` with files
// not yet dropped, at most `limit` records per call
func (db *DB) LoadExpiredSessions(ctx context.Context, olderThan time.Time, limit int) ([]*persistence.Session, error) {
	rows, err := db.pool.Query(ctx, `SELECT `+sessionFields+` FROM sessions
		WHERE created < $1 AND files_deletion_time IS NULL AND status = ANY($3)
		ORDER BY created LIMIT $2`, olderThan, limit, status.TerminalNames())
	if err != nil {
		return nil, fmt.Errorf("can't select sessions: %w", err)
	}
	defer rows.Close()

	res := []*persistence.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("can't retrieve session: %w", err)
		}
		res = append(res, s)
	}
	return res, nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
