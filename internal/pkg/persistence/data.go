package persistence

import (
	"database/sql"
	"time"
)

const (
	// DefaultMonthlyMinutes is used for legacy organization records without a monthly target
	DefaultMonthlyMinutes = 6000
	// DefaultMonthlyTaskGenerations is used for legacy organization records without a monthly target
	DefaultMonthlyTaskGenerations = 100
)

// per artifact type sub-flow states, kept separate from the session status
const (
	KindStatusProcessing = "PROCESSING"
	KindStatusCompleted  = "COMPLETED"
	KindStatusFailed     = "FAILED"
)

// artifact file names inside the session folder
const (
	FileTranscript   = "transcript.json"
	FileBulletPoints = "bulletPoints.txt"
	FileMinutes      = "minutes.txt"
	FileTasks        = "tasks.json"
)

type (

	// Session table - one row per uploaded recording
	Session struct {
		ID             string
		Owner          string
		Email          sql.NullString
		OrganizationID string
		FileName       string
		Language       string
		Status         string

		InputBlobName      sql.NullString
		TranscriptKey      sql.NullString
		BulletPointsKey    sql.NullString
		MinutesKey         sql.NullString
		TasksKey           sql.NullString
		TaskFileKey        sql.NullString
		InformationFileKey sql.NullString

		RequestedKinds []string
		BulletsStatus  sql.NullString
		MinutesStatus  sql.NullString
		TasksStatus    sql.NullString

		AudioLengthSeconds sql.NullInt32
		TranscriptFormat   sql.NullString
		SpeakerMap         map[string]string
		ErrorMessage       sql.NullString
		FilesDeletionTime  sql.NullTime

		Created time.Time
		Updated time.Time
		Version int32
	}

	// Organization table - quota scope shared by many sessions
	Organization struct {
		ID                       string
		Name                     string
		RemainingMinutes         int
		RemainingTaskGenerations int
		MonthlyMinutes           sql.NullInt32
		MonthlyTaskGenerations   sql.NullInt32
		Created                  time.Time
		Updated                  time.Time
	}
)

// ArtifactKeys returns all populated output locators of the session
func (s *Session) ArtifactKeys() []string {
	res := []string{}
	for _, k := range []sql.NullString{s.TranscriptKey, s.BulletPointsKey, s.MinutesKey,
		s.TasksKey, s.TaskFileKey, s.InformationFileKey} {
		if k.Valid && k.String != "" {
			res = append(res, k.String)
		}
	}
	return res
}

// Normalized returns a value copy with monthly targets backfilled for legacy rows.
// The stored record is never mutated by a read
func (o Organization) Normalized() Organization {
	if !o.MonthlyMinutes.Valid {
		o.MonthlyMinutes = sql.NullInt32{Int32: DefaultMonthlyMinutes, Valid: true}
	}
	if !o.MonthlyTaskGenerations.Valid {
		o.MonthlyTaskGenerations = sql.NullInt32{Int32: DefaultMonthlyTaskGenerations, Valid: true}
	}
	return o
}
