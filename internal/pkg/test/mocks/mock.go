package mocks

import (
	"context"
	"io"
	"time"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/transcriber/api"
	"github.com/stretchr/testify/mock"
)

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader) error {
	args := m.Called(ctx, name, r)
	return args.Error(0)
}

// LoadFile func mock
func (m *Filer) LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, fileName)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

// Delete func mock
func (m *Filer) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) InsertSession(ctx context.Context, item *persistence.Session) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) UpsertSession(ctx context.Context, item *persistence.Session) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) LoadSession(ctx context.Context, id string) (*persistence.Session, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Session](args.Get(0)), args.Error(1)
}

func (m *DB) UpdateSession(ctx context.Context, item *persistence.Session) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) TryCompleteAll(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *DB) LoadExpiredSessions(ctx context.Context, olderThan time.Time, limit int) ([]*persistence.Session, error) {
	args := m.Called(ctx, olderThan, limit)
	return to[[]*persistence.Session](args.Get(0)), args.Error(1)
}

func (m *DB) LoadOrganization(ctx context.Context, id string) (*persistence.Organization, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Organization](args.Get(0)), args.Error(1)
}

func (m *DB) DecrementMinutes(ctx context.Context, id string, amount int) (int, error) {
	args := m.Called(ctx, id, amount)
	return args.Int(0), args.Error(1)
}

func (m *DB) DecrementTaskGenerations(ctx context.Context, id string, amount int) (int, error) {
	args := m.Called(ctx, id, amount)
	return args.Int(0), args.Error(1)
}

func (m *DB) LockEmailTable(ctx context.Context, id string, key string) error {
	args := m.Called(ctx, id, key)
	return args.Error(0)
}

func (m *DB) UnLockEmailTable(ctx context.Context, id string, key string, value *int) error {
	args := m.Called(ctx, id, key, *value)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Transcriber is transcription client mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Transcribe(ctx context.Context, fileName string, audio io.Reader, language string) (*api.Result, error) {
	args := m.Called(ctx, fileName, audio, language)
	return to[*api.Result](args.Get(0)), args.Error(1)
}

// Generator is text generation client mock
type Generator struct{ mock.Mock }

func (m *Generator) Generate(ctx context.Context, kind, input string) (string, error) {
	args := m.Called(ctx, kind, input)
	return args.String(0), args.Error(1)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
