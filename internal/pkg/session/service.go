package session

import (
	"context"
	"io"
	"io/fs"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/utils"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FileReader loads file by name
type FileReader interface {
	LoadFile(ctx context.Context, name string) (io.ReadSeekCloser, error)
}

// DB loads and updates sessions
type DB interface {
	LoadSession(ctx context.Context, id string) (*persistence.Session, error)
	UpdateSession(ctx context.Context, item *persistence.Session) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	Reader    FileReader
	MsgSender MsgSender
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Int("port", data.Port).Msg("Starting HTTP MINTO session service")

	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 5 * time.Minute

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.DB == nil {
		return errors.New("no DB")
	}
	if data.Reader == nil {
		return errors.New("no file reader")
	}
	if data.MsgSender == nil {
		return errors.New("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("minto_session", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/session/:id", get(data))
	e.POST("/session/:id/speakers", speakers(data))
	e.POST("/session/:id/generate", generate(data))
	e.GET("/session/:id/result/:kind", download(data))
	e.HEAD("/session/:id/result/:kind", download(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type sessionView struct {
	ID                 string            `json:"id"`
	FileName           string            `json:"fileName"`
	Language           string            `json:"language,omitempty"`
	Status             string            `json:"status"`
	AudioLengthSeconds int32             `json:"audioLengthSeconds,omitempty"`
	RequestedKinds     []string          `json:"requestedKinds,omitempty"`
	BulletsStatus      string            `json:"bulletsStatus,omitempty"`
	MinutesStatus      string            `json:"minutesStatus,omitempty"`
	TasksStatus        string            `json:"tasksStatus,omitempty"`
	Speakers           map[string]string `json:"speakers,omitempty"`
	Error              string            `json:"error,omitempty"`
	Created            time.Time         `json:"created"`
}

func newSessionView(ses *persistence.Session) *sessionView {
	return &sessionView{ID: ses.ID, FileName: ses.FileName, Language: ses.Language,
		Status:             ses.Status,
		AudioLengthSeconds: utils.FromSQLInt32OrZero(ses.AudioLengthSeconds),
		RequestedKinds:     ses.RequestedKinds,
		BulletsStatus:      utils.FromSQLStr(ses.BulletsStatus),
		MinutesStatus:      utils.FromSQLStr(ses.MinutesStatus),
		TasksStatus:        utils.FromSQLStr(ses.TasksStatus),
		Speakers:           ses.SpeakerMap,
		Error:              utils.FromSQLStr(ses.ErrorMessage),
		Created:            ses.Created}
}

func get(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("get method")()
		ses, err := loadSession(c, data)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newSessionView(ses))
	}
}

type speakersInput struct {
	Speakers map[string]string `json:"speakers"`
}

func speakers(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("speakers method")()
		ctx := c.Request().Context()
		ses, err := loadSession(c, data)
		if err != nil {
			return err
		}
		var input speakersInput
		if err := c.Bind(&input); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "can't decode input")
		}
		if !status.CanTransition(status.From(ses.Status), status.SpeakerEditCompleted) {
			return echo.NewHTTPError(http.StatusConflict, "wrong state "+ses.Status)
		}
		ses.SpeakerMap = input.Speakers
		ses.Status = status.SpeakerEditCompleted.String()
		if err := data.DB.UpdateSession(ctx, ses); err != nil {
			return updateError(err)
		}
		sendStatusChange(ctx, data, ses.ID)
		return c.JSON(http.StatusOK, newSessionView(ses))
	}
}

type generateInput struct {
	Kinds []string `json:"kinds"`
}

func generate(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("generate method")()
		ctx := c.Request().Context()
		ses, err := loadSession(c, data)
		if err != nil {
			return err
		}
		var input generateInput
		if err := c.Bind(&input); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "can't decode input")
		}
		if len(input.Kinds) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "no kinds")
		}
		for _, k := range input.Kinds {
			if status.Processing(status.Kind(k)) == 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "unknown kind "+k)
			}
		}
		first := status.Kind(input.Kinds[0])
		if !status.CanTransition(status.From(ses.Status), status.Processing(first)) {
			return echo.NewHTTPError(http.StatusConflict, "wrong state "+ses.Status)
		}
		ses.RequestedKinds = mergeKinds(ses.RequestedKinds, input.Kinds)
		ses.Status = status.Processing(first).String()
		if err := data.DB.UpdateSession(ctx, ses); err != nil {
			return updateError(err)
		}
		for _, k := range input.Kinds {
			err = data.MsgSender.SendMessage(ctx, &messages.GenerationMessage{
				SessionMessage: messages.SessionMessage{
					QueueMessage: amessages.QueueMessage{ID: ses.ID}, Owner: ses.Owner,
					OrganizationID: ses.OrganizationID, Language: ses.Language},
				Kind: k}, messages.Generate)
			if err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
		}
		sendStatusChange(ctx, data, ses.ID)
		return c.JSON(http.StatusOK, newSessionView(ses))
	}
}

func download(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("download method")()
		ses, err := loadSession(c, data)
		if err != nil {
			return err
		}
		key := artifactKey(ses, c.Param("kind"))
		if key == "" {
			return echo.NewHTTPError(http.StatusNotFound, "no result")
		}
		return serveFile(c, data, key)
	}
}

func artifactKey(ses *persistence.Session, kind string) string {
	switch status.Kind(kind) {
	case status.KindBullets:
		return utils.FromSQLStr(ses.BulletPointsKey)
	case status.KindMinutes:
		return utils.FromSQLStr(ses.MinutesKey)
	case status.KindTasks:
		return utils.FromSQLStr(ses.TasksKey)
	}
	if kind == "transcript" {
		return utils.FromSQLStr(ses.TranscriptKey)
	}
	return ""
}

func loadSession(c echo.Context, data *Data) (*persistence.Session, error) {
	id := c.Param("id")
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "No ID")
	}
	ses, err := data.DB.LoadSession(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "no session")
		}
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusInternalServerError)
	}
	return ses, nil
}

func updateError(err error) error {
	if errors.Is(err, utils.ErrVersionConflict) {
		return echo.NewHTTPError(http.StatusConflict, "session changed, try again")
	}
	goapp.Log.Error().Err(err).Send()
	return echo.NewHTTPError(http.StatusInternalServerError)
}

func mergeKinds(current, add []string) []string {
	res := append([]string{}, current...)
	for _, k := range add {
		found := false
		for _, c := range res {
			if c == k {
				found = true
				break
			}
		}
		if !found {
			res = append(res, k)
		}
	}
	return res
}

func serveFile(c echo.Context, data *Data, name string) error {
	goapp.Log.Info().Str("file", goapp.Sanitize(name)).Msg("loading")
	file, err := data.Reader.LoadFile(c.Request().Context(), name)
	if err != nil {
		if isNotFound(err) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file")
	}
	defer file.Close()
	stGetter, ok := file.(interface{ Stat() (fs.FileInfo, error) })
	if !ok {
		goapp.Log.Error().Msg(`file does implement "interface{ Stat() (fs.FileInfo, error)"`)
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file stat")
	}
	stat, err := stGetter.Stat()
	if err != nil {
		if isNotFound(err) {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError, "Can't get file stat")
	}

	w := c.Response()
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(stat.Name()))
	http.ServeContent(w, c.Request(), stat.Name(), stat.ModTime(), file)
	return nil
}

func isNotFound(err error) bool {
	var errTest minio.ErrorResponse
	return errors.As(err, &errTest) && errTest.StatusCode == http.StatusNotFound
}

func sendStatusChange(ctx context.Context, data *Data, id string) {
	err := data.MsgSender.SendMessage(ctx, &amessages.QueueMessage{ID: id}, messages.StatusChange)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't send status change")
	}
}
