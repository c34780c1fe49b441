package ingest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/messages"
	"github.com/minto-app/minto/internal/pkg/persistence"
	"github.com/minto-app/minto/internal/pkg/status"
	"github.com/minto-app/minto/internal/pkg/utils"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB upserts sessions
type DB interface {
	UpsertSession(ctx context.Context, item *persistence.Session) error
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	MsgSender MsgSender
}

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP MINTO ingest service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 60 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("minto_ingest", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/event", event(data))
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

func event(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("event method")()
		ctx := c.Request().Context()

		var info notification.Info
		if err := c.Bind(&info); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "can't decode event")
		}
		for _, r := range info.Records {
			if !strings.HasPrefix(r.EventName, "s3:ObjectCreated") {
				goapp.Log.Debug().Str("event", r.EventName).Msg("skip event")
				continue
			}
			if err := processRecord(ctx, data, &r); err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
		}
		return c.JSONBlob(http.StatusOK, []byte(`{"status":"OK"}`))
	}
}

func processRecord(ctx context.Context, data *Data, r *notification.Event) error {
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		key = r.S3.Object.Key
	}
	ses, err := sessionFromEvent(key, r.S3.Object.UserMetadata)
	if err != nil {
		// a malformed record can't be fixed by a redelivery
		goapp.Log.Warn().Err(err).Str("key", goapp.Sanitize(key)).Msg("skip object")
		return nil
	}
	goapp.Log.Info().Str("ID", ses.ID).Str("key", goapp.Sanitize(key)).Msg("got upload event")

	if err := data.DB.UpsertSession(ctx, ses); err != nil {
		return fmt.Errorf("can't save session: %w", err)
	}
	err = data.MsgSender.SendMessage(ctx, &messages.SessionMessage{
		QueueMessage: amessages.QueueMessage{ID: ses.ID}, Owner: ses.Owner,
		OrganizationID: ses.OrganizationID, Language: ses.Language,
		BlobName: utils.FromSQLStr(ses.InputBlobName)}, messages.Transcribe)
	if err != nil {
		return fmt.Errorf("can't send msg: %w", err)
	}
	sendStatusChange(ctx, data, ses.ID)
	return nil
}

// sessionFromEvent builds the session record from object metadata,
// missing fields are recovered from the object path
func sessionFromEvent(key string, md map[string]string) (*persistence.Session, error) {
	res := &persistence.Session{}
	res.ID = metaValue(md, "sessionid")
	res.Owner = metaValue(md, "owner")
	res.OrganizationID = metaValue(md, "organizationid")
	res.FileName = metaValue(md, "filename")
	res.Language = metaValue(md, "language")
	res.Email = utils.ToSQLStr(metaValue(md, "email"))

	if res.ID == "" || res.Owner == "" || res.FileName == "" {
		owner, sessionID, fileName := utils.ParseObjectPath(key)
		if res.ID == "" {
			res.ID = sessionID
		}
		if res.Owner == "" {
			res.Owner = owner
		}
		if res.FileName == "" {
			res.FileName = fileName
		}
	}
	if res.ID == "" {
		return nil, errors.New("no session ID")
	}
	if res.Owner == "" {
		return nil, errors.New("no owner")
	}
	if res.OrganizationID == "" {
		return nil, errors.New("no organization ID")
	}
	res.Status = status.Uploaded.String()
	res.InputBlobName = utils.ToSQLStr(key)
	res.Created = time.Now()
	return res, nil
}

const metaPrefix = "X-Amz-Meta-"

func metaValue(md map[string]string, key string) string {
	for k, v := range md {
		sk := strings.TrimPrefix(k, metaPrefix)
		if strings.EqualFold(sk, key) {
			return v
		}
	}
	return ""
}

func sendStatusChange(ctx context.Context, data *Data, id string) {
	err := data.MsgSender.SendMessage(ctx, &amessages.QueueMessage{ID: id}, messages.StatusChange)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("can't send status change")
	}
}
