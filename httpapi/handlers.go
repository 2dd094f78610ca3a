package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/labstack/echo/v4"

	"github.com/goliatone/go-fitsync/adapters/gocommand"
	fitcommand "github.com/goliatone/go-fitsync/command"
	"github.com/goliatone/go-fitsync/core"
	fitquery "github.com/goliatone/go-fitsync/query"
	fsync "github.com/goliatone/go-fitsync/sync"
)

type disconnectRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type syncRequest struct {
	UserID   string `json:"userId" validate:"required"`
	SyncType string `json:"syncType" validate:"omitempty,oneof=initial automatic"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type syncResponse struct {
	Success       bool   `json:"success"`
	SyncID        string `json:"syncId,omitempty"`
	RecordsSynced int    `json:"recordsSynced"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
}

type metricResponse struct {
	Provider string  `json:"provider"`
	Date     string  `json:"date"`
	Type     string  `json:"type"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
}

type metricsResponse struct {
	Metrics []metricResponse `json:"metrics"`
}

// connect starts the flow. Request and configuration problems are answered
// as JSON; provider failures land on the status page like a failed callback.
func (s *Server) connect(c echo.Context) error {
	msg := fitcommand.InitiateMessage{Request: core.InitiateRequest{
		ProviderID: c.Param("provider"),
		UserID:     strings.TrimSpace(c.QueryParam("user_id")),
	}}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}

	collector := gocmd.NewResult[core.InitiateResult]()
	ctx := gocmd.ContextWithResult(c.Request().Context(), collector)
	if err := s.facade.Commands().Initiate.Execute(ctx, msg); err != nil {
		switch core.KindOf(err) {
		case core.KindInvalidRequest, core.KindProviderNotFound, core.KindConfiguration, core.KindInternal:
			return err
		}
		return c.Redirect(http.StatusFound, s.statusURL(msg.Request.ProviderID, core.CallbackError, core.KindOf(err)))
	}
	result, ok := collector.Load()
	if !ok || strings.TrimSpace(result.URL) == "" {
		return core.NewError(core.KindInternal, "httpapi: initiate produced no authorize url")
	}
	return c.Redirect(http.StatusFound, result.URL)
}

func (s *Server) callback(c echo.Context) error {
	msg := fitcommand.CompleteCallbackMessage{Request: core.CallbackRequest{
		ProviderID:       c.Param("provider"),
		Code:             c.QueryParam("code"),
		State:            c.QueryParam("state"),
		Error:            c.QueryParam("error"),
		ErrorDescription: c.QueryParam("error_description"),
		OAuthToken:       c.QueryParam("oauth_token"),
		OAuthVerifier:    c.QueryParam("oauth_verifier"),
		Denied:           c.QueryParam("denied"),
	}}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}

	collector := gocmd.NewResult[core.CallbackResult]()
	ctx := gocmd.ContextWithResult(c.Request().Context(), collector)
	if err := s.facade.Commands().CompleteCallback.Execute(ctx, msg); err != nil {
		return err
	}
	result, ok := collector.Load()
	if !ok {
		return core.NewError(core.KindInternal, "httpapi: callback produced no result")
	}
	providerID := result.ProviderID
	if providerID == "" {
		providerID = msg.Request.ProviderID
	}
	var reason core.ErrorKind
	if result.Status != core.CallbackConnected {
		reason = result.Reason
	}
	return c.Redirect(http.StatusFound, s.statusURL(providerID, result.Status, reason))
}

func (s *Server) disconnect(c echo.Context) error {
	var body disconnectRequest
	if err := c.Bind(&body); err != nil {
		return core.WrapError(core.KindInvalidRequest, err, "httpapi: malformed disconnect body")
	}
	if err := c.Validate(&body); err != nil {
		return err
	}
	msg := fitcommand.DisconnectMessage{Request: core.DisconnectRequest{
		ProviderID: c.Param("provider"),
		UserID:     strings.TrimSpace(body.UserID),
	}}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}
	if err := s.facade.Commands().Disconnect.Execute(c.Request().Context(), msg); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}

func (s *Server) sync(c echo.Context) error {
	var body syncRequest
	if err := c.Bind(&body); err != nil {
		return core.WrapError(core.KindInvalidRequest, err, "httpapi: malformed sync body")
	}
	if err := c.Validate(&body); err != nil {
		return err
	}
	kind := core.SyncKind(strings.TrimSpace(body.SyncType))
	if kind == "" {
		kind = core.SyncKindAutomatic
	}
	msg := fitcommand.SyncMessage{Request: fsync.SyncRequest{
		UserID:     strings.TrimSpace(body.UserID),
		ProviderID: c.Param("provider"),
		Kind:       kind,
	}}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}

	collector := gocmd.NewResult[core.SyncSuccess]()
	ctx := gocmd.ContextWithResult(c.Request().Context(), collector)
	if err := s.facade.Commands().Sync.Execute(ctx, msg); err != nil {
		return err
	}
	result, _ := collector.Load()
	response := syncResponse{Success: true, SyncID: result.SyncID, RecordsSynced: result.RecordsSynced}
	if result.Range != nil {
		response.From = result.Range.Start.Format(core.DateLayout)
		response.To = result.Range.End.Format(core.DateLayout)
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) status(c echo.Context) error {
	msg := fitquery.ConnectionStatusMessage{
		UserID:     strings.TrimSpace(c.QueryParam("user_id")),
		ProviderID: c.Param("provider"),
	}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}
	if _, err := core.ResolveProvider(s.facade.Service().Dependencies().Registry, msg.ProviderID); err != nil && core.KindOf(err) == core.KindProviderNotFound {
		return err
	}
	status, err := s.facade.Queries().ConnectionStatus.Query(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) statuses(c echo.Context) error {
	msg := fitquery.ConnectionStatusesMessage{UserID: strings.TrimSpace(c.QueryParam("user_id"))}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}
	statuses, err := s.facade.Queries().ConnectionStatuses.Query(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"connections": statuses})
}

func (s *Server) metrics(c echo.Context) error {
	query := core.MetricQuery{
		UserID:     strings.TrimSpace(c.QueryParam("user_id")),
		ProviderID: strings.TrimSpace(c.QueryParam("provider")),
	}
	var err error
	if query.From, err = parseDay(c.QueryParam("from"), "from"); err != nil {
		return err
	}
	if query.To, err = parseDay(c.QueryParam("to"), "to"); err != nil {
		return err
	}
	for _, raw := range strings.Split(c.QueryParam("type"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			query.Types = append(query.Types, core.MetricType(raw))
		}
	}
	if query.Limit, err = parseInt(c.QueryParam("limit"), "limit"); err != nil {
		return err
	}
	if query.Offset, err = parseInt(c.QueryParam("offset"), "offset"); err != nil {
		return err
	}

	msg := fitquery.ListMetricsMessage{Query: query}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		return err
	}
	rows, err := s.facade.Queries().ListMetrics.Query(c.Request().Context(), msg)
	if err != nil {
		return err
	}
	out := metricsResponse{Metrics: make([]metricResponse, 0, len(rows))}
	for _, row := range rows {
		out.Metrics = append(out.Metrics, metricResponse{
			Provider: row.ProviderID,
			Date:     row.Date.Format(core.DateLayout),
			Type:     string(row.Type),
			Value:    row.Value,
			Unit:     row.Unit,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func parseDay(value string, field string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	day, err := core.ParseDate(value)
	if err != nil {
		return time.Time{}, core.WrapError(core.KindInvalidRequest, err, "httpapi: invalid "+field+" date")
	}
	return day, nil
}

func parseInt(value string, field string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, core.WrapError(core.KindInvalidRequest, err, "httpapi: invalid "+field)
	}
	return n, nil
}
