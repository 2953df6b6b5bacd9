package activitylog

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/chronicle-activity/internal/apperror"
	"github.com/keyxmakerx/chronicle-activity/internal/middleware"
)

// Handler handles HTTP requests for the activity log. Handlers are thin:
// bind request, call service, render response.
type Handler struct {
	service ActivityService
}

// NewHandler creates a new activity handler.
func NewHandler(service ActivityService) *Handler {
	return &Handler{service: service}
}

// Ingest replays a batch of host hook calls (POST /api/v1/activity/hooks).
// Missing request ids and source IPs are filled from the HTTP request.
func (h *Handler) Ingest(c echo.Context) error {
	var in IngestRequest
	if err := c.Bind(&in); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if in.Request.RequestID == "" {
		in.Request.RequestID = middleware.RequestID(c)
	}
	if in.Request.IP == "" {
		in.Request.IP = c.RealIP()
	}

	resp, err := h.service.Ingest(c.Request().Context(), &in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Feed returns a JSON page of the activity feed (GET /api/v1/activity).
func (h *Handler) Feed(c echo.Context) error {
	q, err := parseFeedQuery(c)
	if err != nil {
		return err
	}

	page, err := h.service.Feed(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// Show returns one record (GET /api/v1/activity/:id).
func (h *Handler) Show(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperror.NewBadRequest("invalid record ID")
	}

	entry, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entry)
}

// Page renders the HTML activity feed (GET /activity).
func (h *Handler) Page(c echo.Context) error {
	q, err := parseFeedQuery(c)
	if err != nil {
		return err
	}

	page, err := h.service.Feed(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return middleware.Render(c, http.StatusOK, ActivityPage(page, q))
}

// parseFeedQuery reads the feed filters from the query string. Empty
// parameters mean "no filter"; malformed numbers are rejected.
func parseFeedQuery(c echo.Context) (FeedQuery, error) {
	q := FeedQuery{
		Group:    c.QueryParam("group"),
		Severity: c.QueryParam("severity"),
	}

	ints := []struct {
		param string
		dst   *int64
	}{
		{"object_id", &q.ObjectID},
		{"user_id", &q.UserID},
	}
	for _, p := range ints {
		if v := c.QueryParam(p.param); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return q, apperror.NewBadRequest("invalid " + p.param)
			}
			*p.dst = n
		}
	}

	if v := c.QueryParam("event_id"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, apperror.NewBadRequest("invalid event_id")
		}
		q.EventID = n
	}

	// Bad page numbers fall back to the first page, like the other feeds.
	q.Page, _ = strconv.Atoi(c.QueryParam("page"))
	if q.Page < 1 {
		q.Page = 1
	}
	return q, nil
}
