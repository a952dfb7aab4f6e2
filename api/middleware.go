package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const (
	ctxMetrics = "kanban.metrics"
	ctxUserID  = "kanban.userID"

	// HeaderIdempotencyKey lets clients retry a mutation safely.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers can
// work with plain JSON payloads. Requests with invalid gzip payloads are
// rejected with a 400 response.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}

			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)

			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// instrument opens request metrics for the route and reports them once the
// handler chain returns.
func instrument(logger *log.Logger, route string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			m, spanCtx := newRequestMetrics(req.Context(), logger, req.Method, route)
			c.SetRequest(req.WithContext(spanCtx))
			c.Set(ctxMetrics, m)
			defer func() {
				m.Log(responseStatus(c, err), err)
			}()
			return next(c)
		}
	}
}

// authenticate resolves the caller and stores the user id on the context.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(authHeaderFromRequest(c.Request()))
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.SetErrorStage("auth")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			m.SetActor(userID)
			c.Set(ctxUserID, userID)
			return next(c)
		}
	}
}

// idempotent rejects a repeated Idempotency-Key with 409. The key is released
// again when the request does not succeed so the client may retry it.
func idempotent(deduper Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
			if deduper == nil || key == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			userID := userIDFrom(c)
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				// Redis trouble must not block writes.
				log.WithError(err).Warn("idempotency check failed")
				return next(c)
			}
			if !added {
				metricsFrom(c).SetErrorStage("duplicate")
				return c.JSON(http.StatusConflict, errorResponse{Error: "duplicate request"})
			}
			herr := next(c)
			if herr != nil || c.Response().Status >= http.StatusBadRequest {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					log.WithError(rerr).Warn("unable to release idempotency key")
				}
			}
			return herr
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetrics).(*requestMetrics)
	return m
}

func userIDFrom(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

func responseStatus(c echo.Context, err error) int {
	if he, ok := err.(*echo.HTTPError); ok {
		return he.Code
	}
	if err != nil && !c.Response().Committed {
		return http.StatusInternalServerError
	}
	return c.Response().Status
}
