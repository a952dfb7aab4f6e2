package api

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// keepAliveInterval keeps idle proxies from closing quiet streams.
var keepAliveInterval = 25 * time.Second

// streamBoard sends the board snapshot as a server-sent event, then again
// every time the board changes, until the client goes away.
func (h *handlers) streamBoard(c echo.Context) error {
	userID, err := h.auth.UserIDFromAuthHeader(authHeaderFromRequest(c.Request()))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	ctx := c.Request().Context()
	boardID := c.Param("boardId")
	board, err := h.boards.Board(ctx, boardID)
	if err != nil {
		return writeError(c, err)
	}
	if !board.HasMember(userID) {
		return writeError(c, errForbidden)
	}
	c.Set(ctxUserID, userID)
	if h.streams == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "streaming disabled"})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	wake, unsubscribe := h.streams.Subscribe(boardID)
	defer unsubscribe()

	logger := log.WithFields(log.Fields{"boardId": boardID, "userId": userID})
	logger.Debug("board stream opened")
	defer logger.Debug("board stream closed")

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		snap, repaired, err := h.denseView(ctx, boardID)
		if err != nil {
			if ctx.Err() == nil {
				logger.WithError(err).Error("stream board")
			}
			return nil
		}
		if repaired {
			h.changed(c, boardID)
		}
		data, err := sonic.Marshal(snap)
		if err != nil {
			logger.WithError(err).Error("marshal board")
			return nil
		}
		if err := writeEvent(res, data); err != nil {
			return nil
		}
		flusher.Flush()

	idle:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				break idle
			case <-ticker.C:
				if _, err := res.Write([]byte(": keep-alive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(res *echo.Response, data []byte) error {
	if _, err := res.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := res.Write(data); err != nil {
		return err
	}
	_, err := res.Write([]byte("\n\n"))
	return err
}
