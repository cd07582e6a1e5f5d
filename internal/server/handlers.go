package server

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/queue"
)

type handlers struct {
	opts   Options
	logger *zap.Logger
}

// Sync schedules
//
//	@Summary		Sync queue schedules
//	@Description	Reconciles one cron schedule per active content topic
//	@Tags			schedules
//	@Produce		json
//	@Success		200	{object}	SyncResponse
//	@Failure		401	{object}	HTTPError
//	@Failure		405	{object}	HTTPError
//	@Failure		500	{object}	HTTPError
//	@Router			/api/schedules/sync [post]
func (h *handlers) sync(c echo.Context) error {
	res, err := h.opts.Syncer.Sync(c.Request().Context())
	if err != nil {
		return failed("Failed to sync schedules", err)
	}
	msg := "Schedules synced"
	if len(res.Errors) > 0 {
		msg = "Schedules synced with errors"
	}
	return c.JSON(http.StatusOK, SyncResponse{Success: true, Message: msg, Results: res})
}

// Trigger generation
//
//	@Summary		Trigger a generation
//	@Description	Queues a generation, or runs it on the local worker when no public URL is configured
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Success		202	{object}	QueuedResponse
//	@Failure		400	{object}	HTTPError
//	@Failure		500	{object}	HTTPError
//	@Router			/api/generate [post]
func (h *handlers) trigger(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	res, err := h.opts.Trigger.Trigger(c.Request().Context(), body)
	if err != nil {
		return failed("Failed to trigger blog generation", err)
	}
	if res.Queued {
		return c.JSON(res.StatusCode, QueuedResponse{Success: true, Message: "Blog generation queued", MessageID: res.MessageID})
	}
	contentType := res.ContentType
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.StatusCode, contentType, res.Body)
}

// Generation worker
//
//	@Summary		Generation webhook
//	@Description	Signed queue delivery that generates one blog post
//	@Tags			generate
//	@Accept			json
//	@Produce		json
//	@Param			Upstash-Signature	header		string	true	"Queue signature"
//	@Success		200					{object}	GenerateResponse
//	@Failure		400					{object}	HTTPError
//	@Failure		401					{object}	HTTPError
//	@Failure		500					{object}	HTTPError
//	@Router			/api/generate/worker [post]
func (h *handlers) worker(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	res, err := h.opts.Worker.Process(c.Request().Context(), c.Request().Header.Get(queue.HeaderSignature), body)
	if err != nil {
		if errors.Is(err, errors.ErrUnauthorized) {
			h.logger.Warn("rejected webhook", zap.Error(err))
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid signature")
		}
		return failed("Failed to generate blog post", err)
	}
	return c.JSON(http.StatusOK, GenerateResponse{
		Success: true,
		Message: "Blog post generated successfully",
		PostID:  res.PostID,
		Title:   res.Title,
		Slug:    res.Slug,
	})
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes+1))
	if err != nil {
		return nil, errors.Invalid("read body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "body too large")
	}
	return body, nil
}
