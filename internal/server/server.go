// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/seshat/config"
	"github.com/mohammad-safakhou/seshat/internal/errors"
	"github.com/mohammad-safakhou/seshat/internal/pipeline"
	"github.com/mohammad-safakhou/seshat/internal/runtime"
	"github.com/mohammad-safakhou/seshat/models"
)

const maxBodyBytes = 1 << 20

type Syncer interface {
	Sync(ctx context.Context) (models.SyncResult, error)
}

type Triggerer interface {
	Trigger(ctx context.Context, raw []byte) (pipeline.TriggerResult, error)
}

type Processor interface {
	Process(ctx context.Context, signature string, body []byte) (models.GenerationResult, error)
}

// Options wires the routes. AdminTokenHash guards sync and trigger when set.
type Options struct {
	Syncer         Syncer
	Trigger        Triggerer
	Worker         Processor
	AdminTokenHash string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// routeError carries the headline a route reports for server-side failures.
type routeError struct {
	headline string
	err      error
}

func (e *routeError) Error() string { return e.err.Error() }
func (e *routeError) Unwrap() error { return e.err }

func failed(headline string, err error) error {
	return &routeError{headline: headline, err: err}
}

// New builds the echo instance with every route registered.
func New(opts Options) *echo.Echo {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	if opts.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(opts.RequestTimeout))
	}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	h := &handlers{opts: opts, logger: logger}
	api := e.Group("/api")
	admin := runtime.AdminGuard(opts.AdminTokenHash)
	api.POST("/schedules/sync", h.sync, admin)
	api.POST("/generate", h.trigger, admin)
	// signed by the queue, not guarded
	e.POST(config.WorkerPath, h.worker)
	return e
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code, body := errorResponse(err)
		if code >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("path", c.Path()), zap.Int("status", code), zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, body)
	}
}

func errorResponse(err error) (int, HTTPError) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, HTTPError{Error: msg}
	}

	var failure *pipeline.GenerationFailure
	if errors.As(err, &failure) {
		return http.StatusInternalServerError, HTTPError{Error: "Failed to generate blog post", Details: failure.Error()}
	}

	code := errors.HTTPStatus(err)
	if code < http.StatusInternalServerError {
		return code, HTTPError{Error: err.Error()}
	}
	headline := "Internal server error"
	var re *routeError
	if errors.As(err, &re) {
		headline = re.headline
	}
	return code, HTTPError{Error: headline, Details: err.Error()}
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down http server")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return <-errCh
}
