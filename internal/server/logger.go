package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// requestLogger logs one line per request, at a level chosen by status.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			res := c.Response()

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.String("remote_ip", c.RealIP()),
				zap.String("user_agent", req.UserAgent()),
			}
			id := req.Header.Get(echo.HeaderXRequestID)
			if id == "" {
				id = res.Header().Get(echo.HeaderXRequestID)
			}
			if id != "" {
				fields = append(fields, zap.String("request_id", id))
			}

			err := next(c)
			if err != nil {
				// let the error handler write the response so the status is final
				c.Error(err)
			}

			fields = append(fields,
				zap.Int("status", res.Status),
				zap.Duration("latency", time.Since(start)),
			)
			if err != nil {
				fields = append(fields, zap.Error(err))
			}
			switch n := res.Status; {
			case n >= http.StatusInternalServerError:
				log.Error("server error", fields...)
			case n >= http.StatusBadRequest:
				log.Warn("client error", fields...)
			default:
				log.Info("request", fields...)
			}
			return nil
		}
	}
}
