package middleware

import (
	"time"

	applogger "TapeFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging emits one debug line per request. The status API is
// polled by dashboards, so this stays at debug to keep the info stream
// readable during a session.
func RequestLogging(log *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)

			if log != nil {
				log.Debug("http request",
					applogger.String("method", req.Method),
					applogger.String("uri", req.RequestURI),
					applogger.String("remote", req.RemoteAddr),
					applogger.Int("status", res.Status),
					applogger.Duration("latency", time.Since(start)),
				)
			}
			return err
		}
	}
}
