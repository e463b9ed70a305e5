package http

import "github.com/labstack/echo/v4"

// Handler is implemented by anything that mounts routes on the status
// server, such as the signal and risk handlers.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
