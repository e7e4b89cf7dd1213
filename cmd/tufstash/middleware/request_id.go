package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/tufstash/common/clients"
)

// PropagateRequestID copies the X-Request-ID assigned by echo's RequestID
// middleware into the request context, so loggers and outbound artifact
// store requests carry it.
//
// Usage:
//
//	e.Use(middleware.RequestID())
//	e.Use(PropagateRequestID())
func PropagateRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Request().Header.Get(echo.HeaderXRequestID)
			}

			if requestID != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(clients.WithRequestID(req.Context(), requestID)))
			}

			return next(c)
		}
	}
}

// GetRequestID returns the request id of the current request, or ""
func GetRequestID(c echo.Context) string {
	requestID, _ := clients.GetRequestID(c.Request().Context())
	return requestID
}
