package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	apperrors "github.com/Seedline-Foundation/Coindailynow-sub008/internal/platform/errors"
)

// idleClientExpiry drops a client's bucket after this long without requests.
const idleClientExpiry = 5 * time.Minute

// newRateLimiter throttles a route per producer IP, ahead of the streamer's
// per-topic ceiling. A non-positive rate disables it.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	if ratePerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	buckets := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(ratePerSecond),
		Burst:     max(burst, 1),
		ExpiresIn: idleClientExpiry,
	})

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: buckets,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return HandleError(c, apperrors.ValidationError("cannot identify client"))
		},
		DenyHandler: func(c echo.Context, clientIP string, _ error) error {
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded").WithContext("client_ip", clientIP))
		},
	})
}
