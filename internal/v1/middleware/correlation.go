// Package middleware holds the gin middleware shared by the HTTP routes.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/telemeet/sfu/internal/v1/logging"
)

const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID tags every request with an X-Correlation-ID, minting one when
// the caller did not send it. The id is echoed on the response and stored in
// the request context so log lines for the request carry it.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(string(logging.CorrelationIDKey), correlationID)
		c.Next()
	}
}
