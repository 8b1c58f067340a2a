package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/stream-registry-service/internal/errs"
)

// respondError maps domain sentinel errors to transport status codes. This is
// the only place the error taxonomy meets HTTP.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrStreamNotFound), errors.Is(err, errs.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrNegotiationRejected):
		status = http.StatusBadGateway
	case errors.Is(err, errs.ErrNegotiationTimeout):
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
