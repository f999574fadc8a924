package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenCoupler/internal/coupler"
	"github.com/KevinKickass/OpenCoupler/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/coupler
func (s *Server) getCoupler(c *gin.Context) {
	status, err := s.coupler.Status()
	if err != nil {
		s.couplerError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GET /api/v1/coupler/identity
func (s *Server) getIdentity(c *gin.Context) {
	id, err := s.coupler.Identity(c.Request.Context())
	if err != nil {
		s.couplerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id})
}

// couplerError maps the coupler error classes onto HTTP responses.
func (s *Server) couplerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coupler.ErrNotReady):
		c.JSON(http.StatusServiceUnavailable, types.NewCauseResponse(types.CodeNotConnected, "Coupler not connected", err))
	case errors.Is(err, coupler.ErrValidation):
		c.JSON(http.StatusBadRequest, types.NewCauseResponse(types.CodeInvalidIO, "Invalid output", err))
	case errors.Is(err, coupler.ErrDeviceException):
		c.JSON(http.StatusBadGateway, types.NewCauseResponse(types.CodeCouplerRejected, "Coupler rejected the request", err))
	case errors.Is(err, coupler.ErrTransport):
		c.JSON(http.StatusGatewayTimeout, types.NewCauseResponse(types.CodeUnreachable, "Coupler unreachable", err))
	default:
		c.JSON(http.StatusInternalServerError, types.NewCauseResponse(types.CodeCouplerInternal, "Coupler error", err))
	}
}
