package rest

import (
	"net/http"

	"github.com/KevinKickass/OpenCoupler/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	if s.system == nil {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeSystemNotFound, "System status not available", nil))
		return
	}
	c.JSON(http.StatusOK, s.system.GetCurrentStatus())
}
