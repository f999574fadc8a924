package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenCoupler/internal/types"
	"github.com/KevinKickass/OpenCoupler/internal/ur20"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/io/inputs
func (s *Server) getInputs(c *gin.Context) {
	snap, err := s.coupler.Snapshot()
	if err != nil {
		s.couplerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": snap.SessionID,
		"sequence":   snap.Sequence,
		"timestamp":  snap.Timestamp,
		"values":     snap.Inputs,
	})
}

// GET /api/v1/io/outputs
func (s *Server) getOutputs(c *gin.Context) {
	snap, err := s.coupler.Snapshot()
	if err != nil {
		s.couplerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": snap.SessionID,
		"sequence":   snap.Sequence,
		"timestamp":  snap.Timestamp,
		"values":     snap.Outputs,
	})
}

// PUT /api/v1/io/outputs/:module/:channel
func (s *Server) setOutput(c *gin.Context) {
	module, err := strconv.Atoi(c.Param("module"))
	if err != nil || module < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeInvalidIO, "Invalid module index", c.Param("module")))
		return
	}
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil || channel < 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeInvalidIO, "Invalid channel index", c.Param("channel")))
		return
	}

	var value ur20.ChannelValue
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, types.NewCauseResponse(types.CodeInvalidIO, "Invalid request body", err))
		return
	}

	addr := ur20.Address{Module: module, Channel: channel}
	if err := s.coupler.SetOutput(addr, value); err != nil {
		s.couplerError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"address": addr.String(),
		"value":   value,
		"message": "Output staged for the next cycle",
	})
}

// GET /api/v1/io/binary
func (s *Server) getBinaryInputs(c *gin.Context) {
	data, err := s.coupler.BinaryInputData()
	if err != nil {
		s.couplerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"values": data,
		"count":  len(data),
	})
}
