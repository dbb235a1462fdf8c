package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/services"
	"github.com/novafeed/riptide/pkg/models"
)

type InteractionHandler struct {
	recorder services.InteractionRecorder
	logger   *logrus.Logger
}

func NewInteractionHandler(recorder services.InteractionRecorder, logger *logrus.Logger) *InteractionHandler {
	return &InteractionHandler{
		recorder: recorder,
		logger:   logger,
	}
}

// Record serves POST /api/v1/interactions. The interaction type and value
// ranges are enforced by the binding tags before the service sees the request.
func (h *InteractionHandler) Record(c *gin.Context) {
	var req models.InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid interaction format",
				"details": err.Error(),
			},
		})
		return
	}

	interaction, err := h.recorder.RecordInteraction(c.Request.Context(), &req)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":    req.UserID,
			"content_id": req.ContentID,
		}).Error("Failed to record interaction")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "INTERACTION_FAILED",
				"message": "Failed to record interaction",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data":    interaction,
		"message": "Interaction recorded successfully",
	})
}

// RecordBatch serves POST /api/v1/interactions/batch. Individual failures are
// skipped; the response reports how many interactions actually landed.
func (h *InteractionHandler) RecordBatch(c *gin.Context) {
	var req models.InteractionBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid batch format",
				"details": err.Error(),
			},
		})
		return
	}

	recorded, err := h.recorder.RecordBatch(c.Request.Context(), req.Interactions)
	if err != nil {
		h.logger.WithError(err).Error("Failed to process interaction batch")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "BATCH_FAILED",
				"message": "Failed to process interaction batch",
			},
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"data": gin.H{
			"interactions":    recorded,
			"total_received":  len(req.Interactions),
			"total_processed": len(recorded),
		},
		"message": "Interaction batch processed",
	})
}

// History serves GET /api/v1/users/:userId/interactions, newest first.
func (h *InteractionHandler) History(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_USER_ID",
				"message": "Invalid user ID format",
			},
		})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	interactions, err := h.recorder.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to load interaction history")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "HISTORY_FAILED",
				"message": "Failed to load interaction history",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"user_id":      userID,
			"interactions": interactions,
			"count":        len(interactions),
		},
	})
}
