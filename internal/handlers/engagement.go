package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/ml"
	"github.com/novafeed/riptide/internal/services"
	"github.com/novafeed/riptide/pkg/models"
)

type EngagementHandler struct {
	scorer services.EngagementScorer
	logger *logrus.Logger
}

func NewEngagementHandler(scorer services.EngagementScorer, logger *logrus.Logger) *EngagementHandler {
	return &EngagementHandler{
		scorer: scorer,
		logger: logger,
	}
}

// EngagementScoreRequest carries raw counters to score. Duration is the
// moment's length in seconds; zero disables retention and watch-time
// features. When ContentID is set the resulting vector is also stored, so
// offline tooling can both preview and backfill scores.
type EngagementScoreRequest struct {
	ContentID *uuid.UUID               `json:"content_id,omitempty"`
	Metrics   models.EngagementMetrics `json:"metrics"`
	Duration  float64                  `json:"duration" binding:"omitempty,min=0"`
}

// Score serves POST /api/v1/engagement/score.
func (h *EngagementHandler) Score(c *gin.Context) {
	var req EngagementScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid engagement request format",
				"details": err.Error(),
			},
		})
		return
	}

	params := ml.EngagementParams{Metrics: req.Metrics, Duration: req.Duration}

	var (
		vector *models.EngagementVector
		err    error
	)
	if req.ContentID != nil {
		vector, err = h.scorer.RecordEngagement(c.Request.Context(), *req.ContentID, params)
	} else {
		vector, err = h.scorer.Score(params)
	}
	if err != nil {
		if errors.Is(err, models.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_METRICS",
					"message": err.Error(),
				},
			})
			return
		}
		h.logger.WithError(err).Error("Failed to score engagement")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "SCORING_FAILED",
				"message": "Failed to score engagement",
			},
		})
		return
	}

	response := gin.H{"engagement": vector}
	if req.ContentID != nil {
		response["content_id"] = *req.ContentID
	}
	c.JSON(http.StatusOK, response)
}
