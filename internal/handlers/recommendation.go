package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/services"
	"github.com/novafeed/riptide/pkg/models"
)

type RecommendationHandler struct {
	engine    services.RecommendationProvider
	publisher services.ServedPublisher
	metrics   *services.MetricsCollector
	logger    *logrus.Logger
}

// NewRecommendationHandler builds the feed-serving handler. publisher and
// metrics may be nil; served pages are then neither streamed nor measured.
func NewRecommendationHandler(
	engine services.RecommendationProvider,
	publisher services.ServedPublisher,
	metrics *services.MetricsCollector,
	logger *logrus.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		engine:    engine,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Create serves POST /api/v1/recommendations with the full request body.
func (h *RecommendationHandler) Create(c *gin.Context) {
	var request models.RecommendationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid request format",
				"details": err.Error(),
			},
		})
		return
	}

	h.serve(c, request)
}

// Get serves GET /api/v1/recommendations/:userId, the query-parameter variant
// for callers that cannot send a body.
func (h *RecommendationHandler) Get(c *gin.Context) {
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

	request := models.RecommendationRequest{UserID: userID}

	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit <= 100 {
			request.Limit = limit
		}
	}

	if excludeStr := c.Query("exclude"); excludeStr != "" {
		for _, itemStr := range strings.Split(excludeStr, ",") {
			if itemID, err := uuid.Parse(strings.TrimSpace(itemStr)); err == nil {
				request.ExcludeIDs = append(request.ExcludeIDs, itemID)
			}
		}
	}

	reqCtx := &models.RecommendationContext{
		Location: c.Query("location"),
		Language: c.Query("language"),
	}
	hasContext := reqCtx.Location != "" || reqCtx.Language != ""

	if todStr := c.Query("time_of_day"); todStr != "" {
		if tod, err := strconv.ParseFloat(todStr, 64); err == nil && tod >= 0 && tod < 24 {
			reqCtx.TimeOfDay = &tod
			hasContext = true
		}
	}
	if dowStr := c.Query("day_of_week"); dowStr != "" {
		if dow, err := strconv.Atoi(dowStr); err == nil && dow >= 0 && dow <= 6 {
			reqCtx.DayOfWeek = &dow
			hasContext = true
		}
	}
	if hasContext {
		request.Context = reqCtx
	}

	h.serve(c, request)
}

func (h *RecommendationHandler) serve(c *gin.Context, request models.RecommendationRequest) {
	started := time.Now()
	response := h.engine.GetRecommendations(c.Request.Context(), request)

	if h.metrics != nil {
		h.metrics.RecordRequest(time.Since(started), response.CacheHit, len(response.Recommendations))
	}

	if h.publisher != nil && len(response.Recommendations) > 0 {
		// Fire and forget: a stream hiccup must not delay the page.
		go func() {
			if err := h.publisher.PublishServed(&response); err != nil {
				h.logger.WithError(err).WithField("user_id", response.UserID).Warn("Failed to publish served recommendations")
			}
		}()
	}

	c.JSON(http.StatusOK, response)
}
