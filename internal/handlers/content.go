package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/internal/services"
	"github.com/novafeed/riptide/pkg/models"
)

type ContentHandler struct {
	content  repository.ContentEmbeddingRepo
	clusters repository.ClusterRepo
	similar  services.SimilarContentFinder
	logger   *logrus.Logger
}

func NewContentHandler(
	content repository.ContentEmbeddingRepo,
	clusters repository.ClusterRepo,
	similar services.SimilarContentFinder,
	logger *logrus.Logger,
) *ContentHandler {
	return &ContentHandler{
		content:  content,
		clusters: clusters,
		similar:  similar,
		logger:   logger,
	}
}

// ContentEmbeddingRequest is the HTTP body for storing a moment's vector.
// The bounds mirror the Kafka event schema so both ingestion paths accept
// the same payloads.
type ContentEmbeddingRequest struct {
	Vector    []float64  `json:"vector" binding:"required,min=1,max=4096"`
	Topics    []string   `json:"topics,omitempty" binding:"omitempty,max=50"`
	AuthorID  *uuid.UUID `json:"author_id,omitempty"`
	Language  string     `json:"language,omitempty" binding:"omitempty,max=35"`
	Location  string     `json:"location,omitempty" binding:"omitempty,max=128"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Upsert serves PUT /api/v1/content/:contentId/embedding for callers that
// push vectors over HTTP instead of the embedding topic.
func (h *ContentHandler) Upsert(c *gin.Context) {
	contentID, err := uuid.Parse(c.Param("contentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_CONTENT_ID",
				"message": "Invalid content ID format",
			},
		})
		return
	}

	var req ContentEmbeddingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid embedding format",
				"details": err.Error(),
			},
		})
		return
	}

	createdAt := time.Now()
	if req.CreatedAt != nil {
		createdAt = *req.CreatedAt
	}

	embedding := &models.ContentEmbedding{
		ContentID: contentID,
		Vector:    req.Vector,
		Topics:    req.Topics,
		AuthorID:  req.AuthorID,
		Language:  req.Language,
		Location:  req.Location,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
	}

	if err := h.content.Save(c.Request.Context(), embedding); err != nil {
		h.logger.WithError(err).WithField("content_id", contentID).Error("Failed to store content embedding")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "STORAGE_FAILED",
				"message": "Failed to store content embedding",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"content_id": contentID,
			"dimensions": len(req.Vector),
		},
		"message": "Content embedding stored",
	})
}

// Delete serves DELETE /api/v1/content/:contentId. Cluster assignments are
// removed in the same request so the moment stops surfacing immediately
// instead of at the next reclustering run.
func (h *ContentHandler) Delete(c *gin.Context) {
	contentID, err := uuid.Parse(c.Param("contentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_CONTENT_ID",
				"message": "Invalid content ID format",
			},
		})
		return
	}

	if err := h.clusters.DeleteAssignmentsByContentID(c.Request.Context(), contentID); err != nil {
		h.logger.WithError(err).WithField("content_id", contentID).Error("Failed to delete cluster assignments")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "DELETE_FAILED",
				"message": "Failed to delete content",
			},
		})
		return
	}

	if err := h.content.Delete(c.Request.Context(), contentID); err != nil {
		h.logger.WithError(err).WithField("content_id", contentID).Error("Failed to delete content embedding")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "DELETE_FAILED",
				"message": "Failed to delete content",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Content deleted",
	})
}

// Similar serves GET /api/v1/content/:contentId/similar.
func (h *ContentHandler) Similar(c *gin.Context) {
	contentID, err := uuid.Parse(c.Param("contentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_CONTENT_ID",
				"message": "Invalid content ID format",
			},
		})
		return
	}

	limit := 10
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= 50 {
			limit = parsed
		}
	}

	items, err := h.similar.FindSimilar(c.Request.Context(), contentID, limit)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": gin.H{
					"code":    "CONTENT_NOT_FOUND",
					"message": "Content not found",
				},
			})
			return
		}
		h.logger.WithError(err).WithField("content_id", contentID).Error("Failed to find similar content")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "SIMILAR_LOOKUP_FAILED",
				"message": "Failed to find similar content",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"content_id": contentID,
			"similar":    items,
			"count":      len(items),
		},
	})
}
