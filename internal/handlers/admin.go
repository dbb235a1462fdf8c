package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/repository"
	"github.com/novafeed/riptide/internal/services"
)

// AdminHandler exposes the operator surface: manual reclustering, cluster
// inspection, job history and retention purges.
type AdminHandler struct {
	maintenance services.MaintenanceRunner
	clusters    repository.ClusterRepo
	logger      *logrus.Logger
}

func NewAdminHandler(maintenance services.MaintenanceRunner, clusters repository.ClusterRepo, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		maintenance: maintenance,
		clusters:    clusters,
		logger:      logger,
	}
}

// Recluster serves POST /api/v1/admin/recluster. The run is always
// asynchronous; the body says whether this request started a run or was
// folded into one already underway.
func (h *AdminHandler) Recluster(c *gin.Context) {
	started := h.maintenance.TriggerRecluster()

	status := "started"
	if !started {
		status = "coalesced"
	}

	h.logger.WithField("status", status).Info("Reclustering triggered via admin API")

	c.JSON(http.StatusAccepted, gin.H{
		"job":    "recluster",
		"status": status,
		"active": h.maintenance.ReclusterActive(),
	})
}

// Clusters serves GET /api/v1/admin/clusters, largest first.
func (h *AdminHandler) Clusters(c *gin.Context) {
	clusters, err := h.clusters.FindAll(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to load clusters")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "CLUSTER_LOOKUP_FAILED",
				"message": "Failed to load clusters",
			},
		})
		return
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i].Size > clusters[j].Size
	})

	totalMoments := 0
	for i := range clusters {
		totalMoments += clusters[i].Size
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"clusters":      clusters,
			"count":         len(clusters),
			"total_moments": totalMoments,
		},
	})
}

// JobStatus serves GET /api/v1/admin/jobs/:name with the last recorded run.
func (h *AdminHandler) JobStatus(c *gin.Context) {
	name := c.Param("name")

	run, err := h.maintenance.LastRun(c.Request.Context(), name)
	if err != nil {
		h.logger.WithError(err).WithField("job", name).Error("Failed to load job run")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "JOB_LOOKUP_FAILED",
				"message": "Failed to load job status",
			},
		})
		return
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "No recorded runs for job '" + name + "'",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// PurgeRequest asks for interactions older than the given number of days to
// be removed.
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days" binding:"required,min=1"`
}

// Purge serves POST /api/v1/admin/retention/purge.
func (h *AdminHandler) Purge(c *gin.Context) {
	var req PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "older_than_days must be a positive integer",
				"details": err.Error(),
			},
		})
		return
	}

	olderThan := time.Duration(req.OlderThanDays) * 24 * time.Hour
	deleted, err := h.maintenance.PurgeInteractions(c.Request.Context(), olderThan)
	if err != nil {
		h.logger.WithError(err).Error("Failed to purge interactions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "PURGE_FAILED",
				"message": "Failed to purge interactions",
			},
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"older_than_days": req.OlderThanDays,
		"deleted":         deleted,
	}).Info("Purged old interactions")

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"deleted":         deleted,
			"older_than_days": req.OlderThanDays,
		},
		"message": "Purge completed",
	})
}
