package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Interaction    *InteractionHandler
	Engagement     *EngagementHandler
	Content        *ContentHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, svcs *services.Services) *Handlers {
	// A nil *EventBus must stay a nil interface, or the handler would call
	// through it.
	var publisher services.ServedPublisher
	if svcs.EventBus != nil {
		publisher = svcs.EventBus
	}

	return &Handlers{
		Health:         NewHealthHandler(logger, svcs.Health),
		Recommendation: NewRecommendationHandler(svcs.Engine, publisher, svcs.Metrics, logger),
		Interaction:    NewInteractionHandler(svcs.Ingest, logger),
		Engagement:     NewEngagementHandler(svcs.Engagement, logger),
		Content:        NewContentHandler(svcs.Repos.ContentEmbeddings, svcs.Repos.Clusters, svcs.SimilarContent, logger),
		Admin:          NewAdminHandler(svcs.Scheduler, svcs.Repos.Clusters, logger),
	}
}
