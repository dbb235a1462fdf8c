package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/pkg/models"
)

// RateLimitService enforces a sliding-window request limit per API client,
// backed by a hot-redis sorted set per client. Redis being unreachable fails
// open: serving uncounted requests beats serving 500s.
type RateLimitService struct {
	logger      *logrus.Logger
	redisClient *redis.Client
	limit       int
	window      time.Duration
}

func NewRateLimitService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *RateLimitService {
	return &RateLimitService{
		logger:      logger,
		redisClient: redisClient,
		limit:       cfg.Auth.RateLimit.RequestsPerWindow,
		window:      cfg.Auth.RateLimit.Window,
	}
}

// CheckLimit records the current request against clientID's window and
// returns the window state after recording it.
func (s *RateLimitService) CheckLimit(clientID string) (*models.RateLimitInfo, error) {
	key := fmt.Sprintf("rate_limit:client:%s", clientID)

	now := time.Now()
	windowStart := now.Add(-s.window)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pipe := s.redisClient.Pipeline()

	// Drop entries that fell out of the window, count what's left, record
	// this request, and keep the key from outliving an idle client.
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.Unix(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.Unix()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, s.window)

	_, err := pipe.Exec(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to execute rate limit pipeline")
		return &models.RateLimitInfo{
			Limit:     s.limit,
			Remaining: s.limit - 1,
			ResetTime: now.Add(s.window).Unix(),
		}, nil
	}

	currentCount := int(countCmd.Val())
	remaining := s.limit - currentCount
	if remaining < 0 {
		remaining = 0
	}

	return &models.RateLimitInfo{
		Limit:     s.limit,
		Remaining: remaining,
		ResetTime: now.Add(s.window).Unix(),
	}, nil
}

// IsAllowed reports whether clientID may make this request, alongside the
// header-ready window state.
func (s *RateLimitService) IsAllowed(clientID string) (bool, *models.RateLimitInfo, error) {
	info, err := s.CheckLimit(clientID)
	if err != nil {
		return false, nil, err
	}
	return info.Remaining > 0, info, nil
}
