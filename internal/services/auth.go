package services

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/novafeed/riptide/internal/config"
	"github.com/novafeed/riptide/pkg/models"
)

// Scopes granted to API clients. Feed serving and interaction ingestion are
// separate grants so read-only dashboard clients cannot write events.
const (
	ScopeRecommendationsRead = "recommendations:read"
	ScopeInteractionsWrite   = "interactions:write"
	ScopeContentWrite        = "content:write"
	ScopeAdmin               = "admin"
)

// AuthService issues and validates the HS256 bearer tokens API clients send.
// Issued tokens are tracked in hot redis so a client can be revoked before
// its token expires; redis being down degrades to signature-only validation.
type AuthService struct {
	config      *config.Config
	logger      *logrus.Logger
	redisClient *redis.Client
	jwtSecret   []byte
}

func NewAuthService(cfg *config.Config, logger *logrus.Logger, redisClient *redis.Client) *AuthService {
	return &AuthService{
		config:      cfg,
		logger:      logger,
		redisClient: redisClient,
		jwtSecret:   []byte(cfg.Auth.JWTSecret),
	}
}

func (s *AuthService) GenerateToken(clientID string, scopes []string) (string, error) {
	now := time.Now()
	claims := &models.APIClaims{
		ClientID: clientID,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.Auth.TokenTTL)),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "riptide",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	sessionKey := fmt.Sprintf("session:%s", clientID)
	err = s.redisClient.Set(context.Background(), sessionKey, tokenString, s.config.Auth.TokenTTL).Err()
	if err != nil {
		// Token generation still succeeds; revocation just won't work for
		// this session until redis recovers.
		s.logger.WithError(err).Warn("Failed to store session in Redis")
	}

	return tokenString, nil
}

func (s *AuthService) ValidateToken(tokenString string) (*models.APIClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.APIClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.APIClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sessionKey := fmt.Sprintf("session:%s", claims.ClientID)
	exists, err := s.redisClient.Exists(context.Background(), sessionKey).Result()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to check session in Redis")
		// Fall through on redis failure; the signature already checked out.
	} else if exists == 0 {
		return nil, fmt.Errorf("session not found or revoked")
	}

	return claims, nil
}

func (s *AuthService) RevokeClient(clientID string) error {
	sessionKey := fmt.Sprintf("session:%s", clientID)
	if err := s.redisClient.Del(context.Background(), sessionKey).Err(); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
