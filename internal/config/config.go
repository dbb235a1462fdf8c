package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Neo4j          Neo4jConfig          `mapstructure:"neo4j"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Recommendation RecommendationConfig `mapstructure:"recommendation"`
	Monitoring     MonitoringConfig     `mapstructure:"monitoring"`
	Security       SecurityConfig       `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		UserInteractions      string `mapstructure:"user_interactions"`
		ContentEmbeddings     string `mapstructure:"content_embeddings"`
		RecommendationsServed string `mapstructure:"recommendations_served"`
		DeadLetter            string `mapstructure:"dead_letter"`
	} `mapstructure:"topics"`
	ConsumerGroup string `mapstructure:"consumer_group"`
}

type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration   `mapstructure:"token_ttl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RecommendationConfig is the pipeline tuning tree: clustering, matching,
// selection, ranking and engine-level knobs.
type RecommendationConfig struct {
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Selector   SelectorConfig   `mapstructure:"selector"`
	Ranker     RankerConfig     `mapstructure:"ranker"`
	Hybrid     HybridConfig     `mapstructure:"hybrid"`
	Engine     EngineConfig     `mapstructure:"engine"`
}

type ClusteringConfig struct {
	Epsilon   float64       `mapstructure:"epsilon"`
	MinPoints int           `mapstructure:"min_points"`
	Distance  string        `mapstructure:"distance"`
	MaxPoints int           `mapstructure:"max_points"`
	Interval  time.Duration `mapstructure:"interval"`
}

// MatcherConfig weights the cluster-match blend. The three weights are
// normalized to sum to 1 at construction. Seed pins the cold-start
// fallback's randomization; 0 seeds from the clock.
type MatcherConfig struct {
	EmbeddingWeight   float64 `mapstructure:"embedding_weight"`
	InterestWeight    float64 `mapstructure:"interest_weight"`
	ContextWeight     float64 `mapstructure:"context_weight"`
	MaxClusters       int     `mapstructure:"max_clusters"`
	MinMatchThreshold float64 `mapstructure:"min_match_threshold"`
	Seed              int64   `mapstructure:"seed"`
}

type SelectorConfig struct {
	TimeWindowHours int     `mapstructure:"time_window_hours"`
	MinClusterScore float64 `mapstructure:"min_cluster_score"`
}

// RankerConfig carries the base sub-score weights plus the context-signal
// bonuses. Bonuses shift a neutral 0.5 up or down and results are clamped
// into [0,1].
type RankerConfig struct {
	RelevanceWeight  float64 `mapstructure:"relevance_weight"`
	EngagementWeight float64 `mapstructure:"engagement_weight"`
	NoveltyWeight    float64 `mapstructure:"novelty_weight"`
	DiversityWeight  float64 `mapstructure:"diversity_weight"`
	ContextWeight    float64 `mapstructure:"context_weight"`

	EngagementCalibration float64 `mapstructure:"engagement_calibration"`
	RecencyDecayHours     float64 `mapstructure:"recency_decay_hours"`

	PeakHoursWeight      float64 `mapstructure:"peak_hours_weight"`
	LowEngagementWeight  float64 `mapstructure:"low_engagement_weight"`
	WeekendWeight        float64 `mapstructure:"weekend_weight"`
	MidWeekWeight        float64 `mapstructure:"mid_week_weight"`
	WeekStartEndWeight   float64 `mapstructure:"week_start_end_weight"`
	SameLocationWeight   float64 `mapstructure:"same_location_weight"`
	DiffLocationWeight   float64 `mapstructure:"diff_location_weight"`
	DefaultNoveltyLevel  float64 `mapstructure:"default_novelty_level"`
	DefaultDiversityLevel float64 `mapstructure:"default_diversity_level"`
}

type HybridConfig struct {
	ContentWeight    float64 `mapstructure:"content_weight"`
	EngagementWeight float64 `mapstructure:"engagement_weight"`
	RecencyWeight    float64 `mapstructure:"recency_weight"`
	MinSimilarity    float64 `mapstructure:"min_similarity"`
	RecencyDecayDays float64 `mapstructure:"recency_decay_days"`
}

type EngineConfig struct {
	DefaultLimit            int           `mapstructure:"default_limit"`
	CandidateMultiplier     int           `mapstructure:"candidate_multiplier"`
	ProfileInteractionCount int           `mapstructure:"profile_interaction_count"`
	ProfileInterestCount    int           `mapstructure:"profile_interest_count"`
	ProfileCacheTTL         time.Duration `mapstructure:"profile_cache_ttl"`
	ResponseCacheTTL        time.Duration `mapstructure:"response_cache_ttl"`
	EngagementTTL           time.Duration `mapstructure:"engagement_ttl"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	// Environment variable overrides
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.warm.max_retries", 3)
	viper.SetDefault("redis.warm.pool_size", 5)
	viper.SetDefault("redis.warm.timeout", "10s")

	// Neo4j defaults
	viper.SetDefault("neo4j.enabled", false)

	// Kafka defaults
	viper.SetDefault("kafka.topics.user_interactions", "riptide.interactions")
	viper.SetDefault("kafka.topics.content_embeddings", "riptide.content.embeddings")
	viper.SetDefault("kafka.topics.recommendations_served", "riptide.recommendations.served")
	viper.SetDefault("kafka.topics.dead_letter", "riptide.dlq")
	viper.SetDefault("kafka.consumer_group", "riptide-engine")

	// Auth defaults
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.rate_limit.requests_per_window", 1000)
	viper.SetDefault("auth.rate_limit.window", "1h")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Clustering defaults
	viper.SetDefault("recommendation.clustering.epsilon", 0.25)
	viper.SetDefault("recommendation.clustering.min_points", 5)
	viper.SetDefault("recommendation.clustering.distance", "cosine")
	viper.SetDefault("recommendation.clustering.max_points", 10000)
	viper.SetDefault("recommendation.clustering.interval", "6h")

	// Matcher defaults
	viper.SetDefault("recommendation.matcher.embedding_weight", 0.6)
	viper.SetDefault("recommendation.matcher.interest_weight", 0.25)
	viper.SetDefault("recommendation.matcher.context_weight", 0.15)
	viper.SetDefault("recommendation.matcher.max_clusters", 10)
	viper.SetDefault("recommendation.matcher.min_match_threshold", 0.3)
	viper.SetDefault("recommendation.matcher.seed", 0)

	// Selector defaults
	viper.SetDefault("recommendation.selector.time_window_hours", 168)
	viper.SetDefault("recommendation.selector.min_cluster_score", 0.2)

	// Ranker defaults
	viper.SetDefault("recommendation.ranker.relevance_weight", 0.40)
	viper.SetDefault("recommendation.ranker.engagement_weight", 0.25)
	viper.SetDefault("recommendation.ranker.novelty_weight", 0.15)
	viper.SetDefault("recommendation.ranker.diversity_weight", 0.10)
	viper.SetDefault("recommendation.ranker.context_weight", 0.10)
	viper.SetDefault("recommendation.ranker.engagement_calibration", 1000.0)
	viper.SetDefault("recommendation.ranker.recency_decay_hours", 48.0)
	viper.SetDefault("recommendation.ranker.peak_hours_weight", 0.45)
	viper.SetDefault("recommendation.ranker.low_engagement_weight", 0.35)
	viper.SetDefault("recommendation.ranker.weekend_weight", 0.30)
	viper.SetDefault("recommendation.ranker.mid_week_weight", 0.20)
	viper.SetDefault("recommendation.ranker.week_start_end_weight", 0.10)
	viper.SetDefault("recommendation.ranker.same_location_weight", 0.45)
	viper.SetDefault("recommendation.ranker.diff_location_weight", 0.30)
	viper.SetDefault("recommendation.ranker.default_novelty_level", 0.3)
	viper.SetDefault("recommendation.ranker.default_diversity_level", 0.4)

	// Hybrid ranker defaults
	viper.SetDefault("recommendation.hybrid.content_weight", 0.5)
	viper.SetDefault("recommendation.hybrid.engagement_weight", 0.3)
	viper.SetDefault("recommendation.hybrid.recency_weight", 0.2)
	viper.SetDefault("recommendation.hybrid.min_similarity", 0.1)
	viper.SetDefault("recommendation.hybrid.recency_decay_days", 7.0)

	// Engine defaults
	viper.SetDefault("recommendation.engine.default_limit", 20)
	viper.SetDefault("recommendation.engine.candidate_multiplier", 3)
	viper.SetDefault("recommendation.engine.profile_interaction_count", 100)
	viper.SetDefault("recommendation.engine.profile_interest_count", 10)
	viper.SetDefault("recommendation.engine.profile_cache_ttl", "5m")
	viper.SetDefault("recommendation.engine.response_cache_ttl", "60s")
	viper.SetDefault("recommendation.engine.engagement_ttl", "24h")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
