package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application-level settings.
type Config struct {
	// Environment
	EnvName          string   // logical environment tag (e.g. "sandbox", "production")
	ActivePageGroups []string // optional page group filter applied to selections

	// Server
	ServerAddr  string
	ExternalURL string // annotation frontend URL embedded in HIT questions

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Qualification type cache
	QualCacheTTL time.Duration

	// Marketplace
	MarketplaceEndpoint  string
	MarketplaceAccessKey string
	MarketplaceSecretKey string
	MarketplaceRegion    string

	// Publication
	MaxAssignments int
	HITLifetimeSec int
	MarketplaceCut float64 // fractional fee the marketplace takes per reward
	MinimumFee     float64 // minimum absolute fee per assignment
	AcceptPrompts  bool    // skip interactive confirmations (set via CLI flag)
	ImageURLBase   string
	ImageExtension string
	ImageFolder    string

	// HIT type template
	HITTypeTitle           string
	HITTypeKeywords        string
	HITTypeDescription     string
	HITTypeReward          string
	HITTypeDurationSec     int
	HITTypeAutoApprovalSec int

	// Qualification types
	QualDidTasksName          string
	QualDidTasksDescription   string
	QualPointsName            string
	QualPointsDescription     string
	RejectedAssignmentPenalty int
}

// Load reads configuration from environment variables with sensible defaults.
// If envFile is non-empty and exists, it is loaded first; real environment
// variables still take precedence per godotenv.Load semantics.
func Load(envFile string) *Config {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Printf("[config] could not load env file %s: %v", envFile, err)
		}
	}

	return &Config{
		EnvName:          envOr("ENV_NAME", "sandbox"),
		ActivePageGroups: envListOr("ACTIVE_PAGE_GROUPS", nil),

		ServerAddr:  envOr("SERVER_ADDR", ":8080"),
		ExternalURL: envOr("EXTERNAL_URL", ""),

		DBHost:     envOr("DB_HOST", "localhost"),
		DBPort:     envOr("DB_PORT", "5432"),
		DBUser:     envOr("DB_USER", "postgres"),
		DBPassword: envOr("DB_PASSWORD", "postgres"),
		DBName:     envOr("DB_NAME", "pagecrowd"),
		DBSSLMode:  envOr("DB_SSLMODE", "disable"),

		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envIntOr("REDIS_DB", 0),

		QualCacheTTL: envDurationOr("QUAL_CACHE_TTL", time.Hour),

		MarketplaceEndpoint:  envOr("MARKETPLACE_ENDPOINT", ""),
		MarketplaceAccessKey: envOr("MARKETPLACE_ACCESS_KEY", ""),
		MarketplaceSecretKey: envOr("MARKETPLACE_SECRET_KEY", ""),
		MarketplaceRegion:    envOr("MARKETPLACE_REGION", "us-east-1"),

		MaxAssignments: envIntOr("MAX_ASSIGNMENTS", 2),
		HITLifetimeSec: envIntOr("HIT_LIFETIME_SEC", 600),
		MarketplaceCut: envFloatOr("MARKETPLACE_CUT", 0.2),
		MinimumFee:     envFloatOr("MINIMUM_FEE", 0.01),
		ImageURLBase:   envOr("IMAGE_URL_BASE", ""),
		ImageExtension: envOr("IMAGE_EXTENSION", ".png"),
		ImageFolder:    envOr("IMAGE_FOLDER", "./images/"),

		HITTypeTitle:           envOr("HIT_TYPE_TITLE", ""),
		HITTypeKeywords:        envOr("HIT_TYPE_KEYWORDS", ""),
		HITTypeDescription:     envOr("HIT_TYPE_DESCRIPTION", ""),
		HITTypeReward:          envOr("HIT_TYPE_REWARD", "0.00"),
		HITTypeDurationSec:     envIntOr("HIT_TYPE_DURATION_SEC", 600),
		HITTypeAutoApprovalSec: envIntOr("HIT_TYPE_AUTO_APPROVAL_DELAY_SEC", 259200),

		QualDidTasksName:          envOr("QUALIFICATION_DID_QUAL_TASKS_NAME", "Completed annotation qualification"),
		QualDidTasksDescription:   envOr("QUALIFICATION_DID_QUAL_TASKS_DESCRIPTION", "Granted after completing at least one qualification task"),
		QualPointsName:            envOr("QUALIFICATION_QUAL_POINTS_NAME", "Annotation verification points"),
		QualPointsDescription:     envOr("QUALIFICATION_QUAL_POINTS_DESCRIPTION", "Accumulated verification points from accepted annotations"),
		RejectedAssignmentPenalty: envIntOr("REJECTED_ASSIGNMENT_PENALTY", 2),
	}
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envListOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
