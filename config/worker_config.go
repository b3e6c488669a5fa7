package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	DirectURL   string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT secret, loaded from JWT_SECRET; no component in this module
	// reads it (the HTTP surface has no JWT authentication).
	JWTSecret string

	// Encryption (password-vault: DKIM private keys, broker credentials)
	EncryptionKey string

	// Mail domain defaults
	RootDomainName    string
	SPFHost           string
	DefaultDKIMBits   int
	DefaultTTLSeconds int

	// Outgoing mail limits
	MaxRecipients               int
	MaxHeaders                  int
	MaxMessageSize              int
	OutgoingMaxAttachments      int
	OutgoingMaxAttachmentSize   int
	OutgoingTotalAttachmentSize int
	MaxBatchSize                int

	// Sync cursor
	MaxSyncViaAPI int

	// Spam/Blocklist gate
	EnableSpamDetection       bool
	ScanningMode              string
	HybridScanningThreshold   float64
	MaxSpamScoreInbound       float64
	MaxSpamScoreOutbound      float64
	SpamdHost                 string
	SpamdPort                 int
	SendNotificationOnReject  bool

	// Retention
	NewsletterRetentionDays   int
	RejectedMailRetentionDays int

	// Broker (RabbitMQ)
	RMQHost           string
	RMQPort           int
	RMQVirtualHost    string
	RMQUsername       string
	RMQPassword       string
	RMQPoolSize       int
	RMQConnectTimeout time.Duration

	// Worker pool
	WorkerID            string
	WorkerMin           int
	WorkerMax           int
	WorkerQueueSize     int
	WorkerScaleInterval time.Duration
	WorkerIdleTimeout   time.Duration

	// Cache
	CacheDefaultTTLMin int
	CacheDomainTTLMin  int
	CacheMailboxTTLMin int
	CacheContactTTLMin int
	CacheMaxEntries    int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DirectURL:   getEnv("DIRECT_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mail"),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		RootDomainName:    getEnv("ROOT_DOMAIN_NAME", ""),
		SPFHost:           getEnv("SPF_HOST", ""),
		DefaultDKIMBits:   getEnvInt("DEFAULT_DKIM_KEY_SIZE", 2048),
		DefaultTTLSeconds: getEnvInt("DEFAULT_TTL", 3600),

		MaxRecipients:               getEnvInt("MAX_RECIPIENTS", 250),
		MaxHeaders:                  getEnvInt("MAX_HEADERS", 50),
		MaxMessageSize:              getEnvInt("MAX_MESSAGE_SIZE", 25*1024*1024),
		OutgoingMaxAttachments:      getEnvInt("OUTGOING_MAX_ATTACHMENTS", 10),
		OutgoingMaxAttachmentSize:   getEnvInt("OUTGOING_MAX_ATTACHMENT_SIZE", 10*1024*1024),
		OutgoingTotalAttachmentSize: getEnvInt("OUTGOING_TOTAL_ATTACHMENTS_SIZE", 25*1024*1024),
		MaxBatchSize:                getEnvInt("MAX_BATCH_SIZE", 100),

		MaxSyncViaAPI: getEnvInt("MAX_SYNC_VIA_API", 100),

		EnableSpamDetection:      getEnvBool("ENABLE_SPAM_DETECTION", true),
		ScanningMode:             getEnv("SCANNING_MODE", "Hybrid Approach"),
		HybridScanningThreshold:  getEnvFloat("HYBRID_SCANNING_THRESHOLD", 5.0),
		MaxSpamScoreInbound:      getEnvFloat("MAX_SPAM_SCORE_FOR_INBOUND", 5.0),
		MaxSpamScoreOutbound:     getEnvFloat("MAX_SPAM_SCORE_FOR_OUTBOUND", 5.0),
		SpamdHost:                getEnv("SPAMD_HOST", "localhost"),
		SpamdPort:                getEnvInt("SPAMD_PORT", 783),
		SendNotificationOnReject: getEnvBool("SEND_NOTIFICATION_ON_REJECT", true),

		NewsletterRetentionDays:   getEnvInt("NEWSLETTER_RETENTION_DAYS", 30),
		RejectedMailRetentionDays: getEnvInt("REJECTED_MAIL_RETENTION_DAYS", 7),

		RMQHost:           getEnv("RMQ_HOST", "localhost"),
		RMQPort:           getEnvInt("RMQ_PORT", 5672),
		RMQVirtualHost:    getEnv("RMQ_VIRTUAL_HOST", "/"),
		RMQUsername:       getEnv("RMQ_USERNAME", "guest"),
		RMQPassword:       getEnv("RMQ_PASSWORD", "guest"),
		RMQPoolSize:       getEnvInt("RMQ_POOL_SIZE", 5),
		RMQConnectTimeout: time.Duration(getEnvInt("RMQ_CONNECT_TIMEOUT_SEC", 5)) * time.Second,

		WorkerID:            getEnv("WORKER_ID", generateWorkerID()),
		WorkerMin:           getEnvInt("WORKER_MIN", 2),
		WorkerMax:           getEnvInt("WORKER_MAX", 20),
		WorkerQueueSize:     getEnvInt("WORKER_QUEUE_SIZE", 1000),
		WorkerScaleInterval: time.Duration(getEnvInt("WORKER_SCALE_INTERVAL_SEC", 10)) * time.Second,
		WorkerIdleTimeout:   time.Duration(getEnvInt("WORKER_IDLE_TIMEOUT_SEC", 30)) * time.Second,

		CacheDefaultTTLMin: getEnvInt("CACHE_DEFAULT_TTL_MIN", 30),
		CacheDomainTTLMin:  getEnvInt("CACHE_DOMAIN_TTL_MIN", 60),
		CacheMailboxTTLMin: getEnvInt("CACHE_MAILBOX_TTL_MIN", 60),
		CacheContactTTLMin: getEnvInt("CACHE_CONTACT_TTL_MIN", 120),
		CacheMaxEntries:    getEnvInt("CACHE_MAX_ENTRIES", 10000),

		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
