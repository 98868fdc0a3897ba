package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Raffle    RaffleConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	PayPal    PayPalConfig
	Storage   StorageConfig
	Security  SecurityConfig
	Downloads DownloadConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// RaffleConfig carries the raffle instance constants. The decay tuning
// values are deployment configuration, not a wire contract.
type RaffleConfig struct {
	RaffleID       string
	InitialTickets int
	StartDate      time.Time
	DedicatedDays  int
	DecayMinStart  int
	DecayMaxStart  int
	DecayMinEnd    int
	DecayMaxEnd    int
	TicketPrice    string
	Currency       string
	EventDate      string
	EventPlace     string
	StateCacheTTL  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver       string // "sqlite" or "postgres"
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type KafkaConfig struct {
	Brokers  []string
	Topics   TopicConfig
	MockMode bool
	Enabled  bool
}

type TopicConfig struct {
	SaleRecorded  string
	StateResynced string
}

type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
}

type StorageConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	LocalDir   string
	ObjectOnly bool
}

type SecurityConfig struct {
	HMACSecret     string
	JWTSecret      string
	SkewWindow     time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
}

type DownloadConfig struct {
	MaxRedeems int
	TokenTTL   time.Duration
}

func Load() *Config {
	kafkaEnabled := getEnvBool("KAFKA_ENABLED", false)
	mockMode := getEnvBool("KAFKA_MOCK_MODE", true)

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8085"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Raffle: RaffleConfig{
			RaffleID:       getEnv("RAFFLE_ID", "goodwill-2025"),
			InitialTickets: getEnvInt("INITIAL_TICKETS", 55),
			StartDate:      getEnvDate("RAFFLE_START_DATE", "2025-10-01"),
			DedicatedDays:  getEnvInt("RAFFLE_DEDICATED_DAYS", 30),
			DecayMinStart:  getEnvInt("DECAY_MIN_START", 3),
			DecayMaxStart:  getEnvInt("DECAY_MAX_START", 6),
			DecayMinEnd:    getEnvInt("DECAY_MIN_END", 7),
			DecayMaxEnd:    getEnvInt("DECAY_MAX_END", 12),
			TicketPrice:    getEnv("TICKET_PRICE", "5"),
			Currency:       getEnv("TICKET_CURRENCY", "USD"),
			EventDate:      getEnv("EVENT_DATE", "Dec 30, 2025"),
			EventPlace:     getEnv("EVENT_PLACE", "Nairobi"),
			StateCacheTTL:  time.Duration(getEnvInt("STATE_CACHE_TTL_SECONDS", 5)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "sqlite"),
			DSN:          getEnv("DB_DSN", "file:raffle.db?cache=shared"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled:  kafkaEnabled,
			MockMode: mockMode,
			Topics: TopicConfig{
				SaleRecorded:  getEnv("KAFKA_TOPIC_SALE", "raffle.sale.recorded"),
				StateResynced: getEnv("KAFKA_TOPIC_RESYNC", "raffle.state.resynced"),
			},
		},
		PayPal: PayPalConfig{
			BaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
			ClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		},
		Storage: StorageConfig{
			Endpoint:   getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:  getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:  getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:     getEnv("STORAGE_BUCKET", "raffle-tickets"),
			UseSSL:     getEnvBool("STORAGE_USE_SSL", true),
			LocalDir:   getEnv("STORAGE_LOCAL_DIR", "generated"),
			ObjectOnly: getEnvBool("STORAGE_OBJECT_ONLY", false),
		},
		Security: SecurityConfig{
			HMACSecret:     getEnv("HMAC_SECRET", ""),
			JWTSecret:      getEnv("JWT_SECRET", ""),
			SkewWindow:     time.Duration(getEnvInt("HMAC_SKEW_MINUTES", 5)) * time.Minute,
			RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1),
			RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),
		},
		Downloads: DownloadConfig{
			MaxRedeems: getEnvInt("DOWNLOAD_MAX_REDEEMS", 3),
			TokenTTL:   time.Duration(getEnvInt("DOWNLOAD_TOKEN_TTL_HOURS", 48)) * time.Hour,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDate(key, defaultValue string) time.Time {
	raw := getEnv(key, defaultValue)
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		// A mistyped date would silently shift the whole decay schedule.
		log.Printf("WARN: %s=%q is not a YYYY-MM-DD date, using default %s", key, raw, defaultValue)
		parsed, _ = time.Parse("2006-01-02", defaultValue)
	}
	return parsed.UTC()
}
