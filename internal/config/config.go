package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/blog-chat/pkg/config"
	"github.com/weiawesome/blog-chat/pkg/database"
	pkglog "github.com/weiawesome/blog-chat/pkg/log"
	"github.com/weiawesome/blog-chat/pkg/storage"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Persister PersisterConfig `mapstructure:"persister"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Persist   PersistConfig   `mapstructure:"persist"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       pkglog.Config   `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PersisterConfig is used by chat-persist-service only.
type PersisterConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type ChatConfig struct {
	HistoryLimit   int           `mapstructure:"history_limit"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout"`
	APIMaxLimit    int           `mapstructure:"api_max_limit"`
}

type StoreConfig struct {
	Driver    string          `mapstructure:"driver"` // gorm, cassandra, mongo, pebble
	Database  database.Config `mapstructure:"database"`
	Cassandra CassandraConfig `mapstructure:"cassandra"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Pebble    PebbleConfig    `mapstructure:"pebble"`
}

type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Migrate        bool          `mapstructure:"migrate"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type PebbleConfig struct {
	Path string `mapstructure:"path"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Prefix  string        `mapstructure:"prefix"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PersistConfig selects where the relay sends accepted messages: straight
// into the store, or onto Kafka for chat-persist-service.
type PersistConfig struct {
	Mode string `mapstructure:"mode"` // direct, kafka
}

type KafkaConfig struct {
	Brokers    string `mapstructure:"brokers"`
	Topic      string `mapstructure:"topic"`
	Partitions int    `mapstructure:"partitions"`
	GroupID    string `mapstructure:"group_id"`
}

type UploadConfig struct {
	MaxBytes      int64  `mapstructure:"max_bytes"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type StorageConfig struct {
	Type  string              `mapstructure:"type"` // local, s3
	Local storage.LocalConfig `mapstructure:"local"`
	S3    storage.S3Config    `mapstructure:"s3"`
}

// Load reads <configPath>/config.yaml plus environment overrides.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults and environment bindings to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	if err := pkgconfig.BindEnvs(v, map[string]string{
		"server.port":                  "PORT",
		"persister.health_port":        "HEALTH_PORT",
		"store.driver":                 "STORE_DRIVER",
		"store.database.driver":        "DB_DRIVER",
		"store.database.host":          "DB_HOST",
		"store.database.port":          "DB_PORT",
		"store.database.user":          "DB_USER",
		"store.database.password":      "DB_PASSWORD",
		"store.database.dbname":        "DB_NAME",
		"store.cassandra.hosts":        "CASSANDRA_HOSTS",
		"store.cassandra.keyspace":     "CASSANDRA_KEYSPACE",
		"store.mongo.uri":              "MONGO_URI",
		"redis.address":                "REDIS_ADDRESS",
		"redis.password":               "REDIS_PASSWORD",
		"kafka.brokers":                "KAFKA_BROKERS",
		"kafka.topic":                  "KAFKA_TOPIC",
		"storage.type":                 "STORAGE_TYPE",
		"storage.s3.endpoint":          "S3_ENDPOINT",
		"storage.s3.bucket":            "S3_BUCKET",
		"storage.s3.region":            "S3_REGION",
		"storage.s3.access_key_id":     "S3_ACCESS_KEY_ID",
		"storage.s3.secret_access_key": "S3_SECRET_ACCESS_KEY",
		"upload.public_base_url":       "UPLOAD_PUBLIC_BASE_URL",
		"log.level":                    "LOG_LEVEL",
	}); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Comma separated host lists arrive as one string from the environment.
	cfg.Store.Cassandra.Hosts = splitList(cfg.Store.Cassandra.Hosts)
	cfg.WebSocket.AllowedOrigins = splitList(cfg.WebSocket.AllowedOrigins)

	cfg.Server.ShutdownTimeout = pkgconfig.Duration(v, "server.shutdown_timeout", 15*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.Duration(v, "websocket.ping_interval", 25*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.Duration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.Duration(v, "websocket.write_wait", 10*time.Second)
	cfg.Chat.PersistTimeout = pkgconfig.Duration(v, "chat.persist_timeout", 5*time.Second)
	cfg.Chat.UploadTimeout = pkgconfig.Duration(v, "chat.upload_timeout", 30*time.Second)
	cfg.Cache.TTL = pkgconfig.Duration(v, "cache.ttl", 30*time.Second)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("persister.health_port", 8089)

	v.SetDefault("websocket.ping_interval", "25s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	// Inline images travel inside a single frame.
	v.SetDefault("websocket.max_message_size", 16<<20)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("chat.history_limit", 100)
	v.SetDefault("chat.persist_timeout", "5s")
	v.SetDefault("chat.upload_timeout", "30s")
	v.SetDefault("chat.api_max_limit", 500)

	v.SetDefault("store.driver", "gorm")
	v.SetDefault("store.database.driver", "sqlite")
	v.SetDefault("store.database.file_path", "chat.db")
	v.SetDefault("store.database.port", 5432)
	v.SetDefault("store.database.log_level", "warn")
	v.SetDefault("store.cassandra.hosts", []string{"localhost:9042"})
	v.SetDefault("store.cassandra.keyspace", "blog_chat")
	v.SetDefault("store.cassandra.consistency", "LOCAL_QUORUM")
	v.SetDefault("store.cassandra.connect_timeout", "10s")
	v.SetDefault("store.cassandra.timeout", "5s")
	v.SetDefault("store.cassandra.migrate", true)
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.database", "blog")
	v.SetDefault("store.mongo.collection", "chat_messages")
	v.SetDefault("store.mongo.connect_timeout", "10s")
	v.SetDefault("store.pebble.path", "data/chat-pebble")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.prefix", "chat:history")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("persist.mode", "direct")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "chat-messages")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.group_id", "chat-persist-service")

	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.key_prefix", "chat")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "uploads")
	v.SetDefault("storage.local.url_prefix", "/uploads")
	v.SetDefault("storage.s3.region", "us-east-1")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service_name", "chat-service")
}

// Validate rejects unknown driver names early so a typo fails at startup.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "gorm", "cassandra", "mongo", "pebble":
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	switch c.Persist.Mode {
	case "direct", "kafka":
	default:
		return fmt.Errorf("unknown persist.mode %q", c.Persist.Mode)
	}
	switch c.Storage.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.APIMaxLimit < c.Chat.HistoryLimit {
		return fmt.Errorf("chat.api_max_limit (%d) is below chat.history_limit (%d)", c.Chat.APIMaxLimit, c.Chat.HistoryLimit)
	}
	return nil
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
