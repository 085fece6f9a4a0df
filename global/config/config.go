package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 网关节点配置
type AppConfig struct {
	NodeID   string `mapstructure:"node_id"`
	HTTPAddr string `mapstructure:"http_addr"`

	JwtSecret string `mapstructure:"jwt_secret"`

	// 每连接发送队列长度；写不进去按慢客户端丢弃
	SendQueueSize int `mapstructure:"send_queue_size"`
	// 离线补投一次拉取的最大条数
	OfflineBatch int `mapstructure:"offline_batch"`

	Call  CallConfig  `mapstructure:"call"`
	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
	Pg    PgConfig    `mapstructure:"pg"`
	Nats  NatsConfig  `mapstructure:"nats"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type CallConfig struct {
	// 响铃超时；<=0 关闭服务端超时（还原源系统行为，不推荐）
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type PgConfig struct {
	DSN string `mapstructure:"dsn"`
}

type NatsConfig struct {
	URL string `mapstructure:"url"` // 空串 = 单节点模式，不做跨节点转发
}

type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"` // 空 = 不开启归档
	TopicPattern string   `mapstructure:"topic_pattern"`
	TopicCount   int      `mapstructure:"topic_count"`
}

// Load 读取 yaml + 环境变量（SOCIALGW_ 前缀），缺省值内置
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetDefault("node_id", "gateway_01")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("jwt_secret", "dev-secret-change-me")
	v.SetDefault("send_queue_size", 256)
	v.SetDefault("offline_batch", 100)
	v.SetDefault("call.ring_timeout", "60s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "socialgw")
	v.SetDefault("pg.dsn", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("kafka.topic_pattern", "im.archive-%02d")
	v.SetDefault("kafka.topic_count", 8)

	v.SetEnvPrefix("SOCIALGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
