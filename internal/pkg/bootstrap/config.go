package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "configs/inventory-service.yaml"

// Config 是服务的完整配置，来源于 YAML 文件，再由环境变量覆盖
type Config struct {
	App         AppConfig         `yaml:"app"`
	Reservation ReservationConfig `yaml:"reservation"`
	Storage     StorageConfig     `yaml:"storage"`
	Lock        LockConfig        `yaml:"lock"`
	Infra       InfraConfig       `yaml:"infra"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// ReservationConfig 控制预占流程的各项时间边界
type ReservationConfig struct {
	LockWait       time.Duration `yaml:"lock_wait"`
	LockHold       time.Duration `yaml:"lock_hold"`
	ReserveTimeout time.Duration `yaml:"reserve_timeout"`
	TTL            time.Duration `yaml:"ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	AdmissionRule  string        `yaml:"admission_rule"`
}

type StorageConfig struct {
	Driver      string      `yaml:"driver"` // mysql | memory
	AutoMigrate bool        `yaml:"auto_migrate"`
	MySQL       MySQLConfig `yaml:"mysql"`
}

type MySQLConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type LockConfig struct {
	Backend   string          `yaml:"backend"` // redis | zookeeper
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type RedisConfig struct {
	Addrs    string `yaml:"addrs"`
	Password string `yaml:"password"`
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type InfraConfig struct {
	Jaeger JaegerConfig `yaml:"jaeger"`
	Kafka  KafkaConfig  `yaml:"kafka"`
	Nacos  NacosConfig  `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type KafkaConfig struct {
	Brokers            string `yaml:"brokers"`
	PaymentResultTopic string `yaml:"payment_result_topic"`
	ConsumerGroup      string `yaml:"consumer_group"`
	DLTTopic           string `yaml:"dlt_topic"`
	MaxAttempts        int    `yaml:"max_attempts"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

// BrokerList 返回拆分后的 kafka broker 地址
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置；Init 之前调用得到默认配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// Init 从 CONFIG_PATH（默认 configs/inventory-service.yaml）加载配置并设为全局配置
func Init() (*Config, error) {
	cfg, err := LoadConfig(getEnv("CONFIG_PATH", defaultConfigPath))
	if err != nil {
		return nil, err
	}
	currentConfig.Store(cfg)
	return cfg, nil
}

// DefaultConfig 返回与原有 Redisson 配置一致的默认值（等待 3s，租期 10s）
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "inventory-service", Port: 8082, LogLevel: "info"},
		Reservation: ReservationConfig{
			LockWait:       3 * time.Second,
			LockHold:       10 * time.Second,
			ReserveTimeout: 8 * time.Second,
			TTL:            15 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Storage: StorageConfig{
			Driver:      "mysql",
			AutoMigrate: true,
			MySQL: MySQLConfig{
				Addr:         "localhost:3306",
				User:         "root",
				Database:     "inventory",
				MaxOpenConns: 20,
				MaxIdleConns: 10,
			},
		},
		Lock: LockConfig{
			Backend:   "redis",
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 10 * time.Second},
		},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Kafka: KafkaConfig{
				Brokers:            "localhost:9092",
				PaymentResultTopic: "payment.result",
				ConsumerGroup:      "inventory-service",
				DLTTopic:           "payment.result.dlt",
				MaxAttempts:        3,
			},
			Nacos: NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
		},
	}
}

// LoadConfig 读取 YAML 文件并应用环境变量覆盖。
// 文件不存在时只使用默认值和环境变量。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
		// 容器环境下通常只用环境变量
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置之间的约束
func (c *Config) Validate() error {
	r := c.Reservation
	if r.LockWait <= 0 || r.LockHold <= 0 {
		return errors.New("reservation.lock_wait and reservation.lock_hold must be positive")
	}
	// 整个预占必须在锁租期内完成
	if r.ReserveTimeout < 0 || r.ReserveTimeout > r.LockHold {
		return errors.Errorf("reservation.reserve_timeout (%s) must be within reservation.lock_hold (%s)", r.ReserveTimeout, r.LockHold)
	}
	if r.TTL <= 0 || r.SweepInterval <= 0 {
		return errors.New("reservation.ttl and reservation.sweep_interval must be positive")
	}
	switch c.Storage.Driver {
	case "mysql", "memory":
	default:
		return errors.Errorf("unsupported storage.driver %q", c.Storage.Driver)
	}
	switch c.Lock.Backend {
	case "redis", "zookeeper":
	default:
		return errors.Errorf("unsupported lock.backend %q", c.Lock.Backend)
	}
	if c.Infra.Kafka.MaxAttempts < 1 {
		return errors.New("infra.kafka.max_attempts must be at least 1")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.Port = getEnvInt("APP_PORT", cfg.App.Port)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)

	cfg.Reservation.LockWait = getEnvDuration("RESERVATION_LOCK_WAIT", cfg.Reservation.LockWait)
	cfg.Reservation.LockHold = getEnvDuration("RESERVATION_LOCK_HOLD", cfg.Reservation.LockHold)
	cfg.Reservation.TTL = getEnvDuration("RESERVATION_TTL", cfg.Reservation.TTL)
	cfg.Reservation.AdmissionRule = getEnv("RESERVATION_ADMISSION_RULE", cfg.Reservation.AdmissionRule)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.Storage.MySQL.Addr)
	cfg.Storage.MySQL.User = getEnv("MYSQL_USER", cfg.Storage.MySQL.User)
	cfg.Storage.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Storage.MySQL.Password)
	cfg.Storage.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Storage.MySQL.Database)

	cfg.Lock.Backend = getEnv("LOCK_BACKEND", cfg.Lock.Backend)
	cfg.Lock.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Lock.Redis.Addrs)
	cfg.Lock.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Lock.Redis.Password)
	cfg.Lock.Zookeeper.Servers = getEnv("ZK_SERVERS", cfg.Lock.Zookeeper.Servers)

	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Nacos.Enabled = getEnvBool("NACOS_ENABLED", cfg.Infra.Nacos.Enabled)
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
