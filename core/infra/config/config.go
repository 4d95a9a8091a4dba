package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultTransport        = TransportSQS
	defaultQueueName        = "coldgate-jobs"
	defaultTopicName        = "coldgate-jobs"
	defaultBatchSize        = 10
	defaultPollBackoff      = 10 * time.Second
	defaultWaitTime         = 10 * time.Second
	defaultNATSSubject      = "glacier.jobs"
	defaultNATSDurable      = "coldgate-poller"
	defaultRegistryCapacity = 10
	defaultSubmitTimeout    = 30 * time.Second
	defaultNATSURL          = "nats://localhost:4222"
	defaultAvailableSubject = "coldgate.object.available"
	defaultHTTPAddr         = ":8080"
	defaultMetricsAddr      = ":9090"

	// SQS caps a single receive at ten messages.
	maxSQSBatchSize = 10

	envConfigPath       = "COLDGATE_CONFIG"
	envRegion           = "AWS_REGION"
	envAccessKeyID      = "AWS_ACCESS_KEY_ID"
	envSecretAccessKey  = "AWS_SECRET_ACCESS_KEY"
	envAWSEndpoint      = "COLDGATE_AWS_ENDPOINT"
	envCacheRoot        = "COLDGATE_CACHE_ROOT"
	envTransport        = "COLDGATE_NOTIFY_TRANSPORT"
	envQueueName        = "COLDGATE_QUEUE_NAME"
	envTopicName        = "COLDGATE_TOPIC_NAME"
	envBatchSize        = "COLDGATE_BATCH_SIZE"
	envPollBackoff      = "COLDGATE_POLL_BACKOFF"
	envRegistryCapacity = "COLDGATE_REGISTRY_CAPACITY"
	envNATSURL          = "NATS_URL"
	envRedisURL         = "REDIS_URL"
	envHTTPAddr         = "COLDGATE_HTTP_ADDR"
	envMetricsAddr      = "COLDGATE_METRICS_ADDR"
)

// Notification transports.
const (
	TransportSQS  = "sqs"
	TransportNATS = "nats"
)

// Config holds runtime configuration for the coldgate service.
type Config struct {
	AWS           AWSConfig           `yaml:"aws"`
	Cache         CacheConfig         `yaml:"cache"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Registry      RegistryConfig      `yaml:"registry"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	NATS          NATSConfig          `yaml:"nats"`
	Redis         RedisConfig         `yaml:"redis"`
	Server        ServerConfig        `yaml:"server"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Endpoint        string `yaml:"endpoint"`
}

type CacheConfig struct {
	Root string `yaml:"root"`
}

type NotificationsConfig struct {
	Transport   string        `yaml:"transport"`
	QueueName   string        `yaml:"queue_name"`
	TopicName   string        `yaml:"topic_name"`
	BatchSize   int           `yaml:"batch_size"`
	PollBackoff time.Duration `yaml:"poll_backoff"`
	// PollBackoffSeconds, when positive, takes precedence over PollBackoff.
	PollBackoffSeconds int           `yaml:"poll_backoff_seconds"`
	WaitTime           time.Duration `yaml:"wait_time"`
	AckUnmatched       bool          `yaml:"ack_unmatched"`
	NATSSubject        string        `yaml:"nats_subject"`
	NATSDurable        string        `yaml:"nats_durable"`
}

type RegistryConfig struct {
	Capacity int `yaml:"capacity"`
}

type RetrievalConfig struct {
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	// Tier is passed through to the retrieval job; empty means the service default.
	Tier string `yaml:"tier"`
}

type NATSConfig struct {
	URL              string `yaml:"url"`
	AvailableSubject string `yaml:"available_subject"`
}

// RedisConfig enables requester tracking when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a config with every optional field populated.
func Default() *Config {
	return &Config{
		Notifications: NotificationsConfig{
			Transport:   defaultTransport,
			QueueName:   defaultQueueName,
			TopicName:   defaultTopicName,
			BatchSize:   defaultBatchSize,
			PollBackoff: defaultPollBackoff,
			WaitTime:    defaultWaitTime,
			NATSSubject: defaultNATSSubject,
			NATSDurable: defaultNATSDurable,
		},
		Registry:  RegistryConfig{Capacity: defaultRegistryCapacity},
		Retrieval: RetrievalConfig{SubmitTimeout: defaultSubmitTimeout},
		NATS: NATSConfig{
			URL:              defaultNATSURL,
			AvailableSubject: defaultAvailableSubject,
		},
		Server: ServerConfig{
			HTTPAddr:    defaultHTTPAddr,
			MetricsAddr: defaultMetricsAddr,
		},
	}
}

// Load reads the YAML file at path (or COLDGATE_CONFIG when path is empty),
// then applies environment overrides. A missing file is only an error when a
// path was given.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	var data []byte
	if path != "" {
		// #nosec G304 -- config path is operator-provided.
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = raw
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// Parse decodes YAML config bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := validateConfigSchema("coldgate", configSchemaFile, data); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if n := cfg.Notifications.PollBackoffSeconds; n > 0 {
		cfg.Notifications.PollBackoff = time.Duration(n) * time.Second
	}
	cfg.fillDefaults()
	return cfg, nil
}

// Validate reports every missing or out-of-range field at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AWS.Region) == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	} else if c.AWS.AccessKeyID == "" {
		errs = append(errs, errors.New("aws credentials are required"))
	}
	if strings.TrimSpace(c.Cache.Root) == "" {
		errs = append(errs, errors.New("cache.root is required"))
	}
	switch c.Notifications.Transport {
	case TransportSQS:
		if c.Notifications.BatchSize > maxSQSBatchSize {
			errs = append(errs, fmt.Errorf("notifications.batch_size must be <= %d for sqs", maxSQSBatchSize))
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required for the nats transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("notifications.transport %q is not supported", c.Notifications.Transport))
	}
	if c.Notifications.BatchSize <= 0 {
		errs = append(errs, errors.New("notifications.batch_size must be positive"))
	}
	if c.Registry.Capacity <= 0 {
		errs = append(errs, errors.New("registry.capacity must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) applyEnv() {
	setString(&c.AWS.Region, envRegion)
	setString(&c.AWS.AccessKeyID, envAccessKeyID)
	setString(&c.AWS.SecretAccessKey, envSecretAccessKey)
	setString(&c.AWS.Endpoint, envAWSEndpoint)
	setString(&c.Cache.Root, envCacheRoot)
	setString(&c.Notifications.Transport, envTransport)
	setString(&c.Notifications.QueueName, envQueueName)
	setString(&c.Notifications.TopicName, envTopicName)
	setInt(&c.Notifications.BatchSize, envBatchSize)
	setDuration(&c.Notifications.PollBackoff, envPollBackoff)
	setInt(&c.Registry.Capacity, envRegistryCapacity)
	setString(&c.NATS.URL, envNATSURL)
	setString(&c.Redis.URL, envRedisURL)
	setString(&c.Server.HTTPAddr, envHTTPAddr)
	setString(&c.Server.MetricsAddr, envMetricsAddr)
}

func (c *Config) fillDefaults() {
	def := Default()
	c.Notifications.Transport = strings.ToLower(strings.TrimSpace(c.Notifications.Transport))
	if c.Notifications.Transport == "" {
		c.Notifications.Transport = def.Notifications.Transport
	}
	if c.Notifications.QueueName == "" {
		c.Notifications.QueueName = def.Notifications.QueueName
	}
	if c.Notifications.TopicName == "" {
		c.Notifications.TopicName = def.Notifications.TopicName
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = def.Notifications.BatchSize
	}
	if c.Notifications.PollBackoff <= 0 {
		c.Notifications.PollBackoff = def.Notifications.PollBackoff
	}
	if c.Notifications.WaitTime <= 0 {
		c.Notifications.WaitTime = def.Notifications.WaitTime
	}
	if c.Notifications.NATSSubject == "" {
		c.Notifications.NATSSubject = def.Notifications.NATSSubject
	}
	if c.Notifications.NATSDurable == "" {
		c.Notifications.NATSDurable = def.Notifications.NATSDurable
	}
	if c.Registry.Capacity == 0 {
		c.Registry.Capacity = def.Registry.Capacity
	}
	if c.Retrieval.SubmitTimeout <= 0 {
		c.Retrieval.SubmitTimeout = def.Retrieval.SubmitTimeout
	}
	if c.NATS.URL == "" {
		c.NATS.URL = def.NATS.URL
	}
	if c.NATS.AvailableSubject == "" {
		c.NATS.AvailableSubject = def.NATS.AvailableSubject
	}
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = def.Server.HTTPAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = def.Server.MetricsAddr
	}
}

func setString(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setDuration(dst *time.Duration, env string) {
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return
	}
	// A bare integer is a number of seconds.
	if n, err := strconv.Atoi(v); err == nil {
		if n > 0 {
			*dst = time.Duration(n) * time.Second
		}
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
