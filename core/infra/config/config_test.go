package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		envConfigPath, envRegion, envAccessKeyID, envSecretAccessKey, envAWSEndpoint,
		envCacheRoot, envTransport, envQueueName, envTopicName, envBatchSize,
		envPollBackoff, envRegistryCapacity, envNATSURL, envRedisURL, envHTTPAddr, envMetricsAddr,
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.Transport != TransportSQS {
		t.Fatalf("expected default transport, got %q", cfg.Notifications.Transport)
	}
	if cfg.Notifications.BatchSize != defaultBatchSize {
		t.Fatalf("expected default batch size")
	}
	if cfg.Notifications.PollBackoff != 10*time.Second {
		t.Fatalf("expected default backoff, got %s", cfg.Notifications.PollBackoff)
	}
	if cfg.Registry.Capacity != defaultRegistryCapacity {
		t.Fatalf("expected default capacity")
	}
	if cfg.Retrieval.SubmitTimeout != defaultSubmitTimeout {
		t.Fatalf("expected default submit timeout")
	}
	if cfg.NATS.URL != defaultNATSURL || cfg.NATS.AvailableSubject != defaultAvailableSubject {
		t.Fatalf("unexpected nats defaults: %+v", cfg.NATS)
	}
	if cfg.Server.HTTPAddr != defaultHTTPAddr || cfg.Server.MetricsAddr != defaultMetricsAddr {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Redis.URL != "" {
		t.Fatalf("expected redis disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(envRegion, "eu-west-1")
	t.Setenv(envAccessKeyID, "AKID")
	t.Setenv(envSecretAccessKey, "secret")
	t.Setenv(envCacheRoot, "/var/cache/coldgate")
	t.Setenv(envTransport, "NATS")
	t.Setenv(envBatchSize, "25")
	t.Setenv(envPollBackoff, "3s")
	t.Setenv(envRegistryCapacity, "4")
	t.Setenv(envNATSURL, "nats://example:4222")
	t.Setenv(envRedisURL, "redis://example:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AWS.Region != "eu-west-1" || cfg.AWS.AccessKeyID != "AKID" || cfg.AWS.SecretAccessKey != "secret" {
		t.Fatalf("unexpected aws config: %+v", cfg.AWS)
	}
	if cfg.Cache.Root != "/var/cache/coldgate" {
		t.Fatalf("unexpected cache root")
	}
	if cfg.Notifications.Transport != TransportNATS {
		t.Fatalf("expected transport normalized to nats, got %q", cfg.Notifications.Transport)
	}
	if cfg.Notifications.BatchSize != 25 || cfg.Notifications.PollBackoff != 3*time.Second {
		t.Fatalf("unexpected notification overrides: %+v", cfg.Notifications)
	}
	if cfg.Registry.Capacity != 4 {
		t.Fatalf("unexpected capacity")
	}
	if cfg.NATS.URL != "nats://example:4222" || cfg.Redis.URL != "redis://example:6379" {
		t.Fatalf("unexpected urls")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envBatchSize, "many")
	t.Setenv(envPollBackoff, "soon")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.BatchSize != defaultBatchSize || cfg.Notifications.PollBackoff != defaultPollBackoff {
		t.Fatalf("expected defaults to survive malformed env: %+v", cfg.Notifications)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "coldgate.yaml")
	data := `
aws:
  region: us-east-1
  access_key_id: AKID
  secret_access_key: secret
cache:
  root: /tmp/cache
notifications:
  queue_name: archive-jobs
  poll_backoff: 2s
  ack_unmatched: true
registry:
  capacity: 3
retrieval:
  submit_timeout: 5s
  tier: Bulk
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)
	t.Setenv(envRegion, "us-west-2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AWS.Region != "us-west-2" {
		t.Fatalf("expected env to override file region, got %q", cfg.AWS.Region)
	}
	if cfg.Notifications.QueueName != "archive-jobs" || !cfg.Notifications.AckUnmatched {
		t.Fatalf("unexpected notifications: %+v", cfg.Notifications)
	}
	if cfg.Notifications.PollBackoff != 2*time.Second {
		t.Fatalf("unexpected backoff %s", cfg.Notifications.PollBackoff)
	}
	if cfg.Notifications.TopicName != defaultTopicName {
		t.Fatalf("expected default topic name to fill in")
	}
	if cfg.Registry.Capacity != 3 || cfg.Retrieval.SubmitTimeout != 5*time.Second || cfg.Retrieval.Tier != "Bulk" {
		t.Fatalf("unexpected retrieval config: %+v %+v", cfg.Registry, cfg.Retrieval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("cache:\n  root: /tmp\n  flavour: vanilla\n"))
	if err == nil {
		t.Fatalf("expected schema error for unknown key")
	}
	if !strings.Contains(err.Error(), "validate coldgate config") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRejectsBadTransport(t *testing.T) {
	if _, err := Parse([]byte("notifications:\n  transport: carrier-pigeon\n")); err == nil {
		t.Fatalf("expected schema error for unsupported transport")
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Registry.Capacity != defaultRegistryCapacity {
		t.Fatalf("expected defaults for empty config")
	}
}

func TestParsePollBackoffSeconds(t *testing.T) {
	cfg, err := Parse([]byte("notifications:\n  poll_backoff: 2s\n  poll_backoff_seconds: 7\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Notifications.PollBackoff != 7*time.Second {
		t.Fatalf("expected seconds form to win, got %s", cfg.Notifications.PollBackoff)
	}
	if _, err := Parse([]byte("notifications:\n  poll_backoff_seconds: 0\n")); err == nil {
		t.Fatalf("expected schema error for non-positive seconds")
	}
}

func TestLoadPollBackoffEnvSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv(envPollBackoff, "45")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.PollBackoff != 45*time.Second {
		t.Fatalf("expected integer env read as seconds, got %s", cfg.Notifications.PollBackoff)
	}
}

func TestValidateReportsAllMissing(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"aws.region", "aws credentials", "cache.root"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestValidateCredentialsTogether(t *testing.T) {
	cfg := Default()
	cfg.AWS.Region = "us-east-1"
	cfg.AWS.AccessKeyID = "AKID"
	cfg.Cache.Root = "/tmp"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "must be set together") {
		t.Fatalf("expected paired credential error, got %v", err)
	}
}

func TestValidateSQSBatchLimit(t *testing.T) {
	cfg := Default()
	cfg.AWS.Region = "us-east-1"
	cfg.AWS.AccessKeyID = "AKID"
	cfg.AWS.SecretAccessKey = "secret"
	cfg.Cache.Root = "/tmp"
	cfg.Notifications.BatchSize = 11
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected sqs batch limit error")
	}
	cfg.Notifications.Transport = TransportNATS
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected nats transport to allow larger batches, got %v", err)
	}
}
