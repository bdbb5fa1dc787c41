package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"FULFILLMENT_DATABASE_URL":        "postgres://fulfillment@localhost:5432/fulfillment",
		"FULFILLMENT_FIREBASE_PROJECT_ID": "shop-dev",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Database.TxAttempts != defaultTxAttempts || cfg.Database.TxTimeout != defaultTxTimeout {
		t.Errorf("unexpected tx defaults: %d %s", cfg.Database.TxAttempts, cfg.Database.TxTimeout)
	}
	if cfg.Events.Driver != EventsDriverLog {
		t.Errorf("expected log events driver, got %s", cfg.Events.Driver)
	}
	if cfg.Events.PubSubProject != "shop-dev" {
		t.Errorf("expected pubsub project to default to firebase project, got %s", cfg.Events.PubSubProject)
	}
	if len(cfg.Events.KafkaBrokers) != 0 {
		t.Errorf("expected no kafka brokers, got %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Auth.Environment != "local" || cfg.Auth.DevTokensEnabled() {
		t.Errorf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Telemetry.SampleRatio != defaultTelemetrySampleRatio {
		t.Errorf("unexpected sample ratio %v", cfg.Telemetry.SampleRatio)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
	if cfg.Orders.MaxLines != defaultOrdersMaxLines || cfg.Orders.Currency != "USD" {
		t.Errorf("unexpected orders defaults: %+v", cfg.Orders)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_SERVER_PORT":             "9090",
		"FULFILLMENT_SERVER_WRITE_TIMEOUT":    "25s",
		"FULFILLMENT_DATABASE_URL":            "sm://db/url",
		"FULFILLMENT_DATABASE_MAX_CONNS":      "20",
		"FULFILLMENT_DATABASE_MIN_CONNS":      "2",
		"FULFILLMENT_DATABASE_TX_TIMEOUT":     "5s",
		"FULFILLMENT_AUTH_DEV_TOKEN_SECRET":   "secret://auth/dev",
		"FULFILLMENT_EVENTS_DRIVER":           "KAFKA",
		"FULFILLMENT_EVENTS_KAFKA_BROKERS":    "kafka-1:9092, kafka-2:9092",
		"FULFILLMENT_EVENTS_KAFKA_TOPIC":      "orders",
		"FULFILLMENT_TELEMETRY_SAMPLE_RATIO":  "0.5",
		"FULFILLMENT_TELEMETRY_OTLP_ENDPOINT": "otel:4318",
		"FULFILLMENT_ORDERS_CURRENCY":         "jpy",
	}
	secrets := map[string]string{
		"secret://db/url":   "postgres://prod",
		"secret://auth/dev": "dev-signing-key",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if value, ok := secrets[ref]; ok {
			return value, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("Auth.DevTokenSecret"),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Database.URL != "postgres://prod" {
		t.Errorf("expected resolved database url, got %s", cfg.Database.URL)
	}
	if cfg.Database.MaxConns != 20 || cfg.Database.MinConns != 2 || cfg.Database.TxTimeout != 5*time.Second {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if cfg.Auth.DevTokenSecret != "dev-signing-key" || !cfg.Auth.DevTokensEnabled() {
		t.Errorf("expected resolved dev token secret, got %q", cfg.Auth.DevTokenSecret)
	}
	if cfg.Events.Driver != EventsDriverKafka {
		t.Errorf("expected kafka driver, got %s", cfg.Events.Driver)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Events.KafkaBrokers)
	}
	if cfg.Telemetry.SampleRatio != 0.5 || cfg.Telemetry.OTLPEndpoint != "otel:4318" {
		t.Errorf("unexpected telemetry config %+v", cfg.Telemetry)
	}
	if cfg.Orders.Currency != "JPY" {
		t.Errorf("expected upper-cased currency, got %s", cfg.Orders.Currency)
	}
}

func TestLoadMemoryDriverWithDevTokens(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_DATABASE_DRIVER":       "memory",
		"FULFILLMENT_AUTH_DEV_TOKEN_SECRET": "local-key",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Fatalf("expected memory driver, got %s", cfg.Database.Driver)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_SERVER_PORT=7070\nFULFILLMENT_FIREBASE_PROJECT_ID=shop-dot\n" +
		"export FULFILLMENT_DATABASE_URL=\"postgres://dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "shop-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
	if cfg.Database.URL != "postgres://dot" {
		t.Errorf("expected quoted dotenv value to be unwrapped, got %s", cfg.Database.URL)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.env")
	if _, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(missing)); err != nil {
		t.Fatalf("expected missing dotenv file to be ignored, got %v", err)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Database.URL": false, "Firebase.ProjectID": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Errorf("expected %s in missing fields %v", field, fields)
		}
	}
}

func TestLoadRejectsIncompleteEventDriver(t *testing.T) {
	env := baseEnv()
	env["FULFILLMENT_EVENTS_DRIVER"] = "pubsub"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "Events.PubSubTopic" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsDevTokensInProd(t *testing.T) {
	env := baseEnv()
	env["FULFILLMENT_AUTH_ENVIRONMENT"] = "prod"
	env["FULFILLMENT_AUTH_DEV_TOKEN_SECRET"] = "leaked"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := baseEnv()
	env["FULFILLMENT_AUTH_DEV_TOKEN_SECRET"] = "secret://missing"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_FIREBASE_PROJECT_ID=dot-project\nFULFILLMENT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("FULFILLMENT_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("FULFILLMENT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"FULFILLMENT_FIREBASE_PROJECT_ID": "override-project",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["FULFILLMENT_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(baseEnv()),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Auth.DevTokenSecret"),
	)
	if err == nil {
		t.Fatal("expected missing secrets error, got nil")
	}
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expectedRedacted := redactSecretName("Auth.DevTokenSecret")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Auth.DevTokenSecret" {
		t.Fatalf("unexpected names %v", got)
	}
}
