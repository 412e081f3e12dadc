package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		k := k
		if err := os.Setenv(k, v); err != nil {
			t.Fatalf("Setenv(%s) error = %v", k, err)
		}
		t.Cleanup(func() { os.Unsetenv(k) })
	}
}

func TestLoad_RecognizedKeysOverrideDefaults(t *testing.T) {
	setEnv(t, map[string]string{
		"GROUPHOST_KAFKA_BOOTSTRAP_ENDPOINTS": "broker1:9092,broker2:9092",
		"GROUPHOST_CONSUMER_GROUP_ID":         "custom-group",
		"GROUPHOST_MAX_BATCH_SIZE":            "50",
		"GROUPHOST_POLLING_INTERVAL":          "250ms",
	})

	cfg, groupID, procConf, err := Load("myapp", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.KafkaBootstrapEndpoints) != 2 {
		t.Errorf("KafkaBootstrapEndpoints = %v", cfg.KafkaBootstrapEndpoints)
	}
	if groupID != "custom-group" {
		t.Errorf("groupID = %s, want custom-group", groupID)
	}
	if cfg.MaxBatchSize != 50 {
		t.Errorf("MaxBatchSize = %d, want 50", cfg.MaxBatchSize)
	}
	if cfg.PollingInterval != 250*time.Millisecond {
		t.Errorf("PollingInterval = %v, want 250ms", cfg.PollingInterval)
	}
	if len(procConf) != 0 {
		t.Errorf("procConf = %v, want empty", procConf)
	}
}

func TestLoad_UnrecognizedKeysBecomeProcessorConfig(t *testing.T) {
	setEnv(t, map[string]string{
		"GROUPHOST_KAFKA_BOOTSTRAP_ENDPOINTS": "broker1:9092",
		"GROUPHOST_PROJECT_ID":                "acme",
		"GROUPHOST_ENVIRONMENT":               "prod",
	})

	_, _, procConf, err := Load("myapp", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if procConf["PROJECT_ID"] != "acme" || procConf["ENVIRONMENT"] != "prod" {
		t.Errorf("procConf = %v", procConf)
	}
}

func TestLoad_DefaultGroupIdUsesAppNameAndHostname(t *testing.T) {
	setEnv(t, map[string]string{
		"GROUPHOST_KAFKA_BOOTSTRAP_ENDPOINTS": "broker1:9092",
	})

	hostname, _ := os.Hostname()
	_, groupID, _, err := Load("myapp", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := "myapp@" + hostname
	if groupID != want {
		t.Errorf("groupID = %s, want %s", groupID, want)
	}
}

func TestLoad_MissingBootstrapEndpointsFailsValidation(t *testing.T) {
	if _, _, _, err := Load("myapp", ""); err == nil {
		t.Fatal("expected error for missing bootstrap endpoints")
	}
}

func TestLoad_CustomPrefix(t *testing.T) {
	setEnv(t, map[string]string{
		"MYAPP_KAFKA_BOOTSTRAP_ENDPOINTS": "broker1:9092",
	})

	cfg, _, _, err := Load("myapp", "MYAPP_")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.KafkaBootstrapEndpoints) != 1 {
		t.Errorf("KafkaBootstrapEndpoints = %v", cfg.KafkaBootstrapEndpoints)
	}
}
