package config

import (
	"testing"
	"time"

	"cybermesh/node/pkg/utils"
)

func newTestConfigManager(t *testing.T, values map[string]string) *utils.ConfigManager {
	t.Helper()
	cm, err := utils.NewConfigManager(&utils.ConfigManagerConfig{
		Source: utils.NewMapSource(values),
	})
	if err != nil {
		t.Fatalf("failed to create config manager: %v", err)
	}
	return cm
}

func TestLoadNodeConfigDefaults(t *testing.T) {
	cfg, err := LoadNodeConfig(newTestConfigManager(t, map[string]string{}), "node-fallback")
	if err != nil {
		t.Fatalf("LoadNodeConfig: %v", err)
	}
	if cfg.NodeID != "node-fallback" {
		t.Fatalf("expected fallback node id, got %q", cfg.NodeID)
	}
	if cfg.QueueCapacity != DefaultQueueCapacity {
		t.Fatalf("expected queue capacity %d, got %d", DefaultQueueCapacity, cfg.QueueCapacity)
	}
	if cfg.PingInterval != DefaultPingInterval {
		t.Fatalf("expected ping interval %s, got %s", DefaultPingInterval, cfg.PingInterval)
	}
	if got := cfg.OutboundProtocol(); got != "/cybermesh/outbound/1.0.0" {
		t.Fatalf("unexpected protocol %q", got)
	}
}

func TestLoadNodeConfigOverrides(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{
		"NODE_ID":                 "validator-1",
		"P2P_PROTOCOL_PREFIX":     "/testnet/",
		"P2P_BOOTSTRAP_PEERS":     "/ip4/10.0.0.1/tcp/4130/p2p/QmYyQSo1c1Ym7orWxLYvCrM2EmxFTANf8wXmmE7DWjhx5N",
		"OUTBOUND_QUEUE_CAPACITY": "4",
		"OUTBOUND_PING_INTERVAL":  "250ms",
	})
	cfg, err := LoadNodeConfig(cm, "unused")
	if err != nil {
		t.Fatalf("LoadNodeConfig: %v", err)
	}
	if cfg.NodeID != "validator-1" || cfg.QueueCapacity != 4 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.PingInterval != 250*time.Millisecond {
		t.Fatalf("expected 250ms ping interval, got %s", cfg.PingInterval)
	}
	if cfg.OutboundProtocol() != "/testnet/outbound/1.0.0" {
		t.Fatalf("unexpected protocol %q", cfg.OutboundProtocol())
	}
	if len(cfg.BootstrapPeers) != 1 {
		t.Fatalf("expected one bootstrap peer, got %v", cfg.BootstrapPeers)
	}
}

func TestLoadNodeConfigRequiresSeedInProduction(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{"ENVIRONMENT": "production"})
	_, err := LoadNodeConfig(cm, "node")
	if utils.GetErrorCode(err) != utils.CodeConfigInvalid {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestLoadNodeConfigRejectsBadEnvironment(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{"ENVIRONMENT": "qa"})
	_, err := LoadNodeConfig(cm, "node")
	if utils.GetErrorCode(err) != ErrCodeInvalidEnvironment {
		t.Fatalf("expected INVALID_ENVIRONMENT, got %v", err)
	}
}

func TestLoadNodeConfigRejectsBadMetricsAddr(t *testing.T) {
	cm := newTestConfigManager(t, map[string]string{"METRICS_ADDR": "nocolon"})
	_, err := LoadNodeConfig(cm, "node")
	if utils.GetErrorCode(err) != ErrCodeInvalidAddress {
		t.Fatalf("expected INVALID_ADDRESS, got %v", err)
	}
}
