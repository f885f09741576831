// Package config assembles the node's runtime configuration from a
// utils.ConfigManager.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"cybermesh/node/pkg/utils"
)

// Validation patterns
var (
	EnvironmentPattern = regexp.MustCompile(`^(development|staging|production)$`)
	ProtocolPattern    = regexp.MustCompile(`^/[a-zA-Z0-9\-_/.]+$`)
)

// Error codes for configuration
const (
	ErrCodeInvalidPort        = utils.ErrorCode("INVALID_PORT")
	ErrCodeInvalidAddress     = utils.ErrorCode("INVALID_ADDRESS")
	ErrCodeInvalidEnvironment = utils.ErrorCode("INVALID_ENVIRONMENT")
)

// Defaults
const (
	DefaultListenPort      = 4130
	DefaultProtocolPrefix  = "/cybermesh"
	DefaultQueueCapacity   = 1024
	DefaultPingInterval    = 10 * time.Second
	DefaultMetricsAddr     = ":9464"
	DefaultConnGracePeriod = 60 * time.Second
)

// NodeConfig is everything the node needs to bring its network layer up.
type NodeConfig struct {
	NodeID      string `json:"node_id"`
	Environment string `json:"environment"`

	// libp2p host
	ListenPort      int           `json:"listen_port"`
	ProtocolPrefix  string        `json:"protocol_prefix"`
	BootstrapPeers  []string      `json:"bootstrap_peers"`
	EnableMDNS      bool          `json:"enable_mdns"`
	EnableTLS       bool          `json:"enable_tls"`
	ConnLow         int           `json:"conn_low"`
	ConnHigh        int           `json:"conn_high"`
	ConnGracePeriod time.Duration `json:"conn_grace_period"`
	IdentitySeed    string        `json:"-"`

	// Outbound dispatch
	QueueCapacity int           `json:"queue_capacity"`
	PingInterval  time.Duration `json:"ping_interval"`
	MaxFrameSize  int           `json:"max_frame_size"`

	// Peer book
	PeerBookPath string `json:"peerbook_path"`

	MetricsAddr string `json:"metrics_addr"`
}

// LoadNodeConfig reads and validates NodeConfig. nodeID is the fallback used
// when NODE_ID is unset.
func LoadNodeConfig(cm *utils.ConfigManager, nodeID string) (*NodeConfig, error) {
	if cm == nil {
		return nil, utils.NewError(utils.CodeConfigInvalid, "config manager is required")
	}

	low := cm.GetIntRange("P2P_CONN_LOW", 16, 1, 1000)
	cfg := &NodeConfig{
		NodeID:          cm.GetString("NODE_ID", nodeID),
		Environment:     strings.ToLower(cm.GetString("ENVIRONMENT", "development")),
		ListenPort:      cm.GetInt("P2P_LISTEN_PORT", DefaultListenPort),
		ProtocolPrefix:  strings.TrimRight(cm.GetString("P2P_PROTOCOL_PREFIX", DefaultProtocolPrefix), "/"),
		BootstrapPeers:  cm.GetStringSlice("P2P_BOOTSTRAP_PEERS", nil),
		EnableMDNS:      cm.GetBool("P2P_ENABLE_MDNS", false),
		EnableTLS:       cm.GetBool("P2P_ENABLE_TLS", false),
		ConnLow:         low,
		ConnHigh:        cm.GetIntRange("P2P_CONN_HIGH", 64, low+1, 2000),
		ConnGracePeriod: cm.GetDuration("P2P_CONN_GRACE_PERIOD", DefaultConnGracePeriod),
		IdentitySeed:    strings.TrimSpace(cm.GetString("P2P_ID_SEED", "")),
		QueueCapacity:   cm.GetIntRange("OUTBOUND_QUEUE_CAPACITY", DefaultQueueCapacity, 1, 1<<20),
		PingInterval:    cm.GetDuration("OUTBOUND_PING_INTERVAL", DefaultPingInterval),
		MaxFrameSize:    cm.GetIntRange("OUTBOUND_MAX_FRAME_SIZE", 4<<20, 1<<10, 64<<20),
		PeerBookPath:    cm.GetString("PEERBOOK_PATH", ""),
		MetricsAddr:     cm.GetString("METRICS_ADDR", DefaultMetricsAddr),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the typed getters cannot.
func (c *NodeConfig) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return utils.NewError(utils.CodeConfigInvalid, "NODE_ID must not be empty")
	}
	if !EnvironmentPattern.MatchString(c.Environment) {
		return utils.NewErrorf(ErrCodeInvalidEnvironment, "invalid ENVIRONMENT %q", c.Environment)
	}
	if c.ListenPort < 0 || c.ListenPort > 65535 {
		return utils.NewErrorf(ErrCodeInvalidPort, "P2P_LISTEN_PORT %d out of range", c.ListenPort)
	}
	if !ProtocolPattern.MatchString(c.ProtocolPrefix) {
		return utils.NewErrorf(utils.CodeConfigInvalid, "invalid P2P_PROTOCOL_PREFIX %q", c.ProtocolPrefix)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return utils.WrapErrorf(err, ErrCodeInvalidAddress, "invalid METRICS_ADDR %q", c.MetricsAddr)
		}
	}
	if c.IsProduction() && c.IdentitySeed == "" {
		return utils.NewError(utils.CodeConfigInvalid, "P2P_ID_SEED is required in production")
	}
	return nil
}

// IsProduction reports whether the node runs with production safeguards.
func (c *NodeConfig) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

// OutboundProtocol is the libp2p protocol carrying outbound frames.
func (c *NodeConfig) OutboundProtocol() string {
	return fmt.Sprintf("%s/outbound/1.0.0", c.ProtocolPrefix)
}
