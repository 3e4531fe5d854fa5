package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	Cluster    ClusterConfig    `yaml:"cluster"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Status     StatusConfig     `yaml:"status"`
	Log        LogConfig        `yaml:"log"`
	Containerd ContainerdConfig `yaml:"containerd"`
	Users      []User           `yaml:"users"`
}

// NodeConfig describes the local node
type NodeConfig struct {
	Name     string            `yaml:"name"`
	DataDir  string            `yaml:"data_dir"`
	GRPCAddr string            `yaml:"grpc_addr"`
	HTTPAddr string            `yaml:"http_addr"`
	Labels   map[string]string `yaml:"labels"`
}

// ClusterConfig lists the cluster members and the shared secret
type ClusterConfig struct {
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
	Nodes  []Peer `yaml:"nodes"`
}

// Peer is a cluster member and the gateway address to reach it
type Peer struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
}

// HeartbeatConfig tunes the gossip engine
type HeartbeatConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
	StaleAfter time.Duration `yaml:"stale_after"`
	DownAfter  time.Duration `yaml:"down_after"`
	MaxPatches int           `yaml:"max_patches"`
}

// MonitorConfig tunes the service monitor
type MonitorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	ReadyPeriod time.Duration `yaml:"ready_period"`
	Placement   string        `yaml:"placement"`
}

// StatusConfig tunes the status evaluator
type StatusConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ContainerdConfig configures the container resource driver
type ContainerdConfig struct {
	Socket    string `yaml:"socket"`
	Namespace string `yaml:"namespace"`
}

// User is an API user. Grants are "root", "heartbeat", or "<role>:<namespace>"
// with role one of admin, operator, guest. Namespace "*" matches all.
type User struct {
	Name   string   `yaml:"name"`
	Token  string   `yaml:"token"`
	Grants []string `yaml:"grants"`
}

// Default returns a configuration usable for a single node
func Default() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "node1"
	}
	return &Config{
		Node: NodeConfig{
			Name:     hostname,
			DataDir:  "./hive-data",
			GRPCAddr: "127.0.0.1:1215",
			HTTPAddr: "127.0.0.1:1214",
		},
		Cluster: ClusterConfig{
			Name: "default",
		},
		Heartbeat: HeartbeatConfig{
			Interval:   5 * time.Second,
			Timeout:    3 * time.Second,
			StaleAfter: 15 * time.Second,
			DownAfter:  30 * time.Second,
			MaxPatches: 500,
		},
		Monitor: MonitorConfig{
			Interval:    5 * time.Second,
			ReadyPeriod: 5 * time.Second,
			Placement:   "nodes order",
		},
		Status: StatusConfig{
			Interval: 10 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Containerd: ContainerdConfig{
			Socket:    "/run/containerd/containerd.sock",
			Namespace: "hive",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies HIVE_*
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Node.Name = getenv("HIVE_NODE_NAME", c.Node.Name)
	c.Node.DataDir = getenv("HIVE_DATA_DIR", c.Node.DataDir)
	c.Node.GRPCAddr = getenv("HIVE_GRPC_ADDR", c.Node.GRPCAddr)
	c.Node.HTTPAddr = getenv("HIVE_HTTP_ADDR", c.Node.HTTPAddr)
	c.Cluster.Secret = getenv("HIVE_CLUSTER_SECRET", c.Cluster.Secret)
	c.Heartbeat.Interval = mustDuration("HIVE_HB_INTERVAL", c.Heartbeat.Interval)
	c.Heartbeat.StaleAfter = mustDuration("HIVE_HB_STALE_AFTER", c.Heartbeat.StaleAfter)
	c.Heartbeat.DownAfter = mustDuration("HIVE_HB_DOWN_AFTER", c.Heartbeat.DownAfter)
	c.Heartbeat.MaxPatches = getenvInt("HIVE_HB_MAX_PATCHES", c.Heartbeat.MaxPatches)
	c.Monitor.ReadyPeriod = mustDuration("HIVE_READY_PERIOD", c.Monitor.ReadyPeriod)
	c.Log.Level = getenv("HIVE_LOG_LEVEL", c.Log.Level)
	c.Log.JSON = mustBool("HIVE_LOG_JSON", c.Log.JSON)
	if nodes := getenv("HIVE_CLUSTER_NODES", ""); nodes != "" {
		c.Cluster.Nodes = parsePeers(nodes)
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return fmt.Errorf("node.name is required")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.StaleAfter < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.stale_after must be at least heartbeat.interval")
	}
	if c.Heartbeat.DownAfter < c.Heartbeat.StaleAfter {
		return fmt.Errorf("heartbeat.down_after must be at least heartbeat.stale_after")
	}
	if len(c.Cluster.Nodes) > 1 && c.Cluster.Secret == "" {
		return fmt.Errorf("cluster.secret is required for multi-node clusters")
	}
	seen := make(map[string]bool)
	for _, p := range c.Cluster.Nodes {
		if p.Name == "" {
			return fmt.Errorf("cluster.nodes: empty node name")
		}
		if seen[p.Name] {
			return fmt.Errorf("cluster.nodes: duplicate node %s", p.Name)
		}
		seen[p.Name] = true
	}
	for _, u := range c.Users {
		if u.Token == "" {
			return fmt.Errorf("users.%s: token is required", u.Name)
		}
	}
	return nil
}

// Members returns the cluster node names, always including the local node
func (c *Config) Members() []string {
	names := make([]string, 0, len(c.Cluster.Nodes)+1)
	hasSelf := false
	for _, p := range c.Cluster.Nodes {
		names = append(names, p.Name)
		if p.Name == c.Node.Name {
			hasSelf = true
		}
	}
	if !hasSelf {
		names = append(names, c.Node.Name)
	}
	return names
}

// Peers returns the cluster members other than the local node
func (c *Config) Peers() []Peer {
	peers := make([]Peer, 0, len(c.Cluster.Nodes))
	for _, p := range c.Cluster.Nodes {
		if p.Name != c.Node.Name {
			peers = append(peers, p)
		}
	}
	return peers
}

// PeerAddr returns the gateway address of a cluster member
func (c *Config) PeerAddr(name string) (string, bool) {
	for _, p := range c.Cluster.Nodes {
		if p.Name == name {
			return p.Addr, true
		}
	}
	return "", false
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parsePeers parses "name=addr,name=addr"
func parsePeers(s string) []Peer {
	var peers []Peer
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, addr, _ := strings.Cut(part, "=")
		peers = append(peers, Peer{Name: strings.TrimSpace(name), Addr: strings.TrimSpace(addr)})
	}
	return peers
}
