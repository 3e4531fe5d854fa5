package object

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/hive/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultResourceTimeout bounds a resource action when its config sets none
const DefaultResourceTimeout = 30 * time.Second

// ResourceConfig is the configuration of one resource of a service
type ResourceConfig struct {
	Type     string        `yaml:"type" json:"type"`
	Subset   string        `yaml:"subset,omitempty" json:"subset,omitempty"`
	Optional bool          `yaml:"optional,omitempty" json:"optional,omitempty"`
	Disable  bool          `yaml:"disable,omitempty" json:"disable,omitempty"`
	Monitor  bool          `yaml:"monitor,omitempty" json:"monitor,omitempty"`
	Standby  bool          `yaml:"standby,omitempty" json:"standby,omitempty"`
	Encap    bool          `yaml:"encap,omitempty" json:"encap,omitempty"`
	Restart  int           `yaml:"restart,omitempty" json:"restart,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Options holds the driver specific keywords
	Options map[string]string `yaml:",inline" json:"options,omitempty"`
}

// Config is the configuration document of an object
type Config struct {
	Nodes       []string                      `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Topology    types.Topology                `yaml:"topology,omitempty" json:"topology,omitempty"`
	Orchestrate types.Orchestrate             `yaml:"orchestrate,omitempty" json:"orchestrate,omitempty"`
	Placement   string                        `yaml:"placement,omitempty" json:"placement,omitempty"`
	FlexTarget  int                           `yaml:"flex_target,omitempty" json:"flex_target,omitempty"`
	Priority    int                           `yaml:"priority,omitempty" json:"priority,omitempty"`
	Constraints map[string]string             `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Subsets     map[string]types.SubsetConfig `yaml:"subsets,omitempty" json:"subsets,omitempty"`
	Resources   map[string]ResourceConfig     `yaml:"resources,omitempty" json:"resources,omitempty"`
	Data        map[string]string             `yaml:"data,omitempty" json:"data,omitempty"`
}

// Object is a managed object: its path and configuration
type Object struct {
	Path      string    `json:"path"`
	Config    *Config   `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseConfig decodes a YAML configuration document
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse object config: %w", err)
	}
	return &cfg, nil
}

// ConfigFromMap converts a generic document, such as a decoded API payload,
// to a Config
func ConfigFromMap(m map[string]interface{}) (*Config, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object config: %w", err)
	}
	return ParseConfig(data)
}

// Family returns the driver family of a resource id, "fs" for "fs#1"
func Family(rid string) string {
	if i := strings.IndexByte(rid, '#'); i >= 0 {
		return rid[:i]
	}
	return rid
}

// SubsetKey returns the key identifying the subset of a resource within its
// family, "app:web" for an app resource in subset web
func SubsetKey(family, subset string) string {
	if subset == "" {
		return family
	}
	return family + ":" + subset
}

// ParseSubsetKey splits a subset key built by SubsetKey
func ParseSubsetKey(key string) (family, subset string) {
	family, subset, _ = strings.Cut(key, ":")
	return family, subset
}

// Normalize fills the defaults of a service config
func (c *Config) Normalize() {
	if c.Topology == "" {
		c.Topology = types.TopologyFailover
	}
	if c.Orchestrate == "" {
		c.Orchestrate = types.OrchestrateNo
	}
	if c.Topology == types.TopologyFlex && c.FlexTarget <= 0 {
		c.FlexTarget = len(c.Nodes)
	}
	for rid, r := range c.Resources {
		if r.Timeout <= 0 {
			r.Timeout = DefaultResourceTimeout
		}
		c.Resources[rid] = r
	}
}

// RIDs returns the resource ids sorted
func (c *Config) RIDs() []string {
	rids := make([]string, 0, len(c.Resources))
	for rid := range c.Resources {
		rids = append(rids, rid)
	}
	sort.Strings(rids)
	return rids
}

// Checksum returns a digest of the config document
func (c *Config) Checksum() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// InstanceConfig derives the replicated config summary of the object
func (c *Config) InstanceConfig(path string) *types.InstanceConfig {
	subsets := make(map[string]types.SubsetConfig, len(c.Subsets))
	for k, v := range c.Subsets {
		subsets[k] = v
	}
	return &types.InstanceConfig{
		Path:        path,
		Nodes:       append([]string(nil), c.Nodes...),
		Topology:    c.Topology,
		Orchestrate: c.Orchestrate,
		Placement:   c.Placement,
		FlexTarget:  c.FlexTarget,
		Priority:    c.Priority,
		Subsets:     subsets,
		Checksum:    c.Checksum(),
		UpdatedAt:   time.Now(),
	}
}

// ConstraintsMet reports if the node labels satisfy the config constraints
func (c *Config) ConstraintsMet(labels map[string]string) bool {
	for k, v := range c.Constraints {
		if labels[k] != v {
			return false
		}
	}
	return true
}

// Keys returns the sorted data keys of a cfg or sec object
func (c *Config) Keys() []string {
	keys := make([]string, 0, len(c.Data))
	for k := range c.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
