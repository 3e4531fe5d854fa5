package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/hive/pkg/api"
	"github.com/cuemby/hive/pkg/client"
	"github.com/cuemby/hive/pkg/config"
	"github.com/cuemby/hive/pkg/daemon"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Hive - cluster resource manager",
	Long: `Hive runs a peer daemon on every node of a cluster. The daemons gossip
their view of the services they host and start, stop, provision and fail
over the services according to their monitor expectations.

Every command other than "daemon run" talks to the gateway of a daemon.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hive version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", os.Getenv("HIVE_CONFIG"), "Daemon configuration file")
	flags.String("addr", "", "Gateway gRPC address (default: the configured grpc_addr)")
	flags.String("token", os.Getenv("HIVE_TOKEN"), "API token (default: the cluster secret)")
	flags.String("node", "", "Node to relay the request to")
	flags.StringP("output", "o", "yaml", "Output format: yaml or json")
	flags.Duration("timeout", 30*time.Second, "Request timeout")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// newClient connects to the gateway named by the flags or the configuration
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Node.GRPCAddr
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Cluster.Secret
	}
	if token == "" {
		data, err := os.ReadFile(filepath.Join(cfg.Node.DataDir, daemon.SecretFile))
		if err != nil {
			return nil, fmt.Errorf("no token given and no local secret readable: %v", err)
		}
		token = strings.TrimSpace(string(data))
	}
	return client.New(addr, token)
}

// request builds a gateway request, adding the relay node when given
func request(cmd *cobra.Command, method, action string, params map[string]interface{}) *api.Request {
	if params == nil {
		params = make(map[string]interface{})
	}
	if node, _ := cmd.Flags().GetString("node"); node != "" {
		params["node"] = node
	}
	return &api.Request{Method: method, Action: action, Params: params}
}

// call runs a unary action and prints its result
func call(cmd *cobra.Command, method, action string, params map[string]interface{}) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	v, err := c.Do(ctx, request(cmd, method, action, params))
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return printValue(cmd.OutOrStdout(), output, v)
}

// callCmd returns the RunE of a command mapping its arguments to the params
// of one action
func callCmd(method, action string, argNames ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		params := make(map[string]interface{}, len(args))
		for i, name := range argNames {
			if i < len(args) {
				params[name] = args[i]
			}
		}
		return call(cmd, method, action, params)
	}
}

func printValue(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", format)
}
