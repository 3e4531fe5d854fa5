package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the labels, capacity and liveness of every node",
	RunE:  callCmd("GET", "nodes_info"),
}

var nodeAskFullCmd = &cobra.Command{
	Use:   "ask-full PEER",
	Short: "Ask a peer for a full copy of its dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("POST", "ask_full", "peer"),
}

var nodeFreezeCmd = &cobra.Command{
	Use:   "freeze",
	Short: "Stop orchestrating the instances of the node",
	RunE:  callCmd("POST", "node_freeze"),
}

var nodeThawCmd = &cobra.Command{
	Use:   "thaw",
	Short: "Resume orchestrating the instances of the node",
	RunE:  callCmd("POST", "node_thaw"),
}

var nodeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Stream the daemon logs",
	Long: `Print the last log lines of the daemon, then follow the new ones until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		backlog, _ := cmd.Flags().GetInt("backlog")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		req := request(cmd, "GET", "node_logs", map[string]interface{}{"backlog": backlog})
		return c.Stream(ctx, req, func(v interface{}) error {
			line, err := json.Marshal(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, string(line))
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.AddCommand(nodeInfoCmd)
	nodeCmd.AddCommand(nodeAskFullCmd)
	nodeCmd.AddCommand(nodeFreezeCmd)
	nodeCmd.AddCommand(nodeThawCmd)
	nodeCmd.AddCommand(nodeLogsCmd)

	nodeLogsCmd.Flags().Int("backlog", 10, "Number of past lines to print first")
}
