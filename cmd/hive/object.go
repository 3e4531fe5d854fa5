package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Object commands
var objectCmd = &cobra.Command{
	Use:     "object",
	Aliases: []string{"obj"},
	Short:   "Manage services, volumes and data objects",
}

var objectCreateCmd = &cobra.Command{
	Use:   "create [PATH]",
	Short: "Create an object from a template or a config file",
	Long: `Create an object from a template or a YAML config file.

Examples:
  # Create root/svc/web from the builtin web template
  hive object create --template web

  # Create a service from a config file and provision it
  hive object create prod/svc/api -f api.yaml --provision`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		params := make(map[string]interface{})
		if len(args) == 1 {
			params["path"] = args[0]
		}
		for _, name := range []string{"template", "catalog", "namespace"} {
			if v, _ := flags.GetString(name); v != "" {
				params[name] = v
			}
		}
		if file, _ := flags.GetString("file"); file != "" {
			data, err := readConfigFile(file)
			if err != nil {
				return err
			}
			params["data"] = data
		}
		params["provision"], _ = flags.GetBool("provision")
		params["restore"], _ = flags.GetBool("restore")
		async, _ := flags.GetBool("async")
		params["sync"] = !async
		return call(cmd, "POST", "object_create", params)
	},
}

// readConfigFile decodes a YAML object config document
func readConfigFile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return data, nil
}

var objectMonitorCmd = &cobra.Command{
	Use:   "monitor PATH",
	Short: "Set the global or local expectation of an object",
	Long: `Set the expectation the monitors work towards.

Global expectations: started, stopped, provisioned, unprovisioned, purged,
frozen, thawed, placed, placed@<node>, none.
Local expectations: started, shutdown, none.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{"path": args[0]}
		if v, _ := cmd.Flags().GetString("global-expect"); v != "" {
			params["global_expect"] = v
		}
		if v, _ := cmd.Flags().GetString("local-expect"); v != "" {
			params["local_expect"] = v
		}
		return call(cmd, "POST", "object_monitor", params)
	},
}

var objectClearCmd = &cobra.Command{
	Use:   "clear PATH",
	Short: "Reset a failed monitor and its restart budget",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("POST", "object_clear", "path"),
}

var objectDeleteCmd = &cobra.Command{
	Use:   "delete PATH",
	Short: "Remove an object from the node",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("POST", "object_delete", "path"),
}

var objectStatusCmd = &cobra.Command{
	Use:   "status PATH",
	Short: "Show the instances of an object on every node",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("GET", "object_status", "path"),
}

var objectKeysCmd = &cobra.Command{
	Use:   "keys PATH",
	Short: "List the keys of a cfg or sec object",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("GET", "object_keys", "path"),
}

var objectConfigCmd = &cobra.Command{
	Use:   "config PATH",
	Short: "Show the stored configuration of an object",
	Args:  cobra.ExactArgs(1),
	RunE:  callCmd("GET", "object_config", "path"),
}

func init() {
	rootCmd.AddCommand(objectCmd)
	objectCmd.AddCommand(objectCreateCmd)
	objectCmd.AddCommand(objectMonitorCmd)
	objectCmd.AddCommand(objectClearCmd)
	objectCmd.AddCommand(objectDeleteCmd)
	objectCmd.AddCommand(objectStatusCmd)
	objectCmd.AddCommand(objectKeysCmd)
	objectCmd.AddCommand(objectConfigCmd)

	objectCreateCmd.Flags().String("template", "", "Template to create the object from")
	objectCreateCmd.Flags().String("catalog", "", "Catalog of the template (default: local, then builtin)")
	objectCreateCmd.Flags().String("namespace", "", "Namespace of an object created from a template")
	objectCreateCmd.Flags().StringP("file", "f", "", "YAML config file")
	objectCreateCmd.Flags().Bool("provision", false, "Provision the object once created")
	objectCreateCmd.Flags().Bool("restore", false, "Replace an existing object")
	objectCreateCmd.Flags().Bool("async", false, "Return before the creation completes")

	objectMonitorCmd.Flags().String("global-expect", "", "Cluster-wide expectation")
	objectMonitorCmd.Flags().String("local-expect", "", "Expectation of the local instance")
}
