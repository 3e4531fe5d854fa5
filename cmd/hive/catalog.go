package main

import (
	"github.com/spf13/cobra"
)

var keywordsCmd = &cobra.Command{
	Use:   "keywords",
	Short: "List the configuration keywords of an object kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		return call(cmd, "GET", "keywords", map[string]interface{}{"kind": kind})
	},
}

var catalogsCmd = &cobra.Command{
	Use:   "catalogs",
	Short: "List the template catalogs and their templates",
	RunE:  callCmd("GET", "catalogs"),
}

var templateCmd = &cobra.Command{
	Use:   "template NAME",
	Short: "Show a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := map[string]interface{}{"template": args[0]}
		if catalog, _ := cmd.Flags().GetString("catalog"); catalog != "" {
			params["catalog"] = catalog
		}
		return call(cmd, "GET", "template", params)
	},
}

func init() {
	rootCmd.AddCommand(keywordsCmd)
	rootCmd.AddCommand(catalogsCmd)
	rootCmd.AddCommand(templateCmd)

	keywordsCmd.Flags().String("kind", "svc", "Object kind: svc, vol, cfg, sec or usr")
	templateCmd.Flags().String("catalog", "", "Catalog to look the template up in")
}
