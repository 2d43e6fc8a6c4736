package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cutpoint/pluginhost/config"
	"github.com/cutpoint/pluginhost/descriptor"
	"github.com/cutpoint/pluginhost/grants"
	"github.com/cutpoint/pluginhost/host"
	"github.com/cutpoint/pluginhost/sandbox"
)

type rootFlags struct {
	configPath  string
	catalogPath string
	pluginDirs  []string
	trustAll    bool
	security    string
	verbose     bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:     "pluginhost",
		Short:   "Sandboxed plugin runtime host",
		Long:    "pluginhost discovers, vets, loads, and runs WebAssembly and Lua plugins under resource budgets and import/file policies.",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if flags.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "configuration file path")
	pf.StringVar(&flags.catalogPath, "catalog", "", "catalog file path")
	pf.StringSliceVar(&flags.pluginDirs, "plugin-dir", nil, "additional plugin search directory (repeatable)")
	pf.BoolVar(&flags.trustAll, "trust-plugins", false, "auto-grant all plugin permission requests")
	pf.StringVar(&flags.security, "security", string(grants.SecurityStandard), "permission policy: strict, standard, or permissive")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newDiscoverCommand(flags),
		newLoadCommand(flags),
		newListCommand(flags),
		newInfoCommand(flags),
		newInvokeCommand(flags),
		newEnableCommand(flags),
		newDisableCommand(flags),
		newCatalogCommand(flags),
		newSchemaCommand(),
		newVetCommand(),
	)
	return root
}

func buildManager(flags *rootFlags) (*host.Manager, error) {
	opts := []host.Option{
		host.WithTrustAll(flags.trustAll),
		host.WithSecurityLevel(grants.SecurityLevel(flags.security)),
	}
	if flags.configPath != "" {
		opts = append(opts, host.WithConfigPath(flags.configPath))
	}
	if flags.catalogPath != "" {
		opts = append(opts, host.WithCatalogPath(flags.catalogPath))
	}
	if len(flags.pluginDirs) > 0 {
		opts = append(opts, host.WithSearchPaths(flags.pluginDirs...))
	}
	return host.New(opts...)
}

func newDiscoverCommand(flags *rootFlags) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan search paths for candidate plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()

			units, err := m.Discover(cmd.Context(), refresh)
			if err != nil {
				return err
			}
			if len(units) == 0 {
				cmd.Println("No candidate plugins found.")
				return nil
			}
			for _, unit := range units {
				source := "source scan"
				if unit.FromManifest() {
					source = "manifest"
				}
				cmd.Printf("%-24s %-5s %-10s %s\n", unit.ID, unit.Kind, source, unit.SourcePath)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the discovery cache")
	return cmd
}

func newLoadCommand(flags *rootFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "load [plugin-id...]",
		Short: "Load and initialize plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name plugins to load or pass --all")
			}
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()

			if all {
				result, err := m.AutoDiscoverAndLoad(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range result.Active {
					cmd.Printf("loaded %s\n", id)
				}
				for id, ferr := range result.Failures {
					cmd.Printf("failed %s: %v\n", id, ferr)
				}
				for _, warning := range result.CycleWarnings {
					cmd.Printf("warning: dependency cycle: %s\n", strings.Join(warning.Participants, " -> "))
				}
				if result.Failed() {
					return fmt.Errorf("%d plugin(s) failed", len(result.Failures))
				}
				return nil
			}

			for _, id := range args {
				if err := m.LoadPlugin(cmd.Context(), id); err != nil {
					return err
				}
				cmd.Printf("loaded %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "load everything discoverable")
	return cmd
}

func newListCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cataloged plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()

			plugins := m.ListPlugins()
			if len(plugins) == 0 {
				cmd.Println("Catalog is empty.")
				return nil
			}
			cmd.Printf("%-24s %-10s %-12s %s\n", "ID", "VERSION", "CAPABILITY", "STATUS")
			for _, d := range plugins {
				cmd.Printf("%-24s %-10s %-12s %s\n", d.ID, d.Version, d.Capability, d.Status)
			}
			return nil
		},
	}
}

func newInfoCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <plugin-id>",
		Short: "Show a plugin's descriptor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()

			d, err := m.GetPlugin(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("ID:          %s\n", d.ID)
			cmd.Printf("Name:        %s\n", d.Name)
			cmd.Printf("Version:     %s\n", d.Version)
			cmd.Printf("Capability:  %s\n", d.Capability)
			cmd.Printf("Status:      %s\n", d.Status)
			cmd.Printf("Source:      %s\n", d.SourcePath)
			if d.Description != "" {
				cmd.Printf("Description: %s\n", d.Description)
			}
			if d.Author != "" {
				cmd.Printf("Author:      %s\n", d.Author)
			}
			for _, dep := range d.Dependencies {
				constraint := dep.Version
				if constraint == "" {
					constraint = "any"
				}
				cmd.Printf("Depends on:  %s (%s)\n", dep.ID, constraint)
			}
			return nil
		},
	}
}

func newInvokeCommand(flags *rootFlags) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "invoke <plugin-id>",
		Short: "Load a plugin and call its capability operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()

			id := args[0]
			if err := m.LoadPlugin(cmd.Context(), id); err != nil {
				return err
			}
			out, err := m.Invoke(cmd.Context(), id, []byte(input))
			if err != nil {
				return err
			}
			cmd.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "{}", "JSON payload for the operation")
	return cmd
}

func newEnableCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "enable <plugin-id>",
		Short: "Enable a plugin in configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()
			return m.EnablePlugin(args[0])
		},
	}
}

func newDisableCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disable <plugin-id>",
		Short: "Disable a plugin and unload it if loaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()
			return m.DisablePlugin(cmd.Context(), args[0])
		},
	}
}

func newCatalogCommand(flags *rootFlags) *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "Export or import the plugin catalog",
	}

	catalog.AddCommand(&cobra.Command{
		Use:   "export <file>",
		Short: "Write the catalog to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()
			return m.ExportCatalog(args[0])
		},
	})

	catalog.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Merge a catalog JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := buildManager(flags)
			if err != nil {
				return err
			}
			defer func() { _ = m.Shutdown(cmd.Context()) }()
			return m.ImportCatalog(args[0])
		},
	})

	return catalog
}

func newSchemaCommand() *cobra.Command {
	capabilities := make([]string, 0, len(descriptor.Capabilities()))
	for _, c := range descriptor.Capabilities() {
		capabilities = append(capabilities, c.String())
	}

	return &cobra.Command{
		Use:   "schema <capability>",
		Short: "Print the JSON schema for a capability's operation payload",
		Long:  "Known capabilities: " + strings.Join(capabilities, ", "),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := descriptor.ParseCapability(args[0])
			if err != nil {
				return err
			}
			schema, err := config.CapabilitySchema(c)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(schema, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		},
	}
}

func newVetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vet <source-file>",
		Short: "Run the static safety scan over a plugin source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			report := sandbox.CheckSource(string(source))

			cmd.Printf("Risk level: %s\n", report.Level)
			for _, warning := range report.Warnings {
				cmd.Printf("  - %s\n", warning)
			}
			if !report.IsSafe {
				return fmt.Errorf("source is unsafe to load")
			}
			cmd.Println("Source is safe to load.")
			return nil
		},
	}
}
