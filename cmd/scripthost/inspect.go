// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grindstone/scripthost/internal/bridge"
	"github.com/grindstone/scripthost/internal/module"
)

// NewTypesCmd creates the types subcommand.
func NewTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types <module>",
		Short: "List the types a module exports and their fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTypes(cmd, args[0])
		},
	}
}

func runTypes(cmd *cobra.Command, path string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	session := newSession(cfg, logger)
	defer session.Close(context.Background())

	key, err := session.Load(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	info, _ := session.Module(key)

	cmd.Printf("%s (generation %d, key %s)\n", info.Name, info.Generation, key)
	for _, name := range info.Types {
		fields, err := session.ListFields(key, name)
		if err != nil {
			return err
		}
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = f.Name + ":" + f.Type
		}
		cmd.Printf("  %s\t%s\n", name, strings.Join(parts, " "))
	}
	return nil
}

// NewFieldsCmd creates the fields subcommand. It inspects a module without
// loading it into the session, the way an editor populates an inspector.
func NewFieldsCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "fields <module> <type>",
		Short: "Print the serializable fields of a type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFields(cmd, args[0], args[1], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the separator-joined field list")

	return cmd
}

func runFields(cmd *cobra.Command, path, typeName string, raw bool) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	session := newSession(cfg, logger)
	defer session.Close(context.Background())

	if raw {
		cmd.Println(bridge.NewBoundary(cmd.Context(), session).ListFields(path, typeName))
		return nil
	}

	fields, err := session.InspectFields(cmd.Context(), path, typeName)
	if err != nil {
		return err
	}
	for _, f := range fields {
		cmd.Printf("%s\t%s\n", f.Name, f.Type)
	}
	return nil
}

// moduleListing is the JSON form of a discovered module.
type moduleListing struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Core    string `json:"core,omitempty"`
	Path    string `json:"path"`
	Entry   string `json:"entry"`
}

// NewListCmd creates the list subcommand.
func NewListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list [root]",
		Short: "Discover modules under a directory",
		Long:  `List the modules found directly under root (default: modules.root from the configuration).`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			root := cfg.Modules.Root
			if len(args) == 1 {
				root = args[0]
			}
			return runList(cmd, root, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runList(cmd *cobra.Command, root string, jsonOutput bool) error {
	sources, err := module.Discover(cmd.Context(), root)
	if err != nil {
		return fmt.Errorf("failed to discover modules: %w", err)
	}

	listings := make([]moduleListing, 0, len(sources))
	for _, src := range sources {
		l := moduleListing{Name: src.Name(), Path: src.Path, Entry: src.Entry}
		if src.Manifest != nil {
			l.Version = src.Manifest.Version
			l.Core = src.Manifest.Core
		}
		listings = append(listings, l)
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tCORE\tPATH")
	for _, l := range listings {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.Name, dash(l.Version), dash(l.Core), l.Path)
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
