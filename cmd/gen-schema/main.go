// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Grindstone Contributors

// Command gen-schema writes the module.yaml JSON Schema. With --check it
// only reports whether the committed schema is current.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/grindstone/scripthost/internal/module"
)

// errStale is returned by --check when the file differs from the manifest.
var errStale = errors.New("schema is out of date")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	out := fs.String("out", filepath.Join("schemas", "module.schema.json"), "schema file to write")
	check := fs.Bool("check", false, "fail if the schema file is missing or stale instead of writing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	schema, err := module.GenerateSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}

	if *check {
		current, err := os.ReadFile(*out)
		if err != nil {
			return fmt.Errorf("read %s: %w", *out, err)
		}
		if !bytes.Equal(current, schema) {
			return fmt.Errorf("%s: %w", *out, errStale)
		}
		fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Fprintf(stdout, "Generated %s\n", *out)
	return nil
}
