// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ragserver starts the retrieval-augmented QA HTTP server.
//
// # Usage
//
//	ragserver serve --config config.yaml
//	ragserver serve --port 8200 --debug
//
// Configuration resolves defaults → YAML file → RAG_* environment
// variables → flags.
//
// # Exit Codes
//
//	0 clean shutdown
//	1 configuration failure
//	2 port-bind failure
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ragserver "github.com/AleutianAI/AleutianRAG/services/ragserver"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/config"
)

func main() {
	var (
		configPath string
		host       string
		port       int
		debug      bool
		noCheck    bool
	)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the RAG server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, warnings, err := config.Load(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
				os.Exit(1)
			}
			if host != "" {
				cfg.Host = host
			}
			if port != 0 {
				cfg.Port = port
			}
			if debug {
				cfg.Debug = true
			}
			if !noCheck {
				if err := cfg.Validate(); err != nil {
					fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
					os.Exit(1)
				}
			}

			svc, err := ragserver.New(cfg, warnings)
			if err != nil {
				fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
				os.Exit(1)
			}

			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := svc.Run(ctx); err != nil {
				if errors.Is(err, ragserver.ErrPortBind) {
					fmt.Fprintf(os.Stderr, "bind error: %v\n", err)
					os.Exit(2)
				}
				return err
			}
			return nil
		},
	}

	serve.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	serve.Flags().StringVar(&host, "host", "", "listen host override")
	serve.Flags().IntVar(&port, "port", 0, "listen port override")
	serve.Flags().BoolVar(&debug, "debug", false, "enable debug logging and gin debug mode")
	serve.Flags().BoolVar(&noCheck, "no-check", false, "skip re-validating the config after flag overrides (loading still validates file and environment settings; middleware is never skipped)")

	root := &cobra.Command{
		Use:           "ragserver",
		Short:         "Retrieval-augmented QA service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
