// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/config"
	"github.com/AleutianAI/tidy/services/tidy/lint"
)

func runAnalyzersCommand(cmd *cobra.Command, args []string) error {
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	invoker := lint.NewInvoker(registry, lint.WithInvokerLogger(logger))

	out := cmd.OutOrStdout()
	printAnalyzers(out, newPalette(colorEnabled(out)), cfg, registry.Analyzers(), invoker.Detect())
	return nil
}

// printAnalyzers lists enabled analyzers with their availability, then
// any disabled ones.
func printAnalyzers(w io.Writer, p palette, c config.Config, enabled []lint.Analyzer, available map[string]bool) {
	for _, a := range enabled {
		status := p.Success.Render("installed")
		if !available[a.Name] {
			status = p.Error.Render("not found")
		}
		fmt.Fprintf(w, "%s %-10s %s  %s\n",
			p.Title.Render(fmt.Sprintf("%-16s", a.Name)), a.Command, strings.Join(a.Extensions, " "), status)
	}
	for _, ac := range c.Analyzers {
		if ac.Disabled {
			fmt.Fprintf(w, "%-16s %-10s %s  %s\n",
				ac.Name, ac.Command, strings.Join(ac.Extensions, " "), p.Muted.Render("disabled"))
		}
	}
}
