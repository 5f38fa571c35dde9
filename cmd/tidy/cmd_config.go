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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tidy/services/tidy/config"
)

func runConfigInitCommand(cmd *cobra.Command, args []string) error {
	var path string
	switch {
	case len(args) == 1:
		path = args[0]
	case configPath != "":
		path = configPath
	default:
		p, err := userConfigFile()
		if err != nil {
			return fmt.Errorf("locating user config directory: %w", err)
		}
		path = p
	}

	if err := config.WriteDefaults(path, forceInit); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShowCommand(cmd *cobra.Command, args []string) error {
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
