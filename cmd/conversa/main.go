// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds CLI settings loaded from the user's config file.
type Config struct {
	// Server is the assistant service base URL, e.g. http://localhost:12320.
	Server string `yaml:"server"`
	// Token is the bearer token sent with every request. Empty is fine for
	// local single-user deployments.
	Token string `yaml:"token"`
}

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		// Missing config file is fine; flags and defaults still apply.
		configPath := configFilePath()
		yamlFile, err := os.ReadFile(configPath)
		if err == nil {
			if err := yaml.Unmarshal(yamlFile, &config); err != nil {
				log.Fatalf("Error parsing %s: %v", configPath, err)
			}
		}
		if serverURL != "" {
			config.Server = serverURL
		}
		if config.Server == "" {
			config.Server = "http://localhost:12320"
		}
		if token := os.Getenv("CONVERSA_TOKEN"); token != "" {
			config.Token = token
		}
	}
}

func configFilePath() string {
	if path := os.Getenv("CONVERSA_CONFIG"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "conversa.yaml"
	}
	return filepath.Join(home, ".conversa.yaml")
}
