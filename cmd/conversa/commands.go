// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL     string
	threadID      string
	systemMessage string
	listLimit     int
	listSkip      int

	rootCmd = &cobra.Command{
		Use:   "conversa",
		Short: "A cli for the conversa assistant service",
		Long: `Conversa is a command line client for the assistant service:
				streaming chat with fiction-aware retrieval, thread management,
				and document ingestion.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and stream the assistant's reply",
		Args:  cobra.MinimumNArgs(1),
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Threads ---
	threadsCmd = &cobra.Command{
		Use:   "threads",
		Short: "Manage conversation threads",
	}
	threadsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List your threads, most recently updated first",
		Run:   runThreadsListCommand, // Defined in cmd_threads.go
	}
	threadsShowCmd = &cobra.Command{
		Use:   "show [thread-id]",
		Short: "Show a thread with its full message history",
		Args:  cobra.ExactArgs(1),
		Run:   runThreadsShowCommand,
	}
	threadsDeleteCmd = &cobra.Command{
		Use:   "delete [thread-id]",
		Short: "Delete a thread",
		Args:  cobra.ExactArgs(1),
		Run:   runThreadsDeleteCommand,
	}

	// --- Ingestion ---
	ingestCmd = &cobra.Command{
		Use:   "ingest [documents.json]",
		Short: "Ingest fiction documents into the retrieval store",
		Args:  cobra.ExactArgs(1),
		Run:   runIngestCommand, // Defined in cmd_ingest.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Assistant service base URL (overrides config file)")

	chatCmd.Flags().StringVar(&threadID, "thread", "", "Continue an existing thread instead of creating one")
	chatCmd.Flags().StringVar(&systemMessage, "system", "", "System message for a newly created thread")

	threadsListCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum threads to return")
	threadsListCmd.Flags().IntVar(&listSkip, "skip", 0, "Threads to skip for pagination")

	threadsCmd.AddCommand(threadsListCmd, threadsShowCmd, threadsDeleteCmd)
	rootCmd.AddCommand(chatCmd, threadsCmd, ingestCmd)
}
