// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Winston-And-Lee/conversa-suite/pkg/ux"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

type chatRequest struct {
	ThreadID string              `json:"thread_id,omitempty"`
	Messages []datatypes.Message `json:"messages"`
	System   string              `json:"system,omitempty"`
}

// snapshotFrame mirrors one entry of a message snapshot frame.
type snapshotFrame struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Content  string `json:"content"`
	ThreadID string `json:"thread_id"`
}

func runChatCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	// Cancel the stream on Ctrl-C; the server persists the partial reply.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	resolvedThread, err := streamChat(ctx, question)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println()
			ux.Muted("(interrupted; partial reply was saved)")
			return
		}
		ux.Error(err.Error())
		os.Exit(1)
	}
	if resolvedThread != "" && threadID == "" {
		fmt.Println()
		ux.Muted(fmt.Sprintf("(thread: %s, continue with --thread %s)", resolvedThread, resolvedThread))
	} else {
		fmt.Println()
	}
}

// streamChat posts the message and prints deltas as they arrive. Returns the
// thread id reported by the server.
func streamChat(ctx context.Context, question string) (string, error) {
	reqBody := chatRequest{
		ThreadID: threadID,
		System:   systemMessage,
		Messages: []datatypes.Message{
			{Role: datatypes.RoleUser, Content: question, Timestamp: time.Now().UTC()},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/assistant-ui/chat", config.Server)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	spin := ux.NewSpinner("thinking...")
	spin.Start()
	defer spin.Stop()

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	resolvedThread := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		prefix, payload, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		switch prefix {
		case "0":
			var delta string
			if err := json.Unmarshal([]byte(payload), &delta); err != nil {
				continue
			}
			spin.Stop()
			fmt.Print(ux.Styles.Assistant.Render(delta))
		case "2":
			var snapshots []snapshotFrame
			if err := json.Unmarshal([]byte(payload), &snapshots); err != nil {
				continue
			}
			for _, s := range snapshots {
				if s.ThreadID != "" {
					resolvedThread = s.ThreadID
				}
			}
		case "3":
			var errMsg string
			if err := json.Unmarshal([]byte(payload), &errMsg); err != nil {
				errMsg = payload
			}
			return resolvedThread, fmt.Errorf("stream error: %s", errMsg)
		case "d":
			return resolvedThread, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return resolvedThread, err
	}
	return resolvedThread, fmt.Errorf("stream ended without a done frame")
}
