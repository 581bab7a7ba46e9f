// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Winston-And-Lee/conversa-suite/pkg/ux"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

type threadListResponse struct {
	Threads []datatypes.Thread `json:"threads"`
	Limit   int                `json:"limit"`
	Skip    int                `json:"skip"`
}

func runThreadsListCommand(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("%s/api/assistant/threads?limit=%d&skip=%d", config.Server, listLimit, listSkip)

	var resp threadListResponse
	if err := doJSON(http.MethodGet, url, nil, &resp); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	if len(resp.Threads) == 0 {
		ux.Muted("No threads.")
		return
	}
	for _, t := range resp.Threads {
		summary := t.Summary
		if summary == "" {
			summary = t.Title
		}
		fmt.Printf("%s %s  %s  %s\n",
			ux.IconBullet.Render(),
			ux.Styles.Highlight.Render(t.ThreadID),
			summary,
			ux.Styles.Muted.Render(fmt.Sprintf("(%d messages, updated %s)",
				len(t.Messages), t.UpdatedAt.Format("2006-01-02 15:04"))))
	}
}

func runThreadsShowCommand(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("%s/api/assistant/threads/%s", config.Server, args[0])

	var thread datatypes.Thread
	if err := doJSON(http.MethodGet, url, nil, &thread); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	ux.Title(thread.Title)
	ux.Muted(thread.ThreadID)
	if thread.SystemMessage != "" {
		ux.Info("system: " + thread.SystemMessage)
	}
	fmt.Println()
	for _, msg := range thread.Messages {
		if msg.Role == datatypes.RoleAssistant {
			fmt.Printf("%s %s\n\n", ux.Styles.Subtitle.Render("assistant:"), ux.Styles.Assistant.Render(msg.Content))
		} else {
			fmt.Printf("%s %s\n\n", ux.Styles.Bold.Render(msg.Role+":"), msg.Content)
		}
	}
}

func runThreadsDeleteCommand(cmd *cobra.Command, args []string) {
	url := fmt.Sprintf("%s/api/assistant/threads/%s", config.Server, args[0])

	var resp map[string]any
	if err := doJSON(http.MethodDelete, url, nil, &resp); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
	ux.Success("Deleted thread " + args[0])
}

// doJSON performs a request with the configured auth token and decodes the
// JSON response into out. Non-2xx responses become errors carrying the body.
func doJSON(method, url string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+config.Token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
