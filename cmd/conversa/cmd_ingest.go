// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Winston-And-Lee/conversa-suite/pkg/ux"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/datatypes"
)

type ingestResponse struct {
	Results []datatypes.IngestionResult `json:"results"`
}

// runIngestCommand reads a JSON array of documents from the given file and
// submits them for embedding and indexing.
//
// Expected file format:
//
//	[
//	  {"source_id": "tale-001", "title": "...", "content": "...",
//	   "reference": "...", "data_type": "FICTION"}
//	]
func runIngestCommand(cmd *cobra.Command, args []string) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		ux.Error(fmt.Sprintf("reading %s: %v", args[0], err))
		os.Exit(1)
	}

	var docs []datatypes.IngestionDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		ux.Error(fmt.Sprintf("parsing %s: %v", args[0], err))
		os.Exit(1)
	}
	if len(docs) == 0 {
		ux.Error("no documents found in " + args[0])
		os.Exit(1)
	}

	payload, err := json.Marshal(datatypes.IngestionRequest{Documents: docs})
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	url := fmt.Sprintf("%s/api/ingestion/documents", config.Server)
	spin := ux.NewSpinner(fmt.Sprintf("ingesting %d documents...", len(docs)))
	spin.Start()
	var resp ingestResponse
	err = doJSON(http.MethodPost, url, bytes.NewReader(payload), &resp)
	spin.Stop()
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}

	failures := 0
	for _, r := range resp.Results {
		if r.Error != "" {
			failures++
			fmt.Printf("%s %s: %s\n", ux.IconError.Render(), r.SourceID, r.Error)
			continue
		}
		fmt.Printf("%s %s %s\n", ux.IconSuccess.Render(), r.SourceID,
			ux.Styles.Muted.Render(fmt.Sprintf("(%d chunks)", r.Chunks)))
	}
	if failures > 0 {
		ux.Warning(fmt.Sprintf("%d documents, %d failed", len(resp.Results), failures))
	} else {
		ux.Success(fmt.Sprintf("%d documents ingested", len(resp.Results)))
	}
}
