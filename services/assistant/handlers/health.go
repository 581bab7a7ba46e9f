// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler responds to liveness probes.
//
// # Description
//
// Returns a static OK payload. Dependency health (MongoDB, Weaviate, LLM
// backend) is intentionally not checked here: the probe answers "is the
// process serving" and nothing else, so a degraded dependency does not get
// the pod restarted.
func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "assistant",
	})
}
