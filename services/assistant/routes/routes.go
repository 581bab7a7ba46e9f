// Copyright (C) 2025 Winston & Lee (conversa-suite)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Winston-And-Lee/conversa-suite/services/assistant/handlers"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/middleware"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/services"
	"github.com/Winston-And-Lee/conversa-suite/services/assistant/store"
)

// SetupRoutes registers every assistant endpoint on the router.
//
// /health and /metrics are unauthenticated; everything under /api passes
// through the auth middleware. The ingestion service may be nil when the
// vector store is unavailable, in which case ingestion responds 503.
func SetupRoutes(router *gin.Engine, threadStore store.ThreadStore, turns *services.TurnService,
	ingestion *services.IngestionService, validator middleware.TokenValidator) {

	router.GET("/health", handlers.HealthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	chatHandler := handlers.NewChatStreamHandler(turns)
	threadHandler := handlers.NewThreadHandler(threadStore)
	ingestionHandler := handlers.NewIngestionHandler(ingestion)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(validator))
	{
		api.POST("/assistant-ui/chat", chatHandler.HandleChatStream)

		threads := api.Group("/assistant/threads")
		{
			threads.POST("", threadHandler.CreateThread)
			threads.GET("", threadHandler.ListThreads)
			threads.GET("/:thread_id", threadHandler.GetThread)
			threads.DELETE("/:thread_id", threadHandler.DeleteThread)
		}

		api.POST("/ingestion/documents", ingestionHandler.HandleIngest)
	}
}
