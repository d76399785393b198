package api

import (
	"github.com/gin-gonic/gin"

	"macrostudio/engine"
	"macrostudio/macro"
)

func SetupRoutes(router *gin.Engine, store *macro.Store, eng *engine.Engine, hub *EventHub) {
	// Enable CORS
	router.Use(CORSMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		macros := api.Group("/macros")
		{
			macros.GET("", func(c *gin.Context) {
				ListMacros(c, store)
			})
			macros.POST("", func(c *gin.Context) {
				CreateMacro(c, store)
			})
			macros.POST("/validate", func(c *gin.Context) {
				ValidateMacro(c)
			})
			macros.GET("/:id", func(c *gin.Context) {
				GetMacro(c, store)
			})
			macros.PUT("/:id", func(c *gin.Context) {
				UpdateMacro(c, store)
			})
			macros.DELETE("/:id", func(c *gin.Context) {
				DeleteMacro(c, store)
			})
		}

		run := api.Group("/run")
		{
			run.POST("/start", func(c *gin.Context) {
				StartRun(c, store, eng)
			})
			run.POST("/pause", func(c *gin.Context) {
				PauseRun(c, eng)
			})
			run.POST("/resume", func(c *gin.Context) {
				ResumeRun(c, eng)
			})
			run.POST("/stop", func(c *gin.Context) {
				StopRun(c, eng)
			})
			run.POST("/emergency-stop", func(c *gin.Context) {
				EmergencyStopRun(c, eng)
			})
			run.GET("/status", func(c *gin.Context) {
				RunStatus(c, eng)
			})
		}
	}

	// WebSocket route
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(hub, c)
	})
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
