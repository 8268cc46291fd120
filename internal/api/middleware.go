package api

import (
	"github.com/gin-gonic/gin"

	"sonarboard/internal/logger"
)

// CORSMiddleware allows dashboard frontends on other origins to call the API
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequestLogger logs each request with the shared structured logger
func RequestLogger() gin.HandlerFunc {
	log := logger.Default().WithField("component", "api")
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logger.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("request handled")
	}
}
