// Package middleware carries the cross-cutting gin handlers of the review
// server.
package middleware

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Logger logs one line per request in the [http] component format used
// across the server. The websocket feed is exempt; those connections stay
// open for the dashboard's lifetime.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}

		c.Next()

		log.Printf("[http] %d %s %s from %s in %s",
			c.Writer.Status(), c.Request.Method, path, c.ClientIP(), time.Since(start))
	}
}

// CORS lets the annotation frontend, served from the marketplace iframe
// origin, call the review API. Only the verbs the API exposes are allowed;
// there is no Authorization header to pass through.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
