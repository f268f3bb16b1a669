package main

import (
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// devissuer is a development stand-in for the production token issuer.
// It mints one participant token per request without talking to the
// media server, which is enough for local client development.
func main() {
	addr := flag.String("addr", "", "HTTP serve address")
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()
	os.Setenv("MODE", *mode)

	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if *addr == "" {
		*addr = config.GlobalConfig.IssuerAddr
	}
	if !strings.HasPrefix(*addr, ":") {
		*addr = ":" + *addr
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	secret := config.GlobalConfig.IssuerSecret

	r.POST("/token", func(c *gin.Context) {
		if secret != "" {
			auth := c.GetHeader("Authorization")
			if auth != "Bearer "+secret {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid identity token"})
				return
			}
		}

		agentID := c.Query("agent_id")
		if agentID == "" {
			var body struct {
				AgentID string `json:"agent_id"`
			}
			if err := c.ShouldBindJSON(&body); err == nil {
				agentID = body.AgentID
			}
		}
		if agentID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "agent_id is required"})
			return
		}

		token := "dev-" + agentID + "-" + uuid.NewString()
		logger.Info("issued participant token", zap.String("agent_id", agentID))
		c.JSON(http.StatusOK, gin.H{"participantToken": token})
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:           *addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	logger.Info("starting dev token issuer", zap.String("addr", *addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server run failed", zap.Error(err))
	}
}
