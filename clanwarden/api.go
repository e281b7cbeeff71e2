package clanwarden

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	apiPrefix      = "/api"
	apiHealthCheck = "/healthz"
	apiPathStatus  = "/status"
	apiPathUsers   = "/users"
	apiPathGetUser = "/user/:id"
)

// API is the read-only operational status server. It exposes health,
// bot status, and stored user records - nothing on it mutates state,
// so there's no auth surface.
type API struct {
	cw         *ClanWarden
	config     *APIConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
}

func newAPI(cw *ClanWarden, config *APIConfig) *API {
	logger := slog.New(
		tintHandler(config.LogLevel),
	).With(loggerNameKey, "api")

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	a := &API{
		cw:     cw,
		config: config,
		engine: engine,
		logger: logger,
	}

	engine.GET(apiHealthCheck, a.getHealth)
	apiGroup := engine.Group(apiPrefix)
	apiGroup.GET(apiPathStatus, a.getStatus)
	apiGroup.GET(apiPathUsers, a.getUsers)
	apiGroup.GET(apiPathGetUser, a.getUser)

	a.httpServer = &http.Server{
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a
}

// Serve listens on the configured address until the server is shut down.
func (a *API) Serve(ctx context.Context) error {
	network := a.config.ListenNetwork
	if network == "" {
		network = defaultListenNetwork
	}
	listener, err := net.Listen(network, a.config.Listen)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "api listening", "listen", a.config.Listen)
	if err = a.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error("error shutting down api server", tint.Err(err))
	}
}

func (*API) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type apiStatus struct {
	Version            string    `json:"version"`
	StartedAt          time.Time `json:"started_at"`
	Uptime             string    `json:"uptime"`
	DiscordConnected   bool      `json:"discord_connected"`
	DiscordConnects    int64     `json:"discord_connects"`
	DiscordDisconnects int64     `json:"discord_disconnects"`
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		apiStatus{
			Version:            Version,
			StartedAt:          a.cw.startedAt,
			Uptime:             time.Since(a.cw.startedAt).String(),
			DiscordConnected:   a.cw.discord.connected.Load(),
			DiscordConnects:    a.cw.discord.metricConnects.Load(),
			DiscordDisconnects: a.cw.discord.metricDisconnects.Load(),
		},
	)
}

func (a *API) getUsers(c *gin.Context) {
	records, err := a.cw.store().AllUserRecords(c.Request.Context())
	if err != nil {
		a.logger.Error("error loading user records", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, records)
}

func (a *API) getUser(c *gin.Context) {
	rec, err := a.cw.store().GetUserRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.logger.Error("error loading user record", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
