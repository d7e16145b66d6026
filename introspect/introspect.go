// Package introspect implements the relay's HTTP surface: read-only
// JSON snapshots of the registry, plus a testing stub authorization
// endpoint. Every handler is a pure read; none may block a relay
// operation for more than the registry's single critical section.
package introspect

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/opusrelay/qvox/config"
	"github.com/opusrelay/qvox/registry"
)

// AppInfo is the static application identity projection.
type AppInfo struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// AllInfo aggregates every projection into the single GET /info
// response.
type AllInfo struct {
	App     AppInfo                        `json:"app"`
	Config  config.Config                  `json:"config"`
	Store   registry.StoreInfo             `json:"store"`
	Clients map[uint32]registry.ClientInfo `json:"clients"`
}

// Handlers wires the registry, loaded config and static app identity
// to the introspection HTTP endpoints.
type Handlers struct {
	registry *registry.Registry
	cfg      *config.Config
	app      AppInfo
	logger   zerolog.Logger
}

// New constructs the introspection handler set.
func New(reg *registry.Registry, cfg *config.Config, app AppInfo, logger zerolog.Logger) *Handlers {
	return &Handlers{registry: reg, cfg: cfg, app: app, logger: logger.With().Str("com", "introspect").Logger()}
}

// Register mounts every introspection endpoint onto engine.
func (h *Handlers) Register(engine *gin.Engine) {
	engine.POST("/auth/allow-all", h.allowAll)
	engine.GET("/info/app", h.appInfo)
	engine.GET("/info/config", h.config)
	engine.GET("/info/store", h.storeInfo)
	engine.GET("/info/clients", h.clientInfos)
	engine.GET("/info", h.allInfo)
}

// allowAll is the testing stub: any POST here returns 200 regardless
// of body, useful for pointing authorization_uri at during local runs
// and end-to-end tests.
func (h *Handlers) allowAll(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handlers) appInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.app)
}

func (h *Handlers) config(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg)
}

func (h *Handlers) storeInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.StoreInfo())
}

func (h *Handlers) clientInfos(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ClientInfos())
}

func (h *Handlers) allInfo(c *gin.Context) {
	c.JSON(http.StatusOK, AllInfo{
		App:     h.app,
		Config:  *h.cfg,
		Store:   h.registry.StoreInfo(),
		Clients: h.registry.ClientInfos(),
	})
}
