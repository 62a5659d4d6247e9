// Package server exposes the decode pipeline over HTTP.
package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/blang/semver"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/op/go-logging"

	"github.com/Macmod/go-nbfx/dictionary"
	"github.com/Macmod/go-nbfx/soap"
	"github.com/Macmod/go-nbfx/viewer"
)

var log = logging.MustGetLogger("server")

// Config holds the HTTP surface settings.
type Config struct {
	Addr         string
	AllowOrigins []string
	Version      semver.Version
}

type decodeResponse struct {
	OK       bool          `json:"ok"`
	Kind     viewer.Kind   `json:"kind"`
	Text     string        `json:"text"`
	Envelope *soap.Summary `json:"envelope,omitempty"`
}

func failure(msg string) decodeResponse {
	return decodeResponse{OK: false, Kind: viewer.KindError, Text: msg}
}

// NewRouter returns the gin engine serving the API.
func NewRouter(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "version": cfg.Version.String()})
	})
	r.POST("/api/decode", handleDecode)
	r.GET("/api/dictionary/wellknown", handleWellKnown)
	r.POST("/api/dictionary/import", handleImport)
	return r
}

// Run serves the API on cfg.Addr until the listener fails.
func Run(cfg Config) error {
	gin.SetMode(gin.ReleaseMode)
	r := NewRouter(cfg)
	log.Noticef("nbfxview %s listening on %s", cfg.Version, cfg.Addr)
	return r.Run(cfg.Addr)
}

func handleDecode(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, failure("failed to read request body"))
		return
	}

	req := viewer.NewRequest("")
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, failure("invalid request: "+err.Error()))
		return
	}

	res, err := viewer.Evaluate(c.Request.Context(), req)
	if errors.Is(err, viewer.ErrCancelled) {
		log.Debugf("decode cancelled: %v", err)
		c.AbortWithStatus(http.StatusRequestTimeout)
		return
	}
	resp := decodeResponse{OK: res.OK(), Kind: res.Kind, Text: res.Text}
	if res.OK() {
		if summary, err := soap.Inspect(res.Text); err == nil {
			resp.Envelope = summary
		}
	}
	c.JSON(http.StatusOK, resp)
}

func handleWellKnown(c *gin.Context) {
	var buf bytes.Buffer
	if err := dictionary.Export(&buf, dictionary.WellKnown); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
}

func handleImport(c *gin.Context) {
	rows, err := dictionary.Import(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "rows": rows})
}
