// Package status serves the HTTP health, metrics and introspection
// endpoints of the rtspcast binaries.
package status

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Route is an extra GET endpoint supplied by the caller.
type Route struct {
	Path    string
	Handler gin.HandlerFunc
}

// JSON returns a route that renders the value produced by fn.
func JSON(path string, fn func() interface{}) Route {
	return Route{
		Path: path,
		Handler: func(c *gin.Context) {
			c.JSON(http.StatusOK, fn())
		},
	}
}

// NewRouter builds the router without binding a listener.
func NewRouter(gatherer prometheus.Gatherer, routes ...Route) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	register(router, gatherer, routes)
	return router
}

// Run serves the status endpoints on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, gatherer prometheus.Gatherer, routes ...Route) error {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard
	router, err := graceful.Default(graceful.WithAddr(addr))
	if err != nil {
		return err
	}
	register(router, gatherer, routes)

	logrus.WithFields(logrus.Fields{
		"function": "status.Run",
		"addr":     addr,
	}).Info("Status server listening")

	if err := router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func register(r gin.IRoutes, gatherer prometheus.Gatherer, routes []Route) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	for _, route := range routes {
		r.GET(route.Path, route.Handler)
	}
}
