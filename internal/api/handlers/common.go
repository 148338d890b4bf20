package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Wikid82/argus/internal/api/middleware"
	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
	"github.com/Wikid82/argus/internal/config"
	"github.com/Wikid82/argus/internal/events"
	"github.com/Wikid82/argus/internal/util"
)

// GetLogger returns the request-scoped logger.
func GetLogger(c *gin.Context) *logrus.Entry {
	return middleware.GetRequestLogger(c)
}

// actor names the admin performing a change for audits and snapshots.
func actor(c *gin.Context) string {
	if email := c.GetString(middleware.EmailKey); email != "" {
		return email
	}
	return "anonymous"
}

// queryLimit parses ?limit=, returning 0 (service default) when absent or
// malformed.
func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// snapshot returns the configuration captured by the pipeline for this
// request, or the current one when the route is outside the pipeline.
func snapshot(c *gin.Context, store *cerberus.Store) *config.Snapshot {
	if v, ok := c.Get(cerberus.SnapshotKey); ok {
		if s, ok := v.(*config.Snapshot); ok {
			return s
		}
	}
	return store.Live.Current()
}

// record logs an event raised by a handler with the request's fields.
func record(c *gin.Context, store *cerberus.Store, e events.Event) {
	e.Origin = c.ClientIP()
	e.Method = c.Request.Method
	e.Path = util.LogSafe(c.Request.URL.Path, 256)
	e.RequestID = c.GetString(response.RequestIDKey)
	store.Record(e)
}
