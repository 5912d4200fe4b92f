package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sharedcode/ogm"
	"github.com/sharedcode/ogm/config"
	"github.com/sharedcode/ogm/scan"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

var errPageFull = errors.New("page full")

type server struct {
	config  *config.Config
	dialect ogm.Dialect
}

func newRouter(c *config.Config, d ogm.Dialect) *gin.Engine {
	s := &server{config: c, dialect: d}
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/tables", s.listTables)
		v1.GET("/tables/:table/record", s.getRecord)
		v1.GET("/tables/:table/rows", s.listRows)
		v1.POST("/sequences/:name/next", s.nextValue)
	}
	return router
}

func (s *server) table(c *gin.Context) (config.TableConfig, bool) {
	t, ok := s.config.Table(c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("table %q is not declared", c.Param("table"))})
	}
	return t, ok
}

func (s *server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case ogm.IsCode(err, ogm.ContractViolation):
		status = http.StatusBadRequest
	case ogm.IsCode(err, ogm.UnsupportedOperation):
		status = http.StatusNotImplemented
	case ogm.IsCode(err, ogm.OptimisticConflict):
		status = http.StatusConflict
	}
	log.Warn("request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *server) listTables(c *gin.Context) {
	c.JSON(http.StatusOK, s.config.Tables)
}

// getRecord looks a record up by its key columns, each passed as a query parameter.
func (s *server) getRecord(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	values := make([]any, 0, len(t.KeyColumns))
	for _, column := range t.KeyColumns {
		raw, ok := c.GetQuery(column)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("key column %q is required", column)})
			return
		}
		values = append(values, parseValue(raw))
	}
	key, err := ogm.NewEntityKey(t.Metadata(), values)
	if err != nil {
		s.fail(c, err)
		return
	}
	tuple, err := s.dialect.GetTuple(c.Request.Context(), key)
	if err != nil {
		s.fail(c, err)
		return
	}
	if tuple == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s not found", key)})
		return
	}
	c.JSON(http.StatusOK, tuple.Map())
}

// listRows returns up to limit rows of a table matching the optional CEL filter.
func (s *server) listRows(c *gin.Context) {
	t, ok := s.table(c)
	if !ok {
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLimit)
	}

	var middlewares []scan.Middleware
	if expr := c.Query("filter"); expr != "" {
		f, err := scan.NewFilter(expr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		middlewares = append(middlewares, f.Wrap)
	}

	rows := make([]map[string]any, 0)
	collect := func(_ context.Context, _ ogm.EntityKeyMetadata, tuple *ogm.Tuple) error {
		rows = append(rows, tuple.Map())
		if len(rows) >= limit {
			return errPageFull
		}
		return nil
	}
	err := s.dialect.ForEachTuple(c.Request.Context(), scan.Chain(collect, middlewares...), t.Metadata())
	if err != nil && !errors.Is(err, errPageFull) {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": t.Name, "rows": rows, "more": errors.Is(err, errPageFull)})
}

func (s *server) nextValue(c *gin.Context) {
	increment, initial := 1, 1
	for name, dst := range map[string]*int{"increment": &increment, "initial": &initial} {
		if raw := c.Query(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s must be an integer", name)})
				return
			}
			*dst = n
		}
	}
	v, err := s.dialect.NextValue(c.Request.Context(), ogm.NextValueRequest{
		Key:          ogm.NewSequenceKey(c.Param("name")),
		Increment:    increment,
		InitialValue: initial,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sequence": c.Param("name"), "value": v})
}

// parseValue reads integers as int64 and keeps anything else as a string.
func parseValue(raw string) any {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	return raw
}
