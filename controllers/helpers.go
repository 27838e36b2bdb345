package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/table-order/services"
	"github.com/yeremiapane/table-order/utils"
)

// respondError maps service errors to the response envelope. Contention that
// outlived the retry budget is reported as a retryable conflict.
func respondError(c *gin.Context, err error) {
	if services.IsTransientContention(err) {
		utils.ErrorLogger.WithError(err).WithField("path", c.Request.URL.Path).Warn("store contention after retries")
		utils.RespondJSON(c, http.StatusConflict, "resource busy, please retry", nil)
		c.Abort()
		return
	}
	utils.RespondAppError(c, err)
}

func uintParam(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, utils.NewValidationError("invalid %s", name)
	}
	return uint(v), nil
}

// listParams reads pagination and filter query parameters. status and type
// accept repeated values or comma-separated lists.
func listParams(c *gin.Context) (services.ListParams, error) {
	var p services.ListParams

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, utils.NewValidationError("invalid limit")
		}
		p.Limit = n
	}
	p.After = c.Query("after")
	p.Before = c.Query("before")
	p.Statuses = splitQuery(c.QueryArray("status"))
	p.Types = splitQuery(c.QueryArray("type"))

	if v := c.Query("table_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, utils.NewValidationError("invalid table_id")
		}
		tid := uint(id)
		p.TableID = &tid
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{{"from", &p.From}, {"to", &p.To}} {
		v := c.Query(f.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return p, utils.NewValidationError("invalid %s, expected RFC3339", f.name)
		}
		*f.dst = &t
	}
	return p, nil
}

func splitQuery(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
