package api

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// queryInt extracts a non-negative integer query param with a default value.
func queryInt(c echo.Context, key string, def int) int {
	v := c.QueryParam(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// queryList splits a comma-separated query param, dropping empty items.
func queryList(c echo.Context, key string) []string {
	var out []string
	for _, item := range strings.Split(c.QueryParam(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
