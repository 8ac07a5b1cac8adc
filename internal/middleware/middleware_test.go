package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"userdir/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flag struct{ v atomic.Bool }

func (f *flag) Loading() bool { return f.v.Load() }

func TestLoadingState(t *testing.T) {
	state := &flag{}
	state.v.Store(true)

	app := fiber.New()
	app.Use(middleware.LoadingState(state))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "true", resp.Header.Get(middleware.LoadingHeader))

	state.v.Store(false)
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "false", resp.Header.Get(middleware.LoadingHeader), "error responses carry the header too")
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer

	app := fiber.New()
	app.Use(middleware.AccessLog(&buf, false))
	app.Get("/teapot", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusTeapot) })

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/teapot", nil), -1)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "| 418 |")
	assert.Contains(t, buf.String(), "GET /teapot")
}

func TestAccessLog_JSON(t *testing.T) {
	var buf bytes.Buffer

	app := fiber.New()
	app.Use(middleware.AccessLog(&buf, true))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })

	_, err := app.Test(httptest.NewRequest(http.MethodGet, "/ok", nil), -1)
	require.NoError(t, err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, float64(200), line["status"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/ok", line["path"])
}
