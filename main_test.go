package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"userdir/internal/config"
	"userdir/internal/logging"
	"userdir/internal/middleware"
	"userdir/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	users []models.User
	err   error
}

func (f stubFetcher) FetchUsers(context.Context) ([]models.User, error) {
	return f.users, f.err
}

func testConfig(driver string) config.Config {
	return config.Config{
		AppPort:         "127.0.0.1:0",
		ShutdownTimeout: time.Second,
		Loader:          config.LoaderConfig{Endpoint: "http://example.invalid/users"},
		Store:           config.StoreConfig{Driver: driver, SQLiteDSN: "file:userdir_main_test?mode=memory&cache=shared"},
		Logging:         config.LoggingConfig{Level: "error", Format: "text"},
	}
}

func newTestApp(t *testing.T, driver string, fetcher stubFetcher) *App {
	t.Helper()
	app, err := newApp(testConfig(driver), logging.Discard(), io.Discard, fetcher)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, app.Close()) })
	return app
}

func TestHealthReportsLoading(t *testing.T) {
	app := newTestApp(t, config.DriverMemory, stubFetcher{users: []models.User{
		{ID: models.NumericUserID(1), Name: "Leanne Graham", Email: "Sincere@april.biz"},
	}})

	health := func() map[string]any {
		resp, err := app.Fiber.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		body["header"] = resp.Header.Get(middleware.LoadingHeader)
		return body
	}

	before := health()
	assert.Equal(t, "healthy", before["status"])
	assert.Equal(t, true, before["loading"])
	assert.Equal(t, "true", before["header"])

	res := app.Loader.Run(context.Background())
	require.NoError(t, res.Err)

	after := health()
	assert.Equal(t, false, after["loading"])
	assert.Equal(t, "false", after["header"])
}

func TestFailedLoadThenCreateOverHTTP(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			app := newTestApp(t, driver, stubFetcher{err: errors.New("simulated network error")})

			res := app.Loader.Run(context.Background())
			require.Error(t, res.Err)
			assert.False(t, app.Repo.Loading())

			body, err := json.Marshal(map[string]string{"name": "Bob Martin", "email": "bob@example.com"})
			require.NoError(t, err)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/users", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Fiber.Test(req, -1)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusCreated, resp.StatusCode)

			resp, err = app.Fiber.Test(httptest.NewRequest(http.MethodGet, "/api/v1/users?q=bob", nil), -1)
			require.NoError(t, err)
			defer resp.Body.Close()

			var list struct {
				Status string        `json:"status"`
				Total  int           `json:"total"`
				Users  []models.User `json:"users"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
			assert.Equal(t, "ready", list.Status)
			require.Equal(t, 1, list.Total)
			assert.Equal(t, "Bob Martin", list.Users[0].Name)
			assert.True(t, list.Users[0].ID.IsNumeric())
		})
	}
}

func TestNewApp_UnsupportedDriver(t *testing.T) {
	_, err := newApp(testConfig("postgres"), logging.Discard(), io.Discard, stubFetcher{})
	assert.ErrorIs(t, err, config.ErrUnsupportedDriver)
}
