package middleware

import (
	"io"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

// LoadingHeader is set on every response to report whether the initial fetch is still running.
const LoadingHeader = "X-Directory-Loading"

const (
	textAccessFormat = "${time} | ${status} | ${latency} | ${method} ${path}\n"
	jsonAccessFormat = `{"time":"${time}","status":${status},"latency":"${latency}","method":"${method}","path":"${path}"}` + "\n"
)

// LoadingReporter exposes the loading state of the user collection.
type LoadingReporter interface {
	Loading() bool
}

// LoadingState is a Fiber middleware that stamps each response with the loading flag.
func LoadingState(state LoadingReporter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set(LoadingHeader, strconv.FormatBool(state.Loading()))
		return c.Next()
	}
}

// AccessLog writes one line per request to out using Fiber's logger middleware,
// as JSON objects when jsonFormat is set.
func AccessLog(out io.Writer, jsonFormat bool) fiber.Handler {
	format := textAccessFormat
	if jsonFormat {
		format = jsonAccessFormat
	}
	return logger.New(logger.Config{
		Output:     out,
		Format:     format,
		TimeFormat: time.RFC3339,
	})
}
