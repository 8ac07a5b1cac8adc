// Package loader performs the one-time fetch that populates the user collection.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"userdir/internal/models"
	"userdir/internal/repositories"
)

// Result is the outcome of the initial fetch. Users is empty whenever Err is set.
type Result struct {
	Users []models.User
	Err   error
}

// Client fetches the user list from the remote endpoint.
type Client struct {
	http     *http.Client
	endpoint string
}

// NewClient creates a Client for endpoint. No request timeout is set;
// callers bound the fetch through the context.
func NewClient(endpoint string) *Client {
	return &Client{
		http:     &http.Client{},
		endpoint: endpoint,
	}
}

// FetchUsers issues a single GET and decodes the response body as a user array.
func (c *Client) FetchUsers(ctx context.Context) ([]models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("loader: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loader: fetch users: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("loader: fetch users: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var users []models.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("loader: decode users: %w", err)
	}
	return users, nil
}

// Fetcher is the source of the initial users.
type Fetcher interface {
	FetchUsers(ctx context.Context) ([]models.User, error)
}

// Loader populates a repository from a Fetcher exactly once.
type Loader struct {
	fetcher  Fetcher
	repo     repositories.UserRepository
	logger   *slog.Logger
	onSettle func(Result)

	once   sync.Once
	result Result
}

// Option configures a Loader.
type Option func(*Loader)

// WithOnSettle registers a callback invoked once the fetch has settled,
// after the loading flag has been cleared.
func WithOnSettle(fn func(Result)) Option {
	return func(l *Loader) {
		l.onSettle = fn
	}
}

// New creates a Loader.
func New(fetcher Fetcher, repo repositories.UserRepository, logger *slog.Logger, opts ...Option) *Loader {
	l := &Loader{
		fetcher: fetcher,
		repo:    repo,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run performs the fetch on the first call and returns its result on every call.
// Failures are logged and reported in the Result, never returned as errors.
func (l *Loader) Run(ctx context.Context) Result {
	l.once.Do(func() {
		l.result = l.load(ctx)
		if l.onSettle != nil {
			l.onSettle(l.result)
		}
	})
	return l.result
}

// Start runs the loader in its own goroutine. The channel receives the
// result once and is then closed.
func (l *Loader) Start(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- l.Run(ctx)
	}()
	return ch
}

func (l *Loader) load(ctx context.Context) Result {
	l.repo.SetLoading(true)
	defer l.repo.SetLoading(false)

	start := time.Now()
	users, err := l.fetcher.FetchUsers(ctx)
	if err != nil {
		l.logger.Error("failed to fetch users", "error", err)
		return Result{Users: []models.User{}, Err: err}
	}
	users, dropped := models.UniqueByID(users)
	if len(dropped) > 0 {
		l.logger.Warn("skipping users with repeated ids", "count", len(dropped), "ids", dropped)
	}
	if err := l.repo.Initialize(ctx, users); err != nil {
		l.logger.Error("failed to initialize user collection", "error", err)
		return Result{Users: []models.User{}, Err: err}
	}
	l.logger.Info("users loaded", "count", len(users), "duration_ms", time.Since(start).Milliseconds())
	return Result{Users: users}
}
