package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"userdir/internal/models"
	"userdir/internal/query"
	"userdir/internal/repositories"
	"userdir/pkg/rabbitmq"

	"github.com/go-playground/validator/v10"
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// fieldMessages maps a failed validation tag to the message shown for a field.
var fieldMessages = map[string]map[string]string{
	"name":  {"notblank": "Name is required"},
	"email": {"required": "Email is required", "simpleemail": "Invalid email"},
}

// ValidationError carries a message per rejected field, keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// EventPublisher receives user change events.
type EventPublisher interface {
	PublishUserEvent(event rabbitmq.UserEvent) error
}

// NewValidator returns a validator with the notblank and simpleemail rules
// registered, reporting fields by their JSON name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("simpleemail", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return v
}

// DirectoryService validates and applies mutations to the user collection.
type DirectoryService struct {
	repo      repositories.UserRepository
	publisher EventPublisher
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time

	idMu   sync.Mutex
	lastID int64
}

// Option configures a DirectoryService.
type Option func(*DirectoryService)

// WithPublisher publishes an event after every successful mutation.
func WithPublisher(p EventPublisher) Option {
	return func(s *DirectoryService) {
		s.publisher = p
	}
}

// WithClock replaces time.Now for id synthesis and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *DirectoryService) {
		s.now = now
	}
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(repo repositories.UserRepository, logger *slog.Logger, opts ...Option) *DirectoryService {
	s := &DirectoryService{
		repo:     repo,
		validate: NewValidator(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Loading reports whether the initial fetch is still in flight.
func (s *DirectoryService) Loading() bool {
	return s.repo.Loading()
}

// ListUsers returns the derived view of the collection.
func (s *DirectoryService) ListUsers(ctx context.Context, q string, key query.SortKey, dir query.SortDirection) ([]models.User, error) {
	users, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return query.Derive(users, q, key, dir), nil
}

// GetUser looks a user up by id.
func (s *DirectoryService) GetUser(ctx context.Context, id models.UserID) (models.User, bool, error) {
	u, ok, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return models.User{}, false, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return u, ok, nil
}

// CreateUser validates user, assigns it a fresh numeric id and prepends it to the collection.
// Any id set on the input is ignored.
func (s *DirectoryService) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if err := s.check(user); err != nil {
		return models.User{}, err
	}

	s.idMu.Lock()
	id, err := s.nextID(ctx)
	if err != nil {
		s.idMu.Unlock()
		return models.User{}, err
	}
	user.ID = models.NumericUserID(id)
	created, err := s.repo.Create(ctx, user)
	s.idMu.Unlock()
	if err != nil {
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}

	s.publish(rabbitmq.UserCreated, created.ID, &created)
	return created, nil
}

// UpdateUser merges patch into the user with the given id. A missing id is a no-op
// reported as found=false. An empty patch changes nothing and publishes no event.
func (s *DirectoryService) UpdateUser(ctx context.Context, id models.UserID, patch models.UserPatch) (bool, error) {
	if err := s.check(patch); err != nil {
		return false, err
	}
	if patch.IsEmpty() {
		found, err := s.repo.Contains(ctx, id)
		if err != nil {
			return false, fmt.Errorf("failed to look up user %s: %w", id, err)
		}
		return found, nil
	}

	found, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return false, fmt.Errorf("failed to update user %s: %w", id, err)
	}
	if !found {
		return false, nil
	}

	var after *models.User
	if u, ok, err := s.repo.GetByID(ctx, id); err == nil && ok {
		after = &u
	}
	s.publish(rabbitmq.UserUpdated, id, after)
	return true, nil
}

// DeleteUser removes the user with the given id. Deleting a missing id is a no-op.
func (s *DirectoryService) DeleteUser(ctx context.Context, id models.UserID) (bool, error) {
	found, err := s.repo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete user %s: %w", id, err)
	}
	if found {
		s.publish(rabbitmq.UserDeleted, id, nil)
	}
	return found, nil
}

func (s *DirectoryService) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate user: %w", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		msg, ok := fieldMessages[fe.Field()][fe.Tag()]
		if !ok {
			msg = "Invalid " + fe.Field()
		}
		fields[fe.Field()] = msg
	}
	return &ValidationError{Fields: fields}
}

// nextID derives an id from the clock, strictly above the last one issued, and
// skips any value already present in the collection. Callers hold idMu.
func (s *DirectoryService) nextID(ctx context.Context) (int64, error) {
	id := max(s.now().UnixMilli(), s.lastID+1)
	for {
		taken, err := s.repo.Contains(ctx, models.NumericUserID(id))
		if err != nil {
			return 0, fmt.Errorf("failed to check id %d: %w", id, err)
		}
		if !taken {
			break
		}
		id++
	}
	s.lastID = id
	return id, nil
}

func (s *DirectoryService) publish(t rabbitmq.EventType, id models.UserID, user *models.User) {
	if s.publisher == nil {
		return
	}
	event := rabbitmq.NewUserEvent(t, id, user, s.now())
	if err := s.publisher.PublishUserEvent(event); err != nil {
		s.logger.Warn("failed to publish user event", "type", t, "user_id", id.String(), "error", err)
		return
	}
	s.logger.Debug("published user event", "type", t, "event_id", event.ID)
}
