package handlers

import (
	"errors"
	"log/slog"
	"strings"

	"userdir/internal/models"
	"userdir/internal/query"
	"userdir/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DefaultCompany is recorded for users created without a company.
const DefaultCompany = "Local User"

// UserHandler handles HTTP requests for the user directory.
type UserHandler struct {
	service *services.DirectoryService
	logger  *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service *services.DirectoryService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the user routes with the Fiber app.
func (h *UserHandler) RegisterRoutes(router fiber.Router) {
	userRoutes := router.Group("/users")
	userRoutes.Get("/", h.HandleListUsers)
	userRoutes.Get("/:id", h.HandleGetUser)
	userRoutes.Post("/", h.HandleCreateUser)
	userRoutes.Patch("/:id", h.HandleUpdateUser)
	userRoutes.Delete("/:id", h.HandleDeleteUser)
}

type listResponse struct {
	Status string        `json:"status"`
	Total  int           `json:"total"`
	Users  []models.User `json:"users"`
}

type userDetails struct {
	models.User
	CompanyName string `json:"companyName"`
	FullAddress string `json:"fullAddress"`
}

// HandleListUsers returns the filtered and sorted view of the directory.
func (h *UserHandler) HandleListUsers(c *fiber.Ctx) error {
	key, err := query.ParseSortKey(c.Query("sort"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}
	dir, err := query.ParseSortDirection(c.Query("dir"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": err.Error()})
	}

	users, err := h.service.ListUsers(c.UserContext(), c.Query("q"), key, dir)
	if err != nil {
		return h.internalError(c, "Could not retrieve users", err)
	}

	status := "ready"
	if h.service.Loading() {
		status = "loading"
	}
	return c.JSON(listResponse{Status: status, Total: len(users), Users: users})
}

// HandleGetUser returns one user with its display fields resolved.
func (h *UserHandler) HandleGetUser(c *fiber.Ctx) error {
	id := models.ParseUserID(c.Params("id"))
	user, ok, err := h.service.GetUser(c.UserContext(), id)
	if err != nil {
		return h.internalError(c, "Could not retrieve user", err)
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"message": "User not found"})
	}

	return c.JSON(userDetails{
		User:        user,
		CompanyName: user.CompanyName(),
		FullAddress: user.Address.Format(),
	})
}

// HandleCreateUser adds a local-only user to the head of the directory.
func (h *UserHandler) HandleCreateUser(c *fiber.Ctx) error {
	var user models.User
	if err := c.BodyParser(&user); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	if strings.TrimSpace(user.CompanyName()) == "" {
		user.Company = models.DetailedCompany(models.CompanyDetail{Name: DefaultCompany})
	}
	if user.Address == nil {
		user.Address = &models.Address{}
	}

	created, err := h.service.CreateUser(c.UserContext(), user)
	if err != nil {
		return h.mutationError(c, "Could not create user", err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// HandleUpdateUser merges the supplied fields into an existing user.
// Unknown ids are ignored.
func (h *UserHandler) HandleUpdateUser(c *fiber.Ctx) error {
	var patch models.UserPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}

	id := models.ParseUserID(c.Params("id"))
	if _, err := h.service.UpdateUser(c.UserContext(), id, patch); err != nil {
		return h.mutationError(c, "Could not update user", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleDeleteUser removes a user. Only numeric ids are accepted; unknown ids are ignored.
func (h *UserHandler) HandleDeleteUser(c *fiber.Ctx) error {
	id := models.ParseUserID(c.Params("id"))
	if !id.IsNumeric() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Only numeric user ids can be deleted",
		})
	}

	if _, err := h.service.DeleteUser(c.UserContext(), id); err != nil {
		return h.internalError(c, "Could not delete user", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *UserHandler) mutationError(c *fiber.Ctx, message string, err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  verr.Fields,
		})
	}
	return h.internalError(c, message, err)
}

func (h *UserHandler) internalError(c *fiber.Ctx, message string, err error) error {
	h.logger.Error(message, "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": message,
		"error":   err.Error(),
	})
}
