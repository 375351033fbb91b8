package server

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/muhammad-Osman/library-Inventory/internal/inventory"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// UserEmailHeader carries the pre-validated actor identity.
const UserEmailHeader = "x-user-email"

// Server is the HTTP surface around the inventory engine. Routing and
// parsing only; all rules live in the engine.
type Server struct {
	app      *fiber.App
	store    storage.Store
	engine   *inventory.Service
	logger   *zap.Logger
	validate *validator.Validate
}

// New creates the HTTP server and registers all routes.
func New(store storage.Store, engine *inventory.Service, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          15 * time.Second,
	})

	s := &Server{
		app:      app,
		store:    store,
		engine:   engine,
		logger:   logger,
		validate: validator.New(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	api := s.app.Group("/api")

	user := api.Group("/user")
	user.Post("/borrow", s.handleBorrow)
	user.Post("/return", s.handleReturn)
	user.Post("/buy", s.handleBuy)

	admin := api.Group("/admin")
	admin.Get("/books/search", s.handleSearchBooks)
	admin.Get("/books/:bookId/actions", s.handleBookActions)
	admin.Get("/wallet", s.handleWallet)
	admin.Get("/wallet/movements", s.handleWalletMovements)
	admin.Get("/users/:email/books", s.handleUserBooks)
	admin.Get("/user/all", s.handleUsers)
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving HTTP on addr.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.app.ShutdownWithContext(ctx) }

// actorEmail reads the trimmed, lower-cased actor identity from the request.
// The header value aliases fasthttp's reusable request buffer, so it must be
// copied before it outlives the handler (user rows, reminder timers).
func actorEmail(c *fiber.Ctx) string {
	return strings.ToLower(strings.TrimSpace(utils.CopyString(c.Get(UserEmailHeader))))
}

func jsonOK(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{"ok": true, "data": data})
}

func jsonErr(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": fiber.Map{"code": code, "message": message},
	})
}

// writeError maps engine errors onto the response envelope. Domain errors
// keep their message; everything else is surfaced generically and logged.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	var domainErr *inventory.DomainError
	if errors.As(err, &domainErr) {
		status := fiber.StatusInternalServerError
		switch domainErr.Code {
		case inventory.CodeBadRequest:
			status = fiber.StatusBadRequest
		case inventory.CodeNotFound:
			status = fiber.StatusNotFound
		case inventory.CodeConflict:
			status = fiber.StatusConflict
		}
		return jsonErr(c, status, string(domainErr.Code), domainErr.Message)
	}

	s.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	return jsonErr(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Something went wrong")
}

// parsePage reads page/pageSize query params with the usual clamps.
func parsePage(c *fiber.Ctx) (page, pageSize int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.Query("pageSize", "20"))
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// parseTimeQuery reads an optional RFC3339 query param.
func parseTimeQuery(c *fiber.Ctx, key string) *time.Time {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func totalPages(total int64, pageSize int) int64 {
	pages := (total + int64(pageSize) - 1) / int64(pageSize)
	if pages < 1 {
		pages = 1
	}
	return pages
}
