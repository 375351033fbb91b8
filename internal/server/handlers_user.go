package server

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/muhammad-Osman/library-Inventory/internal/inventory"
)

type borrowRequest struct {
	BookID int `json:"bookId" validate:"required,gt=0"`
}

type returnRequest struct {
	BookID int `json:"bookId" validate:"required,gt=0"`
}

type buyRequest struct {
	BookID int `json:"bookId" validate:"required,gt=0"`
	// A nil quantity defaults to 1; an explicit zero or negative is rejected.
	Quantity *int `json:"quantity"`
}

func (s *Server) handleBorrow(c *fiber.Ctx) error {
	email := actorEmail(c)
	if email == "" {
		return s.writeError(c, inventory.ErrMissingActor)
	}

	var req borrowRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, inventory.ErrInvalidBookID)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.writeError(c, inventory.ErrInvalidBookID)
	}

	result, err := s.engine.Borrow(c.UserContext(), email, uint(req.BookID))
	if err != nil {
		return s.writeError(c, err)
	}

	return jsonOK(c, fiber.Map{
		"borrowId":        result.BorrowID,
		"dueAt":           result.DueAt.Format(time.RFC3339),
		"copiesAvailable": result.CopiesAvailable,
	})
}

func (s *Server) handleReturn(c *fiber.Ctx) error {
	email := actorEmail(c)
	if email == "" {
		return s.writeError(c, inventory.ErrMissingActor)
	}

	var req returnRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, inventory.ErrBookIDRequired)
	}
	if err := s.validate.Struct(req); err != nil {
		return s.writeError(c, inventory.ErrBookIDRequired)
	}

	result, err := s.engine.Return(c.UserContext(), email, uint(req.BookID))
	if err != nil {
		return s.writeError(c, err)
	}

	return jsonOK(c, fiber.Map{
		"returnedAt":      result.ReturnedAt.Format(time.RFC3339),
		"copiesAvailable": result.CopiesAvailable,
	})
}

func (s *Server) handleBuy(c *fiber.Ctx) error {
	email := actorEmail(c)
	if email == "" {
		return s.writeError(c, inventory.ErrMissingActor)
	}

	var req buyRequest
	if err := c.BodyParser(&req); err != nil {
		return s.writeError(c, inventory.ErrBookIDRequired)
	}
	if req.BookID <= 0 {
		return s.writeError(c, inventory.ErrBookIDRequired)
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	if quantity <= 0 {
		return s.writeError(c, inventory.ErrInvalidQuantity)
	}

	result, err := s.engine.Buy(c.UserContext(), email, uint(req.BookID), quantity)
	if err != nil {
		return s.writeError(c, err)
	}

	return jsonOK(c, fiber.Map{
		"quantity":        result.Quantity,
		"total":           result.Total,
		"copiesAvailable": result.CopiesAvailable,
	})
}
