package server

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

type bookListItem struct {
	ID              uint            `json:"id"`
	ISBN            string          `json:"isbn"`
	Title           string          `json:"title"`
	Year            *int            `json:"year"`
	Pages           *int            `json:"pages"`
	Publisher       *string         `json:"publisher"`
	Authors         []string        `json:"authors"`
	Genres          []string        `json:"genres"`
	SellPrice       decimal.Decimal `json:"sellPrice"`
	StockPrice      decimal.Decimal `json:"stockPrice"`
	BorrowPrice     decimal.Decimal `json:"borrowPrice"`
	CopiesSeeded    int             `json:"copiesSeeded"`
	CopiesAvailable int             `json:"copiesAvailable"`
}

func toBookListItem(book models.Book) bookListItem {
	item := bookListItem{
		ID:              book.ID,
		ISBN:            book.ISBN,
		Title:           book.Title,
		Year:            book.Year,
		Pages:           book.Pages,
		Publisher:       book.Publisher,
		Authors:         []string{},
		Genres:          []string{},
		SellPrice:       book.SellPrice,
		StockPrice:      book.StockPrice,
		BorrowPrice:     book.BorrowPrice,
		CopiesSeeded:    book.CopiesSeeded,
		CopiesAvailable: book.CopiesAvailable,
	}
	// Author tags keep their seeded order; genres follow as-is.
	authors := make([]models.BookTag, 0, len(book.BookTags))
	for _, bt := range book.BookTags {
		switch bt.Tag.Kind {
		case models.TagKindAuthor:
			authors = append(authors, bt)
		case models.TagKindGenre:
			item.Genres = append(item.Genres, bt.Tag.Name)
		}
	}
	for i := 1; i <= len(authors); i++ {
		for _, bt := range authors {
			if bt.TagOrder != nil && *bt.TagOrder == i {
				item.Authors = append(item.Authors, bt.Tag.Name)
			}
		}
	}
	if len(item.Authors) != len(authors) {
		item.Authors = item.Authors[:0]
		for _, bt := range authors {
			item.Authors = append(item.Authors, bt.Tag.Name)
		}
	}
	return item
}

func (s *Server) handleSearchBooks(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	page, pageSize := parsePage(c)

	books, total, err := s.store.SearchBooks(c.UserContext(), query, page, pageSize)
	if err != nil {
		return s.writeError(c, err)
	}

	items := make([]bookListItem, 0, len(books))
	for _, book := range books {
		items = append(items, toBookListItem(book))
	}

	return c.JSON(fiber.Map{
		"ok":   true,
		"data": items,
		"meta": fiber.Map{
			"page":       page,
			"pageSize":   pageSize,
			"total":      total,
			"totalPages": totalPages(total, pageSize),
			"q":          query,
		},
	})
}

func (s *Server) handleBookActions(c *fiber.Ctx) error {
	bookID, err := strconv.Atoi(c.Params("bookId"))
	if err != nil || bookID <= 0 {
		return jsonErr(c, fiber.StatusBadRequest, "BAD_REQUEST", "Invalid bookId")
	}

	page, pageSize := parsePage(c)
	filter := storage.ActionFilter{
		BookID:    uint(bookID),
		Types:     parseActionTypes(c.Query("type")),
		UserEmail: strings.TrimSpace(c.Query("userEmail")),
		From:      parseTimeQuery(c, "from"),
		To:        parseTimeQuery(c, "to"),
		Page:      page,
		PageSize:  pageSize,
	}

	actions, total, err := s.store.ListBookActions(c.UserContext(), filter)
	if err != nil {
		return s.writeError(c, err)
	}

	items := make([]fiber.Map, 0, len(actions))
	for _, action := range actions {
		item := fiber.Map{
			"id":        action.ID,
			"type":      action.Type,
			"bookId":    action.BookID,
			"quantity":  action.Quantity,
			"meta":      action.Meta,
			"createdAt": action.CreatedAt.Format(time.RFC3339),
		}
		if action.PricePerUnit.Valid {
			item["pricePerUnit"] = action.PricePerUnit.Decimal
		}
		if action.Total.Valid {
			item["total"] = action.Total.Decimal
		}
		if action.DueAt != nil {
			item["dueAt"] = action.DueAt.Format(time.RFC3339)
		}
		if action.User != nil {
			item["userEmail"] = action.User.Email
		}
		items = append(items, item)
	}

	return jsonOK(c, fiber.Map{
		"items":      items,
		"page":       page,
		"pageSize":   pageSize,
		"total":      total,
		"totalPages": totalPages(total, pageSize),
	})
}

func parseActionTypes(raw string) []models.BookActionType {
	known := map[string]models.BookActionType{
		"BORROW":            models.ActionBorrow,
		"RETURN":            models.ActionReturn,
		"BUY":               models.ActionBuy,
		"RESTOCK_REQUESTED": models.ActionRestockRequested,
		"RESTOCKED":         models.ActionRestocked,
		"REMINDER_SENT":     models.ActionReminderSent,
	}
	var types []models.BookActionType
	for _, part := range strings.Split(raw, ",") {
		if t, ok := known[strings.TrimSpace(part)]; ok {
			types = append(types, t)
		}
	}
	return types
}

func parseMovementTypes(raw string) []models.MovementType {
	known := map[string]models.MovementType{
		"SELL_REVENUE":   models.MovementSellRevenue,
		"BORROW_REVENUE": models.MovementBorrowRevenue,
		"STOCK_PURCHASE": models.MovementStockPurchase,
		"RESTOCK_COST":   models.MovementRestockCost,
		"ADJUSTMENT":     models.MovementAdjustment,
	}
	var types []models.MovementType
	for _, part := range strings.Split(raw, ",") {
		if t, ok := known[strings.TrimSpace(part)]; ok {
			types = append(types, t)
		}
	}
	return types
}

func (s *Server) handleWallet(c *fiber.Ctx) error {
	wallet, err := s.store.GetWallet(c.UserContext())
	if errors.Is(err, storage.ErrNotFound) {
		return jsonErr(c, fiber.StatusNotFound, "NOT_FOUND", "Wallet not found")
	}
	if err != nil {
		return s.writeError(c, err)
	}

	var milestone *string
	if wallet.MilestoneNotifiedAt != nil {
		formatted := wallet.MilestoneNotifiedAt.Format(time.RFC3339)
		milestone = &formatted
	}
	return jsonOK(c, fiber.Map{
		"balance":             wallet.Balance,
		"milestoneNotifiedAt": milestone,
	})
}

func (s *Server) handleWalletMovements(c *fiber.Ctx) error {
	page, pageSize := parsePage(c)
	filter := storage.MovementFilter{
		Types:    parseMovementTypes(c.Query("type")),
		From:     parseTimeQuery(c, "from"),
		To:       parseTimeQuery(c, "to"),
		Page:     page,
		PageSize: pageSize,
	}

	movements, total, err := s.store.ListWalletMovements(c.UserContext(), filter)
	if err != nil {
		return s.writeError(c, err)
	}

	items := make([]fiber.Map, 0, len(movements))
	for _, movement := range movements {
		item := fiber.Map{
			"id":        movement.ID,
			"type":      movement.Type,
			"direction": movement.Direction,
			"amount":    movement.Amount,
			"note":      movement.Note,
			"createdAt": movement.CreatedAt.Format(time.RFC3339),
		}
		if movement.Book != nil {
			item["book"] = fiber.Map{"id": movement.Book.ID, "title": movement.Book.Title}
		} else {
			item["book"] = nil
		}
		if movement.User != nil {
			item["userEmail"] = movement.User.Email
		} else {
			item["userEmail"] = nil
		}
		items = append(items, item)
	}

	return jsonOK(c, fiber.Map{
		"items":      items,
		"page":       page,
		"pageSize":   pageSize,
		"total":      total,
		"totalPages": totalPages(total, pageSize),
	})
}

func (s *Server) handleUserBooks(c *fiber.Ctx) error {
	raw, err := url.PathUnescape(c.Params("email"))
	if err != nil {
		raw = c.Params("email")
	}
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return jsonErr(c, fiber.StatusBadRequest, "BAD_REQUEST", "Email is required in path")
	}

	ctx := c.UserContext()
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return jsonOK(c, fiber.Map{"borrowed": []fiber.Map{}, "bought": []fiber.Map{}})
	}
	if err != nil {
		return s.writeError(c, err)
	}

	borrows, err := s.store.ListBorrowsByUser(ctx, user.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	borrowed := make([]fiber.Map, 0, len(borrows))
	for _, borrow := range borrows {
		item := fiber.Map{
			"book":       fiber.Map{"id": borrow.Book.ID, "title": borrow.Book.Title},
			"status":     borrow.Status,
			"borrowedAt": borrow.BorrowedAt.Format(time.RFC3339),
			"dueAt":      borrow.DueAt.Format(time.RFC3339),
		}
		if borrow.ReturnedAt != nil {
			item["returnedAt"] = borrow.ReturnedAt.Format(time.RFC3339)
		} else {
			item["returnedAt"] = nil
		}
		borrowed = append(borrowed, item)
	}

	purchases, err := s.store.SummarizePurchases(ctx, user.ID)
	if err != nil {
		return s.writeError(c, err)
	}
	bought := make([]fiber.Map, 0, len(purchases))
	for _, purchase := range purchases {
		item := fiber.Map{
			"quantity": purchase.Quantity,
			"total":    purchase.Total,
		}
		if book, err := s.store.GetBook(ctx, purchase.BookID); err == nil {
			item["book"] = fiber.Map{"id": book.ID, "title": book.Title}
		} else {
			item["book"] = nil
		}
		if purchase.LastPurchasedAt != nil {
			item["lastPurchasedAt"] = purchase.LastPurchasedAt.Format(time.RFC3339)
		} else {
			item["lastPurchasedAt"] = nil
		}
		bought = append(bought, item)
	}

	return jsonOK(c, fiber.Map{"borrowed": borrowed, "bought": bought})
}

func (s *Server) handleUsers(c *fiber.Ctx) error {
	users, err := s.store.ListUsers(c.UserContext())
	if err != nil {
		return s.writeError(c, err)
	}

	items := make([]fiber.Map, 0, len(users))
	for _, user := range users {
		items = append(items, fiber.Map{
			"id":        user.ID,
			"email":     user.Email,
			"createdAt": user.CreatedAt.Format(time.RFC3339),
		})
	}
	return jsonOK(c, items)
}
