package stubs

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

func seedBook(t *testing.T, db *MockDB, title string, copies int) *models.Book {
	t.Helper()

	book := &models.Book{
		ISBN:            "isbn-" + title,
		Title:           title,
		SellPrice:       decimal.NewFromInt(30),
		StockPrice:      decimal.NewFromInt(18),
		BorrowPrice:     decimal.NewFromInt(4),
		CopiesSeeded:    copies,
		CopiesAvailable: copies,
	}
	if err := db.UpsertBook(context.Background(), book); err != nil {
		t.Fatalf("Failed to upsert book: %v", err)
	}
	return book
}

func TestMockDB_UpsertBookPreservesAvailability(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	book := seedBook(t, db, "Dune", 5)
	if _, err := db.AdjustBookCopies(ctx, book.ID, -2); err != nil {
		t.Fatalf("Failed to adjust copies: %v", err)
	}

	// Re-seeding the same ISBN updates metadata but keeps current stock.
	update := &models.Book{
		ISBN:            book.ISBN,
		Title:           "Dune (2nd ed)",
		SellPrice:       decimal.NewFromInt(35),
		StockPrice:      decimal.NewFromInt(20),
		BorrowPrice:     decimal.NewFromInt(5),
		CopiesSeeded:    5,
		CopiesAvailable: 5,
	}
	if err := db.UpsertBook(ctx, update); err != nil {
		t.Fatalf("Failed to upsert existing book: %v", err)
	}
	if update.ID != book.ID {
		t.Errorf("Expected upsert to reuse ID %d, got %d", book.ID, update.ID)
	}

	got, err := db.GetBook(ctx, book.ID)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if got.Title != "Dune (2nd ed)" {
		t.Errorf("Expected updated title, got %q", got.Title)
	}
	if got.CopiesAvailable != 3 {
		t.Errorf("Expected availability preserved at 3, got %d", got.CopiesAvailable)
	}
}

func TestMockDB_GetBookNotFound(t *testing.T) {
	db := NewMockDB()

	if _, err := db.GetBook(context.Background(), 999); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMockDB_SearchBooks(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	dune := seedBook(t, db, "Dune", 5)
	seedBook(t, db, "Neuromancer", 3)
	seedBook(t, db, "Duma Key", 2)

	tag, err := db.UpsertTag(ctx, "Frank Herbert", models.TagKindAuthor)
	if err != nil {
		t.Fatalf("Failed to upsert tag: %v", err)
	}
	order := 1
	if err := db.ReplaceBookTags(ctx, dune.ID, []models.BookTag{{BookID: dune.ID, TagID: tag.ID, TagOrder: &order}}); err != nil {
		t.Fatalf("Failed to replace book tags: %v", err)
	}

	// Title substring match, case-insensitive.
	books, total, err := db.SearchBooks(ctx, "du", 1, 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if total != 2 || len(books) != 2 {
		t.Fatalf("Expected 2 matches for 'du', got total=%d len=%d", total, len(books))
	}
	// Results are sorted by title.
	if books[0].Title != "Duma Key" || books[1].Title != "Dune" {
		t.Errorf("Expected sorted results, got %q then %q", books[0].Title, books[1].Title)
	}

	// Tag match.
	books, total, err = db.SearchBooks(ctx, "herbert", 1, 10)
	if err != nil {
		t.Fatalf("Failed to search by tag: %v", err)
	}
	if total != 1 || books[0].Title != "Dune" {
		t.Errorf("Expected Dune via author tag, got total=%d", total)
	}

	// Empty query returns everything, paginated.
	books, total, err = db.SearchBooks(ctx, "", 1, 2)
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if total != 3 || len(books) != 2 {
		t.Errorf("Expected total=3 page of 2, got total=%d len=%d", total, len(books))
	}
}

func TestMockDB_SumBuyQuantity(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	book1 := seedBook(t, db, "Dune", 10)
	book2 := seedBook(t, db, "Neuromancer", 10)
	user, err := db.EnsureUser(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("Failed to ensure user: %v", err)
	}

	addBuy := func(bookID uint, qty int) {
		if err := db.CreateBookAction(ctx, &models.BookAction{
			Type: models.ActionBuy, BookID: bookID, UserID: &user.ID, Quantity: qty,
		}); err != nil {
			t.Fatalf("Failed to create action: %v", err)
		}
	}
	addBuy(book1.ID, 2)
	addBuy(book2.ID, 1)

	// Non-BUY rows are ignored.
	if err := db.CreateBookAction(ctx, &models.BookAction{
		Type: models.ActionBorrow, BookID: book1.ID, UserID: &user.ID, Quantity: 1,
	}); err != nil {
		t.Fatalf("Failed to create borrow action: %v", err)
	}

	perBook, err := db.SumBuyQuantity(ctx, user.ID, &book1.ID)
	if err != nil {
		t.Fatalf("Failed to sum per book: %v", err)
	}
	if perBook != 2 {
		t.Errorf("Expected per-book sum 2, got %d", perBook)
	}

	total, err := db.SumBuyQuantity(ctx, user.ID, nil)
	if err != nil {
		t.Fatalf("Failed to sum total: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected total sum 3, got %d", total)
	}

	other, err := db.EnsureUser(ctx, "other@example.com")
	if err != nil {
		t.Fatalf("Failed to ensure other user: %v", err)
	}
	if sum, _ := db.SumBuyQuantity(ctx, other.ID, nil); sum != 0 {
		t.Errorf("Expected 0 for other user, got %d", sum)
	}
}

func TestMockDB_WalletLifecycle(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if _, err := db.GetWallet(ctx); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound before EnsureWallet, got %v", err)
	}

	w, err := db.EnsureWallet(ctx, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("Failed to ensure wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected opening balance 100, got %s", w.Balance)
	}

	// EnsureWallet is idempotent.
	w, err = db.EnsureWallet(ctx, decimal.NewFromInt(999))
	if err != nil {
		t.Fatalf("Failed on second EnsureWallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected balance unchanged at 100, got %s", w.Balance)
	}

	if _, err := db.AdjustWalletBalance(ctx, decimal.NewFromInt(-30)); err != nil {
		t.Fatalf("Failed to adjust balance: %v", err)
	}
	w, _ = db.GetWallet(ctx)
	if !w.Balance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("Expected balance 70, got %s", w.Balance)
	}

	// Milestone timestamp is set once and never overwritten.
	first := time.Now().Add(-time.Hour)
	if err := db.MarkMilestoneNotified(ctx, first); err != nil {
		t.Fatalf("Failed to mark milestone: %v", err)
	}
	if err := db.MarkMilestoneNotified(ctx, time.Now()); err != nil {
		t.Fatalf("Failed on second mark: %v", err)
	}
	w, _ = db.GetWallet(ctx)
	if w.MilestoneNotifiedAt == nil || !w.MilestoneNotifiedAt.Equal(first) {
		t.Errorf("Expected first milestone timestamp preserved")
	}
}

func TestMockDB_SumMovements(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()

	if _, err := db.EnsureWallet(ctx, decimal.Zero); err != nil {
		t.Fatalf("Failed to ensure wallet: %v", err)
	}

	add := func(direction models.MovementDirection, amount int64) {
		if err := db.CreateWalletMovement(ctx, &models.WalletMovement{
			Type:      models.MovementAdjustment,
			Direction: direction,
			Amount:    decimal.NewFromInt(amount),
		}); err != nil {
			t.Fatalf("Failed to create movement: %v", err)
		}
	}
	add(models.DirectionCredit, 100)
	add(models.DirectionDebit, 30)
	add(models.DirectionCredit, 5)

	sum, err := db.SumMovements(ctx)
	if err != nil {
		t.Fatalf("Failed to sum movements: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(75)) {
		t.Errorf("Expected signed sum 75, got %s", sum)
	}
}

func TestMockDB_NestedTransaction(t *testing.T) {
	db := NewMockDB()
	ctx := context.Background()
	seedBook(t, db, "Dune", 5)

	// A nested InTransaction must run inline instead of deadlocking on
	// the transaction mutex.
	done := make(chan error, 1)
	go func() {
		done <- db.InTransaction(ctx, func(tx storage.Store) error {
			return tx.InTransaction(ctx, func(inner storage.Store) error {
				_, err := inner.AdjustBookCopies(ctx, 1, -1)
				return err
			})
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Transaction failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Nested transaction deadlocked")
	}

	book, err := db.GetBook(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to get book: %v", err)
	}
	if book.CopiesAvailable != 4 {
		t.Errorf("Expected 4 copies, got %d", book.CopiesAvailable)
	}
}
