package postgres

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// runMigrations applies the goose migrations to a fresh database
func runMigrations(store *PostgresStore) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return err
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(sqlDB, "../../../migrations")
}

// setupTestDB creates a test PostgreSQL instance using testcontainers
func setupTestDB(t *testing.T) (*PostgresStore, func()) {
	ctx := context.Background()

	pgContainer, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("library"),
		postgresTC.WithUsername("library"),
		postgresTC.WithPassword("library"),
		postgresTC.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	db, err := New(host, port.Int(), "library", "library", "library", "disable")
	require.NoError(t, err, "Failed to connect to PostgreSQL")

	err = runMigrations(db)
	require.NoError(t, err, "Failed to run migrations")

	cleanup := func() {
		db.Close()
		pgContainer.Terminate(ctx)
	}

	return db, cleanup
}

func testBook(title string, copies int) *models.Book {
	return &models.Book{
		ISBN:            "isbn-" + title,
		Title:           title,
		SellPrice:       decimal.NewFromInt(30),
		StockPrice:      decimal.NewFromInt(18),
		BorrowPrice:     decimal.NewFromInt(4),
		CopiesSeeded:    copies,
		CopiesAvailable: copies,
	}
}

func TestPostgresStore_UpsertBookPreservesAvailability(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	book := testBook("Dune", 5)
	require.NoError(t, db.UpsertBook(ctx, book))
	require.NotZero(t, book.ID)

	// Simulate live stock movement, then re-seed the same ISBN.
	_, err := db.AdjustBookCopies(ctx, book.ID, -2)
	require.NoError(t, err)

	reseed := testBook("Dune", 5)
	reseed.Title = "Dune (Revised)"
	require.NoError(t, db.UpsertBook(ctx, reseed))
	assert.Equal(t, book.ID, reseed.ID)

	got, err := db.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dune (Revised)", got.Title)
	assert.Equal(t, 3, got.CopiesAvailable, "re-seed must not clobber live stock")
}

func TestPostgresStore_SearchBooks(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	dune := testBook("Dune", 3)
	require.NoError(t, db.UpsertBook(ctx, dune))
	require.NoError(t, db.UpsertBook(ctx, testBook("Neuromancer", 2)))

	tag, err := db.UpsertTag(ctx, "Frank Herbert", models.TagKindAuthor)
	require.NoError(t, err)
	order := 0
	require.NoError(t, db.ReplaceBookTags(ctx, dune.ID, []models.BookTag{
		{BookID: dune.ID, TagID: tag.ID, TagOrder: &order},
	}))

	// Case-insensitive title match.
	books, total, err := db.SearchBooks(ctx, "dUnE", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)

	// Tag name match reaches the same book.
	books, total, err = db.SearchBooks(ctx, "herbert", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, books, 1)
	assert.Equal(t, "Dune", books[0].Title)
	require.Len(t, books[0].BookTags, 1)
	assert.Equal(t, "Frank Herbert", books[0].BookTags[0].Tag.Name)

	// Empty query lists everything, ordered by title.
	books, total, err = db.SearchBooks(ctx, "", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, books, 2)
	assert.Equal(t, "Dune", books[0].Title)
	assert.Equal(t, "Neuromancer", books[1].Title)
}

func TestPostgresStore_BorrowLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	book := testBook("Dune", 3)
	require.NoError(t, db.UpsertBook(ctx, book))

	user, err := db.EnsureUser(ctx, "reader@example.com")
	require.NoError(t, err)
	require.NotZero(t, user.ID)

	// EnsureUser is idempotent.
	again, err := db.EnsureUser(ctx, "reader@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	active, err := db.FindActiveBorrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	now := time.Now().UTC().Truncate(time.Second)
	borrow := &models.Borrow{
		UserID:        user.ID,
		BookID:        book.ID,
		Quantity:      1,
		BorrowedAt:    now,
		DueAt:         now.Add(72 * time.Hour),
		Status:        models.BorrowStatusBorrowed,
		PriceAtBorrow: book.BorrowPrice,
	}
	require.NoError(t, db.CreateBorrow(ctx, borrow))
	require.NotZero(t, borrow.ID)

	active, err = db.FindActiveBorrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, borrow.ID, active.ID)

	count, err := db.CountActiveBorrows(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, db.MarkBorrowReturned(ctx, borrow.ID, now.Add(time.Hour)))

	active, err = db.FindActiveBorrow(ctx, user.ID, book.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	borrows, err := db.ListBorrowsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, borrows, 1)
	assert.Equal(t, models.BorrowStatusReturned, borrows[0].Status)
	require.NotNil(t, borrows[0].ReturnedAt)
	assert.Equal(t, "Dune", borrows[0].Book.Title)

	// Returning an unknown borrow reports not found.
	err = db.MarkBorrowReturned(ctx, 999, now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPostgresStore_PurchaseAggregates(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	dune := testBook("Dune", 10)
	require.NoError(t, db.UpsertBook(ctx, dune))
	other := testBook("Neuromancer", 10)
	require.NoError(t, db.UpsertBook(ctx, other))

	user, err := db.EnsureUser(ctx, "buyer@example.com")
	require.NoError(t, err)

	price := decimal.NewFromInt(30)
	for _, purchase := range []struct {
		bookID   uint
		quantity int
	}{
		{dune.ID, 2},
		{other.ID, 1},
	} {
		require.NoError(t, db.CreateBookAction(ctx, &models.BookAction{
			Type:         models.ActionBuy,
			BookID:       purchase.bookID,
			UserID:       &user.ID,
			Quantity:     purchase.quantity,
			PricePerUnit: decimal.NewNullDecimal(price),
			Total:        decimal.NewNullDecimal(price.Mul(decimal.NewFromInt(int64(purchase.quantity)))),
		}))
	}

	perBook, err := db.SumBuyQuantity(ctx, user.ID, &dune.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, perBook)

	overall, err := db.SumBuyQuantity(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, overall)

	summaries, err := db.SummarizePurchases(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	byBook := map[uint]storage.PurchaseSummary{}
	for _, s := range summaries {
		byBook[s.BookID] = s
	}
	assert.Equal(t, 2, byBook[dune.ID].Quantity)
	assert.True(t, byBook[dune.ID].Total.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, 1, byBook[other.ID].Quantity)

	actions, total, err := db.ListBookActions(ctx, storage.ActionFilter{
		BookID:   dune.ID,
		Types:    []models.BookActionType{models.ActionBuy},
		Page:     1,
		PageSize: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].User)
	assert.Equal(t, "buyer@example.com", actions[0].User.Email)
}

func TestPostgresStore_WalletLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	wallet, err := db.EnsureWallet(ctx, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, wallet.MilestoneNotifiedAt)

	// A second EnsureWallet must not reset the balance.
	wallet, err = db.EnsureWallet(ctx, decimal.NewFromInt(999))
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(100)))

	wallet, err = db.AdjustWalletBalance(ctx, decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(104)))

	require.NoError(t, db.CreateWalletMovement(ctx, &models.WalletMovement{
		Type:      models.MovementBorrowRevenue,
		Direction: models.DirectionCredit,
		Amount:    decimal.NewFromInt(4),
		Note:      "Borrow fee",
	}))
	require.NoError(t, db.CreateWalletMovement(ctx, &models.WalletMovement{
		Type:      models.MovementRestockCost,
		Direction: models.DirectionDebit,
		Amount:    decimal.NewFromInt(18),
		Note:      "Auto restock 1 copies",
	}))

	sum, err := db.SumMovements(ctx)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(-14)))

	movements, total, err := db.ListWalletMovements(ctx, storage.MovementFilter{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, movements, 2)

	// The milestone stamp sticks to the first call.
	first := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.MarkMilestoneNotified(ctx, first))
	require.NoError(t, db.MarkMilestoneNotified(ctx, first.Add(time.Hour)))

	wallet, err = db.GetWallet(ctx)
	require.NoError(t, err)
	require.NotNil(t, wallet.MilestoneNotifiedAt)
	assert.WithinDuration(t, first, *wallet.MilestoneNotifiedAt, time.Second)
}

// TestPostgresStore_ConcurrentStockDecrements verifies the row lock taken by
// GetBookForUpdate: with 3 copies and 10 competing transactions the stock
// must land on exactly 0, never negative.
func TestPostgresStore_ConcurrentStockDecrements(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	book := testBook("Dune", 3)
	require.NoError(t, db.UpsertBook(ctx, book))

	numGoroutines := 10
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.InTransaction(ctx, func(tx storage.Store) error {
				locked, err := tx.GetBookForUpdate(ctx, book.ID)
				if err != nil {
					return err
				}
				if locked.CopiesAvailable <= 0 {
					return nil
				}
				_, err = tx.AdjustBookCopies(ctx, book.ID, -1)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	final, err := db.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, final.CopiesAvailable)
}

func TestPostgresStore_Close(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := db.Close()
	assert.NoError(t, err)
}
