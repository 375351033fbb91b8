package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage/stubs"
)

const seedJSON = `[
  {
    "title": "Dune",
    "authors": ["Frank Herbert", "frank herbert"],
    "prices": { "sell": 30.0, "stock": 18.0, "borrow": 4.0 },
    "year": 1965,
    "pages": 412,
    "publisher": "Chilton Books",
    "isbn": "978-0441013593",
    "genres": ["Science Fiction", "Classic"],
    "copies": 5
  },
  {
    "title": "Neuromancer",
    "authors": ["William Gibson"],
    "prices": { "sell": 25.0, "stock": 14.0, "borrow": 3.0 },
    "isbn": "978-0441569595",
    "genres": ["Science Fiction"],
    "copies": 3
  },
  {
    "title": "",
    "authors": [],
    "prices": { "sell": 1.0, "stock": 1.0, "borrow": 1.0 },
    "isbn": "",
    "genres": [],
    "copies": 1
  }
]`

func writeSeedFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "books.seed.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunSeedsFreshStore(t *testing.T) {
	db := stubs.NewMockDB()
	ctx := context.Background()

	require.NoError(t, Run(ctx, db, writeSeedFile(t, seedJSON), zap.NewNop()))

	// Wallet created with the opening balance.
	w, err := db.GetWallet(ctx)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(OpeningBalance))

	// The invalid entry (missing isbn and title) was skipped.
	count, err := db.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	books, _, err := db.SearchBooks(ctx, "dune", 1, 10)
	require.NoError(t, err)
	require.Len(t, books, 1)
	book := books[0]
	assert.Equal(t, 5, book.CopiesSeeded)
	assert.Equal(t, 5, book.CopiesAvailable)
	assert.True(t, book.SellPrice.Equal(decimal.NewFromFloat(30.0)))
	require.NotNil(t, book.Publisher)
	assert.Equal(t, "Chilton Books", *book.Publisher)

	// Duplicate author names collapse; genres come through.
	var authors, genres int
	for _, bt := range book.BookTags {
		switch bt.Tag.Kind {
		case models.TagKindAuthor:
			authors++
		case models.TagKindGenre:
			genres++
		}
	}
	assert.Equal(t, 1, authors)
	assert.Equal(t, 2, genres)
}

func TestRunSkipsPopulatedCatalog(t *testing.T) {
	db := stubs.NewMockDB()
	ctx := context.Background()
	path := writeSeedFile(t, seedJSON)

	require.NoError(t, Run(ctx, db, path, zap.NewNop()))
	count, err := db.CountBooks(ctx)
	require.NoError(t, err)

	// A second run is a no-op for books and the wallet.
	_, err = db.AdjustWalletBalance(ctx, decimal.NewFromInt(50))
	require.NoError(t, err)
	require.NoError(t, Run(ctx, db, path, zap.NewNop()))

	again, err := db.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, again)

	w, err := db.GetWallet(ctx)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(OpeningBalance.Add(decimal.NewFromInt(50))))
}

func TestRunMissingFile(t *testing.T) {
	db := stubs.NewMockDB()

	err := Run(context.Background(), db, filepath.Join(t.TempDir(), "absent.json"), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read seed file")
}
