// Package seed loads the initial catalog and wallet on a fresh database.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// OpeningBalance is the wallet balance a fresh deployment starts with.
var OpeningBalance = decimal.NewFromInt(100)

type seedBook struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Prices  struct {
		Sell   decimal.Decimal `json:"sell"`
		Stock  decimal.Decimal `json:"stock"`
		Borrow decimal.Decimal `json:"borrow"`
	} `json:"prices"`
	Year      *int     `json:"year"`
	Pages     *int     `json:"pages"`
	Publisher string   `json:"publisher"`
	ISBN      string   `json:"isbn"`
	Genres    []string `json:"genres"`
	Copies    int      `json:"copies"`
}

// Run ensures the singleton wallet exists and, when the catalog is empty,
// loads books from the given JSON file. A non-empty catalog is left alone so
// restarts never duplicate stock.
func Run(ctx context.Context, store storage.Store, path string, logger *zap.Logger) error {
	if _, err := store.EnsureWallet(ctx, OpeningBalance); err != nil {
		return fmt.Errorf("ensure wallet: %w", err)
	}

	count, err := store.CountBooks(ctx)
	if err != nil {
		return fmt.Errorf("count books: %w", err)
	}
	if count > 0 {
		logger.Debug("seed skipped, catalog already populated", zap.Int64("books", count))
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file %s: %w", path, err)
	}
	var entries []seedBook
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	seeded := 0
	for _, entry := range entries {
		if err := seedOne(ctx, store, entry); err != nil {
			logger.Warn("skipping seed entry",
				zap.String("isbn", entry.ISBN),
				zap.String("title", entry.Title),
				zap.Error(err))
			continue
		}
		seeded++
	}
	logger.Info("catalog seeded", zap.Int("books", seeded))
	return nil
}

func seedOne(ctx context.Context, store storage.Store, entry seedBook) error {
	if strings.TrimSpace(entry.ISBN) == "" || strings.TrimSpace(entry.Title) == "" {
		return fmt.Errorf("isbn and title are required")
	}
	return store.InTransaction(ctx, func(tx storage.Store) error {
		book := &models.Book{
			ISBN:            strings.TrimSpace(entry.ISBN),
			Title:           strings.TrimSpace(entry.Title),
			Year:            entry.Year,
			Pages:           entry.Pages,
			SellPrice:       entry.Prices.Sell,
			StockPrice:      entry.Prices.Stock,
			BorrowPrice:     entry.Prices.Borrow,
			CopiesSeeded:    entry.Copies,
			CopiesAvailable: entry.Copies,
		}
		if publisher := strings.TrimSpace(entry.Publisher); publisher != "" {
			book.Publisher = &publisher
		}
		if err := tx.UpsertBook(ctx, book); err != nil {
			return err
		}

		var tags []models.BookTag
		order := 0
		for _, name := range dedupe(entry.Authors) {
			tag, err := tx.UpsertTag(ctx, name, models.TagKindAuthor)
			if err != nil {
				return err
			}
			order++
			pos := order
			tags = append(tags, models.BookTag{BookID: book.ID, TagID: tag.ID, TagOrder: &pos})
		}
		for _, name := range dedupe(entry.Genres) {
			tag, err := tx.UpsertTag(ctx, name, models.TagKindGenre)
			if err != nil {
				return err
			}
			tags = append(tags, models.BookTag{BookID: book.ID, TagID: tag.ID})
		}
		return tx.ReplaceBookTags(ctx, book.ID, tags)
	})
}

// dedupe trims names and drops case-insensitive duplicates while keeping
// the original order.
func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}
