package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// ActionFilter narrows audit log queries.
type ActionFilter struct {
	BookID    uint
	Types     []models.BookActionType
	UserEmail string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// MovementFilter narrows wallet movement queries.
type MovementFilter struct {
	Types    []models.MovementType
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

// PurchaseSummary aggregates a user's BUY actions for one book.
type PurchaseSummary struct {
	BookID          uint
	Quantity        int
	Total           decimal.Decimal
	LastPurchasedAt *time.Time
}

// Store defines the interface for data storage operations.
//
// InTransaction runs fn against a Store view bound to one atomic unit; every
// write inside fn is committed or rolled back together. The ForUpdate
// variants must lock the row for the remainder of the transaction so that
// check-then-act sequences (stock checks, borrow counts, purchase caps)
// cannot race between two concurrent transactions.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error

	// Book operations
	GetBook(ctx context.Context, id uint) (*models.Book, error)
	GetBookForUpdate(ctx context.Context, id uint) (*models.Book, error)
	AdjustBookCopies(ctx context.Context, id uint, delta int) (*models.Book, error)
	SearchBooks(ctx context.Context, query string, page, pageSize int) ([]models.Book, int64, error)
	CountBooks(ctx context.Context) (int64, error)
	UpsertBook(ctx context.Context, book *models.Book) error
	UpsertTag(ctx context.Context, name string, kind models.TagKind) (*models.Tag, error)
	ReplaceBookTags(ctx context.Context, bookID uint, tags []models.BookTag) error

	// User operations
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	EnsureUser(ctx context.Context, email string) (*models.User, error)
	GetUserForUpdate(ctx context.Context, id uint) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	// Borrow operations
	FindActiveBorrow(ctx context.Context, userID, bookID uint) (*models.Borrow, error)
	CountActiveBorrows(ctx context.Context, userID uint) (int64, error)
	CreateBorrow(ctx context.Context, borrow *models.Borrow) error
	MarkBorrowReturned(ctx context.Context, borrowID uint, at time.Time) error
	ListBorrowsByUser(ctx context.Context, userID uint) ([]models.Borrow, error)

	// Activity log operations
	CreateBookAction(ctx context.Context, action *models.BookAction) error
	SumBuyQuantity(ctx context.Context, userID uint, bookID *uint) (int, error)
	ListBookActions(ctx context.Context, filter ActionFilter) ([]models.BookAction, int64, error)
	SummarizePurchases(ctx context.Context, userID uint) ([]PurchaseSummary, error)

	// Wallet operations
	EnsureWallet(ctx context.Context, openingBalance decimal.Decimal) (*models.Wallet, error)
	GetWallet(ctx context.Context) (*models.Wallet, error)
	AdjustWalletBalance(ctx context.Context, delta decimal.Decimal) (*models.Wallet, error)
	MarkMilestoneNotified(ctx context.Context, at time.Time) error
	CreateWalletMovement(ctx context.Context, movement *models.WalletMovement) error
	ListWalletMovements(ctx context.Context, filter MovementFilter) ([]models.WalletMovement, int64, error)
	SumMovements(ctx context.Context) (decimal.Decimal, error)

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
