package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
	"github.com/muhammad-Osman/library-Inventory/internal/wallet"
)

const (
	// MaxActiveBorrows is the cap on simultaneous BORROWED rows per user.
	MaxActiveBorrows = 3
	// MaxBuyPerBook is the cumulative BUY cap per (user, book).
	MaxBuyPerBook = 2
	// MaxBuyTotal is the cumulative BUY cap per user across all books.
	MaxBuyTotal = 10
	// lowStockThreshold triggers the restock flow when a decrement lands on it.
	lowStockThreshold = 1

	// DefaultLoanPeriod is how long a borrow lasts before it is due.
	DefaultLoanPeriod = 3 * 24 * time.Hour
	// DefaultRestockDelay simulates procurement lag before a restock lands.
	DefaultRestockDelay = time.Hour

	// SupplyEmail receives restock notifications.
	SupplyEmail = "supply@library.com"
)

// Scheduler is the deferred-action registry the engine pushes timers to.
// It is injected so tests can substitute a recorder and so the engine never
// depends on the timer implementation.
type Scheduler interface {
	ScheduleReturnReminder(borrowID uint, userEmail string, bookID uint, dueAt time.Time)
	CancelReturnReminder(borrowID uint)
	ScheduleRestock(bookID uint, delay time.Duration)
}

// Service enforces borrow/buy/return eligibility and keeps stock, the
// activity log and the wallet mutually consistent. Every state transition
// runs as one store transaction; timers and notifications happen after
// commit and are best-effort.
type Service struct {
	store        storage.Store
	ledger       *wallet.Ledger
	sched        Scheduler
	logger       *zap.Logger
	loanPeriod   time.Duration
	restockDelay time.Duration
}

// Config overrides the engine's timing defaults. Zero values keep them.
type Config struct {
	LoanPeriod   time.Duration
	RestockDelay time.Duration
}

// NewService creates the inventory engine.
func NewService(store storage.Store, ledger *wallet.Ledger, sched Scheduler, logger *zap.Logger, cfg Config) *Service {
	if cfg.LoanPeriod <= 0 {
		cfg.LoanPeriod = DefaultLoanPeriod
	}
	if cfg.RestockDelay <= 0 {
		cfg.RestockDelay = DefaultRestockDelay
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		sched:        sched,
		logger:       logger,
		loanPeriod:   cfg.LoanPeriod,
		restockDelay: cfg.RestockDelay,
	}
}

// BorrowResult reports a successful borrow.
type BorrowResult struct {
	BorrowID        uint
	DueAt           time.Time
	CopiesAvailable int
}

// BuyResult reports a successful purchase.
type BuyResult struct {
	Quantity        int
	Total           decimal.Decimal
	CopiesAvailable int
}

// ReturnResult reports a successful return.
type ReturnResult struct {
	ReturnedAt      time.Time
	CopiesAvailable int
}

// Borrow lends one copy of the book to the actor. The stock check, the
// duplicate-borrow check and the active-borrow cap are all evaluated inside
// the same transaction as the decrement, against locked rows, so two
// concurrent requests cannot both pass a stale check.
func (s *Service) Borrow(ctx context.Context, userEmail string, bookID uint) (*BorrowResult, error) {
	if userEmail == "" {
		return nil, ErrMissingActor
	}
	if bookID == 0 {
		return nil, ErrInvalidBookID
	}

	var (
		result           BorrowResult
		becameLow        bool
		milestoneCrossed bool
	)
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		book, err := tx.GetBookForUpdate(ctx, bookID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load book: %w", err)
		}
		if book.CopiesAvailable <= 0 {
			return ErrNoCopies
		}

		user, err := tx.EnsureUser(ctx, userEmail)
		if err != nil {
			return fmt.Errorf("failed to resolve user: %w", err)
		}
		// Lock the user row so concurrent borrows by the same user
		// serialize on the limit checks below.
		if _, err := tx.GetUserForUpdate(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		active, err := tx.FindActiveBorrow(ctx, user.ID, book.ID)
		if err != nil {
			return fmt.Errorf("failed to check active borrow: %w", err)
		}
		if active != nil {
			return ErrAlreadyBorrowed
		}
		activeCount, err := tx.CountActiveBorrows(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to count active borrows: %w", err)
		}
		if activeCount >= MaxActiveBorrows {
			return ErrBorrowLimit
		}

		now := time.Now()
		dueAt := now.Add(s.loanPeriod)

		updated, err := tx.AdjustBookCopies(ctx, book.ID, -1)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}

		borrow := &models.Borrow{
			UserID:        user.ID,
			BookID:        book.ID,
			Quantity:      1,
			BorrowedAt:    now,
			DueAt:         dueAt,
			Status:        models.BorrowStatusBorrowed,
			PriceAtBorrow: book.BorrowPrice,
		}
		if err := tx.CreateBorrow(ctx, borrow); err != nil {
			return fmt.Errorf("failed to create borrow: %w", err)
		}

		action := &models.BookAction{
			Type:         models.ActionBorrow,
			BookID:       book.ID,
			UserID:       &user.ID,
			Quantity:     1,
			PricePerUnit: decimal.NewNullDecimal(book.BorrowPrice),
			Total:        decimal.NewNullDecimal(book.BorrowPrice),
			DueAt:        &dueAt,
		}
		if err := tx.CreateBookAction(ctx, action); err != nil {
			return fmt.Errorf("failed to log borrow action: %w", err)
		}

		milestoneCrossed, err = s.ledger.CreditBorrowRevenue(ctx, tx, book.BorrowPrice, book.ID, user.ID)
		if err != nil {
			return err
		}

		result = BorrowResult{
			BorrowID:        borrow.ID,
			DueAt:           dueAt,
			CopiesAvailable: updated.CopiesAvailable,
		}
		becameLow = updated.CopiesAvailable == lowStockThreshold
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The request has succeeded; everything below is fire-and-forget.
	s.sched.ScheduleReturnReminder(result.BorrowID, userEmail, bookID, result.DueAt)
	if becameLow {
		s.requestRestock(ctx, bookID)
	}
	if milestoneCrossed {
		s.ledger.AnnounceMilestone(ctx)
	}

	return &result, nil
}

// Buy sells quantity copies of the book to the actor. The purchase caps are
// computed from BUY rows in the activity log inside the same transaction as
// the decrement.
func (s *Service) Buy(ctx context.Context, userEmail string, bookID uint, quantity int) (*BuyResult, error) {
	if userEmail == "" {
		return nil, ErrMissingActor
	}
	if bookID == 0 {
		return nil, ErrInvalidBookID
	}
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var (
		result    BuyResult
		becameLow bool
	)
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		book, err := tx.GetBookForUpdate(ctx, bookID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrBookNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load book: %w", err)
		}
		if book.CopiesAvailable < quantity {
			return ErrInsufficientStock
		}

		user, err := tx.EnsureUser(ctx, userEmail)
		if err != nil {
			return fmt.Errorf("failed to resolve user: %w", err)
		}
		if _, err := tx.GetUserForUpdate(ctx, user.ID); err != nil {
			return fmt.Errorf("failed to lock user: %w", err)
		}

		sameBook, err := tx.SumBuyQuantity(ctx, user.ID, &book.ID)
		if err != nil {
			return fmt.Errorf("failed to sum per-book purchases: %w", err)
		}
		if sameBook+quantity > MaxBuyPerBook {
			return ErrPerBookBuyLimit
		}
		total, err := tx.SumBuyQuantity(ctx, user.ID, nil)
		if err != nil {
			return fmt.Errorf("failed to sum total purchases: %w", err)
		}
		if total+quantity > MaxBuyTotal {
			return ErrTotalBuyLimit
		}

		totalCost := book.SellPrice.Mul(decimal.NewFromInt(int64(quantity)))

		updated, err := tx.AdjustBookCopies(ctx, book.ID, -quantity)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}

		action := &models.BookAction{
			Type:         models.ActionBuy,
			BookID:       book.ID,
			UserID:       &user.ID,
			Quantity:     quantity,
			PricePerUnit: decimal.NewNullDecimal(book.SellPrice),
			Total:        decimal.NewNullDecimal(totalCost),
		}
		if err := tx.CreateBookAction(ctx, action); err != nil {
			return fmt.Errorf("failed to log buy action: %w", err)
		}

		if err := s.ledger.CreditSellRevenue(ctx, tx, totalCost, book.ID, user.ID, quantity); err != nil {
			return err
		}

		result = BuyResult{
			Quantity:        quantity,
			Total:           totalCost,
			CopiesAvailable: updated.CopiesAvailable,
		}
		becameLow = updated.CopiesAvailable == lowStockThreshold
		return nil
	})
	if err != nil {
		return nil, err
	}

	if becameLow {
		s.requestRestock(ctx, bookID)
	}

	return &result, nil
}

// Return closes the actor's active borrow of the book and cancels its
// pending reminder.
func (s *Service) Return(ctx context.Context, userEmail string, bookID uint) (*ReturnResult, error) {
	if userEmail == "" {
		return nil, ErrMissingActor
	}
	if bookID == 0 {
		return nil, ErrInvalidBookID
	}

	var (
		result   ReturnResult
		borrowID uint
	)
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		user, err := tx.GetUserByEmail(ctx, userEmail)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}

		borrow, err := tx.FindActiveBorrow(ctx, user.ID, bookID)
		if err != nil {
			return fmt.Errorf("failed to find active borrow: %w", err)
		}
		if borrow == nil {
			return ErrNoActiveBorrow
		}

		now := time.Now()
		if err := tx.MarkBorrowReturned(ctx, borrow.ID, now); err != nil {
			return fmt.Errorf("failed to mark borrow returned: %w", err)
		}

		updated, err := tx.AdjustBookCopies(ctx, borrow.BookID, 1)
		if err != nil {
			return fmt.Errorf("failed to increment stock: %w", err)
		}

		dueAt := borrow.DueAt
		action := &models.BookAction{
			Type:     models.ActionReturn,
			BookID:   borrow.BookID,
			UserID:   &user.ID,
			Quantity: 1,
			DueAt:    &dueAt,
			Meta:     datatypes.JSONMap{"borrowId": borrow.ID},
		}
		if err := tx.CreateBookAction(ctx, action); err != nil {
			return fmt.Errorf("failed to log return action: %w", err)
		}

		borrowID = borrow.ID
		result = ReturnResult{ReturnedAt: now, CopiesAvailable: updated.CopiesAvailable}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sched.CancelReturnReminder(borrowID)

	return &result, nil
}

// requestRestock runs after a commit left exactly one copy on the shelf. It
// appends the RESTOCK_REQUESTED audit record and arms the restock timer.
// Failures are logged and dropped; the originating request already
// succeeded.
func (s *Service) requestRestock(ctx context.Context, bookID uint) {
	action := &models.BookAction{
		Type:   models.ActionRestockRequested,
		BookID: bookID,
		Meta: datatypes.JSONMap{
			"requestedAt": time.Now().Format(time.RFC3339),
			"reason":      "Low stock reached 1",
		},
	}
	if err := s.store.CreateBookAction(ctx, action); err != nil {
		s.logger.Error("Failed to log restock request", zap.Uint("book_id", bookID), zap.Error(err))
	}
	s.logger.Info("Restock requested",
		zap.Uint("book_id", bookID),
		zap.String("supply", SupplyEmail),
	)
	s.sched.ScheduleRestock(bookID, s.restockDelay)
}
