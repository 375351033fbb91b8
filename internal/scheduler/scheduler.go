package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/notify"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
	"github.com/muhammad-Osman/library-Inventory/internal/wallet"
)

// SupplyEmail receives restock completion notifications.
const SupplyEmail = "supply@library.com"

// Scheduler holds the in-memory deferred actions: return reminders keyed by
// borrow id and restock jobs keyed by book id. At most one timer exists per
// key; re-registration supersedes, cancellation is idempotent. Timers live
// only as long as the process.
type Scheduler struct {
	store    storage.Store
	ledger   *wallet.Ledger
	notifier notify.Notifier
	logger   *zap.Logger

	mu        sync.Mutex
	reminders map[uint]*time.Timer
	restocks  map[uint]*time.Timer
}

// New creates an empty scheduler.
func New(store storage.Store, ledger *wallet.Ledger, notifier notify.Notifier, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
		reminders: make(map[uint]*time.Timer),
		restocks:  make(map[uint]*time.Timer),
	}
}

// ScheduleReturnReminder arms a reminder that fires at dueAt (immediately if
// dueAt is already past). An existing timer for the same borrow is cancelled
// and replaced.
func (s *Scheduler) ScheduleReturnReminder(borrowID uint, userEmail string, bookID uint, dueAt time.Time) {
	delay := time.Until(dueAt)
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.reminders[borrowID]; ok {
		t.Stop()
	}
	s.reminders[borrowID] = time.AfterFunc(delay, func() {
		s.fireReminder(borrowID, userEmail, bookID, dueAt)
	})
}

// CancelReturnReminder removes a pending reminder. No-op if the timer
// already fired or never existed.
func (s *Scheduler) CancelReturnReminder(borrowID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.reminders[borrowID]; ok {
		t.Stop()
		delete(s.reminders, borrowID)
	}
}

// ScheduleRestock arms a restock job that fires after delay. An existing
// timer for the same book is cancelled and replaced, so the latest low-stock
// trigger resets the clock.
func (s *Scheduler) ScheduleRestock(bookID uint, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.restocks[bookID]; ok {
		t.Stop()
	}
	s.restocks[bookID] = time.AfterFunc(delay, func() {
		s.fireRestock(bookID)
	})
}

// Stop cancels all pending timers. Fired callbacks already in flight are not
// interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.reminders {
		t.Stop()
		delete(s.reminders, id)
	}
	for id, t := range s.restocks {
		t.Stop()
		delete(s.restocks, id)
	}
}

// fireReminder appends the REMINDER_SENT audit record and emails the user.
// The map entry is removed first so a failure cannot wedge future scheduling
// for this borrow.
func (s *Scheduler) fireReminder(borrowID uint, userEmail string, bookID uint, dueAt time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in reminder firing",
				zap.Uint("borrow_id", borrowID), zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	delete(s.reminders, borrowID)
	s.mu.Unlock()

	ctx := context.Background()

	action := &models.BookAction{
		Type:   models.ActionReminderSent,
		BookID: bookID,
		DueAt:  &dueAt,
		Meta: datatypes.JSONMap{
			"borrowId":  borrowID,
			"userEmail": userEmail,
			"dueAt":     dueAt.Format(time.RFC3339),
		},
	}
	if err := s.store.CreateBookAction(ctx, action); err != nil {
		s.logger.Error("Failed to log reminder action",
			zap.Uint("borrow_id", borrowID), zap.Error(err))
	}

	err := s.notifier.Send(ctx, userEmail,
		"Library return reminder",
		fmt.Sprintf("Reminder: please return bookId=%d by %s.", bookID, dueAt.Format(time.RFC3339)),
	)
	if err != nil {
		s.logger.Error("Failed to send return reminder email",
			zap.String("to", userEmail), zap.Error(err))
	}
}

// fireRestock re-reads the book and tops its stock back up to the seeded
// target. The deficit is computed at fire time, inside the transaction, so
// the job is idempotent against returns and buys that changed stock during
// the wait: a deficit of zero or less means there is nothing to do.
func (s *Scheduler) fireRestock(bookID uint) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in restock firing",
				zap.Uint("book_id", bookID), zap.Any("panic", r))
		}
	}()

	s.mu.Lock()
	delete(s.restocks, bookID)
	s.mu.Unlock()

	ctx := context.Background()

	var (
		title string
		added int
	)
	err := s.store.InTransaction(ctx, func(tx storage.Store) error {
		book, err := tx.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		title = book.Title

		needed := book.CopiesSeeded - book.CopiesAvailable
		if needed <= 0 {
			return nil
		}
		cost := book.StockPrice.Mul(decimal.NewFromInt(int64(needed)))

		if _, err := tx.AdjustBookCopies(ctx, bookID, needed); err != nil {
			return fmt.Errorf("failed to restock copies: %w", err)
		}

		action := &models.BookAction{
			Type:         models.ActionRestocked,
			BookID:       bookID,
			Quantity:     needed,
			PricePerUnit: decimal.NewNullDecimal(book.StockPrice),
			Total:        decimal.NewNullDecimal(cost),
			Meta:         datatypes.JSONMap{"auto": true},
		}
		if err := tx.CreateBookAction(ctx, action); err != nil {
			return fmt.Errorf("failed to log restock action: %w", err)
		}

		if err := s.ledger.DebitRestockCost(ctx, tx, cost, bookID, needed); err != nil {
			return err
		}

		added = needed
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		// Book gone; nothing to restock.
		return
	}
	if err != nil {
		s.logger.Error("Restock transaction failed",
			zap.Uint("book_id", bookID), zap.Error(err))
		return
	}
	if added == 0 {
		// Stock was already back at target when the timer fired.
		return
	}

	err = s.notifier.Send(ctx, SupplyEmail,
		fmt.Sprintf("Restock completed for book %s", title),
		fmt.Sprintf("Restock completed for bookId=%d. Added %d copies.", bookID, added),
	)
	if err != nil {
		s.logger.Error("Failed to send restock notification email",
			zap.Uint("book_id", bookID), zap.Error(err))
	}
}
