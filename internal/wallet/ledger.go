package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/notify"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// ManagementEmail receives the one-time balance milestone notification.
const ManagementEmail = "management@dummy-library.com"

// DefaultMilestoneThreshold is the balance the wallet must exceed for the
// milestone to fire.
var DefaultMilestoneThreshold = decimal.NewFromInt(2000)

// Ledger records wallet movements and applies the matching balance deltas.
// Every method that writes takes the transaction-scoped Store of the caller,
// so the movement, the balance change and the triggering inventory mutation
// land in one atomic unit.
type Ledger struct {
	notifier  notify.Notifier
	logger    *zap.Logger
	threshold decimal.Decimal
}

// NewLedger creates a wallet ledger. A zero threshold selects the default.
func NewLedger(notifier notify.Notifier, logger *zap.Logger, threshold decimal.Decimal) *Ledger {
	if threshold.IsZero() {
		threshold = DefaultMilestoneThreshold
	}
	return &Ledger{notifier: notifier, logger: logger, threshold: threshold}
}

// RecordMovement appends a movement and applies its signed delta to the
// balance. This is the generic shape used by restock and adjustment flows.
func (l *Ledger) RecordMovement(ctx context.Context, tx storage.Store, typ models.MovementType, direction models.MovementDirection, amount decimal.Decimal, bookID, userID *uint, note string) error {
	delta := amount
	if direction == models.DirectionDebit {
		delta = amount.Neg()
	}
	if _, err := tx.AdjustWalletBalance(ctx, delta); err != nil {
		return fmt.Errorf("failed to adjust wallet balance: %w", err)
	}
	movement := &models.WalletMovement{
		Type:      typ,
		Direction: direction,
		Amount:    amount,
		BookID:    bookID,
		UserID:    userID,
		Note:      note,
	}
	if err := tx.CreateWalletMovement(ctx, movement); err != nil {
		return fmt.Errorf("failed to record wallet movement: %w", err)
	}
	return nil
}

// CreditBorrowRevenue credits a borrow fee. It is the only credit type that
// checks the milestone: when the new balance first exceeds the threshold,
// the milestone timestamp is set inside the same transaction and the caller
// is told to announce it after commit.
func (l *Ledger) CreditBorrowRevenue(ctx context.Context, tx storage.Store, amount decimal.Decimal, bookID, userID uint) (milestoneCrossed bool, err error) {
	updated, err := tx.AdjustWalletBalance(ctx, amount)
	if err != nil {
		return false, fmt.Errorf("failed to credit borrow revenue: %w", err)
	}
	movement := &models.WalletMovement{
		Type:      models.MovementBorrowRevenue,
		Direction: models.DirectionCredit,
		Amount:    amount,
		BookID:    &bookID,
		UserID:    &userID,
		Note:      "Borrow fee",
	}
	if err := tx.CreateWalletMovement(ctx, movement); err != nil {
		return false, fmt.Errorf("failed to record borrow revenue movement: %w", err)
	}

	if updated.MilestoneNotifiedAt == nil && updated.Balance.GreaterThan(l.threshold) {
		if err := tx.MarkMilestoneNotified(ctx, time.Now()); err != nil {
			return false, fmt.Errorf("failed to mark milestone: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// CreditSellRevenue credits the proceeds of a purchase.
func (l *Ledger) CreditSellRevenue(ctx context.Context, tx storage.Store, amount decimal.Decimal, bookID, userID uint, copies int) error {
	return l.RecordMovement(ctx, tx,
		models.MovementSellRevenue, models.DirectionCredit,
		amount, &bookID, &userID,
		fmt.Sprintf("Sold %d copies", copies),
	)
}

// DebitRestockCost debits the cost of an automatic restock.
func (l *Ledger) DebitRestockCost(ctx context.Context, tx storage.Store, amount decimal.Decimal, bookID uint, copies int) error {
	return l.RecordMovement(ctx, tx,
		models.MovementRestockCost, models.DirectionDebit,
		amount, &bookID, nil,
		fmt.Sprintf("Auto restock %d copies", copies),
	)
}

// AnnounceMilestone tells management the wallet crossed the threshold.
// Best-effort: a delivery failure is logged and dropped.
func (l *Ledger) AnnounceMilestone(ctx context.Context) {
	err := l.notifier.Send(ctx, ManagementEmail,
		"Wallet balance milestone reached",
		fmt.Sprintf("The library wallet balance has exceeded %s.", l.threshold.String()),
	)
	if err != nil {
		l.logger.Error("Failed to send wallet milestone email", zap.Error(err))
	}
}
