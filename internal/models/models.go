package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BorrowStatus is the lifecycle state of a Borrow row.
type BorrowStatus string

const (
	BorrowStatusBorrowed BorrowStatus = "BORROWED"
	BorrowStatusReturned BorrowStatus = "RETURNED"
)

// BookActionType classifies entries in the append-only activity log.
type BookActionType string

const (
	ActionBorrow           BookActionType = "BORROW"
	ActionReturn           BookActionType = "RETURN"
	ActionBuy              BookActionType = "BUY"
	ActionRestockRequested BookActionType = "RESTOCK_REQUESTED"
	ActionRestocked        BookActionType = "RESTOCKED"
	ActionReminderSent     BookActionType = "REMINDER_SENT"
)

// MovementType classifies wallet ledger entries.
type MovementType string

const (
	MovementSellRevenue   MovementType = "SELL_REVENUE"
	MovementBorrowRevenue MovementType = "BORROW_REVENUE"
	MovementStockPurchase MovementType = "STOCK_PURCHASE"
	MovementRestockCost   MovementType = "RESTOCK_COST"
	MovementAdjustment    MovementType = "ADJUSTMENT"
)

// MovementDirection is the sign of a wallet movement.
type MovementDirection string

const (
	DirectionCredit MovementDirection = "CREDIT"
	DirectionDebit  MovementDirection = "DEBIT"
)

// TagKind separates author tags from genre tags.
type TagKind string

const (
	TagKindAuthor TagKind = "AUTHOR"
	TagKindGenre  TagKind = "GENRE"
)

// Book is a title in the circulating inventory. CopiesSeeded is the target
// full stock; CopiesAvailable is the current free stock.
type Book struct {
	ID              uint            `gorm:"primaryKey"`
	ISBN            string          `gorm:"size:32;uniqueIndex;not null"`
	Title           string          `gorm:"size:255;not null"`
	Year            *int            `gorm:""`
	Pages           *int            `gorm:""`
	Publisher       *string         `gorm:"size:255"`
	SellPrice       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	StockPrice      decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	BorrowPrice     decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	CopiesSeeded    int             `gorm:"not null;default:0"`
	CopiesAvailable int             `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	BookTags []BookTag `gorm:"foreignKey:BookID"`
}

// User is created lazily on first borrow or buy and never updated afterwards.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Email     string `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt time.Time
}

// Borrow is one loan of one copy. At most one BORROWED row may exist per
// (user, book) pair, and at most three per user.
type Borrow struct {
	ID            uint            `gorm:"primaryKey"`
	UserID        uint            `gorm:"index;not null"`
	BookID        uint            `gorm:"index;not null"`
	Quantity      int             `gorm:"not null;default:1"`
	BorrowedAt    time.Time       `gorm:"not null"`
	DueAt         time.Time       `gorm:"not null"`
	Status        BorrowStatus    `gorm:"size:16;index;not null"`
	ReturnedAt    *time.Time      `gorm:""`
	PriceAtBorrow decimal.Decimal `gorm:"type:numeric(12,2);not null"`

	User User `gorm:"foreignKey:UserID"`
	Book Book `gorm:"foreignKey:BookID"`
}

// BookAction is an immutable audit record, the system of record for
// everything that happened to a book. The purchase caps are computed from
// these rows, not from a separate counter.
type BookAction struct {
	ID           uint                `gorm:"primaryKey"`
	Type         BookActionType      `gorm:"size:32;index;not null"`
	BookID       uint                `gorm:"index;not null"`
	UserID       *uint               `gorm:"index"`
	Quantity     int                 `gorm:"not null;default:0"`
	PricePerUnit decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	Total        decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	DueAt        *time.Time          `gorm:""`
	Meta         datatypes.JSONMap   `gorm:"type:jsonb"`
	CreatedAt    time.Time           `gorm:"index"`

	Book Book  `gorm:"foreignKey:BookID"`
	User *User `gorm:"foreignKey:UserID"`
}

// WalletID is the fixed key of the singleton wallet row.
const WalletID uint = 1

// Wallet is the single shared cash balance. MilestoneNotifiedAt is set
// exactly once, when the balance first exceeds the milestone threshold.
type Wallet struct {
	ID                  uint            `gorm:"primaryKey"`
	Balance             decimal.Decimal `gorm:"type:numeric(14,2);not null"`
	MilestoneNotifiedAt *time.Time      `gorm:""`
	UpdatedAt           time.Time
}

// WalletMovement is an immutable signed ledger entry explaining one balance
// change. The signed sum of all movements reconciles to Wallet.Balance.
type WalletMovement struct {
	ID        uint              `gorm:"primaryKey"`
	Type      MovementType      `gorm:"size:32;index;not null"`
	Direction MovementDirection `gorm:"size:8;not null"`
	Amount    decimal.Decimal   `gorm:"type:numeric(12,2);not null"`
	BookID    *uint             `gorm:"index"`
	UserID    *uint             `gorm:"index"`
	Note      string            `gorm:"size:255"`
	CreatedAt time.Time         `gorm:"index"`

	Book *Book `gorm:"foreignKey:BookID"`
	User *User `gorm:"foreignKey:UserID"`
}

// Signed returns the movement amount with its direction applied.
func (m WalletMovement) Signed() decimal.Decimal {
	if m.Direction == DirectionDebit {
		return m.Amount.Neg()
	}
	return m.Amount
}

// Tag is a catalog label (author or genre) attached to books.
type Tag struct {
	ID   uint    `gorm:"primaryKey"`
	Name string  `gorm:"size:120;uniqueIndex:uq_tags_name_kind;not null"`
	Kind TagKind `gorm:"size:16;uniqueIndex:uq_tags_name_kind;not null"`
}

// BookTag joins books to tags. TagOrder keeps author order; genres are
// unordered and leave it null.
type BookTag struct {
	BookID   uint `gorm:"primaryKey"`
	TagID    uint `gorm:"primaryKey"`
	TagOrder *int `gorm:""`

	Tag Tag `gorm:"foreignKey:TagID"`
}
