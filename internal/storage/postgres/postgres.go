package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// PostgresStore implements storage.Store on top of GORM/PostgreSQL.
type PostgresStore struct {
	db *gorm.DB
}

// New creates a new PostgreSQL store and verifies the connection.
func New(host string, port int, dbname, user, password, sslmode string) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&application_name=library-inventory",
		user, password, host, port, dbname, sslmode,
	)

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Initialize is a no-op - tables are managed via migrations (see migrations/).
func (s *PostgresStore) Initialize(ctx context.Context) error {
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InTransaction runs fn inside one database transaction. The nested Store
// view shares the transaction handle, so every read and write in fn belongs
// to the same atomic unit.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// GetBook returns the book with the given id.
func (s *PostgresStore) GetBook(ctx context.Context, id uint) (*models.Book, error) {
	var book models.Book
	if err := s.db.WithContext(ctx).First(&book, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &book, nil
}

// GetBookForUpdate returns the book and locks its row until the enclosing
// transaction commits.
func (s *PostgresStore) GetBookForUpdate(ctx context.Context, id uint) (*models.Book, error) {
	var book models.Book
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&book, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &book, nil
}

// AdjustBookCopies atomically applies delta to copies_available and returns
// the updated book.
func (s *PostgresStore) AdjustBookCopies(ctx context.Context, id uint, delta int) (*models.Book, error) {
	res := s.db.WithContext(ctx).Model(&models.Book{}).
		Where("id = ?", id).
		Update("copies_available", gorm.Expr("copies_available + ?", delta))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	var book models.Book
	if err := s.db.WithContext(ctx).First(&book, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &book, nil
}

// SearchBooks returns books whose title or tag name matches query,
// case-insensitively, ordered by title.
func (s *PostgresStore) SearchBooks(ctx context.Context, query string, page, pageSize int) ([]models.Book, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Book{})
	if query != "" {
		like := "%" + query + "%"
		q = q.Where(
			"title ILIKE ? OR id IN (SELECT book_id FROM book_tags JOIN tags ON tags.id = book_tags.tag_id WHERE tags.name ILIKE ?)",
			like, like,
		)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var books []models.Book
	err := q.Preload("BookTags.Tag").
		Order("title ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&books).Error
	if err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

// CountBooks returns the number of books in the catalog.
func (s *PostgresStore) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Book{}).Count(&count).Error
	return count, err
}

// UpsertBook creates the book or, when a book with the same ISBN exists,
// updates its catalog fields. CopiesAvailable is only set on create; a
// re-seed never clobbers live stock.
func (s *PostgresStore) UpsertBook(ctx context.Context, book *models.Book) error {
	var existing models.Book
	err := s.db.WithContext(ctx).Where("isbn = ?", book.ISBN).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.db.WithContext(ctx).Create(book).Error
	}
	if err != nil {
		return err
	}
	book.ID = existing.ID
	book.CopiesAvailable = existing.CopiesAvailable
	return s.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"title":         book.Title,
		"year":          book.Year,
		"pages":         book.Pages,
		"publisher":     book.Publisher,
		"sell_price":    book.SellPrice,
		"stock_price":   book.StockPrice,
		"borrow_price":  book.BorrowPrice,
		"copies_seeded": book.CopiesSeeded,
	}).Error
}

// UpsertTag finds or creates a tag by (name, kind).
func (s *PostgresStore) UpsertTag(ctx context.Context, name string, kind models.TagKind) (*models.Tag, error) {
	var tag models.Tag
	err := s.db.WithContext(ctx).
		Where(models.Tag{Name: name, Kind: kind}).
		FirstOrCreate(&tag).Error
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// ReplaceBookTags deletes the book's tag joins and writes the given set.
func (s *PostgresStore) ReplaceBookTags(ctx context.Context, bookID uint, tags []models.BookTag) error {
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Delete(&models.BookTag{}).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&tags).Error
}

// GetUserByEmail returns the user with the given email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// EnsureUser returns the user with the given email, creating it on first use.
func (s *PostgresStore) EnsureUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Where(models.User{Email: email}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserForUpdate returns the user and locks its row until the enclosing
// transaction commits. Used to serialize per-user limit checks.
func (s *PostgresStore) GetUserForUpdate(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&user, id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ListUsers returns all users.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error
	return users, err
}

// FindActiveBorrow returns the BORROWED row for (user, book), or nil when
// there is none.
func (s *PostgresStore) FindActiveBorrow(ctx context.Context, userID, bookID uint) (*models.Borrow, error) {
	var borrow models.Borrow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND book_id = ? AND status = ?", userID, bookID, models.BorrowStatusBorrowed).
		First(&borrow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &borrow, nil
}

// CountActiveBorrows returns the number of BORROWED rows for the user.
func (s *PostgresStore) CountActiveBorrows(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Borrow{}).
		Where("user_id = ? AND status = ?", userID, models.BorrowStatusBorrowed).
		Count(&count).Error
	return count, err
}

// CreateBorrow inserts a new borrow row.
func (s *PostgresStore) CreateBorrow(ctx context.Context, borrow *models.Borrow) error {
	return s.db.WithContext(ctx).Create(borrow).Error
}

// MarkBorrowReturned flips the borrow to RETURNED and stamps returned_at.
func (s *PostgresStore) MarkBorrowReturned(ctx context.Context, borrowID uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Borrow{}).
		Where("id = ?", borrowID).
		Updates(map[string]interface{}{
			"status":      models.BorrowStatusReturned,
			"returned_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListBorrowsByUser returns the user's borrows, oldest first, with books.
func (s *PostgresStore) ListBorrowsByUser(ctx context.Context, userID uint) ([]models.Borrow, error) {
	var borrows []models.Borrow
	err := s.db.WithContext(ctx).
		Preload("Book").
		Where("user_id = ?", userID).
		Order("borrowed_at ASC").
		Find(&borrows).Error
	return borrows, err
}

// CreateBookAction appends an audit record. Actions are never updated.
func (s *PostgresStore) CreateBookAction(ctx context.Context, action *models.BookAction) error {
	return s.db.WithContext(ctx).Create(action).Error
}

// SumBuyQuantity sums the quantities of the user's BUY actions, optionally
// restricted to one book. The audit log is the source of truth for the
// purchase caps.
func (s *PostgresStore) SumBuyQuantity(ctx context.Context, userID uint, bookID *uint) (int, error) {
	q := s.db.WithContext(ctx).Model(&models.BookAction{}).
		Where("type = ? AND user_id = ?", models.ActionBuy, userID)
	if bookID != nil {
		q = q.Where("book_id = ?", *bookID)
	}
	var sum int
	err := q.Select("COALESCE(SUM(quantity), 0)").Scan(&sum).Error
	return sum, err
}

// ListBookActions returns audit records matching the filter, newest first.
func (s *PostgresStore) ListBookActions(ctx context.Context, filter storage.ActionFilter) ([]models.BookAction, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.BookAction{}).
		Where("book_id = ?", filter.BookID)
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if filter.UserEmail != "" {
		q = q.Where("user_id IN (SELECT id FROM users WHERE email ILIKE ?)", "%"+filter.UserEmail+"%")
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var actions []models.BookAction
	err := q.Preload("User").
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&actions).Error
	if err != nil {
		return nil, 0, err
	}
	return actions, total, nil
}

// SummarizePurchases groups the user's BUY actions per book.
func (s *PostgresStore) SummarizePurchases(ctx context.Context, userID uint) ([]storage.PurchaseSummary, error) {
	var rows []storage.PurchaseSummary
	err := s.db.WithContext(ctx).Model(&models.BookAction{}).
		Select("book_id, COALESCE(SUM(quantity), 0) AS quantity, COALESCE(SUM(total), 0) AS total, MAX(created_at) AS last_purchased_at").
		Where("type = ? AND user_id = ?", models.ActionBuy, userID).
		Group("book_id").
		Scan(&rows).Error
	return rows, err
}

// EnsureWallet creates the singleton wallet row if it does not exist yet.
func (s *PostgresStore) EnsureWallet(ctx context.Context, openingBalance decimal.Decimal) (*models.Wallet, error) {
	wallet := models.Wallet{ID: models.WalletID, Balance: openingBalance}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&wallet).Error
	if err != nil {
		return nil, err
	}
	return s.GetWallet(ctx)
}

// GetWallet returns the singleton wallet row.
func (s *PostgresStore) GetWallet(ctx context.Context) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.db.WithContext(ctx).First(&wallet, models.WalletID).Error; err != nil {
		return nil, notFound(err)
	}
	return &wallet, nil
}

// AdjustWalletBalance atomically applies delta to the balance and returns the
// updated wallet.
func (s *PostgresStore) AdjustWalletBalance(ctx context.Context, delta decimal.Decimal) (*models.Wallet, error) {
	res := s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ?", models.WalletID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, storage.ErrNotFound
	}
	return s.GetWallet(ctx)
}

// MarkMilestoneNotified stamps the one-time milestone timestamp.
func (s *PostgresStore) MarkMilestoneNotified(ctx context.Context, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND milestone_notified_at IS NULL", models.WalletID).
		Update("milestone_notified_at", at).Error
}

// CreateWalletMovement appends a ledger entry. Movements are never updated.
func (s *PostgresStore) CreateWalletMovement(ctx context.Context, movement *models.WalletMovement) error {
	return s.db.WithContext(ctx).Create(movement).Error
}

// ListWalletMovements returns ledger entries matching the filter, newest
// first.
func (s *PostgresStore) ListWalletMovements(ctx context.Context, filter storage.MovementFilter) ([]models.WalletMovement, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.WalletMovement{})
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var movements []models.WalletMovement
	err := q.Preload("Book").Preload("User").
		Order("created_at DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&movements).Error
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// SumMovements returns the signed sum of all movements, the value the wallet
// balance reconciles against.
func (s *PostgresStore) SumMovements(ctx context.Context) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := s.db.WithContext(ctx).Model(&models.WalletMovement{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0)", models.DirectionCredit).
		Scan(&sum).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
