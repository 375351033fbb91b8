package stubs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/muhammad-Osman/library-Inventory/internal/models"
	"github.com/muhammad-Osman/library-Inventory/internal/storage"
)

// MockDB is an in-memory implementation of the Store interface for testing
// and for running the service without a database (USE_MOCK_DB).
//
// Transactions are serialized by a dedicated mutex, which gives the
// check-then-act sequences the same isolation the PostgreSQL driver gets from
// row locks. There is no rollback; callers validate before they write, so an
// aborted transaction has not mutated anything.
type MockDB struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	books     map[uint]*models.Book
	users     map[uint]*models.User
	borrows   map[uint]*models.Borrow
	actions   []models.BookAction
	movements []models.WalletMovement
	wallet    *models.Wallet
	tags      map[uint]*models.Tag
	bookTags  map[uint][]models.BookTag

	nextBookID     uint
	nextUserID     uint
	nextBorrowID   uint
	nextActionID   uint
	nextMovementID uint
	nextTagID      uint
}

// NewMockDB creates a new mock store.
func NewMockDB() *MockDB {
	return &MockDB{
		books:          make(map[uint]*models.Book),
		users:          make(map[uint]*models.User),
		borrows:        make(map[uint]*models.Borrow),
		tags:           make(map[uint]*models.Tag),
		bookTags:       make(map[uint][]models.BookTag),
		nextBookID:     1,
		nextUserID:     1,
		nextBorrowID:   1,
		nextActionID:   1,
		nextMovementID: 1,
		nextTagID:      1,
	}
}

// Initialize is a no-op; seeding happens through the normal Store API.
func (m *MockDB) Initialize(ctx context.Context) error { return nil }

// Close is a no-op.
func (m *MockDB) Close() error { return nil }

// InTransaction serializes fn against all other transactions. Nested calls
// run inline.
func (m *MockDB) InTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(txStore{m})
}

// txStore is the Store view handed to transaction callbacks. It shares the
// MockDB state; a nested InTransaction runs inline under the already-held
// transaction mutex.
type txStore struct {
	*MockDB
}

func (t txStore) InTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return fn(t)
}

func (m *MockDB) GetBook(ctx context.Context, id uint) (*models.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *book
	return &copied, nil
}

// GetBookForUpdate behaves like GetBook; isolation comes from the
// transaction mutex.
func (m *MockDB) GetBookForUpdate(ctx context.Context, id uint) (*models.Book, error) {
	return m.GetBook(ctx, id)
}

func (m *MockDB) AdjustBookCopies(ctx context.Context, id uint, delta int) (*models.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	book, ok := m.books[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	book.CopiesAvailable += delta
	book.UpdatedAt = time.Now()
	copied := *book
	return &copied, nil
}

func (m *MockDB) SearchBooks(ctx context.Context, query string, page, pageSize int) ([]models.Book, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var matched []models.Book
	for _, book := range m.books {
		if needle != "" && !strings.Contains(strings.ToLower(book.Title), needle) && !m.tagMatches(book.ID, needle) {
			continue
		}
		copied := *book
		copied.BookTags = append([]models.BookTag(nil), m.bookTags[book.ID]...)
		for i := range copied.BookTags {
			if tag, ok := m.tags[copied.BookTags[i].TagID]; ok {
				copied.BookTags[i].Tag = *tag
			}
		}
		matched = append(matched, copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Title < matched[j].Title
	})

	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (m *MockDB) tagMatches(bookID uint, needle string) bool {
	for _, bt := range m.bookTags[bookID] {
		if tag, ok := m.tags[bt.TagID]; ok && strings.Contains(strings.ToLower(tag.Name), needle) {
			return true
		}
	}
	return false
}

func (m *MockDB) CountBooks(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.books)), nil
}

func (m *MockDB) UpsertBook(ctx context.Context, book *models.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.books {
		if existing.ISBN == book.ISBN {
			book.ID = existing.ID
			book.CopiesAvailable = existing.CopiesAvailable
			copied := *book
			m.books[existing.ID] = &copied
			return nil
		}
	}
	book.ID = m.nextBookID
	m.nextBookID++
	book.CreatedAt = time.Now()
	copied := *book
	m.books[book.ID] = &copied
	return nil
}

func (m *MockDB) UpsertTag(ctx context.Context, name string, kind models.TagKind) (*models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tag := range m.tags {
		if tag.Name == name && tag.Kind == kind {
			copied := *tag
			return &copied, nil
		}
	}
	tag := &models.Tag{ID: m.nextTagID, Name: name, Kind: kind}
	m.nextTagID++
	m.tags[tag.ID] = tag
	copied := *tag
	return &copied, nil
}

func (m *MockDB) ReplaceBookTags(ctx context.Context, bookID uint, tags []models.BookTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bookTags[bookID] = append([]models.BookTag(nil), tags...)
	return nil
}

func (m *MockDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *MockDB) EnsureUser(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	user := &models.User{ID: m.nextUserID, Email: email, CreatedAt: time.Now()}
	m.nextUserID++
	m.users[user.ID] = user
	copied := *user
	return &copied, nil
}

func (m *MockDB) GetUserForUpdate(ctx context.Context, id uint) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (m *MockDB) ListUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var users []models.User
	for _, user := range m.users {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m *MockDB) FindActiveBorrow(ctx context.Context, userID, bookID uint) (*models.Borrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, borrow := range m.borrows {
		if borrow.UserID == userID && borrow.BookID == bookID && borrow.Status == models.BorrowStatusBorrowed {
			copied := *borrow
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *MockDB) CountActiveBorrows(ctx context.Context, userID uint) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, borrow := range m.borrows {
		if borrow.UserID == userID && borrow.Status == models.BorrowStatusBorrowed {
			count++
		}
	}
	return count, nil
}

func (m *MockDB) CreateBorrow(ctx context.Context, borrow *models.Borrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	borrow.ID = m.nextBorrowID
	m.nextBorrowID++
	copied := *borrow
	m.borrows[borrow.ID] = &copied
	return nil
}

func (m *MockDB) MarkBorrowReturned(ctx context.Context, borrowID uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	borrow, ok := m.borrows[borrowID]
	if !ok {
		return storage.ErrNotFound
	}
	borrow.Status = models.BorrowStatusReturned
	returnedAt := at
	borrow.ReturnedAt = &returnedAt
	return nil
}

func (m *MockDB) ListBorrowsByUser(ctx context.Context, userID uint) ([]models.Borrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var borrows []models.Borrow
	for _, borrow := range m.borrows {
		if borrow.UserID != userID {
			continue
		}
		copied := *borrow
		if book, ok := m.books[borrow.BookID]; ok {
			copied.Book = *book
		}
		borrows = append(borrows, copied)
	}
	sort.Slice(borrows, func(i, j int) bool {
		return borrows[i].BorrowedAt.Before(borrows[j].BorrowedAt)
	})
	return borrows, nil
}

func (m *MockDB) CreateBookAction(ctx context.Context, action *models.BookAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	action.ID = m.nextActionID
	m.nextActionID++
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	m.actions = append(m.actions, *action)
	return nil
}

func (m *MockDB) SumBuyQuantity(ctx context.Context, userID uint, bookID *uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int
	for _, action := range m.actions {
		if action.Type != models.ActionBuy || action.UserID == nil || *action.UserID != userID {
			continue
		}
		if bookID != nil && action.BookID != *bookID {
			continue
		}
		sum += action.Quantity
	}
	return sum, nil
}

func (m *MockDB) ListBookActions(ctx context.Context, filter storage.ActionFilter) ([]models.BookAction, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.BookAction
	for _, action := range m.actions {
		if action.BookID != filter.BookID {
			continue
		}
		if len(filter.Types) > 0 && !containsAction(filter.Types, action.Type) {
			continue
		}
		if filter.UserEmail != "" {
			if action.UserID == nil {
				continue
			}
			user, ok := m.users[*action.UserID]
			if !ok || !strings.Contains(strings.ToLower(user.Email), strings.ToLower(filter.UserEmail)) {
				continue
			}
		}
		if filter.From != nil && action.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && action.CreatedAt.After(*filter.To) {
			continue
		}
		copied := action
		if action.UserID != nil {
			if user, ok := m.users[*action.UserID]; ok {
				u := *user
				copied.User = &u
			}
		}
		matched = append(matched, copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func containsAction(types []models.BookActionType, t models.BookActionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (m *MockDB) SummarizePurchases(ctx context.Context, userID uint) ([]storage.PurchaseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBook := make(map[uint]*storage.PurchaseSummary)
	for _, action := range m.actions {
		if action.Type != models.ActionBuy || action.UserID == nil || *action.UserID != userID {
			continue
		}
		summary, ok := byBook[action.BookID]
		if !ok {
			summary = &storage.PurchaseSummary{BookID: action.BookID}
			byBook[action.BookID] = summary
		}
		summary.Quantity += action.Quantity
		if action.Total.Valid {
			summary.Total = summary.Total.Add(action.Total.Decimal)
		}
		createdAt := action.CreatedAt
		if summary.LastPurchasedAt == nil || createdAt.After(*summary.LastPurchasedAt) {
			summary.LastPurchasedAt = &createdAt
		}
	}

	var summaries []storage.PurchaseSummary
	for _, summary := range byBook {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].BookID < summaries[j].BookID })
	return summaries, nil
}

func (m *MockDB) EnsureWallet(ctx context.Context, openingBalance decimal.Decimal) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wallet == nil {
		m.wallet = &models.Wallet{ID: models.WalletID, Balance: openingBalance, UpdatedAt: time.Now()}
	}
	copied := *m.wallet
	return &copied, nil
}

func (m *MockDB) GetWallet(ctx context.Context) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.wallet == nil {
		return nil, storage.ErrNotFound
	}
	copied := *m.wallet
	return &copied, nil
}

func (m *MockDB) AdjustWalletBalance(ctx context.Context, delta decimal.Decimal) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wallet == nil {
		return nil, storage.ErrNotFound
	}
	m.wallet.Balance = m.wallet.Balance.Add(delta)
	m.wallet.UpdatedAt = time.Now()
	copied := *m.wallet
	return &copied, nil
}

func (m *MockDB) MarkMilestoneNotified(ctx context.Context, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wallet == nil {
		return storage.ErrNotFound
	}
	if m.wallet.MilestoneNotifiedAt == nil {
		notifiedAt := at
		m.wallet.MilestoneNotifiedAt = &notifiedAt
	}
	return nil
}

func (m *MockDB) CreateWalletMovement(ctx context.Context, movement *models.WalletMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	movement.ID = m.nextMovementID
	m.nextMovementID++
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now()
	}
	m.movements = append(m.movements, *movement)
	return nil
}

func (m *MockDB) ListWalletMovements(ctx context.Context, filter storage.MovementFilter) ([]models.WalletMovement, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.WalletMovement
	for _, movement := range m.movements {
		if len(filter.Types) > 0 && !containsMovement(filter.Types, movement.Type) {
			continue
		}
		if filter.From != nil && movement.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && movement.CreatedAt.After(*filter.To) {
			continue
		}
		copied := movement
		if movement.BookID != nil {
			if book, ok := m.books[*movement.BookID]; ok {
				b := *book
				copied.Book = &b
			}
		}
		if movement.UserID != nil {
			if user, ok := m.users[*movement.UserID]; ok {
				u := *user
				copied.User = &u
			}
		}
		matched = append(matched, copied)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func containsMovement(types []models.MovementType, t models.MovementType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (m *MockDB) SumMovements(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, movement := range m.movements {
		sum = sum.Add(movement.Signed())
	}
	return sum, nil
}
