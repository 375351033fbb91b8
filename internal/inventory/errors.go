package inventory

// ErrorCode classifies request failures independent of transport.
type ErrorCode string

const (
	CodeBadRequest ErrorCode = "BAD_REQUEST"
	CodeNotFound   ErrorCode = "NOT_FOUND"
	CodeConflict   ErrorCode = "CONFLICT"
)

// DomainError is a terminal, caller-visible failure. Anything else that
// escapes the engine is an internal error and is surfaced generically.
type DomainError struct {
	Code    ErrorCode
	Message string
}

func (e *DomainError) Error() string { return e.Message }

var (
	ErrMissingActor = &DomainError{CodeBadRequest, "x-user-email header is required"}
	// Borrow spells out the integer requirement; return and buy use the
	// shorter wording.
	ErrInvalidBookID   = &DomainError{CodeBadRequest, "Valid bookId positive integer is required"}
	ErrBookIDRequired  = &DomainError{CodeBadRequest, "Valid bookId is required"}
	ErrInvalidQuantity = &DomainError{CodeBadRequest, "quantity must be a positive integer"}

	ErrBookNotFound = &DomainError{CodeNotFound, "Book not found"}
	ErrUserNotFound = &DomainError{CodeNotFound, "User not found"}

	ErrNoCopies          = &DomainError{CodeConflict, "No copies available"}
	ErrAlreadyBorrowed   = &DomainError{CodeConflict, "You already borrowed this book"}
	ErrBorrowLimit       = &DomainError{CodeConflict, "Borrow limit reached max 3 active"}
	ErrInsufficientStock = &DomainError{CodeConflict, "Not enough copies available"}
	ErrPerBookBuyLimit   = &DomainError{CodeConflict, "Limit: max 2 copies per same book"}
	ErrTotalBuyLimit     = &DomainError{CodeConflict, "Limit: max 10 copies across all books"}
	ErrNoActiveBorrow    = &DomainError{CodeConflict, "No active borrow found for this book"}
)
