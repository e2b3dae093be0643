package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/model"
)

var (
	ErrNotFound         = errors.New("link not found")
	ErrCodeTaken        = errors.New("short code already taken")
	ErrNotOwner         = errors.New("requester does not own link")
	ErrStoreUnavailable = errors.New("link store unavailable")
)

// DefaultOpTimeout bounds every store call
const DefaultOpTimeout = 3 * time.Second

// LinkStore is the persistent mapping of short code to link record.
// Unique insert and click increment are atomic; everything else tolerates
// eventual consistency.
type LinkStore interface {
	// TryInsertUnique inserts link if its code is free, otherwise ErrCodeTaken.
	TryInsertUnique(ctx context.Context, link *model.Link) error
	// FindByCode returns the record in any state.
	FindByCode(ctx context.Context, code string) (*model.Link, error)
	// FindActiveByCode returns only records with Active set. Expiry is not filtered.
	FindActiveByCode(ctx context.Context, code string) (*model.Link, error)
	// FindByCreatorAndURL returns the newest active record for the pair.
	FindByCreatorAndURL(ctx context.Context, creator model.Creator, destinationURL string) (*model.Link, error)
	// IncrementClicks atomically counts a click on an active link.
	IncrementClicks(ctx context.Context, code string) (uint64, error)
	Deactivate(ctx context.Context, code string, requester model.Creator, admin bool) error
	Delete(ctx context.Context, code string, requester model.Creator, admin bool) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	CountCreatedSince(ctx context.Context, creator model.Creator, since time.Time) (int64, error)
	ListByCreator(ctx context.Context, creator model.Creator, page, pageSize int) ([]model.Link, int64, error)
	AllCodes(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// checkOwner applies the ownership rule shared by all stores
func checkOwner(link *model.Link, requester model.Creator, admin bool) error {
	if admin || link.OwnedBy(requester) {
		return nil
	}
	return ErrNotOwner
}

// isUnavailable reports errors that mean the store could not be reached in time
func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
