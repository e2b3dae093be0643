package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Options configures a GormLinkStore
type Options struct {
	Driver       string
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
	OpTimeout    time.Duration
	LogLevel     logger.LogLevel
}

// GormLinkStore implements LinkStore on top of gorm
type GormLinkStore struct {
	db        *gorm.DB
	driver    string
	opTimeout time.Duration
}

// Open returns the LinkStore for opts.Driver. The memory driver keeps links
// in process and loses them on restart.
func Open(opts Options) (LinkStore, error) {
	if opts.Driver == DriverMemory {
		return NewMemoryLinkStore(), nil
	}
	return NewGormLinkStore(opts)
}

// NewGormLinkStore opens the database, sizes the pool and migrates the links table
func NewGormLinkStore(opts Options) (*GormLinkStore, error) {
	dialector, err := openDialector(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}

	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(opts.LogLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.Driver == DriverSQLite {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	}

	if opts.OpTimeout <= 0 {
		opts.OpTimeout = DefaultOpTimeout
	}
	r := &GormLinkStore{db: db, driver: opts.Driver, opTimeout: opts.OpTimeout}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverMySQL, "":
		return mysql.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (r *GormLinkStore) migrate() error {
	if err := r.db.AutoMigrate(&model.Link{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if r.driver == DriverMySQL || r.driver == "" {
		// codes and paths are case-sensitive; the default MySQL collation is not
		err := r.db.Exec("ALTER TABLE links " +
			"MODIFY code VARCHAR(32) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL, " +
			"MODIFY destination_url VARCHAR(2048) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL, " +
			"MODIFY creator VARCHAR(64) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL").Error
		if err != nil {
			return fmt.Errorf("failed to set binary collation: %w", err)
		}
	}
	return nil
}

func (r *GormLinkStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.opTimeout)
}

// TryInsertUnique relies on the unique index on code
func (r *GormLinkStore) TryInsertUnique(ctx context.Context, link *model.Link) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrCodeTaken
		}
		return wrapErr("insert link", err)
	}
	return nil
}

func (r *GormLinkStore) FindByCode(ctx context.Context, code string) (*model.Link, error) {
	return r.first(ctx, "find link", r.db.Where("code = ?", code))
}

func (r *GormLinkStore) FindActiveByCode(ctx context.Context, code string) (*model.Link, error) {
	return r.first(ctx, "find active link", r.db.Where("code = ? AND active = ?", code, true))
}

func (r *GormLinkStore) FindByCreatorAndURL(ctx context.Context, creator model.Creator, destinationURL string) (*model.Link, error) {
	q := r.db.Where("creator = ? AND destination_url = ? AND active = ?", creator.Key(), destinationURL, true).
		Order("created_at DESC")
	return r.first(ctx, "find link by creator and url", q)
}

func (r *GormLinkStore) first(ctx context.Context, op string, q *gorm.DB) (*model.Link, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var link model.Link
	if err := q.WithContext(ctx).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapErr(op, err)
	}
	return &link, nil
}

// IncrementClicks bumps the counter of an active link in a single UPDATE and
// reads it back inside the same transaction.
func (r *GormLinkStore) IncrementClicks(ctx context.Context, code string) (uint64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var count uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Link{}).
			Where("code = ? AND active = ?", code, true).
			UpdateColumn("click_count", gorm.Expr("click_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&model.Link{}).Select("click_count").Where("code = ?", code).Row().Scan(&count)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, wrapErr("increment clicks", err)
	}
	return count, nil
}

func (r *GormLinkStore) Deactivate(ctx context.Context, code string, requester model.Creator, admin bool) error {
	return r.mutateOwned(ctx, "deactivate link", code, requester, admin, func(tx *gorm.DB, link *model.Link) error {
		return tx.Model(&model.Link{}).Where("id = ?", link.ID).UpdateColumn("active", false).Error
	})
}

func (r *GormLinkStore) Delete(ctx context.Context, code string, requester model.Creator, admin bool) error {
	return r.mutateOwned(ctx, "delete link", code, requester, admin, func(tx *gorm.DB, link *model.Link) error {
		return tx.Where("id = ?", link.ID).Delete(&model.Link{}).Error
	})
}

// mutateOwned locks the row, checks ownership and applies fn in one transaction
func (r *GormLinkStore) mutateOwned(ctx context.Context, op, code string, requester model.Creator, admin bool,
	fn func(tx *gorm.DB, link *model.Link) error) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx
		if r.driver != DriverSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var link model.Link
		if err := q.Where("code = ?", code).First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := checkOwner(&link, requester, admin); err != nil {
			return err
		}
		return fn(tx, &link)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotOwner) {
			return err
		}
		return wrapErr(op, err)
	}
	return nil
}

// PurgeExpired hard-deletes links whose expiry has passed. Times are stored in
// UTC and sqlite compares them as text, so bounds are converted first.
func (r *GormLinkStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).
		Delete(&model.Link{})
	if res.Error != nil {
		return 0, wrapErr("purge expired links", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *GormLinkStore) CountCreatedSince(ctx context.Context, creator model.Creator, since time.Time) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	err := r.db.WithContext(ctx).Model(&model.Link{}).
		Where("creator = ? AND created_at > ?", creator.Key(), since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, wrapErr("count links", err)
	}
	return n, nil
}

// ListByCreator returns one page of links, newest first, and the total count
func (r *GormLinkStore) ListByCreator(ctx context.Context, creator model.Creator, page, pageSize int) ([]model.Link, int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.db.WithContext(ctx).Model(&model.Link{}).Where("creator = ?", creator.Key()).Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapErr("count links", err)
	}

	var links []model.Link
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&links).Error
	if err != nil {
		return nil, 0, wrapErr("list links", err)
	}
	return links, total, nil
}

// AllCodes retrieves every code, used to seed the bloom filter
func (r *GormLinkStore) AllCodes(ctx context.Context) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var codes []string
	if err := r.db.WithContext(ctx).Model(&model.Link{}).Pluck("code", &codes).Error; err != nil {
		return nil, wrapErr("list codes", err)
	}
	return codes, nil
}

func (r *GormLinkStore) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

// Close closes the database connection
func (r *GormLinkStore) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "duplicate key value")
}
