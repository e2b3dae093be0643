package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Monthlyaway/shortlinkd/internal/cache"
	"github.com/Monthlyaway/shortlinkd/internal/metrics"
	"github.com/Monthlyaway/shortlinkd/internal/model"
	"github.com/Monthlyaway/shortlinkd/internal/repository"
	"github.com/Monthlyaway/shortlinkd/internal/utils"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts  = 5
	DefaultClickTimeout = 500 * time.Millisecond
	DefaultPageSize     = 20
	MaxPageSize         = 100

	// storeRetries is how many times an unavailable store is retried per insert
	storeRetries        = 2
	defaultRetryBackoff = 50 * time.Millisecond
)

// Admitter decides whether a creator may create another link
type Admitter interface {
	Admit(ctx context.Context, creator model.Creator) error
}

// LinkCache is a read-through cache for resolutions
type LinkCache interface {
	Get(ctx context.Context, code string) (*cache.Entry, error)
	Set(ctx context.Context, code string, entry cache.Entry) error
	Delete(ctx context.Context, code string) error
}

// CodeFilter gives fast negative answers for unknown codes
type CodeFilter interface {
	Add(code string)
	Test(code string) bool
	Rebuild(load func() ([]string, error)) error
}

// Config holds link creation policy
type Config struct {
	CodeLength   int
	MaxAttempts  int
	TTL          time.Duration // zero means links never expire
	ClickTimeout time.Duration
}

// LinkService orchestrates create, resolve and removal of links
type LinkService struct {
	store  repository.LinkStore
	quota  Admitter
	cache  LinkCache
	bloom  CodeFilter
	cfg    Config
	logger *zap.Logger

	now          func() time.Time
	generateCode func(length int) (string, error)
	generateID   func() (int64, error)
	retryBackoff time.Duration
}

// Option customizes a LinkService
type Option func(*LinkService)

func WithCache(c LinkCache) Option {
	return func(s *LinkService) { s.cache = c }
}

func WithBloomFilter(f CodeFilter) Option {
	return func(s *LinkService) { s.bloom = f }
}

func WithClock(now func() time.Time) Option {
	return func(s *LinkService) { s.now = now }
}

func WithCodeGenerator(gen func(length int) (string, error)) Option {
	return func(s *LinkService) { s.generateCode = gen }
}

func WithIDGenerator(gen func() (int64, error)) Option {
	return func(s *LinkService) { s.generateID = gen }
}

func WithRetryBackoff(d time.Duration) Option {
	return func(s *LinkService) {
		if d > 0 {
			s.retryBackoff = d
		}
	}
}

// NewLinkService creates a new link service instance
func NewLinkService(store repository.LinkStore, admitter Admitter, cfg Config, logger *zap.Logger, opts ...Option) *LinkService {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = utils.DefaultCodeLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ClickTimeout <= 0 {
		cfg.ClickTimeout = DefaultClickTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &LinkService{
		store:        store,
		quota:        admitter,
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "link_service")),
		now:          time.Now,
		generateCode: utils.GenerateCode,
		generateID:   utils.GenerateID,
		retryBackoff: defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is a creation request with the caller already identified
type CreateInput struct {
	Creator     model.Creator
	URL         string
	Alias       string
	Title       string
	Description string
}

// CreateResult is the created link, or the creator's existing link for the
// same destination when Existing is set.
type CreateResult struct {
	Link     *model.Link
	Existing bool
}

// Create shortens a URL for the creator
func (s *LinkService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	res, err := s.create(ctx, in)

	result := "created"
	switch {
	case err != nil:
		result = strings.ToLower(ErrorCode(err))
	case res.Existing:
		result = "existing"
	}
	metrics.LinkCreationsTotal.WithLabelValues(result).Inc()

	return res, err
}

func (s *LinkService) create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if err := s.quota.Admit(ctx, in.Creator); err != nil {
		return nil, err
	}

	alias := strings.TrimSpace(in.Alias)
	if alias != "" {
		if err := utils.ValidateAlias(alias); err != nil {
			return nil, err
		}
		_, err := s.store.FindByCode(ctx, alias)
		if err == nil {
			return nil, ErrAliasTaken
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	dest, err := utils.NormalizeURL(in.URL)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	existing, err := s.store.FindByCreatorAndURL(ctx, in.Creator, dest)
	switch {
	case err == nil && existing.IsResolvable(now):
		return &CreateResult{Link: existing, Existing: true}, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	id, err := s.generateID()
	if err != nil {
		return nil, err
	}
	link := &model.Link{
		ID:             id,
		DestinationURL: dest,
		Creator:        in.Creator,
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		CreatedAt:      now,
		Active:         true,
		IsCustomAlias:  alias != "",
	}
	if s.cfg.TTL > 0 {
		expiresAt := now.Add(s.cfg.TTL)
		link.ExpiresAt = &expiresAt
	}

	if alias != "" {
		link.Code = alias
		if err := s.insertWithRetry(ctx, link); err != nil {
			if errors.Is(err, repository.ErrCodeTaken) {
				return nil, ErrAliasTaken
			}
			return nil, err
		}
	} else if err := s.insertGenerated(ctx, link); err != nil {
		return nil, err
	}

	s.cacheLink(ctx, link)
	s.logger.Info("link created",
		zap.String("code", link.Code),
		zap.String("creator", in.Creator.String()),
		zap.Bool("custom_alias", link.IsCustomAlias),
	)
	return &CreateResult{Link: link}, nil
}

// insertGenerated draws codes until one inserts. After half the attempts
// have collided the code grows by one character.
func (s *LinkService) insertGenerated(ctx context.Context, link *model.Link) error {
	length := s.cfg.CodeLength
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt == s.cfg.MaxAttempts/2+1 && attempt > 1 {
			length++
		}

		code, err := s.generateCode(length)
		if err != nil {
			return err
		}
		link.Code = code

		err = s.insertWithRetry(ctx, link)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrCodeTaken) {
			return err
		}
		metrics.CodeCollisionsTotal.Inc()
		s.logger.Debug("generated code collided", zap.String("code", code), zap.Int("attempt", attempt))
	}

	s.logger.Error("short code space exhausted",
		zap.Int("attempts", s.cfg.MaxAttempts),
		zap.Int("code_length", length),
	)
	return ErrCodeSpaceExhausted
}

// insertWithRetry writes link, retrying a bounded number of times while the store is unavailable
func (s *LinkService) insertWithRetry(ctx context.Context, link *model.Link) error {
	if s.bloom != nil {
		// added first so a resolve racing the insert never sees a false negative
		s.bloom.Add(link.Code)
	}

	retried := false
	backoff := retry.WithMaxRetries(storeRetries, retry.NewConstant(s.retryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.store.TryInsertUnique(ctx, link)
		switch {
		case errors.Is(err, repository.ErrStoreUnavailable):
			s.logger.Warn("link store unavailable, retrying insert", zap.String("code", link.Code), zap.Error(err))
			retried = true
			return retry.RetryableError(err)
		case errors.Is(err, repository.ErrCodeTaken) && retried && s.insertedEarlier(ctx, link):
			// an earlier attempt committed before its error was reported
			return nil
		}
		return err
	})
}

// insertedEarlier reports whether the row holding link.Code is link itself
func (s *LinkService) insertedEarlier(ctx context.Context, link *model.Link) bool {
	stored, err := s.store.FindByCode(ctx, link.Code)
	if err != nil {
		s.logger.Warn("failed to check earlier insert", zap.String("code", link.Code), zap.Error(err))
		return false
	}
	return stored.ID == link.ID
}

// Resolve returns the destination for code and counts the click.
// Click accounting failures never fail the resolution.
func (s *LinkService) Resolve(ctx context.Context, code string) (string, error) {
	dest, err := s.resolve(ctx, code)

	result := "ok"
	if err != nil {
		result = strings.ToLower(ErrorCode(err))
	}
	metrics.LinkResolutionsTotal.WithLabelValues(result).Inc()

	return dest, err
}

func (s *LinkService) resolve(ctx context.Context, code string) (string, error) {
	if !utils.IsValidCodeFormat(code) {
		return "", ErrLinkNotFound
	}
	// each instance keeps its own filter, so codes created elsewhere test
	// negative until the next rebuild; a miss is not authoritative
	missed := s.bloom != nil && !s.bloom.Test(code)

	entry, err := s.lookup(ctx, code)
	if err != nil {
		if missed && errors.Is(err, ErrLinkNotFound) {
			metrics.BloomMissesTotal.WithLabelValues("absent").Inc()
		}
		return "", err
	}
	if missed {
		metrics.BloomMissesTotal.WithLabelValues("stale").Inc()
		s.bloom.Add(code)
	}
	if entry.ExpiresAt != nil && !s.now().Before(*entry.ExpiresAt) {
		return "", ErrLinkExpired
	}

	clickCtx, cancel := context.WithTimeout(ctx, s.cfg.ClickTimeout)
	defer cancel()
	if _, err := s.store.IncrementClicks(clickCtx, code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// deactivated or deleted after the entry was cached
			s.evict(ctx, code)
			return "", ErrLinkNotFound
		}
		metrics.ClickIncrementFailuresTotal.Inc()
		s.logger.Warn("failed to count click", zap.String("code", code), zap.Error(err))
	}

	return entry.DestinationURL, nil
}

// lookup checks the cache and falls back to the store
func (s *LinkService) lookup(ctx context.Context, code string) (*cache.Entry, error) {
	if s.cache != nil {
		entry, err := s.cache.Get(ctx, code)
		if err != nil {
			s.logger.Warn("cache get failed", zap.String("code", code), zap.Error(err))
		}
		if entry != nil {
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			return entry, nil
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	link, err := s.store.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}

	s.cacheLink(ctx, link)
	return &cache.Entry{DestinationURL: link.DestinationURL, ExpiresAt: link.ExpiresAt}, nil
}

func (s *LinkService) cacheLink(ctx context.Context, link *model.Link) {
	if s.cache == nil || link.IsExpired(s.now()) {
		return
	}
	entry := cache.Entry{DestinationURL: link.DestinationURL, ExpiresAt: link.ExpiresAt}
	if err := s.cache.Set(ctx, link.Code, entry); err != nil {
		s.logger.Warn("cache set failed", zap.String("code", link.Code), zap.Error(err))
	}
}

func (s *LinkService) evict(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, code); err != nil {
		s.logger.Warn("cache delete failed", zap.String("code", code), zap.Error(err))
	}
}

// Deactivate soft-deletes a link. Only its owner or an admin may do so.
func (s *LinkService) Deactivate(ctx context.Context, code string, requester model.Creator, admin bool) error {
	if err := s.store.Deactivate(ctx, code, requester, admin); err != nil {
		return mapStoreErr(err)
	}
	s.evict(ctx, code)
	s.logger.Info("link deactivated", zap.String("code", code), zap.String("by", requester.String()), zap.Bool("admin", admin))
	return nil
}

// Delete removes a link permanently, freeing its code
func (s *LinkService) Delete(ctx context.Context, code string, requester model.Creator, admin bool) error {
	if err := s.store.Delete(ctx, code, requester, admin); err != nil {
		return mapStoreErr(err)
	}
	s.evict(ctx, code)
	s.logger.Info("link deleted", zap.String("code", code), zap.String("by", requester.String()), zap.Bool("admin", admin))
	return nil
}

// Info returns the full record, including click count, to its owner or an admin
func (s *LinkService) Info(ctx context.Context, code string, requester model.Creator, admin bool) (*model.Link, error) {
	link, err := s.store.FindByCode(ctx, code)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !admin && !link.OwnedBy(requester) {
		return nil, ErrNotOwner
	}
	return link, nil
}

// ListResult is one page of a creator's links
type ListResult struct {
	Links    []model.Link
	Total    int64
	Page     int
	PageSize int
}

// List returns the creator's links, newest first. Anonymous links have no
// owner and cannot be listed.
func (s *LinkService) List(ctx context.Context, creator model.Creator, page, pageSize int) (*ListResult, error) {
	if creator.IsAnonymous() {
		return nil, ErrNotOwner
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	links, total, err := s.store.ListByCreator(ctx, creator, page, pageSize)
	if err != nil {
		return nil, err
	}
	return &ListResult{Links: links, Total: total, Page: page, PageSize: pageSize}, nil
}

// Now returns the service clock, used to derive link status for listings
func (s *LinkService) Now() time.Time {
	return s.now()
}

// InitBloomFilter loads every stored code into the bloom filter
func (s *LinkService) InitBloomFilter(ctx context.Context) error {
	if s.bloom == nil {
		return nil
	}
	var n int
	err := s.bloom.Rebuild(func() ([]string, error) {
		codes, err := s.store.AllCodes(ctx)
		n = len(codes)
		return codes, err
	})
	if err != nil {
		return err
	}
	s.logger.Info("bloom filter loaded", zap.Int("codes", n))
	return nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrLinkNotFound
	}
	return err
}
