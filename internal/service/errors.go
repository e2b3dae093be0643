package service

import (
	"errors"

	"github.com/Monthlyaway/shortlinkd/internal/quota"
	"github.com/Monthlyaway/shortlinkd/internal/repository"
	"github.com/Monthlyaway/shortlinkd/internal/utils"
)

// Errors returned by LinkService. Some alias lower-level sentinels so that
// errors.Is works regardless of which layer produced them.
var (
	ErrInvalidURL       = utils.ErrInvalidURL
	ErrAliasBadFormat   = utils.ErrAliasBadFormat
	ErrAliasReserved    = utils.ErrAliasReserved
	ErrQuotaExceeded    = quota.ErrQuotaExceeded
	ErrNotOwner         = repository.ErrNotOwner
	ErrStoreUnavailable = repository.ErrStoreUnavailable

	ErrAliasTaken         = errors.New("alias already taken")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique short code")
	ErrLinkNotFound       = errors.New("link not found")
	ErrLinkExpired        = errors.New("link expired")
)

// ErrorCode returns a stable machine-readable code for err
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidURL):
		return "INVALID_URL"
	case errors.Is(err, ErrAliasBadFormat):
		return "ALIAS_BAD_FORMAT"
	case errors.Is(err, ErrAliasReserved):
		return "ALIAS_RESERVED"
	case errors.Is(err, ErrAliasTaken):
		return "ALIAS_TAKEN"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrCodeSpaceExhausted):
		return "CODE_SPACE_EXHAUSTED"
	case errors.Is(err, ErrLinkNotFound):
		return "LINK_NOT_FOUND"
	case errors.Is(err, ErrLinkExpired):
		return "LINK_EXPIRED"
	case errors.Is(err, ErrNotOwner):
		return "NOT_OWNER"
	case errors.Is(err, ErrStoreUnavailable):
		return "STORE_UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}
