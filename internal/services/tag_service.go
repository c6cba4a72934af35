package services

import (
	"fmt"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
)

// TagService manages the tag vocabulary and per-handle tag links.
type TagService struct {
	services *Services
	logger   *logger.Logger
}

// NewTagService creates a new tag service
func NewTagService(services *Services) *TagService {
	return &TagService{
		services: services,
		logger:   services.Logger(),
	}
}

// rejectReservedTags refuses system tags the scanner owns. Callers cannot
// add or remove them through the public tag operations.
func rejectReservedTags(tags []string) error {
	for _, tag := range tags {
		if tag == constants.MissingTag {
			return NewServiceError(constants.ErrCodeInvalidBody,
				fmt.Sprintf("tag %q is reserved and managed by the scanner", tag))
		}
	}
	return nil
}

// TagMutationResult reports a tag add/remove outcome.
type TagMutationResult struct {
	Added          []string
	AlreadyPresent []string
	Removed        []string
	NotPresent     []string
	TotalTags      []string
}

// AddTags links manual tags to a visible handle, creating vocabulary
// entries as needed.
func (ts *TagService) AddTags(infoID, ownerID string, tags []string) (*TagMutationResult, error) {
	normalized := database.NormalizeTags(tags)
	if err := rejectReservedTags(normalized); err != nil {
		return nil, err
	}

	tx, err := ts.services.DB().Begin()
	if err != nil {
		return nil, WrapInternalError(err)
	}
	defer tx.Rollback()

	info, err := database.GetAssetInfoByID(tx, infoID, ownerID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if info == nil {
		return nil, ErrAssetNotFound
	}

	if err := database.EnsureTagsExist(tx, normalized, constants.TagTypeUser); err != nil {
		return nil, WrapInternalError(err)
	}
	added, present, err := database.AddTagsToAssetInfo(tx, info.ID, normalized, constants.TagOriginManual)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	total, err := database.GetAssetTags(tx, info.ID)
	if err != nil {
		return nil, WrapInternalError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, WrapInternalError(err)
	}

	if len(added) > 0 {
		ts.services.auditLog(constants.AuditActionTagsAdded, ownerID, audit.TagDetails{
			AssetInfoID: infoID,
			Tags:        added,
		})
	}
	return &TagMutationResult{Added: added, AlreadyPresent: present, TotalTags: total}, nil
}

// RemoveTags unlinks tags from a visible handle.
func (ts *TagService) RemoveTags(infoID, ownerID string, tags []string) (*TagMutationResult, error) {
	normalized := database.NormalizeTags(tags)
	if err := rejectReservedTags(normalized); err != nil {
		return nil, err
	}

	tx, err := ts.services.DB().Begin()
	if err != nil {
		return nil, WrapInternalError(err)
	}
	defer tx.Rollback()

	info, err := database.GetAssetInfoByID(tx, infoID, ownerID)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	if info == nil {
		return nil, ErrAssetNotFound
	}

	removed, notPresent, err := database.RemoveTagsFromAssetInfo(tx, info.ID, normalized)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	total, err := database.GetAssetTags(tx, info.ID)
	if err != nil {
		return nil, WrapInternalError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, WrapInternalError(err)
	}

	if len(removed) > 0 {
		ts.services.auditLog(constants.AuditActionTagsRemoved, ownerID, audit.TagDetails{
			AssetInfoID: infoID,
			Tags:        removed,
		})
	}
	return &TagMutationResult{Removed: removed, NotPresent: notPresent, TotalTags: total}, nil
}

// TagPage is one page of the vocabulary listing with usage counts.
type TagPage struct {
	Tags    []database.TagUsage
	Total   int64
	HasMore bool
}

// ListTags lists vocabulary entries with usage counts visible to the caller.
func (ts *TagService) ListTags(opts database.ListTagsOptions) (*TagPage, error) {
	tags, total, err := database.ListTagsWithUsage(ts.services.DB(), opts)
	if err != nil {
		return nil, WrapInternalError(err)
	}
	return &TagPage{
		Tags:    tags,
		Total:   total,
		HasMore: int64(opts.Offset+len(tags)) < total,
	}, nil
}
