package services

import (
	"os"
	"sync"
	"time"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
)

// VerifyService re-hashes content the scanner could not fast-check: states
// flagged needs_verify, and seed assets that have never been hashed.
type VerifyService struct {
	services *Services
	logger   *logger.Logger

	verifyMu sync.Mutex
}

// NewVerifyService creates a new verify service
func NewVerifyService(services *Services) *VerifyService {
	return &VerifyService{
		services: services,
		logger:   services.Logger(),
	}
}

// VerifySummary reports what one verify pass changed.
type VerifySummary struct {
	StatesChecked int
	StatesCleared int
	SeedsPromoted int
	SeedsMerged   int
	Duration      time.Duration
}

// Run re-hashes flagged states and seed paths. Hashing happens outside any
// transaction; each state's resolution is its own short write.
func (vs *VerifyService) Run() (*VerifySummary, error) {
	vs.verifyMu.Lock()
	defer vs.verifyMu.Unlock()

	start := time.Now()
	summary := &VerifySummary{}

	flagged, err := database.GetStatesNeedingVerify(vs.services.DB())
	if err != nil {
		return nil, WrapInternalError(err)
	}
	for _, state := range flagged {
		summary.StatesChecked++
		if vs.verifyFlaggedState(state) {
			summary.StatesCleared++
		}
	}

	seeds, err := database.GetSeedStates(vs.services.DB())
	if err != nil {
		return nil, WrapInternalError(err)
	}
	for _, state := range seeds {
		promoted, merged := vs.resolveSeedState(state)
		if promoted {
			summary.SeedsPromoted++
		}
		if merged {
			summary.SeedsMerged++
		}
	}

	summary.Duration = time.Since(start)
	vs.logger.Info("verify: pass finished in %s: %d states checked, %d cleared, %d seeds promoted, %d merged",
		summary.Duration.Round(time.Millisecond),
		summary.StatesChecked, summary.StatesCleared, summary.SeedsPromoted, summary.SeedsMerged)

	vs.services.auditLog(constants.AuditActionVerifyCompleted, "", audit.VerifyDetails{
		StatesChecked: summary.StatesChecked,
		StatesCleared: summary.StatesCleared,
		SeedsPromoted: summary.SeedsPromoted,
		SeedsMerged:   summary.SeedsMerged,
		DurationMs:    summary.Duration.Milliseconds(),
	})
	return summary, nil
}

// verifyFlaggedState re-hashes one flagged path. A matching hash clears the
// flag and refreshes the stored mtime; a mismatch repoints the path at the
// content actually found there (the file was replaced in place).
func (vs *VerifyService) verifyFlaggedState(state database.CacheStateWithAsset) bool {
	st, err := os.Stat(state.FilePath)
	if err != nil {
		// The scanner's next reconcile pass handles missing paths.
		return false
	}
	hash, size, err := HashFile(state.FilePath)
	if err != nil {
		vs.logger.Warn("verify: failed to hash %s: %v", state.FilePath, err)
		return false
	}

	if state.AssetHash.Valid && state.AssetHash.String == hash {
		tx, err := vs.services.DB().Begin()
		if err != nil {
			vs.logger.Warn("verify: %v", err)
			return false
		}
		defer tx.Rollback()
		if _, err := tx.Exec(
			`UPDATE asset_cache_states SET mtime_ns = ?, needs_verify = 0 WHERE id = ?`,
			st.ModTime().UnixNano(), state.StateID,
		); err != nil {
			vs.logger.Warn("verify: failed to clear flag for %s: %v", state.FilePath, err)
			return false
		}
		if err := database.RemoveMissingTagFromAssetInfos(tx, state.AssetID); err != nil {
			vs.logger.Warn("verify: failed to clear missing tag for asset %s: %v", state.AssetID, err)
		}
		if err := tx.Commit(); err != nil {
			vs.logger.Warn("verify: %v", err)
			return false
		}
		return true
	}

	// The path now holds different content. Re-ingest it under the hash
	// actually found; the old asset keeps its other paths.
	_, err = vs.services.Ingest.IngestFromPath(IngestParams{
		AbsPath: state.FilePath,
		Hash:    hash,
		Size:    size,
		MtimeNS: st.ModTime().UnixNano(),
	})
	if err != nil {
		vs.logger.Warn("verify: failed to re-ingest %s: %v", state.FilePath, err)
		return false
	}
	return true
}

// resolveSeedState hashes one seed path. If the hash is new, the seed asset
// is promoted in place; if it collides with an existing asset, the seed's
// paths and handles are merged into it and the seed deleted.
func (vs *VerifyService) resolveSeedState(state database.CacheStateWithAsset) (promoted, merged bool) {
	if _, err := os.Stat(state.FilePath); err != nil {
		return false, false
	}
	hash, size, err := HashFile(state.FilePath)
	if err != nil {
		vs.logger.Warn("verify: failed to hash seed %s: %v", state.FilePath, err)
		return false, false
	}

	tx, err := vs.services.DB().Begin()
	if err != nil {
		vs.logger.Warn("verify: %v", err)
		return false, false
	}
	defer tx.Rollback()

	// Another iteration of this loop may already have resolved the asset
	// through a different path.
	current, err := database.GetAssetByID(tx, state.AssetID)
	if err != nil || current == nil || current.Hash.Valid {
		return false, false
	}

	existing, err := database.GetAssetByHash(tx, hash)
	if err != nil {
		vs.logger.Warn("verify: %v", err)
		return false, false
	}

	if existing == nil {
		if err := database.SetAssetHash(tx, state.AssetID, hash, size); err != nil {
			vs.logger.Warn("verify: failed to promote seed %s: %v", state.AssetID, err)
			return false, false
		}
		promoted = true
	} else {
		if err := database.RepointCacheStates(tx, state.AssetID, existing.ID); err != nil {
			vs.logger.Warn("verify: failed to merge seed %s: %v", state.AssetID, err)
			return false, false
		}
		if _, err := tx.Exec(
			`UPDATE OR IGNORE asset_infos SET asset_id = ? WHERE asset_id = ?`,
			existing.ID, state.AssetID,
		); err != nil {
			vs.logger.Warn("verify: failed to move handles for seed %s: %v", state.AssetID, err)
			return false, false
		}
		if _, err := database.DeleteAssetsByIDs(tx, []string{state.AssetID}, vs.services.maxBindParams()); err != nil {
			vs.logger.Warn("verify: failed to delete merged seed %s: %v", state.AssetID, err)
			return false, false
		}
		merged = true
	}

	if err := tx.Commit(); err != nil {
		vs.logger.Warn("verify: %v", err)
		return false, false
	}
	return promoted, merged
}
