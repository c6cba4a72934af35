package services

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"assetbank/internal/audit"
	"assetbank/internal/constants"
	"assetbank/internal/database"
	"assetbank/internal/logger"
)

// ScannerService reconciles the catalog against the filesystem roots. A
// pass runs in four phases, each committing independently, so a failure in
// one phase never rolls back the progress of the others.
type ScannerService struct {
	services *Services
	logger   *logger.Logger

	// Serializes passes. The scanner may run concurrently with serving,
	// but two overlapping passes would fight over needs_verify bits.
	scanMu sync.Mutex
}

// NewScannerService creates a new scanner service
func NewScannerService(services *Services) *ScannerService {
	return &ScannerService{
		services: services,
		logger:   services.Logger(),
	}
}

// ScanSummary reports what one pass changed.
type ScanSummary struct {
	Roots           []string
	FilesDiscovered int
	StatesVerified  int
	StatesFlagged   int
	StatesDeleted   int64
	AssetsDeleted   int64
	Duration        time.Duration
}

// seedSpec is one newly discovered file awaiting batch insertion.
type seedSpec struct {
	path    string
	size    int64
	mtimeNS int64
	name    string
	tags    []string
	relName string
	assetID string
	infoID  string
}

// Scan runs a full pass over the given roots. Unknown root names are
// rejected; an empty list means all roots.
func (sc *ScannerService) Scan(roots []string) (*ScanSummary, error) {
	if len(roots) == 0 {
		roots = constants.AllowedRoots
	}
	for _, r := range roots {
		if sc.services.Classifier().PrefixesForRoot(r) == nil && r != constants.RootModels {
			return nil, NewServiceError(constants.ErrCodeInvalidBody, "unknown root: "+r)
		}
	}

	sc.scanMu.Lock()
	defer sc.scanMu.Unlock()

	start := time.Now()
	summary := &ScanSummary{Roots: roots}

	for _, root := range roots {
		if err := sc.reconcileRoot(root, summary); err != nil {
			sc.logger.Error("scan: reconcile phase failed for root %s: %v", root, err)
		}
	}

	if err := sc.pruneOutsideRoots(summary); err != nil {
		sc.logger.Error("scan: prune phase failed: %v", err)
	}

	specs := sc.discover(roots, summary)

	if len(specs) > 0 {
		if err := sc.batchSeed(specs); err != nil {
			sc.logger.Error("scan: seed phase failed: %v", err)
		}
	}

	summary.Duration = time.Since(start)
	sc.logger.Info("scan: pass over %v finished in %s: %s files discovered, %d states verified, %d flagged, %d deleted, %d assets deleted",
		roots, summary.Duration.Round(time.Millisecond),
		humanize.Comma(int64(summary.FilesDiscovered)),
		summary.StatesVerified, summary.StatesFlagged, summary.StatesDeleted, summary.AssetsDeleted)

	sc.services.auditLog(constants.AuditActionScanCompleted, "", audit.ScanDetails{
		Roots:           roots,
		FilesDiscovered: summary.FilesDiscovered,
		StatesVerified:  summary.StatesVerified,
		StatesFlagged:   summary.StatesFlagged,
		StatesDeleted:   summary.StatesDeleted,
		AssetsDeleted:   summary.AssetsDeleted,
		DurationMs:      summary.Duration.Milliseconds(),
	})
	return summary, nil
}

// reconcileRoot is phase 1: stat every known path under the root's bases
// and bring needs_verify, the missing tag, and stale rows up to date.
func (sc *ScannerService) reconcileRoot(root string, summary *ScanSummary) error {
	prefixes := sc.services.Classifier().PrefixesForRoot(root)
	if len(prefixes) == 0 {
		return nil
	}

	tx, err := sc.services.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	states, err := database.GetCacheStatesForPrefixes(tx, prefixes)
	if err != nil {
		return err
	}

	type statedState struct {
		database.CacheStateWithAsset
		exists bool
		fastOK bool
	}
	byAsset := make(map[string][]statedState)
	for _, s := range states {
		ss := statedState{CacheStateWithAsset: s}
		if st, err := os.Stat(s.FilePath); err == nil {
			ss.exists = true
			ss.fastOK = s.MtimeNS == st.ModTime().UnixNano() &&
				(s.SizeBytes == 0 || s.SizeBytes == st.Size())
		}
		byAsset[s.AssetID] = append(byAsset[s.AssetID], ss)
	}

	var setVerify, clearVerify []int64
	var deleteStates []int64
	var deleteAssets []string

	for assetID, group := range byAsset {
		anyExists, anyFastOK := false, false
		for _, s := range group {
			if s.exists {
				anyExists = true
			}
			if s.fastOK {
				anyFastOK = true
			}
		}
		isSeed := !group[0].AssetHash.Valid

		switch {
		case isSeed && !anyExists:
			// A seed with no surviving path carries no information.
			deleteAssets = append(deleteAssets, assetID)
		case isSeed:
			// Leave; the verify pass hashes surviving seed paths.
		case anyFastOK:
			for _, s := range group {
				if !s.exists {
					deleteStates = append(deleteStates, s.StateID)
				}
			}
			if err := database.RemoveMissingTagFromAssetInfos(tx, assetID); err != nil {
				sc.logger.Warn("scan: failed to clear missing tag for asset %s: %v", assetID, err)
			}
		default:
			if err := database.AddMissingTagToAssetInfos(tx, assetID); err != nil {
				sc.logger.Warn("scan: failed to add missing tag for asset %s: %v", assetID, err)
			}
		}

		for _, s := range group {
			switch {
			case s.fastOK && s.NeedsVerify:
				clearVerify = append(clearVerify, s.StateID)
			case s.exists && !s.fastOK && !s.NeedsVerify:
				setVerify = append(setVerify, s.StateID)
			}
			if s.fastOK {
				summary.StatesVerified++
			} else if s.exists {
				summary.StatesFlagged++
			}
		}
	}

	maxBind := sc.services.maxBindParams()
	if err := database.BulkSetNeedsVerify(tx, setVerify, true, maxBind); err != nil {
		return err
	}
	if err := database.BulkSetNeedsVerify(tx, clearVerify, false, maxBind); err != nil {
		return err
	}
	deletedStates, err := database.DeleteCacheStatesByIDs(tx, deleteStates, maxBind)
	if err != nil {
		return err
	}
	summary.StatesDeleted += deletedStates
	deletedAssets, err := database.DeleteAssetsByIDs(tx, deleteAssets, maxBind)
	if err != nil {
		return err
	}
	summary.AssetsDeleted += deletedAssets

	return tx.Commit()
}

// pruneOutsideRoots is phase 2: drop locators that fall outside every
// configured base, then seed assets left without any locator.
func (sc *ScannerService) pruneOutsideRoots(summary *ScanSummary) error {
	var allPrefixes []string
	for _, root := range constants.AllowedRoots {
		allPrefixes = append(allPrefixes, sc.services.Classifier().PrefixesForRoot(root)...)
	}

	tx, err := sc.services.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	n, err := database.DeleteCacheStatesOutsidePrefixes(tx, allPrefixes)
	if err != nil {
		return err
	}
	summary.StatesDeleted += n

	orphans, err := database.GetOrphanedSeedAssetIDs(tx)
	if err != nil {
		return err
	}
	deleted, err := database.DeleteAssetsByIDs(tx, orphans, sc.services.maxBindParams())
	if err != nil {
		return err
	}
	summary.AssetsDeleted += deleted

	return tx.Commit()
}

// discover is phase 3: walk the selected roots and collect files the
// catalog does not know yet.
func (sc *ScannerService) discover(roots []string, summary *ScanSummary) []seedSpec {
	known := sc.knownPaths(roots)

	var specs []seedSpec
	var totalSize int64
	for _, root := range roots {
		for _, base := range sc.services.Classifier().PrefixesForRoot(root) {
			err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					sc.logger.Debug("scan: walk error at %s: %v", path, err)
					return nil
				}
				if d.Type()&fs.ModeSymlink != 0 {
					if d.IsDir() {
						return filepath.SkipDir
					}
					return nil
				}
				if d.IsDir() {
					return nil
				}
				if known[path] {
					return nil
				}
				st, err := d.Info()
				if err != nil || st.Size() == 0 {
					return nil
				}
				name, tags, err := sc.services.Classifier().NameAndTags(path)
				if err != nil {
					return nil
				}
				rel, err := sc.services.Classifier().RelativeFilename(path)
				if err != nil {
					rel = name
				}
				specs = append(specs, seedSpec{
					path:    path,
					size:    st.Size(),
					mtimeNS: st.ModTime().UnixNano(),
					name:    name,
					tags:    tags,
					relName: rel,
				})
				totalSize += st.Size()
				return nil
			})
			if err != nil {
				sc.logger.Warn("scan: walk failed for %s: %v", base, err)
			}
		}
	}

	summary.FilesDiscovered = len(specs)
	if len(specs) > 0 {
		sc.logger.Info("scan: discovered %d new files totaling %s", len(specs), humanize.Bytes(uint64(totalSize)))
	}
	return specs
}

// knownPaths loads every cataloged path under the selected roots.
func (sc *ScannerService) knownPaths(roots []string) map[string]bool {
	var prefixes []string
	for _, root := range roots {
		prefixes = append(prefixes, sc.services.Classifier().PrefixesForRoot(root)...)
	}
	known := make(map[string]bool)
	states, err := database.GetCacheStatesForPrefixes(sc.services.DB(), prefixes)
	if err != nil {
		sc.logger.Warn("scan: failed to load known paths: %v", err)
		return known
	}
	for _, s := range states {
		known[s.FilePath] = true
	}
	return known
}

// batchSeed is phase 4: insert seed assets, claim paths first-writer-wins,
// drop losers, then attach handles, tag links, and the filename meta row.
func (sc *ScannerService) batchSeed(specs []seedSpec) error {
	now := database.NowNS()
	for i := range specs {
		specs[i].assetID = uuid.NewString()
		specs[i].infoID = uuid.NewString()
	}

	tx, err := sc.services.DB().Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	maxBind := sc.services.maxBindParams()

	assetRows := make([]database.AssetSeedRow, len(specs))
	stateRows := make([]database.CacheStateSeedRow, len(specs))
	pathList := make([]string, len(specs))
	for i, s := range specs {
		assetRows[i] = database.AssetSeedRow{ID: s.assetID, SizeBytes: s.size, CreatedAt: now}
		stateRows[i] = database.CacheStateSeedRow{AssetID: s.assetID, FilePath: s.path, MtimeNS: s.mtimeNS}
		pathList[i] = s.path
	}
	if err := database.BulkInsertSeedAssets(tx, assetRows, maxBind); err != nil {
		return err
	}
	if err := database.BulkInsertCacheStatesIgnoreConflicts(tx, stateRows, maxBind); err != nil {
		return err
	}

	winners, err := database.GetWinningAssetIDsForPaths(tx, pathList, maxBind)
	if err != nil {
		return err
	}
	var winnerSpecs []seedSpec
	var loserAssets []string
	for _, s := range specs {
		if winners[s.path] == s.assetID {
			winnerSpecs = append(winnerSpecs, s)
		} else {
			loserAssets = append(loserAssets, s.assetID)
		}
	}
	if _, err := database.DeleteAssetsByIDs(tx, loserAssets, maxBind); err != nil {
		return err
	}

	infoRows := make([]database.InfoSeedRow, len(winnerSpecs))
	infoIDs := make([]string, len(winnerSpecs))
	tagSet := map[string]bool{}
	for i, s := range winnerSpecs {
		infoRows[i] = database.InfoSeedRow{ID: s.infoID, AssetID: s.assetID, OwnerID: "", Name: s.name, CreatedAt: now}
		infoIDs[i] = s.infoID
		for _, t := range s.tags {
			tagSet[t] = true
		}
	}
	if err := database.BulkInsertAssetInfosIgnoreConflicts(tx, infoRows, maxBind); err != nil {
		return err
	}
	surviving, err := database.GetExistingAssetInfoIDs(tx, infoIDs, maxBind)
	if err != nil {
		return err
	}

	var vocab []string
	for t := range tagSet {
		vocab = append(vocab, t)
	}
	if err := database.EnsureTagsExist(tx, database.NormalizeTags(vocab), constants.TagTypeUser); err != nil {
		return err
	}

	var links []database.TagLinkRow
	var metaRows []database.AssetInfoMeta
	for _, s := range winnerSpecs {
		if !surviving[s.infoID] {
			continue
		}
		for _, t := range s.tags {
			links = append(links, database.TagLinkRow{
				AssetInfoID: s.infoID,
				TagName:     t,
				Origin:      constants.TagOriginAutomatic,
				AddedAt:     now,
			})
		}
		metaRows = append(metaRows, database.ProjectKV(s.infoID, constants.ReservedMetadataKeyFilename, s.relName)...)
		raw, err := json.Marshal(map[string]interface{}{constants.ReservedMetadataKeyFilename: s.relName})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE asset_infos SET user_metadata = ? WHERE id = ?`, string(raw), s.infoID); err != nil {
			return err
		}
	}
	if err := database.BulkInsertTagLinksIgnoreConflicts(tx, links, maxBind); err != nil {
		return err
	}
	if err := database.InsertMetaRows(tx, metaRows, maxBind); err != nil {
		return err
	}

	return tx.Commit()
}
