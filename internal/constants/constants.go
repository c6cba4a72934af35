package constants

// App
const (
	AppName        = "assetbank"
	AppDisplayName = "AssetBank"
)

// Hashes
const (
	HashAlgo      = "blake3"
	HashPrefix    = "blake3:"
	HashHexLength = 64 // 32 bytes = 64 hex chars
)

// Roots known to the scanner and the upload tag contract.
const (
	RootModels = "models"
	RootInput  = "input"
	RootOutput = "output"
)

// AllowedRoots is the fixed set of top-level roots, in contract order.
var AllowedRoots = []string{RootModels, RootInput, RootOutput}

// Tag vocabulary
const (
	TagTypeUser   = "user"
	TagTypeSystem = "system"

	TagOriginManual    = "manual"
	TagOriginAutomatic = "automatic"

	// MissingTag is the reserved system tag applied by the scanner to
	// AssetInfos whose asset has no fast-ok path on disk.
	MissingTag = "missing"
)

// ReservedMetadataKeyFilename is server-computed and merged into
// user_metadata on every rewrite; callers cannot own it.
const ReservedMetadataKeyFilename = "filename"

// Limits
const (
	MaxAssetNameLength = 512
	MaxExtensionLength = 16 // longer client extensions are dropped

	DefaultAssetsPageLimit = 20
	MaxAssetsPageLimit     = 500
	DefaultTagsPageLimit   = 100
	MaxTagsPageLimit       = 1000

	// MaxBindParams caps bound parameters per statement. SQLite's historic
	// default is 999; 800 leaves headroom for fixed params in the head of
	// a statement. Bulk writes chunk rows as MaxBindParams / columns.
	MaxBindParams = 800
)

// Upload
const (
	UploadTempDirName   = "uploads"
	UploadPartFilename  = ".upload.part"
	DownloadChunkSize   = 64 * 1024
	MultipartMaxMemory  = 4 << 20 // non-file form fields only
	DefaultMimeType     = "application/octet-stream"
)

// API
const (
	DefaultListenAddr = "127.0.0.1:8188"

	HeaderContentType = "Content-Type"
	HeaderOwnerID     = "X-Owner-Id"
	ContentTypeJSON   = "application/json"
)

// Persistence
const (
	StateDirName   = ".assetbank"
	DatabaseName   = "catalog.db"
	LogFileName    = "assetbank.log"
	DirPermissions = 0o755
)

// SQLitePragmas are applied immediately after opening any connection.
var SQLitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
}

// Audit log
const (
	AuditDefaultQueryLimit = 100
	AuditMaxQueryLimit     = 1000

	// Size management: when the database file exceeds the cap, the oldest
	// slice of entries is purged.
	AuditCleanupIntervalMins = 60
	AuditMaxLogSizeBytes     = 256 << 20
	AuditPurgePercentage     = 20
	AuditMinPurgeEntries     = 1000
)

// Logging
const (
	DefaultLogLevel    = "debug"
	LogTimestampFormat = "2006-01-02 15:04:05"
)

// Shutdown
const ShutdownTimeoutSecs = 10
