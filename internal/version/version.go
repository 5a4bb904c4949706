package version

// Set at build time via -ldflags "-X github.com/Layr-Labs/unichain-indexer/internal/version.Version=..."
var (
	Version = "unset"
	Commit  = "unset"
)

func GetVersion() string {
	return Version
}

func GetCommit() string {
	return Commit
}
