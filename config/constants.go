package config

// CLI verbosity levels. Config files, environment and flags use these;
// Config.LogLvl holds the converted util.LogLevel.
const (
	ErrorVerbose = iota + 1
	WarnVerbose
	InfoVerbose
	DebugVerbose
	TraceVerbose
)

// EnvPrefix prefixes every environment override, e.g. TARFS_ATTR_TIMEOUT.
const EnvPrefix = "TARFS"
