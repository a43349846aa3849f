package forensics

// Plugin describes one named analysis routine from the external engine,
// scoped to an operating system. Plugins are read-only input to the pipeline
// and immutable during a run.
type Plugin struct {
	// Name is the engine's fully qualified plugin identifier,
	// e.g. "linux.pslist.PsList".
	Name string

	// OperatingSystem is the platform the plugin applies to.
	OperatingSystem OperatingSystem

	// Disabled excludes the plugin from dispatch entirely.
	Disabled bool

	// LocalExtraction indicates the plugin can recover files from memory and
	// that its output directory should be prepared. AlwaysExtract enables
	// extraction even when the caller did not request it.
	LocalExtraction bool
	AlwaysExtract   bool

	// ReputationLookup enables the per-file reputation fan-out sub-task.
	ReputationLookup bool

	// AntivirusScan enables the batch antivirus pass over extracted files.
	AntivirusScan bool

	// StructuredReparse enables the per-file registry hive re-parse sub-task.
	StructuredReparse bool

	// RuleScan marks rule-based scanning plugins that need a rule set
	// injected when the caller did not supply one.
	RuleScan bool
}

// BannerPluginName is the engine plugin that extracts the OS identification
// banner. It runs synchronously during artifact preparation and is excluded
// from regular dispatch on banner-gated platforms.
const BannerPluginName = "banners.Banners"

// IsBanner reports whether this is the banner detection plugin.
func (p Plugin) IsBanner() bool { return p.Name == BannerPluginName }

// RuleParameterNames are the engine parameters that carry an explicit rule
// set for rule-based scanning plugins. When none is present the invoking
// user's default rule is injected.
var RuleParameterNames = []string{"yara_file", "yara_compiled_file", "yara_rules"}
