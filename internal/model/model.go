// Package model holds the shared vocabulary of the build pipeline: build
// profiles, statuses, candidate types, and the fixed pass order (§3, §4.4).
package model

// BuildProfile enumerates the catalogs of required source slots (§3).
type BuildProfile string

const (
	ProfileGBCore    BuildProfile = "gb_core"
	ProfileGBCorePPD BuildProfile = "gb_core_ppd"
	ProfileCoreNI    BuildProfile = "core_ni"
)

// requiredSources maps each build profile to its required source slots.
// "ppd" (present only in gb_core_ppd) is the one slot that may carry more
// than one ingest run (§3, §4.3).
var requiredSources = map[BuildProfile][]string{
	ProfileGBCore: {
		"onspd", "os_open_usrn", "os_open_names", "os_open_roads",
		"os_open_uprn", "os_open_lids", "nsul",
	},
	ProfileGBCorePPD: {
		"onspd", "os_open_usrn", "os_open_names", "os_open_roads",
		"os_open_uprn", "os_open_lids", "nsul", "ppd",
	},
	ProfileCoreNI: {
		"onspd", "osni_gazetteer", "dfi_highway",
	},
}

// RequiredSources returns the source slots a profile requires, or nil if
// the profile is unknown.
func RequiredSources(profile BuildProfile) []string {
	return requiredSources[profile]
}

// ValidProfile reports whether profile is one of the three known profiles.
func ValidProfile(profile BuildProfile) bool {
	_, ok := requiredSources[profile]
	return ok
}

// MultiRunSource reports whether a source slot may carry more than one
// ingest run (only "ppd", per §3/§4.3); the answer is the same for every
// profile.
func MultiRunSource(source string) bool {
	return source == "ppd"
}

// BundleStatus is the lifecycle state of a Bundle (§3).
type BundleStatus string

const (
	BundleCreated   BundleStatus = "created"
	BundleBuilt     BundleStatus = "built"
	BundlePublished BundleStatus = "published"
)

// RunStatus is the lifecycle state of a BuildRun (§3).
type RunStatus string

const (
	RunStarted   RunStatus = "started"
	RunFailed    RunStatus = "failed"
	RunBuilt     RunStatus = "built"
	RunPublished RunStatus = "published"
)

// Confidence is the three-level evidence confidence tag (§3).
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Rank returns the numeric rank used by the finaliser's conf_rank
// aggregation (§4.7 step 1): high=3, medium=2, low=1.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// CandidateType is one of the eight fixed evidence-source tags (§3, §4.7).
type CandidateType string

const (
	CandidateNamesPostcodeFeature CandidateType = "names_postcode_feature"
	CandidateOLIToidUsrn          CandidateType = "oli_toid_usrn"
	CandidateUprnUsrn             CandidateType = "uprn_usrn"
	CandidateSpatialOSOpenRoads   CandidateType = "spatial_os_open_roads"
	CandidateOSNIGazetteerDirect  CandidateType = "osni_gazetteer_direct"
	CandidateSpatialDFIHighway   CandidateType = "spatial_dfi_highway"
	CandidatePPDParseMatched      CandidateType = "ppd_parse_matched"
	CandidatePPDParseUnmatched    CandidateType = "ppd_parse_unmatched"
)

// LineageRelation enumerates the (currently singleton) relation types in
// the candidate lineage graph (§3).
type LineageRelation string

const (
	RelationPromotionToidUsrn LineageRelation = "promotion_toid_usrn"
)

// PassName identifies a pass in the fixed dispatch order (§4.4).
type PassName string

const (
	Pass0aRawIngest            PassName = "0a_raw_ingest"
	Pass0bStageNormalisation   PassName = "0b_stage_normalisation"
	Pass1ONSPDBackbone         PassName = "1_onspd_backbone"
	Pass2GBCanonicalStreets    PassName = "2_gb_canonical_streets"
	Pass3OpenNamesCandidates   PassName = "3_open_names_candidates"
	Pass4UPRNReinforcement     PassName = "4_uprn_reinforcement"
	Pass5GBSpatialFallback     PassName = "5_gb_spatial_fallback"
	Pass6NICandidates          PassName = "6_ni_candidates"
	Pass7PPDGapFill            PassName = "7_ppd_gap_fill"
	Pass8Finalisation          PassName = "8_finalisation"

	PassInitialising PassName = "initialising"
	PassComplete     PassName = "complete"
)

// PassOrder is the fixed dispatch order from §4.4.
var PassOrder = []PassName{
	Pass0aRawIngest,
	Pass0bStageNormalisation,
	Pass1ONSPDBackbone,
	Pass2GBCanonicalStreets,
	Pass3OpenNamesCandidates,
	Pass4UPRNReinforcement,
	Pass5GBSpatialFallback,
	Pass6NICandidates,
	Pass7PPDGapFill,
	Pass8Finalisation,
}

// RebuildDeleteOrder is the children-first deletion order used when a run
// is rebuilt from scratch (§4.4).
var RebuildDeleteOrder = []string{
	"unit_index",
	"postcode_streets_final_source",
	"postcode_streets_final_candidate",
	"postcode_street_candidate_lineage",
	"postcode_streets_final",
	"postcode_street_candidates",
	"postcodes_meta",
	"streets_usrn",
	"postcodes",
	"canonical_hash",
	"build_pass_checkpoint",
}

// DatasetVersion derives the "v3_<first-12-hex>" dataset version from a
// bundle hash (§9).
func DatasetVersion(bundleHash string) string {
	n := len(bundleHash)
	if n > 12 {
		n = 12
	}
	return "v3_" + bundleHash[:n]
}
