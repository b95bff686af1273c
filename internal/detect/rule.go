// Package detect evaluates normalized events against the detection rule
// set and produces alerts with MITRE ATT&CK technique mappings.
package detect

import (
	"strings"

	"argus-siem/internal/schema"
)

// Rule describes one detection. Pattern rules match on event_type
// substrings; threshold rules fire on risk signals.
type Rule struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Pattern          string  `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	MITRETechniqueID string  `json:"mitre_technique_id" yaml:"mitre_technique_id"`
	Weight           float64 `json:"weight" yaml:"weight"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`

	// Threshold rule fields. Zero means the threshold is not used.
	MinUserRisk  float64 `json:"min_user_risk,omitempty" yaml:"min_user_risk,omitempty"`
	MinAssetCrit float64 `json:"min_asset_crit,omitempty" yaml:"min_asset_crit,omitempty"`
}

// Matches reports whether the rule fires for the event.
func (r *Rule) Matches(event *schema.LogEvent) bool {
	if r.Pattern != "" {
		return strings.Contains(event.EventType, r.Pattern)
	}
	if r.MinUserRisk > 0 && event.UserRiskScore > r.MinUserRisk {
		return true
	}
	if r.MinAssetCrit > 0 && event.AssetCriticality > r.MinAssetCrit {
		return true
	}
	return false
}

// DefaultTechniqueID is assigned when a threshold rule fires without a
// pattern-specific technique mapping.
const DefaultTechniqueID = "T1003"

// BuiltinRules is the default detection set, ordered by precedence for
// tie-breaking between equal-severity matches.
func BuiltinRules() []*Rule {
	return []*Rule{
		{
			ID:               "data-exfiltration",
			Name:             "Data exfiltration",
			Pattern:          "exfiltration",
			MITRETechniqueID: "T1041",
			Weight:           45,
			Description:      "Data transfer over existing command and control channel",
		},
		{
			ID:               "malware-detection",
			Name:             "Malware detected",
			Pattern:          "malware",
			MITRETechniqueID: "T1055",
			Weight:           45,
			Description:      "Process injection or known-bad binary observed",
		},
		{
			ID:               "privilege-escalation",
			Name:             "Privilege escalation",
			Pattern:          "privilege",
			MITRETechniqueID: "T1068",
			Weight:           40,
			Description:      "Exploitation for privilege escalation",
		},
		{
			ID:               "account-manipulation",
			Name:             "Account manipulation",
			Pattern:          "account_manipulation",
			MITRETechniqueID: "T1098",
			Weight:           35,
			Description:      "Account settings or credentials modified",
		},
		{
			ID:               "unauthorized-access",
			Name:             "Unauthorized access",
			Pattern:          "unauthorized",
			MITRETechniqueID: "T1078",
			Weight:           30,
			Description:      "Valid accounts used outside policy",
		},
		{
			ID:               "suspicious-network",
			Name:             "Suspicious network activity",
			Pattern:          "suspicious",
			MITRETechniqueID: "T1043",
			Weight:           25,
			Description:      "Unusual port or protocol usage",
		},
		{
			ID:               "anomalous-activity",
			Name:             "Anomalous activity",
			Pattern:          "anomalous",
			MITRETechniqueID: "T1043",
			Weight:           20,
			Description:      "Behavior outside the observed baseline",
		},
		{
			ID:               "brute-force",
			Name:             "Brute force",
			Pattern:          "failed_login",
			MITRETechniqueID: "T1110.001",
			Weight:           20,
			Description:      "Repeated password guessing",
		},
		{
			ID:               "high-risk-user",
			Name:             "High risk user activity",
			MITRETechniqueID: DefaultTechniqueID,
			Weight:           25,
			MinUserRisk:      70,
			Description:      "Activity from an account with elevated risk",
		},
		{
			ID:               "critical-asset",
			Name:             "Critical asset touched",
			MITRETechniqueID: DefaultTechniqueID,
			Weight:           25,
			MinAssetCrit:     80,
			Description:      "Activity against a critical asset",
		},
	}
}
