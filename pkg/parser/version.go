package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Version describes the tool binary.
type Version struct {
	Version            string            `json:"version"`
	Platform           string            `json:"platform,omitempty"`
	ProviderSelections map[string]string `json:"provider_selections,omitempty"`
	Outdated           bool              `json:"outdated,omitempty"`
}

var semverRe = regexp.MustCompile(`v?(\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?)`)

// ParseVersion prefers `version -json` output and falls back to the first
// semantic version in plain text.
func ParseVersion(text string) (*Version, error) {
	var doc struct {
		TerraformVersion   string            `json:"terraform_version"`
		TofuVersion        string            `json:"tofu_version"`
		ToolVersion        string            `json:"tool_version"`
		Platform           string            `json:"platform"`
		ProviderSelections map[string]string `json:"provider_selections"`
		Outdated           bool              `json:"terraform_outdated"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &doc); err == nil {
		v := firstNonEmpty(doc.TerraformVersion, doc.TofuVersion, doc.ToolVersion)
		if v != "" {
			return &Version{
				Version:            v,
				Platform:           doc.Platform,
				ProviderSelections: doc.ProviderSelections,
				Outdated:           doc.Outdated,
			}, nil
		}
	}

	if m := semverRe.FindStringSubmatch(text); m != nil {
		return &Version{Version: m[1]}, nil
	}
	return nil, fmt.Errorf("%w: no version found", ErrMalformedOutput)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
