package claims

import (
	"fmt"
	"time"
)

// Well-known evidence source types. The set is open: policy snapshots map
// arbitrary source strings to tiers, so these are conveniences, not an enum.
const (
	SourceFirstPartyLog = "first_party_log"
	SourceConfig        = "config"
	SourceRunArtifact   = "run_artifact"
	SourceInternalDoc   = "internal_doc"
	SourceWeb           = "web"
	SourceLLMSelf       = "llm_self"
)

// Evidence is an immutable provenance record supporting a claim.
// Created once at proposal time; never mutated.
type Evidence struct {
	ID           string    `json:"id"`
	URIOrBlobRef string    `json:"uri_or_blob_ref"`
	Snippet      string    `json:"snippet,omitempty"`
	Hash         string    `json:"hash,omitempty"`
	SourceType   string    `json:"source_type"`
	QualityScore float64   `json:"quality_score"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Validate checks the structural invariants of a single evidence record.
func (e *Evidence) Validate() error {
	if e.URIOrBlobRef == "" {
		return fmt.Errorf("%w: evidence missing uri_or_blob_ref", ErrInvalidEvidence)
	}
	if e.SourceType == "" {
		return fmt.Errorf("%w: evidence missing source_type", ErrInvalidEvidence)
	}
	if e.QualityScore < 0 || e.QualityScore > 1 {
		return fmt.Errorf("%w: quality_score %f out of [0,1]", ErrInvalidEvidence, e.QualityScore)
	}
	return nil
}

// ValidateEvidenceSet checks a proposal's full evidence set.
// A claim with zero evidence never reaches the conflict resolver.
func ValidateEvidenceSet(evidence []Evidence) error {
	if len(evidence) == 0 {
		return fmt.Errorf("%w: empty evidence set", ErrInvalidEvidence)
	}
	for i := range evidence {
		if err := evidence[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
