package refine

import "fmt"

// clampUnjustified enforces spec.md §4.4's rule that a dimension score
// without an accompanying justification is untrustworthy: it is clamped to
// 0.5 regardless of the claimed value, and the clamp is reported so callers
// can flag it.
func clampUnjustified(a Audit) (Audit, []string) {
	var flagged []string
	if a.CorrectnessNote == "" {
		a.Correctness = 0.5
		flagged = append(flagged, "correctness")
	}
	if a.EfficiencyNote == "" {
		a.Efficiency = 0.5
		flagged = append(flagged, "efficiency")
	}
	if a.SafetyNote == "" {
		a.Safety = 0.5
		flagged = append(flagged, "safety")
	}
	if a.EvidenceAlignmentNote == "" {
		a.EvidenceAlignment = 0.5
		flagged = append(flagged, "evidence_alignment")
	}
	if a.ArtifactQualityNote == "" {
		a.ArtifactQuality = 0.5
		flagged = append(flagged, "artifact_quality")
	}
	return a, flagged
}

// extractFeedback turns each failed dimension into a structured critique
// referencing the iteration that produced it.
func extractFeedback(a Audit, stepRef string) []Critique {
	var critiques []Critique
	for _, dim := range a.FailedDimensions() {
		note := dimensionNote(a, dim)
		critiques = append(critiques, Critique{
			Dimension:  dim,
			Problem:    fmt.Sprintf("%s scored below threshold: %s", dim, note),
			Suggestion: suggestionFor(dim),
			StepRef:    stepRef,
		})
	}
	return critiques
}

func dimensionNote(a Audit, dim string) string {
	switch dim {
	case "correctness":
		return a.CorrectnessNote
	case "efficiency":
		return a.EfficiencyNote
	case "safety":
		return a.SafetyNote
	case "evidence_alignment":
		return a.EvidenceAlignmentNote
	case "artifact_quality":
		return a.ArtifactQualityNote
	default:
		return ""
	}
}

func suggestionFor(dim string) string {
	switch dim {
	case "correctness":
		return "re-derive the result and verify it satisfies the stated success criteria"
	case "efficiency":
		return "reduce unnecessary work or narrow the scope of the attempt"
	case "safety":
		return "remove the unsafe action and substitute a guarded alternative"
	case "evidence_alignment":
		return "ground the output in the cited evidence or gather more before answering"
	case "artifact_quality":
		return "clean up the produced artifact to match expected conventions"
	default:
		return "revisit this dimension"
	}
}
