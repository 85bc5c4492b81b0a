package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/itsneelabh/gomind-refine/coordinator"
	"github.com/itsneelabh/gomind-refine/experts"
)

func TestResultToExpertResultMapsSuccess(t *testing.T) {
	res := &coordinator.Result{Status: coordinator.StatusSuccess, Output: map[string]string{"message": "done"}}
	out := resultToExpertResult(res)
	assert.Equal(t, "done", out.Output)
	assert.Greater(t, out.Score, 0.0)
	assert.Greater(t, out.Confidence, 0.0)
}

func TestResultToExpertResultMapsFailure(t *testing.T) {
	for _, status := range []coordinator.Status{coordinator.StatusTimeout, coordinator.StatusCrash} {
		out := resultToExpertResult(&coordinator.Result{Status: status})
		assert.Zero(t, out.Score)
		assert.Zero(t, out.Confidence)
	}
}

func TestAuditFromConsensusDegraded(t *testing.T) {
	outcome := &experts.Outcome{
		Consensus: experts.ConsensusRecord{AgreementLevel: 0.5},
		Degraded:  true,
	}
	audit := auditFromConsensus(outcome)
	assert.Equal(t, 0.5, audit.Correctness)
	assert.Equal(t, 1.0, audit.Safety)
	assert.NotEmpty(t, audit.CorrectnessNote)
	assert.NotEmpty(t, audit.EvidenceAlignmentNote)
}

func TestAuditFromConsensusHealthy(t *testing.T) {
	outcome := &experts.Outcome{
		Consensus: experts.ConsensusRecord{AgreementLevel: 1.0, DiversityScore: 0.2},
	}
	audit := auditFromConsensus(outcome)
	assert.Equal(t, 1.0, audit.Correctness)
	assert.InDelta(t, 0.8, audit.EvidenceAlignment, 1e-9)
	assert.True(t, audit.Passes())
}
