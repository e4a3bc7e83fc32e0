package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, SeverityCritical, ParseSeverity("Critical"))
	assert.Equal(t, SeverityHigh, ParseSeverity("high"))
	assert.Equal(t, SeverityMedium, ParseSeverity("Medium"))
	assert.Equal(t, SeverityLow, ParseSeverity("low"))
	assert.Equal(t, SeverityLow, ParseSeverity("garbage"))
}

func TestSeverityGTE(t *testing.T) {
	assert.True(t, SeverityGTE(SeverityCritical, SeverityHigh))
	assert.True(t, SeverityGTE(SeverityHigh, SeverityHigh))
	assert.False(t, SeverityGTE(SeverityMedium, SeverityHigh))
}

func TestScoreConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceCritical, ScoreConfidence(85))
	assert.Equal(t, ConfidenceHigh, ScoreConfidence(70))
	assert.Equal(t, ConfidenceMedium, ScoreConfidence(50))
	assert.Equal(t, ConfidenceLow, ScoreConfidence(49.9))
}

func TestFunctionEntryPoint(t *testing.T) {
	assert.True(t, Function{Visibility: "external"}.IsEntryPoint())
	assert.True(t, Function{Visibility: "public"}.IsEntryPoint())
	assert.True(t, Function{Visibility: ""}.IsEntryPoint(), "unknown visibility is treated as reachable")
	assert.False(t, Function{Visibility: "internal"}.IsEntryPoint())
	assert.False(t, Function{Visibility: "private"}.IsEntryPoint())
}

func TestLocations(t *testing.T) {
	fn := Function{File: "V.sol", Name: "withdraw"}
	assert.Equal(t, "V.sol::withdraw", fn.Location())

	f := Finding{File: "V.sol", Function: "withdraw"}
	assert.Equal(t, "V.sol::withdraw", f.Location())
	assert.Equal(t, "V.sol", Finding{File: "V.sol"}.Location())
}

func TestPatternEmbedText(t *testing.T) {
	p := Pattern{Invariant: "inv", BreakCondition: "bc"}
	assert.Equal(t, "inv bc", p.EmbedText())
}
