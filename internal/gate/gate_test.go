package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	g := New(0, 0)
	assert.Equal(t, DefaultQualityThreshold, g.QualityThreshold)
	assert.Equal(t, DefaultFindingsCap, g.FindingsCap)
}

func TestNew_Explicit(t *testing.T) {
	g := New(0.9, 25)
	assert.Equal(t, 0.9, g.QualityThreshold)
	assert.Equal(t, 25, g.FindingsCap)
}

func TestDecide(t *testing.T) {
	g := New(0.8, 10)

	tests := []struct {
		name          string
		iteration     int
		qualityScore  float64
		findingsCount int
		maxIterations int
		want          Decision
	}{
		{
			name:          "all limits distant",
			iteration:     1,
			qualityScore:  0.5,
			findingsCount: 3,
			maxIterations: 3,
			want:          Continue,
		},
		{
			name:          "quality threshold reached",
			iteration:     1,
			qualityScore:  0.85,
			findingsCount: 3,
			maxIterations: 3,
			want:          Finalize,
		},
		{
			name:          "quality exactly at threshold",
			iteration:     1,
			qualityScore:  0.8,
			findingsCount: 3,
			maxIterations: 3,
			want:          Finalize,
		},
		{
			name:          "max iterations reached",
			iteration:     3,
			qualityScore:  0.2,
			findingsCount: 3,
			maxIterations: 3,
			want:          Finalize,
		},
		{
			name:          "single iteration budget exhausted",
			iteration:     1,
			qualityScore:  0.5,
			findingsCount: 3,
			maxIterations: 1,
			want:          Finalize,
		},
		{
			name:          "findings cap reached",
			iteration:     1,
			qualityScore:  0.2,
			findingsCount: 10,
			maxIterations: 5,
			want:          Finalize,
		},
		{
			name:          "findings just below cap",
			iteration:     1,
			qualityScore:  0.2,
			findingsCount: 9,
			maxIterations: 5,
			want:          Continue,
		},
		{
			name:          "zero quality first iteration",
			iteration:     1,
			qualityScore:  0.0,
			findingsCount: 0,
			maxIterations: 2,
			want:          Continue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := g.Decide(tt.iteration, tt.qualityScore, tt.findingsCount, tt.maxIterations)
			assert.Equal(t, tt.want, got)
			if got == Finalize {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	g := New(0.8, 10)

	first, _ := g.Decide(2, 0.79, 9, 3)
	for i := 0; i < 100; i++ {
		got, _ := g.Decide(2, 0.79, 9, 3)
		assert.Equal(t, first, got)
	}
}
