package id

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExperimentID(t *testing.T) {
	a := NewExperimentID()
	b := NewExperimentID()

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a.String(), ExperimentPrefix+"_"))
	assert.Len(t, a.String(), len(ExperimentPrefix)+1+26)
}

func TestGeneratorIsMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Generate()
	for range 1000 {
		next := g.Generate()
		require.Equal(t, 1, next.Compare(prev))
		prev = next
	}
}

func TestExperimentIDStarted(t *testing.T) {
	before := time.Now().Add(-time.Second)
	eid := NewExperimentID()

	started, err := eid.Started()
	require.NoError(t, err)
	assert.True(t, started.After(before))
	assert.True(t, started.Before(time.Now().Add(time.Second)))
}

func TestExperimentIDStartedRejectsForeignIDs(t *testing.T) {
	tests := []struct {
		name string
		id   ExperimentID
	}{
		{name: "no prefix", id: "01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		{name: "wrong prefix", id: "app_01ARZ3NDEKTSV4RRFFQ69G5FAV"},
		{name: "bad ulid", id: "exp_not-a-ulid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.id.Started()
			assert.Error(t, err)
		})
	}
}

func TestGeneratorWithEntropyIsDeterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 64)
	a := NewGeneratorWithEntropy(bytes.NewReader(seed)).Generate()
	b := NewGeneratorWithEntropy(bytes.NewReader(seed)).Generate()

	assert.Equal(t, a.Entropy(), b.Entropy())
}
