package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestMapCategory(t *testing.T) {
	tests := []struct {
		in   *string
		want *string
	}{
		{nil, nil},
		{ptr("ENV"), ptr("ENV")},
		{ptr(" edu "), ptr("EDU")},
		{ptr("Hea"), ptr("HEA")},
		{ptr("bogus"), ptr("OTH")},
		{ptr(""), ptr("OTH")},
		{ptr("   "), ptr("OTH")},
		{ptr("OTH"), ptr("OTH")},
		{ptr("environment"), ptr("OTH")},
	}
	for _, tt := range tests {
		got := MapCategory(tt.in)
		if tt.want == nil {
			assert.Nil(t, got)
			continue
		}
		require.NotNil(t, got)
		assert.Equal(t, *tt.want, *got)
	}
}

func TestMapCategory_Idempotent(t *testing.T) {
	inputs := []*string{nil, ptr(""), ptr("env"), ptr("DIS"), ptr("garbage"), ptr(" art ")}
	for _, in := range inputs {
		once := MapCategory(in)
		twice := MapCategory(once)
		if once == nil {
			assert.Nil(t, twice)
			continue
		}
		require.NotNil(t, twice)
		assert.Equal(t, *once, *twice)
	}
}

func TestMapCategory_DoesNotMutateInput(t *testing.T) {
	in := ptr(" env ")
	MapCategory(in)
	assert.Equal(t, " env ", *in)
}
