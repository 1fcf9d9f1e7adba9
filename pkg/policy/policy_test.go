package policy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/queuetrends/pkg/reading"
)

func TestLookup(t *testing.T) {
	p, err := Lookup(" V2 ")
	require.NoError(t, err)
	require.Equal(t, "v2", p.Version)
	require.Equal(t, CongestionThreshold, p.Congestion)
	require.Equal(t, 4.0, p.CongestionThreshold)

	_, err = Lookup("v9")
	require.ErrorIs(t, err, ErrUnknownPolicy)

	require.Equal(t, []string{"v1", "v2"}, Versions())
}

func TestRegisteredPoliciesValidate(t *testing.T) {
	for _, v := range Versions() {
		p, err := Lookup(v)
		require.NoError(t, err)
		require.NoError(t, p.Validate(), v)
	}
}

func TestValidate_Rejects(t *testing.T) {
	base := Default()

	noFields := base
	noFields.Fields = nil
	require.Error(t, noFields.Validate())

	threshold := base
	threshold.Congestion = CongestionThreshold
	require.Error(t, threshold.Validate())

	merge := base.WithMerge("append")
	require.Error(t, merge.Validate())
}

func TestPolicyExtract(t *testing.T) {
	r := reading.Reading{DeviceID: "d", Fields: map[string]any{"inCount": 3.0, "occupancy": 8.0}}

	v, ok := Default().Extract(r)
	require.True(t, ok)
	require.Equal(t, 3.0, v)

	occ, err := Lookup("v2")
	require.NoError(t, err)
	v, ok = occ.Extract(r)
	require.True(t, ok)
	require.Equal(t, 8.0, v)
}

func TestParseMergeMode(t *testing.T) {
	m, err := ParseMergeMode("SUM")
	require.NoError(t, err)
	require.Equal(t, MergeSum, m)

	m, err = ParseMergeMode("overwrite")
	require.NoError(t, err)
	require.Equal(t, MergeOverwrite, m)

	_, err = ParseMergeMode("last")
	require.Error(t, err)
}

func TestWithMerge_DoesNotMutate(t *testing.T) {
	base := Default()
	summed := base.WithMerge(MergeSum)
	require.Equal(t, MergeOverwrite, Default().Merge)
	require.Equal(t, MergeSum, summed.Merge)
}

func TestLookup_ReturnsIndependentFields(t *testing.T) {
	p, err := Lookup("v1")
	require.NoError(t, err)
	p.Fields[0] = "waitTime"

	again, err := Lookup("v1")
	require.NoError(t, err)
	require.Equal(t, "inCount", again.Fields[0])
	require.Equal(t, "inCount", Default().Fields[0])
	require.Equal(t, "inCount", reading.DefaultFields[0])
}
