package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/allensuvorov/logamizer/internal/model"
)

func TestAllowPassesNonHiddenIP(t *testing.T) {
	h := New([]string{"10.0.0.1"})
	assert.True(t, h.Allow(model.NormalizedEvent{IP: "10.0.0.2"}))
	assert.False(t, h.Allow(model.NormalizedEvent{IP: "10.0.0.1"}))
}

func TestApplyPreservesOrderAndFiltersHidden(t *testing.T) {
	h := New([]string{"hidden"})
	events := []model.NormalizedEvent{
		{IP: "a"}, {IP: "hidden"}, {IP: "b"}, {IP: "hidden"}, {IP: "c"},
	}
	out := h.Apply(events)
	require := assert.New(t)
	require.Len(out, 3)
	require.Equal("a", out[0].IP)
	require.Equal("b", out[1].IP)
	require.Equal("c", out[2].IP)
}

func TestApplyWithNoHiddenIPsReturnsSameSlice(t *testing.T) {
	h := New(nil)
	events := []model.NormalizedEvent{{IP: "a"}, {IP: "b"}}
	out := h.Apply(events)
	assert.Equal(t, events, out)
}
