package probe

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHeaderJoinsLabelsWithSemicolons(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, []Target{{Label: "V(out)"}, {Label: "I(R1)"}})
	require.NoError(t, w.WriteHeader())
	assert.Equal(t, "time;V(out);I(R1)\n", buf.String())
}

func TestWriteSampleFormatsTimeAndValues(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, []Target{{Label: "V(out)", Lookup: func() (float64, bool) { return 1.5, true }}})
	require.NoError(t, w.WriteSample(0.001))
	assert.Equal(t, "0.001000000;1.5\n", buf.String())
}

func TestWriteSampleEmitsNaNForUnresolvedOrNaNProbes(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf, []Target{
		{Label: "V(missing)", Lookup: func() (float64, bool) { return 0, false }},
		{Label: "V(bad)", Lookup: func() (float64, bool) { return math.NaN(), true }},
	})
	require.NoError(t, w.WriteSample(0))
	lines := strings.TrimSpace(buf.String())
	assert.Equal(t, "0.000000000;NaN;NaN", lines)
}
