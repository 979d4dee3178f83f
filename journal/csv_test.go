package journal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/barsim/market"
)

func TestLegRowFormatting(t *testing.T) {
	t.Parallel()

	legs := sampleLegs()
	row := LegRow(legs[0])
	require.Len(t, row, len(LegHeader))

	assert.Equal(t, []string{
		"2025-03-03T14:30:00.000Z",
		"2025-03-03T14:40:00.000Z",
		"long",
		"100.000000",
		"98.000000",
		"106.000000",
		"102.000000",
		"SCALE",
		"25",
		"50.00",
		"1.000",
		"1.250",
		"-0.100",
		"0",
		"1.250000",
		"1.300000",
	}, row)

	// no ATR tracked
	row = LegRow(legs[1])
	assert.Equal(t, "", row[14])
	assert.Equal(t, "", row[15])
	assert.Equal(t, "3.000", row[10])
}

func TestFixedRoundsHalfAway(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1.01", fixed(1.005, 2))
	assert.Equal(t, "-1.01", fixed(-1.005, 2))
	assert.Equal(t, "0.000", fixed(0, 3))
}

func TestCSVJournalWritesBothLogs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	lp := filepath.Join(dir, "legs.csv")
	ep := filepath.Join(dir, "equity.csv")

	j, err := NewCSV(lp, ep)
	require.NoError(t, err)
	require.NoError(t, WriteAll(j, sampleLegs(), sampleEquity()))
	require.NoError(t, j.Close())

	raw, err := os.ReadFile(lp)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(LegHeader, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "2025-03-03T14:30:00.000Z,2025-03-03T15:15:00.000Z,long,"))

	raw, err = os.ReadFile(ep)
	require.NoError(t, err)
	assert.Equal(t,
		"time,equity\n2025-03-03T14:30:00.000Z,10000.00\n2025-03-03T14:40:00.000Z,10050.00\n2025-03-03T15:15:00.000Z,10200.00\n",
		string(raw))
}

func TestCSVJournalWithoutEquity(t *testing.T) {
	t.Parallel()

	var legs bytes.Buffer
	j, err := NewCSVWriter(&legs, nil)
	require.NoError(t, err)
	assert.NoError(t, j.RecordEquity(sampleEquity()[0]))
	require.NoError(t, j.Close())
	assert.Equal(t, strings.Join(LegHeader, ",")+"\n", legs.String())
}

func TestReadLegsCSVRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	j, err := NewCSVWriter(&buf, nil)
	require.NoError(t, err)
	for _, l := range sampleLegs() {
		require.NoError(t, j.RecordLeg(l))
	}

	got, err := ReadLegsCSV(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	want := sampleLegs()
	assert.Equal(t, market.ExitScale, got[0].Exit.Reason)
	assert.True(t, want[0].OpenTime.Equal(got[0].OpenTime))
	assert.InDelta(t, 1.25, *got[0].EntryATR, 1e-12)
	assert.Nil(t, got[1].EntryATR)
	assert.Equal(t, 1, got[1].Adds)
	assert.InDelta(t, 150.0, got[1].Exit.PnL, 1e-12)
}

func TestReadLegsCSVBadHeader(t *testing.T) {
	t.Parallel()

	_, err := ReadLegsCSV(strings.NewReader("a,b\n1,2\n"))
	assert.Error(t, err)
}

func TestLegsFileName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "trades-BRK_B-5m-60d.csv", LegsFileName("BRK/B", "5m", "60d"))
	assert.Equal(t, "trades-ES_F-1h-1y.csv", LegsFileName("ES=F", "1h", "1y"))
}
