package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/ingest"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in    string
		start int
		end   int
		circa bool
	}{
		{"1850", 1850, 1850, false},
		{"1850-1860", 1850, 1860, false},
		{"1850-60", 1850, 1860, false},
		{"1850 to 1855", 1850, 1855, false},
		{"ca. 1642", 1642, 1642, true},
		{"circa 1500", 1500, 1500, true},
		{"1850s", 1850, 1859, false},
		{"c. 1920s", 1920, 1929, true},
		{"1889-07-14", 1889, 1889, false},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.start, *got.Start, tt.in)
		require.Equal(t, tt.end, *got.End, tt.in)
		require.Equal(t, tt.circa, got.Circa, tt.in)
		require.Equal(t, tt.in, got.Original)
	}

	for _, bad := range []string{"", "yesterday", "1860-1850"} {
		_, err := ParseDate(bad)
		require.Error(t, err, bad)
	}
}

func TestParseDimension(t *testing.T) {
	t.Parallel()

	d, ok := ParseDimension("30,5 x 40 inches")
	require.True(t, ok)
	require.InDelta(t, 30.5, *d.Width, 1e-9)
	require.InDelta(t, 40.0, *d.Height, 1e-9)
	require.Equal(t, "in", d.Unit)

	d, ok = ParseDimension("sheet, irregular")
	require.False(t, ok)
	require.Nil(t, d.Width)
	require.Equal(t, "sheet, irregular", d.Original)
}

func TestImagePath(t *testing.T) {
	t.Parallel()

	p, err := ImagePath("rijks", "some/dir/a.jpg")
	require.NoError(t, err)
	require.Equal(t, "rijks/a.jpg", p)

	p, err = ImagePath("rijks", `C:\scans\b.JPG`)
	require.NoError(t, err)
	require.Equal(t, "rijks/b.JPG", p)

	_, err = ImagePath("rijks", "  ")
	require.Error(t, err)
}

func TestConvertDimensionObject(t *testing.T) {
	t.Parallel()

	n := &run{images: map[string]struct{}{}}
	out, err := convertDimension(n, "dimensions[0]", map[string]any{"width": 10, "height": "20", "unit": "CM"})
	require.NoError(t, err)
	d := out.(ingest.Dimension)
	require.Equal(t, "cm", d.Unit)
	require.InDelta(t, 20.0, *d.Height, 1e-9)

	_, err = convertDimension(n, "dimensions[0]", map[string]any{"width": 10, "unit": "furlong"})
	require.Error(t, err)

	_, err = convertDimension(n, "dimensions[0]", map[string]any{"label": "frame"})
	require.Error(t, err)
}
