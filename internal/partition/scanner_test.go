package partition

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindBoundaryAcrossSeams(t *testing.T) {
	marker := []byte("</page>")
	for _, window := range []int{1, 3, 7, 8, 16} {
		for k := 0; k < 40; k++ {
			data := []byte(strings.Repeat("x", k) + string(marker) + "tail</page>")
			got, err := Scanner{Window: window}.FindBoundary(bytes.NewReader(data), 0, marker)
			require.NoError(t, err, "window=%d k=%d", window, k)
			assert.Equal(t, int64(k+len(marker)), got, "window=%d k=%d", window, k)
		}
	}
}

func TestFindBoundaryStartOffset(t *testing.T) {
	data := []byte("<page>a</page><page>b</page><page>c</page>")
	r := bytes.NewReader(data)

	got, err := FindBoundary(r, 0, []byte("</page>"))
	require.NoError(t, err)
	assert.Equal(t, int64(14), got)

	// Starting inside the first marker skips it.
	got, err = FindBoundary(r, 9, []byte("</page>"))
	require.NoError(t, err)
	assert.Equal(t, int64(28), got)

	// Starting exactly on a marker finds that marker.
	got, err = FindBoundary(r, 21, []byte("</page>"))
	require.NoError(t, err)
	assert.Equal(t, int64(28), got)
}

func TestFindBoundaryMultiByte(t *testing.T) {
	// Multi-byte runes cut by the window must not hide the marker.
	data := []byte(strings.Repeat("é中", 50) + "</page>" + strings.Repeat("ü", 10))
	for _, window := range []int{5, 9, 1024} {
		got, err := Scanner{Window: window}.FindBoundary(bytes.NewReader(data), 3, []byte("</page>"))
		require.NoError(t, err)
		assert.Equal(t, int64(bytes.Index(data, []byte("</page>"))+7), got)
	}
}

func TestFindBoundaryNotFound(t *testing.T) {
	data := []byte("<page>never closed")

	_, err := Scanner{Window: 4}.FindBoundary(bytes.NewReader(data), 0, []byte("</page>"))
	assert.ErrorIs(t, err, ErrBoundaryNotFound)

	_, err = FindBoundary(bytes.NewReader(data), int64(len(data)+10), []byte("</page>"))
	assert.ErrorIs(t, err, ErrBoundaryNotFound)

	// A partial marker at EOF is not a match.
	_, err = Scanner{Window: 3}.FindBoundary(bytes.NewReader([]byte("abc</pag")), 0, []byte("</page>"))
	assert.ErrorIs(t, err, ErrBoundaryNotFound)
}

func TestFindBoundaryInvalidArgs(t *testing.T) {
	r := bytes.NewReader([]byte("</page>"))

	_, err := FindBoundary(r, 0, nil)
	require.Error(t, err)

	_, err = FindBoundary(r, -1, []byte("</page>"))
	require.Error(t, err)
}
