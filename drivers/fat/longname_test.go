package fat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeAndAssembleLongNameRoundTrip(t *testing.T) {
	name := "this is definitely longer than eight point three.txt"
	checksum := uint8(0x42)

	fragments := encodeLongNameFragments(name, checksum)
	require.NotEmpty(t, fragments)

	got, ok := assembleLongName(fragments, checksum)
	require.True(t, ok)
	assert.Equal(t, name, got)
}

func TestAssembleLongNameRejectsChecksumMismatch(t *testing.T) {
	fragments := encodeLongNameFragments("short.txt", 0x10)
	_, ok := assembleLongName(fragments, 0x11)
	assert.False(t, ok)
}

func TestAssembleLongNameRejectsEmptyFragments(t *testing.T) {
	_, ok := assembleLongName(nil, 0)
	assert.False(t, ok)
}

func TestShortNameChecksumIsDeterministic(t *testing.T) {
	name := [8]byte{'R', 'E', 'A', 'D', 'M', 'E', ' ', ' '}
	ext := [3]byte{'T', 'X', 'T'}
	assert.Equal(t, shortNameChecksum(name, ext), shortNameChecksum(name, ext))
}

func TestGenerateShortNameFitsWithoutLFN(t *testing.T) {
	nameBytes, extBytes, needsLFN := GenerateShortName(nil, "readme.txt")
	assert.False(t, needsLFN)
	assert.Equal(t, [8]byte{'R', 'E', 'A', 'D', 'M', 'E', ' ', ' '}, nameBytes)
	assert.Equal(t, [3]byte{'T', 'X', 'T'}, extBytes)
}

func TestGenerateShortNameNumbersOnCollision(t *testing.T) {
	existing := []DirectoryEntry{
		{Dirent: mustDirentNamed(t, "README.TXT")},
	}
	_, _, needsLFN := GenerateShortName(existing, "readme.txt")
	assert.True(t, needsLFN, "an exact 8.3 match already in use must fall back to a numbered short name")
}

// mustDirentNamed builds a Dirent whose Name() returns exactly name, for use
// as a short-name collision fixture.
func mustDirentNamed(t *testing.T, name string) Dirent {
	t.Helper()
	nameBytes, extBytes := packShortNameParts(name)
	raw := RawDirent{Name: nameBytes, Extension: extBytes}
	d, err := NewDirentFromRaw(&raw)
	require.NoError(t, err)
	return d
}
