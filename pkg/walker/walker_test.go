package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camclass/pkg/models"
)

// writeTree creates empty files under root for each relative path.
func writeTree(t *testing.T, root string, paths []string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
	}
}

func TestEnumerateSortedAndDeterministic(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{
		"BlockA/Cam1/TigerFolder/20.jpg",
		"BlockA/Cam1/GaurFolder/2.jpg",
		"BlockA/Cam1/GaurFolder/1.jpg",
		"BlockB/Cam2/Langur/7.png",
	})

	w := New()
	first, err := w.Enumerate(root)
	require.NoError(t, err)
	require.Len(t, first, 4)

	// Lexicographic by absolute path regardless of directory read order.
	for i := 1; i < len(first); i++ {
		assert.Less(t, first[i-1].Path, first[i].Path)
	}

	second, err := w.Enumerate(root)
	require.NoError(t, err)
	assert.Equal(t, first, second, "repeated enumeration of an unchanged tree must match")
}

func TestEnumerateExtensionAllowList(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/2.JPEG",
		"BlockA/Cam1/Gaur/3.png",
		"BlockA/Cam1/Gaur/notes.txt",
		"BlockA/Cam1/Gaur/clip.mp4",
		"BlockA/Cam1/Gaur/thumbs.db",
	})

	items, err := New().Enumerate(root)
	require.NoError(t, err)
	require.Len(t, items, 3, "only allow-listed extensions should be enumerated")

	custom, err := New(WithExtensions([]string{".png"})).Enumerate(root)
	require.NoError(t, err)
	require.Len(t, custom, 1)
	assert.Equal(t, ".png", filepath.Ext(custom[0].Path))
}

func TestEnumerateSkipsSidecarAndHiddenFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{
		"BlockA/Cam1/Gaur/1.jpg",
		"BlockA/Cam1/Gaur/._1.jpg",
		"BlockA/Cam1/Gaur/.hidden.jpg",
		"BlockA/.cache/Gaur/2.jpg",
	})

	items, err := New().Enumerate(root)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.jpg", filepath.Base(items[0].Path))
}

func TestEnumerateDerivesIdentifiers(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{"BlockA/Cam1/GaurFolder/1.jpg"})

	items, err := New().Enumerate(root)
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "GaurFolder", items[0].GroupLabel)
	assert.Equal(t, "Cam1", items[0].CameraID)
	assert.Equal(t, "BlockA", items[0].BlockID)
}

func TestEnumerateShallowPathsGetUnknownSentinel(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, []string{
		"stray.jpg",          // directly under root
		"OnlyGroup/deep.jpg", // group present, camera and block missing
	})

	items, err := New().Enumerate(root)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byName := make(map[string]models.WorkItem)
	for _, it := range items {
		byName[filepath.Base(it.Path)] = it
	}

	stray := byName["stray.jpg"]
	assert.Equal(t, models.UnknownSegment, stray.GroupLabel)
	assert.Equal(t, models.UnknownSegment, stray.CameraID)
	assert.Equal(t, models.UnknownSegment, stray.BlockID)

	deep := byName["deep.jpg"]
	assert.Equal(t, "OnlyGroup", deep.GroupLabel)
	assert.Equal(t, models.UnknownSegment, deep.CameraID)
	assert.Equal(t, models.UnknownSegment, deep.BlockID)
}

func TestEnumerateEmptyTree(t *testing.T) {
	items, err := New().Enumerate(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnumerateMissingRoot(t *testing.T) {
	_, err := New().Enumerate(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
