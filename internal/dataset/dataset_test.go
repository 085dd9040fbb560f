package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docbench/internal/common"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newLayout(t *testing.T) Layout {
	t.Helper()
	l := NewLayout(t.TempDir(), "cord")
	writeFile(t, filepath.Join(l.AnnotationsDir(), "002.json"), `{"total": {"total_price": "5"}}`)
	writeFile(t, filepath.Join(l.AnnotationsDir(), "001.json"), `{"menu": []}`)
	writeFile(t, filepath.Join(l.AnnotationsDir(), "003.JSON"), `{}`)
	writeFile(t, filepath.Join(l.AnnotationsDir(), "notes.txt"), `ignored`)
	writeFile(t, filepath.Join(l.ImagesDir(), "001.jpg"), "jpg")
	writeFile(t, filepath.Join(l.ImagesDir(), "001.png"), "png")
	writeFile(t, filepath.Join(l.ImagesDir(), "002.jpeg"), "jpeg")
	return l
}

func TestListIDs(t *testing.T) {
	l := newLayout(t)
	ids, err := l.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003"}, ids)

	_, err = NewLayout(t.TempDir(), "missing").ListIDs()
	assert.Error(t, err)
}

func TestTasks(t *testing.T) {
	l := newLayout(t)
	tasks := l.Tasks([]string{"002", "001", "003", "002"})
	require.Len(t, tasks, 3)

	assert.Equal(t, "002", tasks[0].FileID)
	assert.Equal(t, filepath.Join(l.ImagesDir(), "002.jpeg"), tasks[0].ImagePath)
	// png wins over jpg
	assert.Equal(t, filepath.Join(l.ImagesDir(), "001.png"), tasks[1].ImagePath)
	assert.Empty(t, tasks[2].ImagePath)
	assert.Equal(t, filepath.Join(l.AnnotationsDir(), "003.json"), tasks[2].AnnotationPath)
}

func TestLoadAnnotation(t *testing.T) {
	l := newLayout(t)
	data, err := LoadAnnotation(l.AnnotationPath("001"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"menu": []}`, string(data))

	bad := filepath.Join(t.TempDir(), "bad.json")
	writeFile(t, bad, `{"menu": [`)
	_, err = LoadAnnotation(bad)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = LoadAnnotation(l.AnnotationPath("999"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitTrainTest(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	rng := rand.New(rand.NewSource(7))

	train, test, err := SplitTrainTest(ids, 3, 0, nil, rng)
	require.NoError(t, err)
	assert.Len(t, train, 3)
	assert.Len(t, test, 5)
	all := append(append([]string{}, train...), test...)
	sort.Strings(all)
	assert.Equal(t, ids, all)

	train, test, err = SplitTrainTest(ids, 3, 2, []string{"b", "c"}, rng)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, train)
	assert.Len(t, test, 2)
	assert.NotContains(t, test, "b")
	assert.NotContains(t, test, "c")

	_, _, err = SplitTrainTest(ids, 9, 0, nil, rng)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, _, err = SplitTrainTest(ids, 4, 5, nil, rng)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
