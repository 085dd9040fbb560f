// Package dataset resolves benchmark files on disk: images, ground-truth
// annotations and the ids that tie them together.
package dataset

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docbench/constants"
	"github.com/joseph-ayodele/docbench/internal/common"
)

// FileTask is one requested file. ImagePath is empty when no image exists;
// reading it then fails like any other OCR error.
type FileTask struct {
	FileID         string
	ImagePath      string
	AnnotationPath string
}

// Layout is <root>/<name>/{images,annotations}.
type Layout struct {
	Root string
	Name string
}

func NewLayout(root, name string) Layout {
	return Layout{Root: root, Name: name}
}

func (l Layout) Dir() string            { return filepath.Join(l.Root, l.Name) }
func (l Layout) ImagesDir() string      { return filepath.Join(l.Dir(), "images") }
func (l Layout) AnnotationsDir() string { return filepath.Join(l.Dir(), "annotations") }

// AnnotationPath is the ground-truth path for an id, whether or not it exists.
func (l Layout) AnnotationPath(fileID string) string {
	return filepath.Join(l.AnnotationsDir(), fileID+"."+constants.AnnotationExt)
}

// ResolveImage returns the first existing image for fileID, or "". Extensions
// are tried in constants.ImageExtensions order.
func (l Layout) ResolveImage(fileID string) string {
	for _, ext := range constants.ImageExtensions {
		candidate := filepath.Join(l.ImagesDir(), fileID+"."+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Tasks maps file ids to tasks, keeping the given order. Duplicate ids are
// collapsed to their first occurrence.
func (l Layout) Tasks(ids []string) []FileTask {
	seen := make(map[string]struct{}, len(ids))
	tasks := make([]FileTask, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		tasks = append(tasks, FileTask{
			FileID:         id,
			ImagePath:      l.ResolveImage(id),
			AnnotationPath: l.AnnotationPath(id),
		})
	}
	return tasks
}

// ListIDs returns the sorted ids of every .json annotation.
func (l Layout) ListIDs() ([]string, error) {
	entries, err := os.ReadDir(l.AnnotationsDir())
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if constants.NormalizeExt(filepath.Ext(name)) == constants.AnnotationExt {
			ids = append(ids, strings.TrimSuffix(name, filepath.Ext(name)))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadAnnotation reads a ground-truth file and checks that it is JSON.
func LoadAnnotation(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotation: %w", err)
	}
	if !json.Valid(data) {
		return nil, common.InvalidInputf("annotation %s is not valid JSON", filepath.Base(path))
	}
	return data, nil
}

// SplitTrainTest picks a training set of trainSize random ids (or exactly
// specific, when given) and returns the remaining ids as the test set,
// sampled down to maxTest when maxTest > 0.
func SplitTrainTest(ids []string, trainSize, maxTest int, specific []string, rng *rand.Rand) (train, test []string, err error) {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if len(specific) > 0 {
		train = append([]string(nil), specific...)
	} else {
		if trainSize < 0 || trainSize > len(ids) {
			return nil, nil, common.InvalidInputf("train size %d out of range for %d files", trainSize, len(ids))
		}
		train = sample(ids, trainSize, rng)
	}

	inTrain := make(map[string]struct{}, len(train))
	for _, id := range train {
		inTrain[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := inTrain[id]; !ok {
			test = append(test, id)
		}
	}
	if maxTest > 0 {
		if maxTest > len(test) {
			return nil, nil, common.InvalidInputf("max test size %d exceeds %d remaining files", maxTest, len(test))
		}
		test = sample(test, maxTest, rng)
	}
	return train, test, nil
}

func sample(ids []string, n int, rng *rand.Rand) []string {
	out := make([]string, 0, n)
	for _, i := range rng.Perm(len(ids))[:n] {
		out = append(out, ids[i])
	}
	return out
}
