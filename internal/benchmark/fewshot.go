package benchmark

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docbench/internal/dataset"
	"github.com/joseph-ayodele/docbench/internal/llm"
)

// DefaultFewshotWorkers bounds concurrent OCR calls while building examples.
const DefaultFewshotWorkers = 15

// FewshotExamples OCRs every training file and pairs the text with its
// ground truth, keeping trainIDs order. Any failure aborts the whole set.
func (b *Benchmarker) FewshotExamples(ctx context.Context, trainIDs []string, workers int) ([]llm.Example, error) {
	if workers <= 0 {
		workers = DefaultFewshotWorkers
	}
	layout := b.Layout()
	examples := make([]llm.Example, len(trainIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range trainIDs {
		i, id := i, id
		g.Go(func() error {
			gt, err := dataset.LoadAnnotation(layout.AnnotationPath(id))
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			path := layout.ResolveImage(id)
			if path == "" {
				return fmt.Errorf("%s: no image found", id)
			}
			image, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			if err := b.limiter.Acquire(gctx); err != nil {
				return err
			}
			text, _, err := b.ocr.Recognize(gctx, image)
			if err != nil {
				return fmt.Errorf("%s: ocr: %w", id, err)
			}
			examples[i] = llm.Example{Input: text, Output: gt}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	b.logger.Info("benchmark.fewshot.built", "dataset", b.cfg.Dataset, "examples", len(examples))
	return examples, nil
}
