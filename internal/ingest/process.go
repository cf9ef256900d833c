package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// classify turns path into an ingest request. A positive channel count means
// the path holds multi-channel audio and policy is still pending.
func (q *Queue) classify(ctx context.Context, path string, policy workitem.SplitPolicy) (pipeline.IngestRequest, int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return pipeline.IngestRequest{}, 0, services.Wrap(services.ErrClassification, "ingest", filepath.Base(path), "path is not readable", err)
	}
	if info.IsDir() {
		return q.classifyDirectory(ctx, path, policy)
	}
	return q.classifyFile(ctx, path, policy)
}

func (q *Queue) classifyFile(ctx context.Context, path string, policy workitem.SplitPolicy) (pipeline.IngestRequest, int, error) {
	item, err := q.classifier.Classify(path)
	if err != nil {
		return pipeline.IngestRequest{}, 0, err
	}
	if !workitem.NeedsSplit(item) {
		return pipeline.IngestRequest{Groups: [][]workitem.Item{{item}}}, 0, nil
	}
	if policy == workitem.SplitPending {
		return pipeline.IngestRequest{}, item.Audio.Channels, nil
	}
	split, err := q.classifier.Split(ctx, item, policy)
	if err != nil {
		return pipeline.IngestRequest{}, 0, err
	}
	req := pipeline.IngestRequest{}
	for _, part := range split.Items {
		req.Groups = append(req.Groups, []workitem.Item{part})
	}
	if split.Grouped {
		req.Directory = &pipeline.DirectorySpec{Label: split.Label, Path: path}
	}
	return req, 0, nil
}

func (q *Queue) classifyDirectory(ctx context.Context, root string, policy workitem.SplitPolicy) (pipeline.IngestRequest, int, error) {
	paths, err := listFiles(root)
	if err != nil {
		return pipeline.IngestRequest{}, 0, services.Wrap(services.ErrClassification, "ingest", filepath.Base(root), "walk directory", err)
	}
	logger := q.logger.With(logging.String("directory", root))

	// Results land by index so the walk order survives parallel hashing.
	classified := make([]workitem.Item, len(paths))
	failures := make([]error, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.hashWorkers)
	for idx, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := q.classifier.Classify(path)
			if err != nil {
				failures[idx] = err
				return nil
			}
			classified[idx] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return pipeline.IngestRequest{}, 0, err
	}

	items := make([]workitem.Item, 0, len(paths))
	widest := 0
	for idx, item := range classified {
		if failures[idx] != nil {
			logging.WarnWithContext(logger, "directory entry skipped", "ingest_entry_skipped",
				logging.String("file", filepath.Base(paths[idx])),
				logging.Error(failures[idx]),
				logging.String(logging.FieldErrorHint, "check the file format"),
				logging.String(logging.FieldImpact, "the rest of the directory is still ingested"),
			)
			continue
		}
		if workitem.NeedsSplit(item) && item.Audio.Channels > widest {
			widest = item.Audio.Channels
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return pipeline.IngestRequest{}, 0, services.Wrap(services.ErrClassification, "ingest", filepath.Base(root), "directory holds no usable files", services.ErrInvalidFormat)
	}
	if widest > 0 && policy == workitem.SplitPending {
		return pipeline.IngestRequest{}, widest, nil
	}

	expanded := make([]workitem.Item, 0, len(items))
	for _, item := range items {
		if !workitem.NeedsSplit(item) {
			expanded = append(expanded, item)
			continue
		}
		split, err := q.classifier.Split(ctx, item, policy)
		if err != nil {
			return pipeline.IngestRequest{}, 0, err
		}
		expanded = append(expanded, split.Items...)
	}

	return pipeline.IngestRequest{
		Directory: &pipeline.DirectorySpec{Label: filepath.Base(root), Path: root},
		Groups:    pairItems(expanded),
	}, 0, nil
}

// pairItems groups companion files (an audio and its transcript) into one
// task input set. Everything else stands alone.
func pairItems(items []workitem.Item) [][]workitem.Item {
	var groups [][]workitem.Item
	for _, item := range items {
		paired := false
		for idx, group := range groups {
			if len(group) == 1 && group[0].Pairs(item) {
				groups[idx] = append(group, item)
				paired = true
				break
			}
		}
		if !paired {
			groups = append(groups, []workitem.Item{item})
		}
	}
	return groups
}

// listFiles returns the supported files below root in lexical walk order,
// skipping hidden entries.
func listFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if workitem.Supported(d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
