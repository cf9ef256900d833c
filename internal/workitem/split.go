package workitem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"scribe/internal/logging"
	"scribe/internal/services"
)

// SplitPolicy selects which channels of a multi-channel recording become
// pipeline inputs.
type SplitPolicy string

const (
	SplitFirst   SplitPolicy = "first"
	SplitSecond  SplitPolicy = "second"
	SplitBoth    SplitPolicy = "both"
	SplitPending SplitPolicy = "pending"
)

// ParseSplitPolicy parses a policy name; empty input means pending.
func ParseSplitPolicy(value string) (SplitPolicy, error) {
	switch SplitPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", SplitPending:
		return SplitPending, nil
	case SplitFirst:
		return SplitFirst, nil
	case SplitSecond:
		return SplitSecond, nil
	case SplitBoth:
		return SplitBoth, nil
	default:
		return "", services.Wrap(services.ErrValidation, "split", "parse policy", fmt.Sprintf("unknown split policy %q (expected first, second, both or pending)", value), nil)
	}
}

// SplitResult is the outcome of a split decision.
type SplitResult struct {
	Items []Item
	// Grouped is true when the items belong in one synthetic directory.
	Grouped bool
	Label   string
}

const splitFramesPerChunk = 4096

// Split applies policy to a multi-channel item, writing one mono WAV per
// selected channel under the workspace directory. Mono items pass through.
func (c *Classifier) Split(ctx context.Context, item Item, policy SplitPolicy) (SplitResult, error) {
	if !NeedsSplit(item) {
		return SplitResult{Items: []Item{item}}, nil
	}
	channels, err := selectChannels(item.Audio.Channels, policy)
	if err != nil {
		return SplitResult{}, err
	}
	if strings.TrimSpace(c.opts.WorkspaceDir) == "" {
		return SplitResult{}, services.Wrap(services.ErrConfiguration, "split", item.OriginalName, "workspace directory is not configured", nil)
	}

	outDir := filepath.Join(c.opts.WorkspaceDir, "split", HashPrefix(item.Hash))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return SplitResult{}, fmt.Errorf("create split directory: %w", err)
	}

	base := item.BaseName()
	names := make([]string, len(channels))
	paths := make([]string, len(channels))
	for idx, ch := range channels {
		names[idx] = fmt.Sprintf("%s_ch%d.wav", base, ch+1)
		paths[idx] = filepath.Join(outDir, names[idx])
	}
	if err := deinterleave(ctx, item.Path, channels, paths); err != nil {
		for _, p := range paths {
			_ = os.Remove(p)
		}
		return SplitResult{}, services.Wrap(services.ErrClassification, "split", item.OriginalName, "split channels", err)
	}

	result := SplitResult{Grouped: policy == SplitBoth, Label: base}
	for idx, path := range paths {
		split, err := c.Classify(path)
		if err != nil {
			return SplitResult{}, err
		}
		split.OriginalName = names[idx]
		split.Name = SafeName(names[idx], split.Hash)
		split.Metadata = map[string]string{
			"split_source":  item.OriginalName,
			"split_channel": strconv.Itoa(channels[idx] + 1),
		}
		result.Items = append(result.Items, split)
	}
	c.logger.Info("multi-channel audio split",
		logging.String("file", item.OriginalName),
		logging.String("policy", string(policy)),
		logging.Int("channels", item.Audio.Channels),
		logging.Int("outputs", len(result.Items)),
	)
	return result, nil
}

func selectChannels(count int, policy SplitPolicy) ([]int, error) {
	switch policy {
	case SplitFirst:
		return []int{0}, nil
	case SplitSecond:
		return []int{1}, nil
	case SplitBoth:
		all := make([]int, count)
		for i := range all {
			all[i] = i
		}
		return all, nil
	case SplitPending:
		return nil, services.Wrap(services.ErrValidation, "split", "select channels", "a split decision is required", nil)
	default:
		return nil, services.Wrap(services.ErrValidation, "split", "select channels", fmt.Sprintf("unknown split policy %q", policy), nil)
	}
}

func deinterleave(ctx context.Context, src string, channels []int, dst []string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	layout, err := readWAV(in)
	if err != nil {
		return err
	}
	if _, err := in.Seek(layout.dataOffset, io.SeekStart); err != nil {
		return err
	}
	sampleBytes := layout.info.BitsPerSample / 8
	frames := layout.info.DataBytes / int64(layout.blockAlign)

	files := make([]*os.File, len(dst))
	writers := make([]*bufio.Writer, len(dst))
	defer func() {
		for _, f := range files {
			if f != nil {
				_ = f.Close()
			}
		}
	}()
	for idx, path := range dst {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		files[idx] = f
		writers[idx] = bufio.NewWriter(f)
		if err := WriteWAVHeader(writers[idx], 1, layout.info.SampleRate, layout.info.BitsPerSample, frames*int64(sampleBytes)); err != nil {
			return err
		}
	}

	reader := io.LimitReader(in, layout.info.DataBytes)
	buf := make([]byte, splitFramesPerChunk*layout.blockAlign)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := io.ReadFull(reader, buf)
		for off := 0; off+layout.blockAlign <= n; off += layout.blockAlign {
			for idx, ch := range channels {
				start := off + ch*sampleBytes
				if _, err := writers[idx].Write(buf[start : start+sampleBytes]); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return readErr
		}
	}

	for idx := range writers {
		if err := writers[idx].Flush(); err != nil {
			return err
		}
		if err := files[idx].Close(); err != nil {
			files[idx] = nil
			return err
		}
		files[idx] = nil
	}
	return nil
}
