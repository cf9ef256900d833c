package workitem_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scribe/internal/services"
	"scribe/internal/testsupport"
	"scribe/internal/workitem"
)

func newClassifier(t *testing.T) (*workitem.Classifier, string) {
	t.Helper()
	dir := t.TempDir()
	return workitem.NewClassifier(workitem.Options{WorkspaceDir: filepath.Join(dir, "workspace")}, nil), dir
}

func TestClassifyMonoWAV(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "sample.wav")
	testsupport.WriteMonoWAV(t, path)

	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if item.Kind != workitem.KindAudio {
		t.Fatalf("expected audio kind, got %q", item.Kind)
	}
	if item.Audio == nil || item.Audio.Channels != 1 || item.Audio.BitsPerSample != 16 || item.Audio.SampleRate != 16000 {
		t.Fatalf("unexpected audio info %+v", item.Audio)
	}
	if item.Audio.Duration.Milliseconds() != 100 {
		t.Fatalf("expected 100ms duration, got %s", item.Audio.Duration)
	}
	if !workitem.IsDigest(item.Hash) {
		t.Fatalf("expected sha256 digest, got %q", item.Hash)
	}
	if item.OriginalName != "sample.wav" {
		t.Fatalf("original name not preserved: %q", item.OriginalName)
	}
	if item.Name != "sample_"+item.Hash[:8]+".wav" {
		t.Fatalf("unexpected safe name %q", item.Name)
	}
	if !item.Available() || item.Online() {
		t.Fatalf("expected local-only item, got available=%v online=%v", item.Available(), item.Online())
	}
	if workitem.NeedsSplit(item) {
		t.Fatal("mono audio must not need a split")
	}
}

func TestClassifyTranscript(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "Interview.TextGrid")
	testsupport.WriteTranscript(t, path, "File type = \"ooTextFile\"")

	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if item.Kind != workitem.KindTranscript {
		t.Fatalf("expected transcript kind, got %q", item.Kind)
	}
	if item.Extension() != ".textgrid" || item.BaseName() != "Interview" {
		t.Fatalf("unexpected ext/base %q %q", item.Extension(), item.BaseName())
	}
}

func TestClassifyRejectsUnsupported(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "song.mp3")
	testsupport.WriteFile(t, path, 128)

	_, err := c.Classify(path)
	if err == nil {
		t.Fatal("expected classification error")
	}
	if !errors.Is(err, services.ErrClassification) || !errors.Is(err, services.ErrInvalidFormat) {
		t.Fatalf("expected classification+invalid format markers, got %v", err)
	}
}

func TestClassifyRejectsCorruptWAV(t *testing.T) {
	c, dir := newClassifier(t)

	notRiff := filepath.Join(dir, "noise.wav")
	testsupport.WriteFile(t, notRiff, 64)
	if _, err := c.Classify(notRiff); !errors.Is(err, services.ErrInvalidFormat) {
		t.Fatalf("expected invalid format for non-RIFF payload, got %v", err)
	}

	badFormat := filepath.Join(dir, "float.wav")
	testsupport.WriteMonoWAV(t, badFormat)
	// audio format field lives at byte 20; 3 is IEEE float
	testsupport.PutUint32(t, badFormat, 20, 0x00010003)
	_, err := c.Classify(badFormat)
	if !errors.Is(err, services.ErrInvalidFormat) {
		t.Fatalf("expected invalid format for float wav, got %v", err)
	}
	if !strings.Contains(err.Error(), "only PCM") {
		t.Fatalf("expected PCM hint in error, got %v", err)
	}
}

func TestClassifyRejectsTruncatedWAV(t *testing.T) {
	c, dir := newClassifier(t)

	path := filepath.Join(dir, "cut.wav")
	testsupport.WriteWAV(t, path, 2, 16000, 16, 1600)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(path, info.Size()/2); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	_, err = c.Classify(path)
	if !errors.Is(err, services.ErrInvalidFormat) {
		t.Fatalf("expected invalid format for truncated wav, got %v", err)
	}
	if !strings.Contains(err.Error(), "data chunk claims") {
		t.Fatalf("expected data size hint in error, got %v", err)
	}
}

func TestClassifyFallbackHash(t *testing.T) {
	dir := t.TempDir()
	c := workitem.NewClassifier(workitem.Options{MaxHashBytes: 10}, nil)
	path := filepath.Join(dir, "notes.txt")
	testsupport.WriteFile(t, path, 100)

	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if item.Hash != "notes.txt_100" {
		t.Fatalf("expected name_size fallback, got %q", item.Hash)
	}
	if item.Name != "notes_"+workitem.HashPrefix(item.Hash)+".txt" {
		t.Fatalf("unexpected safe name %q", item.Name)
	}
}

func TestSplitBothProducesMonoChannels(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "duet.wav")
	testsupport.WriteStereoWAV(t, path)

	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !workitem.NeedsSplit(item) {
		t.Fatal("stereo audio must need a split")
	}

	result, err := c.Split(context.Background(), item, workitem.SplitBoth)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !result.Grouped || result.Label != "duet" {
		t.Fatalf("expected grouped result labelled duet, got %+v", result)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected two channel items, got %d", len(result.Items))
	}
	for idx, split := range result.Items {
		if split.Audio == nil || split.Audio.Channels != 1 {
			t.Fatalf("channel %d is not mono: %+v", idx, split.Audio)
		}
		if split.Audio.Duration != item.Audio.Duration {
			t.Fatalf("channel %d duration %s differs from source %s", idx, split.Audio.Duration, item.Audio.Duration)
		}
		wantName := "duet_ch" + string(rune('1'+idx)) + ".wav"
		if split.OriginalName != wantName {
			t.Fatalf("unexpected split name %q, want %q", split.OriginalName, wantName)
		}
		data, err := os.ReadFile(split.Path)
		if err != nil {
			t.Fatalf("read split: %v", err)
		}
		for _, b := range data[44:] {
			if b != byte(idx+1) {
				t.Fatalf("channel %d contains samples from another channel", idx)
			}
		}
	}
	if result.Items[0].Hash == result.Items[1].Hash {
		t.Fatal("channels should hash differently")
	}
}

func TestSplitSecondChannelOnly(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "call.wav")
	testsupport.WriteWAV(t, path, 2, 8000, 24, 100)

	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	result, err := c.Split(context.Background(), item, workitem.SplitSecond)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if result.Grouped || len(result.Items) != 1 {
		t.Fatalf("expected single ungrouped item, got %+v", result)
	}
	if result.Items[0].Metadata["split_channel"] != "2" {
		t.Fatalf("unexpected metadata %v", result.Items[0].Metadata)
	}
	if result.Items[0].Audio.BitsPerSample != 24 {
		t.Fatalf("expected bit depth preserved, got %d", result.Items[0].Audio.BitsPerSample)
	}
}

func TestSplitPendingIsRejected(t *testing.T) {
	c, dir := newClassifier(t)
	path := filepath.Join(dir, "duet.wav")
	testsupport.WriteStereoWAV(t, path)
	item, err := c.Classify(path)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, err := c.Split(context.Background(), item, workitem.SplitPending); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseSplitPolicy(t *testing.T) {
	if p, err := workitem.ParseSplitPolicy(" BOTH "); err != nil || p != workitem.SplitBoth {
		t.Fatalf("unexpected parse result %q %v", p, err)
	}
	if p, err := workitem.ParseSplitPolicy(""); err != nil || p != workitem.SplitPending {
		t.Fatalf("expected pending for empty input, got %q %v", p, err)
	}
	if _, err := workitem.ParseSplitPolicy("left"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestItemPairs(t *testing.T) {
	audio := workitem.Item{OriginalName: "take.wav", Kind: workitem.KindAudio}
	transcript := workitem.Item{OriginalName: "TAKE.txt", Kind: workitem.KindTranscript}
	other := workitem.Item{OriginalName: "other.txt", Kind: workitem.KindTranscript}
	if !audio.Pairs(transcript) {
		t.Fatal("expected audio and transcript with same base to pair")
	}
	if audio.Pairs(other) {
		t.Fatal("different base names must not pair")
	}
	if audio.Pairs(workitem.Item{OriginalName: "take.wav", Kind: workitem.KindAudio}) {
		t.Fatal("two wav files must not pair")
	}
}
