package whisperx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	langpkg "scribe/internal/language"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// Service runs WhisperX.
type Service struct {
	cfg    Config
	runner Runner
}

// NewService creates a service.
func NewService(cfg Config) *Service {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = UVXCommand
	}
	return &Service{cfg: cfg}
}

// WithCommandRunner replaces process execution, for tests.
func (s *Service) WithCommandRunner(runner Runner) {
	s.runner = runner
}

// Model returns the configured model name.
func (s *Service) Model() string {
	if s.cfg.Model != "" {
		return s.cfg.Model
	}
	return DefaultModel
}

// Command returns the launcher binary.
func (s *Service) Command() string {
	return s.cfg.Command
}

func (s *Service) run(ctx context.Context, args ...string) error {
	if s.runner != nil {
		return s.runner(ctx, s.cfg.Command, args...)
	}
	cmd := exec.CommandContext(ctx, s.cfg.Command, args...) //nolint:gosec
	// Torch 2.6 flipped torch.load to weights_only; pyannote checkpoints need the old default.
	if os.Getenv("TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD") == "" {
		cmd.Env = append(os.Environ(), "TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1")
	}
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.cfg.Command, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Result names the files a run produced.
type Result struct {
	JSONPath string
	SRTPath  string
	Text     string
}

// Transcribe recognizes speech in the WAV file source and writes WhisperX
// output files into outputDir.
func (s *Service) Transcribe(ctx context.Context, source, outputDir, language string) (Result, error) {
	if source == "" {
		return Result{}, fmt.Errorf("transcribe: source path required")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("transcribe: ensure output dir: %w", err)
	}
	if err := s.run(ctx, s.transcribeArgs(source, outputDir, language)...); err != nil {
		return Result{}, fmt.Errorf("whisperx: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	res := Result{
		JSONPath: filepath.Join(outputDir, base+".json"),
		SRTPath:  filepath.Join(outputDir, base+".srt"),
	}
	segments, err := LoadSegments(res.JSONPath)
	if err != nil {
		return Result{}, fmt.Errorf("whisperx: read output: %w", err)
	}
	res.Text = JoinText(segments)
	return res, nil
}

// Align computes word timings for an existing transcript against source.
// The transcript is converted to WhisperX segments first; plain text becomes
// a single segment spanning duration seconds.
func (s *Service) Align(ctx context.Context, source, transcriptPath, outputDir, language string, duration float64) (Result, error) {
	if source == "" || transcriptPath == "" {
		return Result{}, fmt.Errorf("align: source and transcript required")
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("align: ensure output dir: %w", err)
	}
	segments, err := readTranscript(transcriptPath, duration)
	if err != nil {
		return Result{}, fmt.Errorf("align: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	input := filepath.Join(outputDir, base+".segments.json")
	if err := writeSegments(input, segments); err != nil {
		return Result{}, fmt.Errorf("align: %w", err)
	}
	output := filepath.Join(outputDir, base+".aligned.json")
	if err := s.run(ctx, s.alignArgs(source, input, output, language)...); err != nil {
		return Result{}, fmt.Errorf("whisperx align: %w", err)
	}
	aligned, err := LoadSegments(output)
	if err != nil {
		return Result{}, fmt.Errorf("whisperx align: read output: %w", err)
	}
	return Result{JSONPath: output, Text: JoinText(aligned)}, nil
}

func (s *Service) indexArgs() []string {
	if s.cfg.CUDAEnabled {
		return []string{"--index-url", CUDAIndexURL, "--extra-index-url", PypiIndexURL}
	}
	return []string{"--index-url", PypiIndexURL}
}

func (s *Service) device() string {
	if s.cfg.CUDAEnabled {
		return CUDADevice
	}
	return CPUDevice
}

func (s *Service) transcribeArgs(source, outputDir, language string) []string {
	args := append(s.indexArgs(),
		"whisperx",
		source,
		"--model", s.Model(),
		"--batch_size", BatchSize,
		"--output_dir", outputDir,
		"--output_format", OutputFormat,
		"--segment_resolution", SegmentResolution,
		"--chunk_size", ChunkSize,
		"--beam_size", BeamSize,
		"--temperature", Temperature,
	)
	vad := s.cfg.VADMethod
	if vad == "" {
		vad = VADMethodSilero
	}
	args = append(args, "--vad_method", vad)
	if vad == VADMethodPyannote && s.cfg.HFToken != "" {
		args = append(args, "--hf_token", s.cfg.HFToken)
	}
	if lang := langpkg.ToISO2(language); lang != "" {
		args = append(args, "--language", lang)
	}
	args = append(args, "--device", s.device())
	if !s.cfg.CUDAEnabled {
		args = append(args, "--compute_type", CPUComputeType)
	}
	return args
}

const alignScript = `import json, sys, whisperx
audio_path, segments_path, out_path, lang, device = sys.argv[1:6]
segments = json.load(open(segments_path))["segments"]
audio = whisperx.load_audio(audio_path)
model, meta = whisperx.load_align_model(language_code=lang, device=device)
result = whisperx.align(segments, model, meta, audio, device, return_char_alignments=False)
json.dump({"segments": result["segments"]}, open(out_path, "w"))
`

func (s *Service) alignArgs(source, segments, output, language string) []string {
	lang := langpkg.ToISO2(language)
	if lang == "" {
		lang = "en"
	}
	args := append(s.indexArgs(), "--from", "whisperx", "python", "-c", alignScript)
	return append(args, source, segments, output, lang, s.device())
}

// Word is one word with timing.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one transcript segment of WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

type payload struct {
	Segments []Segment `json:"segments"`
}

// LoadSegments reads segments from a WhisperX JSON file.
func LoadSegments(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse whisperx json: %w", err)
	}
	return p.Segments, nil
}

// JoinText concatenates segment text.
func JoinText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func readTranscript(path string, duration float64) ([]Segment, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if segments, err := LoadSegments(path); err == nil && len(segments) > 0 {
			return segments, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.Join(strings.Fields(string(data)), " ")
	if text == "" {
		return nil, fmt.Errorf("transcript %s is empty", filepath.Base(path))
	}
	return []Segment{{Text: text, Start: 0, End: duration}}, nil
}

func writeSegments(path string, segments []Segment) error {
	data, err := json.Marshal(payload{Segments: segments})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
