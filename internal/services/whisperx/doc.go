// Package whisperx runs WhisperX through uvx for speech recognition and
// forced word alignment of existing transcripts.
//
// Configuration (model, CUDA, VAD method) is passed via Config. Tests swap
// the command runner to avoid launching Python.
package whisperx
