package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/workitem"
)

const userAgent = "Scribe-Go/0.1.0"

// HTTP posts a stage's inputs as multipart form data to a remote service and
// records the location it replies with.
//
// The form carries task_id, operation_id, stage, round and language fields.
// Uploads attach the audio as "file"; later stages send "audio_url" and
// attach the newest transcript as "transcript" (or send "transcript_url" when
// it only exists remotely). The service answers with JSON:
//
//	{"url": "...", "name": "...", "kind": "transcript", "hash": "...", "protocol": "..."}
type HTTP struct {
	kind     pipeline.StageKind
	endpoint string
	client   *http.Client
}

// NewHTTP creates a remote executor for kind.
func NewHTTP(kind pipeline.StageKind, endpoint string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{kind: kind, endpoint: strings.TrimSpace(endpoint), client: client}
}

type remoteReply struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Hash     string `json:"hash"`
	Protocol string `json:"protocol"`
}

func (h *HTTP) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	if h.endpoint == "" {
		return stage.Result{}, execErr(h.kind, "post", "endpoint not configured", nil)
	}
	body, contentType, err := h.form(req)
	if err != nil {
		return stage.Result{}, err
	}
	defer body.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, body)
	if err != nil {
		return stage.Result{}, execErr(h.kind, "post", "build request", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return stage.Result{}, execErr(h.kind, "post", "remote call failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stage.Result{}, execErr(h.kind, "post", "read reply", err)
	}
	if resp.StatusCode >= 300 {
		return stage.Result{}, execErr(h.kind, "post",
			fmt.Sprintf("remote returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload))), nil)
	}

	var reply remoteReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return stage.Result{}, execErr(h.kind, "post", "decode reply", err)
	}
	if strings.TrimSpace(reply.URL) == "" {
		return stage.Result{}, execErr(h.kind, "post", "reply has no url", nil)
	}
	return stage.Result{
		Items:    []workitem.Item{h.resultItem(req, reply)},
		Protocol: reply.Protocol,
	}, nil
}

func (h *HTTP) resultItem(req stage.Request, reply remoteReply) workitem.Item {
	kind := workitem.Kind(strings.ToLower(strings.TrimSpace(reply.Kind)))
	if kind != workitem.KindAudio && kind != workitem.KindTranscript {
		kind = workitem.KindTranscript
		if h.kind == pipeline.StageUpload {
			kind = workitem.KindAudio
		}
	}
	name := strings.TrimSpace(reply.Name)
	if name == "" {
		if u, err := url.Parse(reply.URL); err == nil {
			name = filepath.Base(u.Path)
		}
	}
	item := workitem.Item{Name: name, OriginalName: name, Kind: kind, Hash: reply.Hash, URL: reply.URL}
	if h.kind == pipeline.StageUpload {
		if audio, ok := req.Audio(); ok {
			item.OriginalName = audio.OriginalName
			item.Size = audio.Size
			if item.Hash == "" {
				item.Hash = audio.Hash
			}
			if audio.Audio != nil {
				info := *audio.Audio
				item.Audio = &info
			}
		}
	}
	if item.Hash == "" {
		item.Hash = workitem.FallbackHash(name, item.Size)
	}
	return item
}

// form streams the multipart body through a pipe so audio is never buffered.
func (h *HTTP) form(req stage.Request) (io.ReadCloser, string, error) {
	type attachment struct {
		field, path, name string
	}
	fields := map[string]string{
		"task_id":      strconv.FormatInt(req.Task.ID, 10),
		"operation_id": strconv.FormatInt(req.OperationID, 10),
		"stage":        h.kind.String(),
		"round":        strconv.Itoa(req.Round),
		"language":     req.Params.Language,
	}
	var files []attachment

	if h.kind == pipeline.StageUpload {
		audio, ok := req.Audio()
		if !ok {
			return nil, "", execErr(h.kind, "post", "task has no audio input", nil)
		}
		path, ok := localPath(audio)
		if !ok {
			return nil, "", execErr(h.kind, "post", "audio is not available locally", nil)
		}
		files = append(files, attachment{"file", path, audio.OriginalName})
		fields["hash"] = audio.Hash
	} else {
		if uploaded, ok := req.Task.UploadResult(); ok {
			fields["audio_url"] = uploaded.URL
		}
		if transcript, ok := req.Transcript(); ok {
			if path, ok := localPath(transcript); ok {
				files = append(files, attachment{"transcript", path, transcript.OriginalName})
			} else if transcript.Online() {
				fields["transcript_url"] = transcript.URL
			}
		}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			for key, value := range fields {
				if value == "" {
					continue
				}
				if err := mw.WriteField(key, value); err != nil {
					return err
				}
			}
			for _, file := range files {
				part, err := mw.CreateFormFile(file.field, file.name)
				if err != nil {
					return err
				}
				f, err := os.Open(file.path)
				if err != nil {
					return err
				}
				_, err = io.Copy(part, f)
				_ = f.Close()
				if err != nil {
					return err
				}
			}
			return mw.Close()
		}()
		_ = pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}

func (h *HTTP) HealthCheck(context.Context) stage.Health {
	if h.endpoint == "" {
		return stage.Unhealthy("", "endpoint not configured")
	}
	u, err := url.Parse(h.endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return stage.Unhealthy("", fmt.Sprintf("invalid endpoint %q", h.endpoint))
	}
	return stage.Healthy("")
}
