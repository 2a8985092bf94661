package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/drewmudry/instashorts-pipeline/captions"
	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/render"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/voice"
	"gorm.io/datatypes"
)

// memStore is an in-memory JobStore with the same conditional-update
// semantics as the SQL store.
type memStore struct {
	mu     sync.Mutex
	videos map[string]*models.Video
	scenes map[string]*models.VideoScene
	series map[uint]*models.Series

	failInsertScenes error
}

func newMemStore() *memStore {
	return &memStore{
		videos: make(map[string]*models.Video),
		scenes: make(map[string]*models.VideoScene),
		series: make(map[uint]*models.Series),
	}
}

func (m *memStore) put(v *models.Video) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Status == "" {
		v.Status = models.StatusPending
	}
	cp := *v
	m.videos[v.ID] = &cp
}

func (m *memStore) video(id string) models.Video {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.videos[id]
}

func (m *memStore) sceneCount(videoID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sc := range m.scenes {
		if sc.VideoID == videoID {
			n++
		}
	}
	return n
}

func (m *memStore) GetVideo(_ context.Context, id string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) UpdateVideo(_ context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	for k, val := range fields {
		switch k {
		case "script":
			s := val.(string)
			v.Script = &s
		case "title":
			v.Title = val.(string)
		case "voice_over_url":
			s := val.(string)
			v.VoiceOverURL = &s
		case "captions_raw":
			v.CaptionsRaw = val.(datatypes.JSON)
		case "captions_processed":
			v.CaptionsProcessed = val.(datatypes.JSON)
		default:
			return fmt.Errorf("memStore: unsupported field %q", k)
		}
	}
	return nil
}

func (m *memStore) AdvanceStatus(_ context.Context, id string, to models.VideoStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok {
		return false, nil
	}
	for _, s := range models.StatusesBefore(to) {
		if v.Status == s {
			v.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkFailed(_ context.Context, id string, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok || v.Status.IsTerminal() {
		return false, nil
	}
	v.Status = models.StatusFailed
	v.ErrorMessage = reason
	return true, nil
}

func (m *memStore) CompleteVideo(_ context.Context, id, videoURL string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok || v.Status.IsTerminal() {
		return store.ErrNotFound
	}
	v.VideoURL = &videoURL
	v.Status = models.StatusCompleted
	v.CompletedAt = &completedAt
	return nil
}

func (m *memStore) InsertScenes(_ context.Context, scenes []models.VideoScene) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsertScenes != nil {
		return m.failInsertScenes
	}
	for i := range scenes {
		cp := scenes[i]
		m.scenes[cp.ID] = &cp
	}
	return nil
}

func (m *memStore) SetSceneImage(_ context.Context, sceneID, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scenes[sceneID]
	if !ok {
		return store.ErrNotFound
	}
	if sc.ImageURL != nil {
		return store.ErrImageAlreadySet
	}
	sc.ImageURL = &imageURL
	return nil
}

func (m *memStore) ListScenes(_ context.Context, videoID string) ([]models.VideoScene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.VideoScene
	for _, sc := range m.scenes {
		if sc.VideoID == videoID {
			out = append(out, *sc)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].SceneIndex < out[j-1].SceneIndex; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (m *memStore) GetSeries(_ context.Context, id uint) (*models.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

type emitted struct {
	Queue   string
	Payload string
}

// recorder is an Emitter that keeps every task in order.
type recorder struct {
	mu   sync.Mutex
	out  []emitted
	fail map[string]error
	// failures fails the next n enqueues of a queue with errUpstream.
	failures map[string]int
}

func (r *recorder) Enqueue(_ context.Context, queue string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[queue]; err != nil {
		return err
	}
	if r.failures[queue] > 0 {
		r.failures[queue]--
		return errUpstream
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.out = append(r.out, emitted{Queue: queue, Payload: string(b)})
	return nil
}

func (r *recorder) count(queue string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.out {
		if e.Queue == queue {
			n++
		}
	}
	return n
}

func (r *recorder) ofQueue(queue string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.out {
		if e.Queue == queue {
			out = append(out, e)
		}
	}
	return out
}

// pop removes and returns the oldest task.
func (r *recorder) pop() (emitted, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.out) == 0 {
		return emitted{}, false
	}
	e := r.out[0]
	r.out = r.out[1:]
	return e, true
}

type fakeText struct {
	script    string
	title     string
	titleErr  error
	scenesErr error
	scenes    int // prompts returned; -1 means the requested count
	emojiErr  error

	mu          sync.Mutex
	sceneCalls  int
	scriptCalls int
}

func (f *fakeText) GenerateScript(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scriptCalls++
	return f.script, nil
}

func (f *fakeText) GenerateTitle(context.Context, string) (string, error) {
	return f.title, f.titleErr
}

func (f *fakeText) GenerateScenePrompts(_ context.Context, _, _, _ string, count int) ([]processing.ScenePrompt, error) {
	f.mu.Lock()
	f.sceneCalls++
	f.mu.Unlock()
	if f.scenesErr != nil {
		return nil, f.scenesErr
	}
	n := count
	if f.scenes >= 0 {
		n = f.scenes
	}
	out := make([]processing.ScenePrompt, n)
	for i := range out {
		out[i] = processing.ScenePrompt{SceneIndex: i, ImagePrompt: fmt.Sprintf("prompt %d", i)}
	}
	return out, nil
}

func (f *fakeText) AddEmojis(_ context.Context, words []captions.Word, _, _ string) ([]captions.Word, error) {
	if f.emojiErr != nil {
		return words, f.emojiErr
	}
	out := append([]captions.Word(nil), words...)
	out[0].Emoji = "🔥"
	return out, nil
}

// alignmentFor spaces characters 0.1s apart.
func alignmentFor(text string) captions.Alignment {
	var a captions.Alignment
	for i, r := range []rune(text) {
		a.Characters = append(a.Characters, string(r))
		a.CharacterStartTimesSeconds = append(a.CharacterStartTimesSeconds, float64(i)*0.1)
		a.CharacterEndTimesSeconds = append(a.CharacterEndTimesSeconds, float64(i)*0.1+0.1)
	}
	return a
}

type fakeVoice struct {
	mu      sync.Mutex
	voiceID string
	err     error
	calls   int
}

func (f *fakeVoice) Synthesize(_ context.Context, text, voiceID string) (*voice.Speech, error) {
	f.mu.Lock()
	f.calls++
	f.voiceID = voiceID
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &voice.Speech{Audio: []byte("mp3"), Alignment: alignmentFor(text)}, nil
}

type fakeImages struct {
	mu    sync.Mutex
	fail  map[string]error
	calls int
}

func (f *fakeImages) Generate(_ context.Context, prompt string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[prompt]; err != nil {
		return nil, err
	}
	return []byte("png:" + prompt), nil
}

type fakeUploader struct {
	mu    sync.Mutex
	paths map[string]string
}

func (f *fakeUploader) Upload(_ context.Context, data []byte, path, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paths == nil {
		f.paths = make(map[string]string)
	}
	f.paths[path] = contentType
	return "https://cdn.test/" + path, nil
}

func (f *fakeUploader) withPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for p := range f.paths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out
}

type fakeCompositor struct {
	mu      sync.Mutex
	got     render.Composition
	outputs []string
	err     error
}

func (f *fakeCompositor) Compose(_ context.Context, c render.Composition, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = c
	f.outputs = append(f.outputs, outputPath)
	if err := os.WriteFile(outputPath, []byte("mp4"), 0o644); err != nil {
		return err
	}
	return f.err
}

var errUpstream = errors.New("upstream unavailable")
