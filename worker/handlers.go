package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/drewmudry/instashorts-pipeline/captions"
	"github.com/drewmudry/instashorts-pipeline/imagegen"
	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/render"
	"github.com/drewmudry/instashorts-pipeline/storage"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"github.com/drewmudry/instashorts-pipeline/voice"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// JobStore is the persistence the pipeline stages need.
type JobStore interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	UpdateVideo(ctx context.Context, id string, fields map[string]interface{}) error
	AdvanceStatus(ctx context.Context, id string, to models.VideoStatus) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	CompleteVideo(ctx context.Context, id, videoURL string, completedAt time.Time) error
	InsertScenes(ctx context.Context, scenes []models.VideoScene) error
	SetSceneImage(ctx context.Context, sceneID, imageURL string) error
	ListScenes(ctx context.Context, videoID string) ([]models.VideoScene, error)
	GetSeries(ctx context.Context, id uint) (*models.Series, error)
}

// Emitter publishes a task onto a queue. *Processor implements it.
type Emitter interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}) error
}

// TextGenerator is the language model surface used by the stages.
// *processing.Generator implements it.
type TextGenerator interface {
	GenerateScript(ctx context.Context, theme string) (string, error)
	GenerateTitle(ctx context.Context, theme string) (string, error)
	GenerateScenePrompts(ctx context.Context, script, theme, artStyle string, count int) ([]processing.ScenePrompt, error)
	AddEmojis(ctx context.Context, words []captions.Word, script, theme string) ([]captions.Word, error)
}

// Settings holds tunables shared by the stages.
type Settings struct {
	DefaultVoiceID string
	TempDir        string
	RenderTimeout  time.Duration
	SRTMaxWords    int
}

// Pipeline holds the dependencies of every stage handler.
type Pipeline struct {
	store      JobStore
	emit       Emitter
	text       TextGenerator
	voice      voice.Synthesizer
	images     imagegen.Generator
	uploader   storage.Uploader
	compositor render.Compositor
	gate       *Gate
	settings   Settings
	log        *zap.Logger

	now   func() time.Time
	newID func() string
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Store      JobStore
	Emitter    Emitter
	Text       TextGenerator
	Voice      voice.Synthesizer
	Images     imagegen.Generator
	Uploader   storage.Uploader
	Compositor render.Compositor
}

func NewPipeline(deps Deps, settings Settings, log *zap.Logger) *Pipeline {
	if settings.DefaultVoiceID == "" {
		settings.DefaultVoiceID = voice.DefaultVoiceID
	}
	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}
	// ffmpeg runs inside its own work dir, so output paths must be absolute.
	if abs, err := filepath.Abs(settings.TempDir); err == nil {
		settings.TempDir = abs
	}
	if settings.RenderTimeout <= 0 {
		settings.RenderTimeout = render.RenderTimeout
	}
	if settings.SRTMaxWords < 1 {
		settings.SRTMaxWords = captions.DefaultMaxWordsPerBlock
	}
	log = log.Named("pipeline")
	return &Pipeline{
		store:      deps.Store,
		emit:       deps.Emitter,
		text:       deps.Text,
		voice:      deps.Voice,
		images:     deps.Images,
		uploader:   deps.Uploader,
		compositor: deps.Compositor,
		gate:       NewGate(deps.Store, deps.Emitter, log),
		settings:   settings,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Gate exposes the readiness gate used by the stages.
func (p *Pipeline) Gate() *Gate { return p.gate }

func decode(payload string, v interface{}) error {
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return Permanent(fmt.Errorf("decode payload: %w", err))
	}
	return nil
}

// loadActive loads a video and reports whether stages should still work on
// it. A missing video is a permanent error.
func (p *Pipeline) loadActive(ctx context.Context, id string) (*models.Video, bool, error) {
	video, err := p.store.GetVideo(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, false, Permanent(fmt.Errorf("video %s: %w", id, err))
		}
		return nil, false, err
	}
	if video.Status.IsTerminal() {
		p.log.Info("Skipping task for finished video",
			zap.String("video_id", id), zap.String("status", string(video.Status)))
		return video, false, nil
	}
	return video, true, nil
}

// HandleScript generates the script and title, then fans out to the
// voiceover and scenes stages.
func (p *Pipeline) HandleScript(ctx context.Context, payload string) error {
	var task tasks.ScriptTaskPayload
	if err := decode(payload, &task); err != nil {
		return err
	}
	log := p.log.With(zap.String("video_id", task.VideoID), zap.String("stage", "script"))

	video, active, err := p.loadActive(ctx, task.VideoID)
	if err != nil || !active {
		return err
	}
	if video.Theme == "" {
		return Permanent(errors.New("video has no theme"))
	}

	// A redelivered task reuses the stored script so both branches narrate
	// and illustrate the same text.
	if video.Script != nil && *video.Script != "" {
		log.Info("Script already stored, re-emitting")
		return p.emitScriptBranches(ctx, video, *video.Script)
	}

	script, title, err := p.generateScriptAndTitle(ctx, video.Theme)
	if err != nil {
		return err
	}

	if err := p.store.UpdateVideo(ctx, video.ID, map[string]interface{}{
		"script": script,
		"title":  title,
	}); err != nil {
		return fmt.Errorf("save script: %w", err)
	}
	log.Info("Generated script", zap.String("title", title), zap.Int("words", processing.WordCount(script)))

	// Styling may have been edited since the task was queued.
	video, err = p.store.GetVideo(ctx, video.ID)
	if err != nil {
		return err
	}
	return p.emitScriptBranches(ctx, video, script)
}

func (p *Pipeline) emitScriptBranches(ctx context.Context, video *models.Video, script string) error {
	return p.emitAll(ctx, []emission{
		{queue: tasks.QueueVoiceover, payload: tasks.VoiceoverTaskPayload{VideoID: video.ID, Script: script}},
		{queue: tasks.QueueScenes, payload: tasks.ScenesTaskPayload{
			VideoID:  video.ID,
			Script:   script,
			Theme:    video.Theme,
			ArtStyle: video.ArtStyle,
		}},
	})
}

// HandleVoiceover synthesizes narration, stores the audio and captions and
// checks whether the video is ready to render.
func (p *Pipeline) HandleVoiceover(ctx context.Context, payload string) error {
	var task tasks.VoiceoverTaskPayload
	if err := decode(payload, &task); err != nil {
		return err
	}
	if task.Script == "" {
		return Permanent(errors.New("voiceover: empty script"))
	}
	log := p.log.With(zap.String("video_id", task.VideoID), zap.String("stage", "voiceover"))

	video, active, err := p.loadActive(ctx, task.VideoID)
	if err != nil || !active {
		return err
	}
	if video.VoiceOverURL != nil && *video.VoiceOverURL != "" && video.HasCaptions() {
		log.Info("Voiceover already stored, checking gate")
		_, err = p.gate.Check(ctx, video.ID)
		return err
	}
	if _, err := p.store.AdvanceStatus(ctx, video.ID, models.StatusGeneratingVoiceover); err != nil {
		return err
	}

	voiceID, err := p.voiceFor(ctx, video)
	if err != nil {
		return err
	}

	speech, err := p.voice.Synthesize(ctx, task.Script, voiceID)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}

	words := captions.CharactersToWords(speech.Alignment)
	if video.EmojiCaptions && len(words) > 0 {
		enriched, err := p.text.AddEmojis(ctx, words, task.Script, video.Theme)
		if err != nil {
			log.Warn("Emoji enrichment failed, using plain captions", zap.Error(err))
		} else {
			words = enriched
		}
	}

	raw, err := json.Marshal(captions.Raw{
		Alignment:           speech.Alignment,
		NormalizedAlignment: speech.NormalizedAlignment,
	})
	if err != nil {
		return Permanent(err)
	}
	processed, err := json.Marshal(captions.Processed{
		Words: words,
		SRT:   captions.WordsToSRT(words, p.settings.SRTMaxWords),
	})
	if err != nil {
		return Permanent(err)
	}

	audioURL, err := p.uploader.Upload(ctx, speech.Audio, storage.VoiceoverPath(video.ID, p.newID()), storage.ContentTypeMP3)
	if err != nil {
		return fmt.Errorf("upload voiceover: %w", err)
	}

	if err := p.store.UpdateVideo(ctx, video.ID, map[string]interface{}{
		"voice_over_url":     audioURL,
		"captions_raw":       jsonColumn(raw),
		"captions_processed": jsonColumn(processed),
	}); err != nil {
		return fmt.Errorf("save voiceover: %w", err)
	}
	log.Info("Stored voiceover", zap.Int("words", len(words)), zap.String("voice_id", voiceID))

	_, err = p.gate.Check(ctx, video.ID)
	return err
}

// voiceFor picks the series voice when the video belongs to a series that
// has one.
func (p *Pipeline) voiceFor(ctx context.Context, video *models.Video) (string, error) {
	if video.SeriesID == nil {
		return p.settings.DefaultVoiceID, nil
	}
	series, err := p.store.GetSeries(ctx, *video.SeriesID)
	if err != nil {
		if isNotFound(err) {
			return p.settings.DefaultVoiceID, nil
		}
		return "", fmt.Errorf("load series: %w", err)
	}
	if series.VoiceID != nil && *series.VoiceID != "" {
		return *series.VoiceID, nil
	}
	return p.settings.DefaultVoiceID, nil
}

// HandleScenes generates the scene prompts, stores every scene in one
// transaction and emits one image task per scene.
func (p *Pipeline) HandleScenes(ctx context.Context, payload string) error {
	var task tasks.ScenesTaskPayload
	if err := decode(payload, &task); err != nil {
		return err
	}
	if task.Script == "" {
		return Permanent(errors.New("scenes: empty script"))
	}
	log := p.log.With(zap.String("video_id", task.VideoID), zap.String("stage", "scenes"))

	video, active, err := p.loadActive(ctx, task.VideoID)
	if err != nil || !active {
		return err
	}
	if _, err := p.store.AdvanceStatus(ctx, video.ID, models.StatusGeneratingScenes); err != nil {
		return err
	}

	// A redelivered task finds the rows already written and only re-emits
	// the scenes that still lack an image.
	scenes, err := p.store.ListScenes(ctx, video.ID)
	if err != nil {
		return err
	}
	if len(scenes) == 0 {
		count := processing.SceneCount(task.Script)
		prompts, err := p.text.GenerateScenePrompts(ctx, task.Script, task.Theme, task.ArtStyle, count)
		if err != nil {
			if errors.Is(err, processing.ErrSceneParse) {
				return Permanent(err)
			}
			return err
		}
		if len(prompts) != count {
			return Permanent(fmt.Errorf("%w: got %d scenes, want %d", processing.ErrSceneParse, len(prompts), count))
		}

		scenes = make([]models.VideoScene, len(prompts))
		for i, sp := range prompts {
			scenes[i] = models.VideoScene{
				ID:          p.newID(),
				VideoID:     video.ID,
				SceneIndex:  i,
				ImagePrompt: sp.ImagePrompt,
			}
		}
		if err := p.store.InsertScenes(ctx, scenes); err != nil {
			return fmt.Errorf("save scenes: %w", err)
		}
		log.Info("Generated scenes", zap.Int("count", len(scenes)))
	}

	var out []emission
	for _, sc := range scenes {
		if sc.ImageURL != nil {
			continue
		}
		out = append(out, emission{
			queue: tasks.QueueSceneImage,
			payload: tasks.SceneImageTaskPayload{
				VideoID:     video.ID,
				SceneID:     sc.ID,
				ImagePrompt: sc.ImagePrompt,
			},
		})
	}
	return p.emitAll(ctx, out)
}

// HandleSceneImage generates and stores the image of one scene, then checks
// the readiness gate.
func (p *Pipeline) HandleSceneImage(ctx context.Context, payload string) error {
	var task tasks.SceneImageTaskPayload
	if err := decode(payload, &task); err != nil {
		return err
	}
	if task.ImagePrompt == "" {
		return Permanent(fmt.Errorf("scene %s: empty image prompt", task.SceneID))
	}
	log := p.log.With(zap.String("video_id", task.VideoID), zap.String("scene_id", task.SceneID), zap.String("stage", "scene_image"))

	video, active, err := p.loadActive(ctx, task.VideoID)
	if err != nil || !active {
		return err
	}
	scene, err := p.findScene(ctx, video.ID, task.SceneID)
	if err != nil {
		return err
	}
	if scene.ImageURL != nil && *scene.ImageURL != "" {
		log.Info("Scene image already stored, checking gate")
		_, err = p.gate.Check(ctx, video.ID)
		return err
	}
	if _, err := p.store.AdvanceStatus(ctx, video.ID, models.StatusGeneratingImages); err != nil {
		return err
	}

	img, err := p.images.Generate(ctx, task.ImagePrompt)
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	imageURL, err := p.uploader.Upload(ctx, img, storage.ScenePath(video.ID, task.SceneID), storage.ContentTypePNG)
	if err != nil {
		return fmt.Errorf("upload scene image: %w", err)
	}
	switch err := p.store.SetSceneImage(ctx, task.SceneID, imageURL); {
	case err == nil:
		log.Info("Stored scene image")
	case errors.Is(err, store.ErrImageAlreadySet):
		// A concurrent delivery of the same task stored first; keep its URL.
		log.Info("Scene image stored by another delivery")
	case isNotFound(err):
		return Permanent(fmt.Errorf("scene %s: %w", task.SceneID, err))
	default:
		return fmt.Errorf("save scene image: %w", err)
	}

	_, err = p.gate.Check(ctx, video.ID)
	return err
}

// findScene returns one scene of a video. A scene that no longer exists is a
// permanent error.
func (p *Pipeline) findScene(ctx context.Context, videoID, sceneID string) (*models.VideoScene, error) {
	scenes, err := p.store.ListScenes(ctx, videoID)
	if err != nil {
		return nil, err
	}
	for i := range scenes {
		if scenes[i].ID == sceneID {
			return &scenes[i], nil
		}
	}
	return nil, Permanent(fmt.Errorf("scene %s: %w", sceneID, store.ErrNotFound))
}

// HandleRender composites the final video, uploads it and completes the job.
func (p *Pipeline) HandleRender(ctx context.Context, payload string) error {
	var task tasks.RenderTaskPayload
	if err := decode(payload, &task); err != nil {
		return err
	}
	log := p.log.With(zap.String("video_id", task.VideoID), zap.String("stage", "render"))

	video, active, err := p.loadActive(ctx, task.VideoID)
	if err != nil || !active {
		return err
	}
	if _, err := p.store.AdvanceStatus(ctx, video.ID, models.StatusRendering); err != nil {
		return err
	}

	comp, err := p.composition(ctx, video)
	if err != nil {
		return err
	}

	output := filepath.Join(p.settings.TempDir, fmt.Sprintf("%s-%s.mp4", video.ID, p.newID()))
	defer func() {
		if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
			log.Warn("Failed to remove render output", zap.String("path", output), zap.Error(err))
		}
	}()

	start := p.now()
	rctx, cancel := context.WithTimeout(ctx, p.settings.RenderTimeout)
	err = p.compositor.Compose(rctx, comp, output)
	cancel()
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	log.Info("Composed video",
		zap.Int("scenes", len(comp.SceneImageURLs)),
		zap.Float64("duration_seconds", comp.DurationSeconds),
		zap.Duration("elapsed", p.now().Sub(start)))

	if _, err := p.store.AdvanceStatus(ctx, video.ID, models.StatusUploadingFinalVideo); err != nil {
		return err
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return fmt.Errorf("read render output: %w", err)
	}
	videoURL, err := p.uploader.Upload(ctx, data, storage.VideoPath(video.ID, p.newID()), storage.ContentTypeMP4)
	if err != nil {
		return fmt.Errorf("upload video: %w", err)
	}

	if err := p.store.CompleteVideo(ctx, video.ID, videoURL, p.now()); err != nil {
		return fmt.Errorf("complete video: %w", err)
	}
	videosFinished.WithLabelValues(string(models.StatusCompleted)).Inc()
	log.Info("Video completed", zap.String("video_url", videoURL))
	return nil
}

// composition validates that every render input exists and assembles them.
func (p *Pipeline) composition(ctx context.Context, video *models.Video) (render.Composition, error) {
	if video.VoiceOverURL == nil || *video.VoiceOverURL == "" {
		return render.Composition{}, Permanent(errors.New("render: voiceover missing"))
	}
	if !video.HasCaptions() {
		return render.Composition{}, Permanent(errors.New("render: captions missing"))
	}
	processed, err := video.Captions()
	if err != nil {
		return render.Composition{}, Permanent(fmt.Errorf("render: decode captions: %w", err))
	}

	scenes, err := p.store.ListScenes(ctx, video.ID)
	if err != nil {
		return render.Composition{}, err
	}
	if len(scenes) == 0 {
		return render.Composition{}, Permanent(errors.New("render: no scenes"))
	}
	urls := make([]string, len(scenes))
	for i, sc := range scenes {
		if sc.ImageURL == nil || *sc.ImageURL == "" {
			return render.Composition{}, Permanent(fmt.Errorf("render: scene %d has no image", sc.SceneIndex))
		}
		urls[i] = *sc.ImageURL
	}

	return render.Composition{
		SceneImageURLs:  urls,
		AudioURL:        *video.VoiceOverURL,
		Words:           processed.Words,
		HighlightColor:  video.CaptionHighlightColor,
		CaptionPosition: video.CaptionPosition,
		DurationSeconds: render.Duration(processed.Words),
		FPS:             render.FPS,
		Width:           render.Width,
		Height:          render.Height,
	}, nil
}

// failVideo is the exhaustion hook of the stages whose failure ends the job.
func (p *Pipeline) failVideo(stage string) ExhaustedHandler {
	return func(ctx context.Context, payload string, cause error) {
		var task tasks.RenderTaskPayload
		if err := json.Unmarshal([]byte(payload), &task); err != nil || task.VideoID == "" {
			p.log.Error("Cannot fail video, bad payload", zap.String("stage", stage), zap.Error(err))
			return
		}
		p.markFailed(ctx, task.VideoID, fmt.Sprintf("%s: %v", stage, cause))
	}
}

func (p *Pipeline) markFailed(ctx context.Context, videoID, reason string) {
	won, err := p.store.MarkFailed(ctx, videoID, reason)
	if err != nil {
		p.log.Error("Failed to mark video failed", zap.String("video_id", videoID), zap.Error(err))
		return
	}
	if won {
		videosFinished.WithLabelValues(string(models.StatusFailed)).Inc()
		p.log.Warn("Video failed", zap.String("video_id", videoID), zap.String("reason", reason))
	}
}

// sceneImageExhausted leaves the video alone; one missing image keeps the
// gate closed without failing the job.
func (p *Pipeline) sceneImageExhausted(ctx context.Context, payload string, cause error) {
	p.log.Error("Scene image failed permanently", zap.String("payload", payload), zap.Error(cause))
}
