package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

// DefaultStages is the delivery tuning of every pipeline queue.
func DefaultStages() map[string]StageOptions {
	return map[string]StageOptions{
		tasks.QueueScript:     {Concurrency: 5, MaxAttempts: 3, Backoff: 2 * time.Second},
		tasks.QueueVoiceover:  {Concurrency: 3, MaxAttempts: 3, Backoff: 2 * time.Second},
		tasks.QueueScenes:     {Concurrency: 5, MaxAttempts: 3, Backoff: 2 * time.Second},
		tasks.QueueSceneImage: {Concurrency: 10, MaxAttempts: 3, Backoff: 2 * time.Second},
		tasks.QueueRender:     {Concurrency: 2, MaxAttempts: 1, Backoff: 2 * time.Second},
	}
}

// Registrar accepts stage handlers. *Processor implements it.
type Registrar interface {
	Register(queueName string, handler TaskHandler, opts StageOptions)
}

// RegisterStages binds every stage handler and its exhaustion hook. Queues
// missing from stages use DefaultStages.
func (p *Pipeline) RegisterStages(r Registrar, stages map[string]StageOptions) {
	defaults := DefaultStages()
	opts := func(queue string) StageOptions {
		if o, ok := stages[queue]; ok {
			return o
		}
		return defaults[queue]
	}

	script := opts(tasks.QueueScript)
	script.OnExhausted = p.failVideo("script")
	r.Register(tasks.QueueScript, p.HandleScript, script)

	vo := opts(tasks.QueueVoiceover)
	vo.OnExhausted = p.failVideo("voiceover")
	r.Register(tasks.QueueVoiceover, p.HandleVoiceover, vo)

	scenes := opts(tasks.QueueScenes)
	scenes.OnExhausted = p.failVideo("scenes")
	r.Register(tasks.QueueScenes, p.HandleScenes, scenes)

	img := opts(tasks.QueueSceneImage)
	img.OnExhausted = p.sceneImageExhausted
	r.Register(tasks.QueueSceneImage, p.HandleSceneImage, img)

	rnd := opts(tasks.QueueRender)
	rnd.OnExhausted = p.failVideo("render")
	r.Register(tasks.QueueRender, p.HandleRender, rnd)
}

// generateScriptAndTitle runs both generations concurrently; neither result
// is returned unless both succeed.
func (p *Pipeline) generateScriptAndTitle(ctx context.Context, theme string) (string, string, error) {
	var script, title string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := p.text.GenerateScript(gctx, theme)
		if err != nil {
			return fmt.Errorf("generate script: %w", err)
		}
		if s == "" {
			return errors.New("generate script: empty response")
		}
		script = s
		return nil
	})
	g.Go(func() error {
		t, err := p.text.GenerateTitle(gctx, theme)
		if err != nil {
			return fmt.Errorf("generate title: %w", err)
		}
		title = processing.CleanTitle(t)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return script, title, nil
}

type emission struct {
	queue   string
	payload interface{}
}

// emitAll publishes every task concurrently and returns the first error.
func (p *Pipeline) emitAll(ctx context.Context, out []emission) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, e := range out {
		e := e
		g.Go(func() error {
			if err := p.emit.Enqueue(gctx, e.queue, e.payload); err != nil {
				return fmt.Errorf("emit %s: %w", e.queue, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(out) > 0 {
		p.log.Debug("Emitted tasks", zap.Int("count", len(out)), zap.String("queue", out[0].queue))
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func jsonColumn(b []byte) datatypes.JSON {
	return datatypes.JSON(b)
}
