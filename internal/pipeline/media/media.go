// Package media is the video and audio generation pipeline: extract source
// material, script it with the model, render and narrate each slide, then
// synchronize and publish the result.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/ai"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/pipeline"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/runner"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/scrape"
	"github.com/NPRiteshReddy/DS.2-sub000/internal/store"
	"github.com/NPRiteshReddy/DS.2-sub000/pkg/models"
)

// Video steps.
const (
	StepExtract = 1
	StepScript  = 2
	StepRender  = 3
	StepNarrate = 4
	StepSync    = 5
	StepPersist = 6
)

// Audio jobs skip rendering and number their steps consecutively.
const (
	AudioStepNarrate = 3
	AudioStepSync    = 4
	AudioStepPersist = 5
)

// ScriptWriter asks the model for a script.
type ScriptWriter interface {
	WriteScript(ctx context.Context, req ai.ScriptRequest) ([]byte, error)
}

// Publisher moves a finished file to public storage and returns its public path.
type Publisher interface {
	Publish(ctx context.Context, src, rel string) (string, error)
}

// ResultStore is the part of the job store the pipeline writes to.
type ResultStore interface {
	RecordResult(ctx context.Context, id string, result json.RawMessage, opts ...store.JobUpdateOption) error
	IncrementQuota(ctx context.Context, jobID, ownerID string, kind models.JobKind, date time.Time) error
}

// Tools bundles the external programs the pipeline drives.
type Tools struct {
	Renderer *Renderer
	Narrator *Narrator
	Muxer    *Muxer
}

// NewTools builds the tool wrappers from configuration.
func NewTools(r runner.Runner, cfg config.ToolsConfig) Tools {
	mux := NewMuxer(r, cfg.FFmpegPath, cfg.FFprobePath, cfg.MuxTimeout)
	return Tools{
		Renderer: NewRenderer(r, mux, cfg.RenderCommand, cfg.RenderArgs, cfg.SceneTimeout),
		Narrator: NewNarrator(r, cfg.TTSCommand, cfg.TTSVoice, cfg.TTSTimeout),
		Muxer:    mux,
	}
}

// Options select the variant a Pipeline runs.
type Options struct {
	// AudioOnly produces a narrated MP3 instead of a video.
	AudioOnly bool
	// RenderVideo false ends video jobs after the script is written.
	RenderVideo bool
	// RelatedSources is how many search results supplement the source page.
	RelatedSources int
}

// Pipeline implements pipeline.Pipeline for video and audio jobs.
type Pipeline struct {
	scraper   scrape.Client
	writer    ScriptWriter
	tools     Tools
	publisher Publisher
	store     ResultStore
	opts      Options
	now       func() time.Time
}

func New(scraper scrape.Client, writer ScriptWriter, tools Tools, pub Publisher, st ResultStore, opts Options) *Pipeline {
	return &Pipeline{
		scraper:   scraper,
		writer:    writer,
		tools:     tools,
		publisher: pub,
		store:     st,
		opts:      opts,
		now:       time.Now,
	}
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

func (p *Pipeline) Execute(ctx context.Context, run *pipeline.Run) error {
	job := run.Job
	log := run.Logger
	if log == nil {
		log = slog.Default()
	}
	h := run.Artifacts
	if h == nil {
		return errors.New("media pipeline needs an artifact directory")
	}

	var in models.MediaInput
	if err := json.Unmarshal(job.Input, &in); err != nil || in.SourceURL == "" {
		return pipeline.Fail("extract", pipeline.ErrExtractFailed, errors.New("decode input: missing source_url"))
	}

	if err := run.Tracker.Enter(ctx, StepExtract, "Extracting source content..."); err != nil {
		return err
	}
	sources, err := p.extract(ctx, log, in)
	if err != nil {
		return err
	}

	if err := run.Tracker.Enter(ctx, StepScript, "Writing script..."); err != nil {
		return err
	}
	script, err := p.script(ctx, in, sources)
	if err != nil {
		return err
	}
	log.Info("script written", "job_id", job.ID, "slides", len(script.Slides),
		"total_duration", float64(script.TotalDuration))

	if !p.opts.AudioOnly && !p.opts.RenderVideo {
		result := models.MediaResult{Title: script.Title, DurationSeconds: float64(script.TotalDuration), Script: script}
		return p.persist(ctx, log, run, &result)
	}

	if p.opts.AudioOnly {
		return p.audio(ctx, log, run, script)
	}
	return p.video(ctx, log, run, script)
}

func (p *Pipeline) extract(ctx context.Context, log *slog.Logger, in models.MediaInput) ([]ai.Source, error) {
	articles, err := p.scraper.Extract(ctx, in.SourceURL)
	if err != nil {
		return nil, pipeline.Fail("extract", pipeline.ErrExtractFailed, err)
	}
	sources := make([]ai.Source, 0, len(articles)+p.opts.RelatedSources)
	seen := make(map[string]bool)
	for _, a := range articles {
		if a.Content == "" || seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		sources = append(sources, ai.Source{Title: a.Title, URL: a.URL, Content: a.Content})
	}
	if len(sources) == 0 {
		return nil, pipeline.Fail("extract", pipeline.ErrExtractFailed, scrape.ErrNoContent)
	}

	if p.opts.RelatedSources <= 0 {
		return sources, nil
	}
	query := in.Title
	if query == "" {
		query = sources[0].Title
	}
	if query == "" {
		return sources, nil
	}
	related, err := p.scraper.Search(ctx, query, p.opts.RelatedSources)
	if err != nil {
		// Related material is optional.
		log.Debug("related search skipped", "query", query, "error", err)
		return sources, nil
	}
	for _, a := range related {
		if a.Content == "" || seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		sources = append(sources, ai.Source{Title: a.Title, URL: a.URL, Content: a.Content})
	}
	return sources, nil
}

func (p *Pipeline) script(ctx context.Context, in models.MediaInput, sources []ai.Source) (*models.Script, error) {
	raw, err := p.writer.WriteScript(ctx, ai.ScriptRequest{Title: in.Title, Sources: sources, AudioOnly: p.opts.AudioOnly})
	if err != nil {
		if errors.Is(err, ai.ErrInvalidResponse) {
			return nil, pipeline.Fail("script", pipeline.ErrInvalidScript, err)
		}
		return nil, pipeline.Fail("script", pipeline.ErrAnalysisFailed, err)
	}
	script, err := ValidateScript(raw, !p.opts.AudioOnly)
	if err != nil {
		return nil, err
	}
	if script.Title == "" {
		script.Title = in.Title
	}
	if script.Title == "" {
		script.Title = sources[0].Title
	}
	return script, nil
}

func (p *Pipeline) video(ctx context.Context, log *slog.Logger, run *pipeline.Run, script *models.Script) error {
	h := run.Artifacts
	n := len(script.Slides)

	if err := run.Tracker.Enter(ctx, StepRender, "Rendering scenes..."); err != nil {
		return err
	}
	clips := make([]string, n)
	clipDur := make([]float64, n)
	for i := range script.Slides {
		run.Tracker.Report(ctx, fmt.Sprintf("Rendering scene %d of %d...", i+1, n))
		scene, err := WriteScene(h, script, i)
		if err != nil {
			return pipeline.FailSlide("render", pipeline.ErrRenderFailed, i, err)
		}
		clips[i], clipDur[i], err = p.tools.Renderer.Render(ctx, h, i, scene)
		if err != nil {
			return err
		}
		log.Debug("scene rendered", "job_id", run.Job.ID, "slide", i+1, "duration", clipDur[i])
	}

	if err := run.Tracker.Enter(ctx, StepNarrate, "Generating narration..."); err != nil {
		return err
	}
	audio, err := p.narrate(ctx, run, script)
	if err != nil {
		return err
	}

	if err := run.Tracker.Enter(ctx, StepSync, "Synchronizing audio and video..."); err != nil {
		return err
	}
	if _, err := h.MkdirAll("synced"); err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	synced := make([]string, n)
	for i := range script.Slides {
		audioDur, err := p.tools.Muxer.Probe(ctx, audio[i])
		if err != nil {
			return pipeline.FailSlide("sync", pipeline.ErrSyncFailed, i, err)
		}
		out, err := h.Path("synced", SceneName(i)+".mp4")
		if err != nil {
			return pipeline.FailSlide("sync", pipeline.ErrSyncFailed, i, err)
		}
		if err := p.tools.Muxer.Fit(ctx, clips[i], audio[i], out, clipDur[i], audioDur); err != nil {
			return pipeline.FailSlide("sync", pipeline.ErrSyncFailed, i, err)
		}
		synced[i] = out
	}

	final, err := h.Path("final.mp4")
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	list, err := h.Path("synced", "concat.txt")
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	if err := p.tools.Muxer.Concat(ctx, synced, list, final); err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	total, err := p.tools.Muxer.Probe(ctx, final)
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	thumb, err := h.Path("thumbnail.jpg")
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	if err := p.tools.Muxer.Thumbnail(ctx, final, thumb, total); err != nil {
		// The thumbnail is optional.
		log.Warn("thumbnail failed", "job_id", run.Job.ID, "error", err)
		thumb = ""
	}

	if err := run.Tracker.Enter(ctx, StepPersist, "Publishing video..."); err != nil {
		return err
	}
	id := run.Job.ID
	videoPath, err := p.publisher.Publish(ctx, final, path.Join("videos", id+".mp4"))
	if err != nil {
		return persistFailed(err)
	}
	var thumbPath string
	if thumb != "" {
		if thumbPath, err = p.publisher.Publish(ctx, thumb, path.Join("videos", id+".thumb.jpg")); err != nil {
			return persistFailed(err)
		}
	}
	return p.persist(ctx, log, run, &models.MediaResult{
		Title:           script.Title,
		VideoPath:       videoPath,
		ThumbnailPath:   thumbPath,
		DurationSeconds: total,
		Script:          script,
	})
}

func (p *Pipeline) audio(ctx context.Context, log *slog.Logger, run *pipeline.Run, script *models.Script) error {
	h := run.Artifacts

	if err := run.Tracker.Enter(ctx, AudioStepNarrate, "Generating narration..."); err != nil {
		return err
	}
	parts, err := p.narrate(ctx, run, script)
	if err != nil {
		return err
	}

	if err := run.Tracker.Enter(ctx, AudioStepSync, "Joining narration..."); err != nil {
		return err
	}
	final, err := h.Path("final.mp3")
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	list, err := h.Path("narration", "concat.txt")
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	if err := p.tools.Muxer.Concat(ctx, parts, list, final); err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}
	total, err := p.tools.Muxer.Probe(ctx, final)
	if err != nil {
		return pipeline.Fail("sync", pipeline.ErrSyncFailed, err)
	}

	if err := run.Tracker.Enter(ctx, AudioStepPersist, "Publishing audio..."); err != nil {
		return err
	}
	audioPath, err := p.publisher.Publish(ctx, final, path.Join("audio", run.Job.ID+".mp3"))
	if err != nil {
		return persistFailed(err)
	}
	return p.persist(ctx, log, run, &models.MediaResult{
		Title:           script.Title,
		AudioPath:       audioPath,
		DurationSeconds: total,
		Script:          script,
	})
}

func (p *Pipeline) narrate(ctx context.Context, run *pipeline.Run, script *models.Script) ([]string, error) {
	n := len(script.Slides)
	out := make([]string, n)
	for i, sl := range script.Slides {
		run.Tracker.Report(ctx, fmt.Sprintf("Narrating slide %d of %d...", i+1, n))
		mp3, err := p.tools.Narrator.Narrate(ctx, run.Artifacts, i, sl.Narration)
		if err != nil {
			return nil, err
		}
		out[i] = mp3
	}
	return out, nil
}

func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, run *pipeline.Run, result *models.MediaResult) error {
	job := run.Job
	body, err := json.Marshal(result)
	if err != nil {
		return pipeline.Fail("persist", pipeline.ErrPersistFailed, err)
	}
	if err := p.store.RecordResult(ctx, job.ID, body, store.WithExpectedAttempt(job.Attempt)); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return fmt.Errorf("%w: %v", pipeline.ErrSuperseded, err)
		}
		return persistFailed(err)
	}
	run.Tracker.Finish()

	if err := p.store.IncrementQuota(ctx, job.ID, job.OwnerID, job.Kind, p.now()); err != nil {
		log.Error("increment quota", "job_id", job.ID, "owner_id", job.OwnerID, "error", err)
	}
	log.Info("media job completed", "job_id", job.ID, "kind", job.Kind,
		"duration_seconds", result.DurationSeconds, "video_path", result.VideoPath, "audio_path", result.AudioPath)
	return nil
}

func persistFailed(err error) error {
	se := pipeline.Fail("persist", pipeline.ErrPersistFailed, err)
	se.Transient = true
	return se
}
