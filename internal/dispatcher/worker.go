package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfdesk/internal/assembler"
	"github.com/local/pdfdesk/internal/guard"
	"github.com/local/pdfdesk/internal/metrics"
	"github.com/local/pdfdesk/internal/preview"
	"github.com/local/pdfdesk/internal/queue"
	"github.com/local/pdfdesk/internal/storage"
	"github.com/local/pdfdesk/internal/store"
)

type Config struct {
	Concurrency  int
	JobTimeout   time.Duration
	PollInterval time.Duration // bounds each blocking dequeue
	Consumer     string        // prefix of consumer names in the queue group
}

// Worker consumes queued jobs: it loads the inputs from storage, runs the
// operation, stores the artifact and records the outcome. Jobs are attempted
// once; failures are recorded, not retried.
type Worker struct {
	cfg     Config
	q       queue.Queue
	status  store.StatusStore
	objects storage.Store
	runner  *Runner

	stop chan struct{}
	wg   sync.WaitGroup
}

func New(cfg Config, q queue.Queue, status store.StatusStore, objects storage.Store, runner *Runner) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "pdfdesk"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{cfg: cfg, q: q, status: status, objects: objects, runner: runner, stop: make(chan struct{})}
}

func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.loop(i)
	}
	w.wg.Add(1)
	go w.reportDepth()
}

// Stop signals the workers and waits for in-flight jobs, or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(id int) {
	defer w.wg.Done()
	consumer := w.cfg.Consumer + "-" + strconv.Itoa(id)
	log.Info().Int("worker", id).Msg("dispatcher worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("dispatcher worker stopped")
			return
		default:
		}

		msgID, job, err := w.q.Dequeue(context.Background(), consumer, w.cfg.PollInterval)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if job == nil {
			continue
		}

		w.Process(job)
		if err := w.q.Ack(context.Background(), msgID); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("ack failed")
		}
	}
}

// Process runs one job to completion and records its final status.
func (w *Worker) Process(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	start := time.Now().UTC()
	logger := log.With().Str("job_id", job.ID).Str("op", job.Op).Logger()
	w.setStatus(ctx, job.ID, store.Status{Status: store.StatusProcessing, Op: job.Op, Start: &start})
	logger.Info().Int("inputs", len(job.Inputs)).Msg("job started")

	st, err := w.execute(ctx, job)
	end := time.Now().UTC()
	st.Op, st.Start, st.End = job.Op, &start, &end
	if err != nil {
		st.Status = store.StatusFailed
		st.ErrorKind = ErrorKind(err)
		st.Message = UserMessage(err)
		logger.Warn().Err(err).Str("kind", st.ErrorKind).Dur("duration", end.Sub(start)).Msg("job failed")
		if ferr := w.q.Fail(ctx, job, err.Error()); ferr != nil {
			logger.Warn().Err(ferr).Msg("could not record failed job")
		}
		metrics.IncJob(store.StatusFailed)
	} else {
		st.Status = store.StatusSuccess
		logger.Info().Str("artifact", st.ArtifactName).Str("size", st.Size).Dur("duration", end.Sub(start)).Msg("job finished")
		metrics.IncJob(store.StatusSuccess)
	}
	w.setStatus(context.Background(), job.ID, st)

	for _, in := range job.Inputs {
		if err := w.objects.Delete(context.Background(), in.Key); err != nil {
			logger.Debug().Err(err).Str("key", in.Key).Msg("input cleanup failed")
		}
	}
}

func (w *Worker) execute(ctx context.Context, job *queue.Job) (store.Status, error) {
	req := Request{Op: job.Op, Params: job.Params}
	for _, in := range job.Inputs {
		obj, err := w.objects.Get(ctx, in.Key)
		if err != nil {
			return store.Status{}, fmt.Errorf("load input %s: %w", in.Key, err)
		}
		name := in.Name
		if name == "" {
			name = obj.Name
		}
		req.Files = append(req.Files, File{Name: name, Data: obj.Data})
	}

	res, err := w.runner.Run(ctx, req)
	if err != nil {
		return store.Status{}, err
	}
	if res.Artifact == nil {
		return store.Status{}, invalid("op", "%s has no downloadable result", job.Op)
	}

	art := res.Artifact
	obj := &storage.Object{
		Key:         storage.NewKey(storage.KindArtifact),
		Name:        art.Name,
		ContentType: art.ContentType,
		Data:        art.Data,
		Meta:        map[string]string{"job_id": job.ID, "pages": strconv.Itoa(art.Pages)},
	}
	if res.Compress != nil {
		obj.Meta["original_size"] = res.Compress.OriginalSize
		obj.Meta["reduction_percent"] = strconv.Itoa(res.Compress.ReductionPercent)
	}
	if err := w.objects.Put(ctx, obj); err != nil {
		return store.Status{}, fmt.Errorf("store artifact: %w", err)
	}
	st := store.Status{
		ArtifactKey:  obj.Key,
		ArtifactName: art.Name,
		Size:         art.Size,
		Pages:        art.Pages,
	}
	for _, warn := range art.Warnings {
		st.Warnings = append(st.Warnings, warn.UserMessage())
	}
	return st, nil
}

func (w *Worker) setStatus(ctx context.Context, jobID string, st store.Status) {
	if err := w.status.Set(ctx, jobID, st); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Str("status", st.Status).Msg("status update failed")
	}
}

func (w *Worker) reportDepth() {
	defer w.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			stream, pending, err := w.q.Depths(ctx)
			cancel()
			if err != nil {
				continue
			}
			metrics.SetQueueDepth("stream", stream)
			metrics.SetQueueDepth("pending", pending)
		}
	}
}

// ErrorKind names the failure class of err for job status and API errors.
func ErrorKind(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return "validation"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, guard.ErrBusy) {
		return "busy"
	}
	if errors.Is(err, preview.ErrDisabled) {
		return "disabled"
	}
	if k := assembler.KindOf(err); k != assembler.KindUnknown {
		return k.String()
	}
	return "internal"
}

// UserMessage is the text shown to whoever submitted the request.
func UserMessage(err error) string {
	var ae *assembler.Error
	if errors.As(err, &ae) {
		return ae.UserMessage()
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The job took too long and was stopped."
	}
	if errors.Is(err, guard.ErrBusy) {
		return "This document is already being processed."
	}
	if errors.Is(err, preview.ErrDisabled) {
		return "Page previews are not available."
	}
	return "An unexpected error occurred."
}
