package processor

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ZacxDev/mediaxform/internal/ffmpeg"
	"github.com/ZacxDev/mediaxform/internal/format"
	"github.com/ZacxDev/mediaxform/internal/metrics"
	"github.com/ZacxDev/mediaxform/internal/raster"
	"github.com/ZacxDev/mediaxform/internal/transform"
	"github.com/ZacxDev/mediaxform/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// VideoJob is one video transform. Operation is in source space.
type VideoJob struct {
	Input     string
	Output    string
	Operation transform.Operation

	// FrameRate overrides the source rate when positive.
	FrameRate float64

	// OnStateChange sees each state once, in order, from one goroutine.
	OnStateChange func(types.State)
	// OnProgress is called after every frame handed to the encoder. total
	// is the container's frame count and may be 0 when unknown.
	OnProgress func(done, total int)
}

// VideoResult describes a finished encode.
type VideoResult struct {
	JobID  string
	Output string
	Frames int
	Width  int
	Height int
}

type indexedFrame struct {
	idx   int
	frame *raster.Frame
	err   error
}

// ProcessVideo decodes job.Input, applies the operation to every frame with
// a worker pool and re-encodes the frames in their original order.
func (p *Processor) ProcessVideo(ctx context.Context, job VideoJob) (res *VideoResult, err error) {
	jobID := uuid.NewString()
	log := p.log.WithField("job_id", jobID)

	var state types.State
	report := func(s types.State) {
		state = s
		log.WithField("state", s).Debug("Video pipeline state")
		if job.OnStateChange != nil {
			job.OnStateChange(s)
		}
	}
	defer func() {
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"state": state,
				"kind":  types.KindOf(err),
			}).Error("Video pipeline failed")
			report(types.StateFailed)
		}
		metrics.JobFinished(types.MediaKindVideo, err)
	}()

	f, err := format.ForPath(job.Input)
	if err != nil {
		return nil, err
	}
	if f.GetKind() != types.MediaKindVideo {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "%s is not a video container", job.Input)
	}
	if err := job.Operation.Check(); err != nil {
		return nil, err
	}
	output, err := ensureOutputPath(job.Output, "mp4")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.decoder.Open(ctx, job.Input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	md := stream.Metadata()
	report(types.StateOpened)

	op, err := p.engine.CompileOperation(job.Operation, md.Width, md.Height)
	if err != nil {
		return nil, err
	}

	rate := md.FrameRate
	if job.FrameRate > 0 {
		rate = ffmpeg.RateFromFloat(job.FrameRate)
	}
	width, height := job.Operation.Bounds(md.Width, md.Height)

	log.WithFields(logrus.Fields{
		"input":     job.Input,
		"output":    output,
		"operation": job.Operation.String(),
		"size":      [2]int{md.Width, md.Height},
		"fps":       rate.String(),
		"frames":    md.FrameCount,
	}).Info("Processing video")

	sink, err := p.encoder.Begin(ctx, ffmpeg.Target{Path: output, Width: width, Height: height, FrameRate: rate})
	if err != nil {
		return nil, err
	}
	ended := false
	defer func() {
		if !ended {
			_ = sink.Abort()
		}
	}()

	report(types.StateDecoding)
	frames, err := p.runFrames(ctx, cancel, stream, op, operationLabel(job.Operation), sink, report, func(done int) {
		if job.OnProgress != nil {
			job.OnProgress(done, md.FrameCount)
		}
	})
	if err != nil {
		return nil, err
	}
	if frames == 0 {
		return nil, errors.Wrapf(types.ErrDecodeFailure, "%s has no frames", job.Input)
	}

	report(types.StateEncoding)
	start := time.Now()
	ended = true
	if err := sink.Close(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "canceled while encoding: %v", err)
		}
		return nil, err
	}
	metrics.ObserveEncode(p.opts.EncoderMode, time.Since(start))

	report(types.StateClosed)
	log.WithFields(logrus.Fields{
		"output": output,
		"frames": frames,
	}).Info("Video complete")

	return &VideoResult{JobID: jobID, Output: output, Frames: frames, Width: width, Height: height}, nil
}

// runFrames pulls frames from stream, transforms them on a worker pool and
// writes them to sink in input order. At most twice the pool size frames
// are decoded but not yet written. Every goroutine has exited when it
// returns.
func (p *Processor) runFrames(
	ctx context.Context,
	cancel context.CancelFunc,
	stream ffmpeg.Stream,
	op transform.Op,
	label string,
	sink ffmpeg.Sink,
	report func(types.State),
	progress func(done int),
) (int, error) {
	workers := p.workers()
	inflight := make(chan struct{}, 2*workers)
	jobs := make(chan indexedFrame, workers)
	results := make(chan indexedFrame, workers)

	var decodeErr error
	go func() {
		defer close(jobs)
		for i := 0; ; i++ {
			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
			frame, err := stream.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				decodeErr = err
				return
			}
			select {
			case jobs <- indexedFrame{idx: i, frame: frame}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				start := time.Now()
				out, err := op(j.frame)
				if err == nil {
					metrics.ObserveFrame(label, time.Since(start))
				}
				select {
				case results <- indexedFrame{idx: j.idx, frame: out, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	report(types.StateTransforming)

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
			cancel()
		}
	}

	pending := make(map[int]*raster.Frame)
	next := 0
	for r := range results {
		if firstErr != nil {
			continue
		}
		if r.err != nil {
			fail(errors.WithMessagef(r.err, "frame %d", r.idx))
			continue
		}
		pending[r.idx] = r.frame
		for firstErr == nil {
			frame, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if next == 0 {
				report(types.StateBuffered)
			}
			if err := sink.WriteFrame(frame); err != nil {
				fail(errors.WithMessagef(err, "frame %d", next))
				break
			}
			next++
			<-inflight
			progress(next)
		}
	}

	// A canceled context also kills the decoder, so cancellation outranks
	// the decode error it causes.
	if firstErr != nil {
		return next, firstErr
	}
	if err := ctx.Err(); err != nil {
		return next, errors.Wrapf(err, "canceled after frame %d", next)
	}
	if decodeErr != nil {
		return next, errors.WithMessagef(decodeErr, "after frame %d", next)
	}
	return next, nil
}

// FirstFrame decodes the first frame of a video for previewing.
func (p *Processor) FirstFrame(ctx context.Context, path string) (*raster.Frame, ffmpeg.VideoMetadata, error) {
	f, err := format.ForPath(path)
	if err != nil {
		return nil, ffmpeg.VideoMetadata{}, err
	}
	if f.GetKind() != types.MediaKindVideo {
		return nil, ffmpeg.VideoMetadata{}, errors.Wrapf(types.ErrUnsupportedFormat, "%s is not a video container", path)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.decoder.Open(ctx, path)
	if err != nil {
		return nil, ffmpeg.VideoMetadata{}, err
	}
	defer stream.Close()

	frame, err := stream.Next()
	if err == io.EOF {
		return nil, stream.Metadata(), errors.Wrapf(types.ErrDecodeFailure, "%s has no frames", path)
	}
	if err != nil {
		return nil, stream.Metadata(), err
	}
	return frame, stream.Metadata(), nil
}

// ProcessVideoReader spools r to a scoped temp file named like name and
// processes it.
func (p *Processor) ProcessVideoReader(ctx context.Context, r io.Reader, name string, job VideoJob) (*VideoResult, error) {
	f, err := format.ForPath(name)
	if err != nil {
		return nil, err
	}
	if f.GetKind() != types.MediaKindVideo {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "%s is not a video container", name)
	}

	path, err := p.spool(r, name)
	if err != nil {
		return nil, err
	}
	defer p.removeTemp(p.log, path)

	job.Input = path
	return p.ProcessVideo(ctx, job)
}
