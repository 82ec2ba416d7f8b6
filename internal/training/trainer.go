package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/woodland.report/internal/fsutil"
	"github.com/banshee-data/woodland.report/internal/monitoring"
	"github.com/banshee-data/woodland.report/internal/sampler"
	"github.com/banshee-data/woodland.report/internal/timeutil"
	"github.com/banshee-data/woodland.report/internal/unet"
)

var logf = monitoring.Component("train")

// Checkpoint file names inside the output directory.
const (
	BestCheckpoint  = "checkpoint_best" + unet.CheckpointExt
	FinalCheckpoint = "checkpoint_final" + unet.CheckpointExt
)

// EpochCheckpoint is the name of the periodic checkpoint for epoch.
func EpochCheckpoint(epoch int) string {
	return fmt.Sprintf("checkpoint_epoch_%04d%s", epoch, unet.CheckpointExt)
}

// EpochRecord summarises one completed epoch.
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	// ValLoss is NaN when the run has no validation batch.
	ValLoss  float64
	Duration time.Duration
	Improved bool
}

// CheckpointInfo describes a checkpoint that was written.
type CheckpointInfo struct {
	Path  string
	Kind  string
	Epoch int
	Loss  float64
}

// Recorder persists run history. Recording failures are logged and do not
// stop training.
type Recorder interface {
	RecordEpoch(ctx context.Context, runID string, rec EpochRecord) error
	RecordCheckpoint(ctx context.Context, runID string, info CheckpointInfo) error
}

// Options wires a Trainer to its environment.
type Options struct {
	FS        fsutil.FileSystem
	OutputDir string
	Recorder  Recorder
	Clock     timeutil.Clock
	// RunID tags checkpoints and registry rows; a random ID is used when empty.
	RunID        string
	BuildVersion string
	Progress     bool
	// PlotPNG also writes loss.png with gonum/plot. The image is written to
	// the operating system's filesystem, not through FS.
	PlotPNG bool
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Epochs       int
	Steps        int
	BestLoss     float64
	StoppedEarly bool
	FinalPath    string
	BestPath     string
	History      []EpochRecord
}

// Trainer runs the optimisation loop for one model.
type Trainer struct {
	cfg   Config
	smp   *sampler.Sampler
	model *unet.Model
	opt   *unet.Adam
	opts  Options

	mu    sync.Mutex
	state State

	// writeMu serialises checkpoint writes.
	writeMu sync.Mutex

	epoch    int
	step     int
	best     float64
	stale    int
	lastLoss float64
	bestPath string
	history  []EpochRecord
	grads    []*unet.Grads
}

// NewTrainer checks that model fits the sampler's channel contract and
// patch size.
func NewTrainer(cfg Config, smp *sampler.Sampler, model *unet.Model, opts Options) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := smp.Config()
	arch := model.Arch()
	if arch.InChannels != sc.Channels.Len() {
		return nil, fmt.Errorf("model takes %d channels, channel set %s has %d", arch.InChannels, sc.Channels.ID, sc.Channels.Len())
	}
	if sc.PatchSize%arch.Multiple() != 0 {
		return nil, fmt.Errorf("patch size %d is not divisible by %d for depth %d", sc.PatchSize, arch.Multiple(), arch.Depth)
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Trainer{
		cfg:   cfg,
		smp:   smp,
		model: model,
		opt:   unet.NewAdam(model, cfg.LearningRate),
		opts:  opts,
		best:  math.Inf(1),
	}, nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// RunID returns the run identifier.
func (t *Trainer) RunID() string { return t.opts.RunID }

// Epoch returns the number of completed epochs.
func (t *Trainer) Epoch() int { return t.epoch }

// History returns the records of the epochs run by this trainer.
func (t *Trainer) History() []EpochRecord {
	return append([]EpochRecord(nil), t.history...)
}

func (t *Trainer) transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !CanTransition(t.state, to) {
		return &TransitionError{From: t.state, To: to}
	}
	t.state = to
	return nil
}

func (t *Trainer) fail(err error) error {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = Failed
	}
	t.mu.Unlock()
	logf("run %s failed at epoch %d: %v", t.opts.RunID, t.epoch, err)
	return err
}

// Resume restores weights, optimiser moments, epoch counter and best loss
// from the checkpoint at path. The checkpoint must have been trained on the
// same channel contract, patch size and architecture.
func (t *Trainer) Resume(path string) error {
	if from := t.State(); !CanTransition(from, Resumed) {
		return &TransitionError{From: from, To: Resumed}
	}
	data, err := t.opts.FS.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	ck, err := unet.Load(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	sc := t.smp.Config()
	if err := ck.Verify(sc.Channels, sc.PatchSize); err != nil {
		return err
	}
	if ck.Arch != t.model.Arch() {
		return &unet.ContractError{Field: "architecture", Want: fmt.Sprintf("%+v", ck.Arch), Got: fmt.Sprintf("%+v", t.model.Arch())}
	}
	opt, err := ck.Optimizer(t.model, t.cfg.LearningRate)
	if err != nil {
		return err
	}
	if err := t.model.SetParams(ck.Params); err != nil {
		return fmt.Errorf("restore weights: %w", err)
	}
	if err := t.transition(Resumed); err != nil {
		return err
	}
	t.opt = opt
	t.epoch, t.step, t.best = ck.Epoch, ck.Step, ck.BestLoss
	t.lastLoss = ck.Loss
	logf("resumed %s at epoch %d step %d (best loss %.4f)", path, ck.Epoch, ck.Step, ck.BestLoss)
	return nil
}

// Run trains until the configured epoch count or early stop, then writes
// the final checkpoint. Cancelling ctx fails the run.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if from := t.State(); from != Uninitialized && from != Resumed {
		return nil, &TransitionError{From: from, To: Training}
	}
	if t.epoch >= t.cfg.Epochs {
		return nil, fmt.Errorf("run is already at epoch %d of %d", t.epoch, t.cfg.Epochs)
	}
	seed := t.smp.Config().Seed

	var val []*sampler.Patch
	if t.cfg.ValPatches > 0 {
		t.smp.Reset(seed + 1)
		var err error
		if val, err = t.smp.Draw(ctx, t.cfg.ValPatches); err != nil {
			return nil, t.fail(fmt.Errorf("draw validation batch: %w", err))
		}
	}
	// A resumed run continues on a fresh patch sequence.
	t.smp.Reset(seed + int64(t.epoch)*7919)

	if err := t.transition(Training); err != nil {
		return nil, err
	}
	q := t.smp.Prefetch(ctx, t.cfg.PrefetchDepth)
	defer func() {
		if err := q.Close(); err != nil {
			monitoring.Warnf("train", "prefetch: %v", err)
		}
	}()

	steps := t.cfg.StepsPerEpoch()
	bar := monitoring.NewProgress(t.opts.Progress, "train", (t.cfg.Epochs-t.epoch)*steps)
	defer bar.Done()

	logf("run %s: epochs %d-%d, %d steps of %d patches, %d workers",
		t.opts.RunID, t.epoch+1, t.cfg.Epochs, steps, t.cfg.BatchSize, t.cfg.Workers)

	stopped := false
	for t.epoch < t.cfg.Epochs {
		epoch := t.epoch + 1
		start := t.opts.Clock.Now()
		bar.Describe(fmt.Sprintf("epoch %d/%d", epoch, t.cfg.Epochs))

		trainLoss, err := t.runEpoch(ctx, q, epoch, steps, bar)
		if err != nil {
			return nil, t.fail(err)
		}
		valLoss := math.NaN()
		monitored := trainLoss
		if len(val) > 0 {
			if valLoss, err = t.evaluate(ctx, val); err != nil {
				return nil, t.fail(err)
			}
			if !finite(valLoss) {
				return nil, t.fail(&NumericError{Epoch: epoch, Step: t.step, Loss: valLoss, Scenes: sceneIDs(val)})
			}
			monitored = valLoss
		}

		improved := monitored < t.best-t.cfg.MinDelta
		if improved {
			t.best, t.stale = monitored, 0
		} else {
			t.stale++
		}
		t.epoch, t.lastLoss = epoch, monitored
		rec := EpochRecord{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValLoss:   valLoss,
			Duration:  t.opts.Clock.Since(start),
			Improved:  improved,
		}
		t.history = append(t.history, rec)
		logf("epoch %d/%d: train %.4f, val %.4f, best %.4f", epoch, t.cfg.Epochs, trainLoss, valLoss, t.best)
		if t.opts.Recorder != nil {
			if err := t.opts.Recorder.RecordEpoch(ctx, t.opts.RunID, rec); err != nil {
				monitoring.Warnf("train", "record epoch %d: %v", epoch, err)
			}
		}

		if t.cfg.SaveBest && improved {
			path, err := t.checkpoint(ctx, BestCheckpoint, "best")
			if err != nil {
				return nil, t.fail(err)
			}
			t.bestPath = path
		}
		if t.cfg.CheckpointEvery > 0 && epoch%t.cfg.CheckpointEvery == 0 {
			if _, err := t.checkpoint(ctx, EpochCheckpoint(epoch), "epoch"); err != nil {
				return nil, t.fail(err)
			}
		}
		if t.cfg.Patience > 0 && t.stale >= t.cfg.Patience {
			logf("stopping early after %d epochs without improvement", t.stale)
			stopped = true
			break
		}
	}

	final, err := t.checkpointAndStay(ctx, FinalCheckpoint, "final")
	if err != nil {
		return nil, t.fail(err)
	}
	if err := t.transition(Finalized); err != nil {
		return nil, err
	}
	t.writePlots()
	return &Result{
		RunID:        t.opts.RunID,
		Epochs:       t.epoch,
		Steps:        t.step,
		BestLoss:     t.best,
		StoppedEarly: stopped,
		FinalPath:    final,
		BestPath:     t.bestPath,
		History:      t.History(),
	}, nil
}

func (t *Trainer) runEpoch(ctx context.Context, q *sampler.Queue, epoch, steps int, bar *monitoring.Progress) (float64, error) {
	var total float64
	for i := 0; i < steps; i++ {
		batch, err := q.Take(ctx, t.cfg.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("draw batch: %w", err)
		}
		loss, err := t.trainStep(ctx, epoch, batch)
		if err != nil {
			return 0, err
		}
		total += loss
		bar.Incr()
	}
	return total / float64(steps), nil
}

// trainStep normalises the loss and gradients by the masked pixel count of
// the whole batch, so every labelled pixel carries the same weight whatever
// the coverage of its patch.
func (t *Trainer) trainStep(ctx context.Context, epoch int, batch []*sampler.Patch) (float64, error) {
	t.step++
	sums, n, g, err := t.gradients(ctx, batch)
	if err != nil {
		return 0, err
	}
	var sum float64
	var bad []*sampler.Patch
	for i, s := range sums {
		sum += s
		if !finite(s) {
			bad = append(bad, batch[i])
		}
	}
	scale := poolScale(n)
	loss := sum * scale
	if len(bad) == 0 && (!finite(loss) || !g.Finite()) {
		bad = batch
	}
	if len(bad) > 0 {
		return 0, &NumericError{Epoch: epoch, Step: t.step, Loss: loss, Scenes: sceneIDs(bad)}
	}
	g.Scale(float32(scale))
	if err := t.opt.Step(t.model, g); err != nil {
		return 0, err
	}
	return loss, nil
}

// gradients runs the batch on the worker pool and returns the summed loss
// of each patch, the batch's masked pixel count and the unnormalised
// gradient. Each worker accumulates into its own buffer; the buffers are
// merged after every worker has finished.
func (t *Trainer) gradients(ctx context.Context, batch []*sampler.Patch) ([]float64, int, *unet.Grads, error) {
	workers := min(t.cfg.Workers, len(batch))
	for len(t.grads) < workers {
		t.grads = append(t.grads, t.model.NewGrads())
	}
	sums := make([]float64, len(batch))
	counts := make([]int, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		buf := t.grads[w]
		buf.Zero()
		g.Go(func() error {
			for i := w; i < len(batch); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				sum, n, err := t.patchGradient(batch[i], buf)
				if err != nil {
					return fmt.Errorf("patch from %s: %w", batch[i].SceneID, err)
				}
				sums[i], counts[i] = sum, n
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, nil, err
	}
	sum := t.grads[0]
	for _, o := range t.grads[1:workers] {
		sum.Add(o)
	}
	n := 0
	for _, c := range counts {
		n += c
	}
	return sums, n, sum, nil
}

func (t *Trainer) patchGradient(p *sampler.Patch, g *unet.Grads) (float64, int, error) {
	x, err := unet.FromData(p.Channels, p.Size, p.Size, p.Features)
	if err != nil {
		return 0, 0, err
	}
	logits, tape, err := t.model.Forward(x)
	if err != nil {
		return 0, 0, err
	}
	sum, n, dl := MaskedBCESum(logits.Data, p.Labels, p.Mask)
	d, err := unet.FromData(1, p.Size, p.Size, dl)
	if err != nil {
		return 0, 0, err
	}
	return sum, n, t.model.Backward(tape, d, g)
}

// evaluate returns the masked loss pooled over the validation patches.
func (t *Trainer) evaluate(ctx context.Context, val []*sampler.Patch) (float64, error) {
	sums := make([]float64, len(val))
	counts := make([]int, len(val))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)
	for i, p := range val {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			x, err := unet.FromData(p.Channels, p.Size, p.Size, p.Features)
			if err != nil {
				return err
			}
			logits, err := t.model.Predict(x)
			if err != nil {
				return err
			}
			sums[i], counts[i], _ = MaskedBCESum(logits.Data, p.Labels, p.Mask)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("validation: %w", err)
	}
	var sum float64
	n := 0
	for i, s := range sums {
		sum += s
		n += counts[i]
	}
	return sum * poolScale(n), nil
}

// checkpoint writes name and returns to Training.
func (t *Trainer) checkpoint(ctx context.Context, name, kind string) (string, error) {
	path, err := t.checkpointAndStay(ctx, name, kind)
	if err != nil {
		return "", err
	}
	return path, t.transition(Training)
}

// checkpointAndStay writes name atomically and leaves the trainer in
// Checkpointed.
func (t *Trainer) checkpointAndStay(ctx context.Context, name, kind string) (string, error) {
	if err := t.transition(Checkpointed); err != nil {
		return "", err
	}
	sc := t.smp.Config()
	at, am, av := t.opt.State()
	ck := &unet.Checkpoint{
		Arch:         t.model.Arch(),
		Contract:     unet.Contract{Channels: sc.Channels.Clone(), PatchSize: sc.PatchSize},
		Params:       t.model.Params(),
		AdamT:        at,
		AdamM:        am,
		AdamV:        av,
		Epoch:        t.epoch,
		Step:         t.step,
		Loss:         t.lastLoss,
		BestLoss:     t.best,
		RunID:        t.opts.RunID,
		BuildVersion: t.opts.BuildVersion,
		CreatedAt:    t.opts.Clock.Now().UTC(),
	}
	data, err := unet.Marshal(ck)
	if err != nil {
		return "", err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.opts.OutputDir != "" {
		if err := t.opts.FS.MkdirAll(t.opts.OutputDir, 0o755); err != nil {
			return "", fmt.Errorf("create output directory: %w", err)
		}
	}
	path := filepath.Join(t.opts.OutputDir, name)
	if err := fsutil.WriteFileAtomic(t.opts.FS, path, data, 0o644); err != nil {
		return "", fmt.Errorf("write checkpoint %s: %w", path, err)
	}
	logf("wrote %s checkpoint %s (epoch %d, loss %.4f)", kind, path, t.epoch, t.lastLoss)
	if t.opts.Recorder != nil {
		info := CheckpointInfo{Path: path, Kind: kind, Epoch: t.epoch, Loss: t.lastLoss}
		if err := t.opts.Recorder.RecordCheckpoint(ctx, t.opts.RunID, info); err != nil {
			monitoring.Warnf("train", "record checkpoint %s: %v", path, err)
		}
	}
	return path, nil
}

func (t *Trainer) writePlots() {
	if len(t.history) == 0 {
		return
	}
	points := LossPoints(t.history)
	title := "woodmap run " + t.opts.RunID
	var buf bytes.Buffer
	if err := monitoring.RenderLossChart(&buf, title, points); err != nil {
		monitoring.Warnf("train", "render loss chart: %v", err)
	} else if err := fsutil.WriteFileAtomic(t.opts.FS, filepath.Join(t.opts.OutputDir, "loss.html"), buf.Bytes(), 0o644); err != nil {
		monitoring.Warnf("train", "write loss chart: %v", err)
	}
	if t.opts.PlotPNG {
		if err := monitoring.SaveLossPlot(filepath.Join(t.opts.OutputDir, "loss.png"), title, points); err != nil {
			monitoring.Warnf("train", "%v", err)
		}
	}
}

// LossPoints converts epoch records for the plotting helpers.
func LossPoints(recs []EpochRecord) []monitoring.LossPoint {
	out := make([]monitoring.LossPoint, len(recs))
	for i, r := range recs {
		out[i] = monitoring.LossPoint{Epoch: r.Epoch, Train: r.TrainLoss, Val: r.ValLoss}
	}
	return out
}

func sceneIDs(ps []*sampler.Patch) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, p := range ps {
		if !seen[p.SceneID] {
			seen[p.SceneID] = true
			ids = append(ids, p.SceneID)
		}
	}
	return ids
}

// IsNumeric reports whether err is a NumericError.
func IsNumeric(err error) bool {
	var ne *NumericError
	return errors.As(err, &ne)
}
