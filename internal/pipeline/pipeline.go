// Package pipeline runs one sync as a recoverable unit: fetch, detect,
// preprocess and index, with a rollback snapshot restored on any failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mfenderov/confluence-sync/internal/backup"
	"github.com/mfenderov/confluence-sync/internal/changes"
	"github.com/mfenderov/confluence-sync/internal/events"
	"github.com/mfenderov/confluence-sync/internal/indexer"
	"github.com/mfenderov/confluence-sync/internal/snapshot"
	"github.com/mfenderov/confluence-sync/internal/syncstate"
	"github.com/mfenderov/confluence-sync/internal/updater"
	"github.com/mfenderov/confluence-sync/internal/vectorstore"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

// ErrStoreMissing is returned before any mutation when an update needs an
// existing vector store and there is none.
var ErrStoreMissing = vectorstore.ErrStoreMissing

// State is a pipeline run state.
type State int

const (
	Idle State = iota
	EnvironmentChecked
	Fetched
	ChangesComputed
	Preprocessed
	Indexed
	Done
	Failed
	RolledBack
)

var stateNames = [...]string{
	Idle:               "Idle",
	EnvironmentChecked: "EnvironmentChecked",
	Fetched:            "Fetched",
	ChangesComputed:    "ChangesComputed",
	Preprocessed:       "Preprocessed",
	Indexed:            "Indexed",
	Done:               "Done",
	Failed:             "Failed",
	RolledBack:         "RolledBack",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Step names reported in StepError and transitions.
const (
	StepPrecondition = "precondition"
	StepBackup       = "backup"
	StepCheck        = "check"
	StepFetch        = "fetch"
	StepDetect       = "detect"
	StepPreprocess   = "preprocess"
	StepIndex        = "index"
	StepCommit       = "commit"
	StepRollback     = "rollback"
)

// StepError reports the step a run failed in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Checker verifies the environment before anything is fetched.
type Checker interface {
	Check(ctx context.Context) error
}

// Fetcher produces a fresh crawl snapshot.
type Fetcher interface {
	Fetch(ctx context.Context) (*snapshot.Snapshot, error)
}

// Updater applies a change set to the vector store.
type Updater interface {
	Apply(ctx context.Context, set changes.Set, chunks []models.Chunk, force bool) (*updater.Result, error)
}

// UpdaterOpener opens the vector store and returns an updater over it plus
// a func that releases the store. It is only called when there is work.
type UpdaterOpener func(ctx context.Context) (Updater, func() error, error)

// Archiver ships a rollback snapshot off the machine.
type Archiver interface {
	Archive(ctx context.Context, snap *backup.Snapshot) error
}

// Config holds pipeline settings.
type Config struct {
	SyncStatePath  string
	SnapshotPath   string
	ChunksPath     string // optional processed chunks output
	PagesDir       string // optional markdown export
	VectorStoreDir string
	BackupDir      string
	KeepBackups    int

	Full         bool
	Force        bool
	RequireStore bool
	SkipFetch    bool // reuse the crawl snapshot on disk
	SkipIndex    bool // stop after preprocessing, commit nothing
}

// Deps are the pipeline's collaborators. Checker, Archiver and Observer
// are optional.
type Deps struct {
	Checker     Checker
	Fetcher     Fetcher
	Chunker     indexer.Chunker
	OpenUpdater UpdaterOpener
	Archiver    Archiver
	Observer    events.Observer
	Logger      *slog.Logger
}

// Result is the report of one run.
type Result struct {
	RunID string
	State State
	Trail []State

	PagesAdded    int
	PagesModified int
	PagesDeleted  int
	PagesSkipped  int
	PagesFailed   int
	PagesDeferred int // missing pages kept because the crawl had failures

	Chunks         int
	VectorsDeleted int
	VectorsAdded   int
	FinalTotal     int
	Degraded       bool

	SnapshotDir string
	Duration    time.Duration
}

// Pipeline orchestrates one sync run.
type Pipeline struct {
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	syncState *syncstate.Store
	snapshots *snapshot.File
	now       func() time.Time
}

// New creates a new Pipeline with the given configuration.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case cfg.SyncStatePath == "":
		return nil, errors.New("sync state path is required")
	case cfg.SnapshotPath == "":
		return nil, errors.New("snapshot path is required")
	case cfg.BackupDir == "":
		return nil, errors.New("backup dir is required")
	case deps.Fetcher == nil && !cfg.SkipFetch:
		return nil, errors.New("fetcher is required")
	case deps.Chunker == nil:
		return nil, errors.New("chunker is required")
	case deps.OpenUpdater == nil && !cfg.SkipIndex:
		return nil, errors.New("updater opener is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		syncState: syncstate.Open(cfg.SyncStatePath),
		snapshots: snapshot.NewFile(cfg.SnapshotPath),
		now:       time.Now,
	}, nil
}

// run is the mutable state of a single Run call.
type run struct {
	*Pipeline
	res        *Result
	closeStore func() error
}

// Run executes one sync. On failure the rollback snapshot is restored and
// the returned error is a *StepError naming the failed step.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r := &run{Pipeline: p, res: &Result{RunID: uuid.NewString(), State: Idle, Trail: []State{Idle}}}
	defer func() { r.res.Duration = time.Since(start) }()

	if p.cfg.RequireStore && !vectorstore.Exists(p.cfg.VectorStoreDir) {
		err := &StepError{Step: StepPrecondition, Err: fmt.Errorf("%w: %s", ErrStoreMissing, p.cfg.VectorStoreDir)}
		r.enter(Failed, StepPrecondition, err)
		return r.res, err
	}

	snap, err := backup.Create(p.cfg.BackupDir, backup.Targets{
		SyncState:     p.cfg.SyncStatePath,
		CrawlSnapshot: p.cfg.SnapshotPath,
		VectorDir:     p.cfg.VectorStoreDir,
	}, p.now())
	if err != nil {
		err := &StepError{Step: StepBackup, Err: err}
		r.enter(Failed, StepBackup, err)
		return r.res, err
	}
	r.res.SnapshotDir = snap.Dir
	p.logger.Info("rollback snapshot taken", "run", r.res.RunID, "dir", snap.Dir)
	p.ship(ctx, snap)

	step, err := r.steps(ctx)
	if err == nil {
		return r.res, nil
	}

	stepErr := &StepError{Step: step, Err: err}
	r.enter(Failed, step, stepErr)
	if cerr := r.releaseStore(); cerr != nil {
		p.logger.Warn("closing vector store before rollback", "error", cerr)
	}
	if rerr := snap.Restore(); rerr != nil {
		p.logger.Error("rollback failed, restore manually", "snapshot", snap.Dir, "error", rerr)
		stepErr.Err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		return r.res, stepErr
	}
	r.enter(RolledBack, StepRollback, nil)
	p.logger.Warn("run rolled back", "run", r.res.RunID, "step", step, "snapshot", snap.Dir)
	return r.res, stepErr
}

// steps runs every transition in order. It returns the failing step's name
// with its error.
func (r *run) steps(ctx context.Context) (string, error) {
	if err := r.check(ctx); err != nil {
		return StepCheck, err
	}
	r.enter(EnvironmentChecked, StepCheck, nil)

	snap, err := r.fetch(ctx)
	if err != nil {
		return StepFetch, err
	}
	r.enter(Fetched, StepFetch, nil)

	if err := ctx.Err(); err != nil {
		return StepDetect, err
	}
	st, err := r.syncState.Init()
	if err != nil {
		return StepDetect, err
	}
	set := changes.Detect(st.Pages, snap.Pages, changes.Options{Full: r.cfg.Full, Failed: snap.FailedIDs()})
	// Pages under a parent that failed to fetch were never reached, so they
	// look deleted. Deletions wait for a crawl without failures.
	if len(snap.Failed) > 0 && len(set.Deleted) > 0 {
		r.logger.Warn("crawl had failures, deferring deletion of pages missing from it",
			"pages", len(set.Deleted), "failed", len(snap.Failed))
		r.res.PagesDeferred = len(set.Deleted)
		set.Deleted = nil
	}
	r.res.PagesAdded = len(set.Added)
	r.res.PagesModified = len(set.Modified)
	r.res.PagesDeleted = len(set.Deleted)
	r.res.PagesSkipped = set.Unchanged
	r.res.PagesFailed = len(snap.Failed)
	r.enter(ChangesComputed, StepDetect, nil)
	r.logger.Info("changes detected",
		"added", len(set.Added), "modified", len(set.Modified), "deleted", len(set.Deleted),
		"unchanged", set.Unchanged, "failed", len(snap.Failed))

	if set.Empty() && !r.cfg.Force {
		if r.cfg.SkipIndex {
			r.enter(Done, StepDetect, nil)
			return "", nil
		}
		if err := r.commit(st, set, len(snap.Failed)); err != nil {
			return StepCommit, err
		}
		r.enter(Done, StepDetect, nil)
		return "", nil
	}

	if err := ctx.Err(); err != nil {
		return StepPreprocess, err
	}
	chunks := indexer.Prepare(r.deps.Chunker, set.Reindex())
	r.res.Chunks = len(chunks)
	if r.cfg.ChunksPath != "" {
		if err := snapshot.WriteChunks(r.cfg.ChunksPath, chunks); err != nil {
			return StepPreprocess, err
		}
	}
	r.enter(Preprocessed, StepPreprocess, nil)

	if r.cfg.SkipIndex {
		r.enter(Done, StepPreprocess, nil)
		return "", nil
	}

	if err := r.index(ctx, set, chunks); err != nil {
		return StepIndex, err
	}
	r.enter(Indexed, StepIndex, nil)

	if err := ctx.Err(); err != nil {
		return StepCommit, err
	}
	if err := r.commit(st, set, len(snap.Failed)); err != nil {
		return StepCommit, err
	}
	r.enter(Done, StepCommit, nil)
	return "", nil
}

func (r *run) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.deps.Checker == nil {
		return nil
	}
	return r.deps.Checker.Check(ctx)
}

func (r *run) fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.cfg.SkipFetch {
		snap, err := r.snapshots.Read()
		if err != nil {
			return nil, fmt.Errorf("loading crawl snapshot: %w", err)
		}
		return snap, nil
	}

	snap, err := r.deps.Fetcher.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.snapshots.Write(snap); err != nil {
		return nil, err
	}
	if r.cfg.PagesDir != "" {
		n, err := snapshot.ExportMarkdown(r.cfg.PagesDir, snap.Pages)
		if err != nil {
			return nil, fmt.Errorf("exporting markdown: %w", err)
		}
		r.logger.Debug("exported markdown pages", "dir", r.cfg.PagesDir, "pages", n)
	}
	return snap, nil
}

func (r *run) index(ctx context.Context, set changes.Set, chunks []models.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	up, closeStore, err := r.deps.OpenUpdater(ctx)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	r.closeStore = closeStore

	ur, err := up.Apply(ctx, set, chunks, r.cfg.Force)
	if err != nil {
		return err
	}
	r.res.VectorsDeleted = ur.VectorsDeleted
	r.res.VectorsAdded = ur.VectorsAdded
	r.res.FinalTotal = ur.FinalTotal
	r.res.Degraded = ur.Degraded

	return r.releaseStore()
}

func (r *run) commit(st *syncstate.State, set changes.Set, failed int) error {
	kind := syncstate.KindIncremental
	if r.cfg.Full {
		kind = syncstate.KindFull
	}
	rec := st.Apply(syncstate.Commit{
		Kind:     kind,
		Added:    set.Added,
		Modified: set.Modified,
		Deleted:  set.Deleted,
		Skipped:  set.Unchanged,
		Failed:   failed,
	}, r.now())
	if err := r.syncState.Save(st); err != nil {
		return err
	}
	r.logger.Info("sync state committed", "type", rec.Type, "tracked", st.TotalPages)
	return nil
}

func (r *run) releaseStore() error {
	if r.closeStore == nil {
		return nil
	}
	closeStore := r.closeStore
	r.closeStore = nil
	return closeStore()
}

func (r *run) enter(to State, step string, err error) {
	from := r.res.State
	r.res.State = to
	r.res.Trail = append(r.res.Trail, to)
	if r.deps.Observer != nil {
		r.deps.Observer.Observe(events.Transition{
			RunID: r.res.RunID,
			From:  from.String(),
			To:    to.String(),
			Step:  step,
			Err:   err,
			At:    r.now(),
		})
	}
}

// ship archives the snapshot and prunes old ones. Neither is fatal.
func (p *Pipeline) ship(ctx context.Context, snap *backup.Snapshot) {
	if p.deps.Archiver != nil {
		if err := p.deps.Archiver.Archive(ctx, snap); err != nil {
			p.logger.Warn("archiving rollback snapshot failed", "dir", snap.Dir, "error", err)
		}
	}
	if removed, err := backup.Prune(p.cfg.BackupDir, p.cfg.KeepBackups); err != nil {
		p.logger.Warn("pruning rollback snapshots failed", "error", err)
	} else if removed > 0 {
		p.logger.Debug("pruned rollback snapshots", "removed", removed)
	}
}
