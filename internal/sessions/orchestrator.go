// Package sessions is the single entry point for session lifecycle:
// create, select, send, stop, fork, revert, delete. Operations never return
// errors; failures are logged, recorded as the shared last error, and
// reported with a nil or false result.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dilag/internal/logging"
	"dilag/internal/opencode"
	"dilag/internal/realtime"
	"dilag/internal/sessionlist"
	"dilag/internal/store"
	"dilag/internal/types"
	"dilag/internal/workspace"
)

const (
	DefaultSessionName     = "New Session"
	DefaultAgent           = "build"
	DefaultQuestionTimeout = 30 * time.Second
)

var DefaultModel = types.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-20250514"}

// SDK is the part of the agent runtime API the orchestrator drives.
// *opencode.Client satisfies it.
type SDK interface {
	CreateSession(ctx context.Context, title, directory string) (*types.SessionInfo, error)
	GetSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error)
	SessionMessages(ctx context.Context, sessionID, directory string) ([]types.MessageWithParts, error)
	PromptAsync(ctx context.Context, sessionID, directory string, req opencode.PromptRequest) error
	DeleteSession(ctx context.Context, sessionID, directory string) error
	AbortSession(ctx context.Context, sessionID, directory string) error
	ForkSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error)
	RevertSession(ctx context.Context, sessionID, directory, messageID string) (*types.SessionInfo, error)
	UnrevertSession(ctx context.Context, sessionID, directory string) (*types.SessionInfo, error)
	UpdateSessionTitle(ctx context.Context, sessionID, directory, title string) (*types.SessionInfo, error)
	ReplyQuestion(ctx context.Context, requestID string, answers [][]string) error
	RejectQuestion(ctx context.Context, requestID string) error
}

// Events is the live event feed. *events.Channel satisfies it.
type Events interface {
	State() types.ConnectionState
	OnStatus(fn func(types.ConnectionState)) func()
	Subscribe() (<-chan types.Event, func())
}

// Workspace allocates and removes session working directories.
// *workspace.Workspace satisfies it.
type Workspace interface {
	NewWorkDir() (string, error)
	RemoveDir(path string) error
}

type Config struct {
	Model           types.ModelRef
	Agent           string
	QuestionTimeout time.Duration
	// WatchDesigns places screen positions as soon as the agent writes a
	// design into the current session's directory.
	WatchDesigns bool
	Logger       logging.Logger
}

type Dependencies struct {
	SDK       SDK
	Repo      store.Repository
	Workspace Workspace
	Realtime  *realtime.Store
	List      *sessionlist.Cache
	Events    Events
}

type Orchestrator struct {
	sdk       SDK
	metas     store.SessionMetaStore
	positions store.ScreenPositionStore
	workspace Workspace
	realtime  *realtime.Store
	list      *sessionlist.Cache
	events    Events
	cfg       Config
	logger    logging.Logger
	now       func() time.Time
	afterFunc func(time.Duration, func()) func() bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// applyMu orders applying a reload result against deleting its session.
	applyMu sync.Mutex

	mu             sync.Mutex
	current        string
	known          map[string]struct{}
	lastError      string
	loading        bool
	loadToken      string
	loadSession    string
	connStatus     types.ConnectionStatus
	connectedOnce  bool
	dispatches     map[string]context.CancelFunc
	questionTimers map[string]func() bool
	stopWatch      context.CancelFunc
	unsubscribe    []func()
}

func New(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.Model.IsZero() {
		cfg.Model = DefaultModel
	}
	if strings.TrimSpace(cfg.Agent) == "" {
		cfg.Agent = DefaultAgent
	}
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = DefaultQuestionTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	rt := deps.Realtime
	if rt == nil {
		rt = realtime.NewStore()
	}
	list := deps.List
	if list == nil {
		list = sessionlist.New(deps.Repo.SessionMeta(), logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sdk:       deps.SDK,
		metas:     deps.Repo.SessionMeta(),
		positions: deps.Repo.ScreenPositions(),
		workspace: deps.Workspace,
		realtime:  rt,
		list:      list,
		events:    deps.Events,
		cfg:       cfg,
		logger:    logger.With(logging.Component("sessions")),
		now:       time.Now,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		ctx:            ctx,
		cancel:         cancel,
		known:          map[string]struct{}{},
		connStatus:     types.ConnectionDisconnected,
		dispatches:     map[string]context.CancelFunc{},
		questionTimers: map[string]func() bool{},
	}
	rt.SetKnown(o.isKnown)
	return o
}

// Start loads the session list and begins consuming the event feed.
func (o *Orchestrator) Start(ctx context.Context) error {
	metas, err := o.list.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	o.mu.Lock()
	for _, meta := range metas {
		o.known[meta.ID] = struct{}{}
	}
	o.mu.Unlock()
	if o.events == nil {
		return nil
	}
	stream, cancelStream := o.events.Subscribe()
	cancelStatus := o.events.OnStatus(o.handleConnection)
	o.mu.Lock()
	o.unsubscribe = append(o.unsubscribe, cancelStream, cancelStatus)
	o.mu.Unlock()
	o.handleConnection(o.events.State())

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for {
			select {
			case <-o.ctx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				o.handleEvent(event)
			}
		}
	}()
	return nil
}

// Close cancels in-flight dispatches, question timers and watchers, and
// waits for background work to finish.
func (o *Orchestrator) Close() {
	o.stopAllQuestionTimers()
	o.mu.Lock()
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	if o.stopWatch != nil {
		o.stopWatch()
		o.stopWatch = nil
	}
	o.mu.Unlock()
	for _, fn := range unsubscribe {
		fn()
	}
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) isKnown(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.known[sessionID]
	return ok
}

func (o *Orchestrator) markKnown(sessionID string) {
	o.mu.Lock()
	o.known[sessionID] = struct{}{}
	o.mu.Unlock()
}

func (o *Orchestrator) forget(sessionID string) {
	o.mu.Lock()
	delete(o.known, sessionID)
	o.mu.Unlock()
}

type requestIDKey struct{}

// beginOp tags ctx with a request id so every log line of one operation can
// be correlated. An id already on ctx is kept.
func beginOp(ctx context.Context) context.Context {
	if _, ok := ctx.Value(requestIDKey{}).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, logging.NewRequestID())
}

func (o *Orchestrator) log(ctx context.Context) logging.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return o.logger.With(logging.F("request_id", id))
	}
	return o.logger
}

func (o *Orchestrator) setError(ctx context.Context, op string, err error, fields ...logging.Field) {
	message := op
	if err != nil {
		message = op + ": " + err.Error()
	}
	o.mu.Lock()
	o.lastError = message
	o.mu.Unlock()
	fields = append(fields, logging.F("op", op))
	if err != nil {
		fields = append(fields, logging.Err(err))
	}
	o.log(ctx).Error("session_operation_failed", fields...)
}

func (o *Orchestrator) lookup(ctx context.Context, sessionID string) (*types.SessionMeta, bool) {
	meta, ok, err := o.metas.Get(ctx, sessionID)
	if err != nil {
		o.setError(ctx, "load session", err, logging.F("session_id", sessionID))
		return nil, false
	}
	if !ok {
		o.setError(ctx, "load session", fmt.Errorf("%s: %w", sessionID, store.ErrSessionMetaNotFound))
		return nil, false
	}
	return meta, true
}

func (o *Orchestrator) currentMeta(ctx context.Context) (*types.SessionMeta, bool) {
	o.mu.Lock()
	id := o.current
	o.mu.Unlock()
	if id == "" {
		return nil, false
	}
	return o.lookup(ctx, id)
}

// CreateSession allocates a working directory, creates the remote session
// bound to it, persists the metadata and makes it current.
func (o *Orchestrator) CreateSession(ctx context.Context, name string, platform types.Platform) *types.SessionMeta {
	ctx = beginOp(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSessionName
	}
	platform = types.NormalizePlatform(platform)

	dir, err := o.workspace.NewWorkDir()
	if err != nil {
		o.setError(ctx, "create session", err)
		return nil
	}
	info, err := o.sdk.CreateSession(ctx, name, dir)
	if err != nil {
		o.removeDir(dir)
		o.setError(ctx, "create session", err)
		return nil
	}
	o.markKnown(info.ID)
	meta, err := o.metas.Upsert(ctx, &types.SessionMeta{
		ID:        info.ID,
		Name:      name,
		CreatedAt: o.now().UTC(),
		Cwd:       dir,
		Platform:  platform,
	})
	if err != nil {
		o.forget(info.ID)
		o.deleteRemote(ctx, info.ID, dir)
		o.removeDir(dir)
		o.setError(ctx, "create session", err)
		return nil
	}
	o.realtime.SetMessages(meta.ID, nil)
	o.setCurrent(meta)
	o.list.Invalidate()
	o.log(ctx).Info("session_created",
		logging.F("session_id", meta.ID),
		logging.F("platform", string(meta.Platform)),
		logging.F("cwd", meta.Cwd),
	)
	return meta
}

// SelectSession makes sessionID current and reloads its history.
func (o *Orchestrator) SelectSession(ctx context.Context, sessionID string) bool {
	ctx = beginOp(ctx)
	meta, ok := o.lookup(ctx, sessionID)
	if !ok {
		return false
	}
	o.markKnown(meta.ID)
	o.setCurrent(meta)
	o.reloadMessages(ctx, meta)
	return true
}

func (o *Orchestrator) setCurrent(meta *types.SessionMeta) {
	o.mu.Lock()
	o.current = meta.ID
	if o.stopWatch != nil {
		o.stopWatch()
		o.stopWatch = nil
	}
	o.mu.Unlock()

	positions, err := o.positions.List(o.ctx, meta.ID)
	if err != nil {
		o.logger.Warn("screen_positions_load_failed", logging.F("session_id", meta.ID), logging.Err(err))
	} else {
		o.realtime.SetScreenPositions(meta.ID, positions)
	}
	if o.cfg.WatchDesigns {
		o.watchDesigns(meta)
	}
}

// reloadMessages fetches the revert marker, history and designs in
// parallel. A newer reload supersedes this one.
func (o *Orchestrator) reloadMessages(ctx context.Context, meta *types.SessionMeta) {
	token := uuid.NewString()
	o.mu.Lock()
	o.loadToken = token
	o.loadSession = meta.ID
	o.loading = true
	o.mu.Unlock()

	var (
		info    *types.SessionInfo
		history []types.MessageWithParts
		designs []types.DesignFile
	)
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		got, err := o.sdk.GetSession(gctx, meta.ID, meta.Cwd)
		if err != nil && !opencode.IsNotFound(err) {
			return fmt.Errorf("get session: %w", err)
		}
		info = got
		return nil
	})
	group.Go(func() error {
		got, err := o.sdk.SessionMessages(gctx, meta.ID, meta.Cwd)
		if err != nil && !opencode.IsNotFound(err) {
			return fmt.Errorf("session messages: %w", err)
		}
		history = got
		return nil
	})
	group.Go(func() error {
		got, err := workspace.LoadDesigns(meta.Cwd)
		if err != nil {
			o.log(ctx).Warn("designs_load_failed", logging.F("session_id", meta.ID), logging.Err(err))
			return nil
		}
		designs = got
		return nil
	})
	err := group.Wait()

	o.applyMu.Lock()
	defer o.applyMu.Unlock()
	o.mu.Lock()
	_, known := o.known[meta.ID]
	stale := o.loadToken != token || !known
	if o.loadToken == token {
		o.loading = false
	}
	o.mu.Unlock()
	if stale {
		o.log(ctx).Debug("stale_reload_dropped", logging.F("session_id", meta.ID))
		return
	}
	if err != nil {
		o.setError(ctx, "load messages", err, logging.F("session_id", meta.ID))
		return
	}
	var revert *types.RevertInfo
	if info != nil {
		revert = info.Revert
	}
	o.realtime.SetSessionRevert(meta.ID, revert)
	o.realtime.SetMessages(meta.ID, history)
	o.placeDesigns(meta.ID, designs)
}

// DeleteSession removes the session remotely (best effort) and locally.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID string) bool {
	ctx = beginOp(ctx)
	meta, ok := o.lookup(ctx, sessionID)
	if !ok {
		return false
	}
	o.deleteRemote(ctx, meta.ID, meta.Cwd)
	if err := o.metas.Delete(ctx, meta.ID); err != nil && !errors.Is(err, store.ErrSessionMetaNotFound) {
		o.setError(ctx, "delete session", err, logging.F("session_id", meta.ID))
		return false
	}
	o.applyMu.Lock()
	if err := o.positions.DeleteSession(ctx, meta.ID); err != nil {
		o.log(ctx).Warn("screen_positions_delete_failed", logging.F("session_id", meta.ID), logging.Err(err))
	}
	o.forget(meta.ID)
	o.mu.Lock()
	if o.loadSession == meta.ID {
		o.loadToken = ""
		o.loadSession = ""
		o.loading = false
	}
	o.mu.Unlock()
	o.cancelDispatch(meta.ID)
	o.stopQuestionTimers(meta.ID)
	o.realtime.ClearSessionData(meta.ID)
	o.applyMu.Unlock()

	shared, err := o.cwdShared(ctx, meta)
	switch {
	case err != nil:
		o.log(ctx).Warn("session_dir_check_failed", logging.F("session_id", meta.ID), logging.Err(err))
	case shared:
		o.log(ctx).Debug("session_dir_kept_shared", logging.F("session_id", meta.ID), logging.F("cwd", meta.Cwd))
	default:
		o.removeDir(meta.Cwd)
	}

	o.mu.Lock()
	if o.current == meta.ID {
		o.current = ""
		if o.stopWatch != nil {
			o.stopWatch()
			o.stopWatch = nil
		}
	}
	o.mu.Unlock()
	o.list.Invalidate()
	o.log(ctx).Info("session_deleted", logging.F("session_id", meta.ID))
	return true
}

func (o *Orchestrator) deleteRemote(ctx context.Context, sessionID, dir string) {
	if err := o.sdk.DeleteSession(ctx, sessionID, dir); err != nil && !opencode.IsNotFound(err) {
		o.log(ctx).Warn("remote_session_delete_failed",
			logging.F("session_id", sessionID),
			logging.F("divergence", true),
			logging.Err(err),
		)
	}
}

func (o *Orchestrator) removeDir(dir string) {
	if err := o.workspace.RemoveDir(dir); err != nil {
		o.logger.Warn("session_dir_remove_failed", logging.F("cwd", dir), logging.Err(err))
	}
}

// cwdShared reports whether another session still works in meta's directory.
func (o *Orchestrator) cwdShared(ctx context.Context, meta *types.SessionMeta) (bool, error) {
	metas, err := o.metas.List(ctx)
	if err != nil {
		return false, err
	}
	for _, other := range metas {
		if other.ID != meta.ID && other.Cwd == meta.Cwd {
			return true, nil
		}
	}
	return false, nil
}

// StopSession aborts the current session remotely and, regardless of the
// outcome, marks it idle with its running tools aborted.
func (o *Orchestrator) StopSession(ctx context.Context) bool {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return false
	}
	o.cancelDispatch(meta.ID)
	if err := o.sdk.AbortSession(ctx, meta.ID, meta.Cwd); err != nil {
		o.log(ctx).Warn("remote_session_abort_failed",
			logging.F("session_id", meta.ID),
			logging.F("divergence", true),
			logging.Err(err),
		)
	}
	o.realtime.SetSessionStatus(meta.ID, types.SessionIdle)
	o.realtime.SetSendPhase(meta.ID, types.SendIdle)
	aborted := o.realtime.AbortRunningTools(meta.ID)
	o.log(ctx).Info("session_stopped", logging.F("session_id", meta.ID), logging.F("aborted_tools", aborted))
	return true
}

// ForkSession forks the current session's history at messageID. The fork
// shares the parent's working directory.
func (o *Orchestrator) ForkSession(ctx context.Context, messageID string) *types.SessionMeta {
	ctx = beginOp(ctx)
	parent, ok := o.currentMeta(ctx)
	if !ok {
		return nil
	}
	info, err := o.sdk.ForkSession(ctx, parent.ID, parent.Cwd, messageID)
	if err != nil {
		o.setError(ctx, "fork session", err, logging.F("session_id", parent.ID))
		return nil
	}
	o.markKnown(info.ID)
	meta, err := o.metas.Upsert(ctx, &types.SessionMeta{
		ID:        info.ID,
		Name:      parent.Name + " (fork)",
		CreatedAt: o.now().UTC(),
		Cwd:       parent.Cwd,
		Platform:  parent.Platform,
		ParentID:  parent.ID,
	})
	if err != nil {
		o.forget(info.ID)
		o.deleteRemote(ctx, info.ID, parent.Cwd)
		o.setError(ctx, "fork session", err, logging.F("session_id", parent.ID))
		return nil
	}
	o.copyPositions(ctx, parent.ID, meta.ID)
	o.list.Invalidate()
	o.setCurrent(meta)
	o.reloadMessages(ctx, meta)
	o.log(ctx).Info("session_forked", logging.F("session_id", meta.ID), logging.F("parent_id", parent.ID))
	return meta
}

// ForkSessionDesignsOnly starts a new session in a fresh directory seeded
// with the current session's designs and no history.
func (o *Orchestrator) ForkSessionDesignsOnly(ctx context.Context) *types.SessionMeta {
	ctx = beginOp(ctx)
	parent, ok := o.currentMeta(ctx)
	if !ok {
		return nil
	}
	dir, err := o.workspace.NewWorkDir()
	if err != nil {
		o.setError(ctx, "fork designs", err)
		return nil
	}
	name := parent.Name + " (designs)"
	info, err := o.sdk.CreateSession(ctx, name, dir)
	if err != nil {
		o.removeDir(dir)
		o.setError(ctx, "fork designs", err, logging.F("session_id", parent.ID))
		return nil
	}
	copied, err := workspace.CopyDesigns(parent.Cwd, dir)
	if err != nil {
		o.log(ctx).Warn("designs_copy_failed", logging.F("session_id", parent.ID), logging.Err(err))
	}
	o.markKnown(info.ID)
	meta, err := o.metas.Upsert(ctx, &types.SessionMeta{
		ID:        info.ID,
		Name:      name,
		CreatedAt: o.now().UTC(),
		Cwd:       dir,
		Platform:  parent.Platform,
		ParentID:  parent.ID,
	})
	if err != nil {
		o.forget(info.ID)
		o.deleteRemote(ctx, info.ID, dir)
		o.removeDir(dir)
		o.setError(ctx, "fork designs", err, logging.F("session_id", parent.ID))
		return nil
	}
	o.copyPositions(ctx, parent.ID, meta.ID)
	o.realtime.SetMessages(meta.ID, nil)
	o.list.Invalidate()
	o.setCurrent(meta)
	o.log(ctx).Info("session_designs_forked",
		logging.F("session_id", meta.ID),
		logging.F("parent_id", parent.ID),
		logging.F("designs", copied),
	)
	return meta
}

func (o *Orchestrator) copyPositions(ctx context.Context, fromID, toID string) {
	positions, err := o.positions.List(ctx, fromID)
	if err != nil {
		o.log(ctx).Warn("screen_positions_load_failed", logging.F("session_id", fromID), logging.Err(err))
		return
	}
	for _, position := range positions {
		if err := o.positions.Upsert(ctx, toID, position); err != nil {
			o.log(ctx).Warn("screen_position_save_failed", logging.F("session_id", toID), logging.Err(err))
			return
		}
	}
}

// RevertToMessage hides messageID and everything after it once the runtime
// confirms the revert. Messages are never deleted locally.
func (o *Orchestrator) RevertToMessage(ctx context.Context, messageID string) bool {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return false
	}
	info, err := o.sdk.RevertSession(ctx, meta.ID, meta.Cwd, messageID)
	if err != nil {
		o.setError(ctx, "revert session", err, logging.F("session_id", meta.ID))
		return false
	}
	revert := &types.RevertInfo{MessageID: messageID}
	if info != nil && info.Revert != nil {
		revert = info.Revert
	}
	o.realtime.SetSessionRevert(meta.ID, revert)
	return true
}

func (o *Orchestrator) UnrevertSession(ctx context.Context) bool {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return false
	}
	if _, err := o.sdk.UnrevertSession(ctx, meta.ID, meta.Cwd); err != nil {
		o.setError(ctx, "unrevert session", err, logging.F("session_id", meta.ID))
		return false
	}
	o.realtime.SetSessionRevert(meta.ID, nil)
	return true
}

func (o *Orchestrator) RenameSession(ctx context.Context, sessionID, name string) bool {
	ctx = beginOp(ctx)
	name = strings.TrimSpace(name)
	if name == "" {
		o.setError(ctx, "rename session", errors.New("name is required"))
		return false
	}
	meta, ok := o.lookup(ctx, sessionID)
	if !ok {
		return false
	}
	if _, err := o.sdk.UpdateSessionTitle(ctx, meta.ID, meta.Cwd, name); err != nil {
		o.log(ctx).Warn("remote_session_rename_failed", logging.F("session_id", meta.ID), logging.Err(err))
	}
	meta.Name = name
	if _, err := o.metas.Upsert(ctx, meta); err != nil {
		o.setError(ctx, "rename session", err, logging.F("session_id", meta.ID))
		return false
	}
	o.list.Invalidate()
	return true
}

func (o *Orchestrator) ToggleFavorite(ctx context.Context, sessionID string) bool {
	ctx = beginOp(ctx)
	meta, ok := o.lookup(ctx, sessionID)
	if !ok {
		return false
	}
	meta.Favorite = !meta.Favorite
	if _, err := o.metas.Upsert(ctx, meta); err != nil {
		o.setError(ctx, "toggle favorite", err, logging.F("session_id", meta.ID))
		return false
	}
	o.list.Invalidate()
	return true
}

// LoadDesigns lists the current session's designs and places any that have
// no screen position yet.
func (o *Orchestrator) LoadDesigns(ctx context.Context) []types.DesignFile {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return nil
	}
	designs, err := workspace.LoadDesigns(meta.Cwd)
	if err != nil {
		o.setError(ctx, "load designs", err, logging.F("session_id", meta.ID))
		return nil
	}
	o.placeDesigns(meta.ID, designs)
	return designs
}

func (o *Orchestrator) DeleteDesign(ctx context.Context, filename string) bool {
	ctx = beginOp(ctx)
	meta, ok := o.currentMeta(ctx)
	if !ok {
		return false
	}
	path, err := workspace.FindDesign(meta.Cwd, filename)
	if err == nil {
		err = workspace.DeleteDesign(path)
	}
	if err != nil {
		o.setError(ctx, "delete design", err, logging.F("session_id", meta.ID))
		return false
	}
	return true
}

// MoveScreen records a new canvas position for a design.
func (o *Orchestrator) MoveScreen(ctx context.Context, sessionID string, position types.ScreenPosition) bool {
	ctx = beginOp(ctx)
	if !o.realtime.SetScreenPosition(sessionID, position) {
		return true
	}
	if err := o.positions.Upsert(ctx, sessionID, position); err != nil {
		o.setError(ctx, "save screen position", err, logging.F("session_id", sessionID))
		return false
	}
	return true
}

func (o *Orchestrator) placeDesigns(sessionID string, designs []types.DesignFile) {
	if len(designs) == 0 {
		return
	}
	ids := make([]string, 0, len(designs))
	for _, design := range designs {
		ids = append(ids, design.Filename)
	}
	o.persistPositions(sessionID, o.realtime.EnsureScreenPositions(sessionID, ids))
}

func (o *Orchestrator) persistPositions(sessionID string, positions []types.ScreenPosition) {
	for _, position := range positions {
		if err := o.positions.Upsert(o.ctx, sessionID, position); err != nil {
			o.logger.Warn("screen_position_save_failed", logging.F("session_id", sessionID), logging.Err(err))
			return
		}
	}
}

func (o *Orchestrator) watchDesigns(meta *types.SessionMeta) {
	ctx, cancel := context.WithCancel(o.ctx)
	changes, err := workspace.Watch(ctx, meta.Cwd, o.logger)
	if err != nil {
		cancel()
		o.logger.Warn("designs_watch_failed", logging.F("session_id", meta.ID), logging.Err(err))
		return
	}
	o.mu.Lock()
	o.stopWatch = cancel
	o.mu.Unlock()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for change := range changes {
			if change.Kind != workspace.DesignWritten {
				continue
			}
			created := o.realtime.EnsureScreenPositions(meta.ID, []string{change.Filename})
			o.persistPositions(meta.ID, created)
		}
	}()
}
