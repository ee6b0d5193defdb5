package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/http"
	"github.com/kbpicker/kb-picker/internal/logging"
	"github.com/kbpicker/kb-picker/internal/metrics"
	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/session"
	"github.com/kbpicker/kb-picker/internal/state"
	"github.com/kbpicker/kb-picker/internal/store"
)

// PickerServiceConfig configures a PickerService.
type PickerServiceConfig struct {
	ConnectionID string
	OrgID        string

	// History is optional; without it nothing is persisted
	History HistoryStore
	Logger  *logging.Logger

	// DisableParentPromotion turns off selecting a folder once all of its
	// known children are selected
	DisableParentPromotion bool

	// Sync polling bounds; zero uses the constants defaults
	PollInitialDelay time.Duration
	PollMaxDelay     time.Duration

	// Retry applies to the sync trigger; zero value uses http.DefaultConfig
	Retry http.Config
}

// PickerService drives the resource tree, the status overlay and the session
// against the backend. It is frontend-agnostic: the TUI and the CLI commands
// both go through it. Thread-safe for concurrent access.
type PickerService struct {
	api      KnowledgeBaseAPI
	eventBus *events.EventBus
	history  HistoryStore
	logger   *logging.Logger

	tree    *state.TreeState
	overlay *state.StatusOverlay
	session *session.Session

	pollInitial time.Duration
	pollMax     time.Duration
	retry       http.Config

	mu           sync.RWMutex
	connectionID string
	orgID        string
	// resources selected by id before their parent listing was loaded
	hinted map[string]models.Resource

	// generation is bumped on every tree reset; fetches started before a
	// reset drop their results
	generation atomic.Uint64
	fetches    sync.WaitGroup
}

// NewPickerService creates a PickerService. eventBus may be nil.
func NewPickerService(apiClient KnowledgeBaseAPI, eventBus *events.EventBus, cfg PickerServiceConfig) *PickerService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &PickerService{
		api:          apiClient,
		eventBus:     eventBus,
		history:      cfg.History,
		logger:       logger,
		tree:         state.NewTreeState(eventBus, state.WithParentPromotion(!cfg.DisableParentPromotion)),
		overlay:      state.NewStatusOverlay(eventBus),
		session:      session.New(eventBus),
		pollInitial:  cfg.PollInitialDelay,
		pollMax:      cfg.PollMaxDelay,
		retry:        cfg.Retry,
		connectionID: cfg.ConnectionID,
		orgID:        cfg.OrgID,
		hinted:       make(map[string]models.Resource),
	}
	if s.pollInitial <= 0 {
		s.pollInitial = constants.SyncPollInitialDelay
	}
	if s.pollMax <= 0 {
		s.pollMax = constants.SyncPollMaxDelay
	}
	if s.retry.MaxRetries == 0 {
		s.retry = http.DefaultConfig()
	}
	return s
}

// Tree returns the resource tree.
func (s *PickerService) Tree() *state.TreeState { return s.tree }

// Overlay returns the status overlay.
func (s *PickerService) Overlay() *state.StatusOverlay { return s.overlay }

// Session returns the knowledge base session.
func (s *PickerService) Session() *session.Session { return s.session }

// SetConnection changes the drive connection and organization. The tree is
// reset when the connection changes.
func (s *PickerService) SetConnection(connectionID, orgID string) {
	s.mu.Lock()
	changed := s.connectionID != connectionID
	s.connectionID = connectionID
	s.orgID = orgID
	s.mu.Unlock()

	if changed {
		s.resetTree()
	}
}

// ConnectionID returns the drive connection id.
func (s *PickerService) ConnectionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionID
}

// OrgID returns the organization id.
func (s *PickerService) OrgID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orgID
}

// RestoreSession loads the persisted session, if a history store is set.
func (s *PickerService) RestoreSession(ctx context.Context) error {
	if s.history == nil {
		return nil
	}
	snap, err := s.history.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	s.session.Restore(snap)
	return nil
}

func (s *PickerService) saveSession(ctx context.Context) {
	if s.history == nil {
		return
	}
	if err := s.history.SaveSnapshot(ctx, s.session.Snapshot()); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save session")
	}
}

// LoadRoot fetches the connection root listing.
func (s *PickerService) LoadRoot(ctx context.Context) error {
	return s.FetchChildren(ctx, state.RootID)
}

// ToggleExpand expands or collapses a folder. When the expansion needs
// children that are not loaded, a fetch is started in the background and true
// is returned; completion is published on the event bus.
func (s *PickerService) ToggleExpand(ctx context.Context, folderID string) bool {
	if !s.tree.ToggleExpand(folderID) {
		return false
	}
	s.dispatch(ctx, folderID)
	return true
}

// Expand expands a folder, fetching its children in the background when
// needed. Expanding a folder whose fetch failed retries it.
func (s *PickerService) Expand(ctx context.Context, folderID string) bool {
	if !s.tree.Expand(folderID) {
		return false
	}
	s.dispatch(ctx, folderID)
	return true
}

// Collapse collapses a folder. Loaded children and pending fetches are kept.
func (s *PickerService) Collapse(folderID string) {
	s.tree.Collapse(folderID)
}

func (s *PickerService) dispatch(ctx context.Context, folderID string) {
	gen := s.generation.Load()
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		_ = s.load(ctx, folderID, gen)
	}()
}

// Wait blocks until every background fetch has finished.
func (s *PickerService) Wait() {
	s.fetches.Wait()
}

func (s *PickerService) waitFetches(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.fetches.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchChildren loads the children of a folder and blocks until they are
// merged. It is a no-op when the folder is loaded or already being loaded.
func (s *PickerService) FetchChildren(ctx context.Context, folderID string) error {
	if !s.tree.BeginFetch(folderID) {
		return nil
	}
	return s.load(ctx, folderID, s.generation.Load())
}

// load fetches a folder the caller has claimed in the tree.
func (s *PickerService) load(ctx context.Context, folderID string, gen uint64) error {
	connectionID := s.ConnectionID()
	if connectionID == "" {
		s.tree.FetchFailed(folderID, ErrNotConnected)
		return ErrNotConnected
	}

	metrics.SetFetchesInFlight(s.tree.InFlightCount())
	defer func() { metrics.SetFetchesInFlight(s.tree.InFlightCount()) }()

	start := time.Now()
	children, err := s.api.ListChildren(ctx, connectionID, folderID)

	if s.generation.Load() != gen {
		s.logger.Debug().Str("folder_id", folderID).Msg("Dropping listing fetched before reset")
		return nil
	}

	if err != nil {
		metrics.RecordChildrenFetch(false)
		s.tree.FetchFailed(folderID, err)
		s.eventBus.PublishError("fetch", err, http.ClassifyError(err) != http.ErrorTypeFatal)
		s.logger.Error().Err(err).Str("folder_id", folderID).Msg("Failed to list children")
		return fmt.Errorf("list children of %q: %w", displayID(folderID), err)
	}

	metrics.RecordChildrenFetch(true)
	s.tree.MergeChildren(folderID, children)
	s.logger.Debug().
		Str("folder_id", folderID).
		Int("children", len(children)).
		Dur("elapsed", time.Since(start)).
		Msg("Children loaded")
	return nil
}

func displayID(folderID string) string {
	if folderID == state.RootID {
		return "root"
	}
	return folderID
}

// ToggleSelection selects or deselects a resource.
func (s *PickerService) ToggleSelection(id string, isFolder bool) {
	s.tree.ToggleSelection(id, isFolder)
	metrics.SetSelectedResources(s.tree.SelectedCount())
}

// SelectByID selects resources the tree may not have loaded yet, as the
// non-interactive commands do. Loaded ids keep their listed kind.
func (s *PickerService) SelectByID(fileIDs, folderIDs []string) {
	hints := make([]models.Resource, 0, len(fileIDs)+len(folderIDs))
	for _, id := range fileIDs {
		hints = append(hints, models.Resource{ResourceID: id, InodeType: models.InodeFile})
	}
	for _, id := range folderIDs {
		hints = append(hints, models.Resource{ResourceID: id, InodeType: models.InodeDirectory})
	}
	s.selectHinted(hints)
}

// SelectIndexed selects the resources recorded for the active knowledge
// base in the history and marks them indexed, so that Sync and WaitForSync
// work in a process that did not create it. Returns how many were selected.
func (s *PickerService) SelectIndexed(ctx context.Context) (int, error) {
	kbID := s.session.ActiveID()
	if kbID == "" {
		return 0, ErrNoActiveKnowledgeBase
	}
	if s.history == nil {
		return 0, nil
	}

	recorded, err := s.history.KnowledgeBaseResources(ctx, kbID)
	if err != nil {
		return 0, fmt.Errorf("load knowledge base %s resources: %w", kbID, err)
	}
	hints := make([]models.Resource, 0, len(recorded))
	ids := make([]string, 0, len(recorded))
	for _, rec := range recorded {
		r := models.Resource{ResourceID: rec.ResourceID, InodeType: models.InodeFile}
		if rec.IsFolder {
			r.InodeType = models.InodeDirectory
		}
		r.InodePath.Path = strings.TrimPrefix(rec.Path, "/")
		hints = append(hints, r)
		ids = append(ids, rec.ResourceID)
	}
	s.selectHinted(hints)
	s.overlay.Set(state.StateIndexed, ids...)
	return len(ids), nil
}

func (s *PickerService) selectHinted(hints []models.Resource) {
	s.mu.Lock()
	for _, r := range hints {
		s.hinted[r.ResourceID] = r
	}
	s.mu.Unlock()

	for _, r := range hints {
		s.tree.Select(r.ResourceID, s.isFolder(r.ResourceID))
	}
	metrics.SetSelectedResources(s.tree.SelectedCount())
}

// resource returns a loaded resource, or the hint it was selected with.
func (s *PickerService) resource(id string) (models.Resource, bool) {
	if r, ok := s.tree.Lookup(id); ok {
		return r, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.hinted[id]
	return r, ok
}

func (s *PickerService) isFolder(id string) bool {
	r, ok := s.resource(id)
	return ok && r.IsDirectory()
}

// ResolveSelection fetches every selected folder that has never been loaded,
// round by round, until the selection contains only loaded folders and files.
// Children of a selected folder are selected as they arrive.
func (s *PickerService) ResolveSelection(ctx context.Context) error {
	if err := s.waitFetches(ctx); err != nil {
		return err
	}

	for round := 0; round < constants.ResolveMaxRounds; round++ {
		pending := s.tree.UnresolvedSelectedFolders(s.isFolder)
		if len(pending) == 0 {
			return nil
		}
		s.logger.Debug().Int("round", round).Int("folders", len(pending)).Msg("Resolving selected folders")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(constants.ResolveConcurrency)
		for _, id := range pending {
			id := id
			g.Go(func() error {
				return s.FetchChildren(gctx, id)
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("resolve selection: %w", err)
		}
	}
	return fmt.Errorf("resolve selection: folders nested deeper than %d levels", constants.ResolveMaxRounds)
}

// IndexSelected creates a knowledge base from the leaf resources of the
// selection and makes it the active one. Every selected id is marked indexing
// while the request runs, then indexed or failed. The selection is kept.
func (s *PickerService) IndexSelected(ctx context.Context, opts IndexOptions) (*models.KnowledgeBase, error) {
	connectionID := s.ConnectionID()
	if connectionID == "" {
		return nil, ErrNotConnected
	}
	if s.tree.SelectedCount() == 0 {
		return nil, ErrNothingSelected
	}

	if opts.ResolveFolders {
		if err := s.ResolveSelection(ctx); err != nil {
			return nil, err
		}
	}

	selected := s.tree.SelectedIDs()
	leaves := s.tree.LeafResourceIDs()
	if len(leaves) == 0 {
		return nil, ErrNothingSelected
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = models.DefaultKnowledgeBaseName(time.Now())
	}
	description := opts.Description
	if description == "" {
		description = constants.KnowledgeBaseDescription
	}
	params := opts.Params
	if params.EmbeddingParams.EmbeddingModel == "" {
		params = models.DefaultIndexingParams()
	}

	s.overlay.Set(state.StateIndexing, selected...)
	s.logger.Info().Str("name", name).Int("resources", len(leaves)).Msg("Creating knowledge base")

	kb, err := s.api.CreateKnowledgeBase(ctx, models.CreateKnowledgeBaseRequest{
		ConnectionID:        connectionID,
		ConnectionSourceIDs: leaves,
		Name:                name,
		Description:         description,
		IndexingParams:      params,
	})
	if err != nil {
		s.overlay.Set(state.StateFailed, selected...)
		metrics.RecordKnowledgeBaseOperation("create", false)
		s.eventBus.PublishError("index", err, http.ClassifyError(err) != http.ErrorTypeFatal)
		return nil, fmt.Errorf("create knowledge base: %w", err)
	}

	s.overlay.Set(state.StateIndexed, selected...)
	s.session.SetKnowledgeBase(kb.KnowledgeBaseID)
	metrics.RecordKnowledgeBaseOperation("create", true)
	s.logger.Info().Str("kb_id", kb.KnowledgeBaseID).Msg("Knowledge base created")

	if s.history != nil {
		rec := store.KnowledgeBaseRecord{
			ID:            kb.KnowledgeBaseID,
			Name:          name,
			ConnectionID:  connectionID,
			OrgID:         s.OrgID(),
			ResourceCount: len(leaves),
		}
		if err := s.history.RecordKnowledgeBase(ctx, rec, s.indexedResources(leaves)); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to record knowledge base history")
		}
	}
	s.saveSession(ctx)

	return kb, nil
}

func (s *PickerService) indexedResources(ids []string) []store.IndexedResource {
	out := make([]store.IndexedResource, 0, len(ids))
	for _, id := range ids {
		r, ok := s.resource(id)
		if !ok {
			out = append(out, store.IndexedResource{ResourceID: id})
			continue
		}
		rec := store.IndexedResource{ResourceID: id, IsFolder: r.IsDirectory()}
		if r.InodePath.Path != "" {
			rec.Path = r.Path()
		}
		out = append(out, rec)
	}
	return out
}

// Sync triggers indexing of the active knowledge base. Indexed ids move to
// synchronizing; on failure every selected id is marked failed.
func (s *PickerService) Sync(ctx context.Context) error {
	kbID := s.session.ActiveID()
	if kbID == "" {
		return ErrNoActiveKnowledgeBase
	}
	orgID := s.OrgID()
	if orgID == "" {
		return ErrNoOrganization
	}

	selected := s.tree.SelectedIDs()
	s.overlay.Transition(state.StateIndexed, state.StateSynchronizing, selected...)
	s.session.SetSyncing(true)

	retry := s.retry
	retry.OnRetry = func(attempt int, err error, errType http.ErrorType) {
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("type", http.ErrorTypeName(errType)).Msg("Retrying sync trigger")
	}
	err := http.ExecuteWithRetry(ctx, retry, func() error {
		return s.api.TriggerSync(ctx, orgID, kbID)
	})
	if err != nil {
		s.overlay.Set(state.StateFailed, selected...)
		s.session.SetSyncing(false)
		metrics.RecordKnowledgeBaseOperation("sync", false)
		s.eventBus.PublishError("sync", err, false)
		return fmt.Errorf("trigger sync: %w", err)
	}
	metrics.RecordKnowledgeBaseOperation("sync", true)
	s.logger.Info().Str("kb_id", kbID).Msg("Sync triggered")

	if _, err := s.Reconcile(ctx); err != nil {
		// The listing often lags the trigger; WaitForSync polls again
		s.logger.Warn().Err(err).Msg("Reconcile after sync failed")
	}
	return nil
}

// Reconcile lists the active knowledge base and marks every selected id it
// contains as synchronized. Leaves nested in folders are looked up under
// their parent path, since a knowledge base listing is per directory.
func (s *PickerService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	kbID := s.session.ActiveID()
	if kbID == "" {
		return ReconcileResult{}, ErrNoActiveKnowledgeBase
	}

	leaves := s.tree.LeafResourceIDs()
	dirs := s.listingPaths(leaves)

	var (
		mu        sync.Mutex
		resources []models.Resource
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.ResolveConcurrency)
	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			listed, err := s.api.ListKnowledgeBaseResources(gctx, kbID, dir)
			if err != nil {
				// Only the root listing is required; a subdirectory is absent
				// until the backend has parsed it
				if dir != constants.RootResourcePath && isNotFound(err) {
					return nil
				}
				return fmt.Errorf("list knowledge base %s at %s: %w", kbID, dir, err)
			}
			mu.Lock()
			resources = append(resources, listed...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.eventBus.PublishError("reconcile", err, true)
		return ReconcileResult{}, err
	}

	changed := s.overlay.Reconcile(s.tree.SelectedIDs(), resources)

	result := ReconcileResult{
		Changed:      changed,
		Resources:    resources,
		Synchronized: s.overlay.Count(state.StateSynchronized, leaves),
		Total:        len(leaves),
	}
	if result.Done() {
		s.session.SetSyncing(false)
	}
	return result, nil
}

// listingPaths returns the knowledge base directories to list so that every
// leaf can be found: the root plus the parent path of each loaded leaf.
func (s *PickerService) listingPaths(leaves []string) []string {
	set := map[string]struct{}{constants.RootResourcePath: {}}
	for _, id := range leaves {
		r, ok := s.resource(id)
		if !ok || r.InodePath.Path == "" {
			continue
		}
		dir := path.Dir(r.Path())
		for dir != constants.RootResourcePath && dir != "." {
			set[dir] = struct{}{}
			dir = path.Dir(dir)
		}
	}
	out := make([]string, 0, len(set))
	for dir := range set {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

func isNotFound(err error) bool {
	var sc http.StatusCoder
	return errors.As(err, &sc) && sc.HTTPStatus() == 404
}

// WaitForSync polls Reconcile with exponential backoff until every leaf is
// synchronized, the timeout passes or ctx ends. Transient listing errors are
// logged and polled again; an auth error ends the wait.
func (s *PickerService) WaitForSync(ctx context.Context, opts WaitOptions) error {
	kbID := s.session.ActiveID()
	if kbID == "" {
		return ErrNoActiveKnowledgeBase
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		result, err := s.Reconcile(ctx)
		switch {
		case err == nil:
			if opts.OnProgress != nil {
				opts.OnProgress(result.Synchronized, result.Total)
			}
			s.eventBus.PublishSyncProgress(kbID, result.Synchronized, result.Total)
			if result.Done() {
				metrics.RecordSyncWait(time.Since(start))
				s.logger.Info().Str("kb_id", kbID).Dur("elapsed", time.Since(start)).Msg("Knowledge base synchronized")
				return nil
			}
		case ctx.Err() != nil:
			return fmt.Errorf("wait for sync: %w", ctx.Err())
		case http.ClassifyError(err) == http.ErrorTypeCredential:
			return fmt.Errorf("wait for sync: %w", err)
		default:
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Sync status poll failed")
		}

		if err := http.Sleep(ctx, http.PollDelay(attempt, s.pollInitial, s.pollMax)); err != nil {
			return fmt.Errorf("wait for sync: %w", err)
		}
	}
}

// RemoveResource removes a resource from the active knowledge base. The id
// is deselected only when the backend confirms; on failure it is marked
// failed and stays selected.
func (s *PickerService) RemoveResource(ctx context.Context, r models.Resource) error {
	kbID := s.session.ActiveID()
	if kbID == "" {
		return ErrNoActiveKnowledgeBase
	}

	s.overlay.Set(state.StateRemoving, r.ResourceID)
	if err := s.api.DeleteKnowledgeBaseResource(ctx, kbID, r.Path()); err != nil {
		s.overlay.Set(state.StateFailed, r.ResourceID)
		metrics.RecordKnowledgeBaseOperation("remove", false)
		s.eventBus.PublishError("remove", err, false)
		return fmt.Errorf("remove %s from knowledge base: %w", r.Path(), err)
	}

	s.overlay.Set(state.StateResource, r.ResourceID)
	s.tree.Deselect(r.ResourceID)
	metrics.RecordKnowledgeBaseOperation("remove", true)
	metrics.SetSelectedResources(s.tree.SelectedCount())

	if s.history != nil {
		if err := s.history.ForgetResource(ctx, kbID, r.ResourceID); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to update knowledge base history")
		}
	}
	return nil
}

// SwitchKnowledgeBase activates a knowledge base from the history. The
// overlay is cleared: its states belong to the previous knowledge base.
func (s *PickerService) SwitchKnowledgeBase(ctx context.Context, id string) {
	s.session.SwitchTo(id)
	s.overlay.Clear()
	if s.history != nil {
		if err := s.history.TouchKnowledgeBase(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("Failed to update knowledge base history")
		}
	}
	s.saveSession(ctx)
}

// ForgetKnowledgeBase drops a knowledge base from the local history. The
// knowledge base itself is left untouched on the backend.
func (s *PickerService) ForgetKnowledgeBase(ctx context.Context, id string) error {
	wasActive := s.session.ActiveID() == id
	s.session.RemoveFromHistory(id)
	if wasActive {
		s.overlay.Clear()
	}
	if s.history != nil {
		if err := s.history.DeleteKnowledgeBase(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("forget knowledge base %s: %w", id, err)
		}
	}
	s.saveSession(ctx)
	return nil
}

// NewKnowledgeBase deactivates the current knowledge base and starts over
// with an empty tree, selection and overlay. The root must be loaded again.
func (s *PickerService) NewKnowledgeBase(ctx context.Context) {
	s.session.Clear()
	s.resetTree()
	s.saveSession(ctx)
}

// Logout clears everything NewKnowledgeBase does plus the history.
func (s *PickerService) Logout(ctx context.Context) error {
	s.session.ClearHistory()

	s.mu.Lock()
	s.connectionID = ""
	s.orgID = ""
	s.mu.Unlock()
	s.resetTree()
	if s.history != nil {
		if err := s.history.Clear(ctx); err != nil {
			return fmt.Errorf("clear history: %w", err)
		}
	}
	return nil
}

func (s *PickerService) resetTree() {
	s.generation.Add(1)
	s.mu.Lock()
	clear(s.hinted)
	s.mu.Unlock()
	s.tree.Reset()
	s.overlay.Clear()
	metrics.SetSelectedResources(0)
}
