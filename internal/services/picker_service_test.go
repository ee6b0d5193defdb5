package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbpicker/kb-picker/internal/constants"
	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/http"
	"github.com/kbpicker/kb-picker/internal/models"
	"github.com/kbpicker/kb-picker/internal/session"
	"github.com/kbpicker/kb-picker/internal/state"
	"github.com/kbpicker/kb-picker/internal/store"
)

type statusErr struct{ code int }

func (e statusErr) Error() string   { return fmt.Sprintf("request failed: status %d", e.code) }
func (e statusErr) HTTPStatus() int { return e.code }

func folder(id, path string) models.Resource {
	return models.Resource{ResourceID: id, InodeType: models.InodeDirectory, InodePath: models.InodePath{Path: path}}
}

func file(id, path string) models.Resource {
	return models.Resource{ResourceID: id, InodeType: models.InodeFile, InodePath: models.InodePath{Path: path}}
}

type fakeAPI struct {
	mu sync.Mutex

	children   map[string][]models.Resource
	childErr   map[string]error
	listCalls  map[string]int
	gate       chan struct{} // when set, ListChildren blocks until closed
	created    []models.CreateKnowledgeBaseRequest
	createErr  error
	syncCalls  [][2]string
	syncErr    error
	kbByPath   map[string][]models.Resource
	kbErr      map[string]error
	kbReady    bool
	deleted    []string
	deleteErr  error
	nextKBID   string
	kbListings int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		children:  map[string][]models.Resource{},
		childErr:  map[string]error{},
		listCalls: map[string]int{},
		kbByPath:  map[string][]models.Resource{},
		kbErr:     map[string]error{},
		kbReady:   true,
		nextKBID:  "kb-123",
	}
}

func (f *fakeAPI) ListChildren(ctx context.Context, connectionID, folderID string) ([]models.Resource, error) {
	f.mu.Lock()
	f.listCalls[folderID]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.childErr[folderID]; err != nil {
		return nil, err
	}
	return f.children[folderID], nil
}

func (f *fakeAPI) CreateKnowledgeBase(ctx context.Context, req models.CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.KnowledgeBase{KnowledgeBaseID: f.nextKBID, Name: req.Name}, nil
}

func (f *fakeAPI) TriggerSync(ctx context.Context, orgID, knowledgeBaseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls = append(f.syncCalls, [2]string{orgID, knowledgeBaseID})
	return f.syncErr
}

func (f *fakeAPI) ListKnowledgeBaseResources(ctx context.Context, knowledgeBaseID, resourcePath string) ([]models.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kbListings++
	if err := f.kbErr[resourcePath]; err != nil {
		return nil, err
	}
	if !f.kbReady {
		return nil, nil
	}
	return f.kbByPath[resourcePath], nil
}

func (f *fakeAPI) DeleteKnowledgeBaseResource(ctx context.Context, knowledgeBaseID, resourcePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, resourcePath)
	return nil
}

func (f *fakeAPI) setReady(ready bool) {
	f.mu.Lock()
	f.kbReady = ready
	f.mu.Unlock()
}

func (f *fakeAPI) calls(folderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[folderID]
}

type fakeHistory struct {
	mu        sync.Mutex
	records   []store.KnowledgeBaseRecord
	resources map[string][]store.IndexedResource
	touched   []string
	forgotten []string
	deleted   []string
	snap      session.Snapshot
	saves     int
	cleared   bool
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{resources: map[string][]store.IndexedResource{}}
}

func (h *fakeHistory) RecordKnowledgeBase(ctx context.Context, rec store.KnowledgeBaseRecord, resources []store.IndexedResource) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	h.resources[rec.ID] = resources
	return nil
}

func (h *fakeHistory) TouchKnowledgeBase(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.touched = append(h.touched, id)
	return nil
}

func (h *fakeHistory) ForgetResource(ctx context.Context, kbID, resourceID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgotten = append(h.forgotten, kbID+"/"+resourceID)
	return nil
}

func (h *fakeHistory) KnowledgeBaseResources(ctx context.Context, kbID string) ([]store.IndexedResource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resources[kbID], nil
}

func (h *fakeHistory) DeleteKnowledgeBase(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deleted = append(h.deleted, id)
	return nil
}

func (h *fakeHistory) SaveSnapshot(ctx context.Context, snap session.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snap = snap
	h.saves++
	return nil
}

func (h *fakeHistory) LoadSnapshot(ctx context.Context) (session.Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap, nil
}

func (h *fakeHistory) Clear(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleared = true
	h.snap = session.Snapshot{}
	return nil
}

// driveFixture is a root holding folder F1 (children B, C) and file A.
func driveFixture() *fakeAPI {
	api := newFakeAPI()
	api.children[state.RootID] = []models.Resource{
		folder("F1", "F1"),
		file("A", "A.txt"),
	}
	api.children["F1"] = []models.Resource{
		file("B", "F1/B.txt"),
		file("C", "F1/C.txt"),
	}
	return api
}

func newTestService(api *fakeAPI, history HistoryStore) *PickerService {
	return NewPickerService(api, nil, PickerServiceConfig{
		ConnectionID:     "conn-1",
		OrgID:            "org-1",
		History:          history,
		PollInitialDelay: time.Millisecond,
		PollMaxDelay:     2 * time.Millisecond,
		Retry:            http.Config{MaxRetries: 1},
	})
}

func TestPickerService_ExpandFetchesOnce(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()

	require.NoError(t, svc.LoadRoot(ctx))
	require.NoError(t, svc.LoadRoot(ctx))
	assert.Equal(t, 1, api.calls(state.RootID))

	assert.True(t, svc.Expand(ctx, "F1"))
	svc.Wait()

	children, ok := svc.Tree().Children("F1")
	require.True(t, ok)
	assert.Len(t, children, 2)

	// Collapse and re-expand with the entry cached
	svc.Collapse("F1")
	assert.False(t, svc.ToggleExpand(ctx, "F1"))
	svc.Wait()
	assert.Equal(t, 1, api.calls("F1"))
	assert.True(t, svc.Tree().IsExpanded("F1"))
}

func TestPickerService_SelectThenExpandSelectsChildren(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("F1", true)
	assert.Equal(t, []string{"F1"}, svc.Tree().LeafResourceIDs())

	svc.Expand(ctx, "F1")
	svc.Wait()

	assert.ElementsMatch(t, []string{"F1", "B", "C"}, svc.Tree().SelectedIDs())
	assert.Equal(t, []string{"B", "C"}, svc.Tree().LeafResourceIDs())
}

func TestPickerService_FetchFailureLeavesEntryAbsent(t *testing.T) {
	api := driveFixture()
	api.childErr["F1"] = statusErr{code: 503}

	bus := events.NewEventBus(16)
	defer bus.Close()
	errCh := bus.Subscribe(events.EventError)

	svc := NewPickerService(api, bus, PickerServiceConfig{ConnectionID: "conn-1"})
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.Expand(ctx, "F1")
	svc.Wait()

	_, ok := svc.Tree().Children("F1")
	assert.False(t, ok)
	assert.Error(t, svc.Tree().FetchError("F1"))

	select {
	case ev := <-errCh:
		errEv := ev.(*events.ErrorEvent)
		assert.Equal(t, "fetch", errEv.Operation)
		assert.True(t, errEv.Retryable)
	case <-time.After(time.Second):
		t.Fatal("no error event published")
	}

	// Expanding again retries
	api.mu.Lock()
	delete(api.childErr, "F1")
	api.mu.Unlock()

	assert.True(t, svc.Expand(ctx, "F1"))
	svc.Wait()
	_, ok = svc.Tree().Children("F1")
	assert.True(t, ok)
	assert.Equal(t, 2, api.calls("F1"))
}

func TestPickerService_FetchWithoutConnection(t *testing.T) {
	svc := NewPickerService(newFakeAPI(), nil, PickerServiceConfig{})
	err := svc.LoadRoot(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPickerService_ResetDropsStaleFetch(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	gate := make(chan struct{})
	api.mu.Lock()
	api.gate = gate
	api.mu.Unlock()

	svc.ToggleSelection("F1", true)
	svc.Expand(ctx, "F1")
	svc.NewKnowledgeBase(ctx)
	close(gate)
	svc.Wait()

	_, ok := svc.Tree().Children("F1")
	assert.False(t, ok)
	assert.Zero(t, svc.Tree().SelectedCount())
}

func TestPickerService_IndexAndSync(t *testing.T) {
	api := driveFixture()
	api.kbByPath["/F1"] = []models.Resource{file("B", "F1/B.txt"), file("C", "F1/C.txt")}
	history := newFakeHistory()
	svc := newTestService(api, history)
	ctx := context.Background()

	require.NoError(t, svc.LoadRoot(ctx))
	svc.ToggleSelection("F1", true)
	svc.Expand(ctx, "F1")
	svc.Wait()

	kb, err := svc.IndexSelected(ctx, IndexOptions{Name: "Docs"})
	require.NoError(t, err)
	assert.Equal(t, "kb-123", kb.KnowledgeBaseID)

	require.Len(t, api.created, 1)
	req := api.created[0]
	assert.Equal(t, "conn-1", req.ConnectionID)
	assert.Equal(t, []string{"B", "C"}, req.ConnectionSourceIDs)
	assert.Equal(t, "Docs", req.Name)
	assert.Equal(t, models.DefaultIndexingParams(), req.IndexingParams)

	for _, id := range []string{"F1", "B", "C"} {
		st, _ := svc.Overlay().Get(id)
		assert.Equal(t, state.StateIndexed, st, id)
	}
	assert.Equal(t, "kb-123", svc.Session().ActiveID())

	require.Len(t, history.records, 1)
	assert.Equal(t, 2, history.records[0].ResourceCount)
	assert.Equal(t, "org-1", history.records[0].OrgID)
	assert.Equal(t, "/F1/B.txt", history.resources["kb-123"][0].Path)
	assert.Equal(t, "kb-123", history.snap.ActiveID)

	require.NoError(t, svc.Sync(ctx))
	assert.Equal(t, [][2]string{{"org-1", "kb-123"}}, api.syncCalls)

	for _, id := range []string{"B", "C"} {
		st, _ := svc.Overlay().Get(id)
		assert.Equal(t, state.StateSynchronized, st, id)
	}
	assert.False(t, svc.Session().IsSyncing())

	// Selection is kept after submission
	assert.ElementsMatch(t, []string{"F1", "B", "C"}, svc.Tree().SelectedIDs())
}

func TestPickerService_IndexSelectedPreconditions(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(driveFixture(), nil)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	assert.ErrorIs(t, err, ErrNothingSelected)

	svc = NewPickerService(driveFixture(), nil, PickerServiceConfig{})
	svc.ToggleSelection("A", false)
	_, err = svc.IndexSelected(ctx, IndexOptions{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPickerService_IndexFailureMarksFailed(t *testing.T) {
	api := driveFixture()
	api.createErr = errors.New("request failed: status 400: bad request")
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.Error(t, err)

	st, _ := svc.Overlay().Get("A")
	assert.Equal(t, state.StateFailed, st)
	assert.True(t, svc.Tree().IsSelected("A"))
	assert.False(t, svc.Session().Exists())
}

func TestPickerService_DefaultName(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{Name: "   "})
	require.NoError(t, err)
	assert.Contains(t, api.created[0].Name, "Knowledge Base ")
	assert.NotEmpty(t, api.created[0].Description)
}

func TestPickerService_ResolveSelection(t *testing.T) {
	api := newFakeAPI()
	api.children[state.RootID] = []models.Resource{folder("F1", "F1")}
	api.children["F1"] = []models.Resource{folder("F2", "F1/F2"), file("B", "F1/B.txt")}
	api.children["F2"] = []models.Resource{file("D", "F1/F2/D.txt")}
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("F1", true)
	_, err := svc.IndexSelected(ctx, IndexOptions{ResolveFolders: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "D"}, api.created[0].ConnectionSourceIDs)
	assert.False(t, svc.Tree().IsExpanded("F1"))
}

func TestPickerService_SelectByIDResolvesUnloadedFolders(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()

	svc.SelectByID([]string{"A"}, []string{"F1"})
	assert.Equal(t, 2, svc.Tree().SelectedCount())

	_, err := svc.IndexSelected(ctx, IndexOptions{ResolveFolders: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, api.created[0].ConnectionSourceIDs)
	assert.Equal(t, 0, api.calls(state.RootID))
}

func TestPickerService_SelectIndexedSyncsInNewProcess(t *testing.T) {
	api := driveFixture()
	history := newFakeHistory()
	ctx := context.Background()

	first := newTestService(api, history)
	require.NoError(t, first.LoadRoot(ctx))
	require.NoError(t, first.FetchChildren(ctx, "F1"))
	first.ToggleSelection("B", false)
	kb, err := first.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)

	second := newTestService(api, history)
	require.NoError(t, second.RestoreSession(ctx))
	require.Equal(t, kb.KnowledgeBaseID, second.Session().ActiveID())

	n, err := second.SelectIndexed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{constants.RootResourcePath, "/F1"}, second.listingPaths(second.Tree().LeafResourceIDs()))

	api.kbByPath["/F1"] = []models.Resource{file("B", "F1/B.txt")}
	api.setReady(true)
	require.NoError(t, second.Sync(ctx))
	st, _ := second.Overlay().Get("B")
	assert.Equal(t, state.StateSynchronized, st)
}

func TestPickerService_ResolveSelectionFailure(t *testing.T) {
	api := driveFixture()
	api.childErr["F1"] = statusErr{code: 500}
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("F1", true)
	_, err := svc.IndexSelected(ctx, IndexOptions{ResolveFolders: true})
	require.Error(t, err)
	assert.Empty(t, api.created)
	assert.True(t, svc.Tree().IsSelected("F1"))
}

func TestPickerService_SyncPreconditions(t *testing.T) {
	ctx := context.Background()

	svc := newTestService(driveFixture(), nil)
	assert.ErrorIs(t, svc.Sync(ctx), ErrNoActiveKnowledgeBase)

	svc = NewPickerService(driveFixture(), nil, PickerServiceConfig{ConnectionID: "conn-1"})
	svc.Session().SetKnowledgeBase("kb-1")
	assert.ErrorIs(t, svc.Sync(ctx), ErrNoOrganization)
}

func TestPickerService_SyncFailureMarksFailed(t *testing.T) {
	api := driveFixture()
	api.syncErr = statusErr{code: 400}
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)

	require.Error(t, svc.Sync(ctx))
	st, _ := svc.Overlay().Get("A")
	assert.Equal(t, state.StateFailed, st)
	assert.False(t, svc.Session().IsSyncing())
	assert.True(t, svc.Tree().IsSelected("A"))
}

func TestPickerService_ReconcileIgnoresMissingSubdirectory(t *testing.T) {
	api := driveFixture()
	api.kbErr["/F1"] = statusErr{code: 404}
	api.kbByPath["/"] = []models.Resource{file("A", "A.txt")}
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	svc.Expand(ctx, "F1")
	svc.Wait()
	svc.ToggleSelection("B", false)
	svc.Session().SetKnowledgeBase("kb-123")

	result, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, result.Changed)
	assert.Equal(t, 1, result.Synchronized)
	assert.Equal(t, 2, result.Total)
	assert.False(t, result.Done())

	// The root listing is required
	api.mu.Lock()
	api.kbErr["/"] = statusErr{code: 404}
	api.mu.Unlock()
	_, err = svc.Reconcile(ctx)
	assert.Error(t, err)
}

func TestPickerService_WaitForSync(t *testing.T) {
	api := driveFixture()
	api.kbByPath["/"] = []models.Resource{file("A", "A.txt")}
	api.kbReady = false
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)
	require.NoError(t, svc.Sync(ctx))
	assert.True(t, svc.Session().IsSyncing())

	var progress [][2]int
	err = svc.WaitForSync(ctx, WaitOptions{
		Timeout: 5 * time.Second,
		OnProgress: func(synchronized, total int) {
			progress = append(progress, [2]int{synchronized, total})
			api.setReady(true)
		},
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(progress), 2)
	assert.Equal(t, [2]int{0, 1}, progress[0])
	assert.Equal(t, [2]int{1, 1}, progress[len(progress)-1])
	assert.False(t, svc.Session().IsSyncing())
}

func TestPickerService_WaitForSyncTimeout(t *testing.T) {
	api := driveFixture()
	api.kbReady = false
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)

	err = svc.WaitForSync(ctx, WaitOptions{Timeout: 30 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPickerService_WaitForSyncStopsOnAuthError(t *testing.T) {
	api := driveFixture()
	api.kbErr["/"] = statusErr{code: 401}
	svc := newTestService(api, nil)
	svc.Session().SetKnowledgeBase("kb-123")
	svc.ToggleSelection("A", false)

	err := svc.WaitForSync(context.Background(), WaitOptions{Timeout: 5 * time.Second})
	require.Error(t, err)
	var se statusErr
	assert.ErrorAs(t, err, &se)
}

func TestPickerService_RemoveResource(t *testing.T) {
	api := driveFixture()
	history := newFakeHistory()
	svc := newTestService(api, history)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("F1", true)
	svc.Expand(ctx, "F1")
	svc.Wait()
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)

	b, ok := svc.Tree().Lookup("B")
	require.True(t, ok)
	require.NoError(t, svc.RemoveResource(ctx, b))

	assert.Equal(t, []string{"/F1/B.txt"}, api.deleted)
	st, _ := svc.Overlay().Get("B")
	assert.Equal(t, state.StateResource, st)
	assert.False(t, svc.Tree().IsSelected("B"))
	assert.False(t, svc.Tree().IsSelected("F1"))
	assert.True(t, svc.Tree().IsSelected("C"))
	assert.Equal(t, []string{"kb-123/B"}, history.forgotten)
}

func TestPickerService_RemoveResourceFailure(t *testing.T) {
	api := driveFixture()
	api.deleteErr = statusErr{code: 500}
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	a, _ := svc.Tree().Lookup("A")
	assert.ErrorIs(t, svc.RemoveResource(ctx, a), ErrNoActiveKnowledgeBase)

	svc.ToggleSelection("A", false)
	svc.Session().SetKnowledgeBase("kb-123")
	require.Error(t, svc.RemoveResource(ctx, a))

	st, _ := svc.Overlay().Get("A")
	assert.Equal(t, state.StateFailed, st)
	assert.True(t, svc.Tree().IsSelected("A"))
}

func TestPickerService_SessionLifecycle(t *testing.T) {
	api := driveFixture()
	history := newFakeHistory()
	svc := newTestService(api, history)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))

	svc.ToggleSelection("A", false)
	_, err := svc.IndexSelected(ctx, IndexOptions{})
	require.NoError(t, err)

	svc.NewKnowledgeBase(ctx)
	assert.False(t, svc.Session().Exists())
	assert.Equal(t, []string{"kb-123"}, svc.Session().History())
	assert.Zero(t, svc.Tree().SelectedCount())
	assert.Zero(t, svc.Overlay().Snapshot()["A"])
	_, ok := svc.Tree().Children(state.RootID)
	assert.False(t, ok)

	svc.SwitchKnowledgeBase(ctx, "kb-123")
	assert.Equal(t, "kb-123", svc.Session().ActiveID())
	assert.Equal(t, []string{"kb-123"}, history.touched)

	// A fresh service picks the session up from the store
	restored := newTestService(api, history)
	require.NoError(t, restored.RestoreSession(ctx))
	assert.Equal(t, "kb-123", restored.Session().ActiveID())

	require.NoError(t, svc.ForgetKnowledgeBase(ctx, "kb-123"))
	assert.False(t, svc.Session().Exists())
	assert.Empty(t, svc.Session().History())
	assert.Equal(t, []string{"kb-123"}, history.deleted)

	require.NoError(t, svc.Logout(ctx))
	assert.True(t, history.cleared)
	assert.Empty(t, svc.ConnectionID())
	assert.Empty(t, svc.OrgID())
}

func TestPickerService_SetConnectionResetsTree(t *testing.T) {
	api := driveFixture()
	svc := newTestService(api, nil)
	ctx := context.Background()
	require.NoError(t, svc.LoadRoot(ctx))
	svc.ToggleSelection("A", false)

	svc.SetConnection("conn-1", "org-2")
	assert.True(t, svc.Tree().IsSelected("A"))
	assert.Equal(t, "org-2", svc.OrgID())

	svc.SetConnection("conn-2", "org-2")
	assert.False(t, svc.Tree().IsSelected("A"))
	assert.Equal(t, "conn-2", svc.ConnectionID())
}
