// Package state provides observable state containers for the resource picker.
// TreeState holds the lazily loaded folder tree together with the selection and
// expansion sets; StatusOverlay holds transient indexing states.
package state

import (
	"slices"
	"sort"
	"sync"

	"github.com/kbpicker/kb-picker/internal/events"
	"github.com/kbpicker/kb-picker/internal/models"
)

// RootID is the ChildMap key of the connection root listing.
const RootID = ""

// CheckState is the tri-state rendering of a selection checkbox.
type CheckState int

const (
	Unchecked CheckState = iota
	Checked
	Indeterminate
)

func (c CheckState) String() string {
	switch c {
	case Checked:
		return "checked"
	case Indeterminate:
		return "indeterminate"
	default:
		return "unchecked"
	}
}

// Option configures a TreeState.
type Option func(*TreeState)

// WithParentPromotion controls whether a folder becomes selected once every one
// of its known children is selected. Enabled by default.
func WithParentPromotion(enabled bool) Option {
	return func(s *TreeState) {
		s.promoteParents = enabled
	}
}

// TreeState is the selection/expansion tree manager.
//
// The ChildMap is populated lazily, one folder at a time. An absent entry means
// the folder has not been fetched; an empty slice is a fetched, empty folder.
// Every mutation is applied under the lock to the current sets, so concurrent
// fetch completions and user toggles never overwrite each other.
// Thread-safe for concurrent access.
type TreeState struct {
	eventBus *events.EventBus

	children map[string][]models.Resource // ChildMap
	parents  map[string]string            // child id -> folder it was listed under
	selected map[string]struct{}
	expanded map[string]struct{}
	inFlight map[string]struct{}
	fetchErr map[string]error

	promoteParents bool

	mu sync.RWMutex
}

// NewTreeState creates an empty tree. eventBus may be nil.
func NewTreeState(eventBus *events.EventBus, opts ...Option) *TreeState {
	s := &TreeState{
		eventBus:       eventBus,
		promoteParents: true,
	}
	s.resetLocked()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TreeState) resetLocked() {
	s.children = make(map[string][]models.Resource)
	s.parents = make(map[string]string)
	s.selected = make(map[string]struct{})
	s.expanded = make(map[string]struct{})
	s.inFlight = make(map[string]struct{})
	s.fetchErr = make(map[string]error)
}

// Reset clears the tree, selection and expansion. Used on logout and new KB.
func (s *TreeState) Reset() {
	s.mu.Lock()
	removed := s.selectedIDsLocked()
	s.resetLocked()
	s.mu.Unlock()

	if len(removed) > 0 {
		s.eventBus.Publish(events.NewSelectionChangedEvent(nil, removed, 0))
	}
}

// ToggleExpand collapses an expanded folder or expands a collapsed one.
// It returns true when the caller must fetch the folder's children: the folder
// was expanded, has no ChildMap entry and no fetch is already in flight.
// Collapsing never discards loaded children and never cancels a fetch.
func (s *TreeState) ToggleExpand(folderID string) (needsFetch bool) {
	s.mu.Lock()
	if _, ok := s.expanded[folderID]; ok {
		delete(s.expanded, folderID)
		s.mu.Unlock()
		s.eventBus.Publish(events.NewExpansionChangedEvent(folderID, false))
		return false
	}
	needsFetch = s.expandLocked(folderID)
	s.mu.Unlock()

	s.eventBus.Publish(events.NewExpansionChangedEvent(folderID, true))
	return needsFetch
}

// Expand marks a folder expanded. Expanding an already expanded folder whose
// previous fetch failed requests a retry.
func (s *TreeState) Expand(folderID string) (needsFetch bool) {
	s.mu.Lock()
	_, was := s.expanded[folderID]
	needsFetch = s.expandLocked(folderID)
	s.mu.Unlock()

	if !was {
		s.eventBus.Publish(events.NewExpansionChangedEvent(folderID, true))
	}
	return needsFetch
}

// Collapse removes a folder from the expansion set.
func (s *TreeState) Collapse(folderID string) {
	s.mu.Lock()
	_, was := s.expanded[folderID]
	delete(s.expanded, folderID)
	s.mu.Unlock()

	if was {
		s.eventBus.Publish(events.NewExpansionChangedEvent(folderID, false))
	}
}

// BeginFetch claims the fetch of a folder without touching the expansion set.
// It returns false when the folder is already loaded or being loaded.
func (s *TreeState) BeginFetch(folderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimFetchLocked(folderID)
}

func (s *TreeState) expandLocked(folderID string) bool {
	s.expanded[folderID] = struct{}{}
	return s.claimFetchLocked(folderID)
}

func (s *TreeState) claimFetchLocked(folderID string) bool {
	if _, loaded := s.children[folderID]; loaded {
		return false
	}
	if _, pending := s.inFlight[folderID]; pending {
		return false
	}
	s.inFlight[folderID] = struct{}{}
	delete(s.fetchErr, folderID)
	return true
}

// MergeChildren stores the fetched children of a folder. It is the only place
// ChildMap entries are written. A second result for a folder that already has
// an entry is ignored and false is returned.
//
// If the folder is selected when its children arrive, every known descendant is
// selected after the entry is stored.
func (s *TreeState) MergeChildren(folderID string, children []models.Resource) bool {
	s.mu.Lock()
	delete(s.inFlight, folderID)
	if _, loaded := s.children[folderID]; loaded {
		s.mu.Unlock()
		return false
	}

	entry := make([]models.Resource, len(children))
	copy(entry, children)
	s.children[folderID] = entry
	delete(s.fetchErr, folderID)
	for _, child := range entry {
		s.parents[child.ResourceID] = folderID
	}

	var added []string
	if _, sel := s.selected[folderID]; sel && folderID != RootID {
		for _, id := range s.descendantsLocked(folderID) {
			if _, ok := s.selected[id]; !ok {
				s.selected[id] = struct{}{}
				added = append(added, id)
			}
		}
	}
	count := len(s.selected)
	s.mu.Unlock()

	s.eventBus.Publish(events.NewChildrenLoadedEvent(folderID, len(entry), len(added)))
	if len(added) > 0 {
		s.eventBus.Publish(events.NewSelectionChangedEvent(added, nil, count))
	}
	return true
}

// FetchFailed releases the in-flight claim of a folder and leaves its entry
// absent so that expanding it again retries the fetch.
func (s *TreeState) FetchFailed(folderID string, err error) {
	s.mu.Lock()
	delete(s.inFlight, folderID)
	s.fetchErr[folderID] = err
	s.mu.Unlock()

	s.eventBus.Publish(events.NewChildrenLoadFailedEvent(folderID, err))
}

// ToggleSelection selects an unselected resource or deselects a selected one.
// For folders the change cascades to every descendant currently known in the
// ChildMap. Deselecting always deselects the known ancestors as well.
func (s *TreeState) ToggleSelection(id string, isFolder bool) {
	if id == RootID {
		return
	}

	s.mu.Lock()
	var added, removed []string
	if _, ok := s.selected[id]; ok {
		removed = s.deselectLocked(id, isFolder)
	} else {
		added = s.selectLocked(id, isFolder)
	}
	count := len(s.selected)
	s.mu.Unlock()

	s.publishSelection(added, removed, count)
}

// Select adds a resource to the selection (cascading for folders).
func (s *TreeState) Select(id string, isFolder bool) {
	if id == RootID {
		return
	}

	s.mu.Lock()
	added := s.selectLocked(id, isFolder)
	count := len(s.selected)
	s.mu.Unlock()

	s.publishSelection(added, nil, count)
}

// Deselect removes a resource, its known descendants and its known ancestors
// from the selection.
func (s *TreeState) Deselect(id string) {
	s.mu.Lock()
	_, isFolder := s.children[id]
	removed := s.deselectLocked(id, isFolder)
	count := len(s.selected)
	s.mu.Unlock()

	s.publishSelection(nil, removed, count)
}

func (s *TreeState) publishSelection(added, removed []string, count int) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	s.eventBus.Publish(events.NewSelectionChangedEvent(added, removed, count))
}

func (s *TreeState) selectLocked(id string, isFolder bool) []string {
	var added []string
	add := func(rid string) {
		if _, ok := s.selected[rid]; !ok {
			s.selected[rid] = struct{}{}
			added = append(added, rid)
		}
	}

	add(id)
	if isFolder {
		for _, d := range s.descendantsLocked(id) {
			add(d)
		}
	}

	if s.promoteParents {
		child := id
		for {
			parent, ok := s.parents[child]
			if !ok || parent == RootID {
				break
			}
			if _, sel := s.selected[parent]; sel || !s.allChildrenSelectedLocked(parent) {
				break
			}
			add(parent)
			child = parent
		}
	}
	return added
}

func (s *TreeState) deselectLocked(id string, isFolder bool) []string {
	var removed []string
	drop := func(rid string) {
		if _, ok := s.selected[rid]; ok {
			delete(s.selected, rid)
			removed = append(removed, rid)
		}
	}

	drop(id)
	if isFolder {
		for _, d := range s.descendantsLocked(id) {
			drop(d)
		}
	}

	// A folder is selected only while all of its known children are, so every
	// ancestor of a deselected node is deselected too.
	seen := map[string]struct{}{id: {}}
	for parent, ok := s.parents[id]; ok && parent != RootID; parent, ok = s.parents[parent] {
		if _, loop := seen[parent]; loop {
			break
		}
		seen[parent] = struct{}{}
		drop(parent)
	}
	return removed
}

func (s *TreeState) allChildrenSelectedLocked(folderID string) bool {
	kids, ok := s.children[folderID]
	if !ok || len(kids) == 0 {
		return false
	}
	for _, k := range kids {
		if _, sel := s.selected[k.ResourceID]; !sel {
			return false
		}
	}
	return true
}

// descendantsLocked walks the ChildMap depth-first from folderID and returns
// every reachable id, excluding folderID itself.
func (s *TreeState) descendantsLocked(folderID string) []string {
	var out []string
	visited := map[string]struct{}{folderID: {}}
	stack := []string{folderID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, child := range s.children[cur] {
			if _, ok := visited[child.ResourceID]; ok {
				continue
			}
			visited[child.ResourceID] = struct{}{}
			out = append(out, child.ResourceID)
			stack = append(stack, child.ResourceID)
		}
	}
	return out
}

// LeafResourceIDs returns every selected id that has no selected child in the
// ChildMap, sorted. A selected folder that was never fetched is its own leaf.
func (s *TreeState) LeafResourceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leaves := make([]string, 0, len(s.selected))
	for id := range s.selected {
		if !s.hasSelectedChildLocked(id) {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

func (s *TreeState) hasSelectedChildLocked(id string) bool {
	for _, child := range s.children[id] {
		if _, ok := s.selected[child.ResourceID]; ok {
			return true
		}
	}
	return false
}

// UnresolvedSelectedFolders returns selected folder ids that have no ChildMap
// entry and no fetch in flight.
func (s *TreeState) UnresolvedSelectedFolders(isFolder func(id string) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id := range s.selected {
		if _, loaded := s.children[id]; loaded {
			continue
		}
		if _, pending := s.inFlight[id]; pending {
			continue
		}
		if isFolder(id) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IsSelected reports whether id is in the selection.
func (s *TreeState) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.selected[id]
	return ok
}

// IsExpanded reports whether id is in the expansion set.
func (s *TreeState) IsExpanded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.expanded[id]
	return ok
}

// IsLoading reports whether a fetch for id is in flight.
func (s *TreeState) IsLoading(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inFlight[id]
	return ok
}

// InFlightCount returns the number of pending folder fetches.
func (s *TreeState) InFlightCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inFlight)
}

// FetchError returns the error of the last failed fetch of id, if any.
func (s *TreeState) FetchError(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchErr[id]
}

// Children returns a copy of the ChildMap entry for id and whether it exists.
func (s *TreeState) Children(id string) ([]models.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kids, ok := s.children[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(kids), true
}

// Lookup finds a loaded resource by id.
func (s *TreeState) Lookup(id string) (models.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.parents[id]
	if !ok {
		return models.Resource{}, false
	}
	for _, r := range s.children[parent] {
		if r.ResourceID == id {
			return r, true
		}
	}
	return models.Resource{}, false
}

// Parent returns the folder id was listed under.
func (s *TreeState) Parent(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parents[id]
	return p, ok
}

// SelectedIDs returns the sorted selection.
func (s *TreeState) SelectedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedIDsLocked()
}

func (s *TreeState) selectedIDsLocked() []string {
	ids := make([]string, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SelectedCount returns the selection size.
func (s *TreeState) SelectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.selected)
}

// CheckState returns the checkbox state of id: checked when selected,
// indeterminate when some known descendant is selected.
func (s *TreeState) CheckState(id string) CheckState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkStateLocked(id)
}

func (s *TreeState) checkStateLocked(id string) CheckState {
	if _, ok := s.selected[id]; ok {
		return Checked
	}
	if _, loaded := s.children[id]; !loaded {
		return Unchecked
	}
	for _, d := range s.descendantsLocked(id) {
		if _, ok := s.selected[d]; ok {
			return Indeterminate
		}
	}
	return Unchecked
}
