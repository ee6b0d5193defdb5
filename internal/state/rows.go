package state

import (
	"slices"

	"github.com/kbpicker/kb-picker/internal/models"
)

// Row is one line of the flattened, visible tree.
type Row struct {
	Resource models.Resource
	ParentID string
	Depth    int
	Expanded bool
	Check    CheckState

	// Placeholder rows stand in for the children of an expanded folder that
	// are still loading (Loading) or failed to load (Err).
	Placeholder bool
	Loading     bool
	Err         error
}

// CompareFunc orders siblings for display. Nil keeps the server order.
type CompareFunc func(a, b models.Resource) int

// VisibleRows flattens the expanded part of the tree, starting at the root
// listing. The walk uses an explicit stack, so tree depth does not grow the
// call stack of renderers.
func (s *TreeState) VisibleRows(cmp CompareFunc) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type frame struct {
		res      models.Resource
		parentID string
		depth    int
	}

	ordered := func(id string) []models.Resource {
		kids := s.children[id]
		if cmp == nil {
			return kids
		}
		kids = slices.Clone(kids)
		slices.SortStableFunc(kids, cmp)
		return kids
	}

	push := func(stack []frame, parentID string, depth int) []frame {
		kids := ordered(parentID)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{res: kids[i], parentID: parentID, depth: depth})
		}
		return stack
	}

	var rows []Row
	stack := push(nil, RootID, 0)
	visited := make(map[string]struct{})

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := f.res.ResourceID
		_, expanded := s.expanded[id]
		expanded = expanded && f.res.IsDirectory()

		rows = append(rows, Row{
			Resource: f.res,
			ParentID: f.parentID,
			Depth:    f.depth,
			Expanded: expanded,
			Check:    s.checkStateLocked(id),
		})

		if !expanded {
			continue
		}
		if _, loop := visited[id]; loop {
			continue
		}
		visited[id] = struct{}{}

		if _, loaded := s.children[id]; loaded {
			stack = push(stack, id, f.depth+1)
			continue
		}

		_, loading := s.inFlight[id]
		if err := s.fetchErr[id]; loading || err != nil {
			rows = append(rows, Row{
				ParentID:    id,
				Depth:       f.depth + 1,
				Placeholder: true,
				Loading:     loading,
				Err:         err,
			})
		}
	}
	return rows
}
