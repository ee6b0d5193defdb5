package state

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbpicker/kb-picker/internal/models"
)

func rowIDs(rows []Row) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		switch {
		case r.Placeholder && r.Loading:
			ids[i] = "loading:" + r.ParentID
		case r.Placeholder:
			ids[i] = "error:" + r.ParentID
		default:
			ids[i] = r.Resource.ResourceID
		}
	}
	return ids
}

func TestVisibleRows_OnlyExpandedFoldersDescend(t *testing.T) {
	tree := newDriveTree(t)
	tree.BeginFetch("F1")
	tree.MergeChildren("F1", []models.Resource{file("B", "F1/B"), file("C", "F1/C")})

	assert.Equal(t, []string{"F1", "A"}, rowIDs(tree.VisibleRows(nil)))

	tree.Expand("F1")
	rows := tree.VisibleRows(nil)
	assert.Equal(t, []string{"F1", "B", "C", "A"}, rowIDs(rows))
	assert.Equal(t, 0, rows[0].Depth)
	assert.True(t, rows[0].Expanded)
	assert.Equal(t, 1, rows[1].Depth)
	assert.Equal(t, "F1", rows[1].ParentID)
}

func TestVisibleRows_PlaceholderForLoadingAndFailed(t *testing.T) {
	tree := newDriveTree(t)

	tree.Expand("F1")
	assert.Equal(t, []string{"F1", "loading:F1", "A"}, rowIDs(tree.VisibleRows(nil)))

	tree.FetchFailed("F1", errors.New("boom"))
	rows := tree.VisibleRows(nil)
	assert.Equal(t, []string{"F1", "error:F1", "A"}, rowIDs(rows))
	require.Error(t, rows[1].Err)
}

func TestVisibleRows_CheckStates(t *testing.T) {
	tree := newDriveTree(t)
	tree.Expand("F1")
	tree.MergeChildren("F1", []models.Resource{file("B", "F1/B"), file("C", "F1/C")})
	tree.Select("B", false)

	rows := tree.VisibleRows(nil)
	assert.Equal(t, Indeterminate, rows[0].Check)
	assert.Equal(t, Checked, rows[1].Check)
	assert.Equal(t, Unchecked, rows[2].Check)
}

func TestVisibleRows_CustomOrder(t *testing.T) {
	tree := newDriveTree(t)
	byName := func(a, b models.Resource) int { return strings.Compare(a.Name(), b.Name()) }

	assert.Equal(t, []string{"A", "F1"}, rowIDs(tree.VisibleRows(byName)))

	children, _ := tree.Children(RootID)
	assert.Equal(t, "F1", children[0].ResourceID, "sorting rows must not reorder the ChildMap")
}

func TestVisibleRows_DeepTreeIsIterative(t *testing.T) {
	tree := NewTreeState(nil)
	tree.BeginFetch(RootID)
	tree.MergeChildren(RootID, []models.Resource{dir("d0", "d0")})

	const depth = 1000
	for i := 0; i < depth; i++ {
		id := "d" + strconv.Itoa(i)
		next := "d" + strconv.Itoa(i+1)
		tree.Expand(id)
		tree.MergeChildren(id, []models.Resource{dir(next, next)})
	}

	rows := tree.VisibleRows(nil)
	assert.Len(t, rows, depth+1)
	assert.Equal(t, depth, rows[len(rows)-1].Depth)
}

func TestCheckState_String(t *testing.T) {
	assert.Equal(t, "checked", Checked.String())
	assert.Equal(t, "indeterminate", Indeterminate.String())
	assert.Equal(t, "unchecked", Unchecked.String())
}
