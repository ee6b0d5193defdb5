package filter

import (
	"testing"
	"time"

	"github.com/kbpicker/kb-picker/internal/models"
)

func res(id, path string, dir bool) models.Resource {
	t := models.InodeFile
	if dir {
		t = models.InodeDirectory
	}
	return models.Resource{ResourceID: id, InodeType: t, InodePath: models.InodePath{Path: path}}
}

func ids(rs []models.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ResourceID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestApply(t *testing.T) {
	resources := []models.Resource{
		res("r1", "Reports", true),
		res("f1", "Reports/q1-report.pdf", false),
		res("f2", "Reports/q1-report.tmp", false),
		res("f3", "notes.md", false),
		res("f4", "Projects/alpha/specs/design.md", false),
	}

	tests := []struct {
		name   string
		config Config
		want   []string
	}{
		{"empty config keeps all", Config{}, []string{"r1", "f1", "f2", "f3", "f4"}},
		{"include", Config{Include: []string{"*.md"}}, []string{"f3", "f4"}},
		{"exclude wins", Config{Include: []string{"q1*"}, Exclude: []string{"*.tmp"}}, []string{"f1"}},
		{"search is case-insensitive and all terms", Config{Search: []string{"REPORT", "pdf"}}, []string{"f1"}},
		{"path include with double star", Config{PathInclude: []string{"**/design.md"}}, []string{"f4"}},
		{"path include prefix", Config{PathInclude: []string{"Reports/**"}}, []string{"r1", "f1", "f2"}},
		{"keep folders bypasses include", Config{Include: []string{"*.md"}, KeepFolders: true}, []string{"r1", "f3", "f4"}},
		{"keep folders still searches", Config{Search: []string{"notes"}, KeepFolders: true}, []string{"f3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Apply(resources, tt.config))
			if !equal(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePatternList(t *testing.T) {
	got := ParsePatternList(" *.pdf, ,*.md ")
	if !equal(got, []string{"*.pdf", "*.md"}) {
		t.Errorf("ParsePatternList() = %v", got)
	}
	if ParsePatternList("") != nil {
		t.Error("expected nil for empty input")
	}
}

func TestParseSortField(t *testing.T) {
	tests := []struct {
		in      string
		want    SortField
		wantErr bool
	}{
		{"", SortByName, false},
		{"Name", SortByName, false},
		{"date", SortByDate, false},
		{"modified", SortByDate, false},
		{"size", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSortField(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseSortField(%q) = %q, %v", tt.in, got, err)
		}
	}
	if SortByName.Next() != SortByDate || SortByDate.Next() != SortByName {
		t.Error("Next() does not cycle")
	}
}

func TestSort(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(48 * time.Hour)

	b := res("b", "beta.txt", false)
	b.UpdatedAt = &old
	a := res("a", "Alpha.txt", false)
	a.UpdatedAt = &recent
	dir := res("d", "zeta", true)

	rs := []models.Resource{b, a, dir}
	Sort(rs, SortByName, false)
	if got := ids(rs); !equal(got, []string{"d", "a", "b"}) {
		t.Errorf("name asc = %v", got)
	}

	Sort(rs, SortByName, true)
	if got := ids(rs); !equal(got, []string{"d", "b", "a"}) {
		t.Errorf("name desc = %v", got)
	}

	Sort(rs, SortByDate, false)
	if got := ids(rs); !equal(got, []string{"d", "b", "a"}) {
		t.Errorf("date asc = %v", got)
	}

	Sort(rs, SortByDate, true)
	if got := ids(rs); !equal(got, []string{"d", "a", "b"}) {
		t.Errorf("date desc = %v", got)
	}
}
