package usecase

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/Global-Water-Security-Center/data-exploration/internal/domain"
)

var datePrefixed = regexp.MustCompile(`^(.*QL)\d{8}(-.*)$`)

// Rename is one planned file move.
type Rename struct {
	From string
	To   string
}

// Same reports whether the rename would leave the file where it is.
func (r Rename) Same() bool {
	return r.From == r.To
}

// ConflictError lists renames whose target already exists.
type ConflictError struct {
	Conflicts []Rename
}

func (e *ConflictError) Error() string {
	lines := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		lines = append(lines, fmt.Sprintf(" %s -> %s", c.From, c.To))
	}
	return "the following files if renamed will conflict with an existing file:\n" + strings.Join(lines, "\n")
}

// PlanRenames finds files in the directories matching the globs whose path
// matches (.*QL)<8 digits>(-.*) and plans replacing the digits with newDate.
func PlanRenames(globs []string, newDate string) ([]Rename, error) {
	if len(newDate) != 8 || strings.Trim(newDate, "0123456789") != "" {
		return nil, domain.Configf("new date must be exactly 8 digits, got %q", newDate)
	}

	var dirs []string
	for _, g := range globs {
		m, err := filepath.Glob(g)
		if err != nil {
			return nil, domain.Configf("invalid pattern %q: %v", g, err)
		}
		dirs = append(dirs, m...)
	}

	var plan, conflicts []Rename
	targets := map[string]string{}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
		}
		for _, e := range entries {
			from := filepath.Join(dir, e.Name())
			if !datePrefixed.MatchString(from) {
				continue
			}
			to := datePrefixed.ReplaceAllString(from, "${1}"+newDate+"${2}")
			r := Rename{From: from, To: to}
			if prev, dup := targets[to]; dup && prev != from {
				conflicts = append(conflicts, r)
				continue
			}
			targets[to] = from
			if !r.Same() {
				if _, err := os.Stat(to); err == nil {
					conflicts = append(conflicts, r)
					continue
				} else if !errors.Is(err, fs.ErrNotExist) {
					return nil, err
				}
			}
			plan = append(plan, r)
		}
	}
	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].From < plan[j].From })
	return plan, nil
}

// ApplyRenames performs the planned renames, skipping no-ops.
func ApplyRenames(plan []Rename) error {
	for _, r := range plan {
		if r.Same() {
			glog.V(1).Infof("skipping %s, same file", r.From)
			continue
		}
		if err := os.Rename(r.From, r.To); err != nil {
			return fmt.Errorf("failed to rename %s: %w", r.From, err)
		}
		glog.Infof("renamed %s -> %s", r.From, r.To)
	}
	return nil
}
