package dispatch

import (
	"fmt"
	"path/filepath"
	"time"
)

// buildOutputPath implements spec.md §4.7's output-path layout rule: append
// YYYY/MM/DD when daily is set, then a further HHMMSS_<clock-sub> uniqueness
// suffix when unique is set.
func buildOutputPath(root string, daily, unique bool, now time.Time, sub int) string {
	path := root
	if daily {
		path = filepath.Join(path, now.Format("2006"), now.Format("01"), now.Format("02"))
	}
	if unique {
		path = filepath.Join(path, fmt.Sprintf("%s_%d", now.Format("150405"), sub))
	}
	return path
}
