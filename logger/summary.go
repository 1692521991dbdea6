package logger

import (
	"sort"
	"sync"
)

type componentCounts struct {
	warns  int64
	errors int64
}

var (
	countsMu sync.Mutex
	counts   = map[string]*componentCounts{}
)

func countsFor(component string) *componentCounts {
	c, ok := counts[component]
	if !ok {
		c = &componentCounts{}
		counts[component] = c
	}
	return c
}

func recordWarn(component string) {
	countsMu.Lock()
	countsFor(component).warns++
	countsMu.Unlock()
}

func recordError(component string) {
	countsMu.Lock()
	countsFor(component).errors++
	countsMu.Unlock()
}

// ComponentCounts returns the warn and error counts recorded for component.
func ComponentCounts(component string) (warns, errors int64) {
	countsMu.Lock()
	defer countsMu.Unlock()
	if c, ok := counts[component]; ok {
		return c.warns, c.errors
	}
	return 0, 0
}

// ResetCounts clears all recorded warn and error counts.
func ResetCounts() {
	countsMu.Lock()
	counts = map[string]*componentCounts{}
	countsMu.Unlock()
}

// ReportSummary emits the warn/error counts of every component that logged
// at least one warning or error during the run, tagged with task.
func ReportSummary(l *Log, task string) {
	countsMu.Lock()
	names := make([]string, 0, len(counts))
	snapshot := make(map[string]componentCounts, len(counts))
	for name, c := range counts {
		names = append(names, name)
		snapshot[name] = *c
	}
	countsMu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		c := snapshot[name]
		fields := Fields{"task": task}
		l.LogMetric(name, "warnings", c.warns, "counter", fields)
		l.LogMetric(name, "errors", c.errors, "counter", Fields{"task": task})
	}
	l.WithComponent("summary").WithFields(Fields{"task": task, "components": len(names)}).Info("run summary reported")
}
