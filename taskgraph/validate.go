package taskgraph

import "fmt"

// DAG is a static task dependency graph: task name -> names of tasks it
// depends on. MultitrackPipeline declares one at startup so its shape can
// be validated once before any run executes. Fan-out varies the item
// count within a stage at runtime; the stage graph itself is fixed.
type DAG map[string][]string

// Validate checks that every dependency names a declared task and that
// the graph has no cycles.
func (d DAG) Validate() error {
	for task, deps := range d {
		for _, dep := range deps {
			if _, ok := d[dep]; !ok {
				return fmt.Errorf("taskgraph: task %q depends on undeclared task %q", task, dep)
			}
		}
	}
	if cycle := d.findCycle(); cycle != "" {
		return fmt.Errorf("taskgraph: dependency cycle detected: %s", cycle)
	}
	return nil
}

func (d DAG) findCycle() string {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(d))
	var cycle string

	var dfs func(task string) bool
	dfs = func(task string) bool {
		color[task] = gray
		for _, dep := range d[task] {
			switch color[dep] {
			case gray:
				cycle = fmt.Sprintf("%s -> %s", task, dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}
		color[task] = black
		return false
	}

	for task := range d {
		if color[task] == white {
			if dfs(task) {
				return cycle
			}
		}
	}
	return ""
}
