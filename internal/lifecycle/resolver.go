// Package lifecycle owns the persistence lifecycle of the roboprep store:
// schema version resolution, idempotent upgrade steps and pre-upgrade backups.
package lifecycle

import (
	"errors"
	"fmt"
)

// TargetVersion is the schema version this build of roboprep requires.
const TargetVersion = "2.2.0"

// ErrNoUpgradePath reports that the stored version cannot reach the target
// through the declared transitions. Fatal: the server must not touch the
// store in this state.
var ErrNoUpgradePath = errors.New("no upgrade path")

// Step is one declared schema transition.
type Step struct {
	From string
	To   string
}

// upgradeEdges is the hand-authored transition list. Each version has at most
// one outgoing edge; the engine only knows how to move along declared edges,
// never how to jump versions.
var upgradeEdges = map[string]string{
	"1.0.0": "2.0.0",
	"2.0.0": "2.1.0",
	"2.1.0": "2.2.0",
}

// Resolve computes the ordered steps from current to target. Returns an empty
// list when the store is already current, and ErrNoUpgradePath when a version
// has no outgoing edge or the walk revisits a version (misconfigured edges).
func Resolve(current, target string) ([]Step, error) {
	return resolveEdges(upgradeEdges, current, target)
}

func resolveEdges(edges map[string]string, current, target string) ([]Step, error) {
	if current == target {
		return nil, nil
	}

	visited := map[string]bool{current: true}
	node := current
	var steps []Step

	for {
		next, ok := edges[node]
		if !ok {
			return nil, fmt.Errorf("%w from %s to %s: no transition out of %s",
				ErrNoUpgradePath, current, target, node)
		}
		steps = append(steps, Step{From: node, To: next})
		if next == target {
			return steps, nil
		}
		if visited[next] {
			return nil, fmt.Errorf("%w from %s to %s: transition cycle at %s",
				ErrNoUpgradePath, current, target, next)
		}
		visited[next] = true
		node = next
	}
}
