package projection

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

// fixtureStore holds one workflow with two cycles:
//
//	w1
//	  1: FAM/foo (two jobs), bar (held, no jobs)
//	  2: baz (one job)
func fixtureStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New()
	res := s.Apply(model.Delta{Added: &model.DeltaSet{
		Workflow: model.Fields{"id": "w1", "status": "running"},
		FamilyProxies: []model.Fields{
			{"id": "w1//1/root", "name": "root", "state": "running"},
			{"id": "w1//1/FAM", "name": "FAM", "state": "running", "firstParent": map[string]any{"id": "w1//1/root"}},
			{"id": "w1//2/root", "name": "root", "state": "waiting"},
		},
		TaskProxies: []model.Fields{
			{"id": "w1//1/foo", "name": "foo", "state": "running", "firstParent": map[string]any{"id": "w1//1/FAM"}},
			{
				"id": "w1//1/bar", "name": "bar", "state": "waiting", "isHeld": true,
				"firstParent": map[string]any{"id": "w1//1/root"},
				"task":        map[string]any{"meanElapsedTime": 30},
			},
			{"id": "w1//2/baz", "name": "baz", "state": "waiting", "firstParent": map[string]any{"id": "w1//2/root"}},
		},
		Jobs: []model.Fields{
			{"id": "w1//1/foo/01", "submitNum": 1, "state": "failed"},
			{
				"id": "w1//1/foo/02", "submitNum": 2, "state": "running",
				"platform": "localhost", "jobRunnerName": "background", "jobId": "1234",
				"submittedTime":       "2024-01-01T00:00:00Z",
				"startedTime":         "2024-01-01T00:01:00Z",
				"estimatedFinishTime": "2024-01-01T00:11:00Z",
			},
			{
				"id": "w1//2/baz/01", "submitNum": 1, "state": "submitted",
				"platform": "hpc", "jobRunnerName": "slurm", "jobId": "99",
				"submittedTime": "2024-01-01T00:05:00Z",
			},
		},
	}})
	require.Empty(t, res.Issues)
	return s
}

func ids(nodes []*TreeNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func rowIDs(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Task.ID)
	}
	return out
}
