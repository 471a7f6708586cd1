package subscription

import "strings"

// Fragments shared by every deltas subscription. The added and updated
// sets select the same per-type fragments; updated asks the server to
// strip null fields so a record only carries what changed.
const deltaFragments = `
fragment AddedDelta on Added {
  workflow {
    ...WorkflowData
  }
  familyProxies {
    ...FamilyProxyData
  }
  taskProxies {
    ...TaskProxyData
  }
  jobs {
    ...JobData
  }
}

fragment UpdatedDelta on Updated {
  workflow {
    ...WorkflowData
  }
  familyProxies {
    ...FamilyProxyData
  }
  taskProxies {
    ...TaskProxyData
  }
  jobs {
    ...JobData
  }
}

fragment PrunedDelta on Pruned {
  workflow
  familyProxies
  taskProxies
  jobs
}
`

// Selection sets per view. The tree needs the family structure; the
// table needs job timings and the task's mean run time.
var (
	treeSelections = Selections{
		Workflow: `
fragment WorkflowData on Workflow {
  id
  status
  reloaded
}`,
		FamilyProxy: `
fragment FamilyProxyData on FamilyProxy {
  __typename
  id
  name
  state
  ancestors {
    name
  }
  childTasks {
    id
  }
  firstParent {
    id
  }
}`,
		TaskProxy: `
fragment TaskProxyData on TaskProxy {
  id
  name
  state
  isHeld
  isQueued
  isRunahead
  task {
    meanElapsedTime
  }
  firstParent {
    id
  }
}`,
		Job: `
fragment JobData on Job {
  id
  jobRunnerName
  jobId
  platform
  startedTime
  submittedTime
  finishedTime
  state
  submitNum
  messages
}`,
	}

	tableSelections = Selections{
		Workflow: `
fragment WorkflowData on Workflow {
  id
  reloaded
}`,
		FamilyProxy: `
fragment FamilyProxyData on FamilyProxy {
  __typename
  id
  state
}`,
		TaskProxy: `
fragment TaskProxyData on TaskProxy {
  id
  name
  state
  isHeld
  isQueued
  isRunahead
  isRetry
  isWallclock
  isXtriggered
  task {
    meanElapsedTime
  }
  firstParent {
    id
  }
}`,
		Job: `
fragment JobData on Job {
  id
  jobId
  jobRunnerName
  platform
  submittedTime
  startedTime
  finishedTime
  estimatedFinishTime
  state
  submitNum
}`,
	}
)

// The workflows view lists every workflow with its server details and
// counts task states, so it needs little beyond task ids and states.
var workflowsSelections = Selections{
	Workflow: `
fragment WorkflowData on Workflow {
  id
  status
  statusMsg
  cylcVersion
  owner
  host
  port
  reloaded
}`,
	FamilyProxy: `
fragment FamilyProxyData on FamilyProxy {
  __typename
  id
  name
  state
}`,
	TaskProxy: `
fragment TaskProxyData on TaskProxy {
  id
  name
  state
}`,
	Job: `
fragment JobData on Job {
  id
  state
  submitNum
}`,
}

// The info view shows one task in depth: its prerequisites, outputs,
// xtriggers, flows, runtime and job history.
var infoSelections = Selections{
	Workflow:    treeSelections.Workflow,
	FamilyProxy: treeSelections.FamilyProxy,
	TaskProxy: `
fragment TaskProxyData on TaskProxy {
  id
  name
  state
  isHeld
  isQueued
  isRunahead
  isRetry
  isWallclock
  isXtriggered
  flowNums
  task {
    meanElapsedTime
    meta {
      title
      description
      URL
    }
  }
  firstParent {
    id
  }
  prerequisites {
    satisfied
    expression
    conditions {
      taskId
      reqState
      exprAlias
      satisfied
    }
  }
  outputs {
    label
    satisfied
  }
  runtime {
    platform
    completion
    runMode
  }
  xtriggers {
    label
    id
    satisfied
  }
}`,
	Job: treeSelections.Job,
}

// Selections holds the per-type fragment definitions of a view. Each
// entry must define the fragment its name refers to (WorkflowData,
// FamilyProxyData, TaskProxyData, JobData).
type Selections struct {
	Workflow    string
	FamilyProxy string
	TaskProxy   string
	Job         string
}

// Query builds a deltas subscription document named name for the given
// selections.
func Query(name string, sel Selections) string {
	var b strings.Builder
	b.WriteString("subscription ")
	b.WriteString(name)
	b.WriteString(` ($workflows: [ID]) {
  deltas (workflows: $workflows) {
    id
    added {
      ...AddedDelta
    }
    updated (stripNull: true) {
      ...UpdatedDelta
    }
    pruned {
      ...PrunedDelta
    }
  }
}
`)
	b.WriteString(deltaFragments)
	for _, frag := range []string{sel.Workflow, sel.FamilyProxy, sel.TaskProxy, sel.Job} {
		b.WriteString(strings.TrimLeft(frag, "\n"))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// TreeQuery is the subscription used by the tree view.
func TreeQuery() string { return Query("TreeSubscription", treeSelections) }

// TableQuery is the subscription used by the table view.
func TableQuery() string { return Query("TableSubscription", tableSelections) }

// WorkflowsQuery is the subscription used by the workflows view.
func WorkflowsQuery() string { return Query("WorkflowsSubscription", workflowsSelections) }

// InfoQuery is the subscription used by the task info view.
func InfoQuery() string { return Query("InfoSubscription", infoSelections) }

// QueryFor returns the subscription for a view name ("tree", "table",
// "workflows" or "info"). Unknown names get the tree query.
func QueryFor(view string) string {
	switch view {
	case "table":
		return TableQuery()
	case "workflows":
		return WorkflowsQuery()
	case "info":
		return InfoQuery()
	}
	return TreeQuery()
}

// Variables returns the subscription variables for a workflow list. A nil
// list is sent as null, which the server treats as every workflow.
func Variables(workflows []string) map[string]any {
	if len(workflows) == 0 {
		return map[string]any{"workflows": nil}
	}
	return map[string]any{"workflows": workflows}
}
