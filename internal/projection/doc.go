// Package projection derives read-only views from the entity store.
//
// A Projector builds, per workflow, a tree of workflow → cycle → family →
// task → job from the store's edges. Trees are built lazily on read and
// memoized until the workflow's version moves; a change in one workflow
// leaves the trees of the others cached.
//
// TaskFilter narrows a tree or table by id substring and state set. A node
// stays visible when it passes the filter itself or any descendant does.
// Filter verdicts are cached per (node, filter, workflow version) so a
// cached verdict never outlives the state it was computed from.
//
// Table flattens tasks into rows of {task, latest job, previous job} with
// multi-column sorting. RenderTree and RenderTable produce the plain-text
// forms used by the command line.
package projection
