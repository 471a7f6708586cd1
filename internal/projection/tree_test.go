package projection

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deltaview/internal/model"
	"github.com/roach88/deltaview/internal/store"
)

func TestTree_Hierarchy(t *testing.T) {
	p := New(fixtureStore(t))

	root, ok := p.Tree("w1")
	require.True(t, ok)
	assert.Equal(t, model.TypeWorkflow, root.Type)
	assert.Equal(t, []string{"w1//1/root", "w1//2/root"}, ids(root.Children))

	cycle := root.Children[0]
	assert.Equal(t, "1", cycle.Label())
	assert.Equal(t, []string{"w1//1/FAM", "w1//1/bar"}, ids(cycle.Children))

	foo, ok := root.Find("w1//1/foo")
	require.True(t, ok)
	assert.Equal(t, []string{"w1//1/foo/02", "w1//1/foo/01"}, ids(foo.Children))
	assert.Equal(t, "#02", foo.Children[0].Label())
}

func TestTree_UnknownWorkflow(t *testing.T) {
	p := New(store.New())
	_, ok := p.Tree("nope")
	assert.False(t, ok)
}

func TestTree_Flat(t *testing.T) {
	p := New(fixtureStore(t), WithFlat())

	root, ok := p.Tree("w1")
	require.True(t, ok)
	assert.Equal(t, []string{"w1//1/bar", "w1//1/foo"}, ids(root.Children[0].Children))

	foo, _ := root.Find("w1//1/foo")
	assert.Len(t, foo.Children, 2)
	_, hasFamily := root.Find("w1//1/FAM")
	assert.False(t, hasFamily)
}

func TestTree_MemoizedPerWorkflowVersion(t *testing.T) {
	s := fixtureStore(t)
	p := New(s)

	first, _ := p.Tree("w1")
	again, _ := p.Tree("w1")
	assert.Same(t, first, again)
	assert.Equal(t, 1, p.builds)

	// A change in another workflow keeps w1 cached.
	s.ApplyAdded(model.TypeWorkflow, []model.Fields{{"id": "w2", "status": "running"}})
	again, _ = p.Tree("w1")
	assert.Same(t, first, again)

	s.ApplyUpdated(model.TypeTaskProxy, []model.Fields{{"id": "w1//1/bar", "state": "running"}})
	rebuilt, _ := p.Tree("w1")
	assert.NotSame(t, first, rebuilt)
	bar, _ := rebuilt.Find("w1//1/bar")
	assert.Equal(t, "running", bar.State)
}

func TestTree_Forget(t *testing.T) {
	p := New(fixtureStore(t))
	first, _ := p.Tree("w1")
	p.Forget("w1")
	again, _ := p.Tree("w1")
	assert.NotSame(t, first, again)
}

func TestRenderTree_Golden(t *testing.T) {
	p := New(fixtureStore(t))
	root, ok := p.Tree("w1")
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, RenderTree(&buf, root))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "tree", buf.Bytes())
}

func TestRenderTree_Filtered(t *testing.T) {
	p := New(fixtureStore(t))
	root, ok := p.Filtered("w1", TaskFilter{States: []string{"running"}})
	require.True(t, ok)

	var buf bytes.Buffer
	require.NoError(t, RenderTree(&buf, root))
	assert.Equal(t, "w1 running\n  1 running\n    FAM running\n      foo running\n        #02 running\n        #01 failed\n", buf.String())
}
