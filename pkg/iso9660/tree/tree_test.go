package tree

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTree_ParentAndSortedChildren(t *testing.T) {
	tr := New()
	_, err := tr.AddFile("B.TXT", 1, bytes.NewReader([]byte("b")))
	require.NoError(t, err)
	_, err = tr.AddFile("A.TXT", 1, bytes.NewReader([]byte("a")))
	require.NoError(t, err)
	dir, err := tr.AddDirectory("SUB")
	require.NoError(t, err)
	_, err = tr.AddFile("SUB/C.TXT", 1, bytes.NewReader([]byte("c")))
	require.NoError(t, err)

	require.Nil(t, tr.Root.Parent())
	require.Same(t, tr.Root, dir.Parent())

	names := make([]string, 0)
	for _, c := range tr.Root.SortedChildren() {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"A.TXT", "B.TXT", "SUB"}, names)

	sub, ok := tr.Find("SUB")
	require.True(t, ok)
	require.Same(t, dir, sub)

	file, ok := tr.Find("SUB/C.TXT")
	require.True(t, ok)
	require.Same(t, dir, file.Parent())
}

func TestTree_WalkFilesByDepthAscending(t *testing.T) {
	tr := New()
	_, err := tr.AddFile("SUB/DEEP.TXT", 1, bytes.NewReader([]byte("d")))
	require.NoError(t, err)
	_, err = tr.AddFile("SHALLOW.TXT", 1, bytes.NewReader([]byte("s")))
	require.NoError(t, err)

	var order []string
	require.NoError(t, tr.WalkFilesByDepthAscending(func(n *Node) error {
		order = append(order, n.Name)
		return nil
	}))
	require.Equal(t, []string{"SHALLOW.TXT", "DEEP.TXT"}, order)
}

func TestTree_WalkDirectoriesPostOrder(t *testing.T) {
	tr := New()
	_, err := tr.AddDirectory("A/B")
	require.NoError(t, err)

	var order []string
	require.NoError(t, tr.WalkDirectoriesPostOrder(func(n *Node) error {
		order = append(order, n.Path())
		return nil
	}))
	require.Equal(t, []string{"A/B", "A", ""}, order)
}

func TestTree_Directories_RootFirstBreadthFirst(t *testing.T) {
	tr := New()
	_, err := tr.AddDirectory("A/B")
	require.NoError(t, err)
	_, err = tr.AddDirectory("C")
	require.NoError(t, err)

	dirs := tr.Directories()
	var paths []string
	for _, d := range dirs {
		paths = append(paths, d.Path())
	}
	require.Equal(t, []string{"", "A", "C", "A/B"}, paths)
}
