// Package tree models the in-memory file/directory tree that format.Format lays out onto an
// ISO9660 image. Building the tree from a host filesystem, archive, or any other source is the
// caller's responsibility; this package only holds the structure and orders it for the
// placement passes described by the formatter.
package tree

import (
	"io"
	"sort"
	"strings"

	"github.com/discimage/iso9660kit/pkg/iso9660/errs"
)

// Node is a single file or directory in the tree being formatted.
type Node struct {
	Name     string
	IsDir    bool
	Children []*Node
	// Size is the file's length in bytes. Unused for directories.
	Size int64
	// Reader supplies a file's content during the formatter's file-data pass. Unused for directories.
	Reader io.ReaderAt

	parent *Node
}

// Tree is a rooted collection of Nodes representing the contents to place on an image.
type Tree struct {
	Root *Node
}

// New returns an empty tree containing only its synthetic root directory.
func New() *Tree {
	return &Tree{Root: &Node{Name: "", IsDir: true}}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// mkdirAll walks/creates the directory components of parts, returning the final directory Node.
func (t *Tree) mkdirAll(parts []string) (*Node, error) {
	cur := t.Root
	for _, part := range parts {
		var next *Node
		for _, c := range cur.Children {
			if c.IsDir && c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			next = &Node{Name: part, IsDir: true, parent: cur}
			cur.Children = append(cur.Children, next)
		} else if !next.IsDir {
			return nil, errs.New("tree.mkdirAll", errs.KindInvalidCharacter, nil)
		}
		cur = next
	}
	return cur, nil
}

// AddDirectory ensures every component of path exists as a directory, creating any that are
// missing, and returns the leaf directory Node.
func (t *Tree) AddDirectory(path string) (*Node, error) {
	return t.mkdirAll(splitPath(path))
}

// AddFile inserts a file at path (creating parent directories as needed) with the given size
// and content source, returning the new Node.
func (t *Tree) AddFile(path string, size int64, r io.ReaderAt) (*Node, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, errs.New("tree.AddFile", errs.KindInvalidCharacter, nil)
	}
	dir, err := t.mkdirAll(parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}
	name := parts[len(parts)-1]
	for _, c := range dir.Children {
		if c.Name == name {
			return nil, errs.New("tree.AddFile", errs.KindIdentifierTooLong, nil)
		}
	}
	node := &Node{Name: name, IsDir: false, Size: size, Reader: r, parent: dir}
	dir.Children = append(dir.Children, node)
	return node, nil
}

// Path reconstructs a Node's full slash-separated path from the root.
func (n *Node) Path() string {
	if n.parent == nil {
		return ""
	}
	parent := n.parent.Path()
	if parent == "" {
		return n.Name
	}
	return parent + "/" + n.Name
}

// Depth returns the number of steps from the root down to n: 0 for the root itself, 1 for its
// children.
func (n *Node) Depth() int {
	d := 0
	for p := n.parent; p != nil; p = p.parent {
		d++
	}
	return d
}

// Parent returns n's parent directory Node, or nil if n is the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// SortedChildren returns n's children in the same deterministic, name-ordered sequence the
// package's own walks use, for callers that need to iterate a single directory's children (e.g.
// to build its on-disk record list) without walking the whole tree.
func (n *Node) SortedChildren() []*Node {
	return sortedChildren(n)
}

// sortedChildren returns n's children ordered by name, directories and files interleaved, which
// gives deterministic output independent of the order callers inserted entries in.
func sortedChildren(n *Node) []*Node {
	children := append([]*Node(nil), n.Children...)
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children
}

// WalkFilesByDepthAscending visits every file Node in the tree ordered by ascending depth
// (shallowest first), matching the formatter's file-data placement pass.
func (t *Tree) WalkFilesByDepthAscending(fn func(n *Node) error) error {
	var byDepth [][]*Node
	var collect func(n *Node)
	collect = func(n *Node) {
		for _, c := range sortedChildren(n) {
			if c.IsDir {
				collect(c)
				continue
			}
			d := c.Depth()
			for len(byDepth) <= d {
				byDepth = append(byDepth, nil)
			}
			byDepth[d] = append(byDepth[d], c)
		}
	}
	collect(t.Root)
	for _, level := range byDepth {
		for _, n := range level {
			if err := fn(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// WalkDirectoriesPostOrder visits every directory Node, including the root, leaves first, so
// that a child directory's extent is placed and known before its parent's directory data is
// written, matching the formatter's directory-data placement pass.
func (t *Tree) WalkDirectoriesPostOrder(fn func(n *Node) error) error {
	var walk func(n *Node) error
	walk = func(n *Node) error {
		for _, c := range sortedChildren(n) {
			if c.IsDir {
				if err := walk(c); err != nil {
					return err
				}
			}
		}
		return fn(n)
	}
	return walk(t.Root)
}

// Directories returns every directory Node, root-first, in breadth-first order. Useful for
// passes that need parent-before-child ordering (e.g. the path-table pass).
func (t *Tree) Directories() []*Node {
	var out []*Node
	queue := []*Node{t.Root}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		for _, c := range sortedChildren(n) {
			if c.IsDir {
				queue = append(queue, c)
			}
		}
	}
	return out
}

// Find resolves a slash-separated path to its Node, or returns ok=false if no such entry exists.
func (t *Tree) Find(path string) (n *Node, ok bool) {
	parts := splitPath(path)
	cur := t.Root
	for _, part := range parts {
		var next *Node
		for _, c := range cur.Children {
			if c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
