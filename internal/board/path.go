package board

import (
	"fmt"
	"strconv"
	"strings"
)

// Comment paths are dot-separated, zero-padded sibling indexes: "001", "001.002".

// GeneratePath returns the path of the next child under parent given how many
// siblings already exist there. An empty parent means a top-level comment.
func GeneratePath(parent string, siblingCount int) string {
	segment := fmt.Sprintf("%03d", siblingCount+1)
	if parent == "" {
		return segment
	}
	return parent + "." + segment
}

// DepthFromPath returns segment count - 1; 0 for top-level comments and for an empty path.
func DepthFromPath(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, ".")
}

// ParentPath strips the last segment. Top-level paths have no parent.
func ParentPath(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// IsInSubtree reports whether path is root itself or one of its descendants.
func IsInSubtree(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	return path == root || strings.HasPrefix(path, root+".")
}

// IsDirectChild reports whether path sits exactly one level below parent.
func IsDirectChild(parent, path string) bool {
	return ParentPath(path) == parent && path != ""
}

// SiblingCount returns the count to hand to GeneratePath given the paths of the
// existing children of one parent. Hard-deleted siblings leave gaps, so the
// highest segment wins over the plain count.
func SiblingCount(children []string) int {
	n := len(children)
	for _, c := range children {
		seg := c[strings.LastIndexByte(c, '.')+1:]
		if v, err := strconv.Atoi(seg); err == nil && v > n {
			n = v
		}
	}
	return n
}

// ComparePaths orders paths segment by segment, numerically, so "999" sorts
// before "1000" once a level outgrows its padding. Parents sort before their
// children. It returns -1, 0 or 1.
func ComparePaths(a, b string) int {
	if a == b {
		return 0
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		x, errX := strconv.Atoi(as[i])
		y, errY := strconv.Atoi(bs[i])
		if errX != nil || errY != nil {
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
			continue
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return strings.Compare(a, b)
}
