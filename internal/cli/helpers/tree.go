package helpers

import (
	"fmt"
	"strings"
	"time"
)

// TreeNode is a weighted node for RenderTree.
type TreeNode struct {
	Name     string
	Self     uint64
	Total    uint64
	Children []*TreeNode
}

// RenderTree renders roots as an ASCII tree. Percentages are relative to
// total; a zero total omits them.
func RenderTree(roots []*TreeNode, total uint64, unit string) string {
	if len(roots) == 0 {
		return "No tree data available.\n"
	}

	var buf strings.Builder
	for i, root := range roots {
		renderTreeNode(&buf, root, "", i == len(roots)-1, total, unit)
	}
	return buf.String()
}

func renderTreeNode(buf *strings.Builder, node *TreeNode, prefix string, isLast bool, total uint64, unit string) {
	connector := "├─"
	childPrefix := prefix + "│ "
	if isLast {
		connector = "└─"
		childPrefix = prefix + "  "
	}

	fmt.Fprintf(buf, "%s%s %s (%d %s, self %d", prefix, connector, node.Name, node.Total, unit, node.Self)
	if total > 0 {
		fmt.Fprintf(buf, ", %.1f%%", float64(node.Total)/float64(total)*100)
	}
	buf.WriteString(")\n")

	for i, child := range node.Children {
		renderTreeNode(buf, child, childPrefix, i == len(node.Children)-1, total, unit)
	}
}

// FormatDuration formats a duration in a human-readable way.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.1fµs", float64(d.Nanoseconds())/1000)
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}
