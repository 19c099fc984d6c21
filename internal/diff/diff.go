// Package diff compares two runs of a catalog.
package diff

import (
	"fmt"
	"strings"
)

// Op marks a line as kept, added or removed.
type Op byte

const (
	Keep   Op = ' '
	Add    Op = '+'
	Remove Op = '-'
)

// Line is one entry of a line diff.
type Line struct {
	Op   Op
	Text string
}

// Compute returns a unified-style diff between old and new text.
func Compute(old, new string) string {
	return Format(Lines(splitLines(old), splitLines(new)))
}

// Format renders lines with their op prefix.
func Format(lines []Line) string {
	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "%c%s\n", l.Op, l.Text)
	}
	return sb.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// Lines diffs two line sequences using their longest common subsequence.
func Lines(old, new []string) []Line {
	table := lcsTable(old, new)

	var changes []Line
	i, j := len(old), len(new)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && old[i-1] == new[j-1]:
			changes = append(changes, Line{Op: Keep, Text: old[i-1]})
			i--
			j--
		case j > 0 && (i == 0 || table[i][j-1] >= table[i-1][j]):
			changes = append(changes, Line{Op: Add, Text: new[j-1]})
			j--
		default:
			changes = append(changes, Line{Op: Remove, Text: old[i-1]})
			i--
		}
	}

	for left, right := 0, len(changes)-1; left < right; left, right = left+1, right-1 {
		changes[left], changes[right] = changes[right], changes[left]
	}
	return changes
}

// lcsTable builds the LCS length table.
func lcsTable(a, b []string) [][]int {
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				table[i][j] = table[i-1][j-1] + 1
			case table[i-1][j] >= table[i][j-1]:
				table[i][j] = table[i-1][j]
			default:
				table[i][j] = table[i][j-1]
			}
		}
	}
	return table
}
