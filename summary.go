// ABOUTME: End-of-run summary of everything canvas-mark marked.
// ABOUTME: Renders a per-course table plus totals for to-dos and conversations.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"
)

type CourseResult struct {
	Course        Course
	Announcements int
	Discussions   int
	Failed        int
	// Unavailable is set when a topic listing for the course failed.
	Unavailable bool
}

type Summary struct {
	DryRun               bool
	Courses              []CourseResult
	Todos                int
	TodoFailures         int
	Conversations        int
	ConversationFailures int
}

func (s *Summary) Marked() int {
	n := s.Todos + s.Conversations
	for _, c := range s.Courses {
		n += c.Announcements + c.Discussions
	}
	return n
}

func (s *Summary) Failed() int {
	n := s.TodoFailures + s.ConversationFailures
	for _, c := range s.Courses {
		n += c.Failed
		if c.Unavailable {
			n++
		}
	}
	return n
}

// terminalWidth reports the width of stdout, falling back to 120 columns.
func terminalWidth() int {
	const minWidth = 60
	width := 120 // default
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}
	if width < minWidth {
		width = minWidth
	}
	return width
}

func (s *Summary) Render(w io.Writer, width int) {
	// Announcements, Discussions and Failed columns plus separators and padding.
	const fixedColumns = 14 + 12 + 7 + 13
	courseWidth := width - fixedColumns
	if courseWidth < 10 {
		courseWidth = 10
	}

	fmt.Fprintln(w)
	heading := "SUMMARY"
	if s.DryRun {
		heading = "SUMMARY (dry run, nothing was changed)"
	}
	color.New(color.FgCyan, color.Bold).Fprintln(w, heading)

	if len(s.Courses) > 0 {
		table := tablewriter.NewWriter(w)
		table.Configure(func(cfg *tablewriter.Config) {
			cfg.Row.Formatting.AutoWrap = tw.WrapTruncate
			cfg.Row.Alignment.PerColumn = []tw.Align{
				tw.AlignLeft,  // Course
				tw.AlignRight, // Announcements
				tw.AlignRight, // Discussions
				tw.AlignRight, // Failed
			}
		})
		table.Header("Course", "Announcements", "Discussions", "Failed")

		var announcements, discussions, failed int
		for _, c := range s.Courses {
			name := c.Course.Name
			if name == "" {
				name = strconv.Itoa(c.Course.ID)
			}
			failedCell := strconv.Itoa(c.Failed)
			if c.Unavailable {
				failedCell += "*"
			}
			table.Append(
				truncateString(name, courseWidth),
				strconv.Itoa(c.Announcements),
				strconv.Itoa(c.Discussions),
				failedCell,
			)
			announcements += c.Announcements
			discussions += c.Discussions
			failed += c.Failed
		}
		table.Footer("Total", strconv.Itoa(announcements), strconv.Itoa(discussions), strconv.Itoa(failed))
		table.Render()

		for _, c := range s.Courses {
			if c.Unavailable {
				color.New(color.Faint).Fprintln(w, "* some content in this course could not be listed")
				break
			}
		}
	}

	fmt.Fprintf(w, "%d to-do(s) | %d conversation(s)\n", s.Todos, s.Conversations)

	verb := "marked"
	if s.DryRun {
		verb = "would be marked"
	}
	if failed := s.Failed(); failed > 0 {
		color.New(color.FgGreen).Fprintf(w, "%d item(s) %s", s.Marked(), verb)
		fmt.Fprint(w, " | ")
		color.New(color.FgRed).Fprintf(w, "%d failure(s)\n", failed)
		return
	}
	color.New(color.FgGreen).Fprintf(w, "%d item(s) %s\n", s.Marked(), verb)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
