// ABOUTME: Walks the user's Canvas courses and marks content as read.
// ABOUTME: Covers announcements, discussions, planner to-dos, and inbox conversations, gated by category flags.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

// errAccess marks failures of the initial token check.
var errAccess = errors.New("unable to access Canvas, verify both the domain and token are correct")

// plannerEpoch is the start of the planner window; everything before now counts as old.
var plannerEpoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

type Categories struct {
	Announcements bool
	Discussions   bool
	Todos         bool
	Unread        bool
}

func allCategories() Categories {
	return Categories{Announcements: true, Discussions: true, Todos: true, Unread: true}
}

func (c Categories) Any() bool {
	return c.Announcements || c.Discussions || c.Todos || c.Unread
}

func (c Categories) courseContent() bool {
	return c.Announcements || c.Discussions
}

type Options struct {
	Categories Categories
	// CourseIDs restricts course processing when non-empty.
	CourseIDs []int
	DryRun    bool
	// Delay is the pause after each write call.
	Delay    time.Duration
	Progress bool
}

type Marker struct {
	client *CanvasClient
	opts   Options
	out    io.Writer
	errOut io.Writer
	now    func() time.Time
}

func NewMarker(client *CanvasClient, opts Options, out, errOut io.Writer) *Marker {
	return &Marker{
		client: client,
		opts:   opts,
		out:    out,
		errOut: errOut,
		now:    time.Now,
	}
}

// Run validates the token and then processes each selected category in turn.
// Only a failed token check or a failed course listing is fatal; per-item
// failures are reported and counted in the summary.
func (m *Marker) Run(ctx context.Context) (*Summary, error) {
	stop := m.progress("checking access token...")
	user, err := m.client.Self(ctx)
	stop()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errAccess, err)
	}

	name := user.Name
	if name == "" {
		name = fmt.Sprintf("user %d", user.ID)
	}
	fmt.Fprintf(m.out, "Signed in as %s\n", name)

	summary := &Summary{DryRun: m.opts.DryRun}

	if m.opts.Categories.Todos {
		m.markTodos(ctx, summary)
	}

	if m.opts.Categories.courseContent() {
		if err := m.markCourses(ctx, summary); err != nil {
			return summary, err
		}
	}

	if m.opts.Categories.Unread {
		m.markConversations(ctx, summary)
	}

	return summary, ctx.Err()
}

func (m *Marker) markCourses(ctx context.Context, summary *Summary) error {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)

	stop := m.progress("fetching courses...")
	courses, err := m.client.Courses(ctx)
	stop()
	if err != nil {
		return fmt.Errorf("unable to list courses: %w", err)
	}

	courses = m.selectCourses(courses)
	fmt.Fprintf(m.out, "Found %d active course(s)\n", len(courses))

	for _, course := range courses {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if course.AccessRestrictedByDate {
			dim.Fprintf(m.out, "Skipping course %d (access restricted by date)\n", course.ID)
			continue
		}

		fmt.Fprintln(m.out)
		bold.Fprintf(m.out, "Marking %s for %s\n", m.courseCategoryLabel(), courseLabel(course))

		result := CourseResult{Course: course}
		if m.opts.Categories.Announcements {
			m.markCourseTopics(ctx, course, true, &result)
		}
		if m.opts.Categories.Discussions {
			m.markCourseTopics(ctx, course, false, &result)
		}
		summary.Courses = append(summary.Courses, result)
	}

	return nil
}

func (m *Marker) markCourseTopics(ctx context.Context, course Course, announcements bool, result *CourseResult) {
	var (
		topics []DiscussionTopic
		err    error
		kind   = "discussion"
	)
	if announcements {
		kind = "announcement"
		topics, err = m.client.Announcements(ctx, course.ID)
	} else {
		topics, err = m.client.Discussions(ctx, course.ID)
	}
	if err != nil {
		m.warn("cannot list %ss for course %d, are you authorized to view this course? (%v)", kind, course.ID, err)
		result.Unavailable = true
		return
	}

	unread := 0
	for _, topic := range topics {
		if !topic.Unread() {
			continue
		}
		unread++

		if err := m.markTopic(ctx, topic); err != nil {
			m.warn("could not mark %s %q in course %d: %v", kind, topic.Title, course.ID, err)
			result.Failed++
			continue
		}
		if announcements {
			result.Announcements++
		} else {
			result.Discussions++
		}
	}

	if unread == 0 {
		color.New(color.Faint).Fprintf(m.out, "\tNo unread %ss\n", kind)
	}
}

func (m *Marker) markTopic(ctx context.Context, topic DiscussionTopic) error {
	label := "Discussion"
	if topic.Announcement {
		label = "Announcement"
	}

	if m.opts.DryRun {
		fmt.Fprintf(m.out, "\tWould mark %s: %s\n", label, topic.Title)
		return nil
	}

	if err := m.client.MarkTopicRead(ctx, topic.CourseID, topic.ID); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "\t%s %s: %s\n", color.GreenString("✓"), label, topic.Title)
	m.pause(ctx)
	return nil
}

func (m *Marker) markTodos(ctx context.Context, summary *Summary) {
	bold := color.New(color.Bold)
	bold.Fprintln(m.out, "Marking old TODOs...")

	stop := m.progress("fetching planner items...")
	items, err := m.client.PlannerItems(ctx, plannerEpoch, m.now())
	stop()
	if err != nil {
		m.warn("cannot list planner items: %v", err)
		summary.TodoFailures++
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if item.Complete() {
			continue
		}

		label := todoLabel(item)
		if m.opts.DryRun {
			fmt.Fprintf(m.out, "\tWould mark item: %s\n", label)
			summary.Todos++
			continue
		}

		if err := m.client.CompletePlannerItem(ctx, item); err != nil {
			m.warn("could not mark item %s: %v", label, err)
			summary.TodoFailures++
			continue
		}
		fmt.Fprintf(m.out, "\t%s Marked item: %s\n", color.GreenString("✓"), label)
		summary.Todos++
		m.pause(ctx)
	}

	fmt.Fprintln(m.out, "\tDone.")
}

func (m *Marker) markConversations(ctx context.Context, summary *Summary) {
	fmt.Fprintln(m.out)
	color.New(color.Bold).Fprintln(m.out, "Marking unread conversations...")

	count, err := m.client.UnreadConversationCount(ctx)
	if err != nil {
		m.warn("cannot read unread conversation count: %v", err)
		summary.ConversationFailures++
		return
	}

	if count == 0 {
		color.New(color.Faint).Fprintln(m.out, "\tNo unread conversations")
		return
	}

	if m.opts.DryRun {
		fmt.Fprintf(m.out, "\tWould mark %d conversation(s) as read\n", count)
		summary.Conversations = count
		return
	}

	if err := m.client.MarkAllConversationsRead(ctx); err != nil {
		m.warn("could not mark conversations as read: %v", err)
		summary.ConversationFailures++
		return
	}
	fmt.Fprintf(m.out, "\t%s Marked %d conversation(s) as read\n", color.GreenString("✓"), count)
	summary.Conversations = count
}

func (m *Marker) selectCourses(courses []Course) []Course {
	if len(m.opts.CourseIDs) == 0 {
		return courses
	}

	wanted := make(map[int]bool, len(m.opts.CourseIDs))
	for _, id := range m.opts.CourseIDs {
		wanted[id] = true
	}

	var result []Course
	for _, c := range courses {
		if wanted[c.ID] {
			result = append(result, c)
		}
	}
	return result
}

func (m *Marker) courseCategoryLabel() string {
	switch {
	case m.opts.Categories.Announcements && m.opts.Categories.Discussions:
		return "announcements and discussions"
	case m.opts.Categories.Announcements:
		return "announcements"
	default:
		return "discussions"
	}
}

// progress shows a spinner on the error stream until the returned func is called.
func (m *Marker) progress(msg string) func() {
	if !m.opts.Progress {
		return func() {}
	}

	s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(m.errOut))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

func (m *Marker) pause(ctx context.Context) {
	if m.opts.Delay <= 0 {
		return
	}

	t := time.NewTimer(m.opts.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (m *Marker) warn(format string, args ...any) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(m.errOut, "  warning: "+format+"\n", args...)
}

func courseLabel(c Course) string {
	if c.Name == "" {
		return fmt.Sprintf("course %d", c.ID)
	}
	return fmt.Sprintf("course %d (%s)", c.ID, c.Name)
}

func todoLabel(item PlannerItem) string {
	title := item.Plannable.Title
	if title == "" {
		title = fmt.Sprintf("%s %d", item.PlannableType, item.PlannableID)
	}
	if item.PlannableDate == nil {
		return title
	}
	return fmt.Sprintf("%s (%s)", title, item.PlannableDate.Local().Format("2006-01-02"))
}
