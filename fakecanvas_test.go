package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/fatih/color"
)

const testToken = "test-token"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type topicMark struct {
	CourseID int
	TopicID  int
}

// fakeCanvas is an in-memory Canvas API that records every write call.
type fakeCanvas struct {
	courses       []Course
	announcements map[int][]DiscussionTopic
	discussions   map[int][]DiscussionTopic
	planner       []PlannerItem
	unread        int

	pageSize     int
	failCourses  bool
	forbidden    map[int]bool
	failTopics   map[int]bool
	unreadAsText bool

	mu                    sync.Mutex
	topicMarks            []topicMark
	overrideCreates       []url.Values
	overrideUpdates       []int
	conversationsMarked   int
	announcementListCalls int
	discussionListCalls   int
	requests              int

	server *httptest.Server
}

func newFakeCanvas(t *testing.T) *fakeCanvas {
	t.Helper()

	f := &fakeCanvas{
		announcements: map[int][]DiscussionTopic{},
		discussions:   map[int][]DiscussionTopic{},
		forbidden:     map[int]bool{},
		failTopics:    map[int]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/users/self", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, User{ID: 42, Name: "Test Student"})
	})
	mux.HandleFunc("GET /api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		if f.failCourses {
			http.Error(w, `{"errors":[{"message":"boom"}]}`, http.StatusInternalServerError)
			return
		}
		writeList(w, r, f.pageSize, f.courses)
	})
	mux.HandleFunc("GET /api/v1/courses/{course}/discussion_topics", func(w http.ResponseWriter, r *http.Request) {
		courseID, _ := strconv.Atoi(r.PathValue("course"))
		if f.forbidden[courseID] {
			http.Error(w, `{"status":"unauthorized"}`, http.StatusForbidden)
			return
		}

		f.mu.Lock()
		only := r.URL.Query().Get("only_announcements") == "true"
		if only {
			f.announcementListCalls++
		} else {
			f.discussionListCalls++
		}
		f.mu.Unlock()

		if only {
			writeList(w, r, f.pageSize, f.announcements[courseID])
			return
		}
		writeList(w, r, f.pageSize, f.discussions[courseID])
	})
	mux.HandleFunc("PUT /api/v1/courses/{course}/discussion_topics/{topic}/read_all", func(w http.ResponseWriter, r *http.Request) {
		courseID, _ := strconv.Atoi(r.PathValue("course"))
		topicID, _ := strconv.Atoi(r.PathValue("topic"))
		if f.failTopics[topicID] {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		f.mu.Lock()
		f.topicMarks = append(f.topicMarks, topicMark{CourseID: courseID, TopicID: topicID})
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/v1/planner/items", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("start_date") == "" || r.URL.Query().Get("end_date") == "" {
			http.Error(w, "missing dates", http.StatusBadRequest)
			return
		}
		writeList(w, r, f.pageSize, f.planner)
	})
	mux.HandleFunc("POST /api/v1/planner/overrides", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.overrideCreates = append(f.overrideCreates, r.PostForm)
		f.mu.Unlock()
		writeJSON(w, PlannerOverride{ID: 900, MarkedComplete: true})
	})
	mux.HandleFunc("PUT /api/v1/planner/overrides/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.Atoi(r.PathValue("id"))
		if err := r.ParseForm(); err != nil || r.PostForm.Get("marked_complete") != "true" {
			http.Error(w, "marked_complete missing", http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.overrideUpdates = append(f.overrideUpdates, id)
		f.mu.Unlock()
		writeJSON(w, PlannerOverride{ID: id, MarkedComplete: true})
	})
	mux.HandleFunc("GET /api/v1/conversations/unread_count", func(w http.ResponseWriter, r *http.Request) {
		if f.unreadAsText {
			fmt.Fprintf(w, `{"unread_count":"%d"}`, f.unread)
			return
		}
		fmt.Fprintf(w, `{"unread_count":%d}`, f.unread)
	})
	mux.HandleFunc("POST /api/v1/conversations/mark_all_as_read", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.conversationsMarked++
		f.mu.Unlock()
		io.WriteString(w, "{}")
	})

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		f.mu.Unlock()

		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"errors":[{"message":"Invalid access token."}]}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeCanvas) URL() string {
	return f.server.URL
}

func (f *fakeCanvas) client(token string) *CanvasClient {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCanvasClient(f.server.URL, token, logger)
}

// writes counts every call that would change state in Canvas.
func (f *fakeCanvas) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.topicMarks) + len(f.overrideCreates) + len(f.overrideUpdates) + f.conversationsMarked
}

type fakeStats struct {
	TopicMarks            []topicMark
	OverrideCreates       []url.Values
	OverrideUpdates       []int
	ConversationsMarked   int
	AnnouncementListCalls int
	DiscussionListCalls   int
	Requests              int
}

func (f *fakeCanvas) stats() fakeStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fakeStats{
		TopicMarks:            append([]topicMark(nil), f.topicMarks...),
		OverrideCreates:       append([]url.Values(nil), f.overrideCreates...),
		OverrideUpdates:       append([]int(nil), f.overrideUpdates...),
		ConversationsMarked:   f.conversationsMarked,
		AnnouncementListCalls: f.announcementListCalls,
		DiscussionListCalls:   f.discussionListCalls,
		Requests:              f.requests,
	}
}

func (f *fakeCanvas) markedTopicIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int, 0, len(f.topicMarks))
	for _, m := range f.topicMarks {
		ids = append(ids, m.TopicID)
	}
	return ids
}

// addCourses creates n courses with m unread announcements each. Topic ids are
// unique across courses.
func (f *fakeCanvas) addCourses(n, m int) {
	for i := 1; i <= n; i++ {
		courseID := 100 + i
		f.courses = append(f.courses, Course{ID: courseID, Name: fmt.Sprintf("Course %d", i)})
		for j := 1; j <= m; j++ {
			f.announcements[courseID] = append(f.announcements[courseID], DiscussionTopic{
				ID:        courseID*1000 + j,
				Title:     fmt.Sprintf("Announcement %d", j),
				ReadState: "unread",
			})
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeList serves items one page at a time when pageSize is set, linking to
// the next page the way Canvas does.
func writeList[T any](w http.ResponseWriter, r *http.Request, pageSize int, items []T) {
	if items == nil {
		items = []T{}
	}
	if pageSize <= 0 {
		writeJSON(w, items)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	start := (page - 1) * pageSize
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	pageURL := func(n int) string {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(n))
		return fmt.Sprintf("http://%s%s?%s", r.Host, r.URL.Path, q.Encode())
	}

	links := fmt.Sprintf(`<%s>; rel="current",<%s>; rel="first"`, pageURL(page), pageURL(1))
	if end < len(items) {
		links += fmt.Sprintf(`,<%s>; rel="next"`, pageURL(page+1))
	}
	w.Header().Set("Link", links)

	writeJSON(w, items[start:end])
}
