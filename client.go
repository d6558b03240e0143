// ABOUTME: HTTP client for the Canvas LMS API.
// ABOUTME: Handles authentication, pagination, and the read/complete calls for topics, planner items, and conversations.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const perPage = "100"

type CanvasClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Course struct {
	ID                     int    `json:"id"`
	Name                   string `json:"name"`
	AccessRestrictedByDate bool   `json:"access_restricted_by_date"`
}

// DiscussionTopic is either an announcement or a regular discussion; Canvas
// serves both from the discussion_topics endpoint.
type DiscussionTopic struct {
	ID           int    `json:"id"`
	Title        string `json:"title"`
	ReadState    string `json:"read_state"`
	UnreadCount  int    `json:"unread_count"`
	Announcement bool   `json:"-"`
	CourseID     int    `json:"-"`
}

func (t DiscussionTopic) Unread() bool {
	return t.ReadState != "read" || t.UnreadCount > 0
}

type PlannerItem struct {
	CourseID        int              `json:"course_id"`
	PlannableID     int              `json:"plannable_id"`
	PlannableType   string           `json:"plannable_type"`
	PlannableDate   *time.Time       `json:"plannable_date"`
	Plannable       Plannable        `json:"plannable"`
	PlannerOverride *PlannerOverride `json:"planner_override"`
}

type Plannable struct {
	Title string `json:"title"`
}

type PlannerOverride struct {
	ID             int  `json:"id"`
	MarkedComplete bool `json:"marked_complete"`
}

func (p PlannerItem) Complete() bool {
	return p.PlannerOverride != nil && p.PlannerOverride.MarkedComplete
}

type unreadCountResponse struct {
	UnreadCount json.Number `json:"unread_count"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Canvas API error: %d - %s", e.StatusCode, e.Body)
}

func NewCanvasClient(baseURL, accessToken string, logger *slog.Logger) *CanvasClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &CanvasClient{
		baseURL:     normalizeBaseURL(baseURL),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

func normalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return raw
}

func (c *CanvasClient) Self(ctx context.Context) (*User, error) {
	var user User
	if err := c.getJSON(ctx, "/api/v1/users/self", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *CanvasClient) Courses(ctx context.Context) ([]Course, error) {
	params := url.Values{
		"enrollment_state": []string{"active"},
		"per_page":         []string{perPage},
	}
	return getPaginated[Course](ctx, c, "/api/v1/courses", params)
}

func (c *CanvasClient) Announcements(ctx context.Context, courseID int) ([]DiscussionTopic, error) {
	params := url.Values{
		"only_announcements": []string{"true"},
		"per_page":           []string{perPage},
	}
	topics, err := getPaginated[DiscussionTopic](ctx, c, fmt.Sprintf("/api/v1/courses/%d/discussion_topics", courseID), params)
	for i := range topics {
		topics[i].Announcement = true
		topics[i].CourseID = courseID
	}
	return topics, err
}

func (c *CanvasClient) Discussions(ctx context.Context, courseID int) ([]DiscussionTopic, error) {
	params := url.Values{"per_page": []string{perPage}}
	topics, err := getPaginated[DiscussionTopic](ctx, c, fmt.Sprintf("/api/v1/courses/%d/discussion_topics", courseID), params)
	for i := range topics {
		topics[i].CourseID = courseID
	}
	return topics, err
}

// MarkTopicRead marks the topic and every entry in it as read.
func (c *CanvasClient) MarkTopicRead(ctx context.Context, courseID, topicID int) error {
	path := fmt.Sprintf("/api/v1/courses/%d/discussion_topics/%d/read_all", courseID, topicID)
	return c.send(ctx, http.MethodPut, path, nil)
}

func (c *CanvasClient) PlannerItems(ctx context.Context, start, end time.Time) ([]PlannerItem, error) {
	params := url.Values{
		"start_date": []string{start.UTC().Format(time.RFC3339)},
		"end_date":   []string{end.UTC().Format(time.RFC3339)},
		"per_page":   []string{perPage},
	}
	return getPaginated[PlannerItem](ctx, c, "/api/v1/planner/items", params)
}

// CompletePlannerItem creates an override for items that have none and
// updates the existing override otherwise.
func (c *CanvasClient) CompletePlannerItem(ctx context.Context, item PlannerItem) error {
	if item.PlannerOverride == nil {
		form := url.Values{
			"plannable_type":  []string{item.PlannableType},
			"plannable_id":    []string{strconv.Itoa(item.PlannableID)},
			"marked_complete": []string{"true"},
		}
		return c.send(ctx, http.MethodPost, "/api/v1/planner/overrides", form)
	}

	form := url.Values{"marked_complete": []string{"true"}}
	return c.send(ctx, http.MethodPut, fmt.Sprintf("/api/v1/planner/overrides/%d", item.PlannerOverride.ID), form)
}

func (c *CanvasClient) UnreadConversationCount(ctx context.Context) (int, error) {
	var result unreadCountResponse
	if err := c.getJSON(ctx, "/api/v1/conversations/unread_count", nil, &result); err != nil {
		return 0, err
	}
	// Canvas has returned this both as a string and as a number.
	n, err := strconv.Atoi(result.UnreadCount.String())
	if err != nil {
		return 0, fmt.Errorf("parsing unread count %q: %w", result.UnreadCount, err)
	}
	return n, nil
}

func (c *CanvasClient) MarkAllConversationsRead(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/v1/conversations/mark_all_as_read", nil)
}

func (c *CanvasClient) newRequest(ctx context.Context, method, fullURL string, form url.Values) (*http.Request, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req, nil
}

// do executes req and returns the response only for 2xx statuses.
func (c *CanvasClient) do(req *http.Request) (*http.Response, error) {
	c.logger.Debug("canvas request", "method", req.Method, "url", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("canvas response", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *CanvasClient) send(ctx context.Context, method, path string, form url.Values) error {
	req, err := c.newRequest(ctx, method, c.baseURL+path, form)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *CanvasClient) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	fullURL := c.baseURL + path
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	req, err := c.newRequest(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func getPaginated[T any](ctx context.Context, c *CanvasClient, path string, params url.Values) ([]T, error) {
	var result []T

	fullURL := c.baseURL + path
	if params != nil {
		fullURL += "?" + params.Encode()
	}

	for fullURL != "" {
		req, err := c.newRequest(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(req)
		if err != nil {
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		var page []T
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}

		result = append(result, page...)

		fullURL = parseNextLink(resp.Header.Get("Link"))
	}

	return result, nil
}

var linkNextRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

func parseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	matches := linkNextRegex.FindStringSubmatch(linkHeader)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}
