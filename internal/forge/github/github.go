// Package github implements internal/forge.Forge against the GitHub REST API.
//
// Grounded on original_source/src/github.rs: numeric per-repo issue keys,
// page-number pagination over the repo issues endpoint that stops at the
// first short page,
// a single global per-token rate limiter, 404-tolerant label removal, and
// fetching comments in bulk from the repo-level endpoint rather than per
// issue.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
)

const (
	maxRetries        = 3
	perPage           = 100
	writeSpacing      = time.Second
	maxConcurrentReqs = 80
)

// apiBase is a var, not a const, so tests can point the adapter at an
// httptest server instead of the real GitHub API.
var apiBase = "https://api.github.com"

func init() {
	forge.Register(forge.KindGitHub, New)
}

// New constructs a GitHub adapter. Satisfies forge.Constructor.
func New(cfg forge.Config) (forge.Forge, error) {
	if cfg.Token == "" {
		return nil, forgeerr.ErrAuthentication
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &adapter{
		client:  client,
		token:   cfg.Token,
		sem:     make(chan struct{}, maxConcurrentReqs),
		rate:    forge.RateLimit{Remaining: -1},
	}, nil
}

type adapter struct {
	client *http.Client
	token  string

	sem chan struct{}

	mu           sync.Mutex
	rate         forge.RateLimit
	lastWriteAt  time.Time
}

func (a *adapter) Kind() forge.Kind { return forge.KindGitHub }

func (a *adapter) GetRateLimit() forge.RateLimit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate
}

// apiIssue is the wire shape returned by the GitHub REST API.
type apiIssue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	User      apiUser    `json:"user"`
	Labels    []apiLabel `json:"labels"`
	Assignees []apiUser  `json:"assignees"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	HTMLURL   string     `json:"html_url"`
	Milestone *apiGoal   `json:"milestone"`
}

type apiUser struct {
	Login string `json:"login"`
}

type apiLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type apiComment struct {
	ID        int64     `json:"id"`
	IssueURL  string     `json:"issue_url"`
	Body      string     `json:"body"`
	User      apiUser    `json:"user"`
	CreatedAt time.Time  `json:"created_at"`
}

type apiGoal struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	State       string     `json:"state"`
	DueOn       *time.Time `json:"due_on"`
	OpenIssues  int        `json:"open_issues"`
	ClosedIssues int       `json:"closed_issues"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	HTMLURL     string     `json:"html_url"`
}

func toIssue(ai apiIssue) forge.Issue {
	labels := make([]forge.Label, 0, len(ai.Labels))
	for _, l := range ai.Labels {
		color := l.Color
		labels = append(labels, forge.Label{Name: l.Name, Color: &color})
	}
	assignees := make([]string, 0, len(ai.Assignees))
	for _, u := range ai.Assignees {
		assignees = append(assignees, u.Login)
	}
	state := forge.StateOpen
	if ai.State == "closed" {
		state = forge.StateClosed
	}
	return forge.Issue{
		Key:       strconv.Itoa(ai.Number),
		NativeID:  strconv.Itoa(ai.Number),
		Title:     ai.Title,
		Body:      ai.Body,
		State:     state,
		Author:    ai.User.Login,
		Labels:    labels,
		Assignees: assignees,
		CreatedAt: ai.CreatedAt,
		UpdatedAt: ai.UpdatedAt,
		URL:       ai.HTMLURL,
	}
}

func (a *adapter) AuthProbe(ctx context.Context) (forge.Identity, error) {
	var u apiUser
	if err := a.do(ctx, http.MethodGet, "/user", nil, &u); err != nil {
		return forge.Identity{}, err
	}
	return forge.Identity{Handle: u.Login}, nil
}

// ListIssues returns all open issues, plus closed issues updated since
// sinceCursor (an RFC3339 timestamp) or all closed issues on first run.
func (a *adapter) ListIssues(ctx context.Context, repo string, sinceCursor string) iter.Seq2[forge.Issue, error] {
	return func(yield func(forge.Issue, error) bool) {
		for _, state := range []string{"open", "closed"} {
			page := 1
			for {
				q := url.Values{}
				q.Set("state", state)
				q.Set("per_page", strconv.Itoa(perPage))
				q.Set("page", strconv.Itoa(page))
				if state == "closed" && sinceCursor != "" {
					q.Set("since", sinceCursor)
				}
				path := fmt.Sprintf("/repos/%s/issues?%s", repo, q.Encode())

				var batch []apiIssue
				if err := a.doWithRetry(ctx, http.MethodGet, path, nil, &batch); err != nil {
					yield(forge.Issue{}, err)
					return
				}
				if len(batch) == 0 {
					break
				}
				for _, ai := range batch {
					if !yield(toIssue(ai), nil) {
						return
					}
				}
				if len(batch) < perPage {
					break
				}
				page++
			}
		}
	}
}

func (a *adapter) GetIssue(ctx context.Context, repo, key string) (forge.Issue, error) {
	var ai apiIssue
	if err := a.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%s", repo, key), nil, &ai); err != nil {
		return forge.Issue{}, err
	}
	return toIssue(ai), nil
}

func (a *adapter) CreateIssue(ctx context.Context, repo string, req forge.CreateIssueRequest) (forge.Issue, error) {
	a.throttleWrite()
	body := map[string]interface{}{"title": req.Title}
	if req.Body != "" {
		body["body"] = req.Body
	}
	if len(req.Labels) > 0 {
		body["labels"] = req.Labels
	}
	if len(req.Assignees) > 0 {
		body["assignees"] = req.Assignees
	}
	if req.GoalID != "" {
		if n, err := strconv.Atoi(req.GoalID); err == nil {
			body["milestone"] = n
		}
	}
	var ai apiIssue
	if err := a.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues", repo), body, &ai); err != nil {
		return forge.Issue{}, err
	}
	return toIssue(ai), nil
}

func (a *adapter) UpdateIssueState(ctx context.Context, repo, key string, state forge.State) error {
	a.throttleWrite()
	gs := "open"
	if state == forge.StateClosed {
		gs = "closed"
	}
	return a.doWithRetry(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/issues/%s", repo, key), map[string]string{"state": gs}, nil)
}

func (a *adapter) AddLabel(ctx context.Context, repo, key, name string) error {
	a.throttleWrite()
	return a.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%s/labels", repo, key), map[string][]string{"labels": {name}}, nil)
}

// RemoveLabel tolerates a 404: the label may already be gone, which is
// treated as success rather than an error, matching the original adapter.
func (a *adapter) RemoveLabel(ctx context.Context, repo, key, name string) error {
	a.throttleWrite()
	err := a.doWithRetry(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/issues/%s/labels/%s", repo, key, url.PathEscape(name)), nil, nil)
	if errIsStatus(err, http.StatusNotFound) {
		return nil
	}
	return err
}

func (a *adapter) Assign(ctx context.Context, repo, key, handle string) error {
	a.throttleWrite()
	return a.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%s/assignees", repo, key), map[string][]string{"assignees": {handle}}, nil)
}

func (a *adapter) Comment(ctx context.Context, repo, key, body string) (string, error) {
	a.throttleWrite()
	var c apiComment
	if err := a.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%s/comments", repo, key), map[string]string{"body": body}, &c); err != nil {
		return "", err
	}
	return strconv.FormatInt(c.ID, 10), nil
}

// ListAllComments fetches from the repo-level bulk endpoint rather than
// per-issue, and drops comments whose issue_url does not parse to a number.
func (a *adapter) ListAllComments(ctx context.Context, repo string, since time.Time) ([]forge.Comment, error) {
	var out []forge.Comment
	page := 1
	for {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))
		if !since.IsZero() {
			q.Set("since", since.UTC().Format(time.RFC3339))
		}
		var batch []apiComment
		if err := a.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/comments?%s", repo, q.Encode()), nil, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			key := issueNumberFromURL(c.IssueURL)
			if key == "" {
				continue
			}
			out = append(out, forge.Comment{
				ID:        strconv.FormatInt(c.ID, 10),
				IssueKey:  key,
				Body:      c.Body,
				Author:    c.User.Login,
				CreatedAt: c.CreatedAt,
			})
		}
		if len(batch) < perPage {
			break
		}
		page++
	}
	return out, nil
}

func issueNumberFromURL(issueURL string) string {
	idx := strings.LastIndex(issueURL, "/")
	if idx < 0 {
		return ""
	}
	seg := issueURL[idx+1:]
	if _, err := strconv.Atoi(seg); err != nil {
		return ""
	}
	return seg
}

func toGoal(ag apiGoal) forge.Goal {
	state := forge.StateOpen
	if ag.State == "closed" {
		state = forge.StateClosed
	}
	total := ag.OpenIssues + ag.ClosedIssues
	progress := 0.0
	if total > 0 {
		progress = float64(ag.ClosedIssues) / float64(total)
	}
	return forge.Goal{
		ID:          strconv.Itoa(ag.Number),
		Name:        ag.Title,
		Description: ag.Description,
		TargetDate:  ag.DueOn,
		State:       state,
		Progress:    progress,
		OpenCount:   ag.OpenIssues,
		ClosedCount: ag.ClosedIssues,
		CreatedAt:   ag.CreatedAt,
		UpdatedAt:   ag.UpdatedAt,
		URL:         ag.HTMLURL,
	}
}

func (a *adapter) ListGoals(ctx context.Context, repo string, includeClosed bool) ([]forge.Goal, error) {
	state := "open"
	if includeClosed {
		state = "all"
	}
	var batch []apiGoal
	if err := a.doWithRetry(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/milestones?state=%s", repo, state), nil, &batch); err != nil {
		return nil, err
	}
	goals := make([]forge.Goal, 0, len(batch))
	for _, ag := range batch {
		goals = append(goals, toGoal(ag))
	}
	return goals, nil
}

func (a *adapter) CreateGoal(ctx context.Context, repo, name, body string, targetDate *time.Time) (forge.Goal, error) {
	a.throttleWrite()
	req := map[string]interface{}{"title": name}
	if body != "" {
		req["description"] = body
	}
	if targetDate != nil {
		req["due_on"] = targetDate.UTC().Format(time.RFC3339)
	}
	var ag apiGoal
	if err := a.doWithRetry(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/milestones", repo), req, &ag); err != nil {
		return forge.Goal{}, err
	}
	return toGoal(ag), nil
}

func (a *adapter) CloseGoal(ctx context.Context, repo, goalID string) error {
	a.throttleWrite()
	return a.doWithRetry(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/milestones/%s", repo, goalID), map[string]string{"state": "closed"}, nil)
}

func (a *adapter) AssignToGoal(ctx context.Context, repo, issueKey, goalID string) error {
	a.throttleWrite()
	n, err := strconv.Atoi(goalID)
	if err != nil {
		return forgeerr.ErrPayloadRejected
	}
	return a.doWithRetry(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/issues/%s", repo, issueKey), map[string]int{"milestone": n}, nil)
}

// throttleWrite enforces a minimum spacing between write requests, matching
// the original adapter's global write throttle.
func (a *adapter) throttleWrite() {
	a.mu.Lock()
	wait := writeSpacing - time.Since(a.lastWriteAt)
	a.lastWriteAt = time.Now()
	a.mu.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

func (a *adapter) doWithRetry(ctx context.Context, method, path string, body, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		a.sem <- struct{}{}
		err := a.do(ctx, method, path, body, out)
		<-a.sem
		if err == nil {
			return nil
		}
		lastErr = err
		if rle, ok := err.(*forgeerr.RateLimitError); ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(rle.ResetInMS) * time.Millisecond):
			}
			continue
		}
		if !errIsRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(1<<attempt) * time.Second)
	}
	return lastErr
}

func (a *adapter) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		reader = strings.NewReader(string(b))
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", forgeerr.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	a.recordRateLimit(resp.Header)

	data, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return forgeerr.ErrAuthentication
	case resp.StatusCode == http.StatusNotFound:
		return &statusError{code: http.StatusNotFound, wrapped: forgeerr.ErrNotFound}
	case resp.StatusCode == http.StatusForbidden && strings.Contains(strings.ToLower(string(data)), "rate limit"):
		remaining, resetAt := parseRateLimit(resp.Header)
		return &forgeerr.RateLimitError{Remaining: remaining, ResetInMS: time.Until(resetAt).Milliseconds()}
	case resp.StatusCode == http.StatusConflict:
		return &statusError{code: resp.StatusCode, wrapped: forgeerr.ErrConflict}
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return &statusError{code: resp.StatusCode, wrapped: forgeerr.ErrPayloadRejected}
	case resp.StatusCode >= 500:
		return &statusError{code: resp.StatusCode, wrapped: forgeerr.ErrConnectivity}
	case resp.StatusCode >= 400:
		return &statusError{code: resp.StatusCode, wrapped: forgeerr.ErrProtocol}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%w: %v", forgeerr.ErrProtocol, err)
		}
	}
	return nil
}

type statusError struct {
	code    int
	wrapped error
}

func (e *statusError) Error() string { return fmt.Sprintf("github: status %d", e.code) }
func (e *statusError) Unwrap() error { return e.wrapped }

func errIsStatus(err error, code int) bool {
	se, ok := err.(*statusError)
	return ok && se.code == code
}

func errIsRetryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	return se.code >= 500
}

func (a *adapter) recordRateLimit(h http.Header) {
	remaining, resetAt := parseRateLimit(h)
	if remaining < 0 {
		return
	}
	a.mu.Lock()
	a.rate = forge.RateLimit{Remaining: remaining, ResetAt: resetAt}
	a.mu.Unlock()
}

func parseRateLimit(h http.Header) (remaining int, resetAt time.Time) {
	remaining = -1
	if v := h.Get("X-RateLimit-Remaining"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			remaining = n
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			resetAt = time.Unix(n, 0)
		}
	}
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Minute)
	}
	return remaining, resetAt
}
