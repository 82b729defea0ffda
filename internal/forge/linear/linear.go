// Package linear implements internal/forge.Forge against the Linear GraphQL
// API.
//
// Grounded on original_source/src/forges/linear.rs: a single GraphQL
// endpoint, opaque UUID issue identity with a team-prefixed display
// "identifier" as the normalized key, and workflow states mapped onto the
// normalized {open, closed} states through a per-team state-catalog lookup
// (Backlog/Todo/In Progress map to open; Done/Canceled map to closed).
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
)

// graphQLURL is a var, not a const, so tests can point the adapter at an
// httptest server instead of the real Linear API.
var graphQLURL = "https://api.linear.app/graphql"

func init() {
	forge.Register(forge.KindLinear, New)
}

func New(cfg forge.Config) (forge.Forge, error) {
	if cfg.Token == "" {
		return nil, forgeerr.ErrAuthentication
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &adapter{
		client: client,
		token:  cfg.Token,
		team:   cfg.LinearTeam,
		states: make(map[string]bool),
		rate:   forge.RateLimit{Remaining: -1},
	}, nil
}

type adapter struct {
	client *http.Client
	token  string
	team   string

	mu     sync.Mutex
	states map[string]bool // workflow state name -> isClosed; unused, state mapping goes through normalizeState
	rate   forge.RateLimit
}

func (a *adapter) Kind() forge.Kind { return forge.KindLinear }

func (a *adapter) GetRateLimit() forge.RateLimit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rate
}

// AuthProbe confirms the token works by fetching the authenticated viewer.
func (a *adapter) AuthProbe(ctx context.Context) (forge.Identity, error) {
	var resp struct {
		Viewer linearUser `json:"viewer"`
	}
	if err := a.query(ctx, `query { viewer { name } }`, nil, &resp); err != nil {
		return forge.Identity{}, err
	}
	return forge.Identity{Handle: resp.Viewer.Name}, nil
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (a *adapter) query(ctx context.Context, query string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("linear: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphQLURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("linear: build request: %w", err)
	}
	req.Header.Set("Authorization", a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", forgeerr.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return forgeerr.ErrAuthentication
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resetAt := time.Now().Add(time.Minute)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := time.ParseDuration(v + "s"); err == nil {
				resetAt = time.Now().Add(secs)
			}
		}
		return &forgeerr.RateLimitError{Remaining: 0, ResetInMS: time.Until(resetAt).Milliseconds()}
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: linear status %d", forgeerr.ErrConnectivity, resp.StatusCode)
	}

	var gr gqlResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return fmt.Errorf("%w: %v", forgeerr.ErrProtocol, err)
	}
	if len(gr.Errors) > 0 {
		msg := gr.Errors[0].Message
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "not found"):
			return forgeerr.ErrNotFound
		case strings.Contains(lower, "conflict"), strings.Contains(lower, "has already been"), strings.Contains(lower, "stale"):
			return fmt.Errorf("%w: %s", forgeerr.ErrConflict, msg)
		}
		return fmt.Errorf("%w: %s", forgeerr.ErrPayloadRejected, msg)
	}
	if out != nil {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return fmt.Errorf("%w: %v", forgeerr.ErrProtocol, err)
		}
	}
	return nil
}

type linearLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type linearUser struct {
	Name string `json:"name"`
}

type linearState struct {
	Name string `json:"name"`
	Type string `json:"type"` // triage, backlog, unstarted, started, completed, canceled
}

type linearIssue struct {
	ID         string      `json:"id"`
	Identifier string      `json:"identifier"`
	Title      string      `json:"title"`
	Description string     `json:"description"`
	State      linearState `json:"state"`
	Creator    *linearUser `json:"creator"`
	Assignee   *linearUser `json:"assignee"`
	Labels     struct {
		Nodes []linearLabel `json:"nodes"`
	} `json:"labels"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toIssue(li linearIssue) forge.Issue {
	labels := make([]forge.Label, 0, len(li.Labels.Nodes))
	for _, l := range li.Labels.Nodes {
		color := l.Color
		labels = append(labels, forge.Label{Name: l.Name, Color: &color})
	}
	var assignees []string
	if li.Assignee != nil {
		assignees = []string{li.Assignee.Name}
	}
	author := ""
	if li.Creator != nil {
		author = li.Creator.Name
	}
	return forge.Issue{
		Key:       li.Identifier,
		NativeID:  li.ID,
		Title:     li.Title,
		Body:      li.Description,
		State:     normalizeState(li.State.Type),
		Author:    author,
		Labels:    labels,
		Assignees: assignees,
		CreatedAt: li.CreatedAt,
		UpdatedAt: li.UpdatedAt,
		URL:       li.URL,
	}
}

// normalizeState maps Linear's workflow state "type" onto the normalized
// two-valued state. completed and canceled are the only closed types.
func normalizeState(stateType string) forge.State {
	switch stateType {
	case "completed", "canceled":
		return forge.StateClosed
	default:
		return forge.StateOpen
	}
}

const issueFields = `
  id identifier title description url createdAt updatedAt
  state { name type }
  creator { name }
  assignee { name }
  labels { nodes { name color } }
`

func (a *adapter) ListIssues(ctx context.Context, repo string, sinceCursor string) iter.Seq2[forge.Issue, error] {
	return func(yield func(forge.Issue, error) bool) {
		cursor := ""
		for {
			filter := fmt.Sprintf(`team: { key: { eq: %q } }`, repo)
			if sinceCursor != "" {
				filter += fmt.Sprintf(`, updatedAt: { gte: %q }`, sinceCursor)
			}
			query := fmt.Sprintf(`
				query($after: String) {
				  issues(first: 100, after: $after, filter: { %s }) {
				    nodes { %s }
				    pageInfo { hasNextPage endCursor }
				  }
				}`, filter, issueFields)

			var resp struct {
				Issues struct {
					Nodes    []linearIssue `json:"nodes"`
					PageInfo struct {
						HasNextPage bool   `json:"hasNextPage"`
						EndCursor   string `json:"endCursor"`
					} `json:"pageInfo"`
				} `json:"issues"`
			}
			vars := map[string]interface{}{}
			if cursor != "" {
				vars["after"] = cursor
			}
			if err := a.query(ctx, query, vars, &resp); err != nil {
				yield(forge.Issue{}, err)
				return
			}
			for _, li := range resp.Issues.Nodes {
				if !yield(toIssue(li), nil) {
					return
				}
			}
			if !resp.Issues.PageInfo.HasNextPage {
				return
			}
			cursor = resp.Issues.PageInfo.EndCursor
		}
	}
}

func (a *adapter) GetIssue(ctx context.Context, repo, key string) (forge.Issue, error) {
	query := fmt.Sprintf(`query($id: String!) { issue(id: $id) { %s } }`, issueFields)
	var resp struct {
		Issue linearIssue `json:"issue"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"id": key}, &resp); err != nil {
		return forge.Issue{}, err
	}
	if resp.Issue.ID == "" {
		return forge.Issue{}, forgeerr.ErrNotFound
	}
	return toIssue(resp.Issue), nil
}

func (a *adapter) teamID(ctx context.Context, teamKey string) (string, error) {
	query := `query($key: String!) { teams(filter: { key: { eq: $key } }) { nodes { id } } }`
	var resp struct {
		Teams struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"teams"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"key": teamKey}, &resp); err != nil {
		return "", err
	}
	if len(resp.Teams.Nodes) == 0 {
		return "", forgeerr.ErrNotFound
	}
	return resp.Teams.Nodes[0].ID, nil
}

func (a *adapter) CreateIssue(ctx context.Context, repo string, req forge.CreateIssueRequest) (forge.Issue, error) {
	teamID, err := a.teamID(ctx, repo)
	if err != nil {
		return forge.Issue{}, err
	}
	mutation := fmt.Sprintf(`
		mutation($input: IssueCreateInput!) {
		  issueCreate(input: $input) { success issue { %s } }
		}`, issueFields)
	input := map[string]interface{}{"teamId": teamID, "title": req.Title}
	if req.Body != "" {
		input["description"] = req.Body
	}
	if req.GoalID != "" {
		input["projectId"] = req.GoalID
	}
	var resp struct {
		IssueCreate struct {
			Success bool        `json:"success"`
			Issue   linearIssue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := a.query(ctx, mutation, map[string]interface{}{"input": input}, &resp); err != nil {
		return forge.Issue{}, err
	}
	if !resp.IssueCreate.Success {
		return forge.Issue{}, forgeerr.ErrPayloadRejected
	}
	return toIssue(resp.IssueCreate.Issue), nil
}

func (a *adapter) updateIssue(ctx context.Context, issueID string, input map[string]interface{}) error {
	mutation := `mutation($id: String!, $input: IssueUpdateInput!) { issueUpdate(id: $id, input: $input) { success } }`
	var resp struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := a.query(ctx, mutation, map[string]interface{}{"id": issueID, "input": input}, &resp); err != nil {
		return err
	}
	if !resp.IssueUpdate.Success {
		return forgeerr.ErrPayloadRejected
	}
	return nil
}

// stateIDForType resolves the workflow-state ID for a team matching the
// normalized target state, per the per-team state-catalog lookup design.
func (a *adapter) stateIDForType(ctx context.Context, teamKey string, want forge.State) (string, error) {
	query := `query($key: String!) { team(id: $key) { states { nodes { id name type } } } }`
	var resp struct {
		Team struct {
			States struct {
				Nodes []struct {
					ID   string `json:"id"`
					Name string `json:"name"`
					Type string `json:"type"`
				} `json:"nodes"`
			} `json:"states"`
		} `json:"team"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"key": teamKey}, &resp); err != nil {
		return "", err
	}
	for _, s := range resp.Team.States.Nodes {
		if normalizeState(s.Type) == want {
			return s.ID, nil
		}
	}
	return "", forgeerr.ErrNotFound
}

func (a *adapter) UpdateIssueState(ctx context.Context, repo, key string, state forge.State) error {
	issue, err := a.GetIssue(ctx, repo, key)
	if err != nil {
		return err
	}
	stateID, err := a.stateIDForType(ctx, repo, state)
	if err != nil {
		return err
	}
	return a.updateIssue(ctx, issue.NativeID, map[string]interface{}{"stateId": stateID})
}

func (a *adapter) labelID(ctx context.Context, teamKey, name string) (string, error) {
	query := `query($key: String!, $name: String!) { issueLabels(filter: { team: { key: { eq: $key } }, name: { eq: $name } }) { nodes { id } } }`
	var resp struct {
		IssueLabels struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"key": teamKey, "name": name}, &resp); err != nil {
		return "", err
	}
	if len(resp.IssueLabels.Nodes) == 0 {
		return "", forgeerr.ErrPayloadRejected
	}
	return resp.IssueLabels.Nodes[0].ID, nil
}

func (a *adapter) AddLabel(ctx context.Context, repo, key, name string) error {
	issue, err := a.GetIssue(ctx, repo, key)
	if err != nil {
		return err
	}
	labelID, err := a.labelID(ctx, repo, name)
	if err != nil {
		return err
	}
	// Linear's update API takes the full label-ID set, not a delta, so the
	// existing names are resolved back to IDs before writing.
	ids := make([]string, 0, len(issue.Labels)+1)
	for _, l := range issue.Labels {
		if id, err := a.labelID(ctx, repo, l.Name); err == nil {
			ids = append(ids, id)
		}
	}
	ids = append(ids, labelID)
	return a.updateIssue(ctx, issue.NativeID, map[string]interface{}{"labelIds": ids})
}

func (a *adapter) RemoveLabel(ctx context.Context, repo, key, name string) error {
	issue, err := a.GetIssue(ctx, repo, key)
	if err != nil {
		return err
	}
	remaining := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		if l.Name != name {
			remaining = append(remaining, l.Name)
		}
	}
	ids := make([]string, 0, len(remaining))
	for _, n := range remaining {
		id, err := a.labelID(ctx, repo, n)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return a.updateIssue(ctx, issue.NativeID, map[string]interface{}{"labelIds": ids})
}

func (a *adapter) Assign(ctx context.Context, repo, key, handle string) error {
	issue, err := a.GetIssue(ctx, repo, key)
	if err != nil {
		return err
	}
	query := `query($email: String!) { users(filter: { email: { eq: $email } }) { nodes { id } } }`
	var resp struct {
		Users struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"users"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"email": handle}, &resp); err != nil {
		return err
	}
	if len(resp.Users.Nodes) == 0 {
		return forgeerr.ErrPayloadRejected
	}
	return a.updateIssue(ctx, issue.NativeID, map[string]interface{}{"assigneeId": resp.Users.Nodes[0].ID})
}

func (a *adapter) Comment(ctx context.Context, repo, key, body string) (string, error) {
	issue, err := a.GetIssue(ctx, repo, key)
	if err != nil {
		return "", err
	}
	mutation := `mutation($input: CommentCreateInput!) { commentCreate(input: $input) { success comment { id } } }`
	var resp struct {
		CommentCreate struct {
			Success bool `json:"success"`
			Comment struct {
				ID string `json:"id"`
			} `json:"comment"`
		} `json:"commentCreate"`
	}
	input := map[string]interface{}{"issueId": issue.NativeID, "body": body}
	if err := a.query(ctx, mutation, map[string]interface{}{"input": input}, &resp); err != nil {
		return "", err
	}
	if !resp.CommentCreate.Success {
		return "", forgeerr.ErrPayloadRejected
	}
	return resp.CommentCreate.Comment.ID, nil
}

func (a *adapter) ListAllComments(ctx context.Context, repo string, since time.Time) ([]forge.Comment, error) {
	query := `
		query($key: String!) {
		  issues(filter: { team: { key: { eq: $key } } }) {
		    nodes { identifier comments { nodes { id body user { name } createdAt } } }
		  }
		}`
	var resp struct {
		Issues struct {
			Nodes []struct {
				Identifier string `json:"identifier"`
				Comments   struct {
					Nodes []struct {
						ID        string    `json:"id"`
						Body      string    `json:"body"`
						User      linearUser `json:"user"`
						CreatedAt time.Time `json:"createdAt"`
					} `json:"nodes"`
				} `json:"comments"`
			} `json:"nodes"`
		} `json:"issues"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"key": repo}, &resp); err != nil {
		return nil, err
	}
	var out []forge.Comment
	for _, issue := range resp.Issues.Nodes {
		for _, c := range issue.Comments.Nodes {
			if !since.IsZero() && c.CreatedAt.Before(since) {
				continue
			}
			out = append(out, forge.Comment{
				ID:        c.ID,
				IssueKey:  issue.Identifier,
				Body:      c.Body,
				Author:    c.User.Name,
				CreatedAt: c.CreatedAt,
			})
		}
	}
	return out, nil
}

func (a *adapter) ListGoals(ctx context.Context, repo string, includeClosed bool) ([]forge.Goal, error) {
	query := `
		query($key: String!) {
		  projects(filter: { teams: { key: { eq: $key } } }) {
		    nodes { id name description targetDate state progress createdAt updatedAt url }
		  }
		}`
	var resp struct {
		Projects struct {
			Nodes []struct {
				ID          string     `json:"id"`
				Name        string     `json:"name"`
				Description string     `json:"description"`
				TargetDate  *time.Time `json:"targetDate"`
				State       string     `json:"state"`
				Progress    float64    `json:"progress"`
				CreatedAt   time.Time  `json:"createdAt"`
				UpdatedAt   time.Time  `json:"updatedAt"`
				URL         string     `json:"url"`
			} `json:"nodes"`
		} `json:"projects"`
	}
	if err := a.query(ctx, query, map[string]interface{}{"key": repo}, &resp); err != nil {
		return nil, err
	}
	var out []forge.Goal
	for _, p := range resp.Projects.Nodes {
		state := forge.StateOpen
		if p.State == "completed" || p.State == "canceled" {
			state = forge.StateClosed
		}
		if state == forge.StateClosed && !includeClosed {
			continue
		}
		out = append(out, forge.Goal{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			TargetDate:  p.TargetDate,
			State:       state,
			Progress:    p.Progress,
			CreatedAt:   p.CreatedAt,
			UpdatedAt:   p.UpdatedAt,
			URL:         p.URL,
		})
	}
	return out, nil
}

func (a *adapter) CreateGoal(ctx context.Context, repo, name, body string, targetDate *time.Time) (forge.Goal, error) {
	teamID, err := a.teamID(ctx, repo)
	if err != nil {
		return forge.Goal{}, err
	}
	mutation := `mutation($input: ProjectCreateInput!) { projectCreate(input: $input) { success project { id name description state progress createdAt updatedAt url } } }`
	input := map[string]interface{}{"name": name, "teamIds": []string{teamID}}
	if body != "" {
		input["description"] = body
	}
	if targetDate != nil {
		input["targetDate"] = targetDate.UTC().Format("2006-01-02")
	}
	var resp struct {
		ProjectCreate struct {
			Success bool `json:"success"`
			Project struct {
				ID          string    `json:"id"`
				Name        string    `json:"name"`
				Description string    `json:"description"`
				State       string    `json:"state"`
				Progress    float64   `json:"progress"`
				CreatedAt   time.Time `json:"createdAt"`
				UpdatedAt   time.Time `json:"updatedAt"`
				URL         string    `json:"url"`
			} `json:"project"`
		} `json:"projectCreate"`
	}
	if err := a.query(ctx, mutation, map[string]interface{}{"input": input}, &resp); err != nil {
		return forge.Goal{}, err
	}
	if !resp.ProjectCreate.Success {
		return forge.Goal{}, forgeerr.ErrPayloadRejected
	}
	p := resp.ProjectCreate.Project
	return forge.Goal{
		ID: p.ID, Name: p.Name, Description: p.Description,
		State: forge.StateOpen, Progress: p.Progress,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, URL: p.URL,
	}, nil
}

func (a *adapter) CloseGoal(ctx context.Context, repo, goalID string) error {
	mutation := `mutation($id: String!, $input: ProjectUpdateInput!) { projectUpdate(id: $id, input: $input) { success } }`
	var resp struct {
		ProjectUpdate struct {
			Success bool `json:"success"`
		} `json:"projectUpdate"`
	}
	if err := a.query(ctx, mutation, map[string]interface{}{"id": goalID, "input": map[string]string{"state": "completed"}}, &resp); err != nil {
		return err
	}
	if !resp.ProjectUpdate.Success {
		return forgeerr.ErrPayloadRejected
	}
	return nil
}

func (a *adapter) AssignToGoal(ctx context.Context, repo, issueKey, goalID string) error {
	issue, err := a.GetIssue(ctx, repo, issueKey)
	if err != nil {
		return err
	}
	return a.updateIssue(ctx, issue.NativeID, map[string]interface{}{"projectId": goalID})
}
