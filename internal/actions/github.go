package actions

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"predixaai-alert-engine/internal/outbound"
)

type IssueResult struct {
	Success     bool   `json:"success"`
	IssueNumber int    `json:"issue_number,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IssueTracker creates issues. Failures are reported in the result.
type IssueTracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) IssueResult
}

const DefaultGitHubAPI = "https://api.github.com"

type GitHubConfig struct {
	Token   string
	Repo    string
	APIBase string
	Timeout time.Duration
}

type GitHubIssues struct {
	client *outbound.Client
	token  string
	repo   string
}

func NewGitHubIssues(cfg GitHubConfig, opts ...outbound.Option) *GitHubIssues {
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = DefaultGitHubAPI
	}
	defaults := []outbound.Option{
		outbound.WithHeader("Accept", "application/vnd.github+json"),
		outbound.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}
	if cfg.Timeout > 0 {
		defaults = append(defaults, outbound.WithTimeout(cfg.Timeout))
	}
	return &GitHubIssues{
		client: outbound.New(base, cfg.Token, append(defaults, opts...)...),
		token:  cfg.Token,
		repo:   strings.Trim(cfg.Repo, "/ "),
	}
}

type searchIssuesResponse struct {
	Items []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
	} `json:"items"`
}

// CreateIssue returns the open issue with the same title when one exists,
// otherwise creates a new one. A failed search does not block creation.
func (g *GitHubIssues) CreateIssue(ctx context.Context, title, body string, labels []string) IssueResult {
	if g == nil || g.token == "" || g.repo == "" {
		return IssueResult{Error: "github token or repository not configured"}
	}
	if number, ok := g.findOpen(ctx, title); ok {
		return IssueResult{Success: true, IssueNumber: number, Duplicate: true}
	}
	payload := map[string]any{"title": title, "body": body}
	if len(labels) > 0 {
		payload["labels"] = labels
	}
	var created struct {
		Number int `json:"number"`
	}
	if err := g.client.PostJSON(ctx, "/repos/"+g.repo+"/issues", payload, &created); err != nil {
		return IssueResult{Error: fmt.Sprintf("create issue: %v", err)}
	}
	return IssueResult{Success: true, IssueNumber: created.Number}
}

func (g *GitHubIssues) findOpen(ctx context.Context, title string) (int, bool) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf(`repo:%s is:issue is:open in:title "%s"`, g.repo, strings.ReplaceAll(title, `"`, "")))
	q.Set("per_page", "20")
	var resp searchIssuesResponse
	if err := g.client.GetJSON(ctx, "/search/issues", q, &resp); err != nil {
		return 0, false
	}
	for _, item := range resp.Items {
		if strings.EqualFold(strings.TrimSpace(item.Title), strings.TrimSpace(title)) {
			return item.Number, true
		}
	}
	return 0, false
}
