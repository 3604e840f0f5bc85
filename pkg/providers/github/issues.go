package github

import (
	"context"

	gh "github.com/google/go-github/v66/github"
)

// Issue is an open issue in the tracker repository.
type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	URL    string `json:"url"`
}

// IssueTracker files and comments on issues in one repository.
type IssueTracker struct {
	client *gh.Client
	owner  string
	repo   string
}

// NewIssueTracker creates a tracker authenticated with token.
func (c *Client) NewIssueTracker(ctx context.Context, token, owner, repo string) (*IssueTracker, error) {
	client, err := c.tokenClient(ctx, token)
	if err != nil {
		return nil, err
	}
	return &IssueTracker{client: client, owner: owner, repo: repo}, nil
}

// OpenIssues lists open issues, excluding pull requests.
func (t *IssueTracker) OpenIssues(ctx context.Context) ([]Issue, error) {
	var out []Issue
	opts := &gh.IssueListByRepoOptions{State: "open", ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		issues, resp, err := t.client.Issues.ListByRepo(ctx, t.owner, t.repo, opts)
		if err != nil {
			return nil, classify(err, "list issues")
		}
		for _, issue := range issues {
			if issue.IsPullRequest() {
				continue
			}
			out = append(out, Issue{
				Number: issue.GetNumber(),
				Title:  issue.GetTitle(),
				Body:   issue.GetBody(),
				URL:    issue.GetHTMLURL(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// Comments returns the bodies of every comment on an issue.
func (t *IssueTracker) Comments(ctx context.Context, number int) ([]string, error) {
	var bodies []string
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := t.client.Issues.ListComments(ctx, t.owner, t.repo, number, opts)
		if err != nil {
			return nil, classify(err, "list comments")
		}
		for _, c := range comments {
			bodies = append(bodies, c.GetBody())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return bodies, nil
}

// Comment adds a comment to an issue.
func (t *IssueTracker) Comment(ctx context.Context, number int, body string) error {
	_, _, err := t.client.Issues.CreateComment(ctx, t.owner, t.repo, number, &gh.IssueComment{Body: gh.String(body)})
	if err != nil {
		return classify(err, "create comment")
	}
	return nil
}

// Create opens a new issue.
func (t *IssueTracker) Create(ctx context.Context, title, body string, labels []string) (*Issue, error) {
	req := &gh.IssueRequest{Title: gh.String(title), Body: gh.String(body)}
	if len(labels) > 0 {
		req.Labels = &labels
	}
	issue, _, err := t.client.Issues.Create(ctx, t.owner, t.repo, req)
	if err != nil {
		return nil, classify(err, "create issue")
	}
	return &Issue{
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		URL:    issue.GetHTMLURL(),
	}, nil
}
