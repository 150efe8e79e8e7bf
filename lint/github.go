package lint

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/google/go-github/v50/github"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Event is the part of a pull_request event payload the check cares about.
type Event struct {
	Number int
	Base   string
	Owner  string
	Repo   string
}

// ReadEvent parses the pull_request event payload at path, as found in
// GITHUB_EVENT_PATH.
func ReadEvent(path string) (*Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read event: %s", path)
	}

	var payload github.PullRequestEvent
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrapf(err, "cannot decode event: %s", path)
	}

	if payload.GetPullRequest() == nil {
		return nil, errors.Errorf("not a pull request event: %s", path)
	}

	number := payload.GetNumber()
	if number == 0 {
		number = payload.GetPullRequest().GetNumber()
	}

	return &Event{
		Number: number,
		Base:   payload.GetPullRequest().GetBase().GetRef(),
		Owner:  payload.GetRepo().GetOwner().GetLogin(),
		Repo:   payload.GetRepo().GetName(),
	}, nil
}

var remoteRegex = regexp.MustCompile(`github\.com[:/]([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(\.git)?/?$`)

// SplitRepo accepts owner/name or a github remote url.
func SplitRepo(repo string) (string, string, error) {
	repo = strings.TrimSpace(repo)

	if matches := remoteRegex.FindStringSubmatch(repo); matches != nil {
		return matches[1], matches[2], nil
	}

	fields := strings.Split(repo, "/")
	if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
		return "", "", errors.Errorf("cannot parse repository: %q", repo)
	}

	return fields[0], fields[1], nil
}

// Commenter posts pull request comments.
type Commenter struct {
	client *github.Client
}

// NewCommenter authenticates with token, or anonymously when it is empty.
func NewCommenter(ctx context.Context, token string) *Commenter {
	if token == "" {
		return &Commenter{client: github.NewClient(nil)}
	}

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)

	return &Commenter{client: github.NewClient(oauth2.NewClient(ctx, ts))}
}

// NewCommenterWithClient is mostly useful to point at a fake API.
func NewCommenterWithClient(client *github.Client) *Commenter {
	return &Commenter{client: client}
}

// Post adds body as a single comment on the pull request. An empty body
// posts nothing.
func (c *Commenter) Post(ctx context.Context, owner, repo string, number int, body string) error {
	if body == "" {
		log.WithFields(log.Fields{
			"owner":  owner,
			"repo":   repo,
			"number": number,
		}).Info("nothing to report")

		return nil
	}

	comment, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return errors.Wrapf(err, "cannot comment on %s/%s#%d", owner, repo, number)
	}

	log.WithFields(log.Fields{
		"url": comment.GetHTMLURL(),
	}).Info("posted comment")

	return nil
}
