package memstore

import (
	"context"
	"fmt"
)

// Key schemas under the prismind namespace.
func SessionKey(projectID, user string) string {
	return fmt.Sprintf("prismind:session:%s:%s", projectID, user)
}

func CurrentProjectKey(user string) string {
	return "prismind:current_project:" + user
}

type currentProject struct {
	ProjectID string `json:"project_id"`
}

// CurrentProject returns the user's active project ID, or "" when none is
// set.
func (c *Client) CurrentProject(ctx context.Context, user string) (string, error) {
	var v currentProject
	err := c.Get(ctx, CurrentProjectKey(user), &v)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.ProjectID, nil
}

// SetCurrentProject records the user's active project.
func (c *Client) SetCurrentProject(ctx context.Context, user, projectID string) error {
	return c.Set(ctx, CurrentProjectKey(user), currentProject{ProjectID: projectID})
}

// ClearCurrentProject removes the user's active project pointer.
func (c *Client) ClearCurrentProject(ctx context.Context, user string) error {
	return c.Delete(ctx, CurrentProjectKey(user))
}
