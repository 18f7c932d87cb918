// Package repostore reads a project's files as a flat path->content map and
// writes changed files back as a single commit.
package repostore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingAuth          = errors.New("repostore: access token missing")
	ErrMissingCommitMessage = errors.New("repostore: commit message is empty")
	ErrNoChanges            = errors.New("repostore: nothing to commit")
	ErrInvalidPath          = errors.New("repostore: invalid file path")
	// ErrTreeTruncated means the remote listed only part of the project.
	ErrTreeTruncated = errors.New("repostore: repository tree truncated")
)

// Store is the repository backing a project.
type Store interface {
	LoadFiles(ctx context.Context, owner, repo, branch string) (map[string]string, error)
	Commit(ctx context.Context, owner, repo, branch string, files map[string]string, message string) error
}

// RemoteError is a failed call to the remote store. Message is the response
// body as received.
type RemoteError struct {
	Op      string
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("repostore: %s failed with status %d: %s", e.Op, e.Status, e.Message)
}

func validateCommit(files map[string]string, message string) error {
	if message == "" {
		return ErrMissingCommitMessage
	}
	if len(files) == 0 {
		return ErrNoChanges
	}
	return nil
}
