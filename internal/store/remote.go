package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/fclairamb/treemount/internal/apperrors"
)

const remoteName = "origin"

// RemoteConfig describes the repository a git store is mirrored to.
type RemoteConfig struct {
	URL      string
	Password string // token for HTTPS remotes
}

// IsEnabled returns true if a remote URL is configured.
func (c *RemoteConfig) IsEnabled() bool {
	return c != nil && c.URL != ""
}

// IsSSH returns true if the URL is an SSH URL.
func (c *RemoteConfig) IsSSH() bool {
	if !c.IsEnabled() {
		return false
	}
	return strings.HasPrefix(c.URL, "git@") || strings.HasPrefix(c.URL, "ssh://")
}

// IsHTTP returns true if the URL is an HTTP or HTTPS URL.
func (c *RemoteConfig) IsHTTP() bool {
	if !c.IsEnabled() {
		return false
	}
	return strings.HasPrefix(c.URL, "https://") || strings.HasPrefix(c.URL, "http://")
}

// GetAuth returns the authentication method for the remote URL. Local
// remotes need none.
func (c *RemoteConfig) GetAuth() (transport.AuthMethod, error) {
	switch {
	case !c.IsEnabled():
		return nil, apperrors.ErrRemoteNotConfigured
	case c.IsSSH():
		auth, err := ssh.NewSSHAgentAuth("git")
		if err != nil {
			return nil, fmt.Errorf("create SSH agent auth: %w", err)
		}
		return auth, nil
	case c.IsHTTP():
		if c.Password == "" {
			return nil, apperrors.ErrHTTPSPasswordRequired
		}
		return &http.BasicAuth{
			Username: "oauth2",
			Password: c.Password,
		}, nil
	default:
		return nil, nil
	}
}

func (c *RemoteConfig) remote(s *GitStore) *git.Remote {
	return git.NewRemote(s.repo.Storer, &config.RemoteConfig{
		Name: remoteName,
		URLs: []string{c.URL},
	})
}

// Push sends the store's head to the remote. A store without commits has
// nothing to push.
func (s *GitStore) Push(ctx context.Context, remote *RemoteConfig) error {
	if !remote.IsEnabled() {
		return apperrors.ErrRemoteNotConfigured
	}
	auth, err := remote.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.repo.Reference(HeadRef, false); errors.Is(err, plumbing.ErrReferenceNotFound) {
		s.logger.InfoContext(ctx, "nothing to push", "dir", s.dir)
		return nil
	} else if err != nil {
		return fmt.Errorf("read head: %w", err)
	}

	s.logger.InfoContext(ctx, "pushing to remote", "url", remote.URL, "branch", HeadRef.Short())

	spec := config.RefSpec(HeadRef.String() + ":" + HeadRef.String())
	err = remote.remote(s).PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       auth,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			s.logger.InfoContext(ctx, "nothing to push", "dir", s.dir)
			return nil
		}
		return fmt.Errorf("push: %w", err)
	}

	s.logger.InfoContext(ctx, "push complete", "dir", s.dir)
	return nil
}

// TestConnection lists the remote references to check connectivity.
func (c *RemoteConfig) TestConnection(ctx context.Context) error {
	auth, err := c.GetAuth()
	if err != nil {
		return fmt.Errorf("get auth: %w", err)
	}

	rem := git.NewRemote(nil, &config.RemoteConfig{
		Name: remoteName,
		URLs: []string{c.URL},
	})
	if _, err := rem.ListContext(ctx, &git.ListOptions{Auth: auth}); err != nil {
		// Empty repository is a valid connection
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			return nil
		}
		return fmt.Errorf("list remote: %w", err)
	}
	return nil
}
