// Package commit provides commit hooks: logic invoked with a before/after tree
// pair at commit time that may validate, rewrite or reject the change.
package commit

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/fclairamb/treemount/internal/nodestate"
)

// Hook validates or transforms a commit. It returns the tree to persist, which
// is after itself when the hook makes no changes.
type Hook interface {
	ProcessCommit(before, after nodestate.NodeState, info *Info) (nodestate.NodeState, error)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(before, after nodestate.NodeState, info *Info) (nodestate.NodeState, error)

// ProcessCommit calls f.
func (f HookFunc) ProcessCommit(before, after nodestate.NodeState, info *Info) (nodestate.NodeState, error) {
	return f(before, after, info)
}

// EmptyHook accepts every commit unchanged.
var EmptyHook Hook = HookFunc(func(_, after nodestate.NodeState, _ *Info) (nodestate.NodeState, error) {
	return after, nil
})

// Compose chains hooks: each hook sees the result of the previous one.
func Compose(hooks ...Hook) Hook {
	switch len(hooks) {
	case 0:
		return EmptyHook
	case 1:
		return hooks[0]
	}
	return HookFunc(func(before, after nodestate.NodeState, info *Info) (nodestate.NodeState, error) {
		var err error
		for _, h := range hooks {
			if after, err = h.ProcessCommit(before, after, info); err != nil {
				return nil, err
			}
		}
		return after, nil
	})
}

// Info carries metadata about a commit.
type Info struct {
	SessionID string
	UserID    string
	Date      time.Time
	Metadata  map[string]string
}

// NewInfo creates commit info for userID with a fresh session id.
func NewInfo(userID string, metadata map[string]string) *Info {
	return &Info{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Date:      time.Now().UTC(),
		Metadata:  maps.Clone(metadata),
	}
}

// Message returns the "message" metadata entry, or a default commit message.
func (i *Info) Message() string {
	if i == nil {
		return "commit"
	}
	if msg, ok := i.Metadata["message"]; ok && msg != "" {
		return msg
	}
	return "commit by " + i.UserID
}
