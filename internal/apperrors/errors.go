// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
)

// Common static errors used throughout the application.
var (
	// ErrInvariantViolation is returned when the composition machinery detects a state that
	// a correct mount configuration can never produce.
	ErrInvariantViolation = errors.New("composite invariant violated")

	// ErrMissingStore is returned when a composite root is built without a state for every mounted store.
	ErrMissingStore = errors.New("missing node state for mounted store")

	// ErrUnroutableChange is returned when a change cannot be attributed to exactly one store.
	ErrUnroutableChange = errors.New("change cannot be routed to a store")

	// ErrConflict is returned when a store's head moved in a way that conflicts with local changes.
	ErrConflict = errors.New("conflicting concurrent change")

	// ErrMaxRetriesExceeded is returned when the maximum number of retries is exceeded.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrStoreVersionMismatch is returned when a store directory was written by an incompatible version.
	ErrStoreVersionMismatch = errors.New("store version mismatch (use --force to upgrade)")

	// ErrReadOnlyMount is returned when a commit changes content owned by a read-only mount.
	ErrReadOnlyMount = errors.New("mount is read-only")

	// ErrOverlappingMounts is returned when two mounts claim overlapping path prefixes.
	ErrOverlappingMounts = errors.New("mount paths overlap")

	// ErrInvalidMountPath is returned when a path is not absolute or contains empty or relative segments.
	ErrInvalidMountPath = errors.New("invalid path")

	// ErrDuplicateMount is returned when two mounts share the same name.
	ErrDuplicateMount = errors.New("duplicate mount name")

	// ErrStoreDirRequired is returned when a store command is run without a store directory.
	ErrStoreDirRequired = errors.New("store directory required")

	// ErrNotRootBuilder is returned when a root-only builder operation is called on a child builder.
	ErrNotRootBuilder = errors.New("operation requires a root builder")

	// ErrConfigRequired is returned when a command needs a mount configuration file and none was given.
	ErrConfigRequired = errors.New("configuration file required (--config or TM_CONFIG env var)")

	// ErrInvalidConfig is returned when a configuration value cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidName is returned when a node, property or mount name is empty,
	// reserved or contains a path separator.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidPropertyValue is returned when a property value does not match its declared type.
	ErrInvalidPropertyValue = errors.New("property value does not match type")

	// ErrNodeNotFound is returned when a path does not resolve to an existing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrRemoteNotConfigured is returned when a git remote operation is attempted but no remote is configured.
	ErrRemoteNotConfigured = errors.New("no remote configured")

	// ErrHTTPSPasswordRequired is returned when an HTTPS remote is used without a password.
	ErrHTTPSPasswordRequired = errors.New("git password required for HTTPS remotes (TM_GIT_PASSWORD)")
)
