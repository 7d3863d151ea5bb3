package hooks

import "errors"

var (
	// ErrQueryFunctionChanged is raised when a mounted UseQuery is given a
	// different query than on its first render.
	ErrQueryFunctionChanged = errors.New("hooks: query function changed between renders")

	// ErrUserNotFound is returned when no user principal is available.
	ErrUserNotFound = errors.New("hooks: no user is available in the current environment")

	// ErrAnonymousUser is returned when an anonymous visitor writes user
	// data.
	ErrAnonymousUser = errors.New("hooks: anonymous users cannot have user data")

	// ErrChannelNameRequired is raised when UseChannelLayer has neither a
	// name nor a group name.
	ErrChannelNameRequired = errors.New("hooks: a channel name or group name is required")

	// ErrSkipRefetch may be returned by a mutation to report success
	// without triggering its refetches.
	ErrSkipRefetch = errors.New("hooks: skip refetch")

	// ErrNoStore is returned by user data hooks when the runtime has no
	// datastore.
	ErrNoStore = errors.New("hooks: runtime has no datastore")
)
