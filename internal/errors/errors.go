package errors

import (
	"errors"
	"fmt"
)

// Common error types for better error handling
var (
	// Playback errors
	ErrNotPlaying        = errors.New("no song is currently playing")
	ErrNoVoiceConnection = errors.New("not connected to voice channel")
	ErrEngineClosed      = errors.New("playback engine is closed")
	ErrSessionExists     = errors.New("a session already exists for this guild")
	ErrSessionNotFound   = errors.New("no session for this guild")

	// Queue errors
	ErrQueueEmpty = errors.New("queue is empty")
	ErrQueueFull  = errors.New("queue is full")

	// Resolution errors
	ErrNoResults       = errors.New("no results found")
	ErrProviderFailure = errors.New("provider request failed")

	// Gateway errors
	ErrGuildNotFound   = errors.New("guild not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidChannel  = errors.New("channel has the wrong type")

	// Permission errors
	ErrNotInVoiceChannel = errors.New("you must be in a voice channel")
	ErrDifferentChannel  = errors.New("you must be in the same voice channel as the bot")

	// Processing errors
	ErrServiceStopped = errors.New("service is stopped")
	ErrTimeout        = errors.New("operation timed out")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidURL   = errors.New("invalid URL")
)

// ResolutionKind separates graceful empty results from provider failures
type ResolutionKind int

const (
	NoResults ResolutionKind = iota
	ProviderFailure
)

func (k ResolutionKind) String() string {
	if k == NoResults {
		return "no_results"
	}
	return "provider_failure"
}

// ResolutionError is returned by resolvers and surfaced to the caller of enqueue
type ResolutionError struct {
	Kind     ResolutionKind
	Platform string
	Query    string
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %q on %s: %s: %v", e.Query, e.Platform, e.Kind, e.Err)
	}
	return fmt.Sprintf("resolve %q on %s: %s", e.Query, e.Platform, e.Kind)
}

func (e *ResolutionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	if e.Kind == NoResults {
		return ErrNoResults
	}
	return ErrProviderFailure
}

// Is lets errors.Is match the kind sentinels even when Err wraps something else
func (e *ResolutionError) Is(target error) bool {
	switch target {
	case ErrNoResults:
		return e.Kind == NoResults
	case ErrProviderFailure:
		return e.Kind == ProviderFailure
	}
	return false
}

// NewNoResults builds a graceful no-results error
func NewNoResults(platform, query string) *ResolutionError {
	return &ResolutionError{Kind: NoResults, Platform: platform, Query: query}
}

// NewProviderFailure wraps a provider error
func NewProviderFailure(platform, query string, err error) *ResolutionError {
	return &ResolutionError{Kind: ProviderFailure, Platform: platform, Query: query, Err: err}
}

// PersistenceError is logged and retried on the next debounce cycle
type PersistenceError struct {
	TenantID string
	Op       string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for guild %s: %v", e.Op, e.TenantID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RestoreError is isolated to one tenant during startup restore
type RestoreError struct {
	TenantID string
	Stage    string
	Err      error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore guild %s at %s: %v", e.TenantID, e.Stage, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }

// ConnectionKind tells the supervisor whether to retry
type ConnectionKind int

const (
	Transient ConnectionKind = iota
	Permanent
)

func (k ConnectionKind) String() string {
	if k == Transient {
		return "transient"
	}
	return "permanent"
}

// ConnectionError wraps voice transport failures
type ConnectionError struct {
	Kind      ConnectionKind
	TenantID  string
	ChannelID string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s voice connection error in guild %s channel %s: %v", e.Kind, e.TenantID, e.ChannelID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsPermanentConnection reports whether err is a permanent ConnectionError
func IsPermanentConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == Permanent
}

// IsTransientConnection reports whether err is a transient ConnectionError
func IsTransientConnection(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == Transient
}

// UserError wraps an error with a user-friendly message
type UserError struct {
	Err     error
	Message string
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func (e *UserError) UserMessage() string {
	return e.Message
}

// NewUserError creates a new user error
func NewUserError(err error, message string) *UserError {
	return &UserError{
		Err:     err,
		Message: message,
	}
}

// WrapUserError wraps an error with a user-friendly message
func WrapUserError(err error, format string, args ...interface{}) *UserError {
	return &UserError{
		Err:     err,
		Message: fmt.Sprintf(format, args...),
	}
}

// GetUserMessage extracts user-friendly message from error
func GetUserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage()
	}

	// Map common errors to user-friendly messages
	switch {
	case errors.Is(err, ErrNoResults):
		return "❌ No results found for your search"
	case errors.Is(err, ErrProviderFailure):
		return "⚠️ Error while searching for the track. Please try again"
	case errors.Is(err, ErrSessionNotFound):
		return "❌ Nothing is playing in this server. Use `/play` first"
	case errors.Is(err, ErrEngineClosed):
		return "⚠️ This session just ended. Please try again"
	case IsPermanentConnection(err):
		return "🔇 I can't connect to that voice channel. Check my permissions"
	case IsTransientConnection(err):
		return "📡 Voice connection failed. Please try again"
	case errors.Is(err, ErrNotPlaying):
		return "❌ Nothing is playing right now"
	case errors.Is(err, ErrQueueEmpty):
		return "📋 Queue is empty. Use `/play` to add songs"
	case errors.Is(err, ErrQueueFull):
		return "⚠️ Queue is full. Please wait or clear the queue"
	case errors.Is(err, ErrNotInVoiceChannel):
		return "🔊 You need to join a voice channel first"
	case errors.Is(err, ErrDifferentChannel):
		return "⚠️ You must be in the same voice channel as the bot"
	case errors.Is(err, ErrInvalidURL):
		return "🔗 Invalid URL"
	case errors.Is(err, ErrTimeout):
		return "⏱️ Operation timed out. Please try again"
	default:
		return "❌ An error occurred. Please try again later"
	}
}
