package ics

import "fmt"

// FetchError reports that a source could not be retrieved (transport,
// auth, non-OK status or timeout).
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FeedParseError reports a malformed top-level feed. No occurrences are
// produced for the source.
type FeedParseError struct {
	Source string
	Err    error
}

func (e *FeedParseError) Error() string {
	return fmt.Sprintf("parse feed %s: %v", e.Source, e.Err)
}

func (e *FeedParseError) Unwrap() error { return e.Err }

// Warning describes a single event that was skipped (or truncated) while
// the rest of the feed was processed.
type Warning struct {
	Source string
	UID    string
	Err    error
}

func (w Warning) Error() string {
	if w.UID == "" {
		return fmt.Sprintf("%s: %v", w.Source, w.Err)
	}
	return fmt.Sprintf("%s: event %s: %v", w.Source, w.UID, w.Err)
}

func (w Warning) Unwrap() error { return w.Err }
