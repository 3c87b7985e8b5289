package ics

import (
	"context"
	"fmt"

	"calnotes/internal/model"
)

// KindFetcher dispatches to a Fetcher by model.Source.Kind. An empty kind
// is treated as model.KindICS.
type KindFetcher map[string]Fetcher

// NewKindFetcher wires the HTTP and CalDAV fetchers.
func NewKindFetcher(httpFetcher *HTTPFetcher, caldavFetcher *CalDAVFetcher) KindFetcher {
	return KindFetcher{
		model.KindICS:    httpFetcher,
		model.KindCalDAV: caldavFetcher,
	}
}

// Fetch implements Fetcher.
func (k KindFetcher) Fetch(ctx context.Context, src model.Source) ([]byte, error) {
	kind := src.Kind
	if kind == "" {
		kind = model.KindICS
	}
	f, ok := k[kind]
	if !ok || f == nil {
		return nil, &FetchError{Source: src.Name, Err: fmt.Errorf("unsupported source kind %q", kind)}
	}
	return f.Fetch(ctx, src)
}
