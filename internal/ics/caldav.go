package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	appLog "calnotes/internal/log"
	"calnotes/internal/model"
)

// CalDAVFetcher queries a CalDAV collection for VEVENTs within the source
// window and returns them bundled as a single ICS feed, so the rest of the
// pipeline treats CalDAV and subscription feeds identically.
type CalDAVFetcher struct {
	client *http.Client
}

// NewCalDAVFetcher creates a CalDAV fetcher with the given request timeout.
func NewCalDAVFetcher(timeout time.Duration) *CalDAVFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CalDAVFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch implements Fetcher.
func (f *CalDAVFetcher) Fetch(ctx context.Context, src model.Source) ([]byte, error) {
	body, err := f.fetch(ctx, src)
	if err != nil {
		return nil, &FetchError{Source: src.Name, Err: err}
	}
	return body, nil
}

func (f *CalDAVFetcher) fetch(ctx context.Context, src model.Source) ([]byte, error) {
	if src.Locator == "" {
		return nil, errors.New("caldav endpoint is empty")
	}

	var httpClient webdav.HTTPClient = f.client
	if src.Username != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, src.Username, src.Password)
	}

	c, err := caldav.NewClient(httpClient, src.Locator)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: src.Window.Start.UTC(),
				End:   src.Window.End.UTC(),
			}},
		},
	}

	appLog.Info("caldav query start", "source", src.Name, "url", redactURL(src.Locator), "path", src.CalendarPath)

	objects, err := c.QueryCalendar(ctx, src.CalendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	cals := make([]*goical.Calendar, 0, len(objects))
	for _, obj := range objects {
		if obj.Data != nil {
			cals = append(cals, obj.Data)
		}
	}

	appLog.Info("caldav query success", "source", src.Name, "objects", len(cals))
	return bundleCalendars(cals)
}

// bundleCalendars merges the components of several calendar objects into a
// single VCALENDAR and encodes it as ICS. Duplicate VTIMEZONEs are dropped.
func bundleCalendars(cals []*goical.Calendar) ([]byte, error) {
	const prodID = "-//calnotes//caldav bundle//EN"

	out := goical.NewCalendar()
	out.Props.SetText(goical.PropVersion, "2.0")
	out.Props.SetText(goical.PropProductID, prodID)

	seenTZ := make(map[string]bool)
	for _, cal := range cals {
		for _, child := range cal.Children {
			switch child.Name {
			case goical.CompTimezone:
				id := child.Props.Get(goical.PropTimezoneID)
				if id == nil || seenTZ[id.Value] {
					continue
				}
				seenTZ[id.Value] = true
			case goical.CompEvent:
			default:
				continue
			}
			out.Children = append(out.Children, child)
		}
	}

	// The encoder rejects a calendar without components.
	if len(out.Children) == 0 {
		return []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + prodID + "\r\nEND:VCALENDAR\r\n"), nil
	}

	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(out); err != nil {
		return nil, fmt.Errorf("encode bundled calendar: %w", err)
	}
	return buf.Bytes(), nil
}
