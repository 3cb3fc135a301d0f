package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"example.com/carwash/activity/internal/tracker"
)

// command is one JSON line read from the host.
type command struct {
	Kind     string         `json:"kind"`
	Path     string         `json:"path,omitempty"`
	Title    string         `json:"title,omitempty"`
	From     string         `json:"from,omitempty"`
	To       string         `json:"to,omitempty"`
	Element  string         `json:"element,omitempty"`
	Value    string         `json:"value,omitempty"`
	Query    string         `json:"query,omitempty"`
	Context  string         `json:"context,omitempty"`
	Depth    int            `json:"depth,omitempty"`
	MaxDepth int            `json:"maxDepth,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// apply forwards cmd to the tracker, or to the lifecycle hub for host state changes.
func apply(t *tracker.Tracker, hub *tracker.Hub, cmd command) error {
	switch cmd.Kind {
	case "page_view":
		t.TrackPageView(cmd.Path, cmd.Title)
	case "login":
		t.TrackLogin(cmd.Metadata)
	case "logout":
		t.TrackLogout(cmd.Metadata)
	case "click", "button_click":
		t.TrackButtonClick(cmd.Element, cmd.Value)
	case "navigation":
		t.TrackNavigation(cmd.From, cmd.To)
	case "search":
		t.TrackSearch(cmd.Query, cmd.Context)
	case "filter":
		t.TrackFilter(cmd.Element, cmd.Value)
	case "form_submit":
		t.TrackFormSubmit(cmd.Element, cmd.Metadata)
	case "scroll":
		t.TrackScroll(cmd.Depth, cmd.MaxDepth)
	case "hidden":
		hub.SetVisibility(tracker.VisibilityHidden)
	case "visible":
		hub.SetVisibility(tracker.VisibilityVisible)
	default:
		return fmt.Errorf("unknown kind %q", cmd.Kind)
	}
	return nil
}

// feed applies every line of r until EOF. Bad lines are logged and skipped.
func feed(r io.Reader, t *tracker.Tracker, hub *tracker.Hub, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logger.Warn("skipping malformed line", "line", line, "error", err)
			continue
		}
		if err := apply(t, hub, cmd); err != nil {
			logger.Warn("skipping line", "line", line, "error", err)
		}
	}
	return scanner.Err()
}
