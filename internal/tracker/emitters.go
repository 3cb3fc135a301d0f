package tracker

import (
	"strings"

	"example.com/carwash/activity/internal/domain"
)

// TrackPageView closes out the dwell time of the previous page, makes path the current page and
// records a page_view for it. A blank path is ignored and the current page stays open.
func (t *Tracker) TrackPageView(path, title string) {
	if strings.TrimSpace(path) == "" {
		t.logger.Debug("page view without a path ignored")
		return
	}
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.recordScreenTimeLocked()
	t.currentPath = path
	t.currentTitle = title
	t.pageEnteredAt = t.clock.Now()
	t.appendLocked(Event{Type: domain.ActivityPageView, Page: t.currentPageLocked()})
	t.unlockAndSend()
}

// TrackLogin records a login and flushes immediately.
func (t *Tracker) TrackLogin(metadata map[string]any) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.appendLocked(Event{Type: domain.ActivityLogin, Page: t.currentPageLocked(), Metadata: metadata})
	t.takeBatchLocked()
	t.unlockAndSend()
}

// TrackLogout closes out the open page, records a logout and flushes immediately.
func (t *Tracker) TrackLogout(metadata map[string]any) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	t.recordScreenTimeLocked()
	t.appendLocked(Event{Type: domain.ActivityLogout, Page: t.currentPageLocked(), Metadata: metadata})
	t.takeBatchLocked()
	t.unlockAndSend()
}

func (t *Tracker) TrackButtonClick(element, value string) {
	t.trackOnPage(Event{
		Type:   domain.ActivityButtonClick,
		Action: &domain.Action{Element: element, Value: value},
	})
}

// TrackNavigation records an in-app navigation. The destination is the page and the origin goes
// to metadata.
func (t *Tracker) TrackNavigation(from, to string) {
	t.Track(Event{
		Type:     domain.ActivityNavigation,
		Page:     &domain.Page{Path: to},
		Metadata: map[string]any{"from": from},
	})
}

// TrackSearch records a search; context names the search box.
func (t *Tracker) TrackSearch(query, context string) {
	t.trackOnPage(Event{
		Type:   domain.ActivitySearch,
		Action: &domain.Action{Element: context, Value: query},
	})
}

func (t *Tracker) TrackFilter(name, value string) {
	t.trackOnPage(Event{
		Type:   domain.ActivityFilter,
		Action: &domain.Action{Element: name, Value: value},
	})
}

func (t *Tracker) TrackFormSubmit(form string, metadata map[string]any) {
	t.trackOnPage(Event{
		Type:     domain.ActivityFormSubmit,
		Action:   &domain.Action{Element: form, Value: "submit"},
		Metadata: metadata,
	})
}

func (t *Tracker) TrackScroll(depth, maxDepth int) {
	t.trackOnPage(Event{
		Type:   domain.ActivityScroll,
		Scroll: &domain.Scroll{Depth: depth, MaxDepth: maxDepth},
	})
}

// trackOnPage is Track with the current page attached.
func (t *Tracker) trackOnPage(ev Event) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return
	}
	ev.Page = t.currentPageLocked()
	t.appendLocked(ev)
	t.unlockAndSend()
}
