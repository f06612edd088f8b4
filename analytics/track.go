// Package analytics builds the event trackers of docupload.
package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker that attaches the given properties to every event.
type TrackerFactory func(...analytics.Properties) analytics.Tracker

const (
	SessionIDEnvKey = "DOCUPLOAD_SESSION_ID"
	SessionID       = "session_id"
)

// NewSessionTracker creates a tracker tagging every event with the session id
// found in the environment.
func NewSessionTracker(repository env.Repository, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	sessionID := repository.Get(SessionIDEnvKey)
	if sessionID == "" {
		return nil, fmt.Errorf("no session ID found")
	}
	return trackerFactory(analytics.Properties{SessionID: sessionID}), nil
}

// NewTracker returns a session tracker when a session id is set and an
// untagged one otherwise.
func NewTracker(repository env.Repository, trackerFactory TrackerFactory) analytics.Tracker {
	tracker, err := NewSessionTracker(repository, trackerFactory)
	if err != nil {
		return trackerFactory()
	}
	return tracker
}

// LogTracker writes events to the debug log instead of sending them anywhere.
type LogTracker struct {
	logger     log.Logger
	properties analytics.Properties
}

// NewLogTrackerFactory ...
func NewLogTrackerFactory(logger log.Logger) TrackerFactory {
	return func(properties ...analytics.Properties) analytics.Tracker {
		return NewLogTracker(logger, properties...)
	}
}

// NewLogTracker ...
func NewLogTracker(logger log.Logger, properties ...analytics.Properties) *LogTracker {
	base := analytics.Properties{}
	for _, p := range properties {
		for k, v := range p {
			base[k] = v
		}
	}
	return &LogTracker{logger: logger, properties: base}
}

// Enqueue ...
func (t *LogTracker) Enqueue(eventName string, properties ...analytics.Properties) {
	merged := map[string]interface{}{}
	for k, v := range t.properties {
		merged[k] = v
	}
	for _, p := range properties {
		for k, v := range p {
			merged[k] = v
		}
	}

	fields := make([]string, 0, len(merged))
	for k, v := range merged {
		fields = append(fields, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(fields)
	t.logger.Debugf("event %s: %s", eventName, strings.Join(fields, " "))
}

// Wait ...
func (t *LogTracker) Wait() {}
