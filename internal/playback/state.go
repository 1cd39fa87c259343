package playback

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the failover state of a playback session.
type State int

const (
	StateIdle            State = iota
	StateLoading               // URL handed to the player, waiting for it to become ready
	StatePlaying               // player reported ready
	StateRetryingBackup        // switched to a mirror of the same quality tier
	StateRetryingRefresh       // switched to a freshly fetched URL
	StateFailed                // nothing left to try for this episode
)

var stateNames = [...]string{
	"idle", "loading", "playing",
	"retrying_backup", "retrying_refresh", "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Event names what drove a transition. Used for logs only.
type Event string

const (
	EventSelectEpisode     Event = "select_episode"
	EventReady             Event = "ready"
	EventSourceError       Event = "source_error"
	EventRefreshResult     Event = "refresh_result"
	EventUserQualityChange Event = "quality_change"
	EventEnded             Event = "ended"
)

// Quality is a vertical resolution tier. QualityAuto follows the upstream default;
// tier 0 is a source whose resolution the upstream did not report.
type Quality int

const QualityAuto Quality = -1

func (q Quality) String() string {
	switch {
	case q == QualityAuto:
		return "auto"
	case q == 0:
		return "unknown"
	default:
		return strconv.Itoa(int(q)) + "p"
	}
}

// ParseQuality accepts "auto", "unknown", "720" and "720p".
func ParseQuality(raw string) (Quality, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "auto":
		return QualityAuto, nil
	case "unknown":
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(value, "p"))
	if err != nil || n < 0 {
		return QualityAuto, fmt.Errorf("invalid quality %q", raw)
	}
	return Quality(n), nil
}
