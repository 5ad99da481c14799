package tracker

import (
	"fmt"
	"math"
	"time"
)

// Phase is the loop a Target is running.
type Phase int

const (
	Watching Phase = iota
	Alerting
)

func (p Phase) String() string {
	switch p {
	case Watching:
		return "watching"
	case Alerting:
		return "alerting"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type effect int

const (
	effectNone    effect = iota
	effectNotify         // first notification of the episode
	effectRefresh        // edit the active notification with new downtime
	effectRecover        // resolve the episode with a recovery message
)

// episode is the transition-relevant state of a Target.
type episode struct {
	phase        Phase
	offlineSince time.Time // zero when unset
	notified     bool      // a notification is active for this episode
	shown        string    // text currently displayed by that notification
}

type transition struct {
	next   episode
	effect effect
	text   string
	// switched is set when next.phase differs from the current phase.
	switched bool
}

// step computes the next episode for one poll result. It has no side effects.
func step(cur episode, online bool, now time.Time, timeout time.Duration, display string) transition {
	switch cur.phase {
	case Watching:
		if online {
			return transition{next: episode{phase: Watching}}
		}
		return transition{
			next:     episode{phase: Alerting, offlineSince: now},
			switched: true,
		}

	default:
		if online {
			tr := transition{next: episode{phase: Watching}, switched: true}
			if !cur.offlineSince.IsZero() && now.Sub(cur.offlineSince) >= timeout {
				tr.effect = effectRecover
				tr.text = recoveryText(display)
			}
			return tr
		}

		next := cur
		if next.offlineSince.IsZero() {
			next.offlineSince = now
		}
		elapsed := now.Sub(next.offlineSince)
		if elapsed < timeout {
			return transition{next: next}
		}
		text := offlineText(display, elapsed)
		switch {
		case !next.notified:
			next.notified = true
			next.shown = text
			return transition{next: next, effect: effectNotify, text: text}
		case text != next.shown:
			next.shown = text
			return transition{next: next, effect: effectRefresh, text: text}
		}
		return transition{next: next}
	}
}

func downtimeMinutes(elapsed time.Duration) int {
	return int(math.Round(elapsed.Minutes()))
}

func offlineText(display string, elapsed time.Duration) string {
	return fmt.Sprintf("`%s` has been offline for `%d` minutes.", display, downtimeMinutes(elapsed))
}

func recoveryText(display string) string {
	return fmt.Sprintf("`%s` is now back online!", display)
}

func unreachableText(name, trackedID string) string {
	return fmt.Sprintf("Target '%s' (id: %s) has become unreachable: I've stopped watching it.", name, trackedID)
}

func destinationGoneText(display, ref string) string {
	return fmt.Sprintf("The previous notification channel you set for %s has become unreachable (identifier: %s). "+
		"From now on, notifications for this target will be sent here.", display, ref)
}
