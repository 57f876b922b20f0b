package realtime

import "encoding/json"

// ChannelKind discriminates the three logical channel families.
type ChannelKind string

const (
	ChannelMatch      ChannelKind = "match"
	ChannelUser       ChannelKind = "user"
	ChannelTournament ChannelKind = "tournament"
)

// Server-pushed event names. These are wire literals and must match the
// backend's broadcast event names exactly.
const (
	EventMatchScoreUpdated  = "MatchScoreUpdated"
	EventMatchSetCompleted  = "MatchSetCompleted"
	EventMatchStatusChanged = "MatchStatusChanged"
	EventMatchStarted       = "MatchStarted"
	EventMatchFinished      = "MatchFinished"
	EventRotationUpdated    = "RotationUpdated"
	EventSanctionIssued     = "SanctionIssued"
	EventTimeoutCalled      = "TimeoutCalled"
	EventSubstitutionMade   = "SubstitutionMade"

	EventNotificationReceived = "NotificationReceived"
	EventUserProfileUpdated   = "UserProfileUpdated"
	EventSanctionApplied      = "SanctionApplied"

	EventTournamentUpdate = "TournamentUpdate"
	EventStandingsUpdated = "StandingsUpdated"
	EventMatchScheduled   = "MatchScheduled"
)

// EventHandler receives the event payload verbatim. Payload schemas belong to
// the screens consuming them; this layer forwards opaque JSON.
type EventHandler func(payload json.RawMessage)

// MatchHandlers names the handlers a screen may attach to a match channel.
// Nil fields are simply not bound.
type MatchHandlers struct {
	OnScoreUpdated     EventHandler
	OnSetCompleted     EventHandler
	OnStatusChanged    EventHandler
	OnMatchStarted     EventHandler
	OnMatchFinished    EventHandler
	OnRotationUpdated  EventHandler
	OnSanctionIssued   EventHandler
	OnTimeoutCalled    EventHandler
	OnSubstitutionMade EventHandler

	// OnError receives transport-level runtime errors, not match events.
	OnError func(error)
}

func (h MatchHandlers) bindings() map[string]EventHandler {
	return collect(map[string]EventHandler{
		EventMatchScoreUpdated:  h.OnScoreUpdated,
		EventMatchSetCompleted:  h.OnSetCompleted,
		EventMatchStatusChanged: h.OnStatusChanged,
		EventMatchStarted:       h.OnMatchStarted,
		EventMatchFinished:      h.OnMatchFinished,
		EventRotationUpdated:    h.OnRotationUpdated,
		EventSanctionIssued:     h.OnSanctionIssued,
		EventTimeoutCalled:      h.OnTimeoutCalled,
		EventSubstitutionMade:   h.OnSubstitutionMade,
	})
}

// UserHandlers names the handlers for the private per-user channel.
type UserHandlers struct {
	OnNotificationReceived EventHandler
	OnProfileUpdated       EventHandler
	OnSanctionApplied      EventHandler

	OnError func(error)
}

func (h UserHandlers) bindings() map[string]EventHandler {
	return collect(map[string]EventHandler{
		EventNotificationReceived: h.OnNotificationReceived,
		EventUserProfileUpdated:   h.OnProfileUpdated,
		EventSanctionApplied:      h.OnSanctionApplied,
	})
}

// TournamentHandlers names the handlers for a tournament channel.
type TournamentHandlers struct {
	OnTournamentUpdate EventHandler
	OnStandingsUpdated EventHandler
	OnMatchScheduled   EventHandler

	OnError func(error)
}

func (h TournamentHandlers) bindings() map[string]EventHandler {
	return collect(map[string]EventHandler{
		EventTournamentUpdate: h.OnTournamentUpdate,
		EventStandingsUpdated: h.OnStandingsUpdated,
		EventMatchScheduled:   h.OnMatchScheduled,
	})
}

// collect drops nil handlers so absent fields are never bound.
func collect(all map[string]EventHandler) map[string]EventHandler {
	bound := make(map[string]EventHandler, len(all))
	for event, fn := range all {
		if fn != nil {
			bound[event] = fn
		}
	}
	return bound
}
