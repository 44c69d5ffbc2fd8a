package domain

const (
	EventNameDuelCreated        = "duel.created"
	EventNameDuelAccepted       = "duel.accepted"
	EventNameDuelDeclined       = "duel.declined"
	EventNameDuelScoreSubmitted = "duel.score_submitted"
	EventNameDuelCompleted      = "duel.completed"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventDuelCreated struct {
	Duel Duel
}

func (EventDuelCreated) Name() string { return EventNameDuelCreated }

type EventDuelAccepted struct {
	Duel Duel
}

func (EventDuelAccepted) Name() string { return EventNameDuelAccepted }

type EventDuelDeclined struct {
	Duel Duel
}

func (EventDuelDeclined) Name() string { return EventNameDuelDeclined }

type EventDuelScoreSubmitted struct {
	Duel     Duel
	PlayerID string
	Score    int64
}

func (EventDuelScoreSubmitted) Name() string { return EventNameDuelScoreSubmitted }

type EventDuelCompleted struct {
	Duel Duel
}

func (EventDuelCompleted) Name() string { return EventNameDuelCompleted }

// EventScoreUpdated is published whenever a player's stats row changes.
type EventScoreUpdated struct {
	Stats PlayerStats
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
