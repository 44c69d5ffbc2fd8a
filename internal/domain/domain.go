package domain

import (
	"strings"
	"time"
)

// BotDevicePrefix marks synthetic players created from the admin console.
const BotDevicePrefix = "fake_"

// Player is a game account. The ID never changes once created.
type Player struct {
	ID         string
	Username   string
	DeviceID   string
	PhotoURL   string
	FCMToken   string
	CreateTime time.Time
}

// IsBot reports whether the player is a synthetic account.
func (p Player) IsBot() bool {
	return strings.HasPrefix(p.DeviceID, BotDevicePrefix)
}

// PlayerStats holds the aggregated game statistics of one player.
// HighScore only goes down through an explicit admin override.
type PlayerStats struct {
	PlayerID             string
	GamesPlayed          int64
	HighScore            int64
	TotalScore           int64
	TotalLinesCleared    int64
	TotalPlayTimeSeconds int64
	BestCombo            int64
}

// PlayerWithStats is a player joined with its stats row, which may be missing.
type PlayerWithStats struct {
	Player
	Stats PlayerStats
}

// Leaderboard is the list of players sorted by high score in descending order.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID  string
	HighScore int64
}
