package score

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Dashboard summarises the player base for the admin console.
type Dashboard struct {
	TotalPlayers     int64
	RealPlayers      int64
	BotPlayers       int64
	TotalGames       int64
	BestScore        int64
	AverageHighScore decimal.Decimal
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	var (
		d   Dashboard
		sum int64
	)
	for _, p := range players {
		d.TotalPlayers++
		if p.IsBot() {
			d.BotPlayers++
		}
		d.TotalGames += p.Stats.GamesPlayed
		d.BestScore = max(d.BestScore, p.Stats.HighScore)
		sum += p.Stats.HighScore
	}
	d.RealPlayers = d.TotalPlayers - d.BotPlayers

	d.AverageHighScore = decimal.Zero
	if d.TotalPlayers > 0 {
		d.AverageHighScore = decimal.NewFromInt(sum).DivRound(decimal.NewFromInt(d.TotalPlayers), 2)
	}

	return &d, nil
}

var (
	thousand = decimal.NewFromInt(1_000)
	million  = decimal.NewFromInt(1_000_000)
)

// FormatCompact renders n the way the console shows scores: 1.2K, 3.4M.
func FormatCompact(n int64) string {
	v := decimal.NewFromInt(n)
	switch {
	case n >= 1_000_000:
		return v.Div(million).StringFixed(1) + "M"
	case n >= 1_000:
		return v.Div(thousand).StringFixed(1) + "K"
	default:
		return v.String()
	}
}
