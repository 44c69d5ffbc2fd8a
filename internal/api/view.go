package api

import (
	"time"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/duel"
	"github.com/victornm/duelhub/internal/identity"
	"github.com/victornm/duelhub/internal/score"
	"github.com/victornm/duelhub/internal/session"
)

type (
	Session struct {
		ID          string       `json:"id"`
		Step        session.Step `json:"step"`
		AAL         identity.AAL `json:"aal"`
		Email       string       `json:"email"`
		ChallengeID string       `json:"challenge_id,omitempty"`
		Enrollment  *Enrollment  `json:"enrollment,omitempty"`
		// AccessToken is only handed out once the session is authenticated.
		AccessToken string `json:"access_token,omitempty"`
	}

	Enrollment struct {
		QRCode string `json:"qr_code"`
		Secret string `json:"secret"`
	}

	User struct {
		ID             string     `json:"id"`
		Email          string     `json:"email"`
		EmailConfirmed bool       `json:"email_confirmed"`
		MFAEnabled     bool       `json:"mfa_enabled"`
		CreateTime     time.Time  `json:"create_time"`
		LastSignInTime *time.Time `json:"last_sign_in_time,omitempty"`
	}

	Player struct {
		ID          string    `json:"id"`
		Username    string    `json:"username"`
		PhotoURL    string    `json:"photo_url,omitempty"`
		Bot         bool      `json:"bot"`
		HighScore   int64     `json:"high_score"`
		GamesPlayed int64     `json:"games_played"`
		CreateTime  time.Time `json:"create_time"`
	}

	Stats struct {
		PlayerID    string `json:"player_id"`
		GamesPlayed int64  `json:"games_played"`
		HighScore   int64  `json:"high_score"`
	}

	Dashboard struct {
		TotalPlayers     int64  `json:"total_players"`
		RealPlayers      int64  `json:"real_players"`
		BotPlayers       int64  `json:"bot_players"`
		TotalGames       int64  `json:"total_games"`
		BestScore        int64  `json:"best_score"`
		BestScoreText    string `json:"best_score_text"`
		AverageHighScore string `json:"average_high_score"`
	}

	Duel struct {
		ID              string            `json:"id"`
		ChallengerID    string            `json:"challenger_id"`
		ChallengedID    string            `json:"challenged_id"`
		Seed            int64             `json:"seed"`
		Status          domain.DuelStatus `json:"status"`
		ChallengerScore *int64            `json:"challenger_score"`
		ChallengedScore *int64            `json:"challenged_score"`
		WinnerID        *string           `json:"winner_id"`
		CreateTime      time.Time         `json:"create_time"`
	}

	Opponent struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		PhotoURL string `json:"photo_url,omitempty"`
	}

	PlayerDuel struct {
		Duel          Duel     `json:"duel"`
		IsChallenger  bool     `json:"is_challenger"`
		Opponent      Opponent `json:"opponent"`
		MyScore       *int64   `json:"my_score"`
		OpponentScore *int64   `json:"opponent_score"`
	}

	PlayerDuels struct {
		AwaitingResponse []PlayerDuel `json:"awaiting_response"`
		Playable         []PlayerDuel `json:"playable"`
		Opponents        []Opponent   `json:"opponents"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Rank      int    `json:"rank"`
		PlayerID  string `json:"player_id"`
		HighScore int64  `json:"high_score"`
	}
)

func newSession(s *session.Session) Session {
	v := Session{
		ID:          s.ID,
		Step:        s.Step,
		AAL:         s.AAL,
		Email:       s.Email,
		ChallengeID: s.ChallengeID,
	}
	if s.Enrollment != nil {
		v.Enrollment = &Enrollment{QRCode: s.Enrollment.QRCode, Secret: s.Enrollment.Secret}
	}
	if s.Step == session.StepAuthenticated {
		v.AccessToken = s.AccessToken
	}
	return v
}

func newUser(u identity.User) User {
	return User{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmed,
		MFAEnabled:     len(identity.VerifiedFactors(u.Factors)) > 0,
		CreateTime:     u.CreateTime,
		LastSignInTime: u.LastSignInTime,
	}
}

func newPlayer(p domain.PlayerWithStats) Player {
	return Player{
		ID:          p.ID,
		Username:    p.Username,
		PhotoURL:    p.PhotoURL,
		Bot:         p.IsBot(),
		HighScore:   p.Stats.HighScore,
		GamesPlayed: p.Stats.GamesPlayed,
		CreateTime:  p.CreateTime,
	}
}

func newStats(st *domain.PlayerStats) Stats {
	return Stats{
		PlayerID:    st.PlayerID,
		GamesPlayed: st.GamesPlayed,
		HighScore:   st.HighScore,
	}
}

func newDashboard(d *score.Dashboard) Dashboard {
	return Dashboard{
		TotalPlayers:     d.TotalPlayers,
		RealPlayers:      d.RealPlayers,
		BotPlayers:       d.BotPlayers,
		TotalGames:       d.TotalGames,
		BestScore:        d.BestScore,
		BestScoreText:    score.FormatCompact(d.BestScore),
		AverageHighScore: d.AverageHighScore.StringFixed(2),
	}
}

func newDuel(d domain.Duel) Duel {
	return Duel{
		ID:              d.ID,
		ChallengerID:    d.ChallengerID,
		ChallengedID:    d.ChallengedID,
		Seed:            d.Seed,
		Status:          d.Status,
		ChallengerScore: d.ChallengerScore,
		ChallengedScore: d.ChallengedScore,
		WinnerID:        d.WinnerID,
		CreateTime:      d.CreateTime,
	}
}

func newOpponent(o duel.Opponent) Opponent {
	return Opponent(o)
}

func newPlayerDuels(pd *duel.PlayerDuels) PlayerDuels {
	conv := func(in []duel.PlayerDuel) []PlayerDuel {
		out := make([]PlayerDuel, 0, len(in))
		for _, d := range in {
			out = append(out, PlayerDuel{
				Duel:          newDuel(d.Duel),
				IsChallenger:  d.IsChallenger,
				Opponent:      newOpponent(d.Opponent),
				MyScore:       d.MyScore,
				OpponentScore: d.OpponentScore,
			})
		}
		return out
	}

	v := PlayerDuels{
		AwaitingResponse: conv(pd.AwaitingResponse),
		Playable:         conv(pd.Playable),
		Opponents:        make([]Opponent, 0, len(pd.Opponents)),
	}
	for _, o := range pd.Opponents {
		v.Opponents = append(v.Opponents, newOpponent(o))
	}
	return v
}

func newLeaderboard(l *domain.Leaderboard) Leaderboard {
	v := Leaderboard{Entries: make([]LeaderboardEntry, 0, len(l.Entries))}
	for i, e := range l.Entries {
		v.Entries = append(v.Entries, LeaderboardEntry{
			Rank:      i + 1,
			PlayerID:  e.PlayerID,
			HighScore: e.HighScore,
		})
	}
	return v
}
