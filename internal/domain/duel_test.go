package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/errors"
)

func TestNewDuel(t *testing.T) {
	d, err := domain.NewDuel("d1", "p1", "p2", 42, time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.DuelStatusPending, d.Status)
	assert.Nil(t, d.ChallengerScore)
	assert.Nil(t, d.ChallengedScore)
	assert.Nil(t, d.WinnerID)

	_, err = domain.NewDuel("d2", "p1", "p1", 42, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ReasonValidation, errors.Convert(err).Reason)
}

func TestDuel_SubmitScore(t *testing.T) {
	type submission struct {
		player string
		score  int64
	}

	tests := map[string]struct {
		status      domain.DuelStatus
		submissions []submission
		assert      func(t *testing.T, d domain.Duel)
	}{
		"challenger then challenged, challenger wins": {
			status:      domain.DuelStatusActive,
			submissions: []submission{{"p1", 9000}, {"p2", 7000}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusCompleted, d.Status)
				require.NotNil(t, d.WinnerID)
				assert.Equal(t, "p1", *d.WinnerID)
			},
		},

		"challenged then challenger, challenger wins": {
			status:      domain.DuelStatusActive,
			submissions: []submission{{"p2", 7000}, {"p1", 9000}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusCompleted, d.Status)
				require.NotNil(t, d.WinnerID)
				assert.Equal(t, "p1", *d.WinnerID)
			},
		},

		"challenged wins": {
			status:      domain.DuelStatusActive,
			submissions: []submission{{"p1", 100}, {"p2", 200}},
			assert: func(t *testing.T, d domain.Duel) {
				require.NotNil(t, d.WinnerID)
				assert.Equal(t, "p2", *d.WinnerID)
			},
		},

		"equal scores complete without winner": {
			status:      domain.DuelStatusActive,
			submissions: []submission{{"p1", 5000}, {"p2", 5000}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusCompleted, d.Status)
				assert.Nil(t, d.WinnerID)
			},
		},

		"a single score keeps the duel half resolved": {
			status:      domain.DuelStatusActive,
			submissions: []submission{{"p2", 300}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusActive, d.Status)
				assert.Nil(t, d.ChallengerScore)
				require.NotNil(t, d.ChallengedScore)
				assert.Equal(t, int64(300), *d.ChallengedScore)
				assert.Nil(t, d.WinnerID)
			},
		},

		"challenger plays a pending duel before it is accepted": {
			status:      domain.DuelStatusPending,
			submissions: []submission{{"p1", 300}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusPending, d.Status)
			},
		},

		"both scores on a pending duel complete it": {
			status:      domain.DuelStatusPending,
			submissions: []submission{{"p1", 300}, {"p2", 400}},
			assert: func(t *testing.T, d domain.Duel) {
				assert.Equal(t, domain.DuelStatusCompleted, d.Status)
				require.NotNil(t, d.WinnerID)
				assert.Equal(t, "p2", *d.WinnerID)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := newDuel(t, tt.status)
			for _, s := range tt.submissions {
				require.NoError(t, d.SubmitScore(s.player, s.score))
			}

			tt.assert(t, d)
		})
	}
}

func TestDuel_SubmitScore_Commutative(t *testing.T) {
	for _, scores := range [][2]int64{{9000, 7000}, {7000, 9000}, {5000, 5000}, {0, 1}} {
		ab := newDuel(t, domain.DuelStatusActive)
		require.NoError(t, ab.SubmitScore("p1", scores[0]))
		require.NoError(t, ab.SubmitScore("p2", scores[1]))

		ba := newDuel(t, domain.DuelStatusActive)
		require.NoError(t, ba.SubmitScore("p2", scores[1]))
		require.NoError(t, ba.SubmitScore("p1", scores[0]))

		assert.Equal(t, ab, ba, "scores %v", scores)
	}
}

func TestDuel_SubmitScore_Errors(t *testing.T) {
	tests := map[string]struct {
		arrange func(t *testing.T) domain.Duel
		player  string
		score   int64
		reason  errors.Reason
	}{
		"resubmission": {
			arrange: func(t *testing.T) domain.Duel {
				d := newDuel(t, domain.DuelStatusActive)
				require.NoError(t, d.SubmitScore("p1", 10))
				return d
			},
			player: "p1",
			score:  20,
			reason: errors.ReasonAlreadySubmitted,
		},

		"stranger": {
			arrange: func(t *testing.T) domain.Duel { return newDuel(t, domain.DuelStatusActive) },
			player:  "p3",
			score:   20,
			reason:  errors.ReasonValidation,
		},

		"negative score": {
			arrange: func(t *testing.T) domain.Duel { return newDuel(t, domain.DuelStatusActive) },
			player:  "p1",
			score:   -1,
			reason:  errors.ReasonValidation,
		},

		"declined duel": {
			arrange: func(t *testing.T) domain.Duel { return newDuel(t, domain.DuelStatusDeclined) },
			player:  "p1",
			score:   20,
			reason:  errors.ReasonInvalidTransition,
		},

		"completed duel": {
			arrange: func(t *testing.T) domain.Duel {
				d := newDuel(t, domain.DuelStatusActive)
				require.NoError(t, d.SubmitScore("p1", 10))
				require.NoError(t, d.SubmitScore("p2", 10))
				return d
			},
			player: "p1",
			score:  20,
			reason: errors.ReasonInvalidTransition,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := tt.arrange(t)
			before := d

			err := d.SubmitScore(tt.player, tt.score)
			require.Error(t, err)
			assert.Equal(t, tt.reason, errors.Convert(err).Reason)
			assert.Equal(t, before, d, "duel should be left unchanged")
		})
	}
}

func TestDuel_Transitions(t *testing.T) {
	d := newDuel(t, domain.DuelStatusPending)
	require.NoError(t, d.Accept())
	assert.Equal(t, domain.DuelStatusActive, d.Status)

	err := d.Accept()
	assert.Equal(t, errors.ReasonInvalidTransition, errors.Convert(err).Reason)
	err = d.Decline()
	assert.Equal(t, errors.ReasonInvalidTransition, errors.Convert(err).Reason)

	d = newDuel(t, domain.DuelStatusPending)
	require.NoError(t, d.Decline())
	assert.Equal(t, domain.DuelStatusDeclined, d.Status)

	err = d.Accept()
	assert.Equal(t, errors.ReasonInvalidTransition, errors.Convert(err).Reason)
}

func TestDuel_Derivations(t *testing.T) {
	pending := newDuel(t, domain.DuelStatusPending)
	assert.True(t, pending.AwaitingAction("p1"), "challenger can play a pending duel")
	assert.False(t, pending.AwaitingAction("p2"), "challenged must accept first")
	assert.True(t, pending.AwaitingResponse("p2"))
	assert.False(t, pending.AwaitingResponse("p1"))

	active := newDuel(t, domain.DuelStatusActive)
	assert.True(t, active.AwaitingAction("p1"))
	assert.True(t, active.AwaitingAction("p2"))
	assert.False(t, active.AwaitingResponse("p2"))

	require.NoError(t, active.SubmitScore("p2", 10))
	assert.False(t, active.AwaitingAction("p2"))
	assert.True(t, active.AwaitingAction("p1"))
	assert.Equal(t, "p1", active.OpponentOf("p2"))
	assert.Equal(t, int64(10), *active.ScoreOf("p2"))
	assert.False(t, active.AwaitingAction("p3"))
}

func newDuel(t *testing.T, status domain.DuelStatus) domain.Duel {
	t.Helper()

	d, err := domain.NewDuel("d1", "p1", "p2", 1234, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	d.Status = status
	return d
}
