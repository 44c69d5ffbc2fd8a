package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/storage"
)

// Storage is an in-memory implementation of storage.Store, used for local
// runs and tests. A single mutex serialises every update.
type Storage struct {
	mu      sync.RWMutex
	players map[string]domain.Player
	stats   map[string]domain.PlayerStats
	duels   map[string]domain.Duel
}

var _ storage.Store = (*Storage)(nil)

func New() *Storage {
	return &Storage{
		players: make(map[string]domain.Player),
		stats:   make(map[string]domain.PlayerStats),
		duels:   make(map[string]domain.Duel),
	}
}

func (s *Storage) CreatePlayer(_ context.Context, p *domain.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.players[p.ID] = *p
	return nil
}

func (s *Storage) GetPlayer(_ context.Context, id string) (*domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Storage) ListPlayers(_ context.Context) ([]domain.PlayerWithStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]domain.PlayerWithStats, 0, len(s.players))
	for id, p := range s.players {
		st := s.stats[id]
		st.PlayerID = id
		res = append(res, domain.PlayerWithStats{Player: p, Stats: st})
	}

	slices.SortFunc(res, func(a, b domain.PlayerWithStats) int {
		return b.CreateTime.Compare(a.CreateTime)
	})
	return res, nil
}

func (s *Storage) DeletePlayer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[id]; !ok {
		return storage.ErrNotFound
	}

	for did, d := range s.duels {
		if d.ChallengerID == id || d.ChallengedID == id {
			delete(s.duels, did)
		}
	}
	delete(s.stats, id)
	delete(s.players, id)
	return nil
}

func (s *Storage) GetStats(_ context.Context, playerID string) (*domain.PlayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[playerID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &st, nil
}

func (s *Storage) UpdateStats(_ context.Context, playerID string, fn func(s *domain.PlayerStats) error) (*domain.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[playerID]; !ok {
		return nil, storage.ErrNotFound
	}

	st, ok := s.stats[playerID]
	if !ok {
		st = domain.PlayerStats{PlayerID: playerID}
	}

	if err := fn(&st); err != nil {
		return nil, err
	}

	s.stats[playerID] = st
	return &st, nil
}

func (s *Storage) CreateDuel(_ context.Context, d *domain.Duel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.duels[d.ID] = cloneDuel(*d)
	return nil
}

func (s *Storage) GetDuel(_ context.Context, id string) (*domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.duels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	d = cloneDuel(d)
	return &d, nil
}

func (s *Storage) UpdateDuel(_ context.Context, id string, fn func(d *domain.Duel) error) (*domain.Duel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.duels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}

	d = cloneDuel(d)
	if err := fn(&d); err != nil {
		return nil, err
	}

	s.duels[id] = cloneDuel(d)
	return &d, nil
}

func (s *Storage) ListOpenDuels(_ context.Context, playerID string) ([]domain.Duel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []domain.Duel
	for _, d := range s.duels {
		if !d.Status.Open() {
			continue
		}
		if d.ChallengerID != playerID && d.ChallengedID != playerID {
			continue
		}
		res = append(res, cloneDuel(d))
	}

	slices.SortFunc(res, func(a, b domain.Duel) int {
		if c := b.CreateTime.Compare(a.CreateTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return res, nil
}

// cloneDuel copies the nullable fields so callers never share pointers with
// the stored record.
func cloneDuel(d domain.Duel) domain.Duel {
	d.ChallengerScore = clonePtr(d.ChallengerScore)
	d.ChallengedScore = clonePtr(d.ChallengedScore)
	d.WinnerID = clonePtr(d.WinnerID)
	return d
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
