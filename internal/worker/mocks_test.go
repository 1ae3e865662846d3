package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoopmetrics/learning-engine/internal/models"
	"github.com/hoopmetrics/learning-engine/internal/storage"
)

// mockGameSource serves scripted batches, one per fetch call.
type mockGameSource struct {
	mu        sync.Mutex
	batches   [][]models.GameRecord
	fetchErr  error
	markErr   error
	processed []uuid.UUID
	recent    bool
}

func (m *mockGameSource) NextUnprocessedGames(ctx context.Context, limit int) ([]models.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	if len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

func (m *mockGameSource) MarkProcessed(ctx context.Context, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	m.processed = append(m.processed, gameID)
	return nil
}

func (m *mockGameSource) TeamHasRecentGames(ctx context.Context, teamID string, before time.Time, window time.Duration) (bool, error) {
	return m.recent, nil
}

func (m *mockGameSource) processedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.processed...)
}

// repeatingGameSource mimics the real queue: every fetch returns the games
// not yet marked processed, so a loop that marks nothing makes no progress.
type repeatingGameSource struct {
	mu        sync.Mutex
	pending   []models.GameRecord
	processed map[uuid.UUID]bool
	fetches   int
	recent    bool
}

func (m *repeatingGameSource) NextUnprocessedGames(ctx context.Context, limit int) ([]models.GameRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	var out []models.GameRecord
	for _, g := range m.pending {
		if m.processed[g.GameID] {
			continue
		}
		out = append(out, g)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *repeatingGameSource) MarkProcessed(ctx context.Context, gameID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed == nil {
		m.processed = make(map[uuid.UUID]bool)
	}
	m.processed[gameID] = true
	return nil
}

func (m *repeatingGameSource) TeamHasRecentGames(ctx context.Context, teamID string, before time.Time, window time.Duration) (bool, error) {
	return m.recent, nil
}

func (m *repeatingGameSource) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// mockFeatureSource returns canned features, with optional per-game errors
// and an optional hook invoked on every extraction.
type mockFeatureSource struct {
	errs   map[uuid.UUID]error
	onCall func(game models.GameRecord)
}

func (m *mockFeatureSource) ExtractFeatures(ctx context.Context, game models.GameRecord) (*models.GameFeatures, error) {
	if m.onCall != nil {
		m.onCall(game)
	}
	if err, ok := m.errs[game.GameID]; ok {
		return nil, err
	}
	return makeFeatures(), nil
}

// mockPosteriorStore is an in-memory posterior map.
type mockPosteriorStore struct {
	mu      sync.Mutex
	data    map[string]*models.TeamPosterior
	saveErr error
	saves   int
}

func newMockPosteriorStore() *mockPosteriorStore {
	return &mockPosteriorStore{data: make(map[string]*models.TeamPosterior)}
}

func (m *mockPosteriorStore) GetTeamPosterior(ctx context.Context, teamID string) (*models.TeamPosterior, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.data[teamID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

func (m *mockPosteriorStore) SaveTeamPosterior(ctx context.Context, p *models.TeamPosterior) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[p.TeamID] = p.Clone()
	m.saves++
	return nil
}

// mockWeightStore keeps the latest snapshot per model.
type mockWeightStore struct {
	mu    sync.Mutex
	snaps map[string]*models.WeightSnapshot
	saves int
}

func newMockWeightStore() *mockWeightStore {
	return &mockWeightStore{snaps: make(map[string]*models.WeightSnapshot)}
}

func (m *mockWeightStore) LoadModelWeights(ctx context.Context, modelName string) (*models.WeightSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[modelName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap, nil
}

func (m *mockWeightStore) SaveModelWeights(ctx context.Context, snap *models.WeightSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ModelName] = snap
	m.saves++
	return nil
}

// mockFeedbackStore holds the singleton feedback state.
type mockFeedbackStore struct {
	mu    sync.Mutex
	state *models.FeedbackState
}

func (m *mockFeedbackStore) LoadFeedbackState(ctx context.Context) (*models.FeedbackState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, storage.ErrNotFound
	}
	s := *m.state
	return &s, nil
}

func (m *mockFeedbackStore) SaveFeedbackState(ctx context.Context, s models.FeedbackState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}

func makeFeatures() *models.GameFeatures {
	home := make(models.FeatureVector, models.FeatureDim)
	away := make(models.FeatureVector, models.FeatureDim)
	for i := range home {
		home[i] = 0.5
		away[i] = 0.4
	}
	events := make(models.EventProbabilityVector, models.EventDim)
	for i := range events {
		events[i] = 1.0 / float64(models.EventDim)
	}
	return &models.GameFeatures{
		Home:       home,
		Away:       away,
		HomeEvents: append(models.EventProbabilityVector(nil), events...),
		AwayEvents: append(models.EventProbabilityVector(nil), events...),
		Context:    models.NewGameContext(false, false),
	}
}
