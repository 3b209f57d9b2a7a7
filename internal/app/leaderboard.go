package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"classroom-live/internal/domain"
)

// Scoring holds the fixed rewards per timely answer.
type Scoring struct {
	Correct int
	Attempt int
}

// DefaultScoring matches the classroom dashboard: 10 for correct, 2 for a timely miss.
var DefaultScoring = Scoring{Correct: 10, Attempt: 2}

// DefaultLeaderboardLimit is used when callers pass a non-positive limit.
const DefaultLeaderboardLimit = 5

// Aggregator projects a ranked leaderboard from stored graded answers.
// It keeps no state of its own.
type Aggregator struct {
	store   QuizStore
	scoring Scoring
	limit   int
	clock   Clock
}

func NewAggregator(store QuizStore, scoring Scoring, defaultLimit int, clock Clock) *Aggregator {
	if scoring.Correct == 0 && scoring.Attempt == 0 {
		scoring = DefaultScoring
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLeaderboardLimit
	}
	if clock == nil {
		clock = SystemClock()
	}
	return &Aggregator{store: store, scoring: scoring, limit: defaultLimit, clock: clock}
}

// Leaderboard ranks the room's participants.
func (a *Aggregator) Leaderboard(ctx context.Context, roomCode string, limit int) (domain.Leaderboard, error) {
	code := NormalizeCode(roomCode)
	answers, err := a.store.RoomAnswers(ctx, code)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("%w: load answers: %v", domain.ErrPersistence, err)
	}
	if limit <= 0 {
		limit = a.limit
	}
	return domain.Leaderboard{
		RoomCode:  code,
		Entries:   Rank(answers, a.scoring, limit),
		UpdatedAt: a.clock.Now().UTC(),
	}, nil
}

// QuestionStats counts answers for a single question of the room.
func (a *Aggregator) QuestionStats(ctx context.Context, roomCode, questionID string) (domain.QuestionStats, error) {
	answers, err := a.store.RoomAnswers(ctx, NormalizeCode(roomCode))
	if err != nil {
		return domain.QuestionStats{}, fmt.Errorf("%w: load answers: %v", domain.ErrPersistence, err)
	}
	stats := domain.QuestionStats{QuestionID: questionID}
	for _, ans := range answers {
		if ans.QuestionID != questionID {
			continue
		}
		if ans.Locked {
			stats.Locked++
			continue
		}
		stats.Total++
		if ans.IsCorrect {
			stats.Correct++
		}
	}
	return stats, nil
}

type tally struct {
	id           string
	name         string
	score        int
	firstCorrect time.Time
}

// Rank is the pure scoring function: score descending, then earliest first
// correct answer, then identity. Locked answers never count.
func Rank(answers []domain.GradedAnswer, scoring Scoring, limit int) []domain.LeaderboardEntry {
	ordered := make([]domain.GradedAnswer, len(answers))
	copy(ordered, answers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].AnsweredAt.Equal(ordered[j].AnsweredAt) {
			return ordered[i].AnsweredAt.Before(ordered[j].AnsweredAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	byID := make(map[string]*tally)
	for _, ans := range ordered {
		if ans.Locked || ans.ParticipantID == "" {
			continue
		}
		t, ok := byID[ans.ParticipantID]
		if !ok {
			t = &tally{id: ans.ParticipantID}
			byID[ans.ParticipantID] = t
		}
		if t.name == "" {
			t.name = ans.ParticipantName
		}
		if ans.IsCorrect {
			t.score += scoring.Correct
			if t.firstCorrect.IsZero() {
				t.firstCorrect = ans.AnsweredAt
			}
		} else {
			t.score += scoring.Attempt
		}
	}

	tallies := make([]*tally, 0, len(byID))
	for _, t := range byID {
		tallies = append(tallies, t)
	}
	sort.Slice(tallies, func(i, j int) bool {
		a, b := tallies[i], tallies[j]
		if a.score != b.score {
			return a.score > b.score
		}
		aHas, bHas := !a.firstCorrect.IsZero(), !b.firstCorrect.IsZero()
		if aHas != bHas {
			return aHas
		}
		if aHas && !a.firstCorrect.Equal(b.firstCorrect) {
			return a.firstCorrect.Before(b.firstCorrect)
		}
		return a.id < b.id
	})

	if limit > 0 && len(tallies) > limit {
		tallies = tallies[:limit]
	}
	entries := make([]domain.LeaderboardEntry, 0, len(tallies))
	for _, t := range tallies {
		name := t.name
		if name == "" {
			name = shortID(t.id)
		}
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: t.id,
			DisplayName:   name,
			Score:         t.score,
		})
	}
	return entries
}

func shortID(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
