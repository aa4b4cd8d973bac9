package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestClaimRankPriorityWins(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Minute)

	// Lower priority number is the higher priority and must sort first,
	// even when the higher-priority run was created later.
	urgent := ClaimRank(HighestPriorityWins, 1, later, uuid.New())
	bulk := ClaimRank(HighestPriorityWins, 5, now, uuid.New())
	assert.Less(t, urgent, bulk)
}

func TestClaimRankPriorityTieBreaksOnCreation(t *testing.T) {
	now := time.Now().UTC()
	earlier := ClaimRank(HighestPriorityWins, 3, now, uuid.New())
	later := ClaimRank(HighestPriorityWins, 3, now.Add(time.Second), uuid.New())
	assert.Less(t, earlier, later)
}

func TestClaimRankDeterministicOnFullTie(t *testing.T) {
	now := time.Now().UTC()
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	rankA := ClaimRank(HighestPriorityWins, 3, now, a)
	rankB := ClaimRank(HighestPriorityWins, 3, now, b)
	assert.NotEqual(t, rankA, rankB)
	assert.Less(t, rankA, rankB)
}

func TestClaimRankNegativePriorityClampsToZero(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.New()

	// The "-" sign sorts after digits, so an unclamped negative priority
	// would rank below every non-negative one.
	assert.Equal(t,
		ClaimRank(HighestPriorityWins, 0, now, id),
		ClaimRank(HighestPriorityWins, -5, now, id))
	assert.Less(t,
		ClaimRank(HighestPriorityWins, -1, now, id),
		ClaimRank(HighestPriorityWins, 1, now, id))
}

func TestClaimRankFirstQueuedIgnoresPriority(t *testing.T) {
	now := time.Now().UTC()

	// The low-priority run queued first and must win under
	// FIRST_QUEUED_WINS.
	first := ClaimRank(FirstQueuedWins, 9, now, uuid.New())
	second := ClaimRank(FirstQueuedWins, 1, now.Add(time.Millisecond), uuid.New())
	assert.Less(t, first, second)
}
