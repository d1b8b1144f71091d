package service

import (
	"context"
	"testing"

	"consensus-chat/client/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_DuplicateContentInOneBatch(t *testing.T) {
	r := NewMessageReconciler(ContentDedup{}, testLog, nil)
	log := NewSessionLog("1")

	appended := r.Merge(context.Background(), log, []models.Message{
		msg("", "assistant", "Hi", "1"),
		msg("", "assistant", "Hi", "1"),
	}, "1", OriginPush)

	require.Len(t, appended, 1)
	assert.Equal(t, []string{"Hi"}, contents(log.Messages()))
}

func TestMerge_Idempotent(t *testing.T) {
	r := NewMessageReconciler(nil, testLog, nil)
	log := NewSessionLog("1")
	batch := []models.Message{
		msg("a", "assistant", "first", "1"),
		msg("b", "assistant", "second", "1"),
	}

	for i := 0; i < 3; i++ {
		r.Merge(context.Background(), log, batch, "1", OriginPush)
	}

	assert.Equal(t, []string{"first", "second"}, contents(log.Messages()))
}

func TestMerge_DropsForeignSession(t *testing.T) {
	r := NewMessageReconciler(nil, testLog, nil)
	log := NewSessionLog("2")

	appended := r.Merge(context.Background(), log, []models.Message{
		msg("", "assistant", "Result", "1"),
		msg("", "assistant", "Mine", "2"),
	}, "2", OriginPush)

	assert.Equal(t, []string{"Mine"}, contents(appended))
	assert.Equal(t, []string{"Mine"}, contents(log.Messages()))
}

func TestMerge_LogNotActive(t *testing.T) {
	r := NewMessageReconciler(nil, testLog, nil)
	log := NewSessionLog("1")

	appended := r.Merge(context.Background(), log, []models.Message{msg("", "assistant", "x", "1")}, "2", OriginPush)

	assert.Empty(t, appended)
	assert.Zero(t, log.Len())

	assert.Empty(t, r.Merge(context.Background(), nil, []models.Message{msg("", "assistant", "x", "1")}, "1", OriginPush))
}

func TestMerge_DropsUnknownRole(t *testing.T) {
	r := NewMessageReconciler(nil, testLog, nil)
	log := NewSessionLog("1")

	appended := r.Merge(context.Background(), log, []models.Message{msg("", "tool", "x", "1")}, "1", OriginPush)

	assert.Empty(t, appended)
}

func TestMerge_PreservesArrivalOrder(t *testing.T) {
	r := NewMessageReconciler(nil, testLog, nil)
	log := NewSessionLog("1")

	r.Merge(context.Background(), log, []models.Message{
		msg("", "assistant", "c", "1"),
		msg("", "assistant", "a", "1"),
		msg("", "assistant", "b", "1"),
	}, "1", OriginPush)

	assert.Equal(t, []string{"c", "a", "b"}, contents(log.Messages()))
}

func TestLocalEchoDedupedOnlyByExactContent(t *testing.T) {
	r := NewMessageReconciler(ContentDedup{}, testLog, nil)
	log := NewSessionLog("1")
	r.AppendLocal(context.Background(), log, msg("local-1", "user", "Hello", "1"))

	appended := r.Merge(context.Background(), log, []models.Message{
		msg("srv-1", "user", "Hello", "1"),
		msg("srv-2", "user", "Hello ", "1"),
	}, "1", OriginPush)

	assert.Equal(t, []string{"Hello "}, contents(appended))
	assert.Equal(t, 2, log.Len())
}

func TestIDDedup(t *testing.T) {
	r := NewMessageReconciler(IDDedup{}, testLog, nil)
	log := NewSessionLog("1")

	appended := r.Merge(context.Background(), log, []models.Message{
		msg("m1", "assistant", "same", "1"),
		msg("m2", "assistant", "same", "1"),
		msg("m1", "assistant", "other", "1"),
		msg("", "assistant", "same", "1"),
		msg("", "assistant", "new", "1"),
	}, "1", OriginPush)

	assert.Equal(t, []string{"same", "same", "new"}, contents(appended))
}

func TestParseDedupStrategy(t *testing.T) {
	s, err := ParseDedupStrategy("")
	require.NoError(t, err)
	assert.Equal(t, "content", s.Name())

	s, err = ParseDedupStrategy("id")
	require.NoError(t, err)
	assert.Equal(t, "id", s.Name())

	_, err = ParseDedupStrategy("hash")
	assert.Error(t, err)
}

func TestSessionLog_Rekey(t *testing.T) {
	log := NewSessionLog("")
	log.append(msg("a", "user", "hello", ""))

	log.rekey("42")

	assert.Equal(t, "42", log.ID())
	assert.Equal(t, "42", log.Messages()[0].SessionID)
}

func TestSessionLog_MessagesIsACopy(t *testing.T) {
	log := NewSessionLog("1")
	log.append(msg("a", "user", "hello", "1"))

	out := log.Messages()
	out[0].Content = "changed"

	assert.Equal(t, "hello", log.Messages()[0].Content)
}
