package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage_GetMissing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectGet("shop:k").RedisNil()

	_, err := s.Get(context.Background(), "shop:k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_GetValue(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectGet("shop:k").SetVal(`{"data":1}`)

	raw, err := s.Get(context.Background(), "shop:k")
	require.NoError(t, err)
	assert.Equal(t, `{"data":1}`, string(raw))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_GetError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectGet("shop:k").SetErr(errors.New("connection refused"))

	_, err := s.Get(context.Background(), "shop:k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStorage_SetOOMMapsToQuota(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectSet("shop:k", []byte("v"), 0).
		SetErr(errors.New("OOM command not allowed when used memory > 'maxmemory'."))

	err := s.Set(context.Background(), "shop:k", []byte("v"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_SetOK(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectSet("shop:k", []byte("v"), 0).SetVal("OK")

	assert.NoError(t, s.Set(context.Background(), "shop:k", []byte("v")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_DeleteNoKeys(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	assert.NoError(t, s.Delete(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectDel("shop:a", "shop:b").SetVal(2)

	assert.NoError(t, s.Delete(context.Background(), "shop:a", "shop:b"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_KeysFollowsCursor(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectScan(0, "shop:*", scanBatchSize).SetVal([]string{"shop:a"}, 7)
	mock.ExpectScan(7, "shop:*", scanBatchSize).SetVal([]string{"shop:b"}, 0)

	keys, err := s.Keys(context.Background(), "shop:")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop:a", "shop:b"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_KeysDeduplicatesAcrossPages(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectScan(0, "shop:*", scanBatchSize).SetVal([]string{"shop:a", "shop:b"}, 3)
	mock.ExpectScan(3, "shop:*", scanBatchSize).SetVal([]string{"shop:b", "shop:c", "shop:a"}, 0)

	keys, err := s.Keys(context.Background(), "shop:")
	require.NoError(t, err)
	assert.Equal(t, []string{"shop:a", "shop:b", "shop:c"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStorage_KeysEscapesGlob(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewRedisStorage(client)

	mock.ExpectScan(0, `sh\*p:*`, scanBatchSize).SetVal(nil, 0)

	keys, err := s.Keys(context.Background(), "sh*p:")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "plain", escapeGlob("plain"))
	assert.Equal(t, `a\?b\[c\]d\\`, escapeGlob(`a?b[c]d\`))
}

func TestManager_OverRedisQuotaEviction(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.MatchExpectationsInOrder(true)
	m, _ := newTestManager(NewRedisStorage(client), "shop")
	ctx := context.Background()

	oom := errors.New("OOM command not allowed when used memory > 'maxmemory'.")
	value := []byte(`{"data":"v","storedAt":1749988800000,"expiresAt":1749992400000}`)

	mock.ExpectSet("shop:k", value, 0).SetErr(oom)
	mock.ExpectScan(0, "shop:*", scanBatchSize).SetVal([]string{"shop:old"}, 0)
	mock.ExpectGet("shop:old").SetVal(`{"data":"x","storedAt":1,"expiresAt":2}`)
	mock.ExpectDel("shop:old").SetVal(1)
	mock.ExpectSet("shop:k", value, 0).SetVal("OK")

	Set(ctx, m, "k", "v", time.Hour)

	assert.NoError(t, mock.ExpectationsWereMet())
}
