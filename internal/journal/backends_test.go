package journal

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"netfixture/internal/command"
)

// These tests need live services and skip otherwise, the same way the TCP
// integration suite treats Redis.

func TestRedisStream_Record(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping stream journal test")
	}
	defer rdb.Close()

	stream := "netfixture:test:" + t.Name()
	rdb.Del(ctx, stream)
	defer rdb.Del(context.Background(), stream)

	rs := newRedisStreamWithClient(rdb, stream)
	ex := exchange(UDP, command.ReplyDiffPort, 12)
	require.NoError(t, rs.Record(ctx, ex))

	msgs, err := rdb.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ex.ID, msgs[0].Values["id"])
	assert.Equal(t, "reply_diff_port", msgs[0].Values["command"])
}

func TestPostgres_FlushOnClose(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres journal test")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	pg, err := NewPostgres(db)
	require.NoError(t, err)

	ex := exchange(TCP, command.EchoUntilClosed, 64)
	require.NoError(t, pg.Record(context.Background(), ex))

	verify, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, pg.Close())

	var row exchangeRow
	require.NoError(t, verify.First(&row, "id = ?", ex.ID).Error)
	assert.Equal(t, "echo_until_closed", row.Command)
	assert.Equal(t, 64, row.BytesIn)
	verify.Delete(&row)
}

func TestPostgres_RecordAfterClose(t *testing.T) {
	pg := &Postgres{writeChan: make(chan exchangeRow, 1)}
	pg.closed.Store(true)

	assert.Error(t, pg.Record(context.Background(), exchange(TCP, command.Default, 1)))
}

func TestPostgres_QueueFullDrops(t *testing.T) {
	pg := &Postgres{writeChan: make(chan exchangeRow, 1)}

	require.NoError(t, pg.Record(context.Background(), exchange(TCP, command.Default, 1)))
	assert.Error(t, pg.Record(context.Background(), exchange(TCP, command.Default, 2)))
	assert.EqualValues(t, 1, pg.Dropped())
}
