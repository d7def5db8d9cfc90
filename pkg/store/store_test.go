package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/dashborion/pkg/envelope"
)

func testRecord(hash string) *Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &Record{
		SessionHash:   hash,
		Payload:       &envelope.Envelope{Ciphertext: "Y2lwaGVydGV4dA==", Nonce: "bm9uY2U=", Tag: "dGFn"},
		CreatedAt:     now,
		ExpiresAt:     now.Add(8 * time.Hour),
		ClientIPHash:  "3f8a61bc",
		UserAgentHash: "9c2d04ef",
	}
}

// exerciseStore runs the shared contract every backend must satisfy.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := testRecord("abc123")
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, rec.SessionHash, got.SessionHash)
	assert.Equal(t, rec.Payload, got.Payload)
	assert.Equal(t, rec.CreatedAt.Unix(), got.CreatedAt.Unix())
	assert.Equal(t, rec.ExpiresAt.Unix(), got.ExpiresAt.Unix())
	assert.Equal(t, rec.ClientIPHash, got.ClientIPHash)
	assert.Equal(t, rec.UserAgentHash, got.UserAgentHash)

	// upsert replaces
	updated := testRecord("abc123")
	updated.Payload = &envelope.Envelope{Ciphertext: "b3RoZXI="}
	require.NoError(t, s.Put(ctx, updated))
	got, err = s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, updated.Payload, got.Payload)

	require.NoError(t, s.Delete(ctx, "abc123"))
	_, err = s.Get(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting an absent record is fine
	assert.NoError(t, s.Delete(ctx, "abc123"))

	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreDropsRecordsPastRetention(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := testRecord("old")
	rec.ExpiresAt = time.Now().Add(-25 * time.Hour)
	require.NoError(t, s.Put(ctx, rec))

	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestRedisStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	rec := testRecord("ttl")
	require.NoError(t, s.Put(ctx, rec))

	// a day past logical expiry the key is gone
	mr.FastForward(rec.ExpiresAt.Add(retentionPastExpiry).Sub(time.Now()) + time.Minute)
	_, err := s.Get(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRejectsRecordPastRetention(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)
	t.Cleanup(func() { s.Close() })

	rec := testRecord("stale")
	rec.ExpiresAt = time.Now().Add(-25 * time.Hour)
	assert.Error(t, s.Put(context.Background(), rec))
}

// fakeDynamo implements DynamoAPI over an in-memory item map.
type fakeDynamo struct {
	items map[string]map[string]dynamotypes.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]dynamotypes.AttributeValue)}
}

func itemKey(item map[string]dynamotypes.AttributeValue) string {
	pk := item["PK"].(*dynamotypes.AttributeValueMemberS).Value
	sk := item["SK"].(*dynamotypes.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[itemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &dynamotypes.TableDescription{TableStatus: dynamotypes.TableStatusActive},
	}, nil
}

func TestDynamoStore(t *testing.T) {
	s, err := NewDynamoStore(newFakeDynamo(), "dashborion-sessions")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestDynamoStoreTTLAttribute(t *testing.T) {
	fake := newFakeDynamo()
	s, err := NewDynamoStore(fake, "dashborion-sessions")
	require.NoError(t, err)

	rec := testRecord("ttlcheck")
	require.NoError(t, s.Put(context.Background(), rec))

	item := fake.items["SESSION#ttlcheck|META"]
	require.NotNil(t, item)
	ttlAttr, ok := item["ttl"].(*dynamotypes.AttributeValueMemberN)
	require.True(t, ok, "ttl should be a numeric attribute")
	assert.Equal(t, "SESSION#ttlcheck", item["PK"].(*dynamotypes.AttributeValueMemberS).Value)
	want := rec.ExpiresAt.Add(retentionPastExpiry).Unix()
	assert.Equal(t, want, mustParseInt(t, ttlAttr.Value))
}

func TestNewDynamoStoreRequiresTable(t *testing.T) {
	_, err := NewDynamoStore(newFakeDynamo(), "")
	assert.Error(t, err)
}

func mustParseInt(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
