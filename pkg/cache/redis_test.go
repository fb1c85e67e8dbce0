package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VetGrid/vetgrid-identity-core/pkg/clients/redis"
	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
	"github.com/VetGrid/vetgrid-identity-core/pkg/models"
)

// cacheTestNewRedis starts a miniredis server and wires a Redis session
// cache to it.
func cacheTestNewRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := redis.NewFromClient(rdb, nil)
	rc, err := NewRedis(DefaultRedisConfig(), client)
	require.NoError(t, err)
	return rc, mr
}

// ---------------------------------------------------------------------------
// Config tests
// ---------------------------------------------------------------------------

func TestRedisConfig_Validate(t *testing.T) {
	t.Parallel()
	cfg := RedisConfig{KeyPrefix: "x", IndexTTL: -1 * time.Second}
	err := cfg.Validate()
	require.NotNil(t, err)
	assert.Equal(t, vgerr.CodeValidation, err.Code)
}

func TestNewRedis_NilClient(t *testing.T) {
	t.Parallel()
	_, err := NewRedis(DefaultRedisConfig(), nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Get and Put tests
// ---------------------------------------------------------------------------

func TestRedis_PutGet_RoundTrip(t *testing.T) {
	t.Parallel()
	rc, _ := cacheTestNewRedis(t)
	ctx := context.Background()
	v := cacheTestVerification("user_rt")

	require.NoError(t, rc.Put(ctx, "fp-1", v, 5*time.Minute))

	got, ok, err := rc.Get(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, v.User, got.User)
	assert.Equal(t, v.Role, got.Role)
	require.NotNil(t, got.Claims)
	assert.Equal(t, "user_rt", got.Claims.Subject)
	assert.True(t, v.Claims.ExpiresAt.Equal(got.Claims.ExpiresAt))
}

func TestRedis_Get_Miss(t *testing.T) {
	t.Parallel()
	rc, _ := cacheTestNewRedis(t)

	got, ok, err := rc.Get(context.Background(), "fp-missing")
	require.NoError(t, err, "a miss is not an error")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedis_EntryExpires(t *testing.T) {
	t.Parallel()
	rc, mr := cacheTestNewRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Put(ctx, "fp-1", cacheTestVerification("user_exp"), 5*time.Second))
	mr.FastForward(6 * time.Second)

	_, ok, err := rc.Get(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok, "Redis key expiry enforces the TTL")
}

func TestRedis_Put_NonPositiveTTLStoresNothing(t *testing.T) {
	t.Parallel()
	rc, mr := cacheTestNewRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Put(ctx, "fp-1", cacheTestVerification("user_zero"), 0))
	assert.False(t, mr.Exists(rc.entryKey("fp-1")))
}

func TestRedis_Put_NilVerification(t *testing.T) {
	t.Parallel()
	rc, _ := cacheTestNewRedis(t)
	assert.Error(t, rc.Put(context.Background(), "fp-1", nil, time.Minute))
}

func TestRedis_Get_CorruptEntryDropped(t *testing.T) {
	t.Parallel()
	rc, mr := cacheTestNewRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(rc.entryKey("fp-bad"), "{not valid json"))

	_, ok, err := rc.Get(ctx, "fp-bad")
	assert.False(t, ok)
	require.Error(t, err)
	assert.False(t, mr.Exists(rc.entryKey("fp-bad")), "corrupt entries are deleted on read")
}

func TestRedis_SubjectIndexTTLRefreshed(t *testing.T) {
	t.Parallel()
	rc, mr := cacheTestNewRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Put(ctx, "fp-1", cacheTestVerification("user_idx"), 5*time.Minute))
	assert.Equal(t, 15*time.Minute, mr.TTL(rc.subjectKey("user_idx")),
		"the index set carries the configured expiry")
}

// ---------------------------------------------------------------------------
// Invalidation tests
// ---------------------------------------------------------------------------

func TestRedis_InvalidateUser_DropsAllSubjectEntries(t *testing.T) {
	t.Parallel()
	rc, mr := cacheTestNewRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Put(ctx, "fp-a1", cacheTestVerification("user_a"), time.Minute))
	require.NoError(t, rc.Put(ctx, "fp-a2", cacheTestVerification("user_a"), time.Minute))
	require.NoError(t, rc.Put(ctx, "fp-b1", cacheTestVerification("user_b"), time.Minute))

	require.NoError(t, rc.InvalidateUser(ctx, "user_a"))

	_, ok, _ := rc.Get(ctx, "fp-a1")
	assert.False(t, ok)
	_, ok, _ = rc.Get(ctx, "fp-a2")
	assert.False(t, ok)
	_, ok, _ = rc.Get(ctx, "fp-b1")
	assert.True(t, ok, "other subjects' sessions survive")

	assert.False(t, mr.Exists(rc.subjectKey("user_a")), "the index set is removed too")
}

func TestRedis_InvalidateUser_UnknownSubject(t *testing.T) {
	t.Parallel()
	rc, _ := cacheTestNewRedis(t)
	assert.NoError(t, rc.InvalidateUser(context.Background(), "user_never_seen"))
}

func TestRedis_RoleChangeVisibleAfterInvalidation(t *testing.T) {
	t.Parallel()
	rc, _ := cacheTestNewRedis(t)
	ctx := context.Background()

	before := cacheTestVerification("user_promoted")
	require.NoError(t, rc.Put(ctx, "fp-1", before, time.Minute))

	// A webhook applies a role change and invalidates the subject; the
	// next authentication stores the new outcome.
	require.NoError(t, rc.InvalidateUser(ctx, "user_promoted"))

	after := cacheTestVerification("user_promoted")
	after.Role = models.RoleClinicManager
	after.User.Role = models.RoleClinicManager
	require.NoError(t, rc.Put(ctx, "fp-2", after, time.Minute))

	got, ok, err := rc.Get(ctx, "fp-2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.RoleClinicManager, got.Role)
}
