// Package redisstore keeps refresh token records in Redis.
//
// Layout: one JSON value per record under <prefix>rt:{<identity>}:<hash>, plus a set
// <prefix>rtu:{<identity>} indexing the record keys of each identity. The hash tag keeps
// an identity's keys in one cluster slot. Records live until their expiry plus a grace
// period, so an expired record is still found and reported as expired instead of looking
// like a replay.
//
// Every operation that touches both a record and the index is a single Lua script, so a
// record can never exist outside its identity's index.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
)

// DefaultGrace is how long a record outlives its expiry.
const DefaultGrace = 24 * time.Hour

// KEYS: record, index. ARGV: value, ttl in ms. The index lives as long as its longest record.
const insertScript = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2]) then
  return 0
end
redis.call("SADD", KEYS[2], KEYS[1])
if redis.call("PTTL", KEYS[2]) < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`

// KEYS: record, index.
const consumeScript = `
local v = redis.call("GET", KEYS[1])
if not v then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], KEYS[1])
return v
`

// KEYS: index. Member keys share the index's hash tag.
const deleteAllScript = `
local keys = redis.call("SMEMBERS", KEYS[1])
for i = 1, #keys, 256 do
  redis.call("DEL", unpack(keys, i, math.min(i + 255, #keys)))
end
redis.call("DEL", KEYS[1])
return #keys
`

var (
	insertLua    = redis.NewScript(insertScript)
	consumeLua   = redis.NewScript(consumeScript)
	deleteAllLua = redis.NewScript(deleteAllScript)
)

type record struct {
	ID         uuid.UUID `json:"id"`
	IdentityID uuid.UUID `json:"identity_id"`
	TokenHash  string    `json:"token_hash"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// RefreshRepo implements RefreshTokenRepository on Redis.
type RefreshRepo struct {
	rdb    redis.UniversalClient
	prefix string
	grace  time.Duration
}

// NewRefreshRepo constructs a Redis-backed refresh token repository.
func NewRefreshRepo(rdb redis.UniversalClient, prefix string, grace time.Duration) *RefreshRepo {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &RefreshRepo{rdb: rdb, prefix: prefix, grace: grace}
}

func (r *RefreshRepo) recordKey(identityID uuid.UUID, hash string) string {
	return r.prefix + "rt:{" + identityID.String() + "}:" + hash
}

func (r *RefreshRepo) indexKey(identityID uuid.UUID) string {
	return r.prefix + "rtu:{" + identityID.String() + "}"
}

func storeErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, errs.ErrStore, err)
}

// Insert stores a new record. An existing record with the same key yields errs.ErrAlreadyExists.
func (r *RefreshRepo) Insert(ctx context.Context, rec *model.RefreshRecord) error {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	data, err := json.Marshal(record{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		TokenHash:  rec.TokenHash,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
		IP:         rec.IP,
		UserAgent:  rec.UserAgent,
	})
	if err != nil {
		return err
	}

	ttl := time.Until(rec.ExpiresAt) + r.grace
	if ttl < r.grace {
		ttl = r.grace
	}
	keys := []string{r.recordKey(rec.IdentityID, rec.TokenHash), r.indexKey(rec.IdentityID)}
	created, err := insertLua.Run(ctx, r.rdb, keys, data, ttl.Milliseconds()).Int()
	if err != nil {
		return storeErr("insert refresh token", err)
	}
	if created == 0 {
		return errs.ErrAlreadyExists
	}
	return nil
}

// Consume takes the record and its index entry in one script.
func (r *RefreshRepo) Consume(ctx context.Context, identityID uuid.UUID, tokenHash string) (*model.RefreshRecord, error) {
	keys := []string{r.recordKey(identityID, tokenHash), r.indexKey(identityID)}
	data, err := consumeLua.Run(ctx, r.rdb, keys).Text()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("consume refresh token", err)
	}

	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, storeErr("decode refresh token", err)
	}
	return &model.RefreshRecord{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		TokenHash:  rec.TokenHash,
		ExpiresAt:  rec.ExpiresAt,
		CreatedAt:  rec.CreatedAt,
		IP:         rec.IP,
		UserAgent:  rec.UserAgent,
	}, nil
}

// DeleteAll removes every record of the identity along with its index. Reading the index
// and deleting happen in one script, so a concurrent Insert lands either before (and is
// deleted) or after (and stays indexed).
func (r *RefreshRepo) DeleteAll(ctx context.Context, identityID uuid.UUID) error {
	if err := deleteAllLua.Run(ctx, r.rdb, []string{r.indexKey(identityID)}).Err(); err != nil {
		return storeErr("delete refresh tokens", err)
	}
	return nil
}

// Ping implements repository.Pinger.
func (r *RefreshRepo) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return storeErr("ping redis", err)
	}
	return nil
}
