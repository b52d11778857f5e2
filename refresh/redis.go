package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	recordPrefix = "rt:"
	familyPrefix = "rf:"
	userPrefix   = "ru:"
	expiryIndex  = "rx"
)

const (
	rotateStatusInvalid int64 = 0
	rotateStatusReused  int64 = 1
	rotateStatusExpired int64 = 2
	rotateStatusRotated int64 = 3
)

const revokeFamilyLua = `
local function revoke_family(fam)
  local ids = redis.call("SMEMBERS", "rf:" .. fam)
  local n = 0
  for _, id in ipairs(ids) do
    local k = "rt:" .. id
    if redis.call("HGET", k, "rev") == "0" then
      redis.call("HSET", k, "rev", "1")
      n = n + 1
    end
  end
  return n
end
`

// KEYS: presented record, successor record, expiry index.
// ARGV: presented hash, now ms, successor hash, successor exp ms, successor id, ip, user agent.
// Returns {status, family, user, revoked}.
var rotateScript = redis.NewScript(revokeFamilyLua + `
local rec = redis.call("HMGET", KEYS[1], "fam", "uid", "hash", "exp", "rev")
if not rec[1] then
  return {0, "", "", 0}
end
local fam = rec[1]
local uid = rec[2]
if rec[3] ~= ARGV[1] then
  return {0, "", "", 0}
end

local now = tonumber(ARGV[2])
if rec[5] == "1" then
  return {1, fam, uid, revoke_family(fam)}
end
if now >= tonumber(rec[4]) then
  return {2, fam, uid, revoke_family(fam)}
end

redis.call("HSET", KEYS[1], "rev", "1", "next", ARGV[5], "used", ARGV[2])
redis.call("HSET", KEYS[2],
  "fam", fam, "uid", uid, "hash", ARGV[3],
  "iat", ARGV[2], "exp", ARGV[4], "rev", "0",
  "ip", ARGV[6], "ua", ARGV[7], "used", ARGV[2])
redis.call("SADD", "rf:" .. fam, ARGV[5])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
return {3, fam, uid, 0}
`)

var revokeFamilyScript = redis.NewScript(revokeFamilyLua + `
return revoke_family(ARGV[1])
`)

// KEYS: user family set.
var revokeUserScript = redis.NewScript(revokeFamilyLua + `
local fams = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, fam in ipairs(fams) do
  n = n + revoke_family(fam)
end
return n
`)

// KEYS: expiry index. ARGV: cutoff ms, batch.
var sweepScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", "0", ARGV[2])
for _, id in ipairs(ids) do
  local k = "rt:" .. id
  local fam = redis.call("HGET", k, "fam")
  local uid = redis.call("HGET", k, "uid")
  redis.call("DEL", k)
  redis.call("ZREM", KEYS[1], id)
  if fam then
    local fk = "rf:" .. fam
    redis.call("SREM", fk, id)
    if redis.call("SCARD", fk) == 0 then
      redis.call("DEL", fk)
      if uid then
        redis.call("SREM", "ru:" .. uid, fam)
      end
    end
  end
end
return #ids
`)

// RedisRegistry stores refresh tokens in Redis. The family and user keys are
// derived inside scripts, so all keys must live on one node.
type RedisRegistry struct {
	redis redis.UniversalClient
}

// NewRedisRegistry returns a registry backed by redisClient.
func NewRedisRegistry(redisClient redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{redis: redisClient}
}

// Issue creates a new family holding one active record.
func (r *RedisRegistry) Issue(ctx context.Context, req IssueRequest) (Issued, error) {
	if err := validateIssue(req); err != nil {
		return Issued{}, err
	}

	id, s, token, err := newCredential()
	if err != nil {
		return Issued{}, err
	}
	rec := Record{
		ID:         id,
		FamilyID:   uuid.NewString(),
		UserID:     req.UserID,
		IssuedAt:   req.Now,
		ExpiresAt:  req.Now.Add(req.TTL),
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		LastUsedAt: req.Now,
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, recordPrefix+id,
			"fam", rec.FamilyID,
			"uid", rec.UserID,
			"hash", s.hashHex(),
			"iat", rec.IssuedAt.UnixMilli(),
			"exp", rec.ExpiresAt.UnixMilli(),
			"rev", "0",
			"ip", rec.IP,
			"ua", rec.UserAgent,
			"used", rec.LastUsedAt.UnixMilli(),
		)
		pipe.SAdd(ctx, familyPrefix+rec.FamilyID, id)
		pipe.SAdd(ctx, userPrefix+rec.UserID, rec.FamilyID)
		pipe.ZAdd(ctx, expiryIndex, redis.Z{Score: float64(rec.ExpiresAt.UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return Issued{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return Issued{Token: token, Record: rec}, nil
}

// Rotate replaces the presented token with a successor, or reports why it cannot.
func (r *RedisRegistry) Rotate(ctx context.Context, presented string, req RotateRequest) (RotateResult, error) {
	id, s, err := decodeToken(presented)
	if err != nil {
		return RotateResult{Outcome: OutcomeInvalid}, nil
	}
	if req.TTL <= 0 {
		return RotateResult{}, errors.New("refresh: ttl must be > 0")
	}

	nextID, nextSecret, nextToken, err := newCredential()
	if err != nil {
		return RotateResult{}, err
	}
	exp := req.Now.Add(req.TTL)

	raw, err := rotateScript.Run(ctx, r.redis,
		[]string{recordPrefix + id, recordPrefix + nextID, expiryIndex},
		s.hashHex(), req.Now.UnixMilli(), nextSecret.hashHex(), exp.UnixMilli(), nextID, req.IP, req.UserAgent,
	).Slice()
	if err != nil {
		return RotateResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) != 4 {
		return RotateResult{}, fmt.Errorf("%w: unexpected script reply", ErrStoreUnavailable)
	}

	status, _ := raw[0].(int64)
	fam, _ := raw[1].(string)
	uid, _ := raw[2].(string)
	revoked, _ := raw[3].(int64)
	prev := Record{ID: id, FamilyID: fam, UserID: uid}

	switch status {
	case rotateStatusRotated:
		return RotateResult{
			Outcome: OutcomeRotated,
			Token:   nextToken,
			Record: Record{
				ID:         nextID,
				FamilyID:   fam,
				UserID:     uid,
				IssuedAt:   req.Now,
				ExpiresAt:  exp,
				IP:         req.IP,
				UserAgent:  req.UserAgent,
				LastUsedAt: req.Now,
			},
			Previous: prev,
		}, nil
	case rotateStatusReused:
		return RotateResult{Outcome: OutcomeReused, Previous: prev, Revoked: int(revoked)}, nil
	case rotateStatusExpired:
		return RotateResult{Outcome: OutcomeExpired, Previous: prev, Revoked: int(revoked)}, nil
	default:
		return RotateResult{Outcome: OutcomeInvalid}, nil
	}
}

// Lookup returns the record for presented after checking its secret.
func (r *RedisRegistry) Lookup(ctx context.Context, presented string) (Record, error) {
	id, s, err := decodeToken(presented)
	if err != nil {
		return Record{}, ErrMalformedToken
	}

	fields, err := r.redis.HGetAll(ctx, recordPrefix+id).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(fields) == 0 || !hashMatches(fields["hash"], s) {
		return Record{}, ErrNotFound
	}
	return recordFromHash(id, fields), nil
}

// RevokeFamily revokes every record of familyID. Unknown families revoke nothing.
func (r *RedisRegistry) RevokeFamily(ctx context.Context, familyID string) (int, error) {
	if familyID == "" {
		return 0, nil
	}
	n, err := revokeFamilyScript.Run(ctx, r.redis, nil, familyID).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// RevokeUser revokes every family owned by userID.
func (r *RedisRegistry) RevokeUser(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, nil
	}
	n, err := revokeUserScript.Run(ctx, r.redis, []string{userPrefix + userID}).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// ListActive returns the active records of userID, one per live family tip.
func (r *RedisRegistry) ListActive(ctx context.Context, userID string, now time.Time) ([]Record, error) {
	fams, err := r.redis.SMembers(ctx, userPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var out []Record
	for _, fam := range fams {
		ids, err := r.redis.SMembers(ctx, familyPrefix+fam).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		cmds := make([]*redis.MapStringStringCmd, len(ids))
		_, err = r.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range ids {
				cmds[i] = pipe.HGetAll(ctx, recordPrefix+id)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for i, cmd := range cmds {
			fields := cmd.Val()
			if len(fields) == 0 {
				continue
			}
			rec := recordFromHash(ids[i], fields)
			if rec.Active(now) {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// Sweep deletes up to batch records that expired before cutoff.
func (r *RedisRegistry) Sweep(ctx context.Context, cutoff time.Time, batch int) (int, error) {
	if batch <= 0 {
		return 0, nil
	}
	n, err := sweepScript.Run(ctx, r.redis, []string{expiryIndex}, cutoff.UnixMilli(), batch).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Ping checks backend reachability.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func newCredential() (string, secret, string, error) {
	id, err := newRecordID()
	if err != nil {
		return "", secret{}, "", err
	}
	s, err := newSecret()
	if err != nil {
		return "", secret{}, "", err
	}
	token, err := encodeToken(id, s)
	if err != nil {
		return "", secret{}, "", err
	}
	return id, s, token, nil
}

func recordFromHash(id string, f map[string]string) Record {
	return Record{
		ID:          id,
		FamilyID:    f["fam"],
		UserID:      f["uid"],
		IssuedAt:    msField(f["iat"]),
		ExpiresAt:   msField(f["exp"]),
		Revoked:     f["rev"] == "1",
		SuccessorID: f["next"],
		IP:          f["ip"],
		UserAgent:   f["ua"],
		LastUsedAt:  msField(f["used"]),
	}
}

func msField(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
