package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/repository"
)

var (
	_ repository.IdentityRepository     = (*Store)(nil)
	_ repository.RefreshTokenRepository = (*Store)(nil)
	_ repository.Pinger                 = (*Store)(nil)
)

func TestIdentities(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.GetByEmail(ctx, "a@b.c")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	ch := &model.OTPChallenge{Code: "123456", ExpiresAt: time.Now().Add(time.Minute)}
	id, err := s.SetChallenge(ctx, "a@b.c", ch)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	got, err := s.UpdateProfile(ctx, id, model.ProfileUpdate{Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	require.NotNil(t, got.OTP, "profile update keeps the challenge")
	assert.Equal(t, "123456", got.OTP.Code)

	// a second challenge reuses the identity and keeps its profile
	again, err := s.SetChallenge(ctx, "a@b.c", &model.OTPChallenge{Code: "654321", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	got, err = s.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, "654321", got.OTP.Code)

	// returned values and stored arguments are copies
	got.OTP.Code = "000000"
	ch.Code = "000000"
	cur, err := s.GetByEmail(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, "654321", cur.OTP.Code)

	_, err = s.UpdateProfile(ctx, uuid.Must(uuid.NewV4()), model.ProfileUpdate{Name: "x"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestConsumeOTP(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	_, err := s.SetChallenge(ctx, "a@b.c", &model.OTPChallenge{Code: "111111", ExpiresAt: now.Add(time.Minute)})
	require.NoError(t, err)

	_, err = s.ConsumeOTP(ctx, "a@b.c", "222222", now)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.ConsumeOTP(ctx, "a@b.c", "111111", now.Add(time.Minute))
	assert.ErrorIs(t, err, errs.ErrNotFound, "expiry is exclusive")

	got, err := s.ConsumeOTP(ctx, "a@b.c", "111111", now)
	require.NoError(t, err)
	assert.Nil(t, got.OTP)

	_, err = s.UpdateProfile(ctx, got.ID, model.ProfileUpdate{Name: "Ann"})
	require.NoError(t, err)
	_, err = s.ConsumeOTP(ctx, "a@b.c", "111111", now)
	assert.ErrorIs(t, err, errs.ErrNotFound, "profile update must not revive the code")
}

func TestRefreshRecords(t *testing.T) {
	s := New()
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	require.NoError(t, s.Insert(ctx, &model.RefreshRecord{IdentityID: uid, TokenHash: "a"}))
	require.NoError(t, s.Insert(ctx, &model.RefreshRecord{IdentityID: uid, TokenHash: "b"}))
	require.NoError(t, s.Insert(ctx, &model.RefreshRecord{IdentityID: other, TokenHash: "a"}))
	assert.ErrorIs(t, s.Insert(ctx, &model.RefreshRecord{IdentityID: uid, TokenHash: "a"}), errs.ErrAlreadyExists)
	assert.Equal(t, 2, s.RefreshCount(uid))

	rec, err := s.Consume(ctx, uid, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.TokenHash)
	_, err = s.Consume(ctx, uid, "a")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, s.DeleteAll(ctx, uid))
	assert.Zero(t, s.RefreshCount(uid))
	assert.Equal(t, 1, s.RefreshCount(other))
}

func TestConsume_Concurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())
	require.NoError(t, s.Insert(ctx, &model.RefreshRecord{IdentityID: uid, TokenHash: "x"}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for n := 0; n < 32; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, uid, "x"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
