// Package memory is an in-process store for development and tests. It implements both
// repository interfaces behind a single mutex, so every operation is atomic.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/model"
)

type refreshKey struct {
	identity uuid.UUID
	hash     string
}

// Store keeps identities and refresh records in maps.
type Store struct {
	mu         sync.Mutex
	identities map[uuid.UUID]*model.Identity
	byEmail    map[string]uuid.UUID
	refresh    map[refreshKey]*model.RefreshRecord
}

// New returns an empty store.
func New() *Store {
	return &Store{
		identities: make(map[uuid.UUID]*model.Identity),
		byEmail:    make(map[string]uuid.UUID),
		refresh:    make(map[refreshKey]*model.RefreshRecord),
	}
}

func cloneIdentity(i *model.Identity) *model.Identity {
	c := *i
	if i.OTP != nil {
		otp := *i.OTP
		c.OTP = &otp
	}
	if i.DateOfBirth != nil {
		dob := *i.DateOfBirth
		c.DateOfBirth = &dob
	}
	c.GeneratedResumeIDs = append([]uuid.UUID(nil), i.GeneratedResumeIDs...)
	return &c
}

// GetByEmail returns a copy of the identity registered under email.
func (s *Store) GetByEmail(_ context.Context, email string) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneIdentity(s.identities[id]), nil
}

// GetByID returns a copy of the identity.
func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.identities[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneIdentity(i), nil
}

// SetChallenge replaces the open challenge of email, registering the identity first when
// the email is unseen.
func (s *Store) SetChallenge(_ context.Context, email string, ch *model.OTPChallenge) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	otp := *ch
	if id, ok := s.byEmail[email]; ok {
		s.identities[id].OTP = &otp
		return id, nil
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	s.identities[id] = &model.Identity{ID: id, Email: email, OTP: &otp, CreatedAt: time.Now()}
	s.byEmail[email] = id
	return id, nil
}

// UpdateProfile sets name and date of birth and returns a copy of the result.
func (s *Store) UpdateProfile(_ context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.identities[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	i.Name = upd.Name
	i.DateOfBirth = nil
	if upd.DateOfBirth != nil {
		dob := *upd.DateOfBirth
		i.DateOfBirth = &dob
	}
	return cloneIdentity(i), nil
}

// ConsumeOTP clears the challenge when code matches and is live at now.
func (s *Store) ConsumeOTP(_ context.Context, email, code string, now time.Time) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	i := s.identities[id]
	if i.OTP == nil || i.OTP.Code != code || i.OTP.Expired(now) {
		return nil, errs.ErrNotFound
	}
	i.OTP = nil
	return cloneIdentity(i), nil
}

// Insert stores a copy of r. The pair (identity, hash) must be unused.
func (s *Store) Insert(_ context.Context, r *model.RefreshRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refreshKey{identity: r.IdentityID, hash: r.TokenHash}
	if _, ok := s.refresh[k]; ok {
		return errs.ErrAlreadyExists
	}
	if r.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		r.ID = id
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	c := *r
	s.refresh[k] = &c
	return nil
}

// Consume removes and returns the record.
func (s *Store) Consume(_ context.Context, identityID uuid.UUID, tokenHash string) (*model.RefreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := refreshKey{identity: identityID, hash: tokenHash}
	r, ok := s.refresh[k]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(s.refresh, k)
	return r, nil
}

// DeleteAll drops every record of the identity.
func (s *Store) DeleteAll(_ context.Context, identityID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.refresh {
		if k.identity == identityID {
			delete(s.refresh, k)
		}
	}
	return nil
}

// RefreshCount returns the number of outstanding records of the identity.
func (s *Store) RefreshCount(identityID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.refresh {
		if k.identity == identityID {
			n++
		}
	}
	return n
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
