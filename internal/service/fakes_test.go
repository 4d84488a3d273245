package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/resume-auth/internal/audit"
	"github.com/and161185/resume-auth/internal/errs"
	"github.com/and161185/resume-auth/internal/mail"
	"github.com/and161185/resume-auth/internal/model"
	"github.com/and161185/resume-auth/internal/notify"
	"github.com/and161185/resume-auth/internal/repository"
	"github.com/and161185/resume-auth/internal/token"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newCodec(t *testing.T, clock *fakeClock) *token.Codec {
	t.Helper()
	c, err := token.New(token.Config{
		AccessSecret:  []byte("access-secret"),
		RefreshSecret: []byte("refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    15 * 24 * time.Hour,
	}, token.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("token.New: %v", err)
	}
	return c
}

type fakeIdentities struct {
	mu      sync.Mutex
	byEmail map[string]*model.Identity

	getErr    error
	setErr    error
	updateErr error

	challenges int
}

var _ repository.IdentityRepository = (*fakeIdentities)(nil)

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byEmail: map[string]*model.Identity{}}
}

func copyIdentity(i *model.Identity) *model.Identity {
	c := *i
	if i.OTP != nil {
		otp := *i.OTP
		c.OTP = &otp
	}
	return &c
}

func (f *fakeIdentities) GetByEmail(_ context.Context, email string) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	i, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return copyIdentity(i), nil
}

func (f *fakeIdentities) GetByID(_ context.Context, id uuid.UUID) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, i := range f.byEmail {
		if i.ID == id {
			return copyIdentity(i), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeIdentities) SetChallenge(_ context.Context, email string, ch *model.OTPChallenge) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges++
	if f.setErr != nil {
		return uuid.Nil, f.setErr
	}
	otp := *ch
	if i, ok := f.byEmail[email]; ok {
		i.OTP = &otp
		return i.ID, nil
	}
	i := &model.Identity{ID: uuid.Must(uuid.NewV4()), Email: email, OTP: &otp}
	f.byEmail[email] = i
	return i.ID, nil
}

func (f *fakeIdentities) UpdateProfile(_ context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for _, i := range f.byEmail {
		if i.ID == id {
			i.Name = upd.Name
			i.DateOfBirth = upd.DateOfBirth
			return copyIdentity(i), nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeIdentities) ConsumeOTP(_ context.Context, email, code string, now time.Time) (*model.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.byEmail[email]
	if !ok || i.OTP == nil || i.OTP.Code != code || i.OTP.Expired(now) {
		return nil, errs.ErrNotFound
	}
	i.OTP = nil
	return copyIdentity(i), nil
}

func (f *fakeIdentities) get(email string) *model.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.byEmail[email]; ok {
		return copyIdentity(i)
	}
	return nil
}

func (f *fakeIdentities) put(i *model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.Must(uuid.NewV4())
	}
	f.byEmail[i.Email] = copyIdentity(i)
}

type fakeRefresh struct {
	mu      sync.Mutex
	records map[string]*model.RefreshRecord // identity|hash

	insertErr    error
	consumeErr   error
	deleteAllErr error

	consumeCtxErr error // ctx.Err() observed by the last Consume
}

var _ repository.RefreshTokenRepository = (*fakeRefresh)(nil)

func newFakeRefresh() *fakeRefresh {
	return &fakeRefresh{records: map[string]*model.RefreshRecord{}}
}

func refreshKey(id uuid.UUID, hash string) string { return id.String() + "|" + hash }

func (f *fakeRefresh) Insert(_ context.Context, r *model.RefreshRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	k := refreshKey(r.IdentityID, r.TokenHash)
	if _, ok := f.records[k]; ok {
		return errs.ErrAlreadyExists
	}
	c := *r
	f.records[k] = &c
	return nil
}

func (f *fakeRefresh) Consume(ctx context.Context, id uuid.UUID, hash string) (*model.RefreshRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumeCtxErr = ctx.Err()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	k := refreshKey(id, hash)
	r, ok := f.records[k]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(f.records, k)
	return r, nil
}

func (f *fakeRefresh) DeleteAll(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteAllErr != nil {
		return f.deleteAllErr
	}
	for k, r := range f.records {
		if r.IdentityID == id {
			delete(f.records, k)
		}
	}
	return nil
}

func (f *fakeRefresh) forIdentity(id uuid.UUID) []model.RefreshRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RefreshRecord
	for _, r := range f.records {
		if r.IdentityID == id {
			out = append(out, *r)
		}
	}
	return out
}

func (f *fakeRefresh) expireAll(id uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.IdentityID == id {
			r.ExpiresAt = at
		}
	}
}

type sentMail struct{ to, code string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

var _ mail.Sender = (*fakeMailer)(nil)

func (m *fakeMailer) SendOTP(_ context.Context, to, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, code: code})
	return nil
}

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Sink = (*recordingSink)(nil)

func (s *recordingSink) Emit(_ context.Context, e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) kinds() []audit.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Kind, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

func (s *recordingSink) lastOf(k audit.Kind) (audit.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Kind == k {
			return s.events[i], true
		}
	}
	return audit.Event{}, false
}

type fakeNotifier struct {
	ch  chan notify.IPChange
	err error
}

var _ notify.Notifier = (*fakeNotifier)(nil)

func (n *fakeNotifier) IPChanged(_ context.Context, c notify.IPChange) error {
	n.ch <- c
	return n.err
}
