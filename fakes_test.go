package authgate_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ag "github.com/panyam/authgate"
)

// memDirectory is an in memory UserDirectory that records the calls made
// against it and lets tests inject failures.
type memDirectory struct {
	mu       sync.Mutex
	users    map[string]*ag.User
	byEmail  map[string]string
	accounts map[string]*ag.LinkedAccount
	calls    []string
	nextID   int

	findByEmailErr error
	createErr      error
	linkErr        error

	// beforeLink runs before LinkAccount takes the lock
	beforeLink func()
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:    map[string]*ag.User{},
		byEmail:  map[string]string{},
		accounts: map[string]*ag.LinkedAccount{},
	}
}

func (d *memDirectory) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *memDirectory) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *memDirectory) FindByEmail(ctx context.Context, email string) (*ag.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("FindByEmail")
	if d.findByEmailErr != nil {
		return nil, d.findByEmailErr
	}
	id, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ag.ErrNotFound
	}
	u := *d.users[id]
	return &u, nil
}

func (d *memDirectory) FindByID(ctx context.Context, id string) (*ag.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("FindByID")
	u, ok := d.users[id]
	if !ok {
		return nil, ag.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (d *memDirectory) CreateUser(ctx context.Context, nu ag.NewUser) (*ag.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("CreateUser")
	if d.createErr != nil {
		return nil, d.createErr
	}
	email := strings.ToLower(nu.Email)
	if _, ok := d.byEmail[email]; ok {
		return nil, fmt.Errorf("email %s: %w", email, ag.ErrAlreadyExists)
	}
	d.nextID++
	u := &ag.User{
		ID:           fmt.Sprintf("user-%d", d.nextID),
		Email:        email,
		Name:         nu.Name,
		Picture:      nu.Picture,
		PasswordHash: nu.PasswordHash,
		IsVerified:   nu.IsVerified,
		Method:       nu.Method,
		CreatedAt:    time.Now(),
	}
	d.users[u.ID] = u
	d.byEmail[email] = u.ID
	out := *u
	return &out, nil
}

func (d *memDirectory) MarkVerified(ctx context.Context, email string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("MarkVerified")
	id, ok := d.byEmail[strings.ToLower(email)]
	if !ok {
		return ag.ErrNotFound
	}
	d.users[id].IsVerified = true
	return nil
}

func (d *memDirectory) ClaimUnverified(ctx context.Context, userID string, profile ag.NewUser) (*ag.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("ClaimUnverified")
	u, ok := d.users[userID]
	if !ok {
		return nil, ag.ErrNotFound
	}
	if !u.IsVerified {
		u.Name = profile.Name
		u.Picture = profile.Picture
		u.Method = profile.Method
		u.PasswordHash = ""
		u.IsVerified = true
	}
	out := *u
	return &out, nil
}

func (d *memDirectory) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetTwoFactor")
	u, ok := d.users[userID]
	if !ok {
		return ag.ErrNotFound
	}
	u.IsTwoFactorEnabled = enabled
	return nil
}

func (d *memDirectory) LinkAccount(ctx context.Context, a ag.NewLinkedAccount) (*ag.LinkedAccount, error) {
	if d.beforeLink != nil {
		d.beforeLink()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("LinkAccount")
	if d.linkErr != nil {
		return nil, d.linkErr
	}
	key := string(a.Provider) + "/" + a.ProviderAccountID
	if _, ok := d.accounts[key]; ok {
		return nil, fmt.Errorf("account %s: %w", key, ag.ErrAlreadyExists)
	}
	la := &ag.LinkedAccount{
		ID:                "acct-" + key,
		UserID:            a.UserID,
		Type:              ag.LinkedAccountTypeOAuth,
		Provider:          a.Provider,
		ProviderAccountID: a.ProviderAccountID,
		AccessToken:       a.AccessToken,
		CreatedAt:         time.Now(),
	}
	d.accounts[key] = la
	out := *la
	return &out, nil
}

func (d *memDirectory) FindLinkedAccount(ctx context.Context, provider ag.ProviderName, id string) (*ag.LinkedAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("FindLinkedAccount")
	la, ok := d.accounts[string(provider)+"/"+id]
	if !ok {
		return nil, ag.ErrNotFound
	}
	out := *la
	return &out, nil
}

// seedUser adds a user directly, bypassing the call log
func (d *memDirectory) seedUser(u ag.User) *ag.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	if u.ID == "" {
		u.ID = fmt.Sprintf("user-%d", d.nextID)
	}
	u.Email = strings.ToLower(u.Email)
	d.users[u.ID] = &u
	d.byEmail[u.Email] = u.ID
	return &u
}

func (d *memDirectory) seedAccount(provider ag.ProviderName, accountID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(provider) + "/" + accountID
	d.accounts[key] = &ag.LinkedAccount{ID: "acct-" + key, UserID: userID, Provider: provider, ProviderAccountID: accountID}
}

func (d *memDirectory) userCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.users)
}

// plainHasher stores passwords with a fixed prefix so tests can seed users
type plainHasher struct {
	verifyErr error
}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }

func (h plainHasher) Verify(hash, password string) (bool, error) {
	if h.verifyErr != nil {
		return false, h.verifyErr
	}
	return hash == "plain:"+password, nil
}

type fakeSessions struct {
	mu        sync.Mutex
	sessions  map[string]*ag.Session
	created   []string
	destroyed []string
	n         int

	createErr  error
	destroyErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]*ag.Session{}}
}

func (s *fakeSessions) Create(ctx context.Context, userID string) (*ag.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.n++
	sess := &ag.Session{ID: fmt.Sprintf("sess-%d", s.n), UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}
	s.sessions[sess.ID] = sess
	s.created = append(s.created, userID)
	return sess, nil
}

func (s *fakeSessions) Destroy(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyErr != nil {
		return s.destroyErr
	}
	delete(s.sessions, sessionID)
	s.destroyed = append(s.destroyed, sessionID)
	return nil
}

func (s *fakeSessions) Lookup(ctx context.Context, sessionID string) (*ag.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ag.ErrNotFound
	}
	return sess, nil
}

func (s *fakeSessions) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

// fakeChallenges implements both challenge interfaces
type fakeChallenges struct {
	mu       sync.Mutex
	issued   []string
	issueErr error

	result      ag.ValidationResult
	validateErr error
	email       string
	validated   []string
}

func (c *fakeChallenges) Issue(ctx context.Context, email string) (*ag.Challenge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued = append(c.issued, email)
	if c.issueErr != nil {
		return nil, c.issueErr
	}
	return &ag.Challenge{Subject: email, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (c *fakeChallenges) issuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.issued)
}

type fakeVerification struct{ fakeChallenges }

func (v *fakeVerification) Validate(ctx context.Context, token string) (string, ag.ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.validated = append(v.validated, token)
	return v.email, v.result, v.validateErr
}

type fakeSecondFactor struct{ fakeChallenges }

func (s *fakeSecondFactor) Validate(ctx context.Context, email, code string) (ag.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated = append(s.validated, code)
	return s.result, s.validateErr
}

type fakeProvider struct {
	name     ag.ProviderName
	profile  ag.ExternalProfile
	err      error
	exchange func(ctx context.Context, code string) (*ag.ExternalProfile, error)
}

func (p *fakeProvider) Name() ag.ProviderName { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*ag.ExternalProfile, error) {
	if p.exchange != nil {
		return p.exchange(ctx, code)
	}
	if p.err != nil {
		return nil, p.err
	}
	out := p.profile
	return &out, nil
}

type fixture struct {
	auth         *ag.Authenticator
	dir          *memDirectory
	sessions     *fakeSessions
	verification *fakeVerification
	secondFactor *fakeSecondFactor
	provider     *fakeProvider
}

func newFixture() *fixture {
	f := &fixture{
		dir:          newMemDirectory(),
		sessions:     newFakeSessions(),
		verification: &fakeVerification{},
		secondFactor: &fakeSecondFactor{},
		provider: &fakeProvider{
			name:    ag.ProviderGithub,
			profile: ag.ExternalProfile{ID: "gh-1", Email: "Octo@Example.com", Name: "Octo"},
		},
	}
	registry, err := ag.NewProviderRegistry(f.provider)
	if err != nil {
		panic(err)
	}
	f.auth = (&ag.Authenticator{
		Directory:    f.dir,
		Hasher:       plainHasher{},
		Sessions:     f.sessions,
		Providers:    registry,
		Verification: f.verification,
		SecondFactor: f.secondFactor,
	}).EnsureDefaults()
	return f
}

// verifiedUser seeds a verified credentials user with password "secret123"
func (f *fixture) verifiedUser(email string) *ag.User {
	return f.dir.seedUser(ag.User{
		Email:        email,
		Name:         "Test",
		PasswordHash: "plain:secret123",
		IsVerified:   true,
		Method:       ag.MethodCredentials,
	})
}
