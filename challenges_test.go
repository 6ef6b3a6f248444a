package authgate_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	ag "github.com/panyam/authgate"
)

type mapChallengeStore struct {
	mu   sync.Mutex
	byID map[string]*ag.Challenge
}

func newMapChallengeStore() *mapChallengeStore {
	return &mapChallengeStore{byID: map[string]*ag.Challenge{}}
}

func (s *mapChallengeStore) Put(ctx context.Context, c *ag.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, old := range s.byID {
		if old.Kind == c.Kind && old.Subject == c.Subject {
			delete(s.byID, k)
		}
	}
	cp := *c
	s.byID[string(c.Kind)+"/"+c.Identifier] = &cp
	return nil
}

func (s *mapChallengeStore) Take(ctx context.Context, kind ag.ChallengeKind, id string) (*ag.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[string(kind)+"/"+id]
	if !ok {
		return nil, ag.ErrNotFound
	}
	delete(s.byID, string(kind)+"/"+id)
	return c, nil
}

type recordingSender struct {
	mu    sync.Mutex
	links []string
	codes []string
	err   error
}

func (r *recordingSender) SendVerificationEmail(ctx context.Context, to, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.links = append(r.links, link)
	return nil
}

func (r *recordingSender) SendTwoFactorCode(ctx context.Context, to, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.codes = append(r.codes, code)
	return nil
}

type clock struct{ t time.Time }

func newClock() *clock { return &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func tokenFromLink(link string) string {
	u, _ := url.Parse(link)
	return u.Query().Get("token")
}

func TestVerificationIssuer(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	sender := &recordingSender{}
	issuer := &ag.VerificationIssuer{
		Store:       newMapChallengeStore(),
		EmailSender: sender,
		BaseURL:     "https://app.example.com/",
		Now:         clk.Now,
	}

	c, err := issuer.Issue(ctx, "User@Example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if c.Subject != "user@example.com" {
		t.Errorf("expected normalized subject, got %q", c.Subject)
	}
	if len(sender.links) != 1 || !strings.HasPrefix(sender.links[0], "https://app.example.com/auth/new-verification?token=") {
		t.Fatalf("unexpected links %v", sender.links)
	}
	token := tokenFromLink(sender.links[0])

	email, result, err := issuer.Validate(ctx, token)
	if err != nil || result != ag.ValidationOK || email != "user@example.com" {
		t.Fatalf("Validate = %q %s %v", email, result, err)
	}

	// single use
	if _, result, _ := issuer.Validate(ctx, token); result != ag.ValidationMismatch {
		t.Errorf("second use should mismatch, got %s", result)
	}

	// reissuing replaces the older token
	if _, err := issuer.Issue(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Issue(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, result, _ := issuer.Validate(ctx, tokenFromLink(sender.links[1])); result != ag.ValidationMismatch {
		t.Errorf("replaced token should mismatch, got %s", result)
	}

	clk.Advance(ag.VerificationTokenTTL)
	if _, result, _ := issuer.Validate(ctx, tokenFromLink(sender.links[2])); result != ag.ValidationExpired {
		t.Errorf("expected expired, got %s", result)
	}
}

func TestSecondFactorIssuer(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	sender := &recordingSender{}
	issuer := &ag.SecondFactorIssuer{Store: newMapChallengeStore(), EmailSender: sender, Now: clk.Now}

	if _, err := issuer.Issue(ctx, "a@example.com"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := sender.codes[0]
	if len(code) != ag.TwoFactorCodeDigits {
		t.Fatalf("expected %d digit code, got %q", ag.TwoFactorCodeDigits, code)
	}

	if result, err := issuer.Validate(ctx, "A@example.com", code); err != nil || result != ag.ValidationOK {
		t.Fatalf("Validate = %s %v", result, err)
	}
	if result, _ := issuer.Validate(ctx, "a@example.com", code); result != ag.ValidationMismatch {
		t.Errorf("code should be single use, got %s", result)
	}

	issuer.Issue(ctx, "a@example.com")
	wrong := "000000"
	if sender.codes[1] == wrong {
		wrong = "111111"
	}
	if result, _ := issuer.Validate(ctx, "a@example.com", wrong); result != ag.ValidationMismatch {
		t.Errorf("expected mismatch, got %s", result)
	}
	if result, _ := issuer.Validate(ctx, "a@example.com", sender.codes[1]); result != ag.ValidationMismatch {
		t.Errorf("a failed attempt consumes the code, got %s", result)
	}

	issuer.Issue(ctx, "a@example.com")
	clk.Advance(ag.TwoFactorCodeTTL + time.Second)
	if result, _ := issuer.Validate(ctx, "a@example.com", sender.codes[2]); result != ag.ValidationExpired {
		t.Errorf("expected expired, got %s", result)
	}
}

func TestIssuerDeliveryFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("connection refused")}
	store := newMapChallengeStore()

	_, err := (&ag.VerificationIssuer{Store: store, EmailSender: sender}).Issue(context.Background(), "a@example.com")
	if !errors.Is(err, ag.ErrDeliveryFailed) {
		t.Errorf("expected ErrDeliveryFailed, got %v", err)
	}
	_, err = (&ag.SecondFactorIssuer{Store: store, EmailSender: sender}).Issue(context.Background(), "a@example.com")
	if !errors.Is(err, ag.ErrDeliveryFailed) {
		t.Errorf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := ag.GenerateNumericCode(6)
		if err != nil {
			t.Fatal(err)
		}
		if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("bad code %q", code)
		}
	}
	a, _ := ag.GenerateSecureToken()
	b, _ := ag.GenerateSecureToken()
	if len(a) != 64 || a == b {
		t.Errorf("tokens should be 64 hex chars and unique: %q %q", a, b)
	}
}
