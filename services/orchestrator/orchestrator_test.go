package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"faceseek/pkg/render"
	"faceseek/services/ledger"
	"faceseek/services/provider"
	"faceseek/services/session"
)

type fakeLedger struct {
	mu       sync.Mutex
	users    map[int64]*ledger.User
	payments []ledger.Payment
	events   []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{users: make(map[int64]*ledger.User)}
}

func (f *fakeLedger) user(id int64) *ledger.User {
	u, ok := f.users[id]
	if !ok {
		u = &ledger.User{ID: id}
		f.users[id] = u
	}
	return u
}

func (f *fakeLedger) setBalance(id int64, free, paid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.user(id)
	u.FreeSearches, u.PaidSearches = free, paid
}

func (f *fakeLedger) GetOrCreateUser(_ context.Context, id int64) (ledger.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.user(id), nil
}

func (f *fakeLedger) Credits(_ context.Context, id int64) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.user(id)
	return u.FreeSearches, u.PaidSearches, nil
}

func (f *fakeLedger) GrantDailyFreeSearch(_ context.Context, _ int64) (bool, error) {
	return false, nil
}

func (f *fakeLedger) UseSearch(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.user(id)
	switch {
	case u.FreeSearches > 0:
		u.FreeSearches--
		return true, nil
	case u.PaidSearches > 0:
		u.PaidSearches--
		return false, nil
	}
	return false, ledger.ErrNoCredits
}

func (f *fakeLedger) AddPaidSearches(_ context.Context, id int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user(id).PaidSearches += n
	return nil
}

func (f *fakeLedger) RecordPayment(_ context.Context, userID int64, stars, searches int, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if externalID != "" && p.ExternalPaymentID == externalID {
			return false, nil
		}
	}
	f.payments = append(f.payments, ledger.Payment{
		UserID:            userID,
		StarsPaid:         stars,
		SearchesGranted:   searches,
		ExternalPaymentID: externalID,
	})
	return true, nil
}

func (f *fakeLedger) TrackEvent(_ context.Context, _ int64, name string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
	return nil
}

type fakeSearcher struct {
	mu     sync.Mutex
	result *provider.SearchResult
	err    error
	calls  int
}

func (f *fakeSearcher) SubmitAndWait(_ context.Context, _ []byte, _ bool, onProgress provider.ProgressFunc) (*provider.SearchResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(50)
		onProgress(100)
	}
	return f.result, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeMessenger) SendText(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, _ int64, caption string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, caption)
	return nil
}

func (f *fakeMessenger) joined() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.texts, "\n---\n")
}

func fourItemResult() *provider.SearchResult {
	items := make([]provider.Item, 4)
	for i := range items {
		items[i] = provider.Item{
			Score: 90 - i*10,
			URL:   fmt.Sprintf("https://example.com/profile/%d", i+1),
		}
	}
	return &provider.SearchResult{IDSearch: "srch_1", Progress: 100, Output: provider.Output{Items: items}}
}

type testRig struct {
	orch     *Orchestrator
	ledger   *fakeLedger
	searcher *fakeSearcher
	msgr     *fakeMessenger
	sessions *session.Cache
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	engine, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}

	rig := &testRig{
		ledger:   newFakeLedger(),
		searcher: &fakeSearcher{result: fourItemResult()},
		msgr:     &fakeMessenger{},
		sessions: session.NewCache(0, 0),
	}
	t.Cleanup(rig.sessions.Close)

	rig.orch, err = New(Config{FreeTierItems: 3}, Deps{
		Ledger:    rig.ledger,
		Searcher:  rig.searcher,
		Sessions:  rig.sessions,
		Renderer:  engine,
		Messenger: rig.msgr,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return rig
}

func TestHandlePhotoFreeDelivery(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)

	out, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo"))
	if err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}
	if out.Status != StatusDeliveredFree || out.SearchID != "srch_1" {
		t.Errorf("outcome = %+v, want free delivery of srch_1", out)
	}

	sent := rig.msgr.joined()
	if !strings.Contains(sent, "Found 4 matches, showing 3") {
		t.Errorf("free delivery header missing:\n%s", sent)
	}
	if strings.Contains(sent, "example.com") {
		t.Errorf("locked delivery leaked source URLs:\n%s", sent)
	}

	entry, err := rig.sessions.Get("srch_1")
	if err != nil {
		t.Fatalf("session not cached: %v", err)
	}
	if !entry.WasFree || entry.Unlocked {
		t.Errorf("entry = %+v, want free and locked", entry)
	}

	free, _, _ := rig.ledger.Credits(ctx, 42)
	if free != 0 {
		t.Errorf("free balance = %d, want 0", free)
	}
}

func TestHandlePhotoPaidDelivery(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 0, 1)

	out, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo"))
	if err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}
	if out.Status != StatusDeliveredPaid {
		t.Errorf("status = %q, want %q", out.Status, StatusDeliveredPaid)
	}

	sent := rig.msgr.joined()
	for i := 1; i <= 4; i++ {
		url := fmt.Sprintf("https://example.com/profile/%d", i)
		if !strings.Contains(sent, url) {
			t.Errorf("paid delivery missing %s:\n%s", url, sent)
		}
	}

	entry, _ := rig.sessions.Get("srch_1")
	if !entry.Unlocked {
		t.Error("paid session should be unlocked on delivery")
	}
}

func TestHandlePhotoNoCredits(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	out, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo"))
	if err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}
	if out.Status != StatusPaymentRequired {
		t.Errorf("status = %q, want %q", out.Status, StatusPaymentRequired)
	}
	if rig.searcher.callCount() != 0 {
		t.Error("search submitted without credits")
	}
	if !strings.Contains(rig.msgr.joined(), "no searches left") {
		t.Errorf("no-credits message missing:\n%s", rig.msgr.joined())
	}
}

func TestPaymentRunsPendingSearch(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	evt := PaymentEvent{
		Kind:              PaymentKindSearch,
		UserID:            42,
		ExternalPaymentID: "pay-1",
		Stars:             100,
		Searches:          5,
	}
	if err := rig.orch.HandlePaymentEvent(ctx, evt); err != nil {
		t.Fatalf("HandlePaymentEvent() error = %v", err)
	}

	if rig.searcher.callCount() != 1 {
		t.Fatalf("search calls = %d, want 1", rig.searcher.callCount())
	}
	// 5 granted, 1 consumed by the parked photo.
	_, paid, _ := rig.ledger.Credits(ctx, 42)
	if paid != 4 {
		t.Errorf("paid balance = %d, want 4", paid)
	}

	// Duplicate delivery is dropped after the payment record check.
	if err := rig.orch.HandlePaymentEvent(ctx, evt); err != nil {
		t.Fatalf("duplicate HandlePaymentEvent() error = %v", err)
	}
	if rig.searcher.callCount() != 1 {
		t.Errorf("duplicate payment re-ran the search")
	}
	if len(rig.ledger.payments) != 1 {
		t.Errorf("payments recorded = %d, want 1", len(rig.ledger.payments))
	}
}

func TestSearchFailureRelaysProviderMessage(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)
	rig.searcher.err = &provider.SearchError{Message: "No face detected in the image"}

	out, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo"))
	if err == nil {
		t.Fatal("HandlePhoto() expected error")
	}
	if out.Status != StatusFailed {
		t.Errorf("status = %q, want %q", out.Status, StatusFailed)
	}
	if !strings.Contains(rig.msgr.joined(), "No face detected in the image") {
		t.Errorf("provider message not relayed verbatim:\n%s", rig.msgr.joined())
	}

	// The credit was never debited.
	free, _, _ := rig.ledger.Credits(ctx, 42)
	if free != 1 {
		t.Errorf("free balance = %d, want 1", free)
	}
}

func TestUnlockItemRevealsSingleURL(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}
	rig.msgr.texts = nil

	if err := rig.orch.Unlock(ctx, 42, "srch_1", 1, false); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	sent := rig.msgr.joined()
	if !strings.Contains(sent, "https://example.com/profile/2") {
		t.Errorf("unlocked item URL missing:\n%s", sent)
	}
	if strings.Contains(sent, "https://example.com/profile/1") {
		t.Errorf("single unlock revealed other items:\n%s", sent)
	}

	entry, _ := rig.sessions.Get("srch_1")
	if entry.Unlocked {
		t.Error("single-item unlock flipped the whole session")
	}
}

func TestUnlockAllMarksSessionUnlocked(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	// Empty search id targets the most recent search.
	if err := rig.orch.Unlock(ctx, 42, "", 0, true); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	entry, _ := rig.sessions.Get("srch_1")
	if !entry.Unlocked {
		t.Error("unlock-all left the session locked")
	}
}

func TestUnlockExpiredSessionStillRecordsPayment(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rig.sessions.SetNow(func() time.Time { return current })

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	current = current.Add(session.DefaultTTL + time.Minute)

	evt := PaymentEvent{
		Kind:              PaymentKindUnlockAll,
		UserID:            42,
		ExternalPaymentID: "pay-exp",
		Stars:             50,
		SearchID:          "srch_1",
	}
	err := rig.orch.HandlePaymentEvent(ctx, evt)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("HandlePaymentEvent() error = %v, want ErrSessionExpired", err)
	}

	// Money is kept: the payment is on the books with no refund path.
	if len(rig.ledger.payments) != 1 {
		t.Errorf("payments recorded = %d, want 1", len(rig.ledger.payments))
	}
	if !strings.Contains(rig.msgr.joined(), "expired") {
		t.Errorf("expiry notice missing:\n%s", rig.msgr.joined())
	}

	entry, _ := rig.sessions.Get("srch_1")
	if entry.Unlocked {
		t.Error("expired session was unlocked")
	}
}

func TestFreeDeliverySchedulesOneReminder(t *testing.T) {
	engine, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error = %v", err)
	}

	// Short TTL and lead so the reminder is due 50ms after delivery.
	fakeLed := newFakeLedger()
	msgr := &fakeMessenger{}
	sessions := session.NewCache(150*time.Millisecond, 100*time.Millisecond)
	t.Cleanup(sessions.Close)

	orch, err := New(Config{FreeTierItems: 3}, Deps{
		Ledger:    fakeLed,
		Searcher:  &fakeSearcher{result: fourItemResult()},
		Sessions:  sessions,
		Renderer:  engine,
		Messenger: msgr,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	fakeLed.setBalance(42, 1, 0)
	if _, err := orch.HandlePhoto(context.Background(), 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	reminders := func() int {
		return strings.Count(msgr.joined(), "expire in 5 minutes")
	}

	deadline := time.Now().Add(2 * time.Second)
	for reminders() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("free delivery never fired a reminder")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Exactly one timer was armed: no further reminder arrives.
	time.Sleep(200 * time.Millisecond)
	if got := reminders(); got != 1 {
		t.Errorf("reminders fired = %d, want 1", got)
	}
}

func TestPaidDeliveryGuessesNameFromUsername(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 0, 1)
	rig.searcher.result = &provider.SearchResult{
		IDSearch: "srch_vk",
		Progress: 100,
		Output: provider.Output{Items: []provider.Item{
			{Score: 95, URL: "https://vk.com/ivan_petrov"},
			{Score: 80, URL: "https://vk.com/id123456"},
		}},
	}

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	sent := rig.msgr.joined()
	if !strings.Contains(sent, "Ivan Petrov") {
		t.Errorf("guessed name missing from paid delivery:\n%s", sent)
	}
	// Numeric ids yield no guess; the caption still carries the URL.
	if !strings.Contains(sent, "https://vk.com/id123456") {
		t.Errorf("numeric-id URL missing:\n%s", sent)
	}
}

func TestUnlockWrongUser(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()
	rig.ledger.setBalance(42, 1, 0)

	if _, err := rig.orch.HandlePhoto(ctx, 42, []byte("photo")); err != nil {
		t.Fatalf("HandlePhoto() error = %v", err)
	}

	if err := rig.orch.Unlock(ctx, 99, "srch_1", 0, true); err == nil {
		t.Error("Unlock() by another user expected error")
	}
}
