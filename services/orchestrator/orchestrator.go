// Package orchestrator drives a search session from incoming photo to
// delivered results: credit checks, provider submission, tiered delivery,
// unlock payments and expiry reminders.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"faceseek/pkg/bus"
	"faceseek/pkg/render"
	"faceseek/services/ledger"
	"faceseek/services/preview"
	"faceseek/services/provider"
	"faceseek/services/session"
)

const defaultFreeTierItems = 3

// ErrSessionExpired is returned when an unlock targets a session past its
// TTL or one this process never saw.
var ErrSessionExpired = errors.New("search session expired")

// Config controls orchestrator behaviour.
type Config struct {
	// FreeTierItems is how many matches a free search reveals (locked).
	FreeTierItems int

	// Demo requests demo-mode searches from the provider.
	Demo bool
}

// Deps are the orchestrator's collaborators. Ledger, Searcher, Sessions,
// Renderer and Messenger are required; the rest degrade gracefully when nil.
type Deps struct {
	Ledger    CreditLedger
	Searcher  Searcher
	Sessions  *session.Cache
	Renderer  *render.Engine
	Messenger Messenger

	Bus      eventBus // payment subscription + lifecycle events
	Names    NameResolver
	Previews *preview.Renderer
	Logger   *log.Logger

	// FetchImage resolves a result item to raw image bytes. Defaults to
	// provider.ResolveImage over http.DefaultClient.
	FetchImage func(ctx context.Context, item provider.Item) ([]byte, error)
}

// Orchestrator is the search session state machine. A session moves
// Idle -> Searching -> Delivered -> Unlocked or Expired; provider errors are
// terminal with the provider's message relayed verbatim.
type Orchestrator struct {
	cfg  Config
	deps Deps

	pendingMu sync.Mutex
	pending   map[int64][]byte

	userMu    sync.Mutex
	userLocks map[int64]*sync.Mutex

	subsMu sync.Mutex
	subs   []io.Closer
}

// New creates an Orchestrator bound to the provided dependencies.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("session cache is required")
	}
	if deps.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if deps.Messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if cfg.FreeTierItems <= 0 {
		cfg.FreeTierItems = defaultFreeTierItems
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.FetchImage == nil {
		deps.FetchImage = func(ctx context.Context, item provider.Item) ([]byte, error) {
			return provider.ResolveImage(ctx, http.DefaultClient, item)
		}
	}

	return &Orchestrator{
		cfg:       cfg,
		deps:      deps,
		pending:   make(map[int64][]byte),
		userLocks: make(map[int64]*sync.Mutex),
	}, nil
}

// Start registers the payment subscription on the bus.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.deps.Bus == nil {
		return errors.New("bus is required to start")
	}

	closer, err := o.deps.Bus.Subscribe(ctx, bus.PaymentConfirmedSubject, "orchestrator-payments", o.handlePaymentMessage)
	if err != nil {
		return err
	}

	o.subsMu.Lock()
	o.subs = append(o.subs, closer)
	o.subsMu.Unlock()
	return nil
}

// Close tears down active subscriptions.
func (o *Orchestrator) Close() error {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()

	var firstErr error
	for _, sub := range o.subs {
		if sub == nil {
			continue
		}
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.subs = nil
	return firstErr
}

func (o *Orchestrator) userLock(id int64) *sync.Mutex {
	o.userMu.Lock()
	defer o.userMu.Unlock()
	lock, ok := o.userLocks[id]
	if !ok {
		lock = &sync.Mutex{}
		o.userLocks[id] = lock
	}
	return lock
}

func (o *Orchestrator) setPending(userID int64, photo []byte) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	o.pending[userID] = photo
}

func (o *Orchestrator) popPending(userID int64) ([]byte, bool) {
	o.pendingMu.Lock()
	defer o.pendingMu.Unlock()
	photo, ok := o.pending[userID]
	if ok {
		delete(o.pending, userID)
	}
	return photo, ok
}

func (o *Orchestrator) render(name string, data any) string {
	text, err := o.deps.Renderer.Render(name, data)
	if err != nil {
		o.deps.Logger.Printf("ERROR render %s: %v", name, err)
		return ""
	}
	return text
}

func (o *Orchestrator) sendText(ctx context.Context, userID int64, text string) {
	if text == "" {
		return
	}
	if err := o.deps.Messenger.SendText(ctx, userID, text); err != nil {
		o.deps.Logger.Printf("ERROR send text to user %d: %v", userID, err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, subj string, payload any) {
	if o.deps.Bus == nil {
		return
	}
	if err := o.deps.Bus.Publish(ctx, subj, payload); err != nil {
		o.deps.Logger.Printf("ERROR publish %s: %v", subj, err)
	}
}

func (o *Orchestrator) track(ctx context.Context, userID int64, name string, payload map[string]any) {
	if err := o.deps.Ledger.TrackEvent(ctx, userID, name, payload); err != nil {
		o.deps.Logger.Printf("ERROR track %s for user %d: %v", name, userID, err)
	}
}

// HandlePhoto processes an incoming photo: ensures the user exists, applies
// the daily free grant, and either runs the search or parks the photo until
// a payment arrives.
func (o *Orchestrator) HandlePhoto(ctx context.Context, userID int64, photo []byte) (Outcome, error) {
	if len(photo) == 0 {
		return Outcome{}, errors.New("empty photo")
	}

	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.deps.Ledger.GetOrCreateUser(ctx, userID); err != nil {
		return Outcome{}, err
	}
	if _, err := o.deps.Ledger.GrantDailyFreeSearch(ctx, userID); err != nil {
		return Outcome{}, err
	}

	free, paid, err := o.deps.Ledger.Credits(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	if free == 0 && paid == 0 {
		o.setPending(userID, photo)
		o.sendText(ctx, userID, o.render("no_credits", nil))
		o.track(ctx, userID, "payment_required", nil)
		return Outcome{Status: StatusPaymentRequired}, nil
	}

	return o.runSearch(ctx, userID, photo)
}

// runSearch submits the photo and delivers the result. Callers must hold the
// user lock.
func (o *Orchestrator) runSearch(ctx context.Context, userID int64, photo []byte) (Outcome, error) {
	searchesStarted.Inc()
	o.publish(ctx, bus.SearchStartedSubject, map[string]any{"user_id": userID})

	lastProgress := -1
	result, err := o.deps.Searcher.SubmitAndWait(ctx, photo, o.cfg.Demo, func(progress int) {
		if progress == lastProgress {
			return
		}
		lastProgress = progress
		o.sendText(ctx, userID, o.render("search_progress", map[string]any{"Progress": progress}))
	})
	if err != nil {
		searchesFailed.Inc()

		msg := "search failed"
		var serr *provider.SearchError
		if errors.As(err, &serr) {
			msg = serr.Message
		}
		o.sendText(ctx, userID, o.render("search_failed", map[string]any{"Message": msg}))
		o.publish(ctx, bus.SearchFailedSubject, map[string]any{"user_id": userID, "reason": msg})
		o.track(ctx, userID, "search_failed", map[string]any{"reason": msg})
		return Outcome{Status: StatusFailed}, err
	}

	wasFree, err := o.deps.Ledger.UseSearch(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNoCredits) {
			// Balance drained between the check and the debit. The result is
			// discarded; the user pays like anyone else.
			o.setPending(userID, photo)
			o.sendText(ctx, userID, o.render("no_credits", nil))
			return Outcome{Status: StatusPaymentRequired}, nil
		}
		return Outcome{}, err
	}

	searchID := result.IDSearch
	if searchID == "" {
		searchID = uuid.New().String()
	}
	o.deps.Sessions.Store(searchID, userID, wasFree, result)

	if wasFree {
		return o.deliverFree(ctx, userID, searchID, result)
	}
	return o.deliverPaid(ctx, userID, searchID, result)
}

// deliverFree sends the locked free tier: the first FreeTierItems matches
// with source links withheld and blurred previews where an image resolves.
func (o *Orchestrator) deliverFree(ctx context.Context, userID int64, searchID string, result *provider.SearchResult) (Outcome, error) {
	items := result.Output.Items
	shown := len(items)
	if shown > o.cfg.FreeTierItems {
		shown = o.cfg.FreeTierItems
	}

	o.sendText(ctx, userID, o.render("delivered_free", map[string]any{
		"Total": len(items),
		"Shown": shown,
	}))

	for i := 0; i < shown; i++ {
		caption := fmt.Sprintf("Match %d — score %d. Unlock to reveal the source link.", i+1, items[i].Score)
		o.sendItem(ctx, userID, caption, items[i], true)
	}

	if err := o.deps.Sessions.ScheduleReminder(searchID, o.fireReminder); err != nil {
		o.deps.Logger.Printf("ERROR schedule reminder for %s: %v", searchID, err)
	}

	searchesCompleted.WithLabelValues("free").Inc()
	o.publish(ctx, bus.SearchDeliveredSubject, map[string]any{
		"user_id":   userID,
		"search_id": searchID,
		"tier":      "free",
		"items":     len(items),
	})
	o.track(ctx, userID, "search_delivered", map[string]any{"search_id": searchID, "tier": "free"})

	return Outcome{Status: StatusDeliveredFree, SearchID: searchID}, nil
}

// deliverPaid sends the full result set with source links revealed and VK
// profile names resolved. The session is unlocked immediately; no reminder.
func (o *Orchestrator) deliverPaid(ctx context.Context, userID int64, searchID string, result *provider.SearchResult) (Outcome, error) {
	items := result.Output.Items

	o.sendText(ctx, userID, o.render("delivered_paid", map[string]any{"Total": len(items)}))

	names := o.resolveNames(ctx, items)
	for i, item := range items {
		o.sendItem(ctx, userID, revealedCaption(i, item, names[item.URL]), item, false)
	}

	if err := o.deps.Sessions.MarkUnlocked(searchID); err != nil {
		o.deps.Logger.Printf("ERROR mark unlocked %s: %v", searchID, err)
	}

	searchesCompleted.WithLabelValues("paid").Inc()
	o.publish(ctx, bus.SearchDeliveredSubject, map[string]any{
		"user_id":   userID,
		"search_id": searchID,
		"tier":      "paid",
		"items":     len(items),
	})
	o.track(ctx, userID, "search_delivered", map[string]any{"search_id": searchID, "tier": "paid"})

	return Outcome{Status: StatusDeliveredPaid, SearchID: searchID}, nil
}

// sendItem delivers one match, with an image when one resolves. Locked items
// get a blurred preview; revealed items a plain thumbnail.
func (o *Orchestrator) sendItem(ctx context.Context, userID int64, caption string, item provider.Item, locked bool) {
	if o.deps.Previews != nil {
		if raw, err := o.deps.FetchImage(ctx, item); err == nil {
			var img []byte
			var perr error
			if locked {
				img, perr = o.deps.Previews.Blurred(raw)
			} else {
				img, perr = o.deps.Previews.Thumbnail(raw)
			}
			if perr == nil {
				if err := o.deps.Messenger.SendPhoto(ctx, userID, caption, img); err == nil {
					return
				}
			}
		}
	}
	o.sendText(ctx, userID, caption)
}

func revealedCaption(index int, item provider.Item, name string) string {
	if name != "" {
		return fmt.Sprintf("Match %d — %s — score %d\n%s", index+1, name, item.Score, item.URL)
	}
	return fmt.Sprintf("Match %d — score %d\n%s", index+1, item.Score, item.URL)
}

// resolveNames maps VK profile URLs to display names: the API lookup first,
// then a guess from the username (ivan_petrov -> Ivan Petrov) for URLs the
// lookup could not resolve.
func (o *Orchestrator) resolveNames(ctx context.Context, items []provider.Item) map[string]string {
	usernames := make(map[string]string)
	var urls []string
	for _, item := range items {
		if username := provider.ExtractVKUsername(item.URL); username != "" {
			urls = append(urls, item.URL)
			usernames[item.URL] = username
		}
	}
	if len(urls) == 0 {
		return nil
	}

	names := make(map[string]string)
	if o.deps.Names != nil {
		for u, name := range o.deps.Names.NamesFromURLs(ctx, urls) {
			names[u] = name
		}
	}
	for u, username := range usernames {
		if names[u] == "" {
			if guess := provider.GuessNameFromUsername(username); guess != "" {
				names[u] = guess
			}
		}
	}
	return names
}

// fireReminder runs on the session's reminder timer.
func (o *Orchestrator) fireReminder(searchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entry, err := o.deps.Sessions.Get(searchID)
	if err != nil {
		return
	}

	if err := o.deps.Messenger.SendText(ctx, entry.UserID, o.render("reminder", nil)); err != nil {
		o.deps.Logger.Printf("ERROR send reminder to user %d: %v", entry.UserID, err)
		return
	}
	remindersFired.Inc()
	o.track(ctx, entry.UserID, "reminder_sent", map[string]any{"search_id": searchID})
}

func (o *Orchestrator) handlePaymentMessage(ctx context.Context, data []byte) error {
	var evt PaymentEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		o.deps.Logger.Printf("ERROR decode payment event: %v", err)
		return nil // poison message, do not redeliver
	}
	return o.HandlePaymentEvent(ctx, evt)
}

// HandlePaymentEvent applies one confirmed payment. Every payment is
// recorded first, expired sessions included; there is no refund path.
func (o *Orchestrator) HandlePaymentEvent(ctx context.Context, evt PaymentEvent) error {
	if evt.UserID == 0 {
		return errors.New("user_id missing from payment event")
	}

	lock := o.userLock(evt.UserID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := o.deps.Ledger.GetOrCreateUser(ctx, evt.UserID); err != nil {
		return err
	}

	recorded, err := o.deps.Ledger.RecordPayment(ctx, evt.UserID, evt.Stars, evt.Searches, evt.ExternalPaymentID)
	if err != nil {
		return err
	}
	if !recorded {
		// Duplicate delivery of an already-processed payment.
		return nil
	}
	paymentsProcessed.WithLabelValues(evt.Kind).Inc()
	o.track(ctx, evt.UserID, "payment_received", map[string]any{
		"kind":  evt.Kind,
		"stars": evt.Stars,
	})

	switch evt.Kind {
	case PaymentKindSearch:
		if evt.Searches > 0 {
			if err := o.deps.Ledger.AddPaidSearches(ctx, evt.UserID, evt.Searches); err != nil {
				return err
			}
		}
		photo, ok := o.popPending(evt.UserID)
		if !ok {
			// Paid without a parked photo: the credits wait for the next one.
			return nil
		}
		// The parked photo is consumed here. If the search fails downstream
		// the user is told but must re-send the photo.
		if _, err := o.runSearch(ctx, evt.UserID, photo); err != nil {
			o.deps.Logger.Printf("ERROR search after payment for user %d: %v", evt.UserID, err)
		}
		return nil

	case PaymentKindUnlockItem:
		return o.unlock(ctx, evt.UserID, evt.SearchID, evt.ItemIndex, false)

	case PaymentKindUnlockAll:
		return o.unlock(ctx, evt.UserID, evt.SearchID, 0, true)

	default:
		o.deps.Logger.Printf("WARN unknown payment kind %q for user %d", evt.Kind, evt.UserID)
		return nil
	}
}

// Unlock reveals source links for a delivered session. An empty searchID
// targets the user's most recent search.
func (o *Orchestrator) Unlock(ctx context.Context, userID int64, searchID string, itemIndex int, all bool) error {
	lock := o.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return o.unlock(ctx, userID, searchID, itemIndex, all)
}

// unlock requires the user lock.
func (o *Orchestrator) unlock(ctx context.Context, userID int64, searchID string, itemIndex int, all bool) error {
	if searchID == "" {
		last, ok := o.deps.Sessions.LastSearchID(userID)
		if !ok {
			o.sendText(ctx, userID, o.render("session_expired", nil))
			return ErrSessionExpired
		}
		searchID = last
	}

	entry, err := o.deps.Sessions.Get(searchID)
	if err != nil || o.deps.Sessions.IsExpired(searchID) {
		o.sendText(ctx, userID, o.render("session_expired", nil))
		return ErrSessionExpired
	}
	if entry.UserID != userID {
		return fmt.Errorf("search %s belongs to another user", searchID)
	}

	items := entry.Result.Output.Items
	names := o.resolveNames(ctx, items)

	if all {
		// Re-sends everything when called on an already-unlocked session.
		for i, item := range items {
			o.sendItem(ctx, userID, revealedCaption(i, item, names[item.URL]), item, false)
		}
		if err := o.deps.Sessions.MarkUnlocked(searchID); err != nil {
			return err
		}
		unlocksDelivered.WithLabelValues("all").Inc()
		o.track(ctx, userID, "unlock_all", map[string]any{"search_id": searchID})
		return nil
	}

	if itemIndex < 0 || itemIndex >= len(items) {
		return fmt.Errorf("item index %d out of range (0-%d)", itemIndex, len(items)-1)
	}
	item := items[itemIndex]
	o.sendItem(ctx, userID, revealedCaption(itemIndex, item, names[item.URL]), item, false)
	unlocksDelivered.WithLabelValues("item").Inc()
	o.track(ctx, userID, "unlock_item", map[string]any{"search_id": searchID, "item": itemIndex})
	return nil
}

// LastSearchID exposes the most recent search id for a user, for the debug
// surface.
func (o *Orchestrator) LastSearchID(userID int64) (string, bool) {
	return o.deps.Sessions.LastSearchID(userID)
}

// Session returns the cached session entry for a search id.
func (o *Orchestrator) Session(searchID string) (session.Entry, error) {
	return o.deps.Sessions.Get(searchID)
}
