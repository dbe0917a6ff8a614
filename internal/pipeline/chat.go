// Package pipeline runs a chat turn end to end: session, history, intent,
// shortlist, prompt, completion and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/composer"
	"github.com/kalambet/shopassist/internal/intent"
	"github.com/kalambet/shopassist/internal/proxy"
	"github.com/kalambet/shopassist/internal/retrieval"
	"github.com/kalambet/shopassist/internal/session"
	"github.com/kalambet/shopassist/internal/storage"
)

// ReplyEmptyMessage answers a blank message without touching storage.
const ReplyEmptyMessage = "Nội dung tin nhắn trống."

// ErrSessionNotFound is the single error callers see for a session that is
// missing or owned by someone else.
var ErrSessionNotFound = errors.New("session not found")

// Store defines the storage operations the Chat needs.
// Implemented by storage.Store.
type Store interface {
	session.Store
	AppendMessage(ctx context.Context, m storage.ChatMessage) (storage.ChatMessage, error)
	FinishTurn(ctx context.Context, m storage.ChatMessage, touchedAt time.Time) (storage.ChatMessage, error)
	LatestSession(ctx context.Context, userID int64, agent string) (storage.ChatSession, error)
	ListMessages(ctx context.Context, sessionID int64) ([]storage.ChatMessage, error)
}

// ProductGetter loads the product a customer is viewing.
type ProductGetter interface {
	GetProduct(ctx context.Context, id int64) (catalog.Product, error)
}

// Completer produces the assistant reply. It never fails; upstream problems
// come back as canned replies.
type Completer interface {
	Complete(ctx context.Context, systemInstruction string, history []proxy.Turn) string
}

// SendRequest is one inbound customer message.
type SendRequest struct {
	SessionID *int64
	Agent     *string
	Message   string
	ProductID *int64
	Page      string
}

// Reply is the outcome of a turn. SessionID is nil only for the empty
// message reply.
type Reply struct {
	SessionID *int64    `json:"sessionId"`
	Text      string    `json:"reply"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageView is a stored message as shown to clients.
type MessageView struct {
	ID        int64     `json:"messageId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	ProductID *int64    `json:"productId"`
}

// SessionView is a session with its full message list.
type SessionView struct {
	ID        int64         `json:"sessionId"`
	Agent     string        `json:"agent"`
	Status    string        `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Messages  []MessageView `json:"messages"`
}

// Recommendation is the intent and shortlist for a message, computed without
// calling the model.
type Recommendation struct {
	Intent   intent.Intent     `json:"intent"`
	Products []catalog.Product `json:"products"`
}

// Chat orchestrates chat turns and history reads.
type Chat struct {
	store     Store
	products  ProductGetter
	sessions  *session.Manager
	extractor *intent.Extractor
	resolver  *retrieval.Resolver
	composer  *composer.Composer
	completer Completer
	clock     session.Clock

	historyLimit int
}

// NewChat creates a Chat wired to its collaborators.
func NewChat(
	store Store,
	products ProductGetter,
	extractor *intent.Extractor,
	resolver *retrieval.Resolver,
	comp *composer.Composer,
	completer Completer,
) *Chat {
	return NewChatWithClock(store, products, extractor, resolver, comp, completer, realClock{})
}

// NewChatWithClock creates a Chat with a custom clock (for testing).
func NewChatWithClock(
	store Store,
	products ProductGetter,
	extractor *intent.Extractor,
	resolver *retrieval.Resolver,
	comp *composer.Composer,
	completer Completer,
	clock session.Clock,
) *Chat {
	return &Chat{
		store:        store,
		products:     products,
		sessions:     session.NewManagerWithClock(store, clock),
		extractor:    extractor,
		resolver:     resolver,
		composer:     comp,
		completer:    completer,
		clock:        clock,
		historyLimit: session.DefaultHistoryLimit,
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SendMessage runs one turn. The user message is stored before the model is
// called and the assistant message is stored together with the session
// touch afterwards; no transaction spans the model call.
func (c *Chat) SendMessage(ctx context.Context, userID int64, req SendRequest) (Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Reply{Text: ReplyEmptyMessage, CreatedAt: c.clock.Now().UTC()}, nil
	}

	log := slog.With("turn", uuid.NewString(), "user_id", userID)

	// The product is read before the session so a failed read cannot leave
	// a freshly created session without messages.
	current, err := c.currentProduct(ctx, req.ProductID)
	if err != nil {
		return Reply{}, err
	}
	var productID *int64
	if current != nil {
		id := current.ID
		productID = &id
	}

	sess, err := c.sessions.Resolve(ctx, userID, req.SessionID, req.Agent)
	if err != nil {
		return Reply{}, err
	}
	log = log.With("session_id", sess.ID, "agent", sess.Agent)

	if _, err := c.store.AppendMessage(ctx, storage.ChatMessage{
		SessionID: sess.ID,
		Role:      storage.RoleUser,
		Content:   message,
		ProductID: productID,
		CreatedAt: c.clock.Now(),
	}); err != nil {
		return Reply{}, fmt.Errorf("saving user message: %w", err)
	}

	history, err := c.sessions.RecentHistory(ctx, sess.ID, c.historyLimit)
	if err != nil {
		return Reply{}, err
	}

	sizes := intent.ExtractSizes(message)
	colors := intent.ExtractColors(message)
	shortlist := c.resolver.Resolve(ctx, current, req.Page, message, sizes, colors)

	prompt := c.composer.Build(composer.Input{
		Agent:     sess.Agent,
		Page:      req.Page,
		Current:   current,
		Shortlist: shortlist,
		Sizes:     sizes,
		Colors:    colors,
	})

	log.Debug("chat: calling model",
		"history", len(history),
		"sizes", sizes,
		"colors", colors,
		"shortlist", len(shortlist),
	)
	text := c.completer.Complete(ctx, prompt, toTurns(history))

	now := c.clock.Now()
	saved, err := c.store.FinishTurn(ctx, storage.ChatMessage{
		SessionID: sess.ID,
		Role:      storage.RoleAssistant,
		Content:   text,
		ProductID: productID,
		CreatedAt: now,
	}, now)
	if err != nil {
		return Reply{}, fmt.Errorf("saving assistant message: %w", err)
	}

	log.Debug("chat: turn complete", "message_id", saved.ID)
	sessionID := sess.ID
	return Reply{SessionID: &sessionID, Text: text, CreatedAt: saved.CreatedAt}, nil
}

// LatestSession returns the most recently updated session of the user for
// agent with its messages, or nil when there is none.
func (c *Chat) LatestSession(ctx context.Context, userID int64, agent string) (*SessionView, error) {
	sess, err := c.store.LatestSession(ctx, userID, agent)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading latest session: %w", err)
	}

	msgs, err := c.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("loading messages of session %d: %w", sess.ID, err)
	}
	return &SessionView{
		ID:        sess.ID,
		Agent:     sess.Agent,
		Status:    sess.Status,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
		Messages:  toViews(msgs),
	}, nil
}

// Messages returns the messages of a session the user owns, oldest first.
func (c *Chat) Messages(ctx context.Context, userID, sessionID int64) ([]MessageView, error) {
	if _, err := c.sessions.EnsureOwner(ctx, userID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrNotOwned) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	msgs, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading messages of session %d: %w", sessionID, err)
	}
	return toViews(msgs), nil
}

// Recommend extracts the intent of message and resolves the shortlist the
// model would be grounded on, without persisting anything.
func (c *Chat) Recommend(ctx context.Context, message, page string, productID *int64) (Recommendation, error) {
	current, err := c.currentProduct(ctx, productID)
	if err != nil {
		return Recommendation{}, err
	}
	in := c.extractor.Extract(ctx, message)
	return Recommendation{
		Intent:   in,
		Products: c.resolver.ResolveIntent(ctx, current, page, in),
	}, nil
}

// currentProduct loads the viewed product. An unknown id means no product.
func (c *Chat) currentProduct(ctx context.Context, id *int64) (*catalog.Product, error) {
	if id == nil || c.products == nil {
		return nil, nil
	}
	p, err := c.products.GetProduct(ctx, *id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading product %d: %w", *id, err)
	}
	return &p, nil
}

func toTurns(msgs []storage.ChatMessage) []proxy.Turn {
	turns := make([]proxy.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = proxy.Turn{Role: m.Role, Text: m.Content}
	}
	return turns
}

func toViews(msgs []storage.ChatMessage) []MessageView {
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			ProductID: m.ProductID,
		}
	}
	return views
}
