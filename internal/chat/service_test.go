package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewind/internal/emitter"
	"rewind/internal/llm"
	"rewind/internal/store"
)

type fakeProvider struct {
	deltas    []string
	final     llm.Response
	streamErr error
}

func (f *fakeProvider) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	return f.final, nil
}

func (f *fakeProvider) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	if f.streamErr != nil {
		handler.OnError(f.streamErr)
		return f.streamErr
	}
	for _, d := range f.deltas {
		handler.OnDelta(d)
	}
	handler.OnDone(f.final)
	return nil
}

type fakeConversationRepo struct {
	mu            sync.Mutex
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
	deleted       []string
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string][]store.Message),
	}
}

func (r *fakeConversationRepo) Create(ctx context.Context, c store.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c
	return nil
}

func (r *fakeConversationRepo) Get(ctx context.Context, id string) (store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return store.Conversation{}, errors.New("not found")
	}
	return c, nil
}

func (r *fakeConversationRepo) List(ctx context.Context) ([]store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Conversation
	for _, c := range r.conversations {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeConversationRepo) SetTitle(ctx context.Context, id, title string, isPlaceholder bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return errors.New("not found")
	}
	c.Title = title
	c.TitleIsPlaceholder = isPlaceholder
	r.conversations[id] = c
	return nil
}

func (r *fakeConversationRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conversations, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeConversationRepo) AppendMessage(ctx context.Context, m store.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ConversationID] = append(r.messages[m.ConversationID], m)
	return nil
}

func (r *fakeConversationRepo) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.Message, len(r.messages[conversationID]))
	copy(out, r.messages[conversationID])
	return out, nil
}

type fakeActivityRepo struct {
	byID map[string]store.Activity
}

func (r *fakeActivityRepo) Create(ctx context.Context, a store.Activity) error { return nil }
func (r *fakeActivityRepo) Get(ctx context.Context, id string) (store.Activity, error) {
	a, ok := r.byID[id]
	if !ok {
		return store.Activity{}, errors.New("not found")
	}
	return a, nil
}
func (r *fakeActivityRepo) ListOverlapping(ctx context.Context, start, end time.Time) ([]store.Activity, error) {
	return nil, nil
}
func (r *fakeActivityRepo) ListAll(ctx context.Context) ([]store.Activity, error) { return nil, nil }
func (r *fakeActivityRepo) Update(ctx context.Context, a store.Activity) error    { return nil }
func (r *fakeActivityRepo) Delete(ctx context.Context, id string) error          { return nil }
func (r *fakeActivityRepo) RecordPreference(ctx context.Context, p store.SessionPreference) error {
	return nil
}
func (r *fakeActivityRepo) RecentPreferences(ctx context.Context, kind string, limit int) ([]store.SessionPreference, error) {
	return nil, nil
}

type capturingEmitter struct {
	mu      sync.Mutex
	events  []string
	payload []any
}

func (e *capturingEmitter) Emit(event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	e.payload = append(e.payload, payload)
}

func TestCreateConversationStartsWithPlaceholderTitle(t *testing.T) {
	svc := NewService(&fakeProvider{}, newFakeConversationRepo(), &fakeActivityRepo{}, nil)
	c, err := svc.CreateConversation(context.Background())
	require.NoError(t, err)
	assert.True(t, c.TitleIsPlaceholder)
	assert.Equal(t, "New Conversation", c.Title)
}

func TestCreateConversationFromActivitiesSeedsSystemMessage(t *testing.T) {
	repo := newFakeConversationRepo()
	activities := &fakeActivityRepo{byID: map[string]store.Activity{
		"a1": {ID: "a1", Title: "Deep work", Description: "Focused coding session"},
	}}
	svc := NewService(&fakeProvider{}, repo, activities, nil)

	c, err := svc.CreateConversationFromActivities(context.Background(), []string{"a1"})
	require.NoError(t, err)
	assert.False(t, c.TitleIsPlaceholder)
	assert.Contains(t, c.Title, "Deep work")

	msgs, err := repo.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(llm.RoleSystem), msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Deep work")
}

func TestSendMessageStreamsAndPersistsAssistantReply(t *testing.T) {
	repo := newFakeConversationRepo()
	c := store.NewConversation()
	require.NoError(t, repo.Create(context.Background(), c))

	emit := &capturingEmitter{}
	provider := &fakeProvider{deltas: []string{"Hel", "lo"}, final: llm.Response{Content: "Hello"}}
	svc := NewService(provider, repo, &fakeActivityRepo{}, emit)

	err := svc.SendMessage(context.Background(), c.ID, "hi there")
	require.NoError(t, err)

	msgs, err := repo.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, string(llm.RoleUser), msgs[0].Role)
	assert.Equal(t, string(llm.RoleAssistant), msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Content)

	require.NotEmpty(t, emit.events)
	lastPayload := emit.payload[len(emit.payload)-1].(emitter.ChatMessageChunkPayload)
	assert.True(t, lastPayload.Done)
	assert.Equal(t, msgs[1].ID, lastPayload.MessageID)

	updated, err := repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, updated.TitleIsPlaceholder)
}

func TestSendMessageSavesErrorMessageOnStreamFailure(t *testing.T) {
	repo := newFakeConversationRepo()
	c := store.NewConversation()
	require.NoError(t, repo.Create(context.Background(), c))

	provider := &fakeProvider{streamErr: errors.New("upstream unavailable")}
	svc := NewService(provider, repo, &fakeActivityRepo{}, nil)

	err := svc.SendMessage(context.Background(), c.ID, "hi")
	require.Error(t, err)

	msgs, err := repo.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "[Error]")
	assert.Equal(t, true, msgs[1].Metadata["error"])
}

func TestCancelStreamCancelsRegisteredContext(t *testing.T) {
	svc := NewService(&fakeProvider{}, newFakeConversationRepo(), &fakeActivityRepo{}, nil)
	ctx, cleanup := svc.registerStream(context.Background(), "conv-1")
	defer cleanup()

	assert.True(t, svc.IsStreaming("conv-1"))
	svc.CancelStream("conv-1")
	assert.False(t, svc.IsStreaming("conv-1"))

	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected stream context to be cancelled")
	}
}

func TestGenerateTitleFromTextStripsMarkdownAndShortens(t *testing.T) {
	title := generateTitleFromText("# Hello\n\nCan you help me refactor `internal/store` for better performance please?")
	assert.LessOrEqual(t, len(title), maxTitleLength+1)
	assert.NotContains(t, title, "#")
	assert.NotContains(t, title, "`")
}

// blockingProvider simulates an in-flight stream that only resolves once
// its context is cancelled, so a test can exercise SendMessage's
// cancel-the-prior-stream behavior deterministically.
type blockingProvider struct {
	started chan struct{}
	final   llm.Response
}

func (p *blockingProvider) ChatCompletion(ctx context.Context, messages []llm.Message, params llm.Params) (llm.Response, error) {
	return p.final, nil
}

func (p *blockingProvider) ChatCompletionStream(ctx context.Context, messages []llm.Message, params llm.Params, handler llm.StreamHandler) error {
	close(p.started)
	<-ctx.Done()
	handler.OnError(ctx.Err())
	return ctx.Err()
}

func TestSendMessageCancelsPriorStreamOnNewMessageForSameConversation(t *testing.T) {
	repo := newFakeConversationRepo()
	c := store.NewConversation()
	require.NoError(t, repo.Create(context.Background(), c))

	first := &blockingProvider{started: make(chan struct{})}
	svc := NewService(first, repo, &fakeActivityRepo{}, nil)

	firstDone := make(chan error, 1)
	go func() { firstDone <- svc.SendMessage(context.Background(), c.ID, "first message") }()
	<-first.started

	svc.provider = &fakeProvider{deltas: []string{"sec", "ond"}, final: llm.Response{Content: "second reply"}}
	require.NoError(t, svc.SendMessage(context.Background(), c.ID, "second message"))
	require.Error(t, <-firstDone)

	// Cancellation of the first stream and persistence of the second reply
	// race in real time (the second caller doesn't wait on the first
	// stream's cleanup), so only the properties spec.md §8 scenario 6
	// actually names are asserted here: both user turns landed in order,
	// the first stream's turn carries an error flag, and a reply to the
	// second prompt exists.
	msgs, err := repo.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	var userContents []string
	var sawErrorMessage, sawSecondReply bool
	for _, m := range msgs {
		if m.Role == string(llm.RoleUser) {
			userContents = append(userContents, m.Content)
		}
		if m.Metadata["error"] == true {
			sawErrorMessage = true
		}
		if m.Content == "second reply" {
			sawSecondReply = true
		}
	}
	assert.Equal(t, []string{"first message", "second message"}, userContents)
	assert.True(t, sawErrorMessage, "expected the cancelled first stream's turn to be flagged as an error")
	assert.True(t, sawSecondReply, "expected the second stream's reply to be persisted")
}

func TestDeleteConversationRemovesRowAndCancelsStream(t *testing.T) {
	repo := newFakeConversationRepo()
	c := store.NewConversation()
	require.NoError(t, repo.Create(context.Background(), c))

	svc := NewService(&fakeProvider{}, repo, &fakeActivityRepo{}, nil)
	_, cleanup := svc.registerStream(context.Background(), c.ID)
	defer cleanup()

	require.NoError(t, svc.DeleteConversation(context.Background(), c.ID))
	assert.False(t, svc.IsStreaming(c.ID))
	assert.Contains(t, repo.deleted, c.ID)
}
