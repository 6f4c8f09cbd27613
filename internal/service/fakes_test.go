package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/mock"

	"github.com/studyforge/gateway/internal/clock"
	"github.com/studyforge/gateway/internal/database"
	"github.com/studyforge/gateway/internal/jobs"
	"github.com/studyforge/gateway/internal/model"
	"github.com/studyforge/gateway/internal/notify"
	"github.com/studyforge/gateway/internal/provider"
	"github.com/studyforge/gateway/internal/repository"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for the Postgres schema. Transactions
// snapshot the whole store and restore it when the callback fails.
type memStore struct {
	mu           sync.Mutex
	clock        clock.Clock
	seq          int
	participants map[string]bool
	games        map[string]*model.Game
	credentials  map[string]*model.GameCredential
	sessions     map[string]*model.GameSession
	events       []model.TelemetryEvent
	logs         []model.AIInteractionLog
	notices      map[string]*model.Notification
	policy       *model.SecurityPolicyRow

	failLogCreate    error
	failNoticeCreate error
	failLookup       error
}

func newMemStore(clk clock.Clock) *memStore {
	return &memStore{
		clock:        clk,
		participants: map[string]bool{},
		games:        map[string]*model.Game{},
		credentials:  map[string]*model.GameCredential{},
		sessions:     map[string]*model.GameSession{},
		notices:      map[string]*model.Notification{},
	}
}

func (s *memStore) nextID() string {
	s.seq++
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", s.seq)
}

func (s *memStore) addParticipant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.participants[id] = true
	return id
}

func (s *memStore) addGame(ownerID string) *model.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &model.Game{
		ID:        s.nextID(),
		Name:      "maze",
		OwnerID:   ownerID,
		Status:    model.GameStatusActive,
		CreatedAt: s.clock.Now(),
		UpdatedAt: s.clock.Now(),
	}
	s.games[g.ID] = g
	return g
}

func (s *memStore) logsFor(sessionID string) []model.AIInteractionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AIInteractionLog
	for _, l := range s.logs {
		if l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out
}

func (s *memStore) activeCredentials(gameID string, env model.Environment) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.credentials {
		if c.GameID == gameID && c.IsActive && (env == "" || c.Environment == env) {
			n++
		}
	}
	return n
}

type memSnapshot struct {
	games       map[string]model.Game
	credentials map[string]model.GameCredential
	notices     map[string]model.Notification
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		games:       map[string]model.Game{},
		credentials: map[string]model.GameCredential{},
		notices:     map[string]model.Notification{},
	}
	for k, v := range s.games {
		snap.games[k] = *v
	}
	for k, v := range s.credentials {
		snap.credentials[k] = *v
	}
	for k, v := range s.notices {
		snap.notices[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = map[string]*model.Game{}
	for k, v := range snap.games {
		v := v
		s.games[k] = &v
	}
	s.credentials = map[string]*model.GameCredential{}
	for k, v := range snap.credentials {
		v := v
		s.credentials[k] = &v
	}
	s.notices = map[string]*model.Notification{}
	for k, v := range snap.notices {
		v := v
		s.notices[k] = &v
	}
}

type memTx struct {
	store *memStore
}

var _ database.Transactor = (*memTx)(nil)

func (t *memTx) WithTx(ctx context.Context, fn database.TxFunc) error {
	snap := t.store.snapshot()
	if err := fn(nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// Credentials

type memCredentialRepo struct{ s *memStore }

var _ repository.CredentialRepository = (*memCredentialRepo)(nil)

func (r *memCredentialRepo) WithTx(tx *sqlx.Tx) repository.CredentialRepository { return r }

func (r *memCredentialRepo) FindByID(ctx context.Context, id string) (*model.GameCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.credentials[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memCredentialRepo) FindActiveByPrefix(ctx context.Context, prefix string) ([]model.GameCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failLookup != nil {
		return nil, r.s.failLookup
	}
	var out []model.GameCredential
	for _, c := range r.s.credentials {
		if c.KeyPrefix == prefix && c.IsActive {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memCredentialRepo) ListByGame(ctx context.Context, gameID string) ([]model.GameCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.GameCredential{}
	for _, c := range r.s.credentials {
		if c.GameID == gameID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (r *memCredentialRepo) Create(ctx context.Context, p model.CreateCredentialParams) (*model.GameCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := &model.GameCredential{
		ID:          r.s.nextID(),
		GameID:      p.GameID,
		KeyPrefix:   p.KeyPrefix,
		KeyHash:     p.KeyHash,
		Environment: p.Environment,
		IsActive:    true,
		CreatedAt:   r.s.clock.Now(),
	}
	r.s.credentials[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r *memCredentialRepo) revokeWhere(match func(*model.GameCredential) bool) int64 {
	now := r.s.clock.Now()
	var n int64
	for _, c := range r.s.credentials {
		if c.IsActive && match(c) {
			c.IsActive = false
			c.RevokedAt = &now
			n++
		}
	}
	return n
}

func (r *memCredentialRepo) Revoke(ctx context.Context, id string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.revokeWhere(func(c *model.GameCredential) bool { return c.ID == id }), nil
}

func (r *memCredentialRepo) RevokeByIDs(ctx context.Context, ids []string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return r.revokeWhere(func(c *model.GameCredential) bool { return set[c.ID] }), nil
}

func (r *memCredentialRepo) RevokeActiveForGameEnv(ctx context.Context, gameID string, env model.Environment) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.revokeWhere(func(c *model.GameCredential) bool {
		return c.GameID == gameID && c.Environment == env
	}), nil
}

func (r *memCredentialRepo) RevokeAllForGame(ctx context.Context, gameID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.revokeWhere(func(c *model.GameCredential) bool { return c.GameID == gameID }), nil
}

func (r *memCredentialRepo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c, ok := r.s.credentials[id]; ok {
		c.LastUsedAt = &at
	}
	return nil
}

// Games

type memGameRepo struct {
	s *memStore
	// beforeLock runs ahead of a locking read, standing in for a writer
	// that commits just before the lock is granted.
	beforeLock func(id string)
}

var _ repository.GameRepository = (*memGameRepo)(nil)

func (r *memGameRepo) WithTx(tx *sqlx.Tx) repository.GameRepository { return r }

func (r *memGameRepo) FindByID(ctx context.Context, id string) (*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if g, ok := r.s.games[id]; ok {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

func (r *memGameRepo) FindByIDForUpdate(ctx context.Context, id string) (*model.Game, error) {
	if r.beforeLock != nil {
		hook := r.beforeLock
		r.beforeLock = nil
		hook(id)
	}
	return r.FindByID(ctx, id)
}

func (r *memGameRepo) Disable(ctx context.Context, id string) (*model.Game, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	g, ok := r.s.games[id]
	if !ok {
		return nil, nil
	}
	now := r.s.clock.Now()
	g.Status = model.GameStatusDisabled
	if g.DisabledAt == nil {
		g.DisabledAt = &now
	}
	g.UpdatedAt = now
	cp := *g
	return &cp, nil
}

// Sessions

type memSessionRepo struct{ s *memStore }

var _ repository.GameSessionRepository = (*memSessionRepo)(nil)

func (r *memSessionRepo) WithTx(tx *sqlx.Tx) repository.GameSessionRepository { return r }

func (r *memSessionRepo) Create(ctx context.Context, gameID, participantID string) (*model.GameSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !r.s.participants[participantID] {
		return nil, &pq.Error{Code: "23503", Message: "insert or update on table \"game_sessions\" violates foreign key constraint"}
	}
	sess := &model.GameSession{
		ID:            r.s.nextID(),
		GameID:        gameID,
		ParticipantID: participantID,
		StartTime:     r.s.clock.Now(),
	}
	r.s.sessions[sess.ID] = sess
	cp := *sess
	return &cp, nil
}

func (r *memSessionRepo) End(ctx context.Context, gameID, sessionID string, score *float64) (*model.GameSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[sessionID]
	if !ok || sess.GameID != gameID || sess.EndTime != nil {
		return nil, nil
	}
	now := r.s.clock.Now()
	sess.EndTime = &now
	if score != nil {
		v := *score
		sess.Score = &v
	}
	cp := *sess
	return &cp, nil
}

func (r *memSessionRepo) FindForGame(ctx context.Context, gameID, sessionID string) (*model.GameSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[sessionID]
	if !ok || sess.GameID != gameID {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

// Events

type memEventRepo struct{ s *memStore }

func (r *memEventRepo) Create(ctx context.Context, p model.CreateEventParams) (*model.TelemetryEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e := model.TelemetryEvent{
		ID:            r.s.nextID(),
		ParticipantID: p.ParticipantID,
		EventType:     p.EventType,
		Timestamp:     r.s.clock.Now(),
		Payload:       p.Payload,
	}
	r.s.events = append(r.s.events, e)
	return &e, nil
}

// AI logs

type memAILogRepo struct{ s *memStore }

var _ repository.AILogRepository = (*memAILogRepo)(nil)

func (r *memAILogRepo) Create(ctx context.Context, p model.CreateAILogParams) (*model.AIInteractionLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failLogCreate != nil {
		return nil, r.s.failLogCreate
	}
	l := model.AIInteractionLog{
		ID:               r.s.nextID(),
		GameID:           p.GameID,
		SessionID:        p.SessionID,
		ParticipantID:    p.ParticipantID,
		EventType:        p.EventType,
		Model:            p.Model,
		Provider:         p.Provider,
		ModelVersion:     p.ModelVersion,
		PromptTokens:     p.PromptTokens,
		CompletionTokens: p.CompletionTokens,
		LatencyMs:        p.LatencyMs,
		Flagged:          p.Flagged,
		FlagReason:       p.FlagReason,
		Payload:          p.Payload,
		Metadata:         p.Metadata,
		CreatedAt:        r.s.clock.Now(),
	}
	r.s.logs = append(r.s.logs, l)
	return &l, nil
}

func (r *memAILogRepo) ListRecent(ctx context.Context, limit int) ([]model.AIInteractionLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []model.AIInteractionLog{}
	for i := len(r.s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.s.logs[i])
	}
	return out, nil
}

func (r *memAILogRepo) Spikes(ctx context.Context, threshold int) ([]model.TokenSpike, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	groups := map[[2]string]*model.TokenSpike{}
	var order [][2]string
	for _, l := range r.s.logs {
		key := [2]string{l.SessionID, l.GameID}
		g, ok := groups[key]
		if !ok {
			g = &model.TokenSpike{SessionID: l.SessionID, GameID: l.GameID, FirstSeen: l.CreatedAt}
			groups[key] = g
			order = append(order, key)
		}
		g.RequestCount++
		g.PromptTokens += int64(l.PromptTokens)
		g.CompletionTokens += int64(l.CompletionTokens)
		g.LastSeen = l.CreatedAt
	}
	out := []model.TokenSpike{}
	for _, key := range order {
		if g := groups[key]; g.RequestCount > threshold {
			out = append(out, *g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestCount > out[j].RequestCount })
	return out, nil
}

func (r *memAILogRepo) ListFlagged(ctx context.Context, limit, offset int) ([]model.AIInteractionLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var flagged []model.AIInteractionLog
	for i := len(r.s.logs) - 1; i >= 0; i-- {
		if r.s.logs[i].Flagged {
			flagged = append(flagged, r.s.logs[i])
		}
	}
	out := []model.AIInteractionLog{}
	for i := offset; i < len(flagged) && len(out) < limit; i++ {
		out = append(out, flagged[i])
	}
	return out, nil
}

func (r *memAILogRepo) SetFlag(ctx context.Context, id string, flagged bool, reason *string) (*model.AIInteractionLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.logs {
		if r.s.logs[i].ID == id {
			r.s.logs[i].Flagged = flagged
			if flagged {
				r.s.logs[i].FlagReason = reason
			} else {
				r.s.logs[i].FlagReason = nil
			}
			cp := r.s.logs[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// Notifications

type memNotificationRepo struct{ s *memStore }

var _ repository.NotificationRepository = (*memNotificationRepo)(nil)

func (r *memNotificationRepo) WithTx(tx *sqlx.Tx) repository.NotificationRepository { return r }

func (r *memNotificationRepo) Create(ctx context.Context, p model.CreateNotificationParams) (*model.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failNoticeCreate != nil {
		return nil, r.s.failNoticeCreate
	}
	n := &model.Notification{
		ID:          r.s.nextID(),
		RecipientID: p.RecipientID,
		Type:        p.Type,
		Payload:     p.Payload,
		CreatedAt:   r.s.clock.Now(),
	}
	r.s.notices[n.ID] = n
	cp := *n
	return &cp, nil
}

func (r *memNotificationRepo) MarkDelivered(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n, ok := r.s.notices[id]; ok {
		now := r.s.clock.Now()
		n.DeliveredAt = &now
	}
	return nil
}

func (r *memNotificationRepo) MarkAbandonedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Policy

type memPolicyRepo struct {
	s     *memStore
	loads int
	err   error
}

var _ repository.PolicyRepository = (*memPolicyRepo)(nil)

func (r *memPolicyRepo) Load(ctx context.Context) (*model.SecurityPolicyRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.loads++
	if r.err != nil {
		return nil, r.err
	}
	if r.s.policy == nil {
		return nil, nil
	}
	cp := *r.s.policy
	return &cp, nil
}

func (r *memPolicyRepo) Save(ctx context.Context, settings json.RawMessage) (*model.SecurityPolicyRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.s.policy = &model.SecurityPolicyRow{ID: 1, Settings: settings, UpdatedAt: r.s.clock.Now()}
	cp := *r.s.policy
	return &cp, nil
}

func (r *memPolicyRepo) loadCount() int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.loads
}

// Notification sink

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Publish(ctx context.Context, recipientID string, event notify.Event) error {
	args := m.Called(ctx, recipientID, event)
	return args.Error(0)
}

// Hashing and dispatch

type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	return "plain:" + secret, nil
}

func (plainHasher) Compare(hash, secret string) bool {
	return hash == "plain:"+secret
}

// inlineDispatcher runs tasks synchronously so tests can observe them.
type inlineDispatcher struct {
	mu    sync.Mutex
	names []string
}

func (d *inlineDispatcher) Dispatch(name string, fn jobs.Task) bool {
	d.mu.Lock()
	d.names = append(d.names, name)
	d.mu.Unlock()
	_ = fn(context.Background())
	return true
}

// Providers

type funcProvider struct {
	name  string
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req provider.Request) (*provider.Response, error)
}

func (p *funcProvider) Name() string { return p.name }

func (p *funcProvider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(ctx, req)
}

func (p *funcProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// platform wires every service over one memStore.
type platform struct {
	clock       *clock.FakeClock
	store       *memStore
	policyRepo  *memPolicyRepo
	policy      *PolicyCache
	credentials *CredentialService
	sessions    *SessionService
	events      *EventService
	ai          *AIService
	audit       *AuditService
	games       *memGameRepo
	provider    *funcProvider
	dispatcher  *inlineDispatcher
}

func newPlatform(sink notify.Sink) *platform {
	clk := clock.NewFake(testNow)
	store := newMemStore(clk)
	tx := &memTx{store: store}
	policyRepo := &memPolicyRepo{s: store}
	policy := NewPolicyCache(policyRepo, clk, 10*time.Second)
	dispatcher := &inlineDispatcher{}

	games := &memGameRepo{s: store}
	credentials := NewCredentialService(tx, &memCredentialRepo{s: store}, games,
		plainHasher{}, dispatcher, policy, clk)
	sessions := NewSessionService(&memSessionRepo{s: store})
	events := NewEventService(sessions, &memEventRepo{s: store})

	openai := &funcProvider{
		name: provider.OpenAIName,
		fn: func(ctx context.Context, req provider.Request) (*provider.Response, error) {
			return &provider.Response{
				Text:             "Try the left door.",
				Model:            req.Model + "-2024-07-18",
				PromptTokens:     12,
				CompletionTokens: 6,
				FinishReason:     "stop",
			}, nil
		},
	}
	ai := NewAIService(sessions, provider.NewRegistry(openai), &memAILogRepo{s: store}, clk, AIConfig{
		DefaultProvider:   provider.OpenAIName,
		DefaultModel:      "gpt-4o-mini",
		ProviderTimeout:   time.Second,
		MinResponseLength: 5,
	})

	audit := NewAuditService(tx, &memAILogRepo{s: store}, games, credentials,
		&memNotificationRepo{s: store}, sink, 20)

	return &platform{
		clock:       clk,
		store:       store,
		policyRepo:  policyRepo,
		policy:      policy,
		credentials: credentials,
		sessions:    sessions,
		events:      events,
		ai:          ai,
		audit:       audit,
		games:       games,
		provider:    openai,
		dispatcher:  dispatcher,
	}
}
