package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertscout/awesome-ai-prompts-sub000/internal/auth"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/events"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/prompts"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/quota"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/upstream"
	"github.com/convertscout/awesome-ai-prompts-sub000/internal/usage"
)

const testSecret = "jwt-secret-that-is-at-least-32-chars!!"

var testNow = time.Date(2025, 3, 14, 15, 4, 5, 0, time.UTC)

// spyLedger counts ledger calls and can fail inserts.
type spyLedger struct {
	usage.Ledger
	reads      atomic.Int32
	failInsert bool
	failCount  bool
}

func (l *spyLedger) CountSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	l.reads.Add(1)
	if l.failCount {
		return 0, errors.New("connection refused")
	}
	return l.Ledger.CountSince(ctx, userID, since)
}

func (l *spyLedger) Insert(ctx context.Context, rec *usage.Record) error {
	if l.failInsert {
		return errors.New("insert failed")
	}
	return l.Ledger.Insert(ctx, rec)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.GenerationEvent
}

func (p *fakePublisher) PublishGenerationEvent(_ context.Context, e events.GenerationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *fakePublisher) outcomes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Outcome)
	}
	return out
}

// upstreamStub records the last request and replies with status and body.
type upstreamStub struct {
	mu       sync.Mutex
	status   int
	body     string
	calls    int
	lastBody map[string]any
	onCall   func()
}

func (u *upstreamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	u.lastBody = body
	if u.onCall != nil {
		u.onCall()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(u.status)
	w.Write([]byte(u.body))
}

func (u *upstreamStub) reply(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status, u.body = status, body
}

func (u *upstreamStub) messages() []any {
	u.mu.Lock()
	defer u.mu.Unlock()
	msgs, _ := u.lastBody["messages"].([]any)
	return msgs
}

const okCompletion = `{"model":"test-model","choices":[{"message":{"role":"assistant","content":"# Generated rules"}}],"usage":{"total_tokens":128}}`

type fixture struct {
	svc      *Service
	ledger   *spyLedger
	counter  quota.Counter
	upstream *upstreamStub
	events   *fakePublisher
	verifier *auth.Verifier
	userID   uuid.UUID
	token    string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	sqlite, err := usage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	stub := &upstreamStub{status: http.StatusOK, body: okCompletion}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	if cfg.DailyLimit == 0 {
		cfg.DailyLimit = 3
	}
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}

	verifier := auth.NewVerifier(testSecret, "authenticated", "")
	userID := uuid.New()
	token, err := verifier.Issue(userID, "dev@example.com", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		ledger:   &spyLedger{Ledger: sqlite},
		counter:  quota.NewMemoryCounter(),
		upstream: stub,
		events:   &fakePublisher{},
		verifier: verifier,
		userID:   userID,
		token:    token,
	}
	f.svc = NewService(verifier, f.ledger, f.counter, upstream.New(srv.URL, "test-key"), prompts.Builtin(), f.events, cfg)
	f.svc.now = func() time.Time { return testNow }
	return f
}

func validRequest() *Request {
	return &Request{
		Tool:        "cursor",
		Language:    "TypeScript",
		Framework:   "React",
		PromptType:  "rules",
		Description: "a todo app",
	}
}

func TestGenerate_QuotaMonotonicity(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 3})
	ctx := context.Background()

	for n := 1; n <= 3; n++ {
		res, err := f.svc.Generate(ctx, f.token, validRequest())
		require.NoError(t, err, "generation %d", n)
		assert.Equal(t, 3-n, res.Remaining)
		assert.Equal(t, "# Generated rules", res.Content)
	}

	_, err := f.svc.Generate(ctx, f.token, validRequest())
	require.ErrorIs(t, err, ErrQuotaExceeded)
	var qe *QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 3, qe.Limit)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), qe.ResetsAt)

	assert.Equal(t, 3, f.upstream.calls, "rejected request must not reach upstream")
	assert.Equal(t, []string{"completed", "completed", "completed", "quota_exceeded"}, f.events.outcomes())
}

func TestGenerate_Messages(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 3})
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "Prompt generated! You have 2 free generations left today.", res.Message)

	res, err = f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "Prompt generated! You have 1 free generation left today.", res.Message)

	res, err = f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.Contains(t, res.Message, "last free generation for today")
	assert.Contains(t, res.Message, "midnight UTC")
}

func TestGenerate_RecordsUsage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)

	records, total, err := f.ledger.ListByUser(ctx, f.userID, usage.DefaultListParams())
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	rec := records[0]
	assert.Equal(t, "cursor", rec.Tool)
	assert.Equal(t, "TypeScript", rec.Language)
	assert.Equal(t, "React", rec.Framework)
	assert.Equal(t, "rules", rec.PromptType)
	assert.Equal(t, 128, rec.TokensUsed)
	assert.True(t, rec.GeneratedAt.Equal(testNow))
}

func TestGenerate_UpstreamRequestShape(t *testing.T) {
	f := newFixture(t, Config{Model: "google/gemini-2.5-flash"})

	_, err := f.svc.Generate(context.Background(), f.token, validRequest())
	require.NoError(t, err)

	assert.Equal(t, "google/gemini-2.5-flash", f.upstream.lastBody["model"])
	msgs := f.upstream.messages()
	require.Len(t, msgs, 2)

	system := msgs[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	content := system["content"].(string)
	assert.Contains(t, content, "cursor")
	assert.Contains(t, content, "TypeScript")
	assert.Contains(t, content, "React")

	user := msgs[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, "Project description: a todo app", user["content"])
}

func TestGenerate_DayRollover(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 1})
	ctx := context.Background()

	// A generation one second before midnight belongs to the previous day.
	require.NoError(t, f.ledger.Insert(ctx, &usage.Record{
		UserID:      f.userID,
		GeneratedAt: quota.DayStart(testNow).Add(-time.Second),
		Tool:        "cursor",
		PromptType:  "rules",
	}))

	res, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
}

func TestGenerate_SeedsFromLedger(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, f.ledger.Insert(ctx, &usage.Record{
			UserID:      f.userID,
			GeneratedAt: quota.DayStart(testNow).Add(time.Duration(i+1) * time.Hour),
			Tool:        "cursor",
			PromptType:  "rules",
		}))
	}

	res, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)

	_, err = f.svc.Generate(ctx, f.token, validRequest())
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestGenerate_LedgerRowStampedAtInsert(t *testing.T) {
	f := newFixture(t, Config{})
	start := time.Date(2025, 3, 14, 23, 59, 58, 0, time.UTC)
	written := start.Add(3 * time.Second)

	var clock atomic.Pointer[time.Time]
	clock.Store(&start)
	f.svc.now = func() time.Time { return *clock.Load() }
	f.upstream.onCall = func() { clock.Store(&written) }

	res, err := f.svc.Generate(context.Background(), f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	records, _, err := f.ledger.ListByUser(context.Background(), f.userID, usage.DefaultListParams())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].GeneratedAt.Equal(written), "got %s", records[0].GeneratedAt)

	// The new day sees the row through the ledger seed.
	status, err := f.svc.Status(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Used)
}

func TestGenerate_RequiredFields(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name    string
		mutate  func(r *Request)
		missing []string
	}{
		{"tool", func(r *Request) { r.Tool = "" }, []string{"tool"}},
		{"promptType", func(r *Request) { r.PromptType = "" }, []string{"promptType"}},
		{"description", func(r *Request) { r.Description = "" }, []string{"description"}},
		{"all", func(r *Request) { *r = Request{Language: "Go"} }, []string{"tool", "promptType", "description"}},
		{"blank tool", func(r *Request) { r.Tool = "   " }, []string{"tool"}},
		{"blank description", func(r *Request) { r.Description = "\n\t " }, []string{"description"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(req)

			_, err := f.svc.Generate(context.Background(), f.token, req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.missing, ve.Missing)
			assert.Equal(t, "Missing required fields: "+strings.Join(tt.missing, ", "), ve.Error())
		})
	}

	assert.Zero(t, f.ledger.reads.Load(), "invalid requests must not touch the ledger")
	assert.Zero(t, f.upstream.calls)
}

func TestGenerate_UnknownPromptTypeFallsBackToRules(t *testing.T) {
	f := newFixture(t, Config{})
	req := validRequest()
	req.PromptType = "unknown_type"

	res, err := f.svc.Generate(context.Background(), f.token, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Remaining)

	rulesPrompt, err := prompts.Builtin().Render(prompts.Rules, prompts.Vars{
		Tool: "cursor", Language: "TypeScript", Framework: "React",
	})
	require.NoError(t, err)
	system := f.upstream.messages()[0].(map[string]any)
	assert.Equal(t, rulesPrompt, system["content"])

	records, _, err := f.ledger.ListByUser(context.Background(), f.userID, usage.DefaultListParams())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rules", records[0].PromptType)
}

func TestGenerate_StrictPromptTypeRejects(t *testing.T) {
	f := newFixture(t, Config{StrictPromptType: true})
	req := validRequest()
	req.PromptType = "unknown_type"

	_, err := f.svc.Generate(context.Background(), f.token, req)
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, f.ledger.reads.Load())

	used, err := f.counter.Current(context.Background(), f.userID, testNow)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestGenerate_AuthPrecedesQuota(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	t.Run("missing token", func(t *testing.T) {
		_, err := f.svc.Generate(ctx, "", validRequest())
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.NotErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := f.svc.Generate(ctx, "not-a-jwt", validRequest())
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.ErrorIs(t, err, ErrInvalidSession)
	})

	t.Run("invalid token with invalid body", func(t *testing.T) {
		_, err := f.svc.Generate(ctx, "not-a-jwt", &Request{})
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	assert.Zero(t, f.ledger.reads.Load())
	assert.Zero(t, f.upstream.calls)
	assert.Empty(t, f.events.outcomes(), "unauthenticated attempts are not attributed to a user")
}

func TestGenerate_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		outcome string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, ErrUpstreamBusy, "upstream_busy"},
		{"payment required", http.StatusPaymentRequired, `{"error":"no credits"}`, ErrUpstreamUnavailable, "upstream_unavailable"},
		{"server error", http.StatusInternalServerError, `boom`, ErrGenerationFailed, "failed"},
		{"bad gateway", http.StatusBadGateway, ``, ErrGenerationFailed, "failed"},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`, ErrGenerationFailed, "failed"},
		{"no choices", http.StatusOK, `{"choices":[]}`, ErrGenerationFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{DailyLimit: 1})
			ctx := context.Background()
			f.upstream.reply(tt.status, tt.body)

			_, err := f.svc.Generate(ctx, f.token, validRequest())
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, []string{tt.outcome}, f.events.outcomes())

			// The failed attempt does not consume the only generation.
			used, err := f.counter.Current(ctx, f.userID, testNow)
			require.NoError(t, err)
			assert.Zero(t, used)

			f.upstream.reply(http.StatusOK, okCompletion)
			res, err := f.svc.Generate(ctx, f.token, validRequest())
			require.NoError(t, err)
			assert.Equal(t, 0, res.Remaining)
		})
	}
}

func TestGenerate_LedgerInsertFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 2})
	f.ledger.failInsert = true
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "# Generated rules", res.Content)
	assert.Equal(t, 1, res.Remaining)

	// Nothing reached the ledger, yet the counter still holds the cap.
	_, err = f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	_, err = f.svc.Generate(ctx, f.token, validRequest())
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	status, err := f.svc.Status(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Used)
	assert.Equal(t, 0, status.Remaining)
}

func TestGenerate_LedgerCountFailureFailsClosed(t *testing.T) {
	f := newFixture(t, Config{})
	f.ledger.failCount = true

	_, err := f.svc.Generate(context.Background(), f.token, validRequest())
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Zero(t, f.upstream.calls)
}

type brokenCounter struct{ quota.Counter }

func (brokenCounter) Reserve(context.Context, uuid.UUID, time.Time, int, int) (quota.Reservation, error) {
	return quota.Reservation{}, errors.New("redis: connection refused")
}

func (brokenCounter) Current(context.Context, uuid.UUID, time.Time) (int, error) {
	return 0, errors.New("redis: connection refused")
}

func TestGenerate_CounterOutageFallsBackToLedger(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 1})
	f.svc.counter = brokenCounter{}
	ctx := context.Background()

	res, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)

	_, err = f.svc.Generate(ctx, f.token, validRequest())
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	status, err := f.svc.Status(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Used)
}

func TestGenerate_ConcurrentRequestsHardCap(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 3})
	ctx := context.Background()

	const workers = 12
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Generate(ctx, f.token, validRequest())
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(workers-3), rejected.Load())

	n, err := f.ledger.CountSince(ctx, f.userID, quota.DayStart(testNow))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestGenerate_UsersAreIndependent(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 1})
	ctx := context.Background()

	_, err := f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)

	otherToken, err := f.verifier.Issue(uuid.New(), "", time.Hour)
	require.NoError(t, err)
	res, err := f.svc.Generate(ctx, otherToken, validRequest())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 3})
	ctx := context.Background()

	status, err := f.svc.Status(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, quota.Status{
		Used:      0,
		Limit:     3,
		Remaining: 3,
		ResetsAt:  time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	}, status)

	_, err = f.svc.Generate(ctx, f.token, validRequest())
	require.NoError(t, err)

	status, err = f.svc.Status(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Used)
	assert.Equal(t, 2, status.Remaining)
}

func TestHistoryAndStats(t *testing.T) {
	f := newFixture(t, Config{DailyLimit: 5})
	ctx := context.Background()

	for _, pt := range []string{"rules", "system_prompt", "rules"} {
		req := validRequest()
		req.PromptType = pt
		_, err := f.svc.Generate(ctx, f.token, req)
		require.NoError(t, err)
	}

	records, total, err := f.svc.History(ctx, f.userID, usage.ListParams{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, records, 2)

	stats, err := f.svc.Stats(ctx, f.userID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Generations)
	assert.Equal(t, int64(3*128), stats.TokensUsed)
	assert.Equal(t, 2, stats.ByPromptType["rules"])
	assert.Equal(t, 1, stats.ByPromptType["system_prompt"])
}
