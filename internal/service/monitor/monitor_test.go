package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/rijexamenmeldingen/sbat-monitor/internal/model"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/notify"
	"github.com/rijexamenmeldingen/sbat-monitor/internal/service/sbat"
)

// --- mocks ---

type mockUpstream struct {
	authenticateFn   func(ctx context.Context) (*oauth2.Token, error)
	reauthenticateFn func(ctx context.Context) (*oauth2.Token, error)
	checkFn          func(ctx context.Context, token *oauth2.Token, center int, licenseType string) (*sbat.CheckResponse, error)
}

func (m *mockUpstream) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	return m.authenticateFn(ctx)
}
func (m *mockUpstream) Reauthenticate(ctx context.Context) (*oauth2.Token, error) {
	return m.reauthenticateFn(ctx)
}
func (m *mockUpstream) Check(ctx context.Context, token *oauth2.Token, center int, licenseType string) (*sbat.CheckResponse, error) {
	return m.checkFn(ctx, token, center, licenseType)
}

// memSlots is an in-memory slotStore that mirrors the repository's status
// side effects.
type memSlots struct {
	mu     sync.Mutex
	slots  map[int64]*model.ExamTimeSlot
	writes int
}

func newMemSlots() *memSlots {
	return &memSlots{slots: make(map[int64]*model.ExamTimeSlot)}
}

func (s *memSlots) Create(ctx context.Context, slot *model.ExamTimeSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[slot.ExamID]; ok {
		return fmt.Errorf("duplicate exam id %d", slot.ExamID)
	}
	cp := *slot
	s.slots[slot.ExamID] = &cp
	s.writes++
	return nil
}

func (s *memSlots) FindByExamID(ctx context.Context, examID int64) (*model.ExamTimeSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[examID]
	if !ok {
		return nil, nil
	}
	cp := *slot
	return &cp, nil
}

func (s *memSlots) SetStatus(ctx context.Context, examID int64, status model.SlotStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[examID]
	if !ok {
		return errors.New("not found")
	}
	slot.Status = status
	switch status {
	case model.SlotTaken:
		slot.TakenAt = &at
		if slot.FirstTakenAt == nil {
			slot.FirstTakenAt = &at
		}
	case model.SlotNotified:
		slot.FoundAt = at
	}
	s.writes++
	return nil
}

func (s *memSlots) AttachLicenseType(ctx context.Context, examID int64, licenseType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[examID]
	if !ok {
		return errors.New("not found")
	}
	for _, lt := range slot.TypesBlob {
		if lt == licenseType {
			return nil
		}
	}
	slot.TypesBlob = append(slot.TypesBlob, licenseType)
	s.writes++
	return nil
}

func (s *memSlots) NotifiedIDs(ctx context.Context, center int, licenseType string) (map[int64]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[int64]struct{})
	for id, slot := range s.slots {
		if slot.Status != model.SlotNotified || slot.ExamCenterID != center {
			continue
		}
		for _, lt := range slot.TypesBlob {
			if lt == licenseType {
				ids[id] = struct{}{}
			}
		}
	}
	return ids, nil
}

func (s *memSlots) get(id int64) model.ExamTimeSlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.slots[id]
}

type mockRecipients struct {
	recipientsFn func(ctx context.Context, center int, licenseType string) (model.Recipients, error)
}

func (m *mockRecipients) Recipients(ctx context.Context, center int, licenseType string) (model.Recipients, error) {
	if m.recipientsFn == nil {
		return model.Recipients{Emails: []string{"sub@example.com"}}, nil
	}
	return m.recipientsFn(ctx, center, licenseType)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	to       []model.Recipients
	alerts   []string
}

func (m *mockNotifier) Notify(ctx context.Context, msg notify.Message, to model.Recipients) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.to = append(m.to, to)
}

func (m *mockNotifier) Alert(ctx context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, text)
}

func (m *mockNotifier) alertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type mockEvents struct {
	mu     sync.Mutex
	events []model.SlotEvent
	err    error
}

func (m *mockEvents) Publish(ctx context.Context, ev model.SlotEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

// --- helpers ---

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func okResponse(body string) *sbat.CheckResponse {
	return &sbat.CheckResponse{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}
}

func expiredResponse() *sbat.CheckResponse {
	return &sbat.CheckResponse{
		StatusCode: http.StatusUnauthorized,
		Header: http.Header{"Www-Authenticate": []string{
			`Bearer error="invalid_token", error_description="The token is expired"`,
		}},
	}
}

func slot(id int64, from, till string) sbat.Slot {
	return sbat.Slot{ID: id, From: from, Till: till, ExamCenterID: 1, TypesBlob: []string{"B"}}
}

func token(s string) *oauth2.Token {
	return &oauth2.Token{AccessToken: s, TokenType: "Bearer"}
}

func newTestMonitor(up *mockUpstream, store *memSlots, n *mockNotifier) (*Monitor, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)}
	m := New(up, store, &mockRecipients{}, n, nil)
	m.now = c.now
	m.tick = time.Millisecond
	return m, c
}

func idleUpstream() *mockUpstream {
	return &mockUpstream{
		authenticateFn: func(ctx context.Context) (*oauth2.Token, error) { return token("t1"), nil },
		checkFn: func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
			return okResponse(`[]`), nil
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

// --- lifecycle tests ---

func TestStartStop(t *testing.T) {
	m, c := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	st := m.Status()
	if !st.Running || st.TaskDone == nil || *st.TaskDone {
		t.Errorf("running status = %+v", st)
	}
	if st.RunID == "" {
		t.Error("RunID is empty")
	}
	if st.FirstStartedAt == nil || st.LastStartedAt == nil || st.LastStoppedAt != nil {
		t.Errorf("timestamps after start = %+v", st)
	}

	c.advance(90 * time.Second)
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	st = m.Status()
	if st.Running || m.IsRunning() {
		t.Error("still running after Stop")
	}
	if st.TaskDone != nil {
		t.Errorf("TaskDone = %v, want nil when idle", *st.TaskDone)
	}
	if st.StoppedDueTo != StoppedCancelled {
		t.Errorf("StoppedDueTo = %q, want %q", st.StoppedDueTo, StoppedCancelled)
	}
	if st.TotalTimeRunning != "1m30s" {
		t.Errorf("TotalTimeRunning = %q, want 1m30s", st.TotalTimeRunning)
	}
	if st.LastStoppedAt == nil {
		t.Error("LastStoppedAt not set")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	m, _ := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop(context.Background())

	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}
}

func TestStop_NotRunning(t *testing.T) {
	m, _ := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	if err := m.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() = %v, want ErrNotRunning", err)
	}
}

func TestRestart_KeepsFirstStartedAt(t *testing.T) {
	m, c := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	m.Start(context.Background())
	first := m.Status()
	c.advance(time.Minute)
	m.Stop(context.Background())

	c.advance(time.Minute)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	c.advance(30 * time.Second)
	second := m.Status()
	m.Stop(context.Background())

	if !second.FirstStartedAt.Equal(*first.FirstStartedAt) {
		t.Errorf("FirstStartedAt changed: %v -> %v", first.FirstStartedAt, second.FirstStartedAt)
	}
	if !second.LastStartedAt.After(*first.LastStartedAt) {
		t.Error("LastStartedAt not updated on restart")
	}
	if second.RunID == first.RunID {
		t.Error("restart reused the run id")
	}
	if second.TotalTimeRunning != "1m30s" {
		t.Errorf("TotalTimeRunning = %q, want 1m30s", second.TotalTimeRunning)
	}
}

func TestRun_AuthenticationFailureEndsRun(t *testing.T) {
	up := idleUpstream()
	up.authenticateFn = func(ctx context.Context) (*oauth2.Token, error) {
		return nil, fmt.Errorf("%w: status 401", sbat.ErrAuthenticationFailed)
	}
	m, _ := newTestMonitor(up, newMemSlots(), &mockNotifier{})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, func() bool { return !m.IsRunning() })

	st := m.Status()
	if !strings.Contains(st.StoppedDueTo, "authentication failed") {
		t.Errorf("StoppedDueTo = %q", st.StoppedDueTo)
	}
	if err := m.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() after failure = %v, want ErrNotRunning", err)
	}
}

func TestRun_PanicIsRecorded(t *testing.T) {
	up := idleUpstream()
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		panic("boom")
	}
	m, _ := newTestMonitor(up, newMemSlots(), &mockNotifier{})

	m.Start(context.Background())
	waitFor(t, func() bool { return !m.IsRunning() })

	if got := m.Status().StoppedDueTo; got != "panic: boom" {
		t.Errorf("StoppedDueTo = %q, want %q", got, "panic: boom")
	}
}

func TestStop_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	up := idleUpstream()
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		<-release
		return okResponse(`[]`), nil
	}
	m, _ := newTestMonitor(up, newMemSlots(), &mockNotifier{})
	m.Start(context.Background())
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop() = %v, want DeadlineExceeded", err)
	}
}

func TestReconfigure(t *testing.T) {
	m, _ := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	cfg := model.MonitorConfiguration{LicenseTypes: []string{"AM", "B"}, ExamCenterIDs: []int{7, 8}, SecondsInbetween: 60}
	if err := m.Reconfigure(cfg); err != nil {
		t.Fatalf("Reconfigure() error = %v", err)
	}
	cfg.LicenseTypes[0] = "X"

	st := m.Status()
	if st.SecondsInbetween != 60 || st.LicenseTypes[0] != "AM" {
		t.Errorf("status = %+v", st)
	}
	if strings.Join(st.ExamCenters, ",") != "brakel,eeklo" {
		t.Errorf("ExamCenters = %v", st.ExamCenters)
	}
}

func TestReconfigure_Invalid(t *testing.T) {
	m, _ := newTestMonitor(idleUpstream(), newMemSlots(), &mockNotifier{})

	for _, cfg := range []model.MonitorConfiguration{
		{LicenseTypes: []string{"B"}, ExamCenterIDs: []int{99}, SecondsInbetween: 10},
		{LicenseTypes: []string{"B"}, ExamCenterIDs: []int{1}, SecondsInbetween: 0},
		{LicenseTypes: nil, ExamCenterIDs: []int{1}, SecondsInbetween: 10},
	} {
		if err := m.Reconfigure(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Reconfigure(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
	if got := m.Config(); got.SecondsInbetween != 300 {
		t.Errorf("config changed after invalid reconfigure: %+v", got)
	}
}

func TestRun_PicksUpReconfigure(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	up := idleUpstream()
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, center int, _ string) (*sbat.CheckResponse, error) {
		mu.Lock()
		seen[center] = true
		mu.Unlock()
		return okResponse(`[]`), nil
	}
	m, _ := newTestMonitor(up, newMemSlots(), &mockNotifier{})
	m.Reconfigure(model.MonitorConfiguration{LicenseTypes: []string{"B"}, ExamCenterIDs: []int{1}, SecondsInbetween: 1})

	m.Start(context.Background())
	defer m.Stop(context.Background())

	m.Reconfigure(model.MonitorConfiguration{LicenseTypes: []string{"B"}, ExamCenterIDs: []int{9}, SecondsInbetween: 1})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[9]
	})
}

// --- poll tests ---

func TestCheckScope_TokenExpiryRetriesSamePair(t *testing.T) {
	var calls []string
	up := idleUpstream()
	up.reauthenticateFn = func(ctx context.Context) (*oauth2.Token, error) { return token("t2"), nil }
	up.checkFn = func(ctx context.Context, tok *oauth2.Token, center int, lt string) (*sbat.CheckResponse, error) {
		calls = append(calls, fmt.Sprintf("%s@%d/%s", tok.AccessToken, center, lt))
		if tok.AccessToken == "t1" {
			return expiredResponse(), nil
		}
		return okResponse(`[]`), nil
	}
	n := &mockNotifier{}
	m, _ := newTestMonitor(up, newMemSlots(), n)

	tok, err := m.checkScope(context.Background(), token("t1"), 7, "B")
	if err != nil {
		t.Fatalf("checkScope() error = %v", err)
	}
	if tok.AccessToken != "t2" {
		t.Errorf("token = %q, want refreshed t2", tok.AccessToken)
	}
	if want := "t1@7/B,t2@7/B"; strings.Join(calls, ",") != want {
		t.Errorf("calls = %v, want %s", calls, want)
	}
	if n.alertCount() != 0 {
		t.Errorf("expiry raised %d alerts", n.alertCount())
	}
}

func TestCheckScope_ExpiryLoopIsBounded(t *testing.T) {
	var reauths int
	up := idleUpstream()
	up.reauthenticateFn = func(ctx context.Context) (*oauth2.Token, error) {
		reauths++
		return token("t2"), nil
	}
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		return expiredResponse(), nil
	}
	n := &mockNotifier{}
	m, _ := newTestMonitor(up, newMemSlots(), n)

	if _, err := m.checkScope(context.Background(), token("t1"), 1, "B"); err != nil {
		t.Fatalf("checkScope() error = %v", err)
	}
	if reauths != maxTokenRefreshes {
		t.Errorf("reauthentications = %d, want %d", reauths, maxTokenRefreshes)
	}
	if n.alertCount() != 1 {
		t.Errorf("alerts = %d, want 1", n.alertCount())
	}
}

func TestCheckScope_ReauthenticationFailureIsFatal(t *testing.T) {
	up := idleUpstream()
	up.reauthenticateFn = func(ctx context.Context) (*oauth2.Token, error) {
		return nil, sbat.ErrAuthenticationFailed
	}
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		return expiredResponse(), nil
	}
	m, _ := newTestMonitor(up, newMemSlots(), &mockNotifier{})

	_, err := m.checkScope(context.Background(), token("t1"), 1, "B")
	if !errors.Is(err, sbat.ErrAuthenticationFailed) {
		t.Errorf("error = %v, want ErrAuthenticationFailed", err)
	}
}

func TestCheckScope_UnexpectedStatusAlerts(t *testing.T) {
	up := idleUpstream()
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		return &sbat.CheckResponse{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: []byte("oops")}, nil
	}
	n := &mockNotifier{}
	store := newMemSlots()
	m, _ := newTestMonitor(up, store, n)

	if _, err := m.checkScope(context.Background(), token("t1"), 1, "B"); err != nil {
		t.Fatalf("checkScope() error = %v", err)
	}
	if n.alertCount() != 1 || !strings.Contains(n.alerts[0], "500") {
		t.Errorf("alerts = %v", n.alerts)
	}
	if store.writes != 0 {
		t.Errorf("writes = %d, want 0", store.writes)
	}
}

func TestCheckScope_TransportErrorSkipsPair(t *testing.T) {
	up := idleUpstream()
	up.checkFn = func(ctx context.Context, _ *oauth2.Token, _ int, _ string) (*sbat.CheckResponse, error) {
		return nil, errors.New("dial tcp: i/o timeout")
	}
	n := &mockNotifier{}
	m, _ := newTestMonitor(up, newMemSlots(), n)

	tok, err := m.checkScope(context.Background(), token("t1"), 1, "B")
	if err != nil {
		t.Fatalf("checkScope() error = %v", err)
	}
	if tok.AccessToken != "t1" {
		t.Errorf("token changed to %q", tok.AccessToken)
	}
	if n.alertCount() != 0 {
		t.Error("transport error should not alert")
	}
}

// --- diff-and-notify tests ---

func TestReconcile_NewSlotIsAnnounced(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, c := newTestMonitor(idleUpstream(), store, n)

	err := m.reconcile(context.Background(), 1, "B", []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")})
	if err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	got := store.get(1)
	if got.Status != model.SlotNotified {
		t.Errorf("status = %q, want notified", got.Status)
	}
	if !got.FirstFoundAt.Equal(c.now()) || !got.FoundAt.Equal(c.now()) {
		t.Errorf("found timestamps = %v / %v", got.FirstFoundAt, got.FoundAt)
	}
	if len(n.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.messages))
	}
	msg := n.messages[0]
	if !strings.Contains(msg.Body, "2024-01-01 10:00:00 - 11:00:00") {
		t.Errorf("body = %q", msg.Body)
	}
	if msg.Subject != "New driving exam time slots available for license type 'B' at exam center 'sintdenijswestrem':" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "\nLink: https://rijbewijs.sbat.be/praktijk/examen/Login \n") {
		t.Errorf("body misses booking link: %q", msg.Body)
	}
	if len(n.to[0].Emails) != 1 || n.to[0].Emails[0] != "sub@example.com" {
		t.Errorf("recipients = %+v", n.to[0])
	}
}

func TestReconcile_EmptyResponseMarksTaken(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, c := newTestMonitor(idleUpstream(), store, n)

	m.reconcile(context.Background(), 1, "B", []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")})
	n.messages = nil
	c.advance(time.Hour)

	if err := m.reconcile(context.Background(), 1, "B", nil); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	got := store.get(1)
	if got.Status != model.SlotTaken {
		t.Errorf("status = %q, want taken", got.Status)
	}
	if got.TakenAt == nil || !got.TakenAt.Equal(c.now()) {
		t.Errorf("TakenAt = %v", got.TakenAt)
	}
	if got.FirstTakenAt == nil || !got.FirstTakenAt.Equal(c.now()) {
		t.Errorf("FirstTakenAt = %v", got.FirstTakenAt)
	}
	if len(n.messages) != 0 {
		t.Errorf("notifications = %d, want 0", len(n.messages))
	}
}

func TestReconcile_IdenticalResponseIsIdempotent(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, _ := newTestMonitor(idleUpstream(), store, n)
	slots := []sbat.Slot{
		slot(1, "2024-01-01T10:00", "2024-01-01T11:00"),
		slot(2, "2024-01-02T09:00", "2024-01-02T10:00"),
	}

	m.reconcile(context.Background(), 1, "B", slots)
	writes := store.writes
	m.reconcile(context.Background(), 1, "B", slots)

	if store.writes != writes {
		t.Errorf("second reconcile wrote %d times", store.writes-writes)
	}
	if len(n.messages) != 1 {
		t.Errorf("notifications = %d, want 1", len(n.messages))
	}
}

func TestReconcile_ReappearedSlotIsAnnouncedAgain(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, c := newTestMonitor(idleUpstream(), store, n)
	s := []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")}

	m.reconcile(context.Background(), 1, "B", s)
	c.advance(time.Hour)
	m.reconcile(context.Background(), 1, "B", nil)
	firstTaken := *store.get(1).FirstTakenAt

	c.advance(time.Hour)
	m.reconcile(context.Background(), 1, "B", s)

	if got := store.get(1).Status; got != model.SlotNotified {
		t.Errorf("status after reappearance = %q", got)
	}
	if len(n.messages) != 2 || !strings.Contains(n.messages[1].Body, "2024-01-01 10:00:00 - 11:00:00") {
		t.Errorf("messages = %+v", n.messages)
	}

	c.advance(time.Hour)
	m.reconcile(context.Background(), 1, "B", nil)
	got := store.get(1)
	if !got.FirstTakenAt.Equal(firstTaken) {
		t.Errorf("FirstTakenAt moved from %v to %v", firstTaken, got.FirstTakenAt)
	}
	if !got.TakenAt.Equal(c.now()) {
		t.Errorf("TakenAt = %v, want %v", got.TakenAt, c.now())
	}
}

func TestReconcile_DeduplicatesLines(t *testing.T) {
	n := &mockNotifier{}
	m, _ := newTestMonitor(idleUpstream(), newMemSlots(), n)

	m.reconcile(context.Background(), 1, "B", []sbat.Slot{
		slot(1, "2024-01-01T10:00", "2024-01-01T11:00"),
		slot(2, "2024-01-01T10:00", "2024-01-01T11:00"),
		slot(3, "2024-01-01T12:00", "2024-01-01T13:00"),
	})

	body := n.messages[0].Body
	if c := strings.Count(body, "2024-01-01 10:00:00 - 11:00:00"); c != 1 {
		t.Errorf("duplicate line appears %d times in %q", c, body)
	}
	if !strings.Contains(body, "2024-01-01 12:00:00 - 13:00:00") {
		t.Errorf("body = %q", body)
	}
}

func TestReconcile_SlotSeenUnderSecondLicense(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, _ := newTestMonitor(idleUpstream(), store, n)
	s := []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")}

	m.reconcile(context.Background(), 1, "B", s)
	if err := m.reconcile(context.Background(), 1, "AM", s); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	got := store.get(1)
	if strings.Join(got.TypesBlob, ",") != "B,AM" {
		t.Errorf("TypesBlob = %v", got.TypesBlob)
	}
	if len(n.messages) != 2 {
		t.Errorf("notifications = %d, want one per scope", len(n.messages))
	}

	// The AM scope now tracks the slot, so it is not announced again.
	m.reconcile(context.Background(), 1, "AM", s)
	if len(n.messages) != 2 {
		t.Errorf("notifications = %d after repeat", len(n.messages))
	}
}

func TestReconcile_MissingCenterFallsBackToScope(t *testing.T) {
	store := newMemSlots()
	m, _ := newTestMonitor(idleUpstream(), store, &mockNotifier{})

	m.reconcile(context.Background(), 7, "B", []sbat.Slot{{ID: 5, From: "2024-01-01T10:00", Till: "2024-01-01T11:00"}})

	got := store.get(5)
	if got.ExamCenterID != 7 {
		t.Errorf("ExamCenterID = %d, want 7", got.ExamCenterID)
	}
	if strings.Join(got.TypesBlob, ",") != "B" {
		t.Errorf("TypesBlob = %v", got.TypesBlob)
	}
}

func TestReconcile_RecipientLookupFailure(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, _ := newTestMonitor(idleUpstream(), store, n)
	m.subscribers = &mockRecipients{recipientsFn: func(ctx context.Context, center int, lt string) (model.Recipients, error) {
		return model.Recipients{}, errors.New("db down")
	}}

	err := m.reconcile(context.Background(), 1, "B", []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(n.messages) != 0 {
		t.Error("notified without recipients")
	}
	if store.writes != 0 {
		t.Errorf("writes = %d, slot recorded before its message went out", store.writes)
	}
}

func TestReconcile_RetriesAfterRecipientLookupFailure(t *testing.T) {
	store := newMemSlots()
	n := &mockNotifier{}
	m, _ := newTestMonitor(idleUpstream(), store, n)
	calls := 0
	m.subscribers = &mockRecipients{recipientsFn: func(ctx context.Context, center int, lt string) (model.Recipients, error) {
		calls++
		if calls == 1 {
			return model.Recipients{}, errors.New("db blip")
		}
		return model.Recipients{Emails: []string{"sub@example.com"}}, nil
	}}
	s := []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")}

	if err := m.reconcile(context.Background(), 1, "B", s); err == nil {
		t.Fatal("expected error on first sweep")
	}
	if err := m.reconcile(context.Background(), 1, "B", s); err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}

	if len(n.messages) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.messages))
	}
	if got := store.get(1).Status; got != model.SlotNotified {
		t.Errorf("status = %q, want notified", got)
	}
}

func TestReconcile_PublishesEvents(t *testing.T) {
	store := newMemSlots()
	ev := &mockEvents{err: errors.New("redis down")}
	m, _ := newTestMonitor(idleUpstream(), store, &mockNotifier{})
	m.events = ev

	m.reconcile(context.Background(), 1, "B", []sbat.Slot{slot(1, "2024-01-01T10:00", "2024-01-01T11:00")})
	if err := m.reconcile(context.Background(), 1, "B", nil); err != nil {
		t.Fatalf("publish failure leaked: %v", err)
	}

	if len(ev.events) != 2 {
		t.Fatalf("events = %d, want 2", len(ev.events))
	}
	if ev.events[0].Status != model.SlotNotified || ev.events[1].Status != model.SlotTaken {
		t.Errorf("events = %+v", ev.events)
	}
	if ev.events[1].ExamID != 1 || ev.events[1].LicenseType != "B" {
		t.Errorf("taken event = %+v", ev.events[1])
	}
}
