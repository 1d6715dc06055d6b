package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"log/slog"

	"github.com/xeltica-studio/MisskeyTools/internal/aggregate"
	"github.com/xeltica-studio/MisskeyTools/internal/auth"
	"github.com/xeltica-studio/MisskeyTools/internal/misskey"
	"github.com/xeltica-studio/MisskeyTools/internal/models"
	"github.com/xeltica-studio/MisskeyTools/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeAccountRepo struct {
	accounts map[string]*models.Account
	created  *models.Account
	failWith error
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*models.Account)}
}

func (f *fakeAccountRepo) Create(ctx context.Context, account *models.Account) error {
	if f.failWith != nil {
		return f.failWith
	}
	account.ID = "acc-1"
	f.created = account
	f.accounts[account.ID] = account
	return nil
}

func (f *fakeAccountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.accounts[id], nil
}

func (f *fakeAccountRepo) GetByHostAndUsername(ctx context.Context, host, username string) (*models.Account, error) {
	for _, a := range f.accounts {
		if a.Session.Host == host && a.Session.Username == username {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeAccountRepo) ListAll(ctx context.Context) ([]*models.Account, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var out []*models.Account
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAccountRepo) ListAlerting(ctx context.Context) ([]*models.Account, error) {
	return f.ListAll(ctx)
}

func (f *fakeAccountRepo) UpdateAlertFlags(ctx context.Context, id string, asNote, asNotification bool) error {
	if f.failWith != nil {
		return f.failWith
	}
	if a, ok := f.accounts[id]; ok {
		a.AlertAsNote = asNote
		a.AlertAsNotification = asNotification
	}
	return nil
}

func (f *fakeAccountRepo) Delete(ctx context.Context, id string) error {
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.accounts, id)
	return nil
}

type fakeRecordRepo struct {
	records []models.Record
}

func (f *fakeRecordRepo) Append(ctx context.Context, record *models.Record) error {
	f.records = append(f.records, *record)
	return nil
}

func (f *fakeRecordRepo) Recent(ctx context.Context, accountID string, limit int) ([]models.Record, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

type fakeEnqueuer struct {
	names    []string
	payloads []interface{}
	failWith error
}

func (f *fakeEnqueuer) Enqueue(name string, payload interface{}, opts queue.Options) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.names = append(f.names, name)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeProfileClient struct {
	user *misskey.DetailedUser
	err  error
}

func (f *fakeProfileClient) Me(ctx context.Context, token string) (*misskey.DetailedUser, error) {
	return f.user, f.err
}

func clientFactoryFor(client *fakeProfileClient) ClientFactory {
	return func(host string) aggregate.ProfileFetcher { return client }
}

func i64(v int64) *int64 { return &v }

func detailedUser(username string) *misskey.DetailedUser {
	return &misskey.DetailedUser{
		Username:       username,
		NotesCount:     i64(10),
		FollowingCount: i64(20),
		FollowersCount: i64(30),
	}
}

func TestAccountCreate(t *testing.T) {
	repo := newFakeAccountRepo()
	client := &fakeProfileClient{user: detailedUser("alice")}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(client), testLogger())

	body := bytes.NewBufferString(`{"host": "https://misskey.example.com", "token": "secret", "alert_as_note": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if repo.created == nil {
		t.Fatal("expected account to be stored")
	}
	if repo.created.Session.Host != "misskey.example.com" {
		t.Errorf("expected scheme stripped from host, got %q", repo.created.Session.Host)
	}
	if repo.created.Session.Username != "alice" {
		t.Errorf("expected username from profile, got %q", repo.created.Session.Username)
	}
	if !repo.created.AlertAsNote {
		t.Error("expected alert_as_note to be set")
	}
	if !repo.created.AlertAsNotification {
		t.Error("expected alert_as_notification to default to true")
	}
}

func TestAccountCreateInvalidToken(t *testing.T) {
	repo := newFakeAccountRepo()
	client := &fakeProfileClient{err: &misskey.APIError{StatusCode: 401, Endpoint: "i"}}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(client), testLogger())

	body := bytes.NewBufferString(`{"host": "misskey.example.com", "token": "bogus"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if repo.created != nil {
		t.Error("expected nothing to be stored")
	}
}

func TestAccountCreateDuplicate(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.accounts["acc-1"] = &models.Account{
		ID:      "acc-1",
		Session: models.Session{Host: "misskey.example.com", Username: "alice"},
	}
	client := &fakeProfileClient{user: detailedUser("alice")}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(client), testLogger())

	body := bytes.NewBufferString(`{"host": "misskey.example.com", "token": "secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", w.Code, w.Body.String())
	}
	if repo.created != nil {
		t.Error("expected nothing to be stored")
	}
}

func TestAccountCreateMissingFields(t *testing.T) {
	h := NewAccountHandlers(newFakeAccountRepo(), &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	body := bytes.NewBufferString(`{"host": "misskey.example.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestAccountList(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.accounts["acc-1"] = &models.Account{ID: "acc-1", Session: models.Session{Host: "misskey.example.com", Username: "alice"}}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected count 1, got %d", resp.Count)
	}
}

func TestAccountGetByIDNotFound(t *testing.T) {
	h := NewAccountHandlers(newFakeAccountRepo(), &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/accounts/missing", nil)
	w := httptest.NewRecorder()

	h.GetByID(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestAccountUpdateAlerts(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.accounts["acc-1"] = &models.Account{ID: "acc-1", AlertAsNotification: true}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	body := bytes.NewBufferString(`{"alert_as_note": true, "alert_as_notification": false}`)
	req := httptest.NewRequest(http.MethodPut, "/api/accounts/acc-1/alerts", body)
	w := httptest.NewRecorder()

	h.UpdateAlerts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	account := repo.accounts["acc-1"]
	if !account.AlertAsNote || account.AlertAsNotification {
		t.Errorf("flags not updated: note=%v notification=%v", account.AlertAsNote, account.AlertAsNotification)
	}
}

func TestAccountRecordsLimitValidation(t *testing.T) {
	h := NewAccountHandlers(newFakeAccountRepo(), &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	for _, limit := range []string{"0", "101", "abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/accounts/acc-1/records?limit="+limit, nil)
		w := httptest.NewRecorder()

		h.Records(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status 400, got %d", limit, w.Code)
		}
	}
}

func TestAccountAggregate(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.accounts["acc-1"] = &models.Account{ID: "acc-1", Session: models.Session{Host: "misskey.example.com", Username: "alice"}}
	enqueuer := &fakeEnqueuer{}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, enqueuer, clientFactoryFor(&fakeProfileClient{}), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/acc-1/aggregate", nil)
	w := httptest.NewRecorder()

	h.Aggregate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(enqueuer.names) != 1 || enqueuer.names[0] != aggregate.QueueAggregate {
		t.Fatalf("expected one job on %q, got %v", aggregate.QueueAggregate, enqueuer.names)
	}
	if account, ok := enqueuer.payloads[0].(models.Account); !ok || account.ID != "acc-1" {
		t.Errorf("expected account payload, got %#v", enqueuer.payloads[0])
	}
}

func TestAccountAggregateNotFound(t *testing.T) {
	enqueuer := &fakeEnqueuer{}
	h := NewAccountHandlers(newFakeAccountRepo(), &fakeRecordRepo{}, enqueuer, clientFactoryFor(&fakeProfileClient{}), testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/missing/aggregate", nil)
	w := httptest.NewRecorder()

	h.Aggregate(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if len(enqueuer.names) != 0 {
		t.Error("expected no job enqueued")
	}
}

func TestAccountDelete(t *testing.T) {
	repo := newFakeAccountRepo()
	repo.accounts["acc-1"] = &models.Account{ID: "acc-1"}
	h := NewAccountHandlers(repo, &fakeRecordRepo{}, &fakeEnqueuer{}, clientFactoryFor(&fakeProfileClient{}), testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/accounts/acc-1", nil)
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if len(repo.accounts) != 0 {
		t.Error("expected account to be removed")
	}
}

type fakeAnnouncementRepo struct {
	announcements map[string]*models.Announcement
}

func newFakeAnnouncementRepo() *fakeAnnouncementRepo {
	return &fakeAnnouncementRepo{announcements: make(map[string]*models.Announcement)}
}

func (f *fakeAnnouncementRepo) List(ctx context.Context) ([]*models.Announcement, error) {
	var out []*models.Announcement
	for _, a := range f.announcements {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeAnnouncementRepo) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	return f.announcements[id], nil
}

func (f *fakeAnnouncementRepo) Create(ctx context.Context, a *models.Announcement) error {
	a.ID = "ann-1"
	f.announcements[a.ID] = a
	return nil
}

func (f *fakeAnnouncementRepo) Update(ctx context.Context, a *models.Announcement) error {
	f.announcements[a.ID] = a
	return nil
}

func (f *fakeAnnouncementRepo) Delete(ctx context.Context, id string) error {
	delete(f.announcements, id)
	return nil
}

func TestAnnouncementCreateValidation(t *testing.T) {
	h := NewAnnouncementHandlers(newFakeAnnouncementRepo(), testLogger())

	body := bytes.NewBufferString(`{"title": "Maintenance"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/announcements", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestAnnouncementCreateAndGet(t *testing.T) {
	repo := newFakeAnnouncementRepo()
	h := NewAnnouncementHandlers(repo, testLogger())

	body := bytes.NewBufferString(`{"title": "Maintenance", "body": "Down at noon"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/announcements", body)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/announcements/ann-1", nil)
	w = httptest.NewRecorder()

	h.GetByID(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var got models.Announcement
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Title != "Maintenance" || got.Body != "Down at noon" {
		t.Errorf("unexpected announcement: %+v", got)
	}
}

func TestAnnouncementUpdateRequiresID(t *testing.T) {
	h := NewAnnouncementHandlers(newFakeAnnouncementRepo(), testLogger())

	body := bytes.NewBufferString(`{"title": "New title", "body": "New body"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/announcements", body)
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestAnnouncementUpdateNotFound(t *testing.T) {
	h := NewAnnouncementHandlers(newFakeAnnouncementRepo(), testLogger())

	body := bytes.NewBufferString(`{"id": "missing", "title": "t", "body": "b"}`)
	req := httptest.NewRequest(http.MethodPut, "/api/announcements", body)
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	config := auth.Config{
		JWTSecret:     "test-secret",
		AdminPassword: "hunter2",
		TokenDuration: time.Hour,
	}
	h := NewAuthHandler(config, testLogger())

	body := bytes.NewBufferString(`{"password": "hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var resp LoginResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Token == "" {
		t.Error("expected a token in the response")
	}

	userID, err := auth.ValidateToken(resp.Token, config.JWTSecret)
	if err != nil {
		t.Fatalf("token does not validate: %v", err)
	}
	if userID != "admin" {
		t.Errorf("expected userID admin, got %q", userID)
	}
}

func TestValidateTokenReturnsUserID(t *testing.T) {
	config := auth.Config{
		JWTSecret:     "test-secret",
		AdminPassword: "hunter2",
		TokenDuration: time.Hour,
	}
	h := NewAuthHandler(config, testLogger())

	token, err := auth.GenerateToken("admin", config.JWTSecret, config.TokenDuration)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	// The middleware puts the user ID on the context; go through it as the
	// router does.
	handler := auth.AuthMiddleware(config)(http.HandlerFunc(h.ValidateToken))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/validate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"userID"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Valid || resp.UserID != "admin" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	config := auth.Config{
		JWTSecret:     "test-secret",
		AdminPassword: "hunter2",
		TokenDuration: time.Hour,
	}
	h := NewAuthHandler(config, testLogger())

	body := bytes.NewBufferString(`{"password": "wrong"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)
	w := httptest.NewRecorder()

	h.Login(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}
