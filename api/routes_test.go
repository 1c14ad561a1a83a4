package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/coreybb/datapusher/datastore"
	"github.com/coreybb/datapusher/delivery"
	rh "github.com/coreybb/datapusher/route-handlers"
	"github.com/coreybb/datapusher/webhooks"
	"github.com/coreybb/datapusher/webutil"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

type testServer struct {
	*httptest.Server
	t *testing.T
}

func newTestServer(t *testing.T, opts RouteOptions) *testServer {
	return newTestServerWithCache(t, opts, nil)
}

// newTestServerWithCache routes token lookups through a Redis-backed cache
// when rdb is non-nil.
func newTestServerWithCache(t *testing.T, opts RouteOptions, rdb *redis.Client) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sql.Open(datastore.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := datastore.Migrate(context.Background(), db, datastore.DriverSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	accountRepo := datastore.NewAccountRepository(db)
	destinationRepo := datastore.NewDestinationRepository(db)

	var (
		tokenLookup delivery.AccountLookup = accountRepo
		invalidator rh.TokenInvalidator
	)
	if rdb != nil {
		cache := datastore.NewTokenCache(accountRepo, rdb, time.Minute)
		tokenLookup, invalidator = cache, cache
	}
	service := delivery.NewDeliveryService(tokenLookup, destinationRepo,
		delivery.WithForwarder(delivery.NewHTTPForwarder(2*time.Second)),
	)

	router := SetupRoutes(
		rh.NewAccountHandler(accountRepo, invalidator),
		rh.NewDestinationHandler(destinationRepo, accountRepo),
		webhooks.NewIncomingDataHandler(service),
		opts,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, t: t}
}

// do sends a request and decodes the JSON response into out when non-nil.
func (s *testServer) do(method, path, body string, headers map[string]string, out any) int {
	s.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.Client().Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode
}

type accountBody struct {
	ID             int64   `json:"account_id"`
	Email          string  `json:"email"`
	Name           string  `json:"account_name"`
	AppSecretToken string  `json:"app_secret_token"`
	Website        *string `json:"website"`
}

type destinationBody struct {
	ID         int64             `json:"destination_id"`
	AccountID  int64             `json:"account_id"`
	URL        string            `json:"url"`
	HTTPMethod string            `json:"http_method"`
	Headers    map[string]string `json:"headers"`
}

type messageBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s *testServer) createAccount(email string) accountBody {
	s.t.Helper()
	var acct accountBody
	body := fmt.Sprintf(`{"email":%q,"account_name":"Acme"}`, email)
	if code := s.do(http.MethodPost, "/accounts/", body, nil, &acct); code != http.StatusCreated {
		s.t.Fatalf("create account: status %d", code)
	}
	return acct
}

func (s *testServer) createDestination(accountID int64, body string) destinationBody {
	s.t.Helper()
	var dest destinationBody
	path := fmt.Sprintf("/accounts/%d/destinations/", accountID)
	if code := s.do(http.MethodPost, path, body, nil, &dest); code != http.StatusCreated {
		s.t.Fatalf("create destination: status %d", code)
	}
	return dest
}

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t, RouteOptions{})

	first := s.createAccount("ops@acme.example")
	second := s.createAccount("dev@acme.example")
	if first.AppSecretToken == "" || first.AppSecretToken == second.AppSecretToken {
		t.Fatalf("tokens must be non-empty and unique: %q %q", first.AppSecretToken, second.AppSecretToken)
	}

	var dup messageBody
	if code := s.do(http.MethodPost, "/accounts/", `{"email":"ops@acme.example","account_name":"Again"}`, nil, &dup); code != http.StatusConflict {
		t.Fatalf("duplicate email: status %d", code)
	}

	var updated accountBody
	path := fmt.Sprintf("/accounts/%d", first.ID)
	if code := s.do(http.MethodPut, path, `{"website":"https://acme.example"}`, nil, &updated); code != http.StatusOK {
		t.Fatalf("update account: status %d", code)
	}
	if updated.Name != "Acme" || updated.Website == nil || *updated.Website != "https://acme.example" {
		t.Fatalf("partial update changed the wrong fields: %+v", updated)
	}

	var all []accountBody
	if code := s.do(http.MethodGet, "/accounts/", "", nil, &all); code != http.StatusOK || len(all) != 2 {
		t.Fatalf("list accounts: status %d, %d accounts", code, len(all))
	}

	var deleted messageBody
	if code := s.do(http.MethodDelete, path, "", nil, &deleted); code != http.StatusOK || deleted.Message != "Account deleted successfully" {
		t.Fatalf("delete account: status %d body %+v", code, deleted)
	}

	var missing messageBody
	if code := s.do(http.MethodGet, path, "", nil, &missing); code != http.StatusNotFound || missing.Error != "Account not found" {
		t.Fatalf("get deleted account: status %d body %+v", code, missing)
	}
	if code := s.do(http.MethodGet, "/accounts/abc", "", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: status %d", code)
	}
}

func TestCreateAccountRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t, RouteOptions{})

	for _, body := range []string{`{"email":"not-an-email","account_name":"x"}`, `{"account_name":"x"}`, `nope`} {
		if code := s.do(http.MethodPost, "/accounts/", body, nil, nil); code != http.StatusBadRequest {
			t.Errorf("body %s: status %d, want 400", body, code)
		}
	}
}

func TestDestinationMethodValidation(t *testing.T) {
	s := newTestServer(t, RouteOptions{})
	acct := s.createAccount("ops@acme.example")
	path := fmt.Sprintf("/accounts/%d/destinations/", acct.ID)

	var resp messageBody
	if code := s.do(http.MethodPost, path, `{"url":"https://hooks.example","http_method":"FOO","headers":{}}`, nil, &resp); code != http.StatusBadRequest || resp.Error != "Invalid HTTP method" {
		t.Fatalf("invalid method: status %d body %+v", code, resp)
	}
	resp = messageBody{}
	if code := s.do(http.MethodPost, path, `{"url":"https://hooks.example","headers":{}}`, nil, &resp); code != http.StatusBadRequest || resp.Error != "HTTP method is required" {
		t.Fatalf("missing method: status %d body %+v", code, resp)
	}

	dest := s.createDestination(acct.ID, `{"url":"https://hooks.example","http_method":"get","headers":{"X-Key":"v"}}`)
	if dest.HTTPMethod != "GET" || dest.AccountID != acct.ID {
		t.Fatalf("unexpected destination %+v", dest)
	}

	resp = messageBody{}
	if code := s.do(http.MethodPost, "/accounts/999/destinations/", `{"url":"https://hooks.example","http_method":"POST"}`, nil, &resp); code != http.StatusNotFound || resp.Error != "Account not found" {
		t.Fatalf("unknown account: status %d body %+v", code, resp)
	}

	var bad messageBody
	destPath := fmt.Sprintf("/destinations/%d", dest.ID)
	if code := s.do(http.MethodPut, destPath, `{"http_method":"TRACE"}`, nil, &bad); code != http.StatusBadRequest || bad.Error != "Invalid HTTP method" {
		t.Fatalf("invalid method on update: status %d body %+v", code, bad)
	}
}

func TestDestinationHeadersOnlyUpdate(t *testing.T) {
	s := newTestServer(t, RouteOptions{})
	acct := s.createAccount("ops@acme.example")
	dest := s.createDestination(acct.ID, `{"url":"https://hooks.example/in","http_method":"PUT","headers":{"A":"1"}}`)

	var updated destinationBody
	path := fmt.Sprintf("/destinations/%d", dest.ID)
	if code := s.do(http.MethodPut, path, `{"headers":{"B":"2"}}`, nil, &updated); code != http.StatusOK {
		t.Fatalf("update destination: status %d", code)
	}

	var got destinationBody
	if code := s.do(http.MethodGet, path, "", nil, &got); code != http.StatusOK {
		t.Fatalf("get destination: status %d", code)
	}
	if got.URL != "https://hooks.example/in" || got.HTTPMethod != "PUT" {
		t.Fatalf("url/method changed: %+v", got)
	}
	if len(got.Headers) != 1 || got.Headers["B"] != "2" {
		t.Fatalf("headers not replaced: %+v", got.Headers)
	}

	var list []destinationBody
	if code := s.do(http.MethodGet, fmt.Sprintf("/accounts/%d/destinations/", acct.ID), "", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list destinations: status %d, %d items", code, len(list))
	}

	var deleted messageBody
	if code := s.do(http.MethodDelete, path, "", nil, &deleted); code != http.StatusOK || deleted.Message != "Destination deleted successfully" {
		t.Fatalf("delete destination: status %d body %+v", code, deleted)
	}
	var missing messageBody
	if code := s.do(http.MethodGet, path, "", nil, &missing); code != http.StatusNotFound || missing.Error != "Destination not found" {
		t.Fatalf("get deleted destination: status %d body %+v", code, missing)
	}
}

func TestDeleteAccountRemovesDestinations(t *testing.T) {
	s := newTestServer(t, RouteOptions{})
	acct := s.createAccount("ops@acme.example")
	dest := s.createDestination(acct.ID, `{"url":"https://hooks.example","http_method":"POST"}`)

	if code := s.do(http.MethodDelete, fmt.Sprintf("/accounts/%d", acct.ID), "", nil, nil); code != http.StatusOK {
		t.Fatalf("delete account: status %d", code)
	}
	if code := s.do(http.MethodGet, fmt.Sprintf("/destinations/%d", dest.ID), "", nil, nil); code != http.StatusNotFound {
		t.Fatalf("destination survived account delete: status %d", code)
	}
}

type hit struct {
	method string
	query  string
	body   string
}

func recordingDestination(t *testing.T, status int) (*httptest.Server, func() []hit) {
	t.Helper()
	var (
		mu   sync.Mutex
		hits []hit
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		hits = append(hits, hit{method: r.Method, query: r.URL.RawQuery, body: string(body)})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []hit {
		mu.Lock()
		defer mu.Unlock()
		return append([]hit(nil), hits...)
	}
}

func TestIncomingData(t *testing.T) {
	s := newTestServer(t, RouteOptions{})
	acct := s.createAccount("ops@acme.example")

	d1, d1Hits := recordingDestination(t, http.StatusInternalServerError)
	d2, d2Hits := recordingDestination(t, http.StatusOK)
	s.createDestination(acct.ID, fmt.Sprintf(`{"url":%q,"http_method":"GET"}`, d1.URL))
	s.createDestination(acct.ID, fmt.Sprintf(`{"url":%q,"http_method":"POST"}`, d2.URL))

	var resp messageBody
	if code := s.do(http.MethodPost, "/server/incoming_data", `{"a":1}`, nil, &resp); code != http.StatusUnauthorized || resp.Error != "Unauthenticated user" {
		t.Fatalf("missing token: status %d body %+v", code, resp)
	}
	resp = messageBody{}
	if code := s.do(http.MethodPost, "/server/incoming_data", `{"a":1}`, map[string]string{webutil.HeaderAppToken: "bogus"}, &resp); code != http.StatusUnauthorized {
		t.Fatalf("unknown token: status %d", code)
	}
	auth := map[string]string{webutil.HeaderAppToken: acct.AppSecretToken}
	resp = messageBody{}
	if code := s.do(http.MethodPost, "/server/incoming_data", `a=1`, auth, &resp); code != http.StatusBadRequest || resp.Error != "Invalid data provided" {
		t.Fatalf("non-JSON body: status %d body %+v", code, resp)
	}
	if len(d1Hits())+len(d2Hits()) != 0 {
		t.Fatal("rejected requests must not be forwarded")
	}

	resp = messageBody{}
	if code := s.do(http.MethodPost, "/server/incoming_data", `{"a":1}`, auth, &resp); code != http.StatusOK || resp.Message != "Data forwarded to destinations successfully" {
		t.Fatalf("forward: status %d body %+v", code, resp)
	}

	gets := d1Hits()
	if len(gets) != 1 || gets[0].method != http.MethodGet || gets[0].query != "a=1" {
		t.Fatalf("GET destination saw %+v", gets)
	}
	posts := d2Hits()
	if len(posts) != 1 || posts[0].method != http.MethodPost || posts[0].body != `{"a":1}` {
		t.Fatalf("POST destination saw %+v", posts)
	}
}

func TestIncomingDataRateLimit(t *testing.T) {
	limiter := NewTokenRateLimiter(0.001, 1)
	s := newTestServer(t, RouteOptions{RateLimiter: limiter})
	acct := s.createAccount("ops@acme.example")
	auth := map[string]string{webutil.HeaderAppToken: acct.AppSecretToken}

	if code := s.do(http.MethodPost, "/server/incoming_data", `{}`, auth, nil); code != http.StatusOK {
		t.Fatalf("first request: status %d", code)
	}
	if code := s.do(http.MethodPost, "/server/incoming_data", `{}`, auth, nil); code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", code)
	}
}

func TestIncomingDataRateLimitRotatingTokens(t *testing.T) {
	limiter := NewTokenRateLimiter(0.001, 1)
	s := newTestServer(t, RouteOptions{RateLimiter: limiter})
	acct := s.createAccount("ops@acme.example")

	var codes []int
	for i := 0; i < 5; i++ {
		headers := map[string]string{webutil.HeaderAppToken: fmt.Sprintf("bogus-%d", i)}
		codes = append(codes, s.do(http.MethodPost, "/server/incoming_data", `{}`, headers, nil))
	}
	want := []int{http.StatusUnauthorized, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", codes, want)
		}
	}
	if got := limiter.size(); got != 1 {
		t.Fatalf("buckets = %d, want 1", got)
	}

	// A real account is not starved by the address bucket.
	auth := map[string]string{webutil.HeaderAppToken: acct.AppSecretToken}
	if code := s.do(http.MethodPost, "/server/incoming_data", `{}`, auth, nil); code != http.StatusOK {
		t.Fatalf("authenticated request: status %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	s := newTestServer(t, RouteOptions{MetricsHandler: metrics})

	if code := s.do(http.MethodGet, "/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: status %d", code)
	}
	if code := s.do(http.MethodGet, "/metrics", "", nil, nil); code != http.StatusOK {
		t.Fatalf("metrics: status %d", code)
	}
}

func TestDeletedAccountTokenStopsAuthenticating(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	s := newTestServerWithCache(t, RouteOptions{}, rdb)
	acct := s.createAccount("ops@acme.example")
	auth := map[string]string{webutil.HeaderAppToken: acct.AppSecretToken}

	if code := s.do(http.MethodPost, "/server/incoming_data", `{}`, auth, nil); code != http.StatusOK {
		t.Fatalf("before delete: status %d", code)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("token resolution not cached: keys %v", mr.Keys())
	}
	if code := s.do(http.MethodDelete, fmt.Sprintf("/accounts/%d", acct.ID), "", nil, nil); code != http.StatusOK {
		t.Fatalf("delete account: status %d", code)
	}
	if code := s.do(http.MethodPost, "/server/incoming_data", `{}`, auth, nil); code != http.StatusUnauthorized {
		t.Fatalf("after delete: status %d, want 401", code)
	}
}
