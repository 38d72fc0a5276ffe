package iracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newTestClient returns a client pointed at a fake API whose sleeps are
// recorded instead of performed.
func newTestClient(t *testing.T, handler http.Handler, maxRetries int) (*Client, *httptest.Server, *[]time.Duration) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{
		BaseURL:          ts.URL,
		Username:         "driver@example.com",
		PasswordToken:    "token",
		Timeout:          5 * time.Second,
		RateLimitBackoff: 5 * time.Second,
		MaxBackoff:       60 * time.Second,
		MaxRetries:       maxRetries,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	sleeps := []time.Duration{}
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		sleeps = append(sleeps, d)
		return nil
	}
	c.jitter = func(d time.Duration) time.Duration { return d }
	return c, ts, &sleeps
}

// ---------------------------------------------------------------------------
// EncodePassword / Login
// ---------------------------------------------------------------------------

func TestEncodePassword(t *testing.T) {
	// base64(sha256("MyPassWordclunky@iracing.com"))
	got := EncodePassword("CLunky@iRacing.Com", "MyPassWord")
	assert.Equal(t, "xGKecAR27ALXNuMLsGaG0v5Q9pSs2tZTZRKNgmHMg+Q=", got)
	assert.Equal(t, got, EncodePassword("clunky@iracing.com", "MyPassWord"), "username is lowercased")
	assert.NotEqual(t, got, EncodePassword("clunky@iracing.com", "mypassword"), "password is case sensitive")
}

func TestLogin_PostsCredentialsAndKeepsCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "driver@example.com", body["email"])
		assert.Equal(t, "token", body["password"])
		http.SetCookie(w, &http.Cookie{Name: "authtoken_members", Value: "abc", Path: "/"})
		fmt.Fprint(w, `{"authcode":"xyz","email":"driver@example.com"}`)
	})
	mux.HandleFunc("GET /data/ping", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("authtoken_members")
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "abc", cookie.Value)
		fmt.Fprint(w, `{"ok":true}`)
	})
	c, ts, _ := newTestClient(t, mux, 0)

	require.NoError(t, c.Login(context.Background()))
	body, err := c.Get(context.Background(), ts.URL+"/data/ping", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestLogin_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{"unauthorized", http.StatusUnauthorized, "bad credentials", "bad credentials"},
		{"authcode zero", http.StatusOK, `{"authcode":0,"message":"Invalid email address or password."}`, "Invalid email address or password."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			c, _, _ := newTestClient(t, handler, 0)

			err := c.Login(context.Background())
			var authErr *AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.status, authErr.StatusCode)
			assert.Equal(t, tt.wantMsg, authErr.Message)
		})
	}
}

// ---------------------------------------------------------------------------
// Get: status handling and rate-limit retry
// ---------------------------------------------------------------------------

func TestGet_RetriesRateLimitedRequest(t *testing.T) {
	statuses := []int{http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusOK}
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("subsession_id"))
		status := statuses[calls]
		calls++
		w.WriteHeader(status)
		if status == http.StatusOK {
			fmt.Fprint(w, `{"payload":1}`)
		}
	})
	c, ts, sleeps := newTestClient(t, handler, 5)

	body, err := c.Get(context.Background(), ts.URL+"/data/results/get", map[string][]string{"subsession_id": {"7"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"payload":1}`, string(body))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *sleeps)
}

func TestGet_BackoffIsCapped(t *testing.T) {
	c, err := NewClient(Config{RateLimitBackoff: 5 * time.Second, MaxBackoff: 30 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, c.backoff(0))
	assert.Equal(t, 10*time.Second, c.backoff(1))
	assert.Equal(t, 20*time.Second, c.backoff(2))
	assert.Equal(t, 30*time.Second, c.backoff(3))
	assert.Equal(t, 30*time.Second, c.backoff(50))
}

func TestGet_RateLimitExhausted(t *testing.T) {
	var calls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, ts, sleeps := newTestClient(t, handler, 2)

	_, err := c.Get(context.Background(), ts.URL+"/data/x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExhausted)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Len(t, *sleeps, 2)
}

func TestGet_SleepObservesCancellation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c, ts, _ := newTestClient(t, handler, 0)
	c.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, ts.URL+"/data/x", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_NonRetryableStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	})
	c, ts, sleeps := newTestClient(t, handler, 0)

	_, err := c.Get(context.Background(), ts.URL+"/data/x", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "boom", apiErr.Body)
	assert.False(t, apiErr.IsRateLimited())
	assert.Empty(t, *sleeps)
}

// expiringSession is a fake API whose session cookie stops working after
// expire() until the next login.
type expiringSession struct {
	mu       sync.Mutex
	token    int
	logins   int
	rejectAt int // fail logins from this count on, 0 never
	pings    int
}

func (s *expiringSession) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
}

func (s *expiringSession) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.logins++
		if s.rejectAt > 0 && s.logins >= s.rejectAt {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "authtoken_members", Value: fmt.Sprint(s.token), Path: "/"})
		fmt.Fprint(w, `{"authcode":"xyz"}`)
	})
	mux.HandleFunc("GET /data/ping", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pings++
		cookie, err := r.Cookie("authtoken_members")
		if err != nil || cookie.Value != fmt.Sprint(s.token) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Unauthorized"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	})
	return mux
}

func TestGet_ExpiredSessionLogsInAgain(t *testing.T) {
	session := &expiringSession{}
	c, ts, sleeps := newTestClient(t, session.handler(), 0)
	ctx := context.Background()

	require.NoError(t, c.Login(ctx))
	_, err := c.Get(ctx, ts.URL+"/data/ping", nil)
	require.NoError(t, err)

	session.expire()
	body, err := c.Get(ctx, ts.URL+"/data/ping", nil)
	require.NoError(t, err, "401 -> login -> 200")
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, 2, session.logins)
	assert.Equal(t, 3, session.pings)
	assert.Empty(t, *sleeps, "re-login does not back off")
}

func TestGet_ConcurrentExpiredRequestsLogInOnce(t *testing.T) {
	session := &expiringSession{}
	c, ts, _ := newTestClient(t, session.handler(), 0)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	session.expire()

	var wg sync.WaitGroup
	for range 4 {
		wg.Go(func() {
			_, err := c.Get(ctx, ts.URL+"/data/ping", nil)
			assert.NoError(t, err)
		})
	}
	wg.Wait()
	assert.Equal(t, 2, session.logins, "one initial login plus one shared re-login")
}

func TestGet_ReloginRejected(t *testing.T) {
	session := &expiringSession{rejectAt: 2}
	c, ts, _ := newTestClient(t, session.handler(), 0)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))
	session.expire()

	_, err := c.Get(ctx, ts.URL+"/data/ping", nil)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	assert.Equal(t, 1, session.pings, "request is not replayed without a session")
}

func TestGet_StillUnauthorizedAfterRelogin(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			fmt.Fprint(w, `{"authcode":"xyz"}`)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, "no access")
	})
	c, ts, _ := newTestClient(t, handler, 0)

	_, err := c.Get(context.Background(), ts.URL+"/data/ping", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "no access", apiErr.Body)
}

func TestGet_InvalidJSON(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html>maintenance</html>")
	})
	c, ts, _ := newTestClient(t, handler, 0)

	_, err := c.Get(context.Background(), ts.URL+"/data/x", nil)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestGet_RecordsRateLimitHeaders(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("x-ratelimit-limit", "240")
		w.Header().Set("x-ratelimit-remaining", "17")
		w.Header().Set("x-ratelimit-reset", "1700000000")
		fmt.Fprint(w, `{}`)
	})
	c, ts, _ := newTestClient(t, handler, 0)

	_, err := c.Get(context.Background(), ts.URL+"/data/x", nil)
	require.NoError(t, err)
	assert.Equal(t, RateLimit{Limit: 240, Remaining: 17, Reset: 1700000000}, c.RateLimit())
}

// ---------------------------------------------------------------------------
// Indirect and chunked fetches
// ---------------------------------------------------------------------------

func TestGetIndirect_FollowsLink(t *testing.T) {
	mux := http.NewServeMux()
	var base string
	mux.HandleFunc("GET /data/car/get", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"link":"%s/s3/cars.json","expires":"2024-01-01T00:00:00Z"}`, base)
	})
	mux.HandleFunc("GET /s3/cars.json", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"car_id":1,"car_name":"Skip Barber Formula 2000"}]`)
	})
	c, ts, _ := newTestClient(t, mux, 0)
	base = ts.URL

	body, err := c.Cars(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `[{"car_id":1,"car_name":"Skip Barber Formula 2000"}]`, string(body))
}

func TestGetIndirect_MissingLink(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"expires":"soon"}`)
	})
	c, _, _ := newTestClient(t, handler, 0)

	_, err := c.GetIndirect(context.Background(), "/data/track/get", nil)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "/data/track/get", parseErr.Endpoint)
}

// chunkServer serves a chunked search whose chunk files hold the given
// number of items each, numbered consecutively from 1.
func chunkServer(t *testing.T, sizes []int) http.Handler {
	t.Helper()
	var base string
	mux := http.NewServeMux()
	names := make([]string, len(sizes))
	next := int64(1)
	for i, n := range sizes {
		names[i] = fmt.Sprintf("chunk_%d.json", i)
		items := make([]map[string]int64, n)
		for k := range items {
			items[k] = map[string]int64{"subsession_id": next}
			next++
		}
		payload, err := json.Marshal(items)
		require.NoError(t, err)
		mux.HandleFunc("GET /chunks/"+names[i], func(w http.ResponseWriter, _ *http.Request) {
			w.Write(payload)
		})
	}
	mux.HandleFunc("GET /data/results/search_series", func(w http.ResponseWriter, r *http.Request) {
		if base == "" {
			base = "http://" + r.Host
		}
		resp := map[string]any{
			"type": "season_results",
			"data": map[string]any{
				"success": true,
				"chunk_info": map[string]any{
					"base_download_url": base + "/chunks/",
					"chunk_file_names":  names,
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

func TestGetChunked_ConcatenatesInChunkOrder(t *testing.T) {
	c, _, _ := newTestClient(t, chunkServer(t, []int{2, 3, 1}), 0)

	items, err := c.GetChunked(context.Background(), "/data/results/search_series", nil)
	require.NoError(t, err)
	require.Len(t, items, 6)
	for i, item := range items {
		assert.JSONEq(t, fmt.Sprintf(`{"subsession_id":%d}`, i+1), string(item))
	}
}

func TestGetChunked_NoResults(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"type":"season_results","data":{"success":true,"chunk_info":{"chunk_size":500,"num_chunks":0,"rows":0}}}`)
	})
	c, _, _ := newTestClient(t, handler, 0)

	items, err := c.GetChunked(context.Background(), "/data/results/search_series", nil)
	require.NoError(t, err)
	assert.NotNil(t, items)
	assert.Empty(t, items)
}

func TestGetChunked_ChunkFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data/results/search_series", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":{"chunk_info":{"base_download_url":"http://%s/chunks/","chunk_file_names":["missing.json"]}}}`, r.Host)
	})
	c, _, _ := newTestClient(t, mux, 0)

	_, err := c.GetChunked(context.Background(), "/data/results/search_series", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

// ---------------------------------------------------------------------------
// Endpoint helpers
// ---------------------------------------------------------------------------

func TestSearchSeries_Params(t *testing.T) {
	var got map[string][]string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data/results/search_series", func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		fmt.Fprint(w, `{"data":{"chunk_info":{}}}`)
	})
	c, _, _ := newTestClient(t, mux, 0)

	custID := int64(123)
	week := 4
	_, err := c.SearchSeries(context.Background(), SeriesQuery{CustID: &custID, Year: 2022, Quarter: 3, Week: &week})
	require.NoError(t, err)
	assert.Equal(t, []string{"123"}, got["cust_id"])
	assert.Equal(t, []string{"2022"}, got["season_year"])
	assert.Equal(t, []string{"3"}, got["season_quarter"])
	assert.Equal(t, []string{"4"}, got["race_week_num"])

	_, err = c.SearchSeries(context.Background(), SeriesQuery{Year: 2023, Quarter: 1})
	require.NoError(t, err)
	assert.NotContains(t, got, "cust_id")
	assert.NotContains(t, got, "race_week_num")
}

func TestSearchSeries_ReturnsSubsessionIDs(t *testing.T) {
	c, _, _ := newTestClient(t, chunkServer(t, []int{2, 3, 1}), 0)

	ids, err := c.SearchSeries(context.Background(), SeriesQuery{Year: 2022, Quarter: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids)
}

func TestLookupDrivers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /data/lookup/drivers", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Max Power", r.URL.Query().Get("search_term"))
		fmt.Fprintf(w, `{"link":"http://%s/s3/lookup"}`, r.Host)
	})
	mux.HandleFunc("GET /s3/lookup", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `[{"cust_id":11,"display_name":"Max Power"},{"cust_id":12,"display_name":"Max Power2"}]`)
	})
	c, _, _ := newTestClient(t, mux, 0)

	matches, err := c.LookupDrivers(context.Background(), "Max Power")
	require.NoError(t, err)
	assert.Equal(t, []DriverMatch{{CustID: 11, DisplayName: "Max Power"}, {CustID: 12, DisplayName: "Max Power2"}}, matches)
}

func TestMemberSince(t *testing.T) {
	tests := []struct {
		name        string
		memberSince string
		want        int
		wantErr     bool
	}{
		{"date", "2015-03-21", 2015, false},
		{"year only", "2019", 2019, false},
		{"malformed", "March 2015", 0, true},
		{"empty", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /data/member/get", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "42", r.URL.Query().Get("cust_ids"))
				fmt.Fprintf(w, `{"link":"http://%s/s3/member"}`, r.Host)
			})
			mux.HandleFunc("GET /s3/member", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"success":true,"members":[{"cust_id":42,"member_since":%q}]}`, tt.memberSince)
			})
			c, _, _ := newTestClient(t, mux, 0)

			year, err := c.MemberSince(context.Background(), 42)
			if tt.wantErr {
				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, year)
		})
	}
}

func TestSubsessionResult_WrapsErrorWithID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	})
	c, _, _ := newTestClient(t, handler, 0)

	_, err := c.SubsessionResult(context.Background(), 987654)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subsession 987654")
	var apiErr *APIError
	assert.True(t, errors.As(err, &apiErr))
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://bucket.s3.amazonaws.com/file.json",
		redact("https://bucket.s3.amazonaws.com/file.json?X-Amz-Signature=abc&X-Amz-Expires=900"))
	assert.Equal(t, "https://members-ng.iracing.com/data/x?a=1",
		redact("https://members-ng.iracing.com/data/x?a=1"))
}
