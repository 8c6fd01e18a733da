package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillapp/quill-server/internal/authsession"
	"github.com/quillapp/quill-server/internal/cache"
	"github.com/quillapp/quill-server/internal/config"
	"github.com/quillapp/quill-server/internal/gameloop"
	"github.com/quillapp/quill-server/internal/health"
	"github.com/quillapp/quill-server/internal/ratelimit"
	"github.com/quillapp/quill-server/internal/user"
)

// fakeUserStore is an in-memory UserStore for handler tests.
type fakeUserStore struct {
	mu    sync.Mutex
	byID  map[string]*user.User
	byName map[string]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byID: map[string]*user.User{}, byName: map[string]*user.User{}}
}

func (f *fakeUserStore) Create(u *user.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.byName[u.Username]; exists {
		return user.ErrUsernameTaken
	}
	u.ID = "user-" + u.Username
	f.byID[u.ID] = u
	f.byName[u.Username] = u
	return nil
}

func (f *fakeUserStore) GetByUsername(username string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byName[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByID(id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func newTestServerWithDeps(t *testing.T) (*Server, *cache.Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := cache.NewClient(mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	cfg := &config.Config{
		AllowedOrigins:     "http://localhost:3000",
		GameRounds:         1,
		GameSecPerRound:    60,
		RateLimitAPIPublic: "1000-H",
		RateLimitAPIRooms:  "1000-H",
		RateLimitWsIP:      "1000-H",
	}

	limiter, err := ratelimit.NewRateLimiter(cfg, nil)
	require.NoError(t, err)

	healthHandler := health.NewHandler(c, nil)
	users := newFakeUserStore()
	sessions := authsession.NewInMemoryStore()

	words, err := gameloop.LoadWordlist("../gameloop/words.txt")
	require.NoError(t, err)

	s := NewServer(cfg, c, nil, users, sessions, limiter, healthHandler, words)
	return s, c
}

func TestPing(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignupAndLogin(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	signupBody, err := json.Marshal(map[string]string{"username": "alice", "password": "hunter2!!"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewReader(signupBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	form := url.Values{"username": {"alice"}, "password": {"hunter2!!"}}
	req = httptest.NewRequest(http.MethodPost, "/user/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var tok tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))
	assert.NotEmpty(t, tok.AccessToken)
}

func TestSignupDuplicateUsername(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	body, err := json.Marshal(map[string]string{"username": "bob", "password": "hunter2!!"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if i == 0 {
			require.Equal(t, http.StatusCreated, rec.Code)
		} else {
			require.Equal(t, http.StatusConflict, rec.Code)
		}
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	form := url.Values{"username": {"nobody"}, "password": {"whatever"}}
	req := httptest.NewRequest(http.MethodPost, "/user/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndGetRoom(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	signupBody, err := json.Marshal(map[string]string{"username": "carol", "password": "hunter2!!"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/user/signup", bytes.NewReader(signupBody))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	form := url.Values{"username": {"carol"}, "password": {"hunter2!!"}}
	req = httptest.NewRequest(http.MethodPost, "/user/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	req = httptest.NewRequest(http.MethodPost, "/room", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	roomID, _ := created["room_id"].(string)
	require.NotEmpty(t, roomID)

	req = httptest.NewRequest(http.MethodGet, "/room/"+roomID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRoomNotFound(t *testing.T) {
	s, _ := newTestServerWithDeps(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/room/does-not-exist", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
