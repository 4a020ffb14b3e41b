package user_test

import (
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ripplehq/ripple-server/cmd/api"
	"github.com/ripplehq/ripple-server/cmd/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	t.Setenv("SECRET_KEY", "test-secret-key")

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Follow{}, &models.Post{}, &models.Comment{}, &models.Like{}))

	router, err := api.NewApiServer(":0", db).Router()
	require.NoError(t, err)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts, db
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// noFollow returns a copy of the client that stops at redirects so the
// Location header can be asserted.
func noFollow(client *http.Client) *http.Client {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func register(t *testing.T, ts *httptest.Server, client *http.Client, username, email, password string) *http.Response {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/register", url.Values{
		"username":  {username},
		"email":     {email},
		"password":  {password},
		"password2": {password},
	})
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, ts *httptest.Server, client *http.Client, username, password string) *http.Response {
	t.Helper()
	resp, err := client.PostForm(ts.URL+"/login", url.Values{
		"username": {username},
		"password": {password},
	})
	require.NoError(t, err)
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func createUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()
	user := models.User{Username: username, Email: username + "@example.com"}
	require.NoError(t, user.SetPassword("hunter22"))
	require.NoError(t, db.Create(&user).Error)
	return user
}

func TestRegisterThenLogin(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)

	resp := register(t, ts, client, "alice", "alice@example.com", "hunter22")
	body := readBody(t, resp)
	assert.Contains(t, body, "Registration successful! Please log in.")

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 1, count)

	resp = login(t, ts, client, "alice", "hunter22")
	body = readBody(t, resp)
	assert.Contains(t, body, "Welcome back, alice!")
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)

	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))

	resp := register(t, ts, newClient(t), "alice", "other@example.com", "hunter22")
	body := readBody(t, resp)
	assert.Contains(t, body, "Please use a different username.")

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestRegisterValidation(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)

	resp, err := client.PostForm(ts.URL+"/register", url.Values{
		"username":  {"al"},
		"email":     {"not-an-email"},
		"password":  {"short"},
		"password2": {"other"},
	})
	require.NoError(t, err)
	body := readBody(t, resp)

	assert.Contains(t, body, "Field must be at least 3 characters long.")
	assert.Contains(t, body, "Invalid email address.")
	assert.Contains(t, body, "Field must be at least 6 characters long.")
	assert.Contains(t, body, "Fields do not match.")

	var count int64
	db.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestLoginWrongPassword(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))

	resp := login(t, ts, client, "alice", "wrong-password")
	body := readBody(t, resp)
	assert.Contains(t, body, "Invalid username or password")

	// No session was established.
	resp, err := noFollow(client).Get(ts.URL + "/feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/login")
}

func TestLoginUnknownUserSameMessage(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)

	resp := login(t, ts, client, "nobody", "whatever1")
	body := readBody(t, resp)
	assert.Contains(t, body, "Invalid username or password")
}

func TestLoginHonorsNext(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))

	resp, err := noFollow(client).PostForm(ts.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"hunter22"},
		"next":     {"/discover"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/discover", resp.Header.Get("Location"))
}

func TestLoginRejectsExternalNext(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))

	resp, err := noFollow(client).PostForm(ts.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"hunter22"},
		"next":     {"https://evil.example.com/"},
	})
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "/feed", resp.Header.Get("Location"))
}

func TestLogoutShowsFlashAndEndsSession(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))

	// The goodbye flash must survive the redirect to the landing page.
	body := readBody(t, mustGet(t, client, ts.URL+"/logout"))
	assert.Contains(t, body, "You have been logged out.")

	resp, err := noFollow(client).Get(ts.URL + "/feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/login")
}

func TestSelfFollowRejected(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))

	resp, err := client.Get(ts.URL + "/follow/alice")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, "You cannot follow yourself!")

	var count int64
	db.Model(&models.Follow{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestFollowIdempotent(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))
	createUser(t, db, "bob")

	for i := 0; i < 2; i++ {
		resp, err := client.Get(ts.URL + "/follow/bob")
		require.NoError(t, err)
		readBody(t, resp)
	}

	var count int64
	db.Model(&models.Follow{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestUnfollow(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))
	createUser(t, db, "bob")

	readBody(t, mustGet(t, client, ts.URL+"/follow/bob"))
	resp := mustGet(t, client, ts.URL+"/unfollow/bob")
	body := readBody(t, resp)
	assert.Contains(t, body, "You are no longer following bob.")

	var count int64
	db.Model(&models.Follow{}).Count(&count)
	assert.EqualValues(t, 0, count)
}

func TestProfileShowsFollowState(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))
	createUser(t, db, "bob")

	body := readBody(t, mustGet(t, client, ts.URL+"/user/bob"))
	assert.Contains(t, body, "/follow/bob")

	readBody(t, mustGet(t, client, ts.URL+"/follow/bob"))
	body = readBody(t, mustGet(t, client, ts.URL+"/user/bob"))
	assert.Contains(t, body, "/unfollow/bob")
}

func TestProfileNotFound(t *testing.T) {
	ts, _ := newTestServer(t)
	client := newClient(t)

	resp := mustGet(t, client, ts.URL+"/user/nobody")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditProfile(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))

	resp, err := client.PostForm(ts.URL+"/edit_profile", url.Values{
		"bio": {"Gopher, gardener."},
	})
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, "Your profile has been updated!")
	assert.Contains(t, body, "Gopher, gardener.")

	var user models.User
	require.NoError(t, db.Where("username = ?", "alice").First(&user).Error)
	assert.Equal(t, "Gopher, gardener.", user.Bio)

	// GET pre-populates the current bio.
	body = readBody(t, mustGet(t, client, ts.URL+"/edit_profile"))
	assert.Contains(t, body, "Gopher, gardener.")
}

func TestEditProfileBioTooLong(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))

	resp, err := client.PostForm(ts.URL+"/edit_profile", url.Values{
		"bio": {strings.Repeat("x", 501)},
	})
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Contains(t, body, "Field cannot be longer than 500 characters.")

	var user models.User
	require.NoError(t, db.Where("username = ?", "alice").First(&user).Error)
	assert.Empty(t, user.Bio)
}

func TestDiscoverExcludesSelfAndFollowed(t *testing.T) {
	ts, db := newTestServer(t)
	client := newClient(t)
	readBody(t, register(t, ts, client, "alice", "alice@example.com", "hunter22"))
	readBody(t, login(t, ts, client, "alice", "hunter22"))
	createUser(t, db, "bob")
	createUser(t, db, "carol")

	readBody(t, mustGet(t, client, ts.URL+"/follow/bob"))

	body := readBody(t, mustGet(t, client, ts.URL+"/discover"))
	assert.Contains(t, body, "/user/carol")
	assert.NotContains(t, body, "/user/bob")
	assert.NotContains(t, body, "/follow/alice")
}

func mustGet(t *testing.T, client *http.Client, url string) *http.Response {
	t.Helper()
	resp, err := client.Get(url)
	require.NoError(t, err)
	return resp
}
