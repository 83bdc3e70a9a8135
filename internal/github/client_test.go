package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("test-token")
	c.baseURL = srv.URL
	return c
}

func TestValidateToken(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "token test-token", r.Header.Get("Authorization"))

		w.Header().Set("X-OAuth-Scopes", "repo, delete_repo, gist")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})

	login, err := c.ValidateToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", login)
}

func TestValidateToken_MissingScopes(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-OAuth-Scopes", "repo")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
	})

	_, err := c.ValidateToken(context.Background())
	assert.ErrorIs(t, err, ErrMissingScopes)
}

func TestValidateToken_Rejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.ValidateToken(context.Background())
	assert.ErrorIs(t, err, ErrBadToken)
}

func TestCreateRepo(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/user/repos", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "my-folder", payload["name"])
		assert.Equal(t, true, payload["private"])
		assert.Equal(t, true, payload["auto_init"])

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"clone_url": "https://github.com/octocat/my-folder.git"})
	})

	url, err := c.CreateRepo(context.Background(), "my-folder")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/octocat/my-folder.git", url)
}

func TestCreateRepo_AlreadyExists(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := c.CreateRepo(context.Background(), "my-folder")
	assert.ErrorIs(t, err, ErrRepoExists)
}

func TestCreateRepo_ServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.CreateRepo(context.Background(), "my-folder")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRepoExists)
}

func TestFindRepo(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/my-folder", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"clone_url": "https://github.com/octocat/my-folder.git"})
	})

	url, err := c.FindRepo(context.Background(), "octocat", "my-folder")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/octocat/my-folder.git", url)
}

func TestFindRepo_NotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.FindRepo(context.Background(), "octocat", "missing")
	assert.ErrorIs(t, err, ErrRepoNotFound)
}
