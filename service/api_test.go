package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AnTengye/docchain/apitest"
	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *APIClient {
	return NewAPIClient(&config.APIConfig{BaseURL: baseURL + "/", Timeout: 5 * time.Second})
}

// mutableToken mimics storage that changes between calls.
type mutableToken struct{ value string }

func (m *mutableToken) Token() string { return m.value }

func TestNewAPIClient(t *testing.T) {
	client := newTestClient("http://api.test")
	assert.Equal(t, "http://api.test", client.BaseURL())
	assert.Equal(t, 5*time.Second, client.httpClient.Timeout)
}

func TestAPIClientLogin(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("alice@x.com", "secret", apitest.RoleAdmin)
	client := newTestClient(api.URL)
	ctx := context.Background()

	t.Run("valid credentials", func(t *testing.T) {
		result, err := client.Login(ctx, "alice@x.com", "secret")
		require.NoError(t, err)
		assert.NotEmpty(t, result.AccessToken)
		assert.Equal(t, "alice@x.com", result.User.Email)
		assert.Equal(t, model.RolePrivileged, result.User.Role)

		calls := api.Calls("POST /auth/login")
		assert.Empty(t, calls[len(calls)-1].Authorization, "login must not send a bearer")
	})

	t.Run("invalid credentials", func(t *testing.T) {
		_, err := client.Login(ctx, "alice@x.com", "wrong")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAuthentication))

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
		assert.Equal(t, "Invalid credentials", apiErr.Message)
	})

	t.Run("rejected payload", func(t *testing.T) {
		api.Fail(http.MethodPost, "/auth/login", http.StatusBadRequest)
		_, err := client.Login(ctx, "alice@x.com", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestAPIClientLoginThenMe(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	ctx := context.Background()

	result, err := newTestClient(api.URL).Login(ctx, "bob@x.com", "pw")
	require.NoError(t, err)

	me, err := newTestClient(api.URL).WithTokens(StaticToken(result.AccessToken)).Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, me.ID)
	assert.Equal(t, result.User.Email, me.Email)
	assert.Equal(t, result.User.Role, me.Role)
}

func TestAPIClientReadsTokenPerRequest(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("first", "bob@x.com")
	api.RegisterToken("second", "bob@x.com")

	tokens := &mutableToken{value: "first"}
	client := newTestClient(api.URL).WithTokens(tokens)
	ctx := context.Background()

	_, err := client.GetDocuments(ctx)
	require.NoError(t, err)
	tokens.value = "second"
	_, err = client.GetDocuments(ctx)
	require.NoError(t, err)

	calls := api.Calls("GET /documents")
	require.Len(t, calls, 2)
	assert.Equal(t, "Bearer first", calls[0].Authorization)
	assert.Equal(t, "Bearer second", calls[1].Authorization)
}

func TestAPIClientWithTokensDoesNotMutateParent(t *testing.T) {
	parent := newTestClient("http://api.test")
	child := parent.WithTokens(StaticToken("abc"))

	assert.Equal(t, "", parent.tokens.Token())
	assert.Equal(t, "abc", child.tokens.Token())
	assert.Same(t, parent.httpClient, child.httpClient)
}

func TestAPIClientCreateThenList(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "bob@x.com")
	client := newTestClient(api.URL).WithTokens(StaticToken("t"))
	ctx := context.Background()

	created, err := client.CreateDocument(ctx, model.CreateDocumentRequest{Title: "Q1 Report", Content: "numbers"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusPending, created.Status)

	docs, err := client.GetDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, created.ID, docs[0].ID)
	assert.Equal(t, "Q1 Report", docs[0].Title)
	assert.Equal(t, "numbers", docs[0].Content)
}

func TestAPIClientPreservesServerOrder(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "bob@x.com")
	ids := []string{
		api.AddDocument("bob@x.com", "zeta", "c", "pending"),
		api.AddDocument("bob@x.com", "alpha", "c", "approved"),
		api.AddDocument("bob@x.com", "mid", "c", "rejected"),
	}

	docs, err := newTestClient(api.URL).WithTokens(StaticToken("t")).GetDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, doc := range docs {
		assert.Equal(t, ids[i], doc.ID)
	}
}

func TestAPIClientGetDocumentIsStable(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "bob@x.com")
	id := api.AddDocument("bob@x.com", "Q1 Report", "numbers", "pending")
	client := newTestClient(api.URL).WithTokens(StaticToken("t"))
	ctx := context.Background()

	first, err := client.GetDocument(ctx, id)
	require.NoError(t, err)
	second, err := client.GetDocument(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAPIClientErrors(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "bob@x.com")
	id := api.AddDocument("bob@x.com", "Q1", "c", "pending")
	ctx := context.Background()
	client := newTestClient(api.URL).WithTokens(StaticToken("t"))

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{
			name: "missing document",
			call: func() error { _, err := client.GetDocument(ctx, "nonexistent"); return err },
			want: ErrNotFound,
		},
		{
			name: "missing document history",
			call: func() error { _, err := client.GetDocumentHistory(ctx, "nonexistent"); return err },
			want: ErrNotFound,
		},
		{
			name: "approve without privilege",
			call: func() error { _, err := client.ApproveDocument(ctx, id); return err },
			want: ErrAuthorization,
		},
		{
			name: "reject without privilege",
			call: func() error { _, err := client.RejectDocument(ctx, id); return err },
			want: ErrAuthorization,
		},
		{
			name: "unknown token",
			call: func() error {
				_, err := newTestClient(api.URL).WithTokens(StaticToken("bogus")).GetDocuments(ctx)
				return err
			},
			want: ErrAuthentication,
		},
		{
			name: "no token",
			call: func() error { _, err := newTestClient(api.URL).Me(ctx); return err },
			want: ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, "pending", api.Status(id))
}

func TestAPIClientServerErrorIsNetworkError(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "bob@x.com")
	api.Fail(http.MethodGet, "/documents", http.StatusBadGateway)

	_, err := newTestClient(api.URL).WithTokens(StaticToken("t")).GetDocuments(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Contains(t, err.Error(), "502")
}

func TestAPIClientTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := newTestClient(baseURL).GetDocuments(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestAPIClientMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetDocuments(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestAPIClientApproveWithoutBody(t *testing.T) {
	var gotPath, gotMethod string
	var gotLength int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod, gotLength = r.URL.Path, r.Method, r.ContentLength
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	doc, err := newTestClient(server.URL).ApproveDocument(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/documents/a/b/approve", gotPath)
	assert.Zero(t, gotLength)
}

func TestAPIClientEscapesDocumentID(t *testing.T) {
	var rawPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
		json.NewEncoder(w).Encode(map[string]any{"status": 200, "data": map[string]any{"id": "x", "status": "pending"}})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetDocument(context.Background(), "a/b")
	require.NoError(t, err)
	assert.Equal(t, "/documents/a%2Fb", rawPath)
}

func TestAPIClientApproveAppendsHistory(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("alice@x.com", "pw", apitest.RoleAdmin)
	api.RegisterToken("t", "alice@x.com")
	id := api.AddDocument("alice@x.com", "Q1 Report", "numbers", "pending")
	client := newTestClient(api.URL).WithTokens(StaticToken("t"))
	ctx := context.Background()

	before, err := client.GetDocumentHistory(ctx, id)
	require.NoError(t, err)

	updated, err := client.ApproveDocument(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, model.StatusApproved, updated.Status)

	after, err := client.GetDocumentHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	last := after[len(after)-1]
	assert.Equal(t, model.ActionApprove, last.Action)
	assert.Equal(t, "alice@x.com", last.Actor.Email)
	assert.NotEmpty(t, last.BlockchainTx)
	assert.False(t, last.Timestamp.Before(after[0].Timestamp))
}

func TestAPIClientUserHistory(t *testing.T) {
	api := apitest.NewServer(t)
	api.AddUser("alice@x.com", "pw", apitest.RoleAdmin)
	api.AddUser("bob@x.com", "pw", apitest.RoleUser)
	api.RegisterToken("t", "alice@x.com")
	api.AddDocument("alice@x.com", "mine", "c", "pending")
	api.AddDocument("bob@x.com", "theirs", "c", "pending")

	entries, err := newTestClient(api.URL).WithTokens(StaticToken("t")).GetUserHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionCreate, entries[0].Action)
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Op: "get document", StatusCode: 404, Message: "Document not found", Err: ErrNotFound}
	assert.Equal(t, "get document: 404 Document not found", err.Error())

	err = &APIError{Op: "list documents", Err: ErrNetwork}
	assert.Equal(t, "list documents: api request failed", err.Error())
}

func TestAPIClientMeWithoutUser(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"data":null}`))
	}))
	t.Cleanup(upstream.Close)

	user, err := newTestClient(upstream.URL).WithTokens(StaticToken("opaque")).Me(context.Background())

	assert.Nil(t, user)
	assert.ErrorIs(t, err, ErrNetwork)
}
