package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/AnTengye/docchain/apitest"
	"github.com/AnTengye/docchain/config"
	"github.com/AnTengye/docchain/middleware"
	"github.com/AnTengye/docchain/service"
	"github.com/AnTengye/docchain/web"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testApp is the front-end wired against a fake API, driven by a single
// browser whose cookies persist across requests.
type testApp struct {
	api     *apitest.Server
	store   *service.SessionStore
	router  *gin.Engine
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	api := apitest.NewServer(t)
	client := service.NewAPIClient(&config.APIConfig{BaseURL: api.URL, Timeout: 5 * time.Second})
	cache := service.NewUserCache(&config.CacheConfig{MaxUsers: 10, TTL: time.Minute})
	store := service.NewSessionStore(&config.SessionConfig{
		Secret:      "0123456789abcdef0123456789abcdef",
		CookieName:  "dc_test",
		MaxAgeHours: 1,
	}, client, cache)

	tmpl, err := web.Templates()
	require.NoError(t, err)

	router := gin.New()
	router.SetHTMLTemplate(tmpl)

	authHandler := NewAuthHandler(store)
	documentHandler := NewDocumentHandler(store)

	screens := router.Group("/")
	screens.Use(middleware.Guard(store))
	{
		screens.GET("/login", authHandler.ShowLogin)
		screens.POST("/login", authHandler.Login)
		screens.POST("/logout", authHandler.Logout)
		screens.GET("/documents", documentHandler.List)
		screens.POST("/documents", documentHandler.Create)
		screens.GET("/documents/:id", documentHandler.Show)
		screens.POST("/documents/:id/approve", documentHandler.Approve)
		screens.POST("/documents/:id/reject", documentHandler.Reject)
		screens.GET("/activity", documentHandler.Activity)
	}

	return &testApp{
		api:     api,
		store:   store,
		router:  router,
		cookies: make(map[string]*http.Cookie),
	}
}

func (a *testApp) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	return a.doContext(context.Background(), method, path, form)
}

// doContext sends a request whose context belongs to the browser; cancelling
// it simulates the tab going away.
func (a *testApp) doContext(ctx context.Context, method, path string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(a.cookies, c.Name)
			continue
		}
		a.cookies[c.Name] = c
	}
	return w
}

func (a *testApp) get(path string) *httptest.ResponseRecorder {
	return a.do(http.MethodGet, path, nil)
}

func (a *testApp) post(path string, form url.Values) *httptest.ResponseRecorder {
	if form == nil {
		form = url.Values{}
	}
	return a.do(http.MethodPost, path, form)
}

func (a *testApp) login(t *testing.T, email, password string) {
	t.Helper()
	w := a.post("/login", url.Values{"email": {email}, "password": {password}})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
}
