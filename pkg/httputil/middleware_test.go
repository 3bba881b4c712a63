package httputil

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/appmgt/pkg/contextkeys"
)

func TestChain_TagsRequestContext(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	var (
		opID      string
		principal contextkeys.Principal
		hasUser   bool
	)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opID = contextkeys.GetOperationID(r.Context())
		principal, hasUser = contextkeys.GetPrincipal(r.Context())
		w.WriteHeader(http.StatusTeapot)
	})
	h := Chain(RecoveryMiddleware(log), RequestIDMiddleware, PrincipalMiddleware, LoggingMiddleware(log))(inner)

	req := httptest.NewRequest(http.MethodGet, "/applications", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	req.Header.Set(HeaderUser, "primary/alice")
	req.Header.Set(HeaderTenantDomain, "acme.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-42", opID)
	require.True(t, hasUser)
	assert.Equal(t, contextkeys.Principal{Username: "alice", UserStoreDomain: "PRIMARY", TenantDomain: "acme.com"}, principal)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "req-42", entry.Data["op_id"])
	assert.Equal(t, http.StatusTeapot, entry.Data["status"])
}

func TestRequestIDMiddleware_Generates(t *testing.T) {
	var opID string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		opID = contextkeys.GetOperationID(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, opID)
	assert.Equal(t, opID, w.Header().Get(HeaderRequestID))
}

func TestPrincipalMiddleware_Anonymous(t *testing.T) {
	h := PrincipalMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := contextkeys.GetPrincipal(r.Context())
		assert.False(t, ok)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRecoveryMiddleware(t *testing.T) {
	log, hook := test.NewNullLogger()
	h := RecoveryMiddleware(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestMaxBytesMiddleware(t *testing.T) {
	h := MaxBytesMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		assert.Error(t, err)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("too long")))
}

func TestParseJSONOrError(t *testing.T) {
	var dest struct{ Name string }
	w := httptest.NewRecorder()
	ok := ParseJSONOrError(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"Name":"portal"}`)), &dest)
	assert.True(t, ok)
	assert.Equal(t, "portal", dest.Name)

	w = httptest.NewRecorder()
	ok = ParseJSONOrError(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"Bogus":1}`)), &dest)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=5&bad=x", nil)
	v, err := ParseQueryInt(r, "limit", 10)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	v, err = ParseQueryInt(r, "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = ParseQueryInt(r, "bad", 10)
	assert.Error(t, err)
}
