package handlers_test

import (
	"net/http"
	"testing"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/stretchr/testify/require"
)

type apiUser struct {
	*domain.User
	token string
}

func authenticate(t *testing.T, ts *testutil.TestServer, name string) apiUser {
	t.Helper()
	user, token := testutil.NewUserBuilder().WithDisplayName(name).BuildAndAuthenticate(t, ts)
	return apiUser{User: user, token: token}
}

// pairOverAPI makes a and b buddies through the HTTP surface.
func pairOverAPI(t *testing.T, ts *testutil.TestServer, a, b apiUser) string {
	t.Helper()

	resp := testutil.Do(t, http.MethodPost, ts.APIURL("/buddy/invite"), map[string]string{"userId": b.ID.String()}, a.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	key := domain.PairKey(a.ID, b.ID)
	resp = testutil.Do(t, http.MethodPost, ts.APIURL("/buddy/pairs/"+key+"/accept"), nil, b.token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return key
}
