package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/dom/studybuddy/internal/domain"
	"github.com/dom/studybuddy/internal/service"
	"github.com/dom/studybuddy/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuddySessionHandler_Propose(t *testing.T) {
	tests := []struct {
		name           string
		body           func(buddy apiUser) map[string]interface{}
		existing       bool
		expectedStatus int
		expectedErr    *domain.Error
	}{
		{
			name: "creates pending session",
			body: func(buddy apiUser) map[string]interface{} {
				return map[string]interface{}{"buddyId": buddy.ID, "taskName": "biology", "durationSeconds": 1500}
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "zero duration",
			body: func(buddy apiUser) map[string]interface{} {
				return map[string]interface{}{"buddyId": buddy.ID, "taskName": "biology", "durationSeconds": 0}
			},
			expectedStatus: http.StatusBadRequest,
			expectedErr:    domain.ErrDurationInvalid,
		},
		{
			name: "already open",
			body: func(buddy apiUser) map[string]interface{} {
				return map[string]interface{}{"buddyId": buddy.ID, "taskName": "biology", "durationSeconds": 600}
			},
			existing:       true,
			expectedStatus: http.StatusConflict,
			expectedErr:    domain.ErrSessionAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := testutil.NewTestServer(t)
			a, b := authenticate(t, ts, "ada"), authenticate(t, ts, "ben")
			pairOverAPI(t, ts, a, b)
			if tt.existing {
				resp := testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions"), tt.body(b), a.token)
				require.Equal(t, http.StatusCreated, resp.StatusCode)
			}

			resp := testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions"), tt.body(b), a.token)
			if tt.expectedErr != nil {
				testutil.AssertErrorCode(t, resp, tt.expectedStatus, tt.expectedErr)
				return
			}

			testutil.AssertStatusCode(t, resp, tt.expectedStatus)
			var session domain.BuddyStudySession
			testutil.AssertJSONResponse(t, resp, &session)
			assert.Equal(t, domain.BuddySessionPending, session.Status)
		})
	}
}

func TestBuddySessionHandler_Lifecycle(t *testing.T) {
	ts := testutil.NewTestServer(t)
	a, b := authenticate(t, ts, "ada"), authenticate(t, ts, "ben")
	pairOverAPI(t, ts, a, b)

	resp := testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions"),
		map[string]interface{}{"buddyId": b.ID, "taskName": "chemistry", "durationSeconds": 1800}, a.token)
	var session domain.BuddyStudySession
	testutil.AssertJSONResponse(t, resp, &session)
	base := "/buddy-sessions/" + session.ID.String()

	resp = testutil.Do(t, http.MethodPost, ts.APIURL(base+"/accept"), nil, a.token)
	testutil.AssertErrorCode(t, resp, http.StatusForbidden, domain.ErrNotResponder)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL(base+"/accept"), nil, b.token)
	testutil.AssertJSONResponse(t, resp, &session)
	assert.Equal(t, domain.BuddySessionAccepted, session.Status)

	ts.Clock.Advance(20 * time.Minute)

	var view service.BuddySessionView
	resp = testutil.Do(t, http.MethodGet, ts.APIURL(base), nil, b.token)
	testutil.AssertJSONResponse(t, resp, &view)
	assert.Equal(t, int64(600), view.RemainingSeconds)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL(base+"/expire"), nil, a.token)
	testutil.AssertErrorCode(t, resp, http.StatusConflict, domain.ErrNotExpired)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL(base+"/end"), map[string]string{"status": "rejected"}, a.token)
	testutil.AssertErrorCode(t, resp, http.StatusBadRequest, domain.ErrInvalidStatus)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL(base+"/end"), map[string]string{"status": "completed"}, a.token)
	testutil.AssertJSONResponse(t, resp, &session)
	assert.Equal(t, domain.BuddySessionCompleted, session.Status)
	assert.Equal(t, int64(1200), session.CreditedSeconds)

	var stats domain.StudyStats
	resp = testutil.Do(t, http.MethodGet, ts.APIURL("/study/stats?userId="+b.ID.String()), nil, a.token)
	testutil.AssertJSONResponse(t, resp, &stats)
	assert.Equal(t, int64(1200), stats.TotalSecondsStudied)
	assert.Equal(t, int64(1200), stats.DailySeconds)

	var history []domain.BuddyStudySession
	resp = testutil.Do(t, http.MethodGet, ts.APIURL("/buddy-sessions/history"), nil, b.token)
	testutil.AssertJSONResponse(t, resp, &history)
	assert.Len(t, history, 1)
}

func TestBuddySessionHandler_CancelPending(t *testing.T) {
	ts := testutil.NewTestServer(t)
	a, b := authenticate(t, ts, "ada"), authenticate(t, ts, "ben")
	pairOverAPI(t, ts, a, b)

	resp := testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions/cancel-pending"), map[string]interface{}{"buddyId": a.ID}, b.token)
	testutil.AssertErrorCode(t, resp, http.StatusNotFound, domain.ErrSessionNotFound)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions"),
		map[string]interface{}{"buddyId": b.ID, "taskName": "reading", "durationSeconds": 600}, a.token)
	testutil.AssertStatusCode(t, resp, http.StatusCreated)

	var incoming []domain.BuddyStudySession
	resp = testutil.Do(t, http.MethodGet, ts.APIURL("/buddy-sessions/incoming"), nil, b.token)
	testutil.AssertJSONResponse(t, resp, &incoming)
	require.Len(t, incoming, 1)

	resp = testutil.Do(t, http.MethodPost, ts.APIURL("/buddy-sessions/cancel-pending"), map[string]interface{}{"buddyId": a.ID}, b.token)
	var session domain.BuddyStudySession
	testutil.AssertJSONResponse(t, resp, &session)
	assert.Equal(t, domain.BuddySessionCancelled, session.Status)

	var active struct {
		Active *service.BuddySessionView `json:"active"`
	}
	resp = testutil.Do(t, http.MethodGet, ts.APIURL("/buddy-sessions/active"), nil, a.token)
	testutil.AssertJSONResponse(t, resp, &active)
	assert.Nil(t, active.Active)
}
