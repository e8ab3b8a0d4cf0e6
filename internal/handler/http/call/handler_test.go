package call

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	callsvc "callrelay-backend/internal/service/call"
	apperrors "callrelay-backend/pkg/errors"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Initiate(ctx context.Context, in callsvc.InitiateInput) (*callsvc.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*callsvc.Result), args.Error(1)
}

func (m *MockService) Accept(ctx context.Context, callID, userID uuid.UUID, connID string) (*callsvc.Result, error) {
	args := m.Called(ctx, callID, userID, connID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*callsvc.Result), args.Error(1)
}

func (m *MockService) Reject(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*callsvc.Result), args.Error(1)
}

func (m *MockService) End(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*callsvc.Result), args.Error(1)
}

func (m *MockService) Status(ctx context.Context, callID, userID uuid.UUID) (*domain.CallWithParticipants, error) {
	args := m.Called(ctx, callID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CallWithParticipants), args.Error(1)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func setup(svc *MockService, userID uuid.UUID) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(svc)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if userID != uuid.Nil {
			c.Set("user_id", userID)
		}
	})
	r.POST("/v1/calls/initiate", h.InitiateCall)
	r.POST("/v1/calls/:id/accept", h.AcceptCall)
	r.POST("/v1/calls/:id/reject", h.RejectCall)
	r.POST("/v1/calls/:id/end", h.EndCall)
	r.GET("/v1/calls/:id", h.GetCallStatus)
	return r
}

func do(r *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func snapshot(callID uuid.UUID, status domain.CallStatus) *domain.CallWithParticipants {
	return &domain.CallWithParticipants{Call: &domain.Call{CallID: callID, Status: status}}
}

func TestInitiateCall(t *testing.T) {
	caller, callee, callID := uuid.New(), uuid.New(), uuid.New()
	svc := new(MockService)
	svc.On("Initiate", mock.Anything, callsvc.InitiateInput{
		CallerID: caller,
		Target:   callee,
		Type:     domain.CallTypeVideo,
	}).Return(&callsvc.Result{Call: snapshot(callID, domain.CallStatusRinging)}, nil)

	w, env := do(setup(svc, caller), http.MethodPost, "/v1/calls/initiate",
		`{"conversationOrCalleeId":"`+callee.String()+`","type":"video"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), callID.String())
	svc.AssertExpectations(t)
}

func TestInitiateCall_Validation(t *testing.T) {
	svc := new(MockService)
	r := setup(svc, uuid.New())

	for _, body := range []string{
		`{}`,
		`{"conversationOrCalleeId":"not-a-uuid","type":"video"}`,
		`{"conversationOrCalleeId":"` + uuid.NewString() + `","type":"fax"}`,
	} {
		w, env := do(r, http.MethodPost, "/v1/calls/initiate", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
		require.NotNil(t, env.Error)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	}
	svc.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything)
}

func TestCallActions(t *testing.T) {
	user, callID := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		path   string
		setup  func(svc *MockService)
		status int
		code   string
	}{
		{
			name: "accept",
			path: "/accept",
			setup: func(svc *MockService) {
				svc.On("Accept", mock.Anything, callID, user, "").
					Return(&callsvc.Result{Call: snapshot(callID, domain.CallStatusOngoing)}, nil)
			},
			status: http.StatusOK,
		},
		{
			name: "reject by caller",
			path: "/reject",
			setup: func(svc *MockService) {
				svc.On("Reject", mock.Anything, callID, user).Return(nil, apperrors.NotCalleeError())
			},
			status: http.StatusForbidden,
			code:   "NOT_CALLEE",
		},
		{
			name: "end unknown call",
			path: "/end",
			setup: func(svc *MockService) {
				svc.On("End", mock.Anything, callID, user).Return(nil, apperrors.CallNotFoundError())
			},
			status: http.StatusNotFound,
			code:   "CALL_NOT_FOUND",
		},
		{
			name: "end finished call",
			path: "/end",
			setup: func(svc *MockService) {
				svc.On("End", mock.Anything, callID, user).
					Return(&callsvc.Result{Call: snapshot(callID, domain.CallStatusEnded), Noop: true}, nil)
			},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setup(svc)

			w, env := do(setup(svc, user), http.MethodPost, "/v1/calls/"+callID.String()+tt.path, "")

			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				require.NotNil(t, env.Error)
				assert.Equal(t, tt.code, env.Error.Code)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestGetCallStatus(t *testing.T) {
	user, callID := uuid.New(), uuid.New()
	svc := new(MockService)
	svc.On("Status", mock.Anything, callID, user).Return(nil, apperrors.NotParticipantError())

	w, _ := do(setup(svc, user), http.MethodGet, "/v1/calls/"+callID.String(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(setup(svc, user), http.MethodGet, "/v1/calls/nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequiresAuthenticatedUser(t *testing.T) {
	w, _ := do(setup(new(MockService), uuid.Nil), http.MethodGet, "/v1/calls/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
