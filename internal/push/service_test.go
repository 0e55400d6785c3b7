package push

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	args := m.Called(ctx, msg)
	resp, _ := args.Get(0).(*messaging.BatchResponse)
	return resp, args.Error(1)
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) RegisterToken(ctx context.Context, userID uint, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func (m *mockStore) RemoveToken(ctx context.Context, userID uint, token string) error {
	return m.Called(ctx, userID, token).Error(0)
}

func (m *mockStore) RemoveTokens(ctx context.Context, userID uint, tokens []string) (int64, error) {
	args := m.Called(ctx, userID, tokens)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) GetTokensByUserID(ctx context.Context, userID uint) ([]string, error) {
	args := m.Called(ctx, userID)
	tokens, _ := args.Get(0).([]string)
	return tokens, args.Error(1)
}

type staticPresence map[uint]bool

func (p staticPresence) IsOnline(_ context.Context, userID uint) bool { return p[userID] }

var errUnregistered = errors.New("requested entity was not found")

func newTestService(store TokenStore, gw Gateway, presence PresenceChecker, opts Options) *Service {
	s := NewService(store, gw, presence, opts, zerolog.Nop())
	s.isUnregistered = func(err error) bool { return errors.Is(err, errUnregistered) }
	return s
}

func allOK(n int) *messaging.BatchResponse {
	resp := &messaging.BatchResponse{SuccessCount: n}
	for i := 0; i < n; i++ {
		resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: fmt.Sprintf("m%d", i)})
	}
	return resp
}

func TestRegisterToken(t *testing.T) {
	store := new(mockStore)
	s := newTestService(store, nil, nil, Options{})
	ctx := context.Background()

	store.On("RegisterToken", ctx, uint(1), "device-token-a").Return(nil).Twice()

	require.NoError(t, s.RegisterToken(ctx, 1, "  device-token-a "))
	require.NoError(t, s.RegisterToken(ctx, 1, "device-token-a"))
	assert.ErrorIs(t, s.RegisterToken(ctx, 1, "   "), ErrInvalidToken)
	store.AssertExpectations(t)
}

func TestRemoveToken_WrapsStoreError(t *testing.T) {
	store := new(mockStore)
	s := newTestService(store, nil, nil, Options{})
	ctx := context.Background()
	boom := errors.New("mongo unavailable")

	store.On("RemoveToken", ctx, uint(2), "device-token-b").Return(boom)

	err := s.RemoveToken(ctx, 2, "device-token-b")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSendPush_NoTokensMakesNoGatewayCall(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{})
	ctx := context.Background()

	store.On("GetTokensByUserID", ctx, uint(5)).Return([]string{}, nil)

	s.SendPush(ctx, 5, "New like", "bob liked your pin")
	gw.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
}

func TestSendPush_MulticastsTitleAndBody(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{})
	ctx := context.Background()

	tokens := []string{"tok-1", "tok-2"}
	store.On("GetTokensByUserID", ctx, uint(5)).Return(tokens, nil)
	gw.On("SendEachForMulticast", ctx, mock.MatchedBy(func(m *messaging.MulticastMessage) bool {
		return assert.ObjectsAreEqual(tokens, m.Tokens) &&
			m.Notification.Title == "New comment" &&
			m.Notification.Body == "bob commented: nice"
	})).Return(allOK(2), nil).Once()

	s.SendPush(ctx, 5, "New comment", "bob commented: nice")
	gw.AssertExpectations(t)
}

func TestSendPush_ChunksLargeTokenSets(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{})
	ctx := context.Background()

	tokens := make([]string, 1201)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}
	store.On("GetTokensByUserID", ctx, uint(9)).Return(tokens, nil)

	var sizes []int
	gw.On("SendEachForMulticast", ctx, mock.Anything).Run(func(args mock.Arguments) {
		sizes = append(sizes, len(args.Get(1).(*messaging.MulticastMessage).Tokens))
	}).Return(allOK(0), nil)

	s.SendPush(ctx, 9, "t", "b")
	assert.Equal(t, []int{500, 500, 201}, sizes)
}

func TestSendPush_GatewayErrorIsSwallowed(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{PruneInvalidTokens: true})
	ctx := context.Background()

	store.On("GetTokensByUserID", ctx, uint(3)).Return([]string{"tok"}, nil)
	gw.On("SendEachForMulticast", ctx, mock.Anything).Return(nil, errors.New("503"))

	assert.NotPanics(t, func() { s.SendPush(ctx, 3, "t", "b") })
	store.AssertNotCalled(t, "RemoveTokens", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendPush_TokenLoadErrorIsSwallowed(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{})
	ctx := context.Background()

	store.On("GetTokensByUserID", ctx, uint(3)).Return(nil, errors.New("timeout"))

	s.SendPush(ctx, 3, "t", "b")
	gw.AssertNotCalled(t, "SendEachForMulticast", mock.Anything, mock.Anything)
}

func partialFailure() *messaging.BatchResponse {
	return &messaging.BatchResponse{
		SuccessCount: 1,
		FailureCount: 2,
		Responses: []*messaging.SendResponse{
			{Success: true, MessageID: "m0"},
			{Success: false, Error: fmt.Errorf("send: %w", errUnregistered)},
			{Success: false, Error: errors.New("internal error")},
		},
	}
}

func TestSendPush_PrunesUnregisteredTokensWhenEnabled(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{PruneInvalidTokens: true})
	ctx := context.Background()

	store.On("GetTokensByUserID", ctx, uint(4)).Return([]string{"good", "stale", "flaky"}, nil)
	gw.On("SendEachForMulticast", ctx, mock.Anything).Return(partialFailure(), nil)
	store.On("RemoveTokens", ctx, uint(4), []string{"stale"}).Return(int64(1), nil).Once()

	s.SendPush(ctx, 4, "t", "b")
	store.AssertExpectations(t)
}

func TestSendPush_KeepsTokensWhenPruningDisabled(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{})
	ctx := context.Background()

	store.On("GetTokensByUserID", ctx, uint(4)).Return([]string{"good", "stale", "flaky"}, nil)
	gw.On("SendEachForMulticast", ctx, mock.Anything).Return(partialFailure(), nil)

	s.SendPush(ctx, 4, "t", "b")
	store.AssertNotCalled(t, "RemoveTokens", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendPush_SkipsOnlineUsers(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, staticPresence{6: true}, Options{SkipOnline: true})
	ctx := context.Background()

	s.SendPush(ctx, 6, "t", "b")
	store.AssertNotCalled(t, "GetTokensByUserID", mock.Anything, mock.Anything)

	store.On("GetTokensByUserID", ctx, uint(7)).Return([]string{"tok"}, nil)
	gw.On("SendEachForMulticast", ctx, mock.Anything).Return(allOK(1), nil).Once()
	s.SendPush(ctx, 7, "t", "b")
	gw.AssertExpectations(t)
}

func TestSendPush_NilGatewayIsNoop(t *testing.T) {
	store := new(mockStore)
	s := newTestService(store, nil, nil, Options{})

	s.SendPush(context.Background(), 1, "t", "b")
	store.AssertNotCalled(t, "GetTokensByUserID", mock.Anything, mock.Anything)
}

func TestSendPushAsync_WaitDrains(t *testing.T) {
	store := new(mockStore)
	gw := new(mockGateway)
	s := newTestService(store, gw, nil, Options{Timeout: time.Second})

	store.On("GetTokensByUserID", mock.Anything, uint(8)).Return([]string{"tok"}, nil)
	gw.On("SendEachForMulticast", mock.Anything, mock.Anything).
		After(20*time.Millisecond).
		Return(allOK(1), nil).Times(3)

	for i := 0; i < 3; i++ {
		s.SendPushAsync(8, "t", "b")
	}
	s.Wait()
	gw.AssertNumberOfCalls(t, "SendEachForMulticast", 3)
}
