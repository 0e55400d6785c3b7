package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/anonto42/nano-midea/notifications/validators"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testUserHeader = "X-Test-User"

// newTestEcho returns an echo instance and a /api/v1 group whose caller is taken from testUserHeader.
func newTestEcho() (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.Validator = validators.NewValidator()
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id, err := strconv.ParseUint(c.Request().Header.Get(testUserHeader), 10, 32); err == nil {
				c.Set("user", &models.JwtCustomClaims{UserID: uint(id)})
			}
			return next(c)
		}
	})
	return e, g
}

func doRequest(e *echo.Echo, method, path, body string, userID uint) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if userID != 0 {
		req.Header.Set(testUserHeader, strconv.FormatUint(uint64(userID), 10))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Pin{}, &models.Post{}, &models.Like{},
		&models.Comment{}, &models.Follow{}, &models.Notification{},
	))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com"}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedPin(t *testing.T, db *gorm.DB, ownerID uint) *models.Pin {
	t.Helper()
	p := &models.Pin{OwnerID: ownerID, Title: "sunset", ImageURL: "https://img.example.com/1.jpg"}
	require.NoError(t, db.Create(p).Error)
	return p
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event models.NotificationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) published() []models.NotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.NotificationEvent(nil), p.events...)
}

type mockNotifications struct {
	mock.Mock
}

func (m *mockNotifications) ListForUser(ctx context.Context, recipientID uint, page, size int) ([]models.NotificationView, int64, error) {
	args := m.Called(ctx, recipientID, page, size)
	views, _ := args.Get(0).([]models.NotificationView)
	return views, args.Get(1).(int64), args.Error(2)
}

func (m *mockNotifications) ListAllForUser(ctx context.Context, recipientID uint) ([]models.NotificationView, error) {
	args := m.Called(ctx, recipientID)
	views, _ := args.Get(0).([]models.NotificationView)
	return views, args.Error(1)
}

func (m *mockNotifications) ListGrouped(ctx context.Context, recipientID uint) (*models.GroupedNotifications, error) {
	args := m.Called(ctx, recipientID)
	grouped, _ := args.Get(0).(*models.GroupedNotifications)
	return grouped, args.Error(1)
}

func (m *mockNotifications) UnreadCount(ctx context.Context, recipientID uint) (int64, error) {
	args := m.Called(ctx, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifications) MarkRead(ctx context.Context, notificationID, requestingUserID uint) error {
	return m.Called(ctx, notificationID, requestingUserID).Error(0)
}

func (m *mockNotifications) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	args := m.Called(ctx, recipientID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifications) DeleteByPin(ctx context.Context, pinID uint) (int64, error) {
	args := m.Called(ctx, pinID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifications) DeleteByPost(ctx context.Context, postID uint) (int64, error) {
	args := m.Called(ctx, postID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockNotifications) DeleteByUser(ctx context.Context, userID uint, role repositories.NotificationRole) (int64, error) {
	args := m.Called(ctx, userID, role)
	return args.Get(0).(int64), args.Error(1)
}
