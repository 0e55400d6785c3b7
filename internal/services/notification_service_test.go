package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/notifications/internal/models"
	"github.com/anonto42/nano-midea/notifications/internal/repositories"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingLive struct {
	mu     sync.Mutex
	pushes map[uint][]models.NotificationView
}

func (l *recordingLive) Push(userID uint, view models.NotificationView) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pushes == nil {
		l.pushes = make(map[uint][]models.NotificationView)
	}
	l.pushes[userID] = append(l.pushes[userID], view)
}

func (l *recordingLive) For(userID uint) []models.NotificationView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pushes[userID]
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []string
}

func (p *recordingPusher) SendPushAsync(userID uint, title, body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf("%d|%s|%s", userID, title, body))
}

type serviceFixture struct {
	svc    *NotificationService
	live   *recordingLive
	pusher *recordingPusher
	users  *repositories.PostgresUserRepository
	pins   *repositories.PostgresPinRepository
}

func setupService(t *testing.T) *serviceFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Pin{}, &models.Notification{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	fx := &serviceFixture{
		live:   &recordingLive{},
		pusher: &recordingPusher{},
		users:  repositories.NewPostgresUserRepository(db),
		pins:   repositories.NewPostgresPinRepository(db),
	}
	fx.svc = NewNotificationService(
		repositories.NewPostgresNotificationRepository(db),
		fx.users,
		fx.pins,
		fx.live,
		fx.pusher,
		zerolog.Nop(),
	)
	return fx
}

func (fx *serviceFixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com"}
	require.NoError(t, fx.users.CreateUser(context.Background(), u))
	return u
}

func (fx *serviceFixture) pin(t *testing.T, owner *models.User) *models.Pin {
	t.Helper()
	p := &models.Pin{OwnerID: owner.ID, Title: "sunset", ImageURL: "https://img.example.com/" + owner.Username + ".jpg"}
	require.NoError(t, fx.pins.CreatePin(context.Background(), p))
	return p
}

func (fx *serviceFixture) like(t *testing.T, sender *models.User, pin *models.Pin) *models.Notification {
	t.Helper()
	n, err := fx.svc.Create(context.Background(), CreateInput{
		Kind:        models.KindLike,
		Sender:      sender,
		RecipientID: pin.OwnerID,
		Pin:         pin,
		Message:     sender.Username + " liked your pin",
	})
	require.NoError(t, err)
	return n
}

func TestCreate_PersistsThenPushesLive(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	p := fx.pin(t, y)

	n := fx.like(t, x, p)
	require.NotNil(t, n)
	assert.Equal(t, models.KindLike, n.Kind)
	assert.Equal(t, y.ID, n.RecipientID)
	require.NotNil(t, n.SenderID)
	assert.Equal(t, x.ID, *n.SenderID)
	require.NotNil(t, n.PinID)
	assert.Equal(t, p.ID, *n.PinID)
	assert.False(t, n.IsRead)
	assert.False(t, n.CreatedAt.IsZero())

	stored, err := fx.svc.ListAllForUser(ctx, y.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "xavier", stored[0].SenderUsername)
	assert.Equal(t, p.ImageURL, stored[0].PinImageURL)

	pushed := fx.live.For(y.ID)
	require.Len(t, pushed, 1)
	assert.Equal(t, n.ID, pushed[0].ID)
	require.NotNil(t, pushed[0].PinID)
	assert.Equal(t, p.ID, *pushed[0].PinID)
	assert.Equal(t, "xavier", pushed[0].SenderUsername)

	assert.Empty(t, fx.live.For(x.ID), "sender receives nothing")
	assert.Equal(t, []string{fmt.Sprintf("%d|New like|xavier liked your pin", y.ID)}, fx.pusher.calls)
}

func TestCreate_SuppressesSelfAction(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	p := fx.pin(t, x)

	n, err := fx.svc.Create(ctx, CreateInput{Kind: models.KindLike, Sender: x, RecipientID: x.ID, Pin: p, Message: "m"})
	require.NoError(t, err)
	assert.Nil(t, n)

	all, err := fx.svc.ListAllForUser(ctx, x.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, fx.live.For(x.ID))
	assert.Empty(t, fx.pusher.calls)
}

func TestCreate_RejectsInvalidInput(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	p := fx.pin(t, y)
	postID := uint(4)

	_, err := fx.svc.Create(ctx, CreateInput{Kind: "POKE", Sender: x, RecipientID: y.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = fx.svc.Create(ctx, CreateInput{Kind: models.KindLike, Sender: x, RecipientID: y.ID, Pin: p, PostID: &postID})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMarkRead_UnreadCountAndAccess(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	z := fx.user(t, "zoe")
	pinY := fx.pin(t, y)
	pinZ := fx.pin(t, z)

	first := fx.like(t, x, pinY)
	fx.like(t, z, pinY)
	zoes := fx.like(t, x, pinZ)

	before, err := fx.svc.UnreadCount(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), before)

	err = fx.svc.MarkRead(ctx, zoes.ID, y.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)
	unchanged, err := fx.svc.UnreadCount(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, before, unchanged)
	zoeCount, err := fx.svc.UnreadCount(ctx, z.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), zoeCount)

	require.NoError(t, fx.svc.MarkRead(ctx, first.ID, y.ID))
	after, err := fx.svc.UnreadCount(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, before-1, after)

	require.NoError(t, fx.svc.MarkRead(ctx, first.ID, y.ID), "already read stays read")
	again, err := fx.svc.UnreadCount(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, after, again)

	assert.ErrorIs(t, fx.svc.MarkRead(ctx, 424242, y.ID), ErrNotFound)
}

func TestMarkAllRead_Idempotent(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	p := fx.pin(t, y)
	fx.like(t, x, p)
	fx.like(t, x, p)

	changed, err := fx.svc.MarkAllRead(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), changed)
	firstState, err := fx.svc.ListAllForUser(ctx, y.ID)
	require.NoError(t, err)

	changed, err = fx.svc.MarkAllRead(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), changed)
	secondState, err := fx.svc.ListAllForUser(ctx, y.ID)
	require.NoError(t, err)

	assert.Equal(t, firstState, secondState)
	for _, v := range secondState {
		assert.True(t, v.IsRead)
	}
}

func TestDeleteByPin_CascadesFromListings(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	p := fx.pin(t, y)
	other := fx.pin(t, y)
	fx.like(t, x, p)
	fx.like(t, x, other)

	deleted, err := fx.svc.DeleteByPin(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	page, total, err := fx.svc.ListForUser(ctx, y.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	for _, v := range page {
		require.NotNil(t, v.PinID)
		assert.NotEqual(t, p.ID, *v.PinID)
	}

	deleted, err = fx.svc.DeleteByPin(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestDeleteByUser_RemovesBothSides(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	fx.like(t, x, fx.pin(t, y))
	fx.like(t, y, fx.pin(t, x))

	deleted, err := fx.svc.DeleteByUser(ctx, x.ID, repositories.RoleEither)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestListForUser_DefaultsAndEnrichment(t *testing.T) {
	fx := setupService(t)
	ctx := context.Background()
	x := fx.user(t, "xavier")
	y := fx.user(t, "yara")
	p := fx.pin(t, y)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	step := 0
	fx.svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	for i := 0; i < 3; i++ {
		fx.like(t, x, p)
	}

	views, total, err := fx.svc.ListForUser(ctx, y.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, views, 3)
	assert.True(t, views[0].CreatedAt.After(views[2].CreatedAt))
	for _, v := range views {
		assert.Equal(t, "xavier", v.SenderUsername)
		assert.Equal(t, p.ImageURL, v.PinImageURL)
	}

	grouped, err := fx.svc.ListGrouped(ctx, y.ID)
	require.NoError(t, err)
	assert.Len(t, grouped.Today, 3)
	assert.Empty(t, grouped.Older)
}
