package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/callring/internal/core"
	"github.com/dkeye/callring/internal/domain"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, m)
	return "projects/x/messages/1", f.err
}

func TestFCMDataOnlyForIncomingCall(t *testing.T) {
	s := &fakeSender{}
	n := &FCM{client: s}

	err := n.Notify(context.Background(), core.PushNotification{
		Token: "tok",
		Data:  map[string]string{"data": `{"type":"incoming-call"}`},
	})
	require.NoError(t, err)
	require.Len(t, s.msgs, 1)

	m := s.msgs[0]
	assert.Equal(t, "tok", m.Token)
	assert.Nil(t, m.Notification)
	assert.Equal(t, "high", m.Android.Priority)
	assert.True(t, m.APNS.Payload.Aps.ContentAvailable)
	assert.Equal(t, `{"type":"incoming-call"}`, m.Data["data"])
}

func TestFCMAlertBecomesNotification(t *testing.T) {
	s := &fakeSender{}
	n := &FCM{client: s}

	err := n.Notify(context.Background(), core.PushNotification{
		Token: "tok",
		Data:  map[string]string{"data": "{}"},
		Alert: &core.Alert{Title: "Missed call", Body: "from 1"},
	})
	require.NoError(t, err)
	require.NotNil(t, s.msgs[0].Notification)
	assert.Equal(t, "Missed call", s.msgs[0].Notification.Title)
}

func TestFCMErrors(t *testing.T) {
	s := &fakeSender{err: errors.New("unregistered")}
	n := &FCM{client: s}

	require.ErrorIs(t, n.Notify(context.Background(), core.PushNotification{}), ErrNoToken)
	assert.Empty(t, s.msgs)

	err := n.Notify(context.Background(), core.PushNotification{Token: "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered")
}

type blockingNotifier struct {
	mu      sync.Mutex
	got     []domain.PushToken
	started chan struct{}
	release chan struct{}
	hadDL   bool
}

func newBlocking() *blockingNotifier {
	return &blockingNotifier{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingNotifier) Notify(ctx context.Context, n core.PushNotification) error {
	b.started <- struct{}{}
	<-b.release
	_, ok := ctx.Deadline()
	b.mu.Lock()
	b.got = append(b.got, n.Token)
	b.hadDL = ok
	b.mu.Unlock()
	return errors.New("ignored")
}

func (b *blockingNotifier) tokens() []domain.PushToken {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.PushToken(nil), b.got...)
}

func TestAsyncQueuesAndDrains(t *testing.T) {
	next := newBlocking()
	a := NewAsync(next, 2, 8, time.Second)

	for _, tok := range []domain.PushToken{"a", "b", "c"} {
		require.NoError(t, a.Notify(context.Background(), core.PushNotification{Token: tok}))
	}
	close(next.release)
	a.Close()

	assert.ElementsMatch(t, []domain.PushToken{"a", "b", "c"}, next.tokens())
	next.mu.Lock()
	assert.True(t, next.hadDL)
	next.mu.Unlock()

	require.ErrorIs(t, a.Notify(context.Background(), core.PushNotification{Token: "d"}), ErrClosed)
	a.Close()
}

func TestAsyncNotifyDoesNotBlockWhenSaturated(t *testing.T) {
	next := newBlocking()
	a := NewAsync(next, 1, 1, time.Second)

	require.NoError(t, a.Notify(context.Background(), core.PushNotification{Token: "a"}))
	select {
	case <-next.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first push")
	}

	// the only worker is stuck; one more fits in the queue, the next is dropped
	done := make(chan []error, 1)
	go func() {
		done <- []error{
			a.Notify(context.Background(), core.PushNotification{Token: "b"}),
			a.Notify(context.Background(), core.PushNotification{Token: "c"}),
		}
	}()
	select {
	case errs := <-done:
		require.NoError(t, errs[0])
		require.ErrorIs(t, errs[1], ErrQueueFull)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Notify blocked on a saturated pool")
	}

	close(next.release)
	a.Close()
	assert.ElementsMatch(t, []domain.PushToken{"a", "b"}, next.tokens())
}

func TestLogNotifierNeverFails(t *testing.T) {
	err := LogNotifier{}.Notify(context.Background(), core.PushNotification{
		Token: "tok",
		Alert: &core.Alert{Title: "t"},
	})
	require.NoError(t, err)
}
