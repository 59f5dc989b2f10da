package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-pr-approvals/internal/logger"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	err      error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subj)
	f.bodies = append(f.bodies, data)
	return nil
}

func TestNotificationPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := NewNotificationPublisher(conn, "procurement.pr.", logger.Nop())

	p.PublishPurchaseRequestEvent(context.Background(), "pr_submitted", "PR-1", "HN", "E", []string{"M1"}, map[string]interface{}{"stage": "MANAGER"})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "procurement.pr.pr_submitted", conn.subjects[0])

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(conn.bodies[0], &event))
	assert.Equal(t, "pr_submitted", event.EventType)
	assert.Equal(t, "PR-1", event.ResourceID)
	assert.Equal(t, "purchase_request", event.ResourceType)
	assert.Equal(t, "HN", event.BranchCode)
	assert.Equal(t, []string{"M1"}, event.Recipients)
	assert.True(t, event.IsActionable)
	assert.Equal(t, "MANAGER", event.Payload["stage"])
}

func TestNotificationPublisher_DefaultPrefixAndNoRecipients(t *testing.T) {
	conn := &fakeConn{}
	p := NewNotificationPublisher(conn, "", logger.Nop())

	p.PublishPurchaseRequestEvent(context.Background(), "pr_cancelled", "PR-2", "HN", "E", nil, nil)

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, DefaultSubjectPrefix+".pr_cancelled", conn.subjects[0])

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(conn.bodies[0], &event))
	assert.Empty(t, event.Recipients)
	assert.False(t, event.IsActionable)
}

func TestNotificationPublisher_FailuresAreSwallowed(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewNotificationPublisher(conn, "x", logger.Nop())

	assert.NotPanics(t, func() {
		p.PublishPurchaseRequestEvent(context.Background(), "pr_approved", "PR-3", "HN", "M1", []string{"BM1"}, nil)
	})

	var nilConn *NotificationPublisher
	assert.NotPanics(t, func() {
		nilConn.PublishPurchaseRequestEvent(context.Background(), "pr_approved", "PR-3", "HN", "M1", nil, nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := &fakeConn{}
	NewNotificationPublisher(ok, "x", logger.Nop()).PublishPurchaseRequestEvent(ctx, "pr_approved", "PR-3", "HN", "M1", nil, nil)
	assert.Empty(t, ok.subjects)
}
