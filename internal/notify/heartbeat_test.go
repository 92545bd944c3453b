package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/repository"
)

type memStudies struct {
	running []*domain.Study
}

var _ repository.StudiesRepository = (*memStudies)(nil)

func (m *memStudies) GetStudy(_ context.Context, id int64) (*domain.Study, error) {
	for _, s := range m.running {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memStudies) GetStudyByObjectID(_ context.Context, objectID string) (*domain.Study, error) {
	for _, s := range m.running {
		if s.ObjectID == objectID {
			return s, nil
		}
	}
	return nil, nil
}

func (m *memStudies) ListRunningStudies(context.Context) ([]*domain.Study, error) {
	return m.running, nil
}

type heartbeatFixture struct {
	studies      *memStudies
	participants *memParticipants
	pusher       *fakePusher
	heartbeat    *Heartbeat
	now          time.Time
}

func newHeartbeatFixture(t *testing.T, timerMinutes int) *heartbeatFixture {
	t.Helper()
	f := &heartbeatFixture{
		studies: &memStudies{running: []*domain.Study{{
			ID: 1, ObjectID: "5873fe38644ad7557b168e43",
			HeartbeatMessage:      "Please open the app.",
			HeartbeatTimerMinutes: timerMinutes,
		}}},
		participants: newMemParticipants(),
		pusher:       &fakePusher{ready: true},
		now:          time.Date(2023, 11, 15, 12, 0, 0, 0, time.UTC),
	}
	f.heartbeat = NewHeartbeat(f.studies, f.participants, f.pusher, zap.NewNop())
	f.heartbeat.now = func() time.Time { return f.now }
	return f
}

func (f *heartbeatFixture) addParticipant(id int64, token string, lastUpload time.Time) *domain.Participant {
	p := &domain.Participant{
		ID: id, StudyID: 1, PatientID: "q41aozrx", OSType: domain.AndroidAPI,
	}
	if !lastUpload.IsZero() {
		p.LastUpload = &lastUpload
	}
	f.participants.byID[id] = p
	if token != "" {
		f.participants.tokens[id] = token
	}
	return p
}

func TestHeartbeatSendsAfterSilentPeriod(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	f.addParticipant(7, "token-7", f.now.Add(-65*time.Minute))

	require.NoError(t, f.heartbeat.Run(context.Background()))

	require.Len(t, f.pusher.sent, 1)
	push := f.pusher.sent[0]
	assert.Equal(t, "token-7", push.token)
	assert.Equal(t, "heartbeat", push.msg.Data["type"])
	assert.Equal(t, "Please open the app.", push.msg.Body)
	assert.Equal(t, repository.LivenessHeartbeatNotification, f.participants.stamped[7])
}

func TestHeartbeatSkipsRecentlyActiveParticipant(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	f.addParticipant(7, "token-7", f.now.Add(-30*time.Minute))

	require.NoError(t, f.heartbeat.Run(context.Background()))
	assert.Empty(t, f.pusher.sent)
}

func TestHeartbeatSkipsLongInactiveParticipant(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	f.addParticipant(7, "token-7", f.now.Add(-8*24*time.Hour))
	f.addParticipant(8, "token-8", time.Time{}) // never checked in

	require.NoError(t, f.heartbeat.Run(context.Background()))
	assert.Empty(t, f.pusher.sent)
}

func TestHeartbeatHonorsLastNotification(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	p := f.addParticipant(7, "token-7", f.now.Add(-2*time.Hour))
	notified := f.now.Add(-10 * time.Minute)
	p.LastHeartbeatNotification = &notified

	require.NoError(t, f.heartbeat.Run(context.Background()))
	assert.Empty(t, f.pusher.sent)
}

func TestHeartbeatSkipsUnpushableAndTokenless(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	retired := f.addParticipant(7, "token-7", f.now.Add(-2*time.Hour))
	retired.PermanentlyRetired = true
	f.addParticipant(8, "", f.now.Add(-2*time.Hour))

	require.NoError(t, f.heartbeat.Run(context.Background()))
	assert.Empty(t, f.pusher.sent)
}

func TestHeartbeatDisabledByZeroTimer(t *testing.T) {
	f := newHeartbeatFixture(t, 0)
	f.addParticipant(7, "token-7", f.now.Add(-2*time.Hour))

	require.NoError(t, f.heartbeat.Run(context.Background()))
	assert.Empty(t, f.pusher.sent)
}

func TestHeartbeatFallsBackToDefaultMessage(t *testing.T) {
	f := newHeartbeatFixture(t, 60)
	f.studies.running[0].HeartbeatMessage = ""
	f.addParticipant(7, "token-7", f.now.Add(-65*time.Minute))

	require.NoError(t, f.heartbeat.Run(context.Background()))
	require.Len(t, f.pusher.sent, 1)
	assert.Equal(t, defaultHeartbeat, f.pusher.sent[0].msg.Body)
}
