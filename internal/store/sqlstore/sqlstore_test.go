package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "nested", "telecall.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSessionRecord(ctx, "appt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec := domain.SessionRecord{AppointmentID: "appt-1", InitiatorID: "doc", ResponderID: "pat", Status: domain.AppointmentScheduled}
	require.NoError(t, s.PutSessionRecord(ctx, rec))
	rec.Status = domain.AppointmentCancelled
	require.NoError(t, s.PutSessionRecord(ctx, rec))

	got, err := s.GetSessionRecord(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestDocumentLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := domain.CallID("appt-1_1_aaaa")

	require.NoError(t, s.Create(ctx, domain.SignalingDoc{CallID: id, AppointmentID: "appt-1", InitiatorID: "doc"}))
	assert.ErrorIs(t, s.Create(ctx, domain.SignalingDoc{CallID: id}), store.ErrAlreadyExists)

	offer := domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}
	require.NoError(t, s.Update(ctx, id, domain.DocUpdate{Offer: &offer, Status: domain.StatusPtr(domain.CallStatusCalling)}))
	assert.ErrorIs(t, s.Update(ctx, id, domain.DocUpdate{Offer: &offer}), domain.ErrOfferAlreadySet)

	doc, err := s.Read(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doc.Offer)
	assert.Equal(t, offer, *doc.Offer)
	assert.Nil(t, doc.Answer)
	assert.Equal(t, domain.CallStatusCalling, doc.Status)

	latest, err := s.Latest(ctx, "appt-1")
	require.NoError(t, err)
	assert.Equal(t, id, latest.CallID)

	require.NoError(t, s.Update(ctx, id, domain.DocUpdate{Status: domain.StatusPtr(domain.CallStatusEnded)}))
	_, err = s.Latest(ctx, "appt-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Read(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscribeSeesAnswer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := domain.CallID("appt-2_1_bbbb")
	offer := domain.SessionDescription{Type: "offer", SDP: "o"}
	require.NoError(t, s.Create(ctx, domain.SignalingDoc{CallID: id, AppointmentID: "appt-2", Offer: &offer}))

	docs := make(chan domain.SignalingDoc, 8)
	unsub, err := s.Subscribe(ctx, id, func(d domain.SignalingDoc) { docs <- d })
	require.NoError(t, err)
	defer unsub()

	first := <-docs
	assert.Nil(t, first.Answer)

	answer := domain.SessionDescription{Type: "answer", SDP: "a"}
	require.NoError(t, s.Update(ctx, id, domain.DocUpdate{Answer: &answer}))

	require.Eventually(t, func() bool {
		select {
		case d := <-docs:
			return d.Answer != nil && d.Answer.SDP == "a"
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMailboxOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := domain.CallID("appt-3_1_cccc")

	for i, c := range []string{"c0", "c1", "c2"} {
		require.NoError(t, s.AppendCandidate(ctx, id, "doc", domain.Candidate{Candidate: c, SDPMid: "0", SDPMLineIndex: uint16(i)}))
	}
	require.NoError(t, s.AppendCandidate(ctx, id, "pat", domain.Candidate{Candidate: "other"}))

	list, err := s.Candidates(ctx, id, "doc")
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, c := range list {
		assert.Equal(t, uint16(i), c.SDPMLineIndex)
	}

	got := make(chan []domain.Candidate, 4)
	unsub, err := s.SubscribeCandidates(ctx, id, "pat", func(l []domain.Candidate) { got <- l })
	require.NoError(t, err)
	defer unsub()
	replay := <-got
	require.Len(t, replay, 1)
	assert.Equal(t, "other", replay[0].Candidate)
}

func TestSQLiteFilePath(t *testing.T) {
	cases := map[string]struct {
		path string
		ok   bool
	}{
		":memory:":               {"", false},
		"file::memory:?cache=1":  {"", false},
		"data/telecall.db":       {"data/telecall.db", true},
		"data/t.db?_pragma=fk":   {"data/t.db", true},
		"file:data/t.db?mode=rw": {"data/t.db", true},
	}
	for dsn, want := range cases {
		path, ok := sqliteFilePath(dsn)
		assert.Equal(t, want.ok, ok, dsn)
		assert.Equal(t, want.path, path, dsn)
	}
}

func TestUpdateLocksDocumentRow(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=telecall dbname=telecall"}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	query := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var row docRow
		return forUpdate(tx).First(&row, "call_id = ?", "appt-1_1_aaaa")
	})
	assert.Contains(t, query, "FOR UPDATE")
}

func TestConcurrentEndAndAnswerStaysEnded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	offer := domain.SessionDescription{Type: "offer", SDP: "o"}
	answer := domain.SessionDescription{Type: "answer", SDP: "a"}
	pat := domain.ParticipantID("pat")

	for i := 0; i < 20; i++ {
		id := domain.CallID(fmt.Sprintf("appt-1_%d_race", i))
		require.NoError(t, s.Create(ctx, domain.SignalingDoc{CallID: id, AppointmentID: "appt-1", InitiatorID: "doc"}))
		require.NoError(t, s.Update(ctx, id, domain.DocUpdate{Offer: &offer, Status: domain.StatusPtr(domain.CallStatusCalling)}))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, id, domain.DocUpdate{Answer: &answer, ResponderID: &pat, Status: domain.StatusPtr(domain.CallStatusAnswered)})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrDocumentEnded)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, id, domain.DocUpdate{Status: domain.StatusPtr(domain.CallStatusEnded)}))
		}()
		wg.Wait()

		doc, err := s.Read(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusEnded, doc.Status, "call %s reopened", id)
	}
}
