// Package sqlstore is the durable signaling backend on gorm. It serves the
// relay server when database.driver is sqlite or postgres.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/store"
)

type Store struct {
	db  *gorm.DB
	hub *store.Hub
	now func() time.Time
}

var _ store.Backend = (*Store)(nil)

// New migrates the schema and wraps db.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&appointmentRow{}, &docRow{}, &candidateRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:  db,
		hub: store.NewHub(),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open is OpenGorm followed by New.
func Open(driver, dsn string) (*Store, error) {
	db, err := OpenGorm(driver, dsn)
	if err != nil {
		return nil, err
	}
	return New(db)
}

func (s *Store) PutSessionRecord(ctx context.Context, rec domain.SessionRecord) error {
	row := appointmentRow{
		AppointmentID: string(rec.AppointmentID),
		InitiatorID:   string(rec.InitiatorID),
		ResponderID:   string(rec.ResponderID),
		Status:        string(rec.Status),
		UpdatedAt:     s.now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (s *Store) GetSessionRecord(ctx context.Context, id domain.AppointmentID) (domain.SessionRecord, error) {
	var row appointmentRow
	err := s.db.WithContext(ctx).First(&row, "appointment_id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SessionRecord{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("appointment %s", id))
	}
	if err != nil {
		return domain.SessionRecord{}, err
	}
	return row.toRecord(), nil
}

func (s *Store) Create(ctx context.Context, doc domain.SignalingDoc) error {
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.CallStatusCreated
	}
	row, err := docRowFromDoc(doc)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("call %s: %w", doc.CallID, store.ErrAlreadyExists)
	}
	s.hub.Notify(store.DocKey(doc.CallID))
	return nil
}

func (s *Store) Read(ctx context.Context, id domain.CallID) (domain.SignalingDoc, error) {
	return readDoc(s.db.WithContext(ctx), id)
}

func readDoc(tx *gorm.DB, id domain.CallID) (domain.SignalingDoc, error) {
	var row docRow
	err := tx.First(&row, "call_id = ?", string(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SignalingDoc{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("call %s", id))
	}
	if err != nil {
		return domain.SignalingDoc{}, err
	}
	return row.toDoc()
}

// forUpdate locks the rows read through tx until the transaction ends.
// SQLite drops the clause; its single connection already serializes writers.
func forUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

func (s *Store) Update(ctx context.Context, id domain.CallID, upd domain.DocUpdate) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := readDoc(forUpdate(tx), id)
		if err != nil {
			return err
		}
		next, err := doc.Apply(upd, s.now())
		if err != nil {
			return fmt.Errorf("update call %s: %w", id, err)
		}
		row, err := docRowFromDoc(next)
		if err != nil {
			return err
		}
		return tx.Save(&row).Error
	})
	if err != nil {
		return err
	}
	s.hub.Notify(store.DocKey(id))
	return nil
}

func (s *Store) Latest(ctx context.Context, appointment domain.AppointmentID) (domain.SignalingDoc, error) {
	var row docRow
	err := s.db.WithContext(ctx).
		Where("appointment_id = ? AND status <> ?", string(appointment), string(domain.CallStatusEnded)).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SignalingDoc{}, domain.NewCallError(domain.CodeNotFound, fmt.Errorf("no open call for appointment %s", appointment))
	}
	if err != nil {
		return domain.SignalingDoc{}, err
	}
	return row.toDoc()
}

func (s *Store) Subscribe(ctx context.Context, id domain.CallID, fn func(domain.SignalingDoc)) (core.Unsubscribe, error) {
	if _, err := s.Read(ctx, id); err != nil {
		return nil, err
	}
	bg := context.WithoutCancel(ctx)
	stop := s.hub.Watch(bg, store.DocKey(id), func() {
		doc, err := s.Read(bg, id)
		if err != nil {
			log.Warn().Str("module", "sqlstore").Str("call_id", string(id)).Err(err).Msg("read on watch")
			return
		}
		fn(doc)
	})
	return core.Unsubscribe(stop), nil
}

func (s *Store) AppendCandidate(ctx context.Context, id domain.CallID, owner domain.ParticipantID, c domain.Candidate) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seq int64
		if err := tx.Model(&candidateRow{}).
			Where("call_id = ? AND owner = ?", string(id), string(owner)).
			Count(&seq).Error; err != nil {
			return err
		}
		row := candidateRow{
			CallID:        string(id),
			Owner:         string(owner),
			Seq:           seq,
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
			CreatedAt:     s.now(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return err
	}
	s.hub.Notify(store.MailboxKey(id, owner))
	return nil
}

func (s *Store) Candidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID) ([]domain.Candidate, error) {
	var rows []candidateRow
	if err := s.db.WithContext(ctx).
		Where("call_id = ? AND owner = ?", string(id), string(owner)).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toCandidate())
	}
	return out, nil
}

func (s *Store) SubscribeCandidates(ctx context.Context, id domain.CallID, owner domain.ParticipantID, fn func([]domain.Candidate)) (core.Unsubscribe, error) {
	bg := context.WithoutCancel(ctx)
	stop := s.hub.Watch(bg, store.MailboxKey(id, owner), func() {
		list, err := s.Candidates(bg, id, owner)
		if err != nil {
			log.Warn().Str("module", "sqlstore").Str("call_id", string(id)).Err(err).Msg("read mailbox on watch")
			return
		}
		fn(list)
	})
	return core.Unsubscribe(stop), nil
}

func (s *Store) Watchers() int { return s.hub.Count() }

func (s *Store) Close() error {
	s.hub.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
