package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/adapters/wire"
	"github.com/dkeye/Telecall/internal/app"
	"github.com/dkeye/Telecall/internal/domain"
	"github.com/dkeye/Telecall/internal/store"
)

// Server hosts one signaling backend over REST and websocket watches.
type Server struct {
	Store    store.Backend
	Registry *app.Registry
	Limiter  *RateLimiter
}

func NewServer(backend store.Backend, limiter *RateLimiter) *Server {
	return &Server{Store: backend, Registry: app.NewRegistry(), Limiter: limiter}
}

func abortWith(c *gin.Context, op string, err error) {
	status, code := wire.StatusOf(err)
	requestsTotal.WithLabelValues(op, code).Inc()
	if status >= http.StatusInternalServerError {
		log.Error().Str("module", "adapters.http").Str("op", op).Err(err).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, wire.ErrorBody{Error: code, Message: err.Error()})
}

func badRequest(c *gin.Context, op string, err error) {
	requestsTotal.WithLabelValues(op, wire.CodeBadRequest).Inc()
	c.AbortWithStatusJSON(http.StatusBadRequest, wire.ErrorBody{Error: wire.CodeBadRequest, Message: err.Error()})
}

func ok(op string) {
	requestsTotal.WithLabelValues(op, "ok").Inc()
}

// GET /api/appointments/:id
func (s *Server) getAppointment(c *gin.Context) {
	rec, err := s.Store.GetSessionRecord(c.Request.Context(), domain.AppointmentID(c.Param("id")))
	if err != nil {
		abortWith(c, "get_appointment", err)
		return
	}
	ok("get_appointment")
	c.JSON(http.StatusOK, rec)
}

// PUT /api/appointments/:id
func (s *Server) putAppointment(c *gin.Context) {
	var rec domain.SessionRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		badRequest(c, "put_appointment", err)
		return
	}
	rec.AppointmentID = domain.AppointmentID(c.Param("id"))
	if rec.InitiatorID == "" || rec.ResponderID == "" {
		badRequest(c, "put_appointment", fmt.Errorf("initiator_id and responder_id are required"))
		return
	}
	if rec.Status == "" {
		rec.Status = domain.AppointmentScheduled
	}
	if err := s.Store.PutSessionRecord(c.Request.Context(), rec); err != nil {
		abortWith(c, "put_appointment", err)
		return
	}
	ok("put_appointment")
	c.JSON(http.StatusOK, rec)
}

// GET /api/appointments/:id/calls/latest
func (s *Server) latestCall(c *gin.Context) {
	doc, err := s.Store.Latest(c.Request.Context(), domain.AppointmentID(c.Param("id")))
	if err != nil {
		abortWith(c, "latest_call", err)
		return
	}
	ok("latest_call")
	c.JSON(http.StatusOK, doc)
}

// POST /api/calls
func (s *Server) createCall(c *gin.Context) {
	var doc domain.SignalingDoc
	if err := c.ShouldBindJSON(&doc); err != nil {
		badRequest(c, "create_call", err)
		return
	}
	if doc.CallID == "" || doc.AppointmentID == "" {
		badRequest(c, "create_call", fmt.Errorf("call_id and appointment_id are required"))
		return
	}
	if err := s.Store.Create(c.Request.Context(), doc); err != nil {
		abortWith(c, "create_call", err)
		return
	}
	created, err := s.Store.Read(c.Request.Context(), doc.CallID)
	if err != nil {
		abortWith(c, "create_call", err)
		return
	}
	ok("create_call")
	log.Info().Str("module", "adapters.http").Str("call_id", string(doc.CallID)).Msg("call created")
	c.JSON(http.StatusCreated, created)
}

// GET /api/calls/:id
func (s *Server) getCall(c *gin.Context) {
	doc, err := s.Store.Read(c.Request.Context(), domain.CallID(c.Param("id")))
	if err != nil {
		abortWith(c, "get_call", err)
		return
	}
	ok("get_call")
	c.JSON(http.StatusOK, doc)
}

// PATCH /api/calls/:id
func (s *Server) updateCall(c *gin.Context) {
	var upd domain.DocUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		badRequest(c, "update_call", err)
		return
	}
	id := domain.CallID(c.Param("id"))
	if upd.ResponderID != nil {
		if err := s.authorizeWriter(c.Request.Context(), id, *upd.ResponderID); err != nil {
			abortWith(c, "update_call", err)
			return
		}
	}
	if err := s.Store.Update(c.Request.Context(), id, upd); err != nil {
		abortWith(c, "update_call", err)
		return
	}
	if upd.Status != nil && *upd.Status == domain.CallStatusEnded {
		s.forgetCall(c.Request.Context(), id)
	}
	ok("update_call")
	c.Status(http.StatusNoContent)
}

// POST /api/calls/:id/candidates/:participant
func (s *Server) appendCandidate(c *gin.Context) {
	id := domain.CallID(c.Param("id"))
	owner, err := domain.NewParticipantID(c.Param("participant"))
	if err != nil {
		badRequest(c, "append_candidate", err)
		return
	}
	var cand domain.Candidate
	if err := c.ShouldBindJSON(&cand); err != nil {
		badRequest(c, "append_candidate", err)
		return
	}
	if cand.Candidate == "" {
		badRequest(c, "append_candidate", fmt.Errorf("candidate is required"))
		return
	}
	if err := s.authorizeWriter(c.Request.Context(), id, owner); err != nil {
		abortWith(c, "append_candidate", err)
		return
	}
	if s.Limiter != nil && !s.Limiter.Allow(limiterKey(id, owner)) {
		rateLimitedTotal.Inc()
		abortWith(c, "append_candidate", wire.ErrRateLimited)
		return
	}
	if err := s.Store.AppendCandidate(c.Request.Context(), id, owner, cand); err != nil {
		abortWith(c, "append_candidate", err)
		return
	}
	candidatesTotal.Inc()
	ok("append_candidate")
	c.Status(http.StatusNoContent)
}

// GET /api/calls/:id/candidates/:participant
func (s *Server) listCandidates(c *gin.Context) {
	list, err := s.Store.Candidates(c.Request.Context(), domain.CallID(c.Param("id")), domain.ParticipantID(c.Param("participant")))
	if err != nil {
		abortWith(c, "list_candidates", err)
		return
	}
	if list == nil {
		list = []domain.Candidate{}
	}
	ok("list_candidates")
	c.JSON(http.StatusOK, wire.CandidateList{Candidates: list})
}

// authorizeWriter accepts the document's bound participants and, when the
// appointment is on record, its scheduled pair. The responder writes its
// mailbox before its answer binds the responder slot.
func (s *Server) authorizeWriter(ctx context.Context, id domain.CallID, who domain.ParticipantID) error {
	doc, err := s.Store.Read(ctx, id)
	if err != nil {
		return err
	}
	if who == doc.InitiatorID || who == doc.ResponderID {
		return nil
	}
	rec, err := s.Store.GetSessionRecord(ctx, doc.AppointmentID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return wire.ErrForbidden
	case err != nil:
		return err
	}
	if who == rec.InitiatorID || who == rec.ResponderID {
		return nil
	}
	return wire.ErrForbidden
}

func (s *Server) forgetCall(ctx context.Context, id domain.CallID) {
	if s.Limiter == nil {
		return
	}
	doc, err := s.Store.Read(ctx, id)
	if err != nil {
		return
	}
	for _, p := range []domain.ParticipantID{doc.InitiatorID, doc.ResponderID} {
		if p != "" {
			s.Limiter.Forget(limiterKey(id, p))
		}
	}
}

func limiterKey(id domain.CallID, owner domain.ParticipantID) string {
	return string(id) + "/" + string(owner)
}
