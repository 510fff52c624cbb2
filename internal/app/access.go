package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Telecall/internal/core"
	"github.com/dkeye/Telecall/internal/domain"
)

// AccessGuard decides whether an identity may take a role in an appointment.
// It runs before any device is opened.
type AccessGuard struct {
	Records core.RecordLookup
}

func NewAccessGuard(records core.RecordLookup) *AccessGuard {
	return &AccessGuard{Records: records}
}

func (g *AccessGuard) ValidateAccess(
	ctx context.Context,
	callID domain.CallID,
	appointment domain.AppointmentID,
	identity domain.ParticipantID,
	role domain.Role,
) (domain.SessionRecord, error) {
	logger := log.With().
		Str("module", "app.access").
		Str("call_id", string(callID)).
		Str("appointment", string(appointment)).
		Str("role", string(role)).
		Logger()

	if !role.Valid() {
		return domain.SessionRecord{}, domain.NewCallError(domain.CodeUnauthorized, fmt.Errorf("unknown role %q", role))
	}
	rec, err := g.Records.GetSessionRecord(ctx, appointment)
	if err != nil {
		logger.Warn().Err(err).Msg("record lookup failed")
		return domain.SessionRecord{}, domain.AsCallError(err, domain.CodeNotFound)
	}
	if rec.Status == domain.AppointmentCancelled {
		logger.Warn().Msg("appointment cancelled")
		return domain.SessionRecord{}, domain.NewCallError(domain.CodeUnauthorized, fmt.Errorf("appointment %s cancelled", appointment))
	}
	if bound := rec.BoundIdentity(role); bound == "" || bound != identity {
		logger.Warn().Str("identity", string(identity)).Msg("identity not bound to role")
		return domain.SessionRecord{}, domain.NewCallError(domain.CodeUnauthorized, fmt.Errorf("%s is not the %s of %s", identity, role, appointment))
	}
	logger.Debug().Msg("access granted")
	return rec, nil
}
