package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
	obsmetrics "github.com/smallbiznis/paydesk/internal/observability/metrics"
	processordomain "github.com/smallbiznis/paydesk/internal/processor/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Gateway    processordomain.Gateway
	Store      domain.SnapshotStore
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	gateway    processordomain.Gateway
	store      domain.SnapshotStore
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ingest.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		gateway:    p.Gateway,
		store:      p.Store,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Ingest handles one delivered notification. Everything short of a missing
// verification setup or a storage failure is acknowledged.
func (s *Service) Ingest(ctx context.Context, rawBody []byte, headers http.Header) (*domain.Result, error) {
	var event eventPayload
	if err := json.Unmarshal(rawBody, &event); err != nil {
		s.log.Warn("webhook body is not valid json", zap.Int("bytes", len(rawBody)))
		return s.finish(ctx, &domain.Result{Accepted: true, Outcome: domain.OutcomeInvalidJSON}), nil
	}
	event.EventType = strings.TrimSpace(event.EventType)
	event.ID = strings.TrimSpace(event.ID)

	result := &domain.Result{
		Accepted:  true,
		EventID:   event.ID,
		EventType: event.EventType,
	}

	if missing := processordomain.MissingSignatureHeaders(headers); len(missing) > 0 {
		s.log.Info("webhook without transmission headers, skipping verification",
			zap.String("event_id", event.ID),
			zap.Strings("missing", missing),
		)
		result.SkippedVerification = true
		result.Missing = missing
		result.Outcome = domain.OutcomeMissingHeaders
		return s.finish(ctx, result), nil
	}

	verified, err := s.gateway.VerifyEventSignature(ctx, headers, rawBody)
	if errors.Is(err, processordomain.ErrVerificationUnconfigured) {
		s.log.Error("webhook verification is not configured", zap.String("event_id", event.ID))
		s.obsMetrics.RecordWebhookEvent(ctx, event.EventType, "unconfigured")
		return nil, err
	}
	if err != nil || !verified {
		fields := []zap.Field{zap.String("event_id", event.ID), zap.String("event_type", event.EventType)}
		if err != nil {
			fields = append(fields, zap.Error(err), zap.String("debug_id", processordomain.DebugIDOf(err)))
		}
		s.log.Warn("webhook not verified", fields...)
		result.Outcome = domain.OutcomeNotVerified
		return s.finish(ctx, result), nil
	}
	result.Verified = true
	result.CaptureID = resolveCaptureID(event)

	record, duplicate, err := s.logEvent(ctx, event, result.CaptureID, rawBody)
	if err != nil {
		return nil, err
	}
	if duplicate {
		result.Outcome = domain.OutcomeDuplicate
		return s.finish(ctx, result), nil
	}

	outcome, err := s.apply(ctx, event, result.CaptureID)
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome

	if record != nil {
		if err := s.repo.MarkOutcome(ctx, s.db, record.ID, outcome); err != nil {
			s.log.Warn("failed to record webhook outcome", zap.String("event_id", event.ID), zap.Error(err))
		}
	}
	return s.finish(ctx, result), nil
}

// logEvent writes the event log entry. An event id that was already fully
// processed is a duplicate; one that stopped halfway is processed again.
func (s *Service) logEvent(ctx context.Context, event eventPayload, captureID string, rawBody []byte) (*domain.WebhookEvent, bool, error) {
	if event.ID == "" {
		return nil, false, nil
	}

	record := &domain.WebhookEvent{
		ID:         s.genID.Generate(),
		EventID:    event.ID,
		EventType:  event.EventType,
		CaptureID:  captureID,
		Outcome:    domain.OutcomeReceived,
		Payload:    datatypes.JSON(rawBody),
		ReceivedAt: s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return record, false, nil
	}

	stored, err := s.repo.FindEvent(ctx, s.db, event.ID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, nil
	}
	return stored, stored.Outcome != domain.OutcomeReceived, nil
}

func (s *Service) apply(ctx context.Context, event eventPayload, captureID string) (string, error) {
	switch {
	case captureID == "":
		return domain.OutcomeIgnored, nil
	case isCaptureEvent(event.EventType):
		return s.storeCapture(ctx, event, captureID)
	case isRefundEvent(event.EventType):
		return s.storeRefund(ctx, event, captureID)
	default:
		return domain.OutcomeIgnored, nil
	}
}

func (s *Service) storeCapture(ctx context.Context, event eventPayload, captureID string) (string, error) {
	now := s.clock.Now()
	amount, currency, _ := event.Resource.amount()

	snapshot := domain.CaptureSnapshot{
		CaptureID: captureID,
		OrderID:   strings.TrimSpace(event.Resource.SupplementaryData.RelatedIDs.OrderID),
		Status:    event.Resource.status(),
		Amount:    amount,
		Currency:  currency,
		EventID:   event.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if created, ok := parseEventTime(event.Resource.CreateTime); ok {
		snapshot.CreatedAt = created
	}
	if snapshot.Status == "" {
		snapshot.Status = string(processordomain.CaptureStatusCompleted)
		if event.EventType == domain.EventCaptureDenied {
			snapshot.Status = string(processordomain.CaptureStatusDenied)
		}
	}

	if err := s.store.PutCapture(ctx, snapshot); err != nil {
		return "", err
	}
	s.log.Info("stored capture snapshot",
		zap.String("capture_id", captureID),
		zap.String("status", snapshot.Status),
	)
	return domain.OutcomeCaptureStored, nil
}

// storeRefund records the cumulative refunded total of the capture. The
// total comes from the itemized refund list; the event amount and the
// refund lookup only fill in when the list has nothing yet.
func (s *Service) storeRefund(ctx context.Context, event eventPayload, captureID string) (string, error) {
	eventAmount, currency, hasAmount := event.Resource.amount()
	refundID := event.Resource.refundID()

	snapshot := domain.RefundSnapshot{
		CaptureID: captureID,
		Currency:  currency,
		Status:    event.Resource.status(),
		RefundID:  refundID,
		EventID:   event.ID,
		UpdatedAt: s.clock.Now(),
	}

	refunds, err := s.gateway.ListCaptureRefunds(ctx, captureID)
	if err != nil {
		snapshot.Degraded = true
		if hasAmount {
			snapshot.Total = eventAmount
		}
		if err := s.store.PutRefund(ctx, snapshot); err != nil {
			return "", err
		}
		s.log.Warn("refund detail unavailable, stored degraded snapshot",
			zap.String("capture_id", captureID),
			zap.String("debug_id", processordomain.DebugIDOf(err)),
			zap.Error(err),
		)
		return domain.OutcomeRefundDegraded, nil
	}

	total := refunds.Sum()
	if !total.IsPositive() {
		switch {
		case hasAmount:
			total = eventAmount
		case refundID != "":
			detail, err := s.gateway.GetRefund(ctx, refundID)
			if err == nil {
				total = detail.Amount.Abs()
			} else {
				s.log.Debug("refund lookup failed", zap.String("refund_id", refundID), zap.Error(err))
			}
		}
	}
	snapshot.Total = total

	if capture := refunds.Capture; capture != nil {
		if capture.Currency != "" {
			snapshot.Currency = capture.Currency
		}
		if capture.Status != processordomain.CaptureStatusUnknown {
			snapshot.Status = string(capture.Status)
		}
	}

	if err := s.store.PutRefund(ctx, snapshot); err != nil {
		return "", err
	}
	s.log.Info("stored refund snapshot",
		zap.String("capture_id", captureID),
		zap.String("total", snapshot.Total.StringFixed(2)),
		zap.String("status", snapshot.Status),
	)
	return domain.OutcomeRefundStored, nil
}

func (s *Service) finish(ctx context.Context, result *domain.Result) *domain.Result {
	s.obsMetrics.RecordWebhookEvent(ctx, result.EventType, result.Outcome)
	s.log.Info("webhook handled",
		zap.String("event_id", result.EventID),
		zap.String("event_type", result.EventType),
		zap.String("capture_id", result.CaptureID),
		zap.String("outcome", result.Outcome),
	)
	return result
}

func (s *Service) GetCaptureSnapshot(ctx context.Context, captureID string) (*domain.CaptureSnapshot, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrInvalidCaptureID
	}
	return s.store.GetCapture(ctx, captureID)
}

func (s *Service) GetRefundSnapshot(ctx context.Context, captureID string) (*domain.RefundSnapshot, error) {
	captureID = strings.TrimSpace(captureID)
	if captureID == "" {
		return nil, domain.ErrInvalidCaptureID
	}
	return s.store.GetRefund(ctx, captureID)
}

func (s *Service) ListCaptureSnapshots(ctx context.Context) ([]domain.CaptureSnapshot, error) {
	return s.store.ListCaptures(ctx)
}

func (s *Service) ListRefundSnapshots(ctx context.Context) ([]domain.RefundSnapshot, error) {
	return s.store.ListRefunds(ctx)
}
