package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/store/mirror"
)

type ResyncReport struct {
	Replayed  int      `json:"replayed"`
	Rejected  []string `json:"rejected,omitempty"`
	Remaining int      `json:"remaining"`
}

// Resync replays writes queued while degraded, oldest first. It stops at the
// first entry the remote service cannot be reached for, or will not accept
// the session for, and leaves it queued. Entries the remote service rejects
// outright are dropped and reported.
func (g *Gateway) Resync(ctx context.Context) (ResyncReport, error) {
	var report ResyncReport
	entries, err := g.local.Pending(ctx)
	if err != nil {
		return report, err
	}

	for i, entry := range entries {
		_, err := callRemote(ctx, g, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, g.replay(ctx, entry)
		})
		if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrSessionRejected) {
			g.degrade("resync", err)
			report.Remaining = len(entries) - i
			return report, err
		}
		if err != nil {
			g.logger.Error("remote service rejected queued write",
				zap.String("outbox_id", entry.ID),
				zap.String("op", entry.Op),
				zap.Error(err))
			report.Rejected = append(report.Rejected, entry.ID)
		} else {
			g.online()
			report.Replayed++
		}
		if ackErr := g.local.Ack(ctx, entry.ID); ackErr != nil {
			report.Remaining = len(entries) - i
			return report, ackErr
		}
	}

	if report.Replayed > 0 || len(report.Rejected) > 0 {
		g.logger.Info("resync finished",
			zap.Int("replayed", report.Replayed),
			zap.Int("rejected", len(report.Rejected)))
	}
	return report, nil
}

func (g *Gateway) replay(ctx context.Context, entry mirror.OutboxEntry) error {
	switch entry.Op {
	case opUpsertProduct:
		var p domain.Product
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		_, err := g.remote.UpsertProduct(ctx, p)
		return err
	case opDeleteProduct:
		var p idPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		return ignoreNotFound(g.remote.DeleteProduct(ctx, p.ID))
	case opAdjustStock:
		var p stockPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		if p.Key != "" {
			ctx = store.WithAdjustmentKey(ctx, p.Key)
		}
		_, err := g.remote.AdjustStock(ctx, p.ProductID, p.Delta)
		return err
	case opCreateTransaction:
		var tx domain.Transaction
		if err := json.Unmarshal(entry.Payload, &tx); err != nil {
			return err
		}
		_, err := g.remote.CreateTransaction(ctx, tx)
		return err
	case opCreateShift:
		var shift domain.Shift
		if err := json.Unmarshal(entry.Payload, &shift); err != nil {
			return err
		}
		_, err := g.remote.CreateShift(ctx, shift)
		return err
	case opUpdateShift:
		var p shiftPatchPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		_, err := g.remote.UpdateShift(ctx, p.ID, p.Patch)
		return err
	case opUpsertCustomer:
		var c domain.Customer
		if err := json.Unmarshal(entry.Payload, &c); err != nil {
			return err
		}
		_, err := g.remote.UpsertCustomer(ctx, c)
		return err
	case opUpsertUser:
		var u domain.User
		if err := json.Unmarshal(entry.Payload, &u); err != nil {
			return err
		}
		_, err := g.remote.UpsertUser(ctx, u)
		return err
	case opDeleteUser:
		var p idPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		return ignoreNotFound(g.remote.DeleteUser(ctx, p.ID))
	case opSetUserSuspended:
		var p suspensionPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return err
		}
		_, err := g.remote.SetUserSuspended(ctx, p.ID, p.Suspended)
		return err
	case opAppendAudit:
		var e domain.AuditEntry
		if err := json.Unmarshal(entry.Payload, &e); err != nil {
			return err
		}
		return g.remote.AppendAuditEntry(ctx, e)
	case opUpdateSettings:
		var s domain.Settings
		if err := json.Unmarshal(entry.Payload, &s); err != nil {
			return err
		}
		_, err := g.remote.UpdateSettings(ctx, s)
		return err
	default:
		return unknownOp(entry.Op)
	}
}
