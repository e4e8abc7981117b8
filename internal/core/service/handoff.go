package service

import (
	"context"
	"maps"

	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
	"github.com/yndnr/objmesh-go/internal/telemetry/metric"
)

// Save hands the full current snapshot of a session to deviceID and waits
// for the device's completion.
func (s *ObjectService) Save(ctx context.Context, sessionID, deviceID string) error {
	if s.cache == nil {
		return domain.ErrRemoteUnavailable.WithDetails("hand-off disabled")
	}
	snapshot, err := s.engine.GetItems(sessionID)
	if err != nil {
		return err
	}
	ctx = logger.WithPeerID(logger.WithSessionID(ctx, sessionID), deviceID)
	if err := s.cache.Save(ctx, s.bundle, sessionID, deviceID, snapshot); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "session saved for hand-off", "fields", len(snapshot))
	return nil
}

// RevokeSave deletes any hand-off snapshot of the session.
func (s *ObjectService) RevokeSave(ctx context.Context, sessionID string) error {
	if s.cache == nil {
		return domain.ErrRemoteUnavailable.WithDetails("hand-off disabled")
	}
	ctx = logger.WithSessionID(ctx, sessionID)
	if err := s.cache.RevokeSave(ctx, s.bundle, sessionID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "hand-off revoked")
	return nil
}

// startHandoff requests the snapshot saved for this device and subscribes
// to pushed fields. Failures are logged; the object already exists.
func (s *ObjectService) startHandoff(ctx context.Context, sessionID string) {
	ctx = logger.WithSessionID(ctx, sessionID)

	err := s.cache.Resume(ctx, s.bundle, sessionID, func(snapshot map[string][]byte) {
		s.mergeResumed(ctx, sessionID, snapshot)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "resume not started", "error", err)
	}

	err = s.cache.SubscribeDataChange(s.bundle, sessionID, func(entries map[string][]byte) {
		s.applyRemote(ctx, sessionID, entries)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "subscribe not started", "error", err)
		return
	}

	// The object may have been deleted while subscribing.
	if ctx.Err() != nil {
		if err := s.cache.UnregisterDataChange(context.WithoutCancel(ctx), s.bundle, sessionID); err != nil {
			s.logger.DebugContext(ctx, "late unregister failed", "error", err)
		}
	}
}

// mergeResumed writes a resumed snapshot into the table and marks the
// session pending-restore.
func (s *ObjectService) mergeResumed(ctx context.Context, sessionID string, snapshot map[string][]byte) {
	if len(snapshot) == 0 {
		return
	}
	if ctx.Err() != nil || !s.engine.HasTable(sessionID) {
		s.logger.DebugContext(ctx, "discarding resume for deleted object")
		return
	}

	s.pending.Set(sessionID, struct{}{})
	if err := s.engine.UpdateItems(sessionID, snapshot); err != nil {
		s.pending.Delete(sessionID)
		s.logger.WarnContext(ctx, "resume merge failed", "error", err)
		return
	}
	s.logger.InfoContext(ctx, "session resumed", "fields", len(snapshot))
}

// applyRemote applies pushed fields that are not present locally and
// reports the session restored.
func (s *ObjectService) applyRemote(ctx context.Context, sessionID string, entries map[string][]byte) {
	if ctx.Err() != nil || !s.engine.HasTable(sessionID) {
		return
	}
	local, err := s.engine.GetItems(sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "read table for remote change failed", "error", err)
		return
	}

	apply, dropped := reconcile(local, entries)
	s.countRemote(len(apply), dropped)
	if len(dropped) > 0 {
		s.logger.DebugContext(ctx, "remote fields dropped", "keys", dropped)
	}
	if len(apply) == 0 {
		return
	}
	if err := s.engine.UpdateItems(sessionID, apply); err != nil {
		s.logger.WarnContext(ctx, "apply remote change failed", "error", err)
		return
	}
	s.notifyRestored(sessionID)
}

// reconcile drops incoming entries whose key already exists locally.
func reconcile(local, incoming map[string][]byte) (apply map[string][]byte, dropped []string) {
	apply = maps.Clone(incoming)
	for key := range incoming {
		if _, ok := local[key]; ok {
			delete(apply, key)
			dropped = append(dropped, key)
		}
	}
	if apply == nil {
		apply = map[string][]byte{}
	}
	return apply, dropped
}

func (s *ObjectService) countRemote(applied int, dropped []string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RemoteChanges.WithLabelValues(metric.OutcomeApplied).Add(float64(applied))
	s.metrics.RemoteChanges.WithLabelValues(metric.OutcomeDropped).Add(float64(len(dropped)))
}
