package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/any-hub/offline-hub/internal/clients"
)

// ActivateReport 汇总激活阶段的清理与广播结果。
type ActivateReport struct {
	Deleted         []string `json:"deleted,omitempty"`
	Failed          []string `json:"failed,omitempty"`
	Claimed         int      `json:"claimed"`
	Notified        int      `json:"notified"`
	FirstActivation bool     `json:"first_activation"`
}

// Activate 删除不在清单（及字体缓存）中的缓存组，然后接管并通知所有客户端。
// 单个组删除失败不会阻止其余删除与广播；无法枚举缓存组时仍会广播，但返回错误。
func (w *Worker) Activate(ctx context.Context) (ActivateReport, error) {
	var report ActivateReport
	if !w.state.isInstalled() {
		return report, ErrNotInstalled
	}

	ctx, span := w.tracer.Start(ctx, "lifecycle.activate")
	defer span.End()

	listErr := w.reap(ctx, &report)
	if listErr != nil {
		span.RecordError(listErr)
		span.SetStatus(codes.Error, listErr.Error())
	}

	report.Claimed = w.clients.Claim()
	report.Notified = w.clients.Broadcast(clients.Message{
		Type:    clients.TypeVersionUpdate,
		Version: w.settings.Version,
	})
	report.FirstActivation = w.state.markActivated(time.Now())

	span.SetAttributes(
		attribute.Int("offline_hub.deleted", len(report.Deleted)),
		attribute.Int("offline_hub.claimed", report.Claimed),
	)
	w.logger.WithFields(logrus.Fields{
		"action":           "activate",
		"version":          w.settings.Version,
		"deleted":          report.Deleted,
		"failed":           len(report.Failed),
		"claimed":          report.Claimed,
		"notified":         report.Notified,
		"first_activation": report.FirstActivation,
	}).Info("generation_active")

	return report, listErr
}

func (w *Worker) reap(ctx context.Context, report *ActivateReport) error {
	valid := make(map[string]struct{}, len(w.manifest.Groups)+1)
	for _, name := range w.manifest.Names() {
		valid[name] = struct{}{}
	}
	valid[w.settings.FontCache] = struct{}{}

	existing, err := w.store.Groups(ctx)
	if err != nil {
		w.logger.WithError(err).Error("reap_list_failed")
		return fmt.Errorf("list cache groups: %w", err)
	}

	for _, name := range existing {
		if _, ok := valid[name]; ok {
			continue
		}
		if err := w.store.DeleteGroup(ctx, name); err != nil {
			w.logger.WithField("group", name).WithError(err).Warn("reap_failed")
			w.metrics.ObserveReap(false)
			report.Failed = append(report.Failed, name)
			continue
		}
		w.logger.WithField("group", name).Info("reap_obsolete_group")
		w.metrics.ObserveReap(true)
		report.Deleted = append(report.Deleted, name)
	}
	return nil
}
