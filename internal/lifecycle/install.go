package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/manifest"
)

// InstallReport 汇总一次预缓存的结果，顺序与清单一致。
type InstallReport struct {
	Groups []GroupReport `json:"groups"`
}

// GroupReport 描述单个缓存组的预缓存结果。
type GroupReport struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Stored  int      `json:"stored"`
	Failed  []string `json:"failed,omitempty"`
}

// Stored 返回全部组成功写入的资源数。
func (r InstallReport) Stored() int {
	total := 0
	for _, g := range r.Groups {
		total += g.Stored
	}
	return total
}

// Failed 返回全部组失败的资源数。
func (r InstallReport) Failed() int {
	total := 0
	for _, g := range r.Groups {
		total += len(g.Failed)
	}
	return total
}

// Install 预缓存清单中的全部资源，并预先创建（为空的）字体缓存组。
// 单个资源失败只记录日志，只有创建缓存组失败或 ctx 取消才会返回错误。
func (w *Worker) Install(ctx context.Context) (InstallReport, error) {
	ctx, span := w.tracer.Start(ctx, "lifecycle.install")
	defer span.End()

	started := time.Now()
	groups := w.manifest.GroupList()
	report := InstallReport{Groups: make([]GroupReport, len(groups))}

	if err := w.store.CreateGroup(ctx, w.settings.FontCache); err != nil {
		err = fmt.Errorf("open font cache %s: %w", w.settings.FontCache, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.settings.InstallConcurrency > 0 {
		g.SetLimit(w.settings.InstallConcurrency)
	}
	for i, group := range groups {
		g.Go(func() error {
			gr, err := w.installGroup(gctx, group)
			report.Groups[i] = gr
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	elapsed := time.Since(started)
	w.metrics.ObserveInstall(elapsed)
	w.state.markInstalled(time.Now())
	span.SetAttributes(
		attribute.Int("offline_hub.stored", report.Stored()),
		attribute.Int("offline_hub.failed", report.Failed()),
	)

	w.logger.WithFields(logrus.Fields{
		"action":     "install",
		"version":    w.settings.Version,
		"groups":     len(groups),
		"stored":     report.Stored(),
		"failed":     report.Failed(),
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("precache_complete")
	// 新一代缓存立即可激活，不等待旧客户端断开。
	w.logger.WithField("version", w.settings.Version).Info("skip_waiting")

	return report, nil
}

func (w *Worker) installGroup(ctx context.Context, group manifest.Group) (GroupReport, error) {
	report := GroupReport{Name: group.Name, Version: group.Version}
	if err := w.store.CreateGroup(ctx, group.Name); err != nil {
		return report, fmt.Errorf("open cache group %s: %w", group.Name, err)
	}

	errs := make([]error, len(group.Resources))
	var g errgroup.Group
	if w.settings.InstallConcurrency > 0 {
		g.SetLimit(w.settings.InstallConcurrency)
	}
	for i, resource := range group.Resources {
		g.Go(func() error {
			errs[i] = w.precache(ctx, group, resource)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}

	for i, err := range errs {
		if err != nil {
			report.Failed = append(report.Failed, group.Resources[i])
			continue
		}
		report.Stored++
	}
	return report, nil
}

// precache 以带版本参数的地址下载资源，并以不带版本的规范路径落盘。
func (w *Worker) precache(ctx context.Context, group manifest.Group, resource string) (err error) {
	fields := logrus.Fields{
		"action":   "precache",
		"group":    group.Name,
		"resource": resource,
	}
	defer func() {
		w.metrics.ObservePrecache(err == nil)
		if err != nil {
			w.logger.WithFields(fields).WithError(err).Warn("precache_failed")
		}
	}()

	target, err := manifest.FetchURL(w.settings.Origin, group, resource)
	if err != nil {
		return err
	}
	fields["url"] = target.Redacted()

	resp, err := w.fetcher.Fetch(ctx, &fetch.Request{
		Method:  http.MethodGet,
		URL:     target,
		NoStore: true,
	})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("unexpected upstream status %d", resp.Status)
	}

	locator := cache.Locator{Group: group.Name, Path: manifest.CanonicalPath(resource)}
	if _, err := w.store.Put(ctx, locator, bytes.NewReader(resp.Body), cache.PutOptions{
		Status: resp.Status,
		Header: resp.Header,
	}); err != nil {
		return fmt.Errorf("store %s: %w", locator, err)
	}
	return nil
}
