// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// relayNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	relayNamespace = "linechat"

	lineKindLabelName     = "kind"
	deliveryKindLabelName = "kind"
	resultLabelName       = "result"
	eventLabelName        = "event"

	// 行事件类型。
	LineRegistered = "registered"
	LineDirective  = "directive"
	LineMalformed  = "malformed"
	LineMismatched = "mismatched"
	LineEmpty      = "empty"

	// 投递类型与结果。
	DeliveryRelay  = "relay"
	DeliveryNotice = "notice"
	ResultOK       = "ok"
	ResultFailed   = "failed"
)

var (
	ConnectedSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: relayNamespace,
		Name:      "connected_sessions",
		Help:      "number of sessions currently held by the registry",
	})

	AcceptedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Name:      "accepted_connections_total",
		Help:      "connections accepted by the listener, including those later rejected",
	})

	RejectedConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Name:      "rejected_connections_total",
		Help:      "accepted connections closed before registration (registry full, invalid channel or reader pool exhausted)",
	})

	LinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Name:      "lines_total",
		Help:      "decoded protocol lines by kind",
	}, []string{lineKindLabelName})

	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: relayNamespace,
		Name:      "deliveries_total",
		Help:      "per-recipient broadcast writes by kind and result",
	}, []string{deliveryKindLabelName, resultLabelName})

	// EventProcessingDuration 单位为秒。
	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: relayNamespace,
		Name:      "event_processing_seconds",
		Help:      "time the dispatch loop spends on one event",
		Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
	}, []string{eventLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(ConnectedSessions)
		r.MustRegister(AcceptedConnections)
		r.MustRegister(RejectedConnections)
		r.MustRegister(LinesTotal)
		r.MustRegister(DeliveriesTotal)
		r.MustRegister(EventProcessingDuration)
		metricRegisterer = r
	})
}

// Serve 在 addr 上暴露 /metrics，阻塞直至 ctx 取消。
// g 为用于采集的 Gatherer，通常与 Register 传入的 Registerer 为同一个 Registry。
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
