// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes a store's block allocator and capacity
// counters as Prometheus gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/denisbider/Atomic-sub003/blockstore"
)

// Register wires name's store into reg as a set of GaugeFunc collectors,
// sampled fresh on every scrape: allocator buffer pool hits/misses, the
// store's block count, and its MaxNrBlocks cap (published as -1 for an
// unbounded store, whose MaxNrBlocks is the all-ones sentinel). No
// free-block gauge is registered.
func Register(reg prometheus.Registerer, name string, store blockstore.Store) error {
	labels := prometheus.Labels{"store": name}
	alloc := store.Allocator()

	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "afs_allocator_cache_hits_total",
				Help:        "Buffer pool hits in the store's block allocator.",
				ConstLabels: labels,
			},
			func() float64 { return float64(alloc.NrCacheHits) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "afs_allocator_cache_misses_total",
				Help:        "Buffer pool misses in the store's block allocator.",
				ConstLabels: labels,
			},
			func() float64 { return float64(alloc.NrCacheMisses) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "afs_store_blocks_used",
				Help:        "Number of blocks currently allocated in the store.",
				ConstLabels: labels,
			},
			func() float64 { return float64(store.NrBlocks()) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "afs_store_blocks_max",
				Help:        "Maximum number of blocks the store may grow to, or -1 if unbounded.",
				ConstLabels: labels,
			},
			func() float64 {
				max := store.MaxNrBlocks()
				if max == ^uint64(0) {
					return -1
				}
				return float64(max)
			},
		),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the default registry's
// metrics in the Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor is Handler for a specific registry, for callers (like
// afstool) that keep metrics in a private Registry rather than the
// global default one.
func HandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
