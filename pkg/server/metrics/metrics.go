/** Copyright 2020-2023 Alibaba Group Holding Limited.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics is the sink external collaborators report into:
// {counter|summary, name, labels, value} tuples, exposed for scraping
// via prometheus/client_golang when the daemon's "prometheus"/"metrics"
// config is enabled. The core itself never reads metrics back; this is
// a one-way fire-and-forget interface.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind distinguishes the two tuple shapes the interface accepts.
type Kind string

const (
	Counter Kind = "counter"
	Summary Kind = "summary"
)

// Sink registers and records {kind, name, labels, value} tuples
// on demand, lazily creating the underlying prometheus collector for
// each distinct name the first time it is observed.
type Sink struct {
	registry *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	summaries map[string]*prometheus.SummaryVec
}

func NewSink(registry *prometheus.Registry) *Sink {
	return &Sink{
		registry:  registry,
		counters:  make(map[string]*prometheus.CounterVec),
		summaries: make(map[string]*prometheus.SummaryVec),
	}
}

// Observe records one tuple, registering name with the given label
// keys the first time it is seen.
func (s *Sink) Observe(kind Kind, name string, labels map[string]string, value float64) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	switch kind {
	case Counter:
		s.counterFor(name, keys).With(labels).Add(value)
	case Summary:
		s.summaryFor(name, keys).With(labels).Observe(value)
	}
}

func (s *Sink) counterFor(name string, labelKeys []string) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vineyard",
		Name:      name,
	}, labelKeys)
	s.registry.MustRegister(c)
	s.counters[name] = c
	return c
}

func (s *Sink) summaryFor(name string, labelKeys []string) *prometheus.SummaryVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.summaries[name]; ok {
		return c
	}
	c := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "vineyard",
		Name:      name,
	}, labelKeys)
	s.registry.MustRegister(c)
	s.summaries[name] = c
	return c
}
