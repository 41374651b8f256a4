// Copyright 2024-2026 Aiku AI

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comments_events_handled_total",
		Help: "Number of push events handled, by event type",
	}, []string{"type"})
	transactionsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comments_transactions_deduped_total",
		Help: "Number of retried transactions acknowledged without re-dispatch",
	})
	aliasQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comments_alias_queries_total",
		Help: "Number of room alias queries, by result",
	}, []string{"result"})
	roomsProvisioned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comments_rooms_provisioned_total",
		Help: "Number of comment rooms created on demand",
	})
	replicationTargets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comments_replication_targets_total",
		Help: "Number of fan-out replication calls issued, by kind",
	}, []string{"kind"})
	commandsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comments_commands_handled_total",
		Help: "Number of chat commands handled, by outcome",
	}, []string{"outcome"})
)
