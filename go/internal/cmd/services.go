package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/reverseauction/go/internal/auction/broadcast"
	"github.com/mcdev12/reverseauction/go/internal/auction/coordinator"
	"github.com/mcdev12/reverseauction/go/internal/auction/gateway"
	"github.com/mcdev12/reverseauction/go/internal/auction/operator"
	"github.com/mcdev12/reverseauction/go/internal/auction/record"
)

type Services struct {
	Coordinator *coordinator.Manager
	Operator    *operator.Service
	Gateway     *gateway.Handler
	Connections *gateway.ConnectionManager
}

func setupServices(store record.Store, config *Config) *Services {
	// Wire up dependency injection chain
	// Store → Record app / Coordinator → Operator service and session gateway
	clock := clockwork.NewRealClock()

	hub := broadcast.NewHub(config.Hub.QueueSize)
	records := record.NewApp(store, clock)
	manager := coordinator.NewManager(store, hub, clock, config.Coordinator)

	connections := gateway.NewConnectionManager(manager, hub, clock, config.connectionConfig())

	return &Services{
		Coordinator: manager,
		Operator:    operator.NewService(records, manager),
		Gateway:     gateway.NewHandler(connections, manager, records),
		Connections: connections,
	}
}
