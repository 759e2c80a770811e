package boostengine

import (
	"log/slog"

	httpadapter "acorn/contexts/savings-incentives/boost-engine/adapters/http"
	"acorn/contexts/savings-incentives/boost-engine/adapters/memory"
	messagingadapter "acorn/contexts/savings-incentives/boost-engine/adapters/messaging"
	"acorn/contexts/savings-incentives/boost-engine/application"
	"acorn/contexts/savings-incentives/boost-engine/ports"
	platformmessaging "acorn/internal/platform/messaging"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service

	// In-memory collaborators are only populated by NewInMemoryModule.
	Store      *memory.Store
	Ledger     *memory.Ledger
	Dispatcher *memory.Dispatcher
}

type Dependencies struct {
	Repository  ports.Repository
	Transfers   ports.FundsTransfer
	Messages    ports.MessageDispatcher
	Events      ports.EventPublisher
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Repo:      deps.Repository,
		Transfers: deps.Transfers,
		Messages:  deps.Messages,
		Events:    deps.Events,
		Clock:     deps.Clock,
		IDGen:     deps.IDGenerator,
		Logger:    deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
		Service: service,
	}
}

// NewInMemoryModule wires the engine against in-process collaborators: the
// memory store (also Clock and IDGenerator), the recording ledger and
// dispatcher, and an event publisher over a fresh platform bus.
func NewInMemoryModule(seed memory.Seed, bus *platformmessaging.Bus, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	ledger := memory.NewLedger()
	dispatcher := memory.NewDispatcher()
	if bus == nil {
		bus, _ = platformmessaging.NewBus(nil, logger)
	}
	module := NewModule(Dependencies{
		Repository:  store,
		Transfers:   ledger,
		Messages:    dispatcher,
		Events:      messagingadapter.NewPublisher(bus),
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	module.Ledger = ledger
	module.Dispatcher = dispatcher
	return module
}
