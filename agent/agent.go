package agent

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/signoff-io/signoff/audit"
	"github.com/signoff-io/signoff/config"
	"github.com/signoff-io/signoff/delegation"
	"github.com/signoff-io/signoff/directory"
	"github.com/signoff-io/signoff/engine"
	"github.com/signoff-io/signoff/event"
	"github.com/signoff-io/signoff/logger"
	"github.com/signoff-io/signoff/metadata"
	"github.com/signoff-io/signoff/notify"
	"github.com/signoff-io/signoff/persistence"
	"github.com/signoff-io/signoff/persistence/memory"
	rd "github.com/signoff-io/signoff/persistence/redis"
	"github.com/signoff-io/signoff/persistence/sqlite"
	"github.com/signoff-io/signoff/resolver"
	"github.com/signoff-io/signoff/rest"
	"github.com/signoff-io/signoff/rule"
	"github.com/signoff-io/signoff/service"
	"github.com/signoff-io/signoff/ticket"
	"github.com/signoff-io/signoff/timer"
	"github.com/signoff-io/signoff/util"
)

type Agent struct {
	Config          config.Config
	storage         persistence.Storage
	directory       directory.Client
	tickets         ticket.AttributeSource
	broker          *event.Broker
	auditor         audit.Collector
	timers          *timer.Service
	delegations     *delegation.Resolver
	engine          *engine.Engine
	metadataService metadata.MetadataService
	workflowService *service.WorkflowService
	httpServer      *rest.Server
	relay           *notify.Relay
	shutdown        bool
	shutdownLock    sync.Mutex
	wg              sync.WaitGroup
}

func New(conf config.Config) (*Agent, error) {
	a := &Agent{
		Config: conf,
	}
	setup := []func() error{
		a.setupStorage,
		a.setupDirectory,
		a.setupTickets,
		a.setupAudit,
		a.setupEngine,
		a.setupServices,
		a.setupHttpServer,
		a.setupRelay,
	}
	for _, fn := range setup {
		if err := fn(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *Agent) setupStorage() error {
	switch a.Config.StorageType {
	case config.STORAGE_TYPE_REDIS:
		a.storage = rd.NewStorage(rd.Config{
			Addrs:     a.Config.RedisConfig.Addrs,
			Namespace: a.Config.RedisConfig.Namespace,
			Password:  a.Config.RedisConfig.Password,
			PoolSize:  a.Config.RedisConfig.PoolSize,
		})
	case config.STORAGE_TYPE_SQLITE:
		st, err := sqlite.NewStorage(a.Config.SqlitePath)
		if err != nil {
			return err
		}
		a.storage = st
	case config.STORAGE_TYPE_INMEM:
		a.storage = memory.NewStorage()
	default:
		return fmt.Errorf("unknown storage implementation %s", a.Config.StorageType)
	}
	return nil
}

func (a *Agent) setupDirectory() error {
	if a.Config.DirectoryEndpoint != "" {
		a.directory = directory.NewHttpDirectory(a.Config.DirectoryEndpoint)
		return nil
	}
	if a.Config.DevDirectoryFile != "" {
		data, err := os.ReadFile(a.Config.DevDirectoryFile)
		if err != nil {
			return fmt.Errorf("error reading directory file: %w", err)
		}
		entries, err := util.NewJsonEncoderDecoder[[]directory.Entry]().Decode(data)
		if err != nil {
			return fmt.Errorf("error parsing directory file: %w", err)
		}
		a.directory = directory.NewStaticDirectory(*entries)
		return nil
	}
	return fmt.Errorf("either directory-endpoint or dev-directory must be set")
}

func (a *Agent) setupTickets() error {
	if a.Config.TicketEndpoint != "" {
		a.tickets = ticket.NewHttpSource(a.Config.TicketEndpoint)
	} else {
		a.tickets = ticket.NewStaticSource()
	}
	return nil
}

func (a *Agent) setupAudit() error {
	if a.Config.AuditFile == "" {
		a.auditor = audit.NewNoopCollector()
		return nil
	}
	collector, err := audit.NewLogFileCollector(a.Config.AuditFile)
	if err != nil {
		return err
	}
	a.auditor = collector
	return nil
}

func (a *Agent) setupEngine() error {
	a.broker = event.NewBroker()
	a.timers = timer.NewService(a.storage, a.Config.TimerMaxDelaySeconds, &a.wg)
	a.delegations = delegation.NewResolver(a.storage)
	a.engine = engine.New(engine.Config{
		Lanes:            a.Config.Lanes,
		LaneCapacity:     a.Config.LaneCapacity,
		ActivatorWorkers: a.Config.ActivatorWorkers,
	}, a.storage, a.directory, a.delegations, a.timers, a.broker, a.auditor, &a.wg)
	return nil
}

func (a *Agent) setupServices() error {
	a.metadataService = metadata.NewMetadataService(a.storage)
	res := resolver.NewResolver(a.directory, rule.NewEvaluator())
	a.workflowService = service.NewWorkflowService(a.engine, res, a.metadataService, a.storage, a.directory, a.tickets)
	return nil
}

func (a *Agent) setupHttpServer() error {
	var err error
	a.httpServer, err = rest.NewServer(a.Config.HttpPort, a.metadataService, a.workflowService, a.broker)
	return err
}

func (a *Agent) setupRelay() error {
	if a.Config.NotifyEndpoint == "" {
		return nil
	}
	a.relay = notify.NewRelay(a.Config.NotifyEndpoint, a.storage, &a.wg)
	return nil
}

func (a *Agent) Start() error {
	a.engine.Start()
	if a.relay != nil {
		a.relay.Start()
	}
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = a.Shutdown()
			panic(err)
		}
	}()
	return nil
}

func (a *Agent) Shutdown() error {
	logger.Info("shutting down server")
	a.shutdownLock.Lock()
	defer a.shutdownLock.Unlock()
	if a.shutdown {
		return nil
	}
	a.shutdown = true

	shutdown := []func() error{
		a.httpServer.Stop,
		func() error {
			if a.relay != nil {
				a.relay.Stop()
			}
			return nil
		},
		func() error {
			a.engine.Stop()
			return nil
		},
	}
	for _, fn := range shutdown {
		if err := fn(); err != nil {
			return err
		}
	}
	logger.Info("waiting for all services to shutdown...")
	a.wg.Wait()
	return nil
}
