// Package bootstrap wires the persistence store, connection manager,
// scan scheduler, history harvester, safe manipulator, bus publisher
// and facade into one running Service, shared by both cmd binaries.
package bootstrap

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/imubit/data-agent/internal/agentconfig"
	"github.com/imubit/data-agent/pkg/bus"
	"github.com/imubit/data-agent/pkg/connmgr"

	_ "github.com/imubit/data-agent/pkg/connector/fakeconn"

	"github.com/imubit/data-agent/pkg/facade"
	"github.com/imubit/data-agent/pkg/harvester"
	"github.com/imubit/data-agent/pkg/persistence"
	"github.com/imubit/data-agent/pkg/safemanipulator"
	"github.com/imubit/data-agent/pkg/scansched"
)

// Service bundles the facade with the resources Close needs to release.
type Service struct {
	Facade    *facade.Service
	publisher *bus.AMQPPublisher
	scheduler *scansched.Scheduler
	conns     *connmgr.Manager
}

// Close stops the scan scheduler, disconnects every connection, then
// closes the bus publisher.
func (s *Service) Close() {
	s.scheduler.Stop()
	s.conns.Close()
	if s.publisher != nil {
		_ = s.publisher.Close()
	}
}

// Build constructs a full Service from cfg.
func Build(cfg agentconfig.Config, log *logrus.Entry) (*Service, error) {
	store, err := persistence.Open(cfg.PersistenceFile)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: opening persistence store: %w", err)
	}

	conns, err := connmgr.New(store, log)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connection manager: %w", err)
	}

	publisher, err := bus.Dial(cfg.BrokerURL)
	if err != nil {
		conns.Close()
		return nil, fmt.Errorf("bootstrap: dialing data bus: %w", err)
	}

	sched, err := scansched.New(conns, store, publisher, log)
	if err != nil {
		conns.Close()
		_ = publisher.Close()
		return nil, fmt.Errorf("bootstrap: scan scheduler: %w", err)
	}

	hv := harvester.New(conns, publisher, log)
	sm := safemanipulator.New(conns, store)
	svc := facade.New(conns, sched, hv, sm, log)

	return &Service{Facade: svc, publisher: publisher, scheduler: sched, conns: conns}, nil
}
