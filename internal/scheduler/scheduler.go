// Package scheduler is the process's HTTP task surface: submit/list/stop/
// update/delete a replication task (SPEC_FULL §6). Grounded on
// _examples/dollarkillerx-galaxy/internal/scheduler/scheduler.go's
// gin.Engine-plus-taskMap shape, generalized from the teacher's MQ-backed
// sync_server.Sync to a core/replicator.Replicator.
package scheduler

import (
	"log"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galaxycdc/replicator/core/replicator"
	"github.com/galaxycdc/replicator/core/table/columnstore"
	"github.com/galaxycdc/replicator/internal/gtidstore"
	"github.com/galaxycdc/replicator/internal/metrics"
	"github.com/galaxycdc/replicator/internal/notifier"
	"github.com/galaxycdc/replicator/pkg/galaxy"
)

// task is one running replication task, its Replicator, and the
// resources scoped to it.
type task struct {
	cfg    galaxy.Config
	repl   *replicator.Replicator
	notify *notifier.Kafka // nil unless cfg carried a NotifierConfig
}

type scheduler struct {
	app *gin.Engine

	listenAddr string

	mu      sync.Mutex
	taskMap map[string]*task

	store   *gtidstore.Store
	metrics *metrics.Collectors
}

// NewScheduler opens the GTID store and the Prometheus collectors and
// returns a scheduler ready for Run.
func NewScheduler(listenAddr, metricsNamespace, gtidStorePath string) (*scheduler, error) {
	store, err := gtidstore.Open(gtidStorePath)
	if err != nil {
		return nil, err
	}

	return &scheduler{
		listenAddr: listenAddr,
		taskMap:    map[string]*task{},
		store:      store,
		metrics:    metrics.New(metricsNamespace),
	}, nil
}

// Run registers every route and blocks serving HTTP.
func (s *scheduler) Run() error {
	s.registerApi()

	log.Println("galaxy listen: ", s.listenAddr)
	return s.app.Run(s.listenAddr)
}

// startTask builds and starts a Replicator from req, resuming from the
// GTID store's last durable position when req carries none of its own.
// The duplicate-registration check mirrors the teacher's mq_manager
// registry (manager.Register): one task id, one live entry.
func (s *scheduler) startTask(req *galaxy.TaskRequest) (*task, error) {
	s.mu.Lock()
	_, exists := s.taskMap[req.TaskID]
	s.mu.Unlock()
	if exists {
		return nil, errors.WithStack(errors.Errorf("task id already registered: %s", req.TaskID))
	}

	cfg := req.ToConfig()

	if cfg.GTID == "" {
		if state, err := s.store.Get(cfg.TaskID); err == nil && state != nil {
			cfg.GTID = state.GTID
		}
	}

	var n *notifier.Kafka
	var notifierIface replicator.Notifier
	if req.Notifier != nil {
		var err error
		n, err = notifier.New(*req.Notifier)
		if err != nil {
			return nil, err
		}
		notifierIface = n
	}

	driver := columnstore.New(cfg.SinkServer)
	repl := replicator.New(cfg, driver, notifierIface, s.metrics)
	repl.SetOnDurable(s.store.SetGTID)
	repl.Start()

	t := &task{cfg: cfg, repl: repl, notify: n}

	s.mu.Lock()
	s.taskMap[cfg.TaskID] = t
	s.mu.Unlock()

	return t, nil
}

// SubmitPreconfiguredTask starts a task handed in at process startup
// (spec.md §6: "a single positional gtid argument overrides the starting
// GTID for that pre-configured task").
func (s *scheduler) SubmitPreconfiguredTask(req *galaxy.TaskRequest) error {
	if err := req.LegalVerification(); err != nil {
		return err
	}
	_, err := s.startTask(req)
	return err
}

// StopAll cooperatively stops every running task, joining each reader
// goroutine before returning (spec.md §6's SIGTERM/SIGINT handling).
func (s *scheduler) StopAll() {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.taskMap))
	for _, t := range s.taskMap {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.repl.Stop()
		if t.notify != nil {
			_ = t.notify.Close()
		}
	}
}

func (s *scheduler) registerPromHandler(app *gin.Engine) {
	app.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
