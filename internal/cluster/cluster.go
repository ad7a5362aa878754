// Package cluster runs the service as a supervisor with a fixed number of
// worker processes that accept connections on one shared listening socket.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerIDEnv carries the worker id into each worker process. Its presence
// marks a process as a worker.
const WorkerIDEnv = "REVIEWS_WORKER_ID"

// listenerFD is the descriptor number of the first ExtraFiles entry.
const listenerFD = 3

var workerRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "reviews_cluster_worker_restarts_total",
	Help: "Number of worker processes respawned after exiting.",
})

// Config controls the supervisor.
type Config struct {
	// Addr is the TCP address the supervisor binds, e.g. ":3000".
	Addr string
	// Workers defaults to the number of CPUs.
	Workers      int
	RestartDelay time.Duration
	StopTimeout  time.Duration
	// Command builds a worker command. Defaults to re-running the current
	// executable with the same arguments.
	Command func() (*exec.Cmd, error)
}

// Supervisor owns the listening socket and keeps Workers processes alive.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	ln      net.Listener
	file    *os.File
	workers map[int]*exec.Cmd
}

type workerExit struct {
	id  int
	err error
}

// NewSupervisor creates a supervisor. Call Listen or Run to bind the socket.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 15 * time.Second
	}
	if cfg.Command == nil {
		cfg.Command = selfCommand
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger,
		workers: make(map[int]*exec.Cmd, cfg.Workers),
	}
}

func selfCommand() (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd, nil
}

// Listen binds the shared socket.
func (s *Supervisor) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return fmt.Errorf("listen on %s: not a TCP listener", s.cfg.Addr)
	}
	f, err := tcp.File()
	if err != nil {
		ln.Close()
		return fmt.Errorf("listener file: %w", err)
	}
	s.ln = ln
	s.file = f
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Supervisor) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run starts the workers and respawns any that exit until ctx is canceled,
// then signals every worker with SIGTERM and waits for them.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.file == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	defer s.closeListener()

	s.logger.Info("supervisor started",
		slog.String("addr", s.ln.Addr().String()),
		slog.Int("workers", s.cfg.Workers),
		slog.Int("pid", os.Getpid()),
	)

	exits := make(chan workerExit, s.cfg.Workers)
	for id := 1; id <= s.cfg.Workers; id++ {
		if err := s.spawn(id, exits); err != nil {
			s.stop(exits)
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.stop(exits)
			return nil
		case e := <-exits:
			delete(s.workers, e.id)
			s.logger.Warn("worker exited, respawning",
				slog.Int("worker_id", e.id),
				slog.Any("error", e.err),
			)
			workerRestarts.Inc()

			select {
			case <-ctx.Done():
				s.stop(exits)
				return nil
			case <-time.After(s.cfg.RestartDelay):
			}
			if err := s.spawn(e.id, exits); err != nil {
				s.stop(exits)
				return err
			}
		}
	}
}

func (s *Supervisor) spawn(id int, exits chan<- workerExit) error {
	cmd, err := s.cfg.Command()
	if err != nil {
		return fmt.Errorf("build worker %d: %w", id, err)
	}
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, WorkerIDEnv+"="+strconv.Itoa(id))
	cmd.ExtraFiles = []*os.File{s.file}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker %d: %w", id, err)
	}
	s.workers[id] = cmd
	s.logger.Info("worker started",
		slog.Int("worker_id", id),
		slog.Int("pid", cmd.Process.Pid),
	)

	go func() {
		exits <- workerExit{id: id, err: cmd.Wait()}
	}()
	return nil
}

// stop terminates all running workers, killing those that outlive
// StopTimeout.
func (s *Supervisor) stop(exits <-chan workerExit) {
	if len(s.workers) == 0 {
		return
	}
	s.logger.Info("stopping workers", slog.Int("count", len(s.workers)))
	for id, cmd := range s.workers {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.logger.Error("signal worker", slog.Int("worker_id", id), slog.String("error", err.Error()))
		}
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	deadline := timer.C

	for len(s.workers) > 0 {
		select {
		case e := <-exits:
			delete(s.workers, e.id)
		case <-deadline:
			deadline = nil
			for id, cmd := range s.workers {
				s.logger.Warn("killing worker after stop timeout", slog.Int("worker_id", id))
				_ = cmd.Process.Kill()
			}
		}
	}
	s.logger.Info("all workers stopped")
}

func (s *Supervisor) closeListener() {
	if s.file != nil {
		s.file.Close()
	}
	if s.ln != nil {
		s.ln.Close()
	}
}

// InheritedListener returns the socket passed down by the supervisor.
func InheritedListener() (net.Listener, error) {
	f := os.NewFile(listenerFD, "listener")
	if f == nil {
		return nil, errors.New("inherit listener: descriptor not available")
	}
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("inherit listener: %w", err)
	}
	return ln, nil
}
