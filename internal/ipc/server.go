package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"log/slog"

	"scribe/internal/api"
	"scribe/internal/daemon"
	"scribe/internal/logging"
)

const (
	// ingestWait bounds a waiting ingest call.
	ingestWait = 2 * time.Minute
	// maxPollWait caps a long-polling events or log request.
	maxPollWait = 30 * time.Second
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String("impact", "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String("impact", "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun scribe stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("processing start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "processing started"
	s.logger.Info("processing started via IPC", logging.String(logging.FieldEventType, "processing_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("processing stopped via IPC", logging.String(logging.FieldEventType, "processing_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) TaskList(_ TaskListRequest, resp *TaskListResponse) error {
	resp.Entries = s.daemon.Entries()
	return nil
}

func (s *service) TaskShow(req TaskRequest, resp *TaskResponse) error {
	task, err := s.daemon.Task(req.ID)
	if err != nil {
		return err
	}
	resp.Task = task
	return nil
}

func (s *service) TaskRemove(req TaskRequest, resp *Ack) error {
	if err := s.daemon.RemoveEntry(req.ID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) TaskRestart(req TaskRequest, resp *RestartResponse) error {
	opID, err := s.daemon.RestartTask(req.ID)
	if err != nil {
		return err
	}
	resp.OperationID = opID
	return nil
}

func (s *service) TaskStop(req TaskRequest, resp *Ack) error {
	if err := s.daemon.StopTask(req.ID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) TaskResume(req TaskRequest, resp *Ack) error {
	if err := s.daemon.ResumeTask(req.ID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) TaskToggle(req TaskToggleRequest, resp *TaskToggleResponse) error {
	changes, err := s.daemon.ToggleOperation(req.ID, req.Stage, req.Enabled)
	if err != nil {
		return err
	}
	resp.Changes = changes
	return nil
}

func (s *service) DirectoryRename(req DirectoryRenameRequest, resp *Ack) error {
	if err := s.daemon.RenameDirectory(req.ID, req.Label); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) StageToggle(req StageToggleRequest, resp *StageToggleResponse) error {
	result, err := s.daemon.ToggleStage(req.Stage, req.Enabled)
	if err != nil {
		return err
	}
	resp.Result = result
	return nil
}

func (s *service) Ingest(req IngestRequest, resp *IngestResponse) error {
	ctx := s.ctx
	if req.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, ingestWait)
		defer cancel()
	}
	item, err := s.daemon.Ingest(ctx, api.IngestRequest{Path: req.Path, Split: req.Split, Wait: req.Wait})
	resp.Item = item
	return err
}

func (s *service) IngestList(_ IngestListRequest, resp *IngestListResponse) error {
	resp.Items = s.daemon.IngestList()
	return nil
}

func (s *service) IngestShow(req IngestItemRequest, resp *IngestResponse) error {
	item, err := s.daemon.IngestItem(req.ID)
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (s *service) IngestRemove(req IngestItemRequest, resp *IngestResponse) error {
	item, err := s.daemon.IngestRemove(req.ID)
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (s *service) Split(req SplitRequest, resp *IngestResponse) error {
	item, err := s.daemon.ResolveSplit(req.ID, api.SplitRequest{Policy: req.Policy})
	if err != nil {
		return err
	}
	resp.Item = item
	return nil
}

func (s *service) Begin(req OperationRequest, resp *Ack) error {
	if err := s.daemon.BeginOperation(req.ID); err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) Complete(req CompleteRequest, resp *Ack) error {
	err := s.daemon.CompleteOperation(req.ID, api.CompleteRequest{Path: req.Path, URL: req.URL, Name: req.Name})
	if err != nil {
		return err
	}
	resp.OK = true
	return nil
}

func (s *service) Stats(_ StatsRequest, resp *StatsResponse) error {
	resp.Statistics = s.daemon.Statistics()
	return nil
}

func (s *service) Events(req EventsRequest, resp *EventsResponse) error {
	ctx, cancel := context.WithTimeout(s.ctx, pollWait(req.WaitMillis))
	defer cancel()
	events, next, err := s.daemon.Events(ctx, req.Since, req.Limit, req.WaitMillis > 0)
	if err != nil {
		return err
	}
	resp.Events = events
	resp.Next = next
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	wait := req.WaitMillis
	if wait <= 0 && req.Follow {
		wait = 1000
	}
	ctx, cancel := context.WithTimeout(s.ctx, pollWait(wait))
	defer cancel()
	events, next, err := s.daemon.Logs(ctx, req.Since, req.Limit, req.Follow, req.Tail)
	if err != nil {
		return err
	}
	resp.Events = api.FilterLogEvents(events, req.TaskID, req.Component)
	resp.Next = next
	return nil
}

func pollWait(millis int) time.Duration {
	wait := time.Duration(millis) * time.Millisecond
	if wait <= 0 {
		return time.Second
	}
	return min(wait, maxPollWait)
}
