package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const serviceName = "Scribe"

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Resp any](c *Client, method string, req any) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// TaskList returns every top-level task and directory.
func (c *Client) TaskList() (*TaskListResponse, error) {
	return call[TaskListResponse](c, "TaskList", TaskListRequest{})
}

// TaskShow returns one task.
func (c *Client) TaskShow(id int64) (*TaskResponse, error) {
	return call[TaskResponse](c, "TaskShow", TaskRequest{ID: id})
}

// TaskRemove deletes a task or directory.
func (c *Client) TaskRemove(id int64) error {
	_, err := call[Ack](c, "TaskRemove", TaskRequest{ID: id})
	return err
}

// TaskRestart appends a new round to the task's failed operation.
func (c *Client) TaskRestart(id int64) (*RestartResponse, error) {
	return call[RestartResponse](c, "TaskRestart", TaskRequest{ID: id})
}

// TaskStop keeps the scheduler from admitting the task.
func (c *Client) TaskStop(id int64) error {
	_, err := call[Ack](c, "TaskStop", TaskRequest{ID: id})
	return err
}

// TaskResume clears a task's stop flag.
func (c *Client) TaskResume(id int64) error {
	_, err := call[Ack](c, "TaskResume", TaskRequest{ID: id})
	return err
}

// TaskToggle enables or disables one operation of a task.
func (c *Client) TaskToggle(id int64, stage string, enabled bool) (*TaskToggleResponse, error) {
	return call[TaskToggleResponse](c, "TaskToggle", TaskToggleRequest{ID: id, Stage: stage, Enabled: enabled})
}

// DirectoryRename relabels a directory.
func (c *Client) DirectoryRename(id int64, label string) error {
	_, err := call[Ack](c, "DirectoryRename", DirectoryRenameRequest{ID: id, Label: label})
	return err
}

// StageToggle changes a stage default for new and pending tasks.
func (c *Client) StageToggle(stage string, enabled bool) (*StageToggleResponse, error) {
	return call[StageToggleResponse](c, "StageToggle", StageToggleRequest{Stage: stage, Enabled: enabled})
}

// Ingest queues a file or directory.
func (c *Client) Ingest(req IngestRequest) (*IngestResponse, error) {
	return call[IngestResponse](c, "Ingest", req)
}

// IngestList returns the ingestion queue.
func (c *Client) IngestList() (*IngestListResponse, error) {
	return call[IngestListResponse](c, "IngestList", IngestListRequest{})
}

// IngestShow returns one ingestion queue entry.
func (c *Client) IngestShow(id string) (*IngestResponse, error) {
	return call[IngestResponse](c, "IngestShow", IngestItemRequest{ID: id})
}

// IngestRemove drops an ingestion queue entry.
func (c *Client) IngestRemove(id string) (*IngestResponse, error) {
	return call[IngestResponse](c, "IngestRemove", IngestItemRequest{ID: id})
}

// Split answers a pending split decision.
func (c *Client) Split(id, policy string) (*IngestResponse, error) {
	return call[IngestResponse](c, "Split", SplitRequest{ID: id, Policy: policy})
}

// Begin marks an interactive operation as opened.
func (c *Client) Begin(opID int64) error {
	_, err := call[Ack](c, "Begin", OperationRequest{ID: opID})
	return err
}

// Complete finishes an interactive operation.
func (c *Client) Complete(req CompleteRequest) error {
	_, err := call[Ack](c, "Complete", req)
	return err
}

// Stats returns registry statistics.
func (c *Client) Stats() (*StatsResponse, error) {
	return call[StatsResponse](c, "Stats", StatsRequest{})
}

// Events returns registry events after req.Since.
func (c *Client) Events(req EventsRequest) (*EventsResponse, error) {
	return call[EventsResponse](c, "Events", req)
}

// LogTail returns buffered log records from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	return call[LogTailResponse](c, "LogTail", req)
}
