package tmux

// Async offloads blocking tmux calls to goroutines and delivers results on
// channels. Callers that poll many sessions at once (the watcher, the list
// view) fan out through this wrapper instead of serializing subprocess waits.
type Async struct {
	c *Client
}

// NewAsync wraps a client for channel-based use.
func NewAsync(c *Client) *Async {
	return &Async{c: c}
}

// Client returns the underlying synchronous client.
func (a *Async) Client() *Client {
	return a.c
}

// ExitStatus pairs a pane exit code with whether one was available.
type ExitStatus struct {
	Code int
	OK   bool
}

// Exists resolves with whether the session exists.
func (a *Async) Exists(name string) <-chan bool {
	ch := make(chan bool, 1)
	go func() { ch <- a.c.Exists(name) }()
	return ch
}

// IsPaneDead resolves with whether the session's pane process has exited.
func (a *Async) IsPaneDead(name string) <-chan bool {
	ch := make(chan bool, 1)
	go func() { ch <- a.c.IsPaneDead(name) }()
	return ch
}

// PaneExitStatus resolves with the dead pane's exit code, if any.
func (a *Async) PaneExitStatus(name string) <-chan ExitStatus {
	ch := make(chan ExitStatus, 1)
	go func() {
		code, ok := a.c.PaneExitStatus(name)
		ch <- ExitStatus{Code: code, OK: ok}
	}()
	return ch
}

// Capture resolves with the last lines of pane output. Concurrent captures
// of the same pane are collapsed by the underlying client.
func (a *Async) Capture(name string, lines int) <-chan Result {
	ch := make(chan Result, 1)
	go func() { ch <- a.c.Capture(name, lines) }()
	return ch
}

// Kill resolves when the session has been terminated.
func (a *Async) Kill(name string) <-chan Result {
	ch := make(chan Result, 1)
	go func() { ch <- a.c.Kill(name) }()
	return ch
}

// Info resolves with a full pane snapshot for the session.
func (a *Async) Info(name string) <-chan SessionInfo {
	ch := make(chan SessionInfo, 1)
	go func() { ch <- a.c.Info(name) }()
	return ch
}

// ListSessions resolves with all tmux session names.
func (a *Async) ListSessions() <-chan []string {
	ch := make(chan []string, 1)
	go func() { ch <- a.c.ListSessions() }()
	return ch
}
