package forkserver

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/tuis-oj/judgenode/internal/ids"
	"github.com/tuis-oj/judgenode/internal/judge"
)

// serverEnvVar gates the re-exec path that turns a fresh process into a
// fork-server: present (and the reader/writer fds below) in the child's
// environment only.
const serverEnvVar = "JUDGENODE_FORKSERVER"

// serverReqFD and serverRespFD are the fixed descriptor numbers the server
// expects its request-reader and response-writer pipe ends to arrive on,
// mirroring the sandbox init helper's fixed-fd convention.
const (
	serverReqFD  = 3
	serverRespFD = 4
)

// Client talks to one fork-server subprocess. At most one Compile/Judge call
// may be in flight at a time; call serializes on a mutex rather than
// multiplexing requests, matching the "at-most-one-in-flight" wire contract.
type Client struct {
	mu   sync.Mutex
	cmd  *exec.Cmd
	reqW *os.File
	respR *os.File
}

// StartClient launches a fork-server subprocess, loads the given language
// dylibs into it, and configures its judge engine with policy.
func StartClient(dylibs []string, policy judge.EnginePolicy) (*Client, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("forkserver: create request pipe: %w", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("forkserver: create response pipe: %w", err)
	}

	cmd := exec.Command("/proc/self/exe")
	cmd.Env = append(os.Environ(), serverEnvVar+"=1")
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{reqR, respW}

	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
		return nil, fmt.Errorf("forkserver: start subprocess: %w", err)
	}
	reqR.Close()
	respW.Close()

	c := &Client{cmd: cmd, reqW: reqW, respR: respR}

	ack, err := c.call(envelope{Kind: reqInit, Init: &initPayload{Dylibs: dylibs, Policy: policy}})
	if err != nil {
		c.kill()
		return nil, fmt.Errorf("forkserver: init: %w", err)
	}
	if ack.Err != "" {
		c.kill()
		return nil, fmt.Errorf("forkserver: init: %s", ack.Err)
	}
	return c, nil
}

func (c *Client) call(req envelope) (responseEnvelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.CorrelationID = ids.NewObjectID().String()
	if err := writeMsg(c.reqW, req); err != nil {
		return responseEnvelope{}, err
	}
	var resp responseEnvelope
	if err := readMsg(c.respR, &resp); err != nil {
		return responseEnvelope{}, err
	}
	return resp, nil
}

// Compile asks the fork-server to run a CompilationTask.
func (c *Client) Compile(task judge.CompilationTask) (judge.CompilationResult, error) {
	resp, err := c.call(envelope{Kind: reqCompile, Compile: &task})
	if err != nil {
		return judge.CompilationResult{}, err
	}
	if resp.Err != "" {
		return judge.CompilationResult{}, fmt.Errorf("forkserver: compile: %s", resp.Err)
	}
	if resp.CompileResult == nil {
		return judge.CompilationResult{}, fmt.Errorf("forkserver: compile: empty response")
	}
	return *resp.CompileResult, nil
}

// Judge asks the fork-server to run a JudgeTask.
func (c *Client) Judge(task judge.JudgeTask) (judge.JudgeResult, error) {
	resp, err := c.call(envelope{Kind: reqJudge, Judge: &task})
	if err != nil {
		return judge.JudgeResult{}, err
	}
	if resp.Err != "" {
		return judge.JudgeResult{}, fmt.Errorf("forkserver: judge: %s", resp.Err)
	}
	if resp.JudgeResult == nil {
		return judge.JudgeResult{}, fmt.Errorf("forkserver: judge: empty response")
	}
	return *resp.JudgeResult, nil
}

func (c *Client) kill() {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	c.reqW.Close()
	c.respR.Close()
}

// Close kills the fork-server subprocess and releases the pipe handles. The
// Go-idiomatic equivalent of the documented "dropping the client handle
// sends SIGKILL": explicit rather than finalizer-driven.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kill()
	return c.cmd.Wait()
}
