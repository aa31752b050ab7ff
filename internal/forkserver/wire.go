// Package forkserver runs the judge engine in a dedicated re-exec'd child
// process and speaks to it over a pair of anonymous pipes, so that a plugin
// panic or a corrupted language dylib cannot take the worker process down
// with it.
package forkserver

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/tuis-oj/judgenode/internal/judge"
)

// writeMsg frames v as a gob-encoded payload prefixed with its length as a
// 4-byte big-endian uint32.
func writeMsg(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("forkserver: encode message: %w", err)
	}
	if buf.Len() > 1<<31 {
		return fmt.Errorf("forkserver: message too large: %d bytes", buf.Len())
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("forkserver: write length prefix: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("forkserver: write message body: %w", err)
	}
	return nil
}

// readMsg reads one length-prefixed gob message into v.
func readMsg(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("forkserver: read message body: %w", err)
	}
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("forkserver: decode message: %w", err)
	}
	return nil
}

type requestKind int

const (
	reqInit requestKind = iota
	reqCompile
	reqJudge
)

type initPayload struct {
	Dylibs []string
	Policy judge.EnginePolicy
}

type envelope struct {
	// CorrelationID identifies one request/response pair in the server's
	// logs; it has no effect on dispatch, since the wire protocol already
	// guarantees at most one request in flight.
	CorrelationID string
	Kind          requestKind
	Init          *initPayload
	Compile       *judge.CompilationTask
	Judge         *judge.JudgeTask
}

type responseKind int

const (
	respInitAck responseKind = iota
	respCompile
	respJudge
)

type responseEnvelope struct {
	Kind          responseKind
	Err           string
	CompileResult *judge.CompilationResult
	JudgeResult   *judge.JudgeResult
}
