package forkserver

import (
	"io"
	"log"
	"os"

	"github.com/tuis-oj/judgenode/internal/judge"
	"github.com/tuis-oj/judgenode/internal/langprovider"
)

// MaybeRunServer turns the current process into a fork-server if it was
// re-exec'd with serverEnvVar set, and never returns in that case. Call this
// first thing in main, after sandbox.MaybeRunInit.
func MaybeRunServer() {
	if os.Getenv(serverEnvVar) == "" {
		return
	}
	runServer()
	os.Exit(0)
}

func runServer() {
	reqR := os.NewFile(serverReqFD, "forkserver-req")
	respW := os.NewFile(serverRespFD, "forkserver-resp")
	defer reqR.Close()
	defer respW.Close()

	var first envelope
	if err := readMsg(reqR, &first); err != nil {
		log.Fatalf("forkserver: read init request: %v", err)
	}
	if first.Kind != reqInit || first.Init == nil {
		log.Fatalf("forkserver: expected init request first, got kind %d", first.Kind)
	}

	registry := langprovider.NewRegistry()
	if err := registry.LoadDylibs(first.Init.Dylibs); err != nil {
		_ = writeMsg(respW, responseEnvelope{Kind: respInitAck, Err: err.Error()})
		os.Exit(1)
	}

	eng := judge.NewEngine(registry, first.Init.Policy)

	if err := writeMsg(respW, responseEnvelope{Kind: respInitAck}); err != nil {
		log.Fatalf("forkserver: write init ack: %v", err)
	}

	for {
		var req envelope
		if err := readMsg(reqR, &req); err != nil {
			if err == io.EOF {
				return
			}
			log.Printf("forkserver: fatal read error: %v", err)
			return
		}

		switch req.Kind {
		case reqCompile:
			if req.Compile == nil {
				writeErr(respW, respCompile, "forkserver: nil compile task")
				continue
			}
			result, err := eng.Compile(*req.Compile)
			if err != nil {
				log.Printf("forkserver: compile %s failed: %v", req.CorrelationID, err)
				writeErr(respW, respCompile, err.Error())
				continue
			}
			if err := writeMsg(respW, responseEnvelope{Kind: respCompile, CompileResult: &result}); err != nil {
				log.Printf("forkserver: fatal write error: %v", err)
				return
			}
		case reqJudge:
			if req.Judge == nil {
				writeErr(respW, respJudge, "forkserver: nil judge task")
				continue
			}
			result, err := eng.Judge(*req.Judge)
			if err != nil {
				log.Printf("forkserver: judge %s failed: %v", req.CorrelationID, err)
				writeErr(respW, respJudge, err.Error())
				continue
			}
			if err := writeMsg(respW, responseEnvelope{Kind: respJudge, JudgeResult: &result}); err != nil {
				log.Printf("forkserver: fatal write error: %v", err)
				return
			}
		default:
			log.Printf("forkserver: unknown request kind %d", req.Kind)
			return
		}
	}
}

func writeErr(w io.Writer, kind responseKind, msg string) {
	if err := writeMsg(w, responseEnvelope{Kind: kind, Err: msg}); err != nil {
		log.Printf("forkserver: fatal write error: %v", err)
	}
}
