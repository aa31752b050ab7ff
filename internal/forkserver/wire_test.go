package forkserver

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuis-oj/judgenode/internal/judge"
	"github.com/tuis-oj/judgenode/internal/langprovider"
)

func TestWriteReadMsgRoundTrip(t *testing.T) {
	task := judge.CompilationTask{
		Program: judge.Program{
			Path:   "/tmp/a.cpp",
			Triple: langprovider.LanguageTriple{Language: "cpp", Dialect: "gnu", Version: "c++17"},
		},
		Kind: judge.Judgee,
	}
	req := envelope{Kind: reqCompile, Compile: &task, CorrelationID: "abc-123"}

	var buf bytes.Buffer
	require.NoError(t, writeMsg(&buf, req))

	var got envelope
	require.NoError(t, readMsg(&buf, &got))

	require.Equal(t, reqCompile, got.Kind)
	require.Equal(t, "abc-123", got.CorrelationID)
	require.NotNil(t, got.Compile)
	require.Equal(t, "/tmp/a.cpp", got.Compile.Program.Path)
	require.Equal(t, "cpp", got.Compile.Program.Triple.Language)
}

func TestWriteReadMsgMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMsg(&buf, envelope{Kind: reqInit, Init: &initPayload{Dylibs: []string{"a.so"}}}))
	require.NoError(t, writeMsg(&buf, envelope{Kind: reqJudge}))

	var first, second envelope
	require.NoError(t, readMsg(&buf, &first))
	require.NoError(t, readMsg(&buf, &second))

	require.Equal(t, reqInit, first.Kind)
	require.Equal(t, []string{"a.so"}, first.Init.Dylibs)
	require.Equal(t, reqJudge, second.Kind)
}

func TestReadMsgErrorsOnTruncatedStream(t *testing.T) {
	var got envelope
	err := readMsg(bytes.NewReader([]byte{0, 0}), &got)
	require.Error(t, err)
}
