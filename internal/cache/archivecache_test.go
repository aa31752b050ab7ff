package cache

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeFetcher struct {
	data []byte
	err  error
	n    int
}

func (f *fakeFetcher) GetArchive(ctx context.Context, id string) ([]byte, error) {
	f.n++
	return f.data, f.err
}

func TestArchiveCacheExtractsAndPairsTestCases(t *testing.T) {
	data := buildZip(t, map[string]string{
		"1.in":  "input one",
		"1.ans": "answer one",
		"2.in":  "input two",
		"2.ans": "answer two",
	})
	fetcher := &fakeFetcher{data: data}
	ac, err := NewArchiveCache(t.TempDir(), fetcher)
	require.NoError(t, err)

	archive, err := ac.Get(context.Background(), "prob1")
	require.NoError(t, err)
	require.Len(t, archive.TestCases, 2)
	require.Equal(t, 1, fetcher.n)

	// second call is a cache hit: no further fetch
	_, err = ac.Get(context.Background(), "prob1")
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.n)
}

func TestArchiveCacheConcurrentGetsFetchOnce(t *testing.T) {
	data := buildZip(t, map[string]string{
		"1.in":  "in",
		"1.ans": "ans",
	})
	fetcher := &fakeFetcher{data: data}
	ac, err := NewArchiveCache(t.TempDir(), fetcher)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ac.Get(context.Background(), "prob1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, fetcher.n)
}

func TestArchiveCacheRejectsMissingAnswerFile(t *testing.T) {
	data := buildZip(t, map[string]string{
		"tc1.in":        "input",
		"subdir/tc2.in": "input two",
		"subdir/tc2.ans": "answer two",
	})
	ac, err := NewArchiveCache(t.TempDir(), &fakeFetcher{data: data})
	require.NoError(t, err)

	_, err = ac.Get(context.Background(), "bad")
	require.Error(t, err)
	var badArchive ErrBadTestArchive
	require.True(t, errors.As(err, &badArchive))
	var missingAns ErrMissingAnswerFile
	require.True(t, errors.As(badArchive.Reason, &missingAns))
	require.Equal(t, "tc1.in", missingAns.File)
}

func TestArchiveCacheRejectsPathTraversal(t *testing.T) {
	data := buildZip(t, map[string]string{
		"../evil.in": "x",
	})
	ac, err := NewArchiveCache(t.TempDir(), &fakeFetcher{data: data})
	require.NoError(t, err)

	_, err = ac.Get(context.Background(), "evil")
	require.Error(t, err)
}

func TestArchiveCacheRejectsUnexpectedEntry(t *testing.T) {
	data := buildZip(t, map[string]string{
		"readme.txt": "hello",
	})
	ac, err := NewArchiveCache(t.TempDir(), &fakeFetcher{data: data})
	require.NoError(t, err)

	_, err = ac.Get(context.Background(), "weird")
	require.Error(t, err)
}

func TestNormalizeArchivePathAcceptsSubdirs(t *testing.T) {
	p, err := normalizeArchivePath("subdir/tc2.in")
	require.NoError(t, err)
	require.Equal(t, "subdir/tc2.in", p)
}

func TestNormalizeArchivePathRejectsAbsolute(t *testing.T) {
	_, err := normalizeArchivePath("/etc/passwd")
	require.Error(t, err)
}
